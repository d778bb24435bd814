package workers

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	embeddednats "orghierarchy/pkg/services/embedded-nats"
)

type Manager struct {
	workers []Worker
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewManager(natsClient *embeddednats.EmbeddedNATS, recorder AuditRecorder) (*Manager, error) {
	if natsClient.Connection() == nil {
		return nil, fmt.Errorf("NATS connection not initialized")
	}

	js := natsClient.JetStream()
	if js == nil {
		return nil, fmt.Errorf("JetStream not initialized")
	}
	if recorder == nil {
		return nil, fmt.Errorf("audit recorder is required")
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		ctx:    ctx,
		cancel: cancel,
		workers: []Worker{
			NewAuditWorker(js, recorder),
			NewViolationWorker(js),
		},
	}, nil
}

func (m *Manager) Start() error {
	for _, worker := range m.workers {
		m.wg.Add(1)
		go func(w Worker) {
			defer m.wg.Done()

			if err := w.Start(m.ctx); err != nil && !errors.Is(err, context.Canceled) {
				logrus.WithError(err).WithField("worker", w.Name()).Error("Worker exited")
			}
		}(worker)
	}

	logrus.WithField("workers", len(m.workers)).Info("Started NATS workers")
	return nil
}

func (m *Manager) Stop() error {
	m.cancel()

	for _, worker := range m.workers {
		if err := worker.Stop(); err != nil {
			logrus.WithError(err).WithField("worker", worker.Name()).Warn("Error stopping worker")
		}
	}

	m.wg.Wait()

	logrus.Info("All workers stopped")
	return nil
}
