package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"orghierarchy/pkg/shared"
)

// ErrMalformedMessage marks payloads that will never decode; they are
// terminated instead of redelivered.
var ErrMalformedMessage = errors.New("malformed message")

type Worker interface {
	Start(ctx context.Context) error
	Stop() error
	Name() string
}

type BaseWorker struct {
	name     string
	js       nats.JetStreamContext
	mu       sync.Mutex
	sub      *nats.Subscription
	consumer string
	stream   string
	subject  string
	logger   *logrus.Entry
}

func NewBaseWorker(name string, js nats.JetStreamContext, stream, consumer, subject string) *BaseWorker {
	return &BaseWorker{
		name:     name,
		js:       js,
		consumer: consumer,
		stream:   stream,
		subject:  subject,
		logger: logrus.WithFields(logrus.Fields{
			"worker":   name,
			"stream":   stream,
			"consumer": consumer,
		}),
	}
}

func (w *BaseWorker) Name() string {
	return w.name
}

func (w *BaseWorker) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.sub != nil {
		return w.sub.Drain()
	}
	return nil
}

// processMessages pulls batches from the bound durable consumer until ctx is
// done. A nil handler result acks, ErrMalformedMessage terminates, anything
// else naks for redelivery.
func (w *BaseWorker) processMessages(ctx context.Context, handler func(context.Context, *nats.Msg) error) error {
	sub, err := w.js.PullSubscribe(w.subject, "",
		nats.ManualAck(),
		nats.Bind(w.stream, w.consumer),
	)
	if err != nil {
		return fmt.Errorf("failed to bind consumer %s: %w", w.consumer, err)
	}
	w.mu.Lock()
	w.sub = sub
	w.mu.Unlock()

	w.logger.Info("Worker started")

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Worker stopping")
			return ctx.Err()
		default:
		}

		msgs, err := sub.Fetch(10, nats.MaxWait(2*time.Second))
		if errors.Is(err, nats.ErrConnectionClosed) || errors.Is(err, nats.ErrBadSubscription) {
			return nil
		}
		if err != nil && !errors.Is(err, nats.ErrTimeout) {
			w.logger.WithError(err).Warn("Error fetching messages")
			continue
		}

		for _, msg := range msgs {
			w.settle(msg, handler(ctx, msg))
		}
	}
}

func (w *BaseWorker) settle(msg *nats.Msg, err error) {
	var ackErr error
	switch {
	case err == nil:
		ackErr = msg.Ack()
	case errors.Is(err, ErrMalformedMessage):
		w.logger.WithError(err).WithField("subject", msg.Subject).Warn("Dropping malformed message")
		ackErr = msg.Term()
	default:
		w.logger.WithError(err).WithField("subject", msg.Subject).Error("Message handling failed, will retry")
		ackErr = msg.Nak()
	}
	if ackErr != nil {
		w.logger.WithError(ackErr).Warn("Error acknowledging message")
	}
}

// decodeEvent unpacks the event envelope and its data into payload.
func decodeEvent(data []byte, payload interface{}) (shared.Event, error) {
	var event shared.Event
	if err := json.Unmarshal(data, &event); err != nil {
		return event, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	raw, err := json.Marshal(event.Data)
	if err != nil {
		return event, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if err := json.Unmarshal(raw, payload); err != nil {
		return event, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return event, nil
}
