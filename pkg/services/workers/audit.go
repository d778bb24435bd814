package workers

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"orghierarchy/pkg/shared"
)

// AuditRecorder persists reparent events. It must ignore repeated event ids.
type AuditRecorder interface {
	RecordReparent(ctx context.Context, eventID string, evt shared.ReparentEvent) error
}

type AuditWorker struct {
	*BaseWorker
	recorder AuditRecorder
}

func NewAuditWorker(js nats.JetStreamContext, recorder AuditRecorder) *AuditWorker {
	return &AuditWorker{
		BaseWorker: NewBaseWorker(
			"AuditWorker",
			js,
			shared.StreamChanges,
			shared.ConsumerAuditProcessor,
			shared.SubjectOrganizationsAll,
		),
		recorder: recorder,
	}
}

func (w *AuditWorker) Start(ctx context.Context) error {
	return w.processMessages(ctx, func(ctx context.Context, msg *nats.Msg) error {
		return w.Handle(ctx, msg.Data)
	})
}

// Handle records one reparent event payload.
func (w *AuditWorker) Handle(ctx context.Context, data []byte) error {
	var evt shared.ReparentEvent
	event, err := decodeEvent(data, &evt)
	if err != nil {
		return err
	}
	if event.Type != shared.EventTypeReparented {
		w.logger.WithField("type", event.Type).Debug("Ignoring non-reparent event")
		return nil
	}
	if event.ID == "" || evt.OrganizationID == "" {
		return fmt.Errorf("%w: reparent event without id or organization", ErrMalformedMessage)
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = event.Timestamp
	}

	if err := w.recorder.RecordReparent(ctx, event.ID, evt); err != nil {
		return fmt.Errorf("failed to record reparent %s: %w", event.ID, err)
	}

	w.logger.WithFields(logrus.Fields{
		"event_id":        event.ID,
		"organization_id": evt.OrganizationID,
		"to_parent_id":    evt.ToParentID,
	}).Debug("Recorded reparent")
	return nil
}
