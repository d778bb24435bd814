package workers

import (
	"context"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"orghierarchy/pkg/shared"
)

// ViolationWorker reports structural violations found by each validation run.
type ViolationWorker struct {
	*BaseWorker
	last shared.ValidationSummary
}

func NewViolationWorker(js nats.JetStreamContext) *ViolationWorker {
	return &ViolationWorker{
		BaseWorker: NewBaseWorker(
			"ViolationWorker",
			js,
			shared.StreamValidation,
			shared.ConsumerViolationProcessor,
			shared.SubjectValidationAll,
		),
	}
}

func (w *ViolationWorker) Start(ctx context.Context) error {
	return w.processMessages(ctx, func(ctx context.Context, msg *nats.Msg) error {
		_, err := w.Handle(ctx, msg.Data)
		return err
	})
}

// Handle logs one validation summary and returns it.
func (w *ViolationWorker) Handle(_ context.Context, data []byte) (shared.ValidationSummary, error) {
	var summary shared.ValidationSummary
	if _, err := decodeEvent(data, &summary); err != nil {
		return summary, err
	}

	entry := w.logger.WithFields(logrus.Fields{
		"fingerprint":   summary.Fingerprint,
		"organizations": summary.OrganizationCount,
		"violations":    summary.ViolationCount,
	})
	if summary.ViolationCount == 0 {
		if w.last.ViolationCount > 0 {
			entry.Info("Hierarchy violations resolved")
		}
		w.last = summary
		return summary, nil
	}

	for violationType, count := range summary.ByType {
		entry.WithFields(logrus.Fields{"type": violationType, "count": count}).Warn("Hierarchy violation detected")
	}
	w.last = summary
	return summary, nil
}
