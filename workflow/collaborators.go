package workflow

import (
	"context"
	"time"

	"github.com/mmdatafocus/fieldreport_backend/config"
	"github.com/mmdatafocus/fieldreport_backend/models"
	"github.com/mmdatafocus/fieldreport_backend/utils"
	"github.com/sirupsen/logrus"
)

// Persistence is the report store the controller works against.
type Persistence interface {
	CreateReport(ctx context.Context, input models.NewReport) (string, error)
	GetReport(ctx context.Context, id string) (*models.Report, error)
	UpdateReport(ctx context.Context, id string, patch models.ReportPatch) error
	UploadAttachment(ctx context.Context, reportId string, media models.Media) (string, error)
	DeleteAttachment(ctx context.Context, reportId string, reference string) error
	RenderToDocument(ctx context.Context, reportId string) (*models.DocumentHandle, error)
}

// Identity supplies the acting technician. It never authenticates.
type Identity interface {
	Technician(ctx context.Context) (id string, name string, err error)
}

// ContextIdentity reads the technician placed on the context by the HTTP layer.
type ContextIdentity struct{}

func (ContextIdentity) Technician(ctx context.Context) (string, string, error) {
	id, ok := utils.GetTechnicianIdFromContext(ctx)
	if !ok || id == "" {
		return "", "", utils.ValidationError("identity", "no technician identity on request")
	}
	name, _ := utils.GetTechnicianNameFromContext(ctx)
	return id, name, nil
}

// Event describes one lifecycle transition.
type Event struct {
	ReportID      string                `json:"report_id"`
	Kind          models.ReportKind     `json:"kind"`
	Action        models.HistoryAction  `json:"action"`
	From          models.LifecycleState `json:"from"`
	To            models.LifecycleState `json:"to"`
	TechnicianId  string                `json:"technician_id,omitempty"`
	Reason        string                `json:"reason,omitempty"`
	CorrelationId string                `json:"correlation_id,omitempty"`
	OccurredAt    time.Time             `json:"occurred_at"`
}

type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// PubSubNotifier publishes lifecycle events as JSON to one topic.
type PubSubNotifier struct {
	Topic string
}

func (n PubSubNotifier) Notify(ctx context.Context, event Event) error {
	_, err := config.PublishJSON(ctx, n.Topic, event, map[string]string{
		"report_id": event.ReportID,
		"action":    string(event.Action),
	})
	return err
}

// NotifierFromSettings returns a Pub/Sub notifier, or nil when no topic is configured.
func NotifierFromSettings(settings config.Settings) Notifier {
	if settings.ReportEventsTopic == "" {
		return nil
	}
	return PubSubNotifier{Topic: settings.ReportEventsTopic}
}

func notify(ctx context.Context, logger *logrus.Logger, notifier Notifier, event Event) {
	if notifier == nil {
		return
	}
	if err := notifier.Notify(ctx, event); err != nil {
		logger.WithFields(logrus.Fields{
			"report_id": event.ReportID,
			"action":    event.Action,
			"error":     err.Error(),
		}).Warn("[report.notify] publishing lifecycle event failed")
	}
}
