package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/community-hub/internal/correlation"
	"github.com/spec-kit/community-hub/internal/events"
	"github.com/spec-kit/community-hub/internal/observability"
)

// AuditService records authentication events in the log and in metrics.
type AuditService struct {
	dispatcher events.Dispatcher
	logger     *zap.Logger
	metrics    *observability.Metrics
}

// NewAuditService creates the service.
func NewAuditService(dispatcher events.Dispatcher, logger *zap.Logger, metrics *observability.Metrics) *AuditService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditService{
		dispatcher: dispatcher,
		logger:     logger.Named("audit"),
		metrics:    metrics,
	}
}

// RegisterHandlers subscribes to events.
func (a *AuditService) RegisterHandlers() {
	if a.dispatcher == nil {
		return
	}
	for _, eventType := range events.AuditTypes() {
		a.dispatcher.Subscribe(eventType, a.handle)
	}
}

func (a *AuditService) handle(ctx context.Context, event events.Event) error {
	a.metrics.RecordAuthEvent(string(event.Type))

	log := correlation.Logger(ctx, a.logger)
	if _, ok := correlation.FromContext(ctx); !ok && event.CorrelationID != "" {
		log = log.With(zap.String("correlation_id", event.CorrelationID), zap.String("subject_id", event.SubjectID))
	}

	fields := []zap.Field{
		zap.String("event_id", event.ID),
		zap.String("event_type", string(event.Type)),
		zap.String("event_subject", event.SubjectID),
		zap.Any("payload", event.Payload),
	}
	switch event.Type {
	case events.EventLoginFailed, events.EventAccessDenied:
		log.Warn("auth event", fields...)
	default:
		log.Info("auth event", fields...)
	}
	return nil
}
