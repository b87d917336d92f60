package notify

import (
	"context"
	"encoding/json"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/kiosk/internal/config"
	"github.com/Additional-Code/kiosk/internal/events"
	"github.com/Additional-Code/kiosk/internal/messaging"
	"github.com/Additional-Code/kiosk/internal/worker"
)

var workerTracer = otel.Tracer("github.com/Additional-Code/kiosk/worker/notify")

// Module registers the notification dispatch handler.
var Module = fx.Module("worker_notify",
	fx.Provide(
		fx.Annotate(
			NewDispatchHandler,
			fx.ResultTags(`group:"worker.handlers"`),
		),
	),
)

// NewDispatchHandler consumes order events from the bus and dispatches
// staff notifications for the ones terminals care about. Other instances
// source the same stream, which is what makes the bus the durable copy
// of the broadcaster's local buffers.
func NewDispatchHandler(logger *zap.Logger, cfg config.Config) worker.HandlerRegistration {
	handler := func(ctx context.Context, msg messaging.Message) error {
		ctx, span := workerTracer.Start(ctx, "worker.notify.dispatch", trace.WithAttributes(
			attribute.String("messaging.topic", msg.Topic),
		))
		defer span.End()

		var envelope events.Envelope
		if err := json.Unmarshal(msg.Value, &envelope); err != nil {
			logger.Error("failed to decode event envelope", zap.Error(err))

			span.RecordError(err)
			span.SetStatus(codes.Error, "decode error")
			return err
		}

		switch envelope.Type {
		case events.TypeOrderCreated:
			var event events.OrderCreated
			if err := json.Unmarshal(envelope.Payload, &event); err != nil {
				return err
			}
			logger.Info("new order notification",
				zap.Int64("order_id", event.OrderID),
				zap.String("order_number", event.OrderNumber),
				zap.Int("estimated_minutes", event.EstimatedPreparationMinutes),
			)
		case events.TypePaymentConfirmed:
			var event events.PaymentConfirmed
			if err := json.Unmarshal(envelope.Payload, &event); err != nil {
				return err
			}
			logger.Info("payment confirmed notification",
				zap.Int64("order_id", event.OrderID),
				zap.String("source", event.Source),
			)
		case events.TypeMenuSoldOut:
			var event events.MenuSoldOut
			if err := json.Unmarshal(envelope.Payload, &event); err != nil {
				return err
			}
			logger.Warn("menu item sold out",
				zap.Int64("menu_item_id", event.MenuItemID),
				zap.String("name", event.Name),
			)
		default:
			logger.Debug("ignoring event", zap.String("type", envelope.Type))
		}

		return nil
	}

	return worker.HandlerRegistration{
		Topic:   cfg.Messaging.Kafka.Topic,
		Handler: handler,
	}
}
