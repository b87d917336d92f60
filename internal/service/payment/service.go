package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/kiosk/internal/broadcast"
	"github.com/Additional-Code/kiosk/internal/config"
	"github.com/Additional-Code/kiosk/internal/dto"
	"github.com/Additional-Code/kiosk/internal/entity"
	"github.com/Additional-Code/kiosk/internal/events"
	"github.com/Additional-Code/kiosk/internal/gateway"
	"github.com/Additional-Code/kiosk/internal/messaging"
	catalogrepo "github.com/Additional-Code/kiosk/internal/repository/catalog"
	repo "github.com/Additional-Code/kiosk/internal/repository/order"
	"github.com/Additional-Code/kiosk/internal/repository/stock"
	"github.com/Additional-Code/kiosk/pkg/errorbank"
)

var serviceTracer = otel.Tracer("github.com/Additional-Code/kiosk/service/payment")

// Store is the order persistence surface the reconciler needs.
type Store interface {
	GetByID(ctx context.Context, id int64) (*entity.Order, error)
	GetByNumber(ctx context.Context, number string) (*entity.Order, error)
	ConfirmCash(ctx context.Context, order *entity.Order, conf repo.CashConfirmation) ([]entity.MenuItem, error)
	ConfirmCashless(ctx context.Context, order *entity.Order, source, reference string) ([]entity.MenuItem, error)
	SetPaymentReference(ctx context.Context, orderID int64, reference string) error
	MarkQRScanned(ctx context.Context, orderID int64) (bool, error)
}

// Discounts looks up customer discount percentages.
type Discounts interface {
	DiscountType(ctx context.Context, id int64) (*entity.DiscountType, error)
}

// Service is the payment reconciler. It owns the only legal transition of
// payment_status from unpaid to paid, for both the synchronous cash path
// and the race-prone dual-trigger cashless path.
type Service struct {
	store     Store
	discounts Discounts
	gateway   gateway.Client
	expiry    time.Duration
	logger    *zap.Logger
	publisher messaging.Client
	hub       *broadcast.Hub
	enabled   bool
}

// Params defines dependencies for constructing Service.
type Params struct {
	fx.In

	Repository *repo.Repository
	Catalog    *catalogrepo.Repository
	Gateway    gateway.Client
	Config     config.Config
	Logger     *zap.Logger
	Publisher  messaging.Client
	Hub        *broadcast.Hub
}

// NewService wires a new Service instance.
func NewService(p Params) *Service {
	return &Service{
		store:     p.Repository,
		discounts: p.Catalog,
		gateway:   p.Gateway,
		expiry:    p.Config.Gateway.InvoiceExpiry,
		logger:    p.Logger,
		publisher: p.Publisher,
		hub:       p.Hub,
		enabled:   p.Config.Messaging.Enabled,
	}
}

// VerifyCash verifies a staff-initiated cash tender. An optional discount
// recomputes the final amount before the shortfall check; stock deduction
// and the paid transition happen in one transaction.
func (s *Service) VerifyCash(ctx context.Context, req dto.VerifyCashRequest) (*dto.VerifyCashResponse, error) {
	ctx, span := serviceTracer.Start(ctx, "PaymentReconciler.VerifyCash", trace.WithAttributes(attribute.Int64("order.id", req.OrderID)))
	defer span.End()

	order, err := s.loadOrder(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	if order.PaymentStatus == entity.PaymentStatusPaid {
		return nil, errorbank.Conflict("order is already paid")
	}
	if order.OrderStatus != entity.OrderStatusPending {
		return nil, errorbank.Conflict(fmt.Sprintf("order is %s, not pending", order.OrderStatus))
	}

	finalAmount := order.FinalAmount
	discountAmount := order.DiscountAmount
	if req.CustomerDiscountTypeID > 0 {
		discount, err := s.discounts.DiscountType(ctx, req.CustomerDiscountTypeID)
		if err != nil {
			if errors.Is(err, catalogrepo.ErrNotFound) {
				return nil, errorbank.InvalidDiscount("discount is unknown or inactive")
			}
			span.RecordError(err)
			return nil, errorbank.Internal("failed to load discount", errorbank.WithCause(err))
		}
		discountAmount = int64(math.Round(float64(order.Subtotal) * discount.Pct / 100))
		finalAmount = order.Subtotal + order.TaxAmount - discountAmount
	}

	if req.AmountTendered < finalAmount {
		shortfall := finalAmount - req.AmountTendered
		return nil, errorbank.InsufficientPayment(
			fmt.Sprintf("amount tendered is short by %d", shortfall),
			errorbank.WithDetail("shortfall", shortfall),
			errorbank.WithDetail("final_amount", finalAmount),
		)
	}
	change := req.AmountTendered - finalAmount

	soldOut, err := s.store.ConfirmCash(ctx, order, repo.CashConfirmation{
		OrderID:        order.ID,
		DiscountTypeID: req.CustomerDiscountTypeID,
		DiscountAmount: discountAmount,
		FinalAmount:    finalAmount,
		AmountTendered: req.AmountTendered,
		ChangeAmount:   change,
		VerifiedBy:     req.VerifiedBy,
	})
	if err != nil {
		return nil, s.confirmError(span, err, "cash confirmation failed")
	}

	s.emitConfirmed(ctx, order, entity.PaymentMethodCash, finalAmount, change, entity.PaymentSourceCash)
	s.emitSoldOut(ctx, soldOut)

	return &dto.VerifyCashResponse{Success: true, ChangeAmount: change}, nil
}

// CreateInvoice asks the gateway for a payable QR invoice for a pending
// cashless order and stores the gateway reference for later lookup.
func (s *Service) CreateInvoice(ctx context.Context, req dto.CreateInvoiceRequest) (*dto.InvoiceResponse, error) {
	ctx, span := serviceTracer.Start(ctx, "PaymentReconciler.CreateInvoice", trace.WithAttributes(attribute.Int64("order.id", req.OrderID)))
	defer span.End()

	order, err := s.loadOrder(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	if order.PaymentMethod != entity.PaymentMethodCashless {
		return nil, errorbank.BadRequest("order is not a cashless order")
	}
	if order.OrderStatus != entity.OrderStatusPending {
		return nil, errorbank.Conflict(fmt.Sprintf("order is %s, not pending", order.OrderStatus))
	}

	amount := req.Amount
	if amount <= 0 {
		amount = order.FinalAmount
	}
	if amount != order.FinalAmount {
		return nil, errorbank.BadRequest("amount does not match the order total")
	}

	invoice, err := s.gateway.CreateInvoice(ctx, order.OrderNumber, amount, s.expiry)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "gateway error")
		return nil, err
	}

	if err := s.store.SetPaymentReference(ctx, order.ID, invoice.ID); err != nil {
		span.RecordError(err)
		return nil, errorbank.Internal("failed to store payment reference", errorbank.WithCause(err))
	}

	return &dto.InvoiceResponse{
		InvoiceID:   invoice.ID,
		InvoiceURL:  invoice.InvoiceURL,
		QRCodeImage: invoice.QRCodeImage,
		Amount:      invoice.Amount,
		ExpiryDate:  invoice.ExpiryDate,
	}, nil
}

// CheckStatus answers a polling client. Cheap read first: an order no
// longer pending is already reconciled. Otherwise the gateway is asked;
// a completed invoice runs the same reconciliation the webhook would.
// Gateway errors report "still pending" so clients keep retrying.
func (s *Service) CheckStatus(ctx context.Context, orderID int64) (*dto.PaymentStatusResponse, error) {
	ctx, span := serviceTracer.Start(ctx, "PaymentReconciler.CheckStatus", trace.WithAttributes(attribute.Int64("order.id", orderID)))
	defer span.End()

	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if order.OrderStatus != entity.OrderStatusPending {
		return &dto.PaymentStatusResponse{Paid: true, PaymentStatus: string(entity.PaymentStatusPaid)}, nil
	}
	if order.PaymentMethod != entity.PaymentMethodCashless || order.PaymentReference == "" {
		return &dto.PaymentStatusResponse{Paid: false, PaymentStatus: string(order.PaymentStatus)}, nil
	}

	invoice, err := s.gateway.GetInvoice(ctx, order.PaymentReference)
	if err != nil {
		// Provider unreachable or timed out: still pending, the poll
		// loop is the retry mechanism.
		if s.logger != nil {
			s.logger.Warn("gateway status check failed", zap.Int64("order_id", orderID), zap.Error(err))
		}
		return &dto.PaymentStatusResponse{Paid: false, PaymentStatus: string(order.PaymentStatus)}, nil
	}
	if !invoice.Paid() {
		return &dto.PaymentStatusResponse{Paid: false, PaymentStatus: string(order.PaymentStatus)}, nil
	}

	if err := s.reconcile(ctx, order, entity.PaymentSourcePolling, invoice.ID); err != nil {
		return nil, err
	}
	return &dto.PaymentStatusResponse{Paid: true, PaymentStatus: string(entity.PaymentStatusPaid)}, nil
}

// HandleWebhook processes a gateway push. It never returns an error the
// transport should surface: invalid signatures and processing failures
// are logged and still acknowledged with 200, relying on the idempotent
// reconciliation and the polling backstop.
func (s *Service) HandleWebhook(ctx context.Context, payload dto.WebhookPayload, callbackToken string) {
	ctx, span := serviceTracer.Start(ctx, "PaymentReconciler.HandleWebhook", trace.WithAttributes(attribute.String("invoice.id", payload.ID)))
	defer span.End()

	if !s.gateway.VerifyCallbackToken(callbackToken) {
		if s.logger != nil {
			s.logger.Warn("webhook signature invalid", zap.String("invoice_id", payload.ID))
		}
		span.SetStatus(codes.Error, "invalid signature")
		return
	}

	if !isPaidStatus(payload.Status) {
		return
	}

	order, err := s.store.GetByNumber(ctx, payload.ExternalID)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("webhook for unknown order", zap.String("external_id", payload.ExternalID), zap.Error(err))
		}
		return
	}
	if order.PaymentMethod != entity.PaymentMethodCashless || order.OrderStatus != entity.OrderStatusPending {
		if s.logger != nil {
			s.logger.Info("webhook on already reconciled order", zap.Int64("order_id", order.ID))
		}
		return
	}

	if err := s.reconcile(ctx, order, entity.PaymentSourceWebhook, payload.ID); err != nil {
		if s.logger != nil {
			s.logger.Error("webhook reconciliation failed", zap.Int64("order_id", order.ID), zap.Error(err))
		}
	}
}

// MarkQRScanned persists that the customer scanned the payment QR. Only
// the first scan broadcasts; repeats are a silent no-op.
func (s *Service) MarkQRScanned(ctx context.Context, orderID int64) error {
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return err
	}
	recorded, err := s.store.MarkQRScanned(ctx, orderID)
	if err != nil {
		return errorbank.Internal("failed to mark QR as scanned", errorbank.WithCause(err))
	}
	if !recorded {
		return nil
	}
	s.publish(ctx, broadcast.ChannelNotifications, events.TypePaymentQRScanned, events.PaymentQRScanned{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
	})
	return nil
}

// reconcile applies the idempotent cashless confirmation. A lost race is
// logged as a no-op success: the winner already deducted stock and moved
// the order.
func (s *Service) reconcile(ctx context.Context, order *entity.Order, source, reference string) error {
	soldOut, err := s.store.ConfirmCashless(ctx, order, source, reference)
	if err != nil {
		if errors.Is(err, repo.ErrAlreadyReconciled) {
			if s.logger != nil {
				s.logger.Info("order already reconciled by the other path",
					zap.Int64("order_id", order.ID),
					zap.String("source", source),
				)
			}
			return nil
		}
		var insufficient *stock.InsufficientError
		if errors.As(err, &insufficient) {
			return errorbank.InsufficientStock(insufficient.Error(),
				errorbank.WithDetail("menu_item_id", insufficient.MenuItemID),
				errorbank.WithDetail("requested", insufficient.Requested),
				errorbank.WithDetail("available", insufficient.Available),
			)
		}
		return errorbank.Internal("failed to reconcile payment", errorbank.WithCause(err))
	}

	s.emitConfirmed(ctx, order, entity.PaymentMethodCashless, order.FinalAmount, 0, source)
	s.emitSoldOut(ctx, soldOut)
	return nil
}

func (s *Service) loadOrder(ctx context.Context, id int64) (*entity.Order, error) {
	order, err := s.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, errorbank.NotFound("order not found")
		}
		return nil, errorbank.Internal("failed to load order", errorbank.WithCause(err))
	}
	return order, nil
}

func (s *Service) confirmError(span trace.Span, err error, msg string) error {
	if errors.Is(err, repo.ErrAlreadyReconciled) {
		return errorbank.Conflict("order is already paid")
	}
	var insufficient *stock.InsufficientError
	if errors.As(err, &insufficient) {
		return errorbank.InsufficientStock(insufficient.Error(),
			errorbank.WithDetail("menu_item_id", insufficient.MenuItemID),
			errorbank.WithDetail("requested", insufficient.Requested),
			errorbank.WithDetail("available", insufficient.Available),
		)
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)
	return errorbank.Internal(msg, errorbank.WithCause(err))
}

func (s *Service) emitConfirmed(ctx context.Context, order *entity.Order, method entity.PaymentMethod, amount, change int64, source string) {
	s.publish(ctx, broadcast.ChannelOrders, events.TypePaymentConfirmed, events.PaymentConfirmed{
		OrderID:      order.ID,
		OrderNumber:  order.OrderNumber,
		Method:       method,
		Amount:       amount,
		ChangeAmount: change,
		Source:       source,
	})
	s.publish(ctx, broadcast.ChannelOrders, events.TypeOrderStatusChanged, events.OrderStatusChanged{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		FromStatus:  entity.OrderStatusPending,
		ToStatus:    entity.OrderStatusConfirmed,
		ChangedBy:   source,
	})
}

func (s *Service) emitSoldOut(ctx context.Context, items []entity.MenuItem) {
	for _, item := range items {
		s.publish(ctx, broadcast.ChannelMenu, events.TypeMenuSoldOut, events.MenuSoldOut{
			MenuItemID: item.ID,
			Name:       item.Name,
		})
		s.publish(ctx, broadcast.ChannelInventory, events.TypeMenuSoldOut, events.MenuSoldOut{
			MenuItemID: item.ID,
			Name:       item.Name,
		})
	}
}

func (s *Service) publish(ctx context.Context, channel, eventType string, payload any) {
	if s.hub != nil {
		s.hub.Publish(channel, eventType, payload, "")
	}
	if !s.enabled || s.publisher == nil {
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return
	}
	value, err := json.Marshal(events.Envelope{
		Channel:    channel,
		Type:       eventType,
		Payload:    raw,
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		return
	}
	if err := s.publisher.Publish(ctx, []byte(eventType), value); err != nil {
		if s.logger != nil {
			s.logger.Error("publish event", zap.String("type", eventType), zap.Error(err))
		}
	}
}

func isPaidStatus(status string) bool {
	switch status {
	case "PAID", "SETTLED", "COMPLETED":
		return true
	}
	return false
}
