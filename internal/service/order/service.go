package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/kiosk/internal/broadcast"
	"github.com/Additional-Code/kiosk/internal/cache"
	"github.com/Additional-Code/kiosk/internal/config"
	"github.com/Additional-Code/kiosk/internal/dto"
	"github.com/Additional-Code/kiosk/internal/entity"
	"github.com/Additional-Code/kiosk/internal/events"
	"github.com/Additional-Code/kiosk/internal/messaging"
	catalogrepo "github.com/Additional-Code/kiosk/internal/repository/catalog"
	repo "github.com/Additional-Code/kiosk/internal/repository/order"
	"github.com/Additional-Code/kiosk/pkg/errorbank"
)

var serviceTracer = otel.Tracer("github.com/Additional-Code/kiosk/service/order")

// Store is the order persistence surface the ledger needs.
type Store interface {
	Create(ctx context.Context, order *entity.Order, guest *entity.Customer) error
	GetByID(ctx context.Context, id int64) (*entity.Order, error)
	QueuedPrepMinutes(ctx context.Context, from, to time.Time) (int, error)
	UpdateStatus(ctx context.Context, orderID int64, from, to entity.OrderStatus, changedBy, notes string, markPaid bool) error
	Timeline(ctx context.Context, orderID int64) ([]entity.TimelineEntry, error)
}

// Catalog is the read contract against the menu catalog.
type Catalog interface {
	MenuItem(ctx context.Context, id int64) (*entity.MenuItem, error)
	Modifier(ctx context.Context, id int64) (*entity.ModifierOption, error)
	ActiveTaxRule(ctx context.Context) (*entity.TaxRule, error)
	CapacityBound(ctx context.Context, day time.Time) (int, error)
}

// Service is the order ledger: it creates and prices orders and drives
// the order status state machine.
type Service struct {
	store     Store
	catalog   Catalog
	cache     cache.Store
	cacheTTL  time.Duration
	capacity  int
	logger    *zap.Logger
	publisher messaging.Client
	hub       *broadcast.Hub
	messaging messagingConfig
}

type messagingConfig struct {
	enabled bool
}

// Params defines dependencies for constructing Service.
type Params struct {
	fx.In

	Repository *repo.Repository
	Catalog    *catalogrepo.Repository
	Cache      cache.Store
	Config     config.Config
	Logger     *zap.Logger
	Publisher  messaging.Client
	Hub        *broadcast.Hub
}

// NewService wires a new Service instance.
func NewService(p Params) *Service {
	return &Service{
		store:     p.Repository,
		catalog:   p.Catalog,
		cache:     p.Cache,
		cacheTTL:  p.Config.Pricing.PriceTTL,
		capacity:  p.Config.Pricing.DailyCapacityMinutes,
		logger:    p.Logger,
		publisher: p.Publisher,
		hub:       p.Hub,
		messaging: messagingConfig{enabled: p.Config.Messaging.Enabled},
	}
}

// valid transitions of the order status state machine; cancelled is
// reachable from every non-terminal state.
var transitions = map[entity.OrderStatus][]entity.OrderStatus{
	entity.OrderStatusPending:   {entity.OrderStatusConfirmed, entity.OrderStatusCancelled},
	entity.OrderStatusConfirmed: {entity.OrderStatusPreparing, entity.OrderStatusCancelled},
	entity.OrderStatusPreparing: {entity.OrderStatusReady, entity.OrderStatusCancelled},
	entity.OrderStatusReady:     {entity.OrderStatusCompleted, entity.OrderStatusCancelled},
}

// Create prices and persists a new order in a single transaction and
// emits order.created after commit. Stock is untouched here: an unpaid
// order must not reserve inventory.
func (s *Service) Create(ctx context.Context, req dto.CreateOrderRequest) (*dto.OrderSummary, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderLedger.Create", trace.WithAttributes(
		attribute.String("order.type", string(req.OrderType)),
		attribute.String("order.source", string(req.OrderSource)),
	))
	defer span.End()

	if err := validateCreate(req); err != nil {
		return nil, err
	}

	var guest *entity.Customer
	if req.CustomerID == 0 && (req.CustomerName != "" || req.CustomerPhone != "") {
		guest = &entity.Customer{
			Name:      req.CustomerName,
			Phone:     req.CustomerPhone,
			IsGuest:   true,
			CreatedAt: time.Now().UTC(),
		}
	}

	var (
		items    = make([]*entity.OrderItem, 0, len(req.Items))
		subtotal int64
		maxPrep  int
	)
	for _, line := range req.Items {
		item, err := s.menuItem(ctx, line.MenuItemID)
		if err != nil {
			return nil, err
		}

		unitPrice, err := s.resolveUnitPrice(ctx, item, line)
		if err != nil {
			return nil, err
		}

		lineSubtotal := unitPrice * int64(line.Quantity)
		subtotal += lineSubtotal
		if item.PrepMinutes > maxPrep {
			maxPrep = item.PrepMinutes
		}

		items = append(items, &entity.OrderItem{
			MenuItemID:          line.MenuItemID,
			Quantity:            line.Quantity,
			FlavorID:            line.FlavorID,
			SizeID:              line.SizeID,
			UnitPrice:           unitPrice,
			Subtotal:            lineSubtotal,
			SpecialInstructions: line.SpecialInstructions,
		})
	}

	var taxAmount int64
	rule, err := s.catalog.ActiveTaxRule(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, errorbank.Internal("failed to load tax rule", errorbank.WithCause(err))
	}
	if rule != nil {
		taxAmount = int64(math.Round(float64(subtotal) * rule.RatePct / 100))
	}

	estimate, err := s.preparationEstimate(ctx, maxPrep)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	order := &entity.Order{
		OrderNumber:                 generateOrderNumber(now),
		VerificationCode:            generateVerificationCode(),
		OrderType:                   req.OrderType,
		OrderSource:                 req.OrderSource,
		PaymentMethod:               req.PaymentMethod,
		PaymentStatus:               entity.PaymentStatusUnpaid,
		OrderStatus:                 entity.OrderStatusPending,
		CustomerID:                  req.CustomerID,
		Subtotal:                    subtotal,
		TaxAmount:                   taxAmount,
		FinalAmount:                 subtotal + taxAmount,
		EstimatedPreparationMinutes: estimate,
		SpecialInstructions:         req.SpecialInstructions,
		CreatedAt:                   now,
		UpdatedAt:                   now,
		Items:                       items,
	}

	if err := s.store.Create(ctx, order, guest); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "repository error")
		return nil, errorbank.Internal("failed to create order", errorbank.WithCause(err))
	}

	// Emit only after the transaction committed; a rolled-back order
	// must never reach a terminal.
	s.publish(ctx, broadcast.ChannelOrders, events.TypeOrderCreated, events.OrderCreated{
		OrderID:                     order.ID,
		OrderNumber:                 order.OrderNumber,
		OrderType:                   order.OrderType,
		OrderSource:                 order.OrderSource,
		FinalAmount:                 order.FinalAmount,
		ItemsCount:                  len(items),
		EstimatedPreparationMinutes: estimate,
		CreatedAt:                   order.CreatedAt,
	})

	return &dto.OrderSummary{
		OrderID:                     order.ID,
		OrderNumber:                 order.OrderNumber,
		VerificationCode:            order.VerificationCode,
		TotalAmount:                 order.FinalAmount,
		ItemsCount:                  len(items),
		EstimatedPreparationMinutes: estimate,
	}, nil
}

// Get retrieves an order by id.
func (s *Service) Get(ctx context.Context, id int64) (*entity.Order, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderLedger.Get", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	order, err := s.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, errorbank.NotFound("order not found")
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "repository error")
		return nil, errorbank.Internal("failed to load order", errorbank.WithCause(err))
	}
	return order, nil
}

// UpdateStatus drives the order status state machine. Completed requires
// a paid order; moving into confirmed marks the order paid when it is not
// yet (the cash-at-counter workflow).
func (s *Service) UpdateStatus(ctx context.Context, orderID int64, req dto.UpdateStatusRequest) error {
	ctx, span := serviceTracer.Start(ctx, "OrderLedger.UpdateStatus", trace.WithAttributes(
		attribute.Int64("order.id", orderID),
		attribute.String("order.status", string(req.Status)),
	))
	defer span.End()

	order, err := s.Get(ctx, orderID)
	if err != nil {
		return err
	}

	if !transitionAllowed(order.OrderStatus, req.Status) {
		return errorbank.Unprocessable(
			fmt.Sprintf("cannot move order from %s to %s", order.OrderStatus, req.Status),
		)
	}
	if req.Status == entity.OrderStatusCompleted && order.PaymentStatus != entity.PaymentStatusPaid {
		return errorbank.Unprocessable("order cannot be completed before payment")
	}

	markPaid := req.Status == entity.OrderStatusConfirmed && order.PaymentStatus != entity.PaymentStatusPaid

	err = s.store.UpdateStatus(ctx, orderID, order.OrderStatus, req.Status, req.ChangedBy, req.Notes, markPaid)
	if err != nil {
		if errors.Is(err, repo.ErrAlreadyReconciled) {
			return errorbank.Conflict("order status changed concurrently")
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "repository error")
		return errorbank.Internal("failed to update order status", errorbank.WithCause(err))
	}

	s.publish(ctx, broadcast.ChannelOrders, events.TypeOrderStatusChanged, events.OrderStatusChanged{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		FromStatus:  order.OrderStatus,
		ToStatus:    req.Status,
		ChangedBy:   req.ChangedBy,
	})
	return nil
}

// Timeline returns the status audit trail for an order.
func (s *Service) Timeline(ctx context.Context, orderID int64) ([]entity.TimelineEntry, error) {
	if _, err := s.Get(ctx, orderID); err != nil {
		return nil, err
	}
	entries, err := s.store.Timeline(ctx, orderID)
	if err != nil {
		return nil, errorbank.Internal("failed to load timeline", errorbank.WithCause(err))
	}
	return entries, nil
}

func validateCreate(req dto.CreateOrderRequest) error {
	switch req.OrderType {
	case entity.OrderTypeDineIn, entity.OrderTypeTakeout, entity.OrderTypeDelivery, entity.OrderTypeCustomOrder:
	default:
		return errorbank.BadRequest(fmt.Sprintf("unknown order type %q", req.OrderType))
	}
	switch req.OrderSource {
	case entity.OrderSourceKiosk, entity.OrderSourceCashier:
	default:
		return errorbank.BadRequest(fmt.Sprintf("unknown order source %q", req.OrderSource))
	}
	switch req.PaymentMethod {
	case entity.PaymentMethodCash, entity.PaymentMethodCashless:
	default:
		return errorbank.BadRequest(fmt.Sprintf("unknown payment method %q", req.PaymentMethod))
	}
	if len(req.Items) == 0 {
		return errorbank.BadRequest("order must contain at least one item")
	}
	for _, line := range req.Items {
		if line.Quantity <= 0 {
			return errorbank.BadRequest("item quantity must be a positive integer")
		}
	}
	return nil
}

// resolveUnitPrice computes (base price + flavor cost) * size multiplier,
// rounded to whole centavos. Modifiers apply only to customizable items.
func (s *Service) resolveUnitPrice(ctx context.Context, item *entity.MenuItem, line dto.CreateOrderItem) (int64, error) {
	price := float64(item.Price)
	if !item.IsCustomizable {
		return item.Price, nil
	}
	if line.FlavorID > 0 {
		flavor, err := s.modifier(ctx, line.FlavorID, entity.ModifierFlavor)
		if err != nil {
			return 0, err
		}
		price += float64(flavor.PriceDelta)
	}
	if line.SizeID > 0 {
		size, err := s.modifier(ctx, line.SizeID, entity.ModifierSize)
		if err != nil {
			return 0, err
		}
		if size.Multiplier > 0 {
			price *= size.Multiplier
		}
	}
	return int64(math.Round(price)), nil
}

func (s *Service) modifier(ctx context.Context, id int64, kind entity.ModifierKind) (*entity.ModifierOption, error) {
	modifier, err := s.catalog.Modifier(ctx, id)
	if err != nil {
		if errors.Is(err, catalogrepo.ErrNotFound) {
			return nil, errorbank.NotFound(fmt.Sprintf("%s option %d not found", kind, id))
		}
		return nil, errorbank.Internal("failed to load modifier", errorbank.WithCause(err))
	}
	if modifier.Kind != kind {
		return nil, errorbank.BadRequest(fmt.Sprintf("modifier %d is not a %s option", id, kind))
	}
	return modifier, nil
}

// preparationEstimate is queue-aware: the prep minutes of every item in
// orders still pending or preparing today, plus this order's own maximum
// item prep time, rounded up to whole minutes and bounded by the daily
// capacity counter when one exists.
func (s *Service) preparationEstimate(ctx context.Context, ownMaxPrep int) (int, error) {
	now := time.Now().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	queued, err := s.store.QueuedPrepMinutes(ctx, dayStart, dayStart.Add(24*time.Hour))
	if err != nil {
		return 0, errorbank.Internal("failed to compute queue load", errorbank.WithCause(err))
	}

	estimate := int(math.Ceil(float64(queued) + float64(ownMaxPrep)))

	bound := s.capacity
	if fromCounter, err := s.catalog.CapacityBound(ctx, dayStart); err == nil && fromCounter > 0 {
		bound = fromCounter
	}
	if bound > 0 && estimate > bound {
		estimate = bound
	}
	return estimate, nil
}

// menuItem resolves a catalog entry through the price-validity cache
// window before hitting the database.
func (s *Service) menuItem(ctx context.Context, id int64) (*entity.MenuItem, error) {
	key := fmt.Sprintf("menu:%d", id)
	if s.cache != nil {
		if raw, err := s.cache.Get(ctx, key); err == nil {
			var item entity.MenuItem
			if err := json.Unmarshal(raw, &item); err == nil {
				return &item, nil
			}
		} else if !errors.Is(err, cache.ErrCacheMiss) && s.logger != nil {
			s.logger.Warn("menu cache read failed", zap.Int64("id", id), zap.Error(err))
		}
	}

	item, err := s.catalog.MenuItem(ctx, id)
	if err != nil {
		if errors.Is(err, catalogrepo.ErrNotFound) {
			return nil, errorbank.NotFound(fmt.Sprintf("menu item %d not found", id))
		}
		return nil, errorbank.Internal("failed to load menu item", errorbank.WithCause(err))
	}

	if s.cache != nil {
		if raw, err := json.Marshal(item); err == nil {
			if err := s.cache.Set(ctx, key, raw, s.cacheTTL); err != nil && s.logger != nil {
				s.logger.Warn("menu cache write failed", zap.Int64("id", id), zap.Error(err))
			}
		}
	}
	return item, nil
}

func (s *Service) publish(ctx context.Context, channel, eventType string, payload any) {
	if s.hub != nil {
		s.hub.Publish(channel, eventType, payload, "")
	}
	if !s.messaging.enabled || s.publisher == nil {
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		if s.logger != nil {
			s.logger.Error("marshal event payload", zap.String("type", eventType), zap.Error(err))
		}
		return
	}
	envelope := events.Envelope{
		Channel:    channel,
		Type:       eventType,
		Payload:    raw,
		OccurredAt: time.Now().UTC(),
	}
	value, err := json.Marshal(envelope)
	if err != nil {
		return
	}
	if err := s.publisher.Publish(ctx, []byte(eventType), value); err != nil {
		if s.logger != nil {
			s.logger.Error("publish event", zap.String("type", eventType), zap.Error(err))
		}
	}
}

func transitionAllowed(from, to entity.OrderStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func generateOrderNumber(now time.Time) string {
	// Random suffix, no global uniqueness check; collisions are accepted
	// as low probability at counter scale.
	return fmt.Sprintf("ORD-%s-%04d", now.Format("20060102"), rand.IntN(10000))
}

func generateVerificationCode() string {
	return fmt.Sprintf("%06d", rand.IntN(1000000))
}
