package order

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Additional-Code/kiosk/internal/dto"
	"github.com/Additional-Code/kiosk/internal/entity"
	"github.com/Additional-Code/kiosk/internal/presentation/http/response"
	service "github.com/Additional-Code/kiosk/internal/service/order"
	"github.com/Additional-Code/kiosk/pkg/errorbank"
)

var httpTracer = otel.Tracer("github.com/Additional-Code/kiosk/transport/http/order")

// Handler exposes order endpoints over HTTP.
type Handler struct {
	svc *service.Service
}

// NewHandler constructs an order Handler.
func NewHandler(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

// Register routes with provided Echo instance.
func Register(e *echo.Echo, h *Handler) {
	g := e.Group("/orders")
	g.POST("", h.create)
	g.GET("/:id", h.getByID)
	g.GET("/:id/timeline", h.timeline)
	g.PATCH("/:id/status", h.updateStatus)
}

func (h *Handler) create(c echo.Context) error {
	b := response.New(c)

	var req dto.CreateOrderRequest
	if err := c.Bind(&req); err != nil {
		return b.WithError(errorbank.BadRequest("invalid payload", errorbank.WithCause(err))).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.create", trace.WithAttributes(
		attribute.String("order.source", string(req.OrderSource)),
		attribute.Int("order.items", len(req.Items)),
	))
	defer span.End()

	summary, err := h.svc.Create(ctx, req)
	if err != nil {
		return b.WithError(err).Build()
	}

	return b.WithStatus(http.StatusCreated).WithData(summary).Build()
}

func (h *Handler) getByID(c echo.Context) error {
	b := response.New(c)

	id, err := orderID(c)
	if err != nil {
		return b.WithError(err).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.getByID", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	order, err := h.svc.Get(ctx, id)
	if err != nil {
		return b.WithError(err).Build()
	}

	return b.WithData(toDTO(order)).Build()
}

func (h *Handler) timeline(c echo.Context) error {
	b := response.New(c)

	id, err := orderID(c)
	if err != nil {
		return b.WithError(err).Build()
	}

	entries, err := h.svc.Timeline(c.Request().Context(), id)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(entries).Build()
}

func (h *Handler) updateStatus(c echo.Context) error {
	b := response.New(c)

	id, err := orderID(c)
	if err != nil {
		return b.WithError(err).Build()
	}

	var req dto.UpdateStatusRequest
	if err := c.Bind(&req); err != nil {
		return b.WithError(errorbank.BadRequest("invalid payload", errorbank.WithCause(err))).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.updateStatus", trace.WithAttributes(
		attribute.Int64("order.id", id),
		attribute.String("order.status", string(req.Status)),
	))
	defer span.End()

	if err := h.svc.UpdateStatus(ctx, id, req); err != nil {
		return b.WithError(err).Build()
	}
	return b.WithMeta("status", string(req.Status)).Build()
}

func orderID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return 0, errorbank.BadRequest("invalid id", errorbank.WithCause(err))
	}
	return id, nil
}

func toDTO(order *entity.Order) dto.OrderResponse {
	resp := dto.OrderResponse{
		ID:                          order.ID,
		OrderNumber:                 order.OrderNumber,
		VerificationCode:            order.VerificationCode,
		OrderType:                   order.OrderType,
		OrderSource:                 order.OrderSource,
		PaymentMethod:               order.PaymentMethod,
		PaymentStatus:               order.PaymentStatus,
		OrderStatus:                 order.OrderStatus,
		Subtotal:                    order.Subtotal,
		TaxAmount:                   order.TaxAmount,
		DiscountAmount:              order.DiscountAmount,
		FinalAmount:                 order.FinalAmount,
		AmountPaid:                  order.AmountPaid,
		ChangeAmount:                order.ChangeAmount,
		EstimatedPreparationMinutes: order.EstimatedPreparationMinutes,
		CreatedAt:                   order.CreatedAt,
		UpdatedAt:                   order.UpdatedAt,
	}
	for _, item := range order.Items {
		resp.Items = append(resp.Items, dto.OrderItemResponse{
			ID:         item.ID,
			MenuItemID: item.MenuItemID,
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice,
			Subtotal:   item.Subtotal,
		})
	}
	return resp
}
