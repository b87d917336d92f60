package payment

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Additional-Code/kiosk/internal/dto"
	"github.com/Additional-Code/kiosk/internal/presentation/http/response"
	service "github.com/Additional-Code/kiosk/internal/service/payment"
	"github.com/Additional-Code/kiosk/pkg/errorbank"
)

var httpTracer = otel.Tracer("github.com/Additional-Code/kiosk/transport/http/payment")

// callbackHeader carries the gateway's shared-secret webhook token.
const callbackHeader = "X-Callback-Token"

// Handler exposes payment endpoints over HTTP.
type Handler struct {
	svc *service.Service
}

// NewHandler constructs a payment Handler.
func NewHandler(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

// Register routes with provided Echo instance.
func Register(e *echo.Echo, h *Handler) {
	g := e.Group("/payments")
	g.POST("/cash/verify", h.verifyCash)
	g.POST("/cashless/invoice", h.createInvoice)
	g.GET("/:order_id/status", h.checkStatus)
	g.POST("/:order_id/scanned", h.markScanned)

	e.POST("/webhooks/payment", h.webhook)
}

func (h *Handler) verifyCash(c echo.Context) error {
	b := response.New(c)

	var req dto.VerifyCashRequest
	if err := c.Bind(&req); err != nil {
		return b.WithError(errorbank.BadRequest("invalid payload", errorbank.WithCause(err))).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "payments.verifyCash", trace.WithAttributes(attribute.Int64("order.id", req.OrderID)))
	defer span.End()

	resp, err := h.svc.VerifyCash(ctx, req)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(resp).Build()
}

func (h *Handler) createInvoice(c echo.Context) error {
	b := response.New(c)

	var req dto.CreateInvoiceRequest
	if err := c.Bind(&req); err != nil {
		return b.WithError(errorbank.BadRequest("invalid payload", errorbank.WithCause(err))).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "payments.createInvoice", trace.WithAttributes(attribute.Int64("order.id", req.OrderID)))
	defer span.End()

	resp, err := h.svc.CreateInvoice(ctx, req)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithStatus(http.StatusCreated).WithData(resp).Build()
}

func (h *Handler) checkStatus(c echo.Context) error {
	b := response.New(c)

	id, err := orderID(c)
	if err != nil {
		return b.WithError(err).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "payments.checkStatus", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	resp, err := h.svc.CheckStatus(ctx, id)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(resp).Build()
}

func (h *Handler) markScanned(c echo.Context) error {
	b := response.New(c)

	id, err := orderID(c)
	if err != nil {
		return b.WithError(err).Build()
	}

	if err := h.svc.MarkQRScanned(c.Request().Context(), id); err != nil {
		return b.WithError(err).Build()
	}
	return b.Build()
}

// webhook always acknowledges with 200 so the gateway stops retrying;
// processing failures are handled (and logged) inside the reconciler,
// with the polling path as the backstop.
func (h *Handler) webhook(c echo.Context) error {
	var payload dto.WebhookPayload
	if err := c.Bind(&payload); err == nil {
		ctx, span := httpTracer.Start(c.Request().Context(), "payments.webhook", trace.WithAttributes(attribute.String("invoice.id", payload.ID)))
		h.svc.HandleWebhook(ctx, payload, c.Request().Header.Get(callbackHeader))
		span.End()
	}
	return c.JSON(http.StatusOK, dto.WebhookAck{Received: true})
}

func orderID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("order_id"), 10, 64)
	if err != nil {
		return 0, errorbank.BadRequest("invalid order id", errorbank.WithCause(err))
	}
	return id, nil
}
