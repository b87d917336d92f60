package events

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/Additional-Code/kiosk/internal/broadcast"
	"github.com/Additional-Code/kiosk/internal/config"
	"github.com/Additional-Code/kiosk/internal/presentation/http/response"
	"github.com/Additional-Code/kiosk/pkg/errorbank"
)

var channels = map[string]struct{}{
	broadcast.ChannelOrders:        {},
	broadcast.ChannelMenu:          {},
	broadcast.ChannelInventory:     {},
	broadcast.ChannelCustomCakes:   {},
	broadcast.ChannelNotifications: {},
}

// Handler serves long-lived event-stream subscriptions.
type Handler struct {
	hub       *broadcast.Hub
	keepAlive time.Duration
	logger    *zap.Logger
}

// NewHandler constructs the events Handler.
func NewHandler(hub *broadcast.Hub, cfg config.Config, logger *zap.Logger) *Handler {
	return &Handler{
		hub:       hub,
		keepAlive: cfg.Broadcast.KeepAliveInterval,
		logger:    logger,
	}
}

// Register routes with provided Echo instance.
func Register(e *echo.Echo, h *Handler) {
	e.GET("/events/:channel", h.subscribe)
}

// subscribe holds the connection open as text/event-stream. A client that
// reconnects with Last-Event-ID gets every buffered event strictly after
// that id before live delivery resumes; comment lines keep intermediary
// proxies from closing the stream.
func (h *Handler) subscribe(c echo.Context) error {
	channel := c.Param("channel")
	if _, ok := channels[channel]; !ok {
		return response.New(c).WithError(errorbank.NotFound(fmt.Sprintf("unknown channel %q", channel))).Build()
	}

	var lastSeen int64
	if raw := c.Request().Header.Get("Last-Event-ID"); raw != "" {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
			lastSeen = id
		}
	}
	userID := c.QueryParam("user_id")

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.WriteHeader(http.StatusOK)

	sub, replay := h.hub.Subscribe(channel, userID, lastSeen)
	defer h.hub.Unsubscribe(sub)

	for _, event := range replay {
		if err := writeEvent(res, event); err != nil {
			return nil
		}
	}
	res.Flush()

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-sub.C:
			if !ok {
				// Hub dropped us as a slow consumer.
				return nil
			}
			if err := writeEvent(res, event); err != nil {
				return nil
			}
			res.Flush()
		case <-ticker.C:
			if _, err := fmt.Fprint(res, ": keep-alive\n\n"); err != nil {
				return nil
			}
			res.Flush()
		}
	}
}

func writeEvent(res *echo.Response, event broadcast.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(res, "id: %d\nevent: %s\ndata: %s\n\n", event.ID, event.Type, data)
	return err
}
