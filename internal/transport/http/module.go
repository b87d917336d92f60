package http

import (
	"go.uber.org/fx"

	eventstransport "github.com/Additional-Code/kiosk/internal/transport/http/events"
	ordertransport "github.com/Additional-Code/kiosk/internal/transport/http/order"
	paymenttransport "github.com/Additional-Code/kiosk/internal/transport/http/payment"
)

// Module aggregates all HTTP transport handlers.
var Module = fx.Options(
	ordertransport.Module,
	paymenttransport.Module,
	eventstransport.Module,
)
