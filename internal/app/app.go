package app

import (
	"go.uber.org/fx"

	"github.com/Additional-Code/kiosk/internal/broadcast"
	"github.com/Additional-Code/kiosk/internal/cache"
	"github.com/Additional-Code/kiosk/internal/config"
	"github.com/Additional-Code/kiosk/internal/database"
	"github.com/Additional-Code/kiosk/internal/gateway"
	"github.com/Additional-Code/kiosk/internal/logger"
	"github.com/Additional-Code/kiosk/internal/messaging"
	"github.com/Additional-Code/kiosk/internal/observability"
	repositorycatalog "github.com/Additional-Code/kiosk/internal/repository/catalog"
	repositoryorder "github.com/Additional-Code/kiosk/internal/repository/order"
	repositorystock "github.com/Additional-Code/kiosk/internal/repository/stock"
	grpcserver "github.com/Additional-Code/kiosk/internal/server/grpc"
	httpserver "github.com/Additional-Code/kiosk/internal/server/http"
	serviceorder "github.com/Additional-Code/kiosk/internal/service/order"
	servicepayment "github.com/Additional-Code/kiosk/internal/service/payment"
	transporthttp "github.com/Additional-Code/kiosk/internal/transport/http"
	"github.com/Additional-Code/kiosk/internal/worker"
	workernotify "github.com/Additional-Code/kiosk/internal/worker/notify"
)

// Core provides the foundational modules shared across executables.
var Core = fx.Options(
	config.Module,
	cache.Module,
	database.Module,
	logger.Module,
	messaging.Module,
	observability.Module,
	gateway.Module,
	broadcast.Module,
	repositorystock.Module,
	repositorycatalog.Module,
	repositoryorder.Module,
	serviceorder.Module,
	servicepayment.Module,
)

// HTTP wires the HTTP and gRPC transports on top of the core modules.
var HTTP = fx.Options(
	Core,
	httpserver.Module,
	grpcserver.Module,
	transporthttp.Module,
)

// Worker exposes background notification processing.
var Worker = fx.Options(
	Core,
	worker.Module,
	workernotify.Module,
)

// Module is the default application wiring (HTTP only).
var Module = HTTP
