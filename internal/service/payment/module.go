package payment

import "go.uber.org/fx"

// Module provides the payment reconciler to Fx.
var Module = fx.Provide(NewService)
