package main

import (
	"go.uber.org/fx"

	"github.com/Additional-Code/kiosk/internal/app"
)

func main() {
	fx.New(app.Module).Run()
}
