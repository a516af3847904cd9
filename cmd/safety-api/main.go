package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/pkg/errors"
)

func main() {
	app := mustBootstrapSafetyAPI()
	defer app.Close()

	if err := app.Run(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("safety-api stopped", "error", err.Error())
		app.Close()
		os.Exit(1)
	}
}
