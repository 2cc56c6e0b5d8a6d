package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/eddyhq/eddy-backend/internal/app"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx)
	if err != nil {
		fmt.Printf("failed to start: %v\n", err)
		os.Exit(1)
	}

	// Pull-based source integrations register here; push-only deployments
	// run with none and rely on POST /api/events.
	w, err := a.NewWorker(nil)
	if err != nil {
		a.Log.Error("failed to build worker", "error", err)
		os.Exit(1)
	}

	w.Run(ctx)

	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	a.Close(closeCtx)
}
