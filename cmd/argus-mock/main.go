package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"argus/cmd/internal/app"
	"argus/cmd/internal/mockserver"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := mockserver.LoadConfigFromEnv(ctx)
	if err != nil {
		log.Fatal(err)
	}
	logger, err := app.NewLoggerFromEnv(ctx)
	if err != nil {
		log.Fatal(err)
	}

	srv, err := mockserver.New(cfg, mockserver.WithLogger(logger))
	if err != nil {
		log.Fatal(err)
	}
	defer srv.Close()

	if err := srv.ListenAndServe(ctx, 5*time.Second); err != nil {
		log.Fatal(err)
	}
}
