package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"argus/cmd/internal/app"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := app.Run(ctx, os.Args[1:], os.Stderr); err != nil {
		log.Fatal(err)
	}
}
