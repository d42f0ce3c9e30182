package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"dist-rpc/cmd/rpcagent/app"

	"go.uber.org/zap"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := app.Run(ctx, os.Args); err != nil {
		zap.L().Error("rpcagent failed", zap.Error(err))
		zap.L().Sync()
		os.Exit(1)
	}
}
