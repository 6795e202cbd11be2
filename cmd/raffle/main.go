package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/and161185/raffle/internal/allocator"
	"github.com/and161185/raffle/internal/config"
	"github.com/and161185/raffle/internal/deps"
	"github.com/and161185/raffle/internal/gateway"
	"github.com/and161185/raffle/internal/lifecycle"
	"github.com/and161185/raffle/internal/notify"
	"github.com/and161185/raffle/internal/reconcile"
	"github.com/and161185/raffle/internal/server"
	"github.com/and161185/raffle/internal/storage"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	config := config.NewConfig()
	deps := deps.NewDependencies(config.Key)

	storage, err := storage.NewPostgresStorage(ctx, config.DatabaseURI)
	if err != nil {
		config.Logger.Fatal(err)
	}

	dispatcher := notify.NewDispatcher(config.NotifierAddress)
	lc := lifecycle.New(storage, dispatcher, deps.Logger)
	gw := gateway.NewClient(config.GatewayAddress, config.GatewayToken)
	worker := reconcile.NewWorker(storage, gw, lc, deps.Logger)
	alloc := allocator.New(storage, config.MaxQuantity, deps.Logger)

	srv := server.NewServer(storage, alloc, worker, config, deps)
	if err := srv.Run(ctx); err != nil {
		config.Logger.Fatal(err)
	}

	worker.Wait()
}
