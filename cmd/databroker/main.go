package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/kbekoe/databroker/internal/blacklist"
	"github.com/kbekoe/databroker/internal/config"
	"github.com/kbekoe/databroker/internal/deps"
	"github.com/kbekoe/databroker/internal/fulfill"
	"github.com/kbekoe/databroker/internal/ledger"
	"github.com/kbekoe/databroker/internal/notify"
	"github.com/kbekoe/databroker/internal/provider"
	"github.com/kbekoe/databroker/internal/ratelimit"
	"github.com/kbekoe/databroker/internal/reconcile"
	"github.com/kbekoe/databroker/internal/server"
	"github.com/kbekoe/databroker/internal/storage"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.NewConfig()
	d := deps.NewDependencies(cfg.AdminKey)

	store, err := storage.NewPostgresStorage(ctx, cfg.DatabaseURI)
	if err != nil {
		d.Logger.Fatal(err)
	}

	datahub := provider.NewDatahub(cfg.DatahubBaseURL, cfg.DatahubAPIKey, cfg.ProviderTimeout)
	quicknet := provider.NewQuicknet(cfg.QuicknetBaseURL, cfg.QuicknetAPIKey, cfg.ProviderTimeout)
	teleserve := provider.NewTeleserve(cfg.TeleserveBaseURL, cfg.TeleserveAPIKey, cfg.ProviderTimeout)
	selector := provider.NewSelector(store, []provider.Adapter{datahub, quicknet}, teleserve)

	sender := notify.NewSender(notify.NewLogGateway(d.Logger), store, d.Logger)
	gate := blacklist.NewGate(store, sender, d.Logger)
	engine := ledger.NewEngine(store, d.Logger)
	router := fulfill.NewRouter(store, selector, gate, engine, sender, d.Logger)
	limiter := ratelimit.New(cfg.CallDelay)
	reconciler := reconcile.NewReconciler(store, engine, sender, selector, limiter, d.Logger,
		cfg.PollBatchSize, cfg.PollInterval, cfg.RateLimitCooldown)

	srv := server.NewServer(store, router, reconciler, gate, engine, sender, selector, limiter, cfg, d)
	if err := srv.Run(ctx); err != nil {
		d.Logger.Fatal(err)
	}
}
