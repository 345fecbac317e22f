package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/lydongcanh/sprintopia/internal/config"
	"github.com/lydongcanh/sprintopia/internal/httpapi"
	"github.com/lydongcanh/sprintopia/internal/hub"
	"github.com/lydongcanh/sprintopia/internal/natsbridge"
	"github.com/lydongcanh/sprintopia/internal/relay"
	"github.com/lydongcanh/sprintopia/internal/session"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	var log *zap.Logger
	if cfg.IsDevelopment() {
		log, err = zap.NewDevelopment()
	} else {
		log, err = zap.NewProduction()
	}
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	if err != nil {
		return err
	}
	store := session.NewStore(db, log)
	if err := store.Migrate(); err != nil {
		return err
	}

	var bridge relay.Bridge
	var closeBridge func() error
	if cfg.NATSURL != "" {
		b, err := natsbridge.Connect(cfg.NATSURL, log)
		if err != nil {
			return err
		}
		bridge = b
		closeBridge = b.Close
	} else {
		log.Info("no NATS_URL set, relay runs node-local")
	}

	h := hub.NewHub(ctx, bridge, log)
	api := httpapi.NewAPI(store, log)

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: httpapi.SetupRoutes(api, h, log, cfg.AllowedOrigins),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", zap.String("addr", cfg.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		err := srv.Shutdown(shutdownCtx)
		h.Inbox() <- hub.ShutdownHub{}
		if closeBridge != nil {
			err = multierr.Append(err, closeBridge())
		}
		return err
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("shutdown complete")
	return nil
}
