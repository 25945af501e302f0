package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/affixlabs/affix/config"
	"github.com/affixlabs/affix/endpoint"
	"github.com/affixlabs/affix/internal/metrics"
	"github.com/affixlabs/affix/persist/gormdb"
	"github.com/affixlabs/affix/queue"
	"github.com/affixlabs/affix/remote"
	"github.com/affixlabs/affix/workers"
)

type ServeCmd struct {
	Config string `help:"Path to the configuration file." type:"path"`
}

func (s *ServeCmd) Run(ctx *Context) error {
	cfg, err := config.Load(s.Config)
	if err != nil {
		return err
	}
	log := config.NewLogger(&cfg.Logging, ctx.Debug)
	slog.SetDefault(log)

	db, err := gorm.Open(ctx.Dialector, &ctx.Config)
	if err != nil {
		return err
	}
	if err := configureDB(db); err != nil {
		return err
	}

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry, err := config.BuildRegistry(runCtx, cfg)
	if err != nil {
		return err
	}
	dispatcher, err := config.BuildQueue(&cfg.Queue, db)
	if err != nil {
		return err
	}
	mets, err := metrics.Register("", nil)
	if err != nil {
		return err
	}

	env := &workers.Env{
		DB:        db,
		Registry:  registry,
		Persister: gormdb.New(db),
		Logger:    log,
		Metrics:   mets,
	}

	api := &endpoint.Env{
		Registry: registry,
		Cache:    cfg.Cache,
		MaxSize:  cfg.Server.MaxUploadSize,
		Metrics:  mets,
	}
	if cfg.Server.RemoteUploads {
		api.Fetcher = remote.NewFetcher(registry, cfg.Cache, remote.WithMaxSize(cfg.Server.RemoteMaxSize))
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", promhttp.Handler())
	r.Mount("/", endpoint.Router(api))

	g, gctx := errgroup.WithContext(runCtx)

	switch q := dispatcher.(type) {
	case *queue.Redis:
		g.Go(func() error { return workers.NewRedisConsumer(env, q)(gctx) })
	default:
		g.Go(func() error { return workers.NewPromotionProcessor(env)(gctx) })
		g.Go(func() error { return workers.NewDeletionProcessor(env)(gctx) })
	}

	svr := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      r,
		WriteTimeout: 15 * time.Second,
		ReadTimeout:  15 * time.Second,
	}
	g.Go(func() error {
		log.Info("listening", "addr", cfg.Server.Addr)
		if err := svr.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return svr.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
