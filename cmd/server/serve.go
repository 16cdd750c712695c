package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"intake-chatbot/internal/cache"
	"intake-chatbot/internal/core"
	"intake-chatbot/internal/db"
	"intake-chatbot/internal/geo"
	httpserver "intake-chatbot/internal/http"
	"intake-chatbot/internal/metrics"
)

const expireEvery = time.Minute

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and voice API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

func serve(ctx context.Context) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder := metrics.NewPrometheusRecorder(reg)

	engineOpts := core.EngineOptions{Metrics: recorder}
	managerOpts := core.ManagerOptions{
		MessageCap: cfg.MessageCap,
		EchoSettle: cfg.EchoSettle,
		Log:        logger,
		Metrics:    recorder,
	}
	serverOpts := httpserver.Options{
		Geocoder: geo.NewResolver(cfg.GeocoderURL, nil),
		Metrics:  promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Log:      logger,
	}

	var notifier *db.Notifier
	if cfg.DatabaseURL != "" {
		conn, err := openDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer conn.Close()
		if err := db.Migrate(ctx, conn); err != nil {
			return err
		}
		repo := db.NewRepository(conn)
		notifier = db.NewNotifier(conn, cfg.DatabaseURL, cfg.NotifyChannel, logger)
		engineOpts.Documents = db.NewReports(repo, notifier, logger)
		managerOpts.Store = repo
		serverOpts.Reports = repo
		serverOpts.Events = httpserver.NewBroadcaster()
	} else {
		logger.Warn("DATABASE_URL not set, sessions are kept in memory only")
	}

	if cfg.RedisURL != "" {
		client, err := cache.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer client.Close()
		states := cache.New(client, cfg.SessionTTL)
		managerOpts.Cache = states
		serverOpts.States = states
	}

	engine, err := newEngine(engineOpts)
	if err != nil {
		return err
	}
	manager := core.NewManager(engine, managerOpts)
	metrics.RegisterSessionGauge(reg, manager.Len)
	serverOpts.Sessions = manager

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           httpserver.NewServer(serverOpts),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		ticker := time.NewTicker(expireEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if n := manager.Expire(ctx, cfg.SessionTTL); n > 0 {
					logger.Info("expired idle sessions", zap.Int("count", n))
				}
			}
		}
	})
	if notifier != nil {
		g.Go(func() error {
			ready, err := notifier.Listen(ctx)
			if err != nil {
				return err
			}
			return serverOpts.Events.Run(ctx, ready)
		})
	}
	return g.Wait()
}
