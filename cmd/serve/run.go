package serve

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/cors"

	"github.com/nicolastakashi/opsdash/api/routes"
	"github.com/nicolastakashi/opsdash/internal/config"
	"github.com/nicolastakashi/opsdash/internal/dashboard"
	"github.com/nicolastakashi/opsdash/internal/retention"
	"github.com/nicolastakashi/opsdash/internal/source"
	"github.com/nicolastakashi/opsdash/internal/source/provider"
	"github.com/nicolastakashi/opsdash/internal/source/sqlstore"
)

func RegisterFlags(fs *flag.FlagSet, configFile *string) {
	fs.StringVar(configFile, "config-file", "", "Path to the configuration file, it takes precedence over the command line flags.")
	fs.StringVar(&config.DefaultConfig.Server.InsecureListenAddress, "insecure-listen-address", config.DefaultConfig.Server.InsecureListenAddress, "The address the dashboard HTTP server should listen on.")

	config.RegisterDashboardFlags(fs)
	config.RegisterHistoryFlags(fs)
	config.RegisterLiveFlags(fs)
	config.RegisterMemoryLimitFlags(fs)
	config.RegisterRetentionFlags(fs)
}

func Run() error {
	cfg := config.DefaultConfig

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	var g run.Group
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	querier, closer, err := provider.NewQuerier(ctx, cfg.History)
	if err != nil {
		slog.Error("unable to create history source", "err", err)
		return fmt.Errorf("create history source: %w", err)
	}
	defer func() {
		if err := closer.Close(); err != nil {
			slog.Error("error closing history source", "err", err)
		}
	}()

	subscriber, receiver, err := provider.NewSubscriber(cfg.Live, source.NewMetrics(reg))
	if err != nil {
		slog.Error("unable to create live source", "err", err)
		return fmt.Errorf("create live source: %w", err)
	}

	opts := []dashboard.SessionOption{
		dashboard.WithWindow(cfg.Dashboard.Window),
		dashboard.WithRetryInterval(cfg.Dashboard.RetryInterval),
		dashboard.WithRegisterer(reg),
	}
	if cfg.Dashboard.UpdateBuffer > 0 {
		opts = append(opts, dashboard.WithUpdateBuffer(cfg.Dashboard.UpdateBuffer))
	}
	session := dashboard.NewSession(querier, subscriber, opts...)
	view := dashboard.NewView(session, cfg.Dashboard.Selection)

	{
		ctx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			return session.Run(ctx)
		}, func(error) {
			cancel()
		})
	}

	{
		ctx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			return view.Run(ctx)
		}, func(error) {
			cancel()
		})
	}

	if cfg.Retention.Enabled {
		store, err := sqlstore.Open(ctx, cfg.History.SQL)
		if err != nil {
			slog.Error("unable to open store for retention", "err", err)
			return fmt.Errorf("open retention store: %w", err)
		}
		defer func() {
			if err := store.Close(); err != nil {
				slog.Error("error closing retention store", "err", err)
			}
		}()

		worker, err := retention.NewWorker(store, cfg.Retention, reg)
		if err != nil {
			slog.Error("unable to create retention worker", "err", err)
			return fmt.Errorf("create retention worker: %w", err)
		}

		ctx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			if store.Dialect() != sqlstore.PostgreSQL {
				worker.Run(ctx)
				return nil
			}
			var err error
			store.WithDB(func(db *sql.DB) {
				err = retention.WithPGAdvisoryLeadership(ctx, db, retention.LockKey, 2*time.Second, worker.Run)
			})
			if err != nil {
				slog.Error("retention leadership lost", "err", err)
			}
			// Retention stays off after a lock error; serving goes on.
			<-ctx.Done()
			return nil
		}, func(error) {
			cancel()
		})
	}

	{
		routeOpts := []routes.Option{
			routes.WithSession(session),
			routes.WithView(view),
			routes.WithHandlers(reg, cfg.IsTracingEnabled()),
		}
		if receiver != nil {
			routeOpts = append(routeOpts, routes.WithReadiness(receiver.IsReady))
		}
		routesHandler, err := routes.NewRoutes(routeOpts...)
		if err != nil {
			slog.Error("unable to create routes", "err", err)
			return fmt.Errorf("create routes: %w", err)
		}

		mux := http.NewServeMux()
		mux.Handle("/", routesHandler)

		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("X-XSS-Protection", "1; mode=block")
			mux.ServeHTTP(w, r)
		})

		corsHandler := cors.New(cors.Options{
			AllowedOrigins:   cfg.CORS.AllowedOrigins,
			AllowedMethods:   cfg.CORS.AllowedMethods,
			AllowedHeaders:   cfg.CORS.AllowedHeaders,
			AllowCredentials: cfg.CORS.AllowCredentials,
			MaxAge:           cfg.CORS.MaxAge,
		}).Handler(handler)

		l, err := net.Listen("tcp", cfg.Server.InsecureListenAddress)
		if err != nil {
			slog.Error("failed to listen on address", "err", err)
			return fmt.Errorf("listen: %w", err)
		}

		// No write timeout: /api/v1/stream holds its response open.
		srv := &http.Server{
			Handler:           corsHandler,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       60 * time.Second,
			BaseContext:       func(net.Listener) context.Context { return ctx },
		}

		g.Add(func() error {
			slog.Info("listening insecurely", "addr", l.Addr())
			if err := srv.Serve(l); err != nil && err != http.ErrServerClosed {
				slog.Error("server stopped", "err", err)
				return err
			}
			return nil
		}, func(error) {
			slog.Info("stopping HTTP Server")
			c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(c); err != nil {
				slog.Error("error shutting down server", "err", err)
			}
		})
	}

	g.Add(run.SignalHandler(ctx, syscall.SIGINT, syscall.SIGTERM))

	if err := g.Run(); err != nil {
		if !errors.As(err, &run.SignalError{}) {
			return err
		}
	}
	return nil
}
