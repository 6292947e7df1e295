// Command crmauth-demo serves the CRM auth engine over HTTP.
//
// Every browser tab opens its own engine with POST /api/tabs and passes the
// returned id in the X-CRM-Tab header (or ?tab= on page loads). Tabs created
// with the same crm_device cookie share one Redis-backed device store.
//
// By default it runs self-contained: miniredis for device storage and an
// in-process identity provider seeded with one admin account. Point it at a
// hosted GoTrue service and a Postgres profiles table with -gotrue-url and
// -database-url.
//
// Run:
//
//	go run ./cmd/crmauth-demo
//
// Then:
//
//	curl -s -c jar.txt -X POST localhost:8080/api/tabs
//	curl -s -b jar.txt -X POST localhost:8080/api/login -H 'X-CRM-Tab: <TAB>' \
//	  -d '{"email":"admin@adwood.test","password":"correct-horse"}'
//	curl -i 'localhost:8080/staff?tab=<TAB>'
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	adwoodcrm "github.com/Alijah8/adwood-crm"
	"github.com/Alijah8/adwood-crm/internal/rate"
	otelexport "github.com/Alijah8/adwood-crm/metrics/export/otel"
	promexport "github.com/Alijah8/adwood-crm/metrics/export/prometheus"
	"github.com/Alijah8/adwood-crm/permission"
	"github.com/Alijah8/adwood-crm/profile/pgstore"
	"github.com/Alijah8/adwood-crm/provider/gotrue"
	"github.com/Alijah8/adwood-crm/provider/memory"
	"github.com/Alijah8/adwood-crm/storage"
)

type options struct {
	addr         string
	redisAddr    string
	gotrueURL    string
	gotrueKey    string
	databaseURL  string
	migrate      bool
	routesFile   string
	seedEmail    string
	seedPassword string
	otel         bool
}

func main() {
	var opts options
	flag.StringVar(&opts.addr, "addr", ":8080", "listen address")
	flag.StringVar(&opts.redisAddr, "redis-addr", os.Getenv("REDIS_ADDR"), "redis address; miniredis when empty")
	flag.StringVar(&opts.gotrueURL, "gotrue-url", os.Getenv("GOTRUE_URL"), "hosted auth service URL; in-process provider when empty")
	flag.StringVar(&opts.gotrueKey, "gotrue-key", os.Getenv("GOTRUE_ANON_KEY"), "public API key of the auth service")
	flag.StringVar(&opts.databaseURL, "database-url", os.Getenv("DATABASE_URL"), "postgres URL of the profiles table")
	flag.BoolVar(&opts.migrate, "migrate", false, "apply profile migrations before serving")
	flag.StringVar(&opts.routesFile, "routes", "", "YAML route table; built-in table when empty")
	flag.StringVar(&opts.seedEmail, "seed-email", "admin@adwood.test", "admin account of the in-process provider")
	flag.StringVar(&opts.seedPassword, "seed-password", "correct-horse", "password of the seeded admin account")
	flag.BoolVar(&opts.otel, "otel", false, "expose OpenTelemetry readings at /debug/otel")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, logger); err != nil {
		logger.Error("exit", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, logger *slog.Logger) error {
	cfg, err := adwoodcrm.LoadConfigFromEnv()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	client, closeRedis, err := openRedis(opts.redisAddr, logger)
	if err != nil {
		return err
	}
	defer closeRedis()

	routes := permission.DefaultRouteTable()
	if opts.routesFile != "" {
		f, err := os.Open(opts.routesFile)
		if err != nil {
			return fmt.Errorf("routes: %w", err)
		}
		routes, err = permission.LoadRouteTableYAML(f)
		_ = f.Close()
		if err != nil {
			return fmt.Errorf("routes: %w", err)
		}
	}

	deps := serverDeps{
		Config:  cfg,
		Redis:   client,
		Limiter: rate.New(client, rate.DefaultConfig()),
		Routes:  routes,
		Logger:  logger,
	}
	if cfg.Audit.Enabled {
		deps.Audit = adwoodcrm.NewJSONWriterSink(os.Stderr)
	}

	if opts.databaseURL != "" {
		if opts.migrate {
			if err := pgstore.Migrate(opts.databaseURL); err != nil {
				return err
			}
		}
		pool, err := pgstore.Open(ctx, opts.databaseURL)
		if err != nil {
			return err
		}
		defer pool.Close()
		deps.Profiles = pgstore.New(pool)
	}

	if opts.gotrueURL != "" {
		if deps.Profiles == nil {
			return errors.New("a hosted auth service needs -database-url for profiles")
		}
		deps.Identity = func(store storage.Storage) (adwoodcrm.IdentityProvider, error) {
			client, err := gotrue.New(store, gotrue.Config{
				URL:      opts.gotrueURL,
				APIKey:   opts.gotrueKey,
				TokenKey: cfg.Storage.TokenKey,
				Logger:   logger,
			})
			if err != nil {
				return nil, err
			}
			return client, nil
		}
	} else {
		backend, err := seededBackend(opts.seedEmail, opts.seedPassword)
		if err != nil {
			return err
		}
		if deps.Profiles == nil {
			deps.Profiles = backend
		}
		deps.Identity = func(store storage.Storage) (adwoodcrm.IdentityProvider, error) {
			return backend.Client(store, cfg.Storage.TokenKey, logger), nil
		}
		logger.Info("in-process identity provider", "email", opts.seedEmail)
	}

	srv, err := newServer(deps)
	if err != nil {
		return err
	}
	defer srv.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	if _, err := promexport.Register(reg, tabTotals{srv}); err != nil {
		return err
	}
	ops := map[string]http.Handler{"/metrics": promexport.Handler(reg)}

	if opts.otel {
		reader := sdkmetric.NewManualReader()
		meterProvider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
		defer func() { _ = meterProvider.Shutdown(context.Background()) }()
		exporter, err := otelexport.NewExporter(meterProvider.Meter("crmauth-demo"), tabTotals{srv})
		if err != nil {
			return err
		}
		defer func() { _ = exporter.Close() }()
		ops["/debug/otel"] = otelDump(reader)
	}

	httpServer := &http.Server{
		Addr:              opts.addr,
		Handler:           srv.routes(ops),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", opts.addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func openRedis(addr string, logger *slog.Logger) (redis.UniversalClient, func(), error) {
	if addr != "" {
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		logger.Info("using redis", "addr", addr)
		return client, func() { _ = client.Close() }, nil
	}
	mr, err := miniredis.Run()
	if err != nil {
		return nil, nil, fmt.Errorf("miniredis: %w", err)
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	logger.Info("using miniredis", "addr", mr.Addr())
	return client, func() {
		_ = client.Close()
		mr.Close()
	}, nil
}

func seededBackend(email, password string) (*memory.Backend, error) {
	backend, err := memory.NewBackend(memory.DefaultConfig())
	if err != nil {
		return nil, err
	}
	if _, err := backend.AddUser(memory.UserSpec{
		Email:    email,
		Password: password,
		Name:     "Administrator",
		Role:     permission.RoleAdmin,
		Active:   true,
	}); err != nil {
		return nil, fmt.Errorf("seed: %w", err)
	}
	return backend, nil
}
