// Command entitlementd serves the SwiftSale entitlement API: account
// registration, tier transitions, entitlement tokens, and the pending
// downgrade reconciliation sweep.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/swiftsaleapp/entitlement/modules/api"
	"github.com/swiftsaleapp/entitlement/pkg/config"
	"github.com/swiftsaleapp/entitlement/pkg/entitlement"
	"github.com/swiftsaleapp/entitlement/pkg/httpserver"
	"github.com/swiftsaleapp/entitlement/pkg/logger"
	"github.com/swiftsaleapp/entitlement/pkg/pg"
	"github.com/swiftsaleapp/entitlement/pkg/redis"
)

type appConfig struct {
	// Store selects the account store backend: memory, postgres, or redis.
	Store string `env:"STORE" envDefault:"memory"`

	SigningKey string        `env:"TOKEN_SIGNING_KEY,required"`
	TokenTTL   time.Duration `env:"TOKEN_TTL" envDefault:"15m"`

	BillingPeriod     time.Duration `env:"BILLING_PERIOD" envDefault:"720h"`
	ReconcileInterval time.Duration `env:"RECONCILE_INTERVAL" envDefault:"1m"`

	// PaymentProvider selects paddle or static. The static provider backs
	// development setups without a billing account.
	PaymentProvider   string `env:"PAYMENT_PROVIDER" envDefault:"paddle"`
	StaticPaymentCode string `env:"STATIC_PAYMENT_CODE"`

	// TiersFile points at a YAML tier catalog; empty uses the built-in one.
	TiersFile string `env:"TIERS_FILE"`
}

func main() {
	var (
		cfg     appConfig
		logCfg  logger.Config
		httpCfg httpserver.Config
	)
	config.MustLoad(&cfg)
	config.MustLoad(&logCfg)
	config.MustLoad(&httpCfg)

	log := logger.NewFromConfig(logCfg, logger.WithService("entitlementd"))

	if err := run(cfg, httpCfg, log); err != nil {
		log.Error("service stopped", logger.Error(err))
		os.Exit(1)
	}
}

func run(cfg appConfig, httpCfg httpserver.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	catalog, err := loadCatalog(ctx, cfg)
	if err != nil {
		return err
	}

	store, healthchecks, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}

	provider, err := newPaymentProvider(cfg)
	if err != nil {
		return err
	}

	issuer, err := entitlement.NewTokenIssuer(
		[]byte(cfg.SigningKey),
		entitlement.WithTokenTTL(cfg.TokenTTL),
	)
	if err != nil {
		return err
	}

	svc := entitlement.NewService(catalog, store, provider, issuer,
		entitlement.WithBillingPeriod(cfg.BillingPeriod),
	)

	router := api.Router(svc, log,
		api.WithHealthHandler(httpserver.HealthCheckHandler(ctx, log, healthchecks...)),
	)

	reconciler := entitlement.NewReconciler(svc, cfg.ReconcileInterval, log)
	server := httpserver.New(httpCfg, httpserver.WithLogger(log))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return reconciler.Run(ctx) })
	g.Go(func() error {
		defer stop() // server exit also stops the reconciler
		return server.Run(ctx, router)
	})

	return g.Wait()
}

func loadCatalog(ctx context.Context, cfg appConfig) (*entitlement.Catalog, error) {
	if cfg.TiersFile == "" {
		return entitlement.DefaultCatalog(), nil
	}
	return entitlement.LoadCatalog(ctx, entitlement.NewFileSource(cfg.TiersFile))
}

func openStore(ctx context.Context, cfg appConfig, log *slog.Logger) (entitlement.Store, []func(context.Context) error, error) {
	switch cfg.Store {
	case "memory", "":
		log.Warn("using in-memory store, state is lost on restart")
		return entitlement.NewMemoryStore(), nil, nil

	case "postgres":
		var pgCfg pg.Config
		if err := config.Load(&pgCfg); err != nil {
			return nil, nil, err
		}
		pool, err := pg.Connect(ctx, pgCfg)
		if err != nil {
			return nil, nil, err
		}
		if err := pg.Migrate(ctx, pool, pgCfg, log); err != nil {
			return nil, nil, err
		}
		return entitlement.NewPostgresStore(pool), []func(context.Context) error{pg.Healthcheck(pool)}, nil

	case "redis":
		var redisCfg redis.Config
		if err := config.Load(&redisCfg); err != nil {
			return nil, nil, err
		}
		client, err := redis.Connect(ctx, redisCfg)
		if err != nil {
			return nil, nil, err
		}
		return entitlement.NewRedisStore(client), []func(context.Context) error{redis.Healthcheck(client)}, nil

	default:
		return nil, nil, errors.New("unknown STORE value: " + cfg.Store)
	}
}

func newPaymentProvider(cfg appConfig) (entitlement.PaymentProvider, error) {
	switch cfg.PaymentProvider {
	case "static":
		return entitlement.NewStaticProvider(cfg.StaticPaymentCode), nil

	case "paddle", "":
		var paddleCfg entitlement.PaddleConfig
		if err := config.Load(&paddleCfg); err != nil {
			return nil, err
		}
		return entitlement.NewPaddleProvider(paddleCfg)

	default:
		return nil, errors.New("unknown PAYMENT_PROVIDER value: " + cfg.PaymentProvider)
	}
}
