// main wires the engine: stores (memory or Postgres), the optional Redis
// profile cache, the Kafka event fan-out, and the HTTP surface. Business
// logic lives in the internal services.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/jackc/pgx/v5/stdlib"
	"golang.org/x/sync/errgroup"

	"grantflow/internal/events"
	"grantflow/internal/ledger"
	ledgermetrics "grantflow/internal/ledger/metrics"
	ledgerstore "grantflow/internal/ledger/store"
	"grantflow/internal/orchestrator"
	"grantflow/internal/platform/config"
	"grantflow/internal/platform/httpserver"
	"grantflow/internal/platform/logger"
	platformmetrics "grantflow/internal/platform/metrics"
	"grantflow/internal/platform/middleware"
	platformredis "grantflow/internal/platform/redis"
	"grantflow/internal/registry"
	registrymetrics "grantflow/internal/registry/metrics"
	registrystore "grantflow/internal/registry/store"
	"grantflow/internal/strategy"
	"grantflow/internal/strategy/directgrants"
	dgstore "grantflow/internal/strategy/directgrants/store"
	strategymetrics "grantflow/internal/strategy/metrics"
	"grantflow/internal/token"
	httptransport "grantflow/internal/transport/http"
	"grantflow/pkg/domain"
)

// Development fallbacks for the custody accounts. Production deployments set
// LEDGER_TREASURY and LEDGER_ESCROW.
const (
	devTreasury = domain.Address("0x00000000000000000000000000000000000fee01")
	devEscrow   = domain.Address("0x00000000000000000000000000000000000e5c01")
)

func main() {
	cfg := config.FromEnv()
	log := logger.New()

	if err := run(cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Server, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	regMetrics := registrymetrics.New()
	eventStore, profileStore, poolStore, instanceStore, err := buildStores(ctx, cfg, regMetrics, log)
	if err != nil {
		return err
	}

	publisher := events.NewPublisher(eventStore, log)

	fees := ledger.FeeConfig{
		PercentFeeBps: cfg.PercentFeeBps,
		BaseFee:       cfg.BaseFee,
		Treasury:      custodyAddress(cfg.Treasury, devTreasury, "treasury", log),
		Escrow:        custodyAddress(cfg.Escrow, devEscrow, "escrow", log),
	}

	// The in-memory bank stands in for the settlement layer; a production
	// deployment plugs a real token adapter behind the same interface.
	bank := token.NewMemoryBank()

	reg := registry.NewService(profileStore, publisher, regMetrics, log)
	led := ledger.NewService(poolStore, reg, bank, fees, publisher, ledgermetrics.New(), log)
	grants := directgrants.NewService(instanceStore, led, reg, publisher, strategymetrics.New(), log)
	orch := orchestrator.New(reg, led, strategy.NewCatalog(grants), orchestrator.WithLogger(log))

	httpMetrics := platformmetrics.New()
	validator := middleware.NewValidator(cfg.JWTSigningKey)
	handler := httptransport.New(orch, log, httpMetrics, validator)
	srv := httpserver.New(cfg.Addr, handler.Router())

	g, ctx := errgroup.WithContext(ctx)

	if len(cfg.Kafka.Brokers) > 0 {
		sink, err := events.NewKafkaSink(ctx, cfg.Kafka)
		if err != nil {
			return err
		}
		defer sink.Close()
		worker := events.NewWorker(publisher.Inbox(), sink, log)
		g.Go(func() error {
			if err := worker.Run(ctx); !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		log.Info("starting grantflow", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// buildStores selects durable Postgres stores when POSTGRES_URL is set and
// falls back to in-memory stores for development. The Redis profile cache is
// layered in front of the Postgres profile store when configured.
func buildStores(ctx context.Context, cfg config.Server, regMetrics *registrymetrics.Metrics, log *slog.Logger) (events.Store, registry.ProfileStore, ledger.PoolStore, directgrants.InstanceStore, error) {
	if cfg.PostgresURL == "" {
		log.Info("no POSTGRES_URL configured, using in-memory stores")
		return events.NewInMemoryStore(), registrystore.NewInMemory(), ledgerstore.NewInMemory(), dgstore.NewInMemory(), nil
	}

	db, err := sql.Open("pgx", cfg.PostgresURL)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, nil, nil, nil, err
	}

	eventStore := events.NewPostgres(db)
	profilePG := registrystore.NewPostgres(db)
	poolStore := ledgerstore.NewPostgres(db)
	instanceStore := dgstore.NewPostgres(db)
	for _, m := range []interface {
		Migrate(context.Context) error
	}{eventStore, profilePG, poolStore, instanceStore} {
		if err := m.Migrate(ctx); err != nil {
			return nil, nil, nil, nil, err
		}
	}

	var profileStore registry.ProfileStore = profilePG
	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	if redisClient != nil {
		profileStore = registrystore.NewCached(profilePG, redisClient.Client, cfg.Redis.TTL, regMetrics)
		log.Info("profile read cache enabled")
	}

	return eventStore, profileStore, poolStore, instanceStore, nil
}

func custodyAddress(raw string, fallback domain.Address, role string, log *slog.Logger) domain.Address {
	if raw == "" {
		log.Warn("custody account not configured, using development default", "role", role)
		return fallback
	}
	addr, err := domain.ParseAddress(raw)
	if err != nil {
		log.Warn("custody account invalid, using development default", "role", role, "error", err)
		return fallback
	}
	return addr
}
