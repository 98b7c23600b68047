package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"github.com/tanpawarit/agent-orchestrator/agent/agents/analyzer"
	orchestratorx "github.com/tanpawarit/agent-orchestrator/agent/agents/orchestrator"
	apix "github.com/tanpawarit/agent-orchestrator/agent/api"
	llmx "github.com/tanpawarit/agent-orchestrator/agent/llm"
	statex "github.com/tanpawarit/agent-orchestrator/agent/state"
	webhookx "github.com/tanpawarit/agent-orchestrator/agent/webhook"
	configx "github.com/tanpawarit/agent-orchestrator/pkg/config"
	_ "github.com/tanpawarit/agent-orchestrator/pkg/logger/autoload"
	metricsx "github.com/tanpawarit/agent-orchestrator/pkg/metrics"
	workerpoolx "github.com/tanpawarit/agent-orchestrator/pkg/workerpool"
)

type AppConfig struct {
	HTTPAddr        string        `envconfig:"HTTP_ADDR" default:":8000"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
	StoreDriver     string        `envconfig:"STORE_DRIVER" default:"memory"`
	CallbackSecret  string        `envconfig:"CALLBACK_TEST_SECRET"`
}

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("agent orchestrator stopped")
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	appCfg := configx.MustNew[AppConfig]("")
	llmCfg := configx.MustNew[llmx.Config]("LLM")
	orchCfg := configx.MustNew[orchestratorx.Config]("ORCHESTRATOR")
	webhookCfg := configx.MustNew[webhookx.Config]("WEBHOOK")
	inboundCfg := configx.MustNew[webhookx.InboundConfig]("INBOUND")
	processingPoolCfg := configx.MustNew[workerpoolx.Config]("PROCESSING")
	webhookPoolCfg := configx.MustNew[workerpoolx.Config]("WEBHOOK")

	store, closeStore, err := openStore(ctx, appCfg.StoreDriver)
	if err != nil {
		return err
	}
	defer closeStore()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := metricsx.New(registry)
	if err != nil {
		return err
	}

	processingPool, err := workerpoolx.New("processing", *processingPoolCfg)
	if err != nil {
		return err
	}
	webhookPool, err := workerpoolx.New("webhook", *webhookPoolCfg)
	if err != nil {
		return err
	}

	dispatcher, err := webhookx.New(store, *webhookCfg,
		webhookx.WithPool(webhookPool),
		webhookx.WithMetrics(metrics),
	)
	if err != nil {
		return err
	}

	agents, err := analyzer.NewAgents(ctx, *llmCfg)
	if err != nil {
		return fmt.Errorf("build agents: %w", err)
	}

	orchestrator, err := orchestratorx.New(store, agents, dispatcher, processingPool, *orchCfg,
		orchestratorx.WithMetrics(metrics),
	)
	if err != nil {
		return err
	}

	apiServer, err := apix.New(orchestrator, store, apix.Config{
		ProviderConfigured: llmCfg.Validate() == nil,
		CallbackSecret:     appCfg.CallbackSecret,
	},
		apix.WithMetrics(metrics, registry),
		apix.WithInboundVerifier(webhookx.MustNewInboundVerifier(*inboundCfg)),
	)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:              appCfg.HTTPAddr,
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", appCfg.HTTPAddr).
			Str("store", appCfg.StoreDriver).
			Str("provider", string(llmCfg.Provider)).
			Msg("agent orchestrator listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown requested")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), appCfg.ShutdownTimeout)
	defer cancel()

	// processing drains before delivery so late results can still be enqueued
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown")
	}
	if err := processingPool.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("processing pool did not drain")
	}
	if err := webhookPool.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("webhook pool did not drain")
	}
	log.Info().Msg("agent orchestrator stopped")
	return nil
}

func openStore(ctx context.Context, driver string) (statex.Store, func(), error) {
	noop := func() {}
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "memory":
		return statex.NewMemoryStore(), noop, nil
	case statex.DriverSQLite, statex.DriverPostgres:
		sqlCfg := configx.MustNew[statex.SQLConfig]("DATABASE")
		sqlCfg.Driver = driver
		store, err := statex.OpenSQL(ctx, *sqlCfg)
		if err != nil {
			return nil, noop, fmt.Errorf("open %s store: %w", driver, err)
		}
		return store, func() {
			if err := store.Close(); err != nil {
				log.Error().Err(err).Msg("close store")
			}
		}, nil
	case "upstash":
		redisCfg := configx.MustNew[statex.UpstashRedisConfig]("UPSTASH_REDIS")
		store, err := statex.NewUpstashRedisStore(*redisCfg)
		if err != nil {
			return nil, noop, fmt.Errorf("open upstash store: %w", err)
		}
		return store, noop, nil
	default:
		return nil, noop, fmt.Errorf("unknown store driver %q", driver)
	}
}
