// Command sentinel runs the self-healing monitor kernel: the event bus,
// the agent fleet under its supervisor and the HTTP control surface.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/arbiterhq/sentinel/internal/adapter/host"
	sentinelhttp "github.com/arbiterhq/sentinel/internal/adapter/http"
	"github.com/arbiterhq/sentinel/internal/adapter/llm"
	sentinelnats "github.com/arbiterhq/sentinel/internal/adapter/nats"
	"github.com/arbiterhq/sentinel/internal/adapter/otel"
	"github.com/arbiterhq/sentinel/internal/adapter/postgres"
	"github.com/arbiterhq/sentinel/internal/adapter/remedy"
	"github.com/arbiterhq/sentinel/internal/adapter/ws"
	"github.com/arbiterhq/sentinel/internal/agent"
	"github.com/arbiterhq/sentinel/internal/bus"
	"github.com/arbiterhq/sentinel/internal/config"
	"github.com/arbiterhq/sentinel/internal/decision"
	domagent "github.com/arbiterhq/sentinel/internal/domain/agent"
	"github.com/arbiterhq/sentinel/internal/logger"
	"github.com/arbiterhq/sentinel/internal/orchestrator"
	"github.com/arbiterhq/sentinel/internal/port/action"
	decport "github.com/arbiterhq/sentinel/internal/port/decision"
	"github.com/arbiterhq/sentinel/internal/resilience"
	"github.com/arbiterhq/sentinel/internal/safety"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "hash-token" {
		if err := hashToken(os.Stdout); err != nil {
			fmt.Fprintln(os.Stderr, "hash-token:", err)
			os.Exit(1)
		}
		return
	}

	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, logCloser := logger.New(cfg.Logging)
	defer logCloser.Close()
	slog.SetDefault(log)

	log.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"providers", cfg.Decision.Providers,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b := bus.New(bus.Options{
		QueueSize:   cfg.Bus.QueueSize,
		HistorySize: cfg.Bus.HistorySize,
		Logger:      log,
	})

	// --- Optional infrastructure ---

	if cfg.Telemetry.Enabled {
		shutdown, err := otel.Setup(ctx, cfg.Logging.Service, cfg.Telemetry.Endpoint)
		if err != nil {
			return fmt.Errorf("telemetry: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				log.Warn("telemetry shutdown", "error", err)
			}
		}()

		metrics, err := otel.NewMetrics()
		if err != nil {
			return fmt.Errorf("telemetry metrics: %w", err)
		}
		detach := metrics.Attach(b)
		defer detach()
		log.Info("telemetry enabled", "endpoint", cfg.Telemetry.Endpoint)
	}

	if cfg.Postgres.Enabled {
		if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		pool, err := postgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		defer pool.Close()

		sink := postgres.NewEventSink(pool, log)
		sink.Attach(b)
		defer sink.Detach()
		log.Info("event persistence enabled")
	}

	if cfg.NATS.Enabled {
		bridge, err := sentinelnats.Connect(ctx, cfg.NATS.URL, cfg.NATS.SubjectPrefix, log)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		bridge.Attach(b)
		defer func() { _ = bridge.Close() }()
		log.Info("nats egress enabled", "url", cfg.NATS.URL)
	}

	// --- Decision stack ---

	breaker := resilience.NewBreaker(cfg.Decision.Breaker.MaxFailures, cfg.Decision.Breaker.Timeout)
	limiter := resilience.NewLimiter(cfg.Decision.RateLimit, cfg.Decision.RateWindow)
	llmClient := llm.NewClient(cfg.Decision.LLM, breaker, limiter)

	availability := decision.NewAvailability(cfg.Decision.TripAfter, b, log)
	go availability.RunProbe(ctx, llmClient, cfg.Decision.ProbeInterval)

	cache, err := decision.NewCache(cfg.Decision.CacheSizeMB<<20, cfg.Decision.CacheTTL)
	if err != nil {
		return fmt.Errorf("decision cache: %w", err)
	}
	defer cache.Close()

	chain, err := decision.NewChain(cfg.Decision.Providers, map[string]decport.Provider{
		"llm":   llmClient,
		"rules": decision.NewRulesProvider(cfg.Thresholds),
	}, decision.ChainOptions{
		Availability: availability,
		Cache:        cache,
		Bus:          b,
		Logger:       log,
	})
	if err != nil {
		return fmt.Errorf("decision chain: %w", err)
	}

	// --- Remediation ---

	registry := action.NewRegistry()
	for name, ex := range map[string]action.Executor{
		"restartService": remedy.NewServiceRestarter(log),
		"cleanupDisk":    remedy.NewDiskCleaner(nil, 0, log),
		"notifyOperator": remedy.NewOperatorNotifier(b, log),
	} {
		if err := registry.Register(name, ex); err != nil {
			return fmt.Errorf("action registry: %w", err)
		}
	}
	if err := registry.Verify(cfg.Safety.Actions); err != nil {
		return fmt.Errorf("action registry: %w", err)
	}
	controller := safety.New(cfg.Safety, registry, b, log)

	// --- Agent fleet ---
	// Agent instances persist across supervisor restarts so bus
	// subscriptions and bounded logs survive; only the runner is fresh.

	sensor := agent.NewSensor("sensor", b, host.New(cfg.Monitor, log), cfg.Thresholds, log)
	analyzer := agent.NewAnalyzer("analyzer", b, chain, log)
	remediator := agent.NewRemediator("remediator", b, controller, log)
	communicator := agent.NewCommunicator("communicator", b, log)

	supervisor := orchestrator.New(b, cfg.Supervisor, log)
	fleet := []struct {
		name     string
		role     domagent.Role
		loop     config.AgentLoop
		instance agent.Agent
	}{
		{"sensor", domagent.RoleSensor, cfg.Agents.Sensor, sensor},
		{"analyzer", domagent.RoleAnalyzer, cfg.Agents.Analyzer, analyzer},
		{"remediator", domagent.RoleRemediator, cfg.Agents.Remediator, remediator},
		{"communicator", domagent.RoleCommunicator, cfg.Agents.Communicator, communicator},
	}
	for _, f := range fleet {
		if !f.loop.Enabled {
			log.Info("agent disabled", "agent", f.name)
			continue
		}
		inst := f.instance
		if err := supervisor.Register(f.name, f.role, f.loop, func() agent.Agent { return inst }); err != nil {
			return fmt.Errorf("register %s: %w", f.name, err)
		}
	}

	// --- HTTP ---

	hub := ws.NewHub(log)
	hub.Attach(b)
	defer hub.Detach()

	handlers := sentinelhttp.NewHandlers(b, supervisor, communicator, controller, availability, log)
	router := sentinelhttp.NewRouter(handlers, hub, cfg.Server, log)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		log.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "error", err)
		}
	}()

	// The supervisor runs on its own context so a signal triggers the
	// coordinated shutdown path instead of a blunt cancellation.
	fleetErr := make(chan error, 1)
	go func() { fleetErr <- supervisor.Run(context.Background()) }()

	select {
	case <-ctx.Done():
		log.Info("signal received, shutting down")
	case err := <-fleetErr:
		if err != nil {
			return fmt.Errorf("fleet: %w", err)
		}
		log.Info("fleet exited")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Supervisor.ShutdownGrace+5*time.Second)
	defer cancel()

	if err := supervisor.Shutdown(shutdownCtx); err != nil {
		log.Warn("fleet shutdown", "error", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", "error", err)
	}
	if err := b.Close(shutdownCtx); err != nil {
		log.Warn("bus close", "error", err)
	}

	log.Info("sentinel stopped")
	return nil
}
