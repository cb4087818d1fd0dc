package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/support-automation/internal/api/http"
	"github.com/spec-kit/support-automation/internal/api/http/handlers"
	"github.com/spec-kit/support-automation/internal/auth"
	"github.com/spec-kit/support-automation/internal/config"
	"github.com/spec-kit/support-automation/internal/events"
	"github.com/spec-kit/support-automation/internal/observability"
	"github.com/spec-kit/support-automation/internal/persistence"
	"github.com/spec-kit/support-automation/internal/service"
	"github.com/spec-kit/support-automation/internal/triage"
	"github.com/spec-kit/support-automation/internal/worker"
)

type options struct {
	envFile       string
	migrateOnly   bool
	customerToken string
	agentName     string
	agentEmail    string
	agentPassword string
	rebuildUsage  string
}

func parseFlags() options {
	var opts options
	pflag.StringVar(&opts.envFile, "env-file", ".env", "optional env file loaded before reading the environment")
	pflag.BoolVar(&opts.migrateOnly, "migrate-only", false, "apply database migrations and exit")
	pflag.StringVar(&opts.customerToken, "issue-customer-token", "", "print a bearer token for the given customer id and exit")
	pflag.StringVar(&opts.agentName, "create-agent-name", "", "display name for --create-agent-email")
	pflag.StringVar(&opts.agentEmail, "create-agent-email", "", "register a support agent with this email and exit")
	pflag.StringVar(&opts.agentPassword, "create-agent-password", "", "password for --create-agent-email")
	pflag.StringVar(&opts.rebuildUsage, "rebuild-usage", "", "drop the cached usage counters for the given customer id and exit")
	pflag.Parse()
	return opts
}

func main() {
	opts := parseFlags()

	cfg, err := config.Load(opts.envFile)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var pg *persistence.Postgres
	if cfg.Postgres.DSN != "" {
		pg, err = persistence.NewPostgres(ctx, cfg.Postgres, logger)
		if err != nil {
			logger.Fatal("failed to connect postgres", zap.Error(err))
		}
		defer pg.Close()

		if cfg.Postgres.RunMigrations || opts.migrateOnly {
			if err := persistence.RunMigrations(ctx, pg.PoolHandle(), logger); err != nil {
				logger.Fatal("failed to run migrations", zap.Error(err))
			}
		}
	} else {
		logger.Warn("POSTGRES_DSN not set, using in-memory stores")
	}
	if opts.migrateOnly {
		logger.Info("migrations applied")
		return
	}

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()

	st := openStores(pg, redis, cfg.Usage)

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)
	agentService := service.NewAgentService(cfg.Auth, st.agents, tokens, logger)

	ledger, err := service.NewUsageLedger(service.UsageDependencies{
		Records: st.usage,
		Counter: st.counter,
		Config:  cfg.Usage,
		Logger:  logger,
	})
	if err != nil {
		logger.Fatal("failed to init usage ledger", zap.Error(err))
	}

	if opts.customerToken != "" || opts.agentEmail != "" || opts.rebuildUsage != "" {
		if err := runAdminCommand(ctx, opts, agentService, ledger, pg == nil); err != nil {
			logger.Fatal("admin command failed", zap.Error(err))
		}
		return
	}

	dispatcher := events.NewAsyncDispatcher(logger)
	metrics := observability.NewMetrics()

	keyService := service.NewKeyService(service.KeyDependencies{
		Store:      st.keys,
		Ledger:     ledger,
		Dispatcher: dispatcher,
		Config:     cfg.Keys,
		Logger:     logger,
	})
	billingService := service.NewBillingService(st.invoices)

	engine := triage.New(triage.Sources{
		Usage:    ledger,
		Keys:     keyService,
		Invoices: billingService,
	}, triage.Options{GraceWindow: keyService.GraceWindow()})

	ticketService := service.NewTicketService(service.TicketDependencies{
		TicketRepo:   st.tickets,
		ResponseRepo: st.responses,
		HistoryRepo:  st.history,
		Triage:       engine,
		Dispatcher:   dispatcher,
		Logger:       logger,
	})
	recordTriage := func(_ context.Context, e events.Event) error {
		if p, ok := e.Payload.(events.TicketStateChangedPayload); ok && p.Category != nil {
			metrics.RecordTriage(string(*p.Category))
		}
		return nil
	}
	dispatcher.Subscribe(events.EventTicketAutoAnswered, recordTriage)
	dispatcher.Subscribe(events.EventTicketEscalated, recordTriage)

	sender, notifyWorker, closeSender := buildNotifier(cfg, logger)
	defer closeSender()
	worker.StartNotificationHandlers(service.NewNotificationService(dispatcher, sender, logger))
	if notifyWorker != nil {
		if err := notifyWorker.Start(); err != nil {
			logger.Fatal("failed to start notification worker", zap.Error(err))
		}
	}

	sweeper := worker.NewKeySweeper(keyService, cfg.Keys.SweepInterval, logger)
	go sweeper.Run(ctx)

	app := fiber.New(fiber.Config{AppName: cfg.App.Name})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	checks := []handlers.HealthCheck{{Name: "postgres"}, {Name: "redis"}}
	if pg != nil {
		checks[0].Pinger = pg
	}
	if redis.Available() {
		checks[1].Pinger = redis
	}

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, checks...),
		Keys:           handlers.NewKeysHandler(keyService),
		Usage:          handlers.NewUsageHandler(ledger, billingService),
		Tickets:        handlers.NewTicketsHandler(ticketService),
		AgentTickets:   handlers.NewAgentTicketsHandler(ticketService),
		AgentAuth:      handlers.NewAgentAuthHandler(agentService),
		AuthMiddleware: auth.NewAuthMiddleware(tokens, st.agents),
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	cancel()
	dispatcher.Wait()
	if notifyWorker != nil {
		notifyWorker.Shutdown()
	}
}

// buildNotifier selects the escalation sender for NOTIFY_MODE. In queue mode
// the API process also runs the worker that drains the queue.
func buildNotifier(cfg *config.Config, logger *zap.Logger) (service.Sender, *worker.NotificationWorker, func()) {
	nc := cfg.Notification
	switch nc.Mode {
	case config.NotifyModeWebhook:
		return service.NewWebhookSender(nc.WebhookURL, nc.WebhookTimeout), nil, func() {}
	case config.NotifyModeQueue:
		opt := asynq.RedisClientOpt{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB}
		client := asynq.NewClient(opt)
		w := worker.NewNotificationWorker(opt, nc.Queue, nc.Concurrency,
			service.NewWebhookSender(nc.WebhookURL, nc.WebhookTimeout), logger)
		closeFn := func() {
			if err := client.Close(); err != nil {
				logger.Warn("asynq client close", zap.Error(err))
			}
		}
		return service.NewQueueSender(client, nc.Queue), w, closeFn
	default:
		return service.NewLogSender(logger), nil, func() {}
	}
}

func runAdminCommand(ctx context.Context, opts options, agents *service.AgentService, ledger *service.UsageLedger, inMemory bool) error {
	if opts.customerToken != "" {
		token, expiresAt, err := agents.IssueCustomerToken(opts.customerToken)
		if err != nil {
			return err
		}
		fmt.Printf("%s\n# expires %s\n", token, expiresAt.Format(time.RFC3339))
	}
	if opts.agentEmail != "" {
		if inMemory {
			return fmt.Errorf("--create-agent-email needs POSTGRES_DSN; in-memory agents do not outlive the process")
		}
		agent, err := agents.Register(ctx, opts.agentName, opts.agentEmail, opts.agentPassword)
		if err != nil {
			return err
		}
		fmt.Printf("agent %s created (%s)\n", agent.ID, agent.Email)
	}
	if opts.rebuildUsage != "" {
		if !ledger.Cached() {
			return fmt.Errorf("--rebuild-usage needs REDIS_ENABLED=true; without the counter cache usage is always read from the log")
		}
		if err := ledger.Rebuild(ctx, opts.rebuildUsage); err != nil {
			return err
		}
		fmt.Printf("usage counters dropped for %s\n", opts.rebuildUsage)
	}
	return nil
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
