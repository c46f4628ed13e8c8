package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fleetcron/core/internal/config"
	"github.com/fleetcron/core/pkg/alerts"
	"github.com/fleetcron/core/pkg/database/pool"
	"github.com/fleetcron/core/pkg/discovery"
	"github.com/fleetcron/core/pkg/jobs"
	"github.com/fleetcron/core/pkg/logger"
	"github.com/fleetcron/core/pkg/monitor"
	"github.com/fleetcron/core/pkg/sources"
	"github.com/fleetcron/core/pkg/store"
)

func main() {
	// Parse command line flags
	var (
		passName = flag.String("pass", "", "Run specific pass once (audit, health, test)")
		project  = flag.String("project", "", "Limit the pass to a single project")
		once     = flag.Bool("once", false, "Run pass once and exit")
	)
	flag.Parse()

	logger.SetupLogger()
	mainLog := logger.New("fleet-monitor")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx := context.Background()

	// Connect to the central monitoring store
	db, err := pool.New(ctx, cfg.DatabaseURL(), pool.DefaultConfig())
	if err != nil {
		log.Fatalf("Failed to connect to central store: %v", err)
	}
	defer db.Close()

	monitorStore := store.NewPostgresStore(db)
	if err := monitorStore.EnsureSchema(ctx); err != nil {
		log.Fatalf("Failed to prepare store schema: %v", err)
	}

	// Job source over the monitored projects
	source := sources.NewPgCronSource(cfg.Projects, time.Duration(cfg.Monitor.SourceTimeoutSeconds)*time.Second)
	defer source.Close()

	engine := discovery.New(source,
		time.Duration(cfg.Monitor.LookbackDays)*24*time.Hour,
		cfg.Monitor.DiscoverConcurrency)

	// Notification channels; either may be left unconfigured
	sendTimeout := time.Duration(cfg.Alerts.SendTimeoutSeconds) * time.Second

	var contextual alerts.Channel
	if cfg.Alerts.SlackWebhookURL != "" {
		contextual = alerts.NewSlackWebhook(cfg.Alerts.SlackWebhookURL, sendTimeout)
	} else {
		mainLog.Warn().Msg("SLACK_WEBHOOK_URL not set, contextual alerts disabled")
	}

	var urgent alerts.Channel
	if cfg.Alerts.TelegramToken != "" && cfg.Alerts.TelegramChatID != 0 {
		urgent, err = alerts.NewTelegramChannel(cfg.Alerts.TelegramToken, cfg.Alerts.TelegramChatID)
		if err != nil {
			log.Fatalf("Failed to create telegram channel: %v", err)
		}
	} else {
		mainLog.Warn().Msg("Telegram bot not configured, urgent alerts disabled")
	}

	dispatcher := alerts.NewDispatcher(urgent, contextual, sendTimeout)

	projectNames := make([]string, 0, len(cfg.Projects))
	for _, p := range cfg.Projects {
		projectNames = append(projectNames, p.Name)
	}

	orch := monitor.New(projectNames, engine, source, monitorStore, dispatcher, cfg.Monitor.BufferPercent)

	// Handle single pass execution
	if *once && *passName != "" {
		runCtx, cancel := context.WithTimeout(ctx, 10*time.Minute)
		defer cancel()

		switch *passName {
		case "audit":
			if *project != "" {
				result, err := orch.AuditProject(runCtx, *project)
				if err != nil {
					log.Fatalf("Failed to audit project: %v", err)
				}
				printJSON(result)
				return
			}
			results, err := orch.AuditAllProjects(runCtx)
			if err != nil {
				log.Fatalf("Failed to run audit pass: %v", err)
			}
			printJSON(results)
		case "health":
			var (
				summary *monitor.Summary
				err     error
			)
			if *project != "" {
				summary, err = orch.CheckProjectHealth(runCtx, *project)
			} else {
				summary, err = orch.CheckHealth(runCtx)
			}
			if err != nil && summary == nil {
				log.Fatalf("Failed to run health-check pass: %v", err)
			}
			if err != nil {
				mainLog.Warn().Err(err).Msg("Health-check pass completed with errors")
			}
			printJSON(summary)
		case "test":
			if err := orch.TestConnection(runCtx); err != nil {
				log.Fatalf("Connection test failed: %v", err)
			}
			log.Println("All connections OK")
		default:
			log.Fatalf("Unknown pass: %s. Available passes: audit, health, test", *passName)
		}
		return
	}

	// Recurring mode: schedule both passes and wait for shutdown
	lockManager := jobs.NewPassLockManager(db)
	jobManager := jobs.NewJobManager()

	auditJob := jobs.NewAuditJob(orch, lockManager, cfg.Monitor.AuditSchedule)
	if err := jobManager.RegisterJob(auditJob); err != nil {
		log.Fatalf("Failed to register audit job: %v", err)
	}

	healthJob := jobs.NewHealthCheckJob(orch, lockManager, cfg.Monitor.HealthSchedule)
	if err := jobManager.RegisterJob(healthJob); err != nil {
		log.Fatalf("Failed to register health-check job: %v", err)
	}

	jobManager.Start()
	mainLog.Info().
		Int("projects", len(cfg.Projects)).
		Str("audit_schedule", cfg.Monitor.AuditSchedule).
		Str("health_schedule", cfg.Monitor.HealthSchedule).
		Msg("Fleet monitor started")

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	mainLog.Info().Msg("Shutting down fleet monitor...")
	jobManager.Stop()
	mainLog.Info().Msg("Fleet monitor stopped")
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Fatalf("Failed to encode output: %v", err)
	}
}
