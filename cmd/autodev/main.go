// Package main is the entry point for the AutoDev engine.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/autodev-labs/autodev-engine/internal/broadcast"
	"github.com/autodev-labs/autodev-engine/internal/config"
	"github.com/autodev-labs/autodev-engine/internal/domain"
	"github.com/autodev-labs/autodev-engine/internal/guard"
	"github.com/autodev-labs/autodev-engine/internal/guardrails"
	"github.com/autodev-labs/autodev-engine/internal/hitl"
	"github.com/autodev-labs/autodev-engine/internal/ipc"
	"github.com/autodev-labs/autodev-engine/internal/llm"
	"github.com/autodev-labs/autodev-engine/internal/orchestrator"
	"github.com/autodev-labs/autodev-engine/internal/store"
	"github.com/autodev-labs/autodev-engine/internal/workflow"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to configuration JSON file")
	flag.Parse()

	if *showVersion {
		fmt.Printf("autodev %s (commit=%s, built=%s)\n", version, commit, date)
		os.Exit(0)
	}

	path, err := config.Resolve(*configPath)
	if err != nil {
		log.Fatalf("resolve config: %v", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer st.Close()

	// Every published event is archived so clients can replay missed
	// history over HTTP after a stream drops.
	bus := broadcast.New(func(event domain.StreamEvent) {
		if err := st.AppendEvent(context.Background(), event); err != nil {
			log.Printf("archive event for %s: %v", event.ExecutionID, err)
		}
	})

	ledger := workflow.NewBudgetLedger()
	g := guard.NewGuard(ledger, guard.GuardConfig{
		BudgetPolicy:       cfg.Budget.Policy,
		MaxReworkRounds:    cfg.MaxReworkRounds,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
	})
	rails := guardrails.NewEngine()

	checkpoints := hitl.NewManager(hitl.ManagerConfig{
		ReviewTimeout: time.Duration(cfg.ReviewTimeoutSec) * time.Second,
		OnUpdate: func(cp domain.Checkpoint) {
			if err := st.SaveCheckpoint(context.Background(), cp); err != nil {
				log.Printf("archive checkpoint %s: %v", cp.ID, err)
			}
		},
	})

	monitorCtx, stopMonitor := context.WithCancel(context.Background())
	defer stopMonitor()
	monitor := hitl.NewMonitor(checkpoints, hitl.MonitorConfig{})
	monitor.Start(monitorCtx)

	templates := llm.NewTemplateSource()
	if cfg.TemplateDir != "" {
		if err := templates.LoadDir(cfg.TemplateDir); err != nil {
			log.Fatalf("load templates from %s: %v", cfg.TemplateDir, err)
		}
	}

	var gen llm.Generator
	if !cfg.Provider.DemoMode {
		key := cfg.APIKey()
		if key == "" {
			log.Fatalf("provider API key env %s is not set", cfg.Provider.APIKeyEnv)
		}
		gen = llm.NewClient(llm.ClientConfig{
			BaseURL:      cfg.Provider.BaseURL,
			APIKey:       key,
			DefaultModel: cfg.Provider.DefaultModel,
			Timeout:      time.Duration(cfg.Provider.TimeoutSec) * time.Second,
		})
	}

	orch := orchestrator.New(gen, templates, ledger, g, rails, checkpoints, bus, st,
		orchestrator.Config{
			DemoMode:    cfg.Provider.DemoMode,
			Model:       cfg.Provider.DefaultModel,
			MaxAttempts: cfg.Provider.MaxRetries,
			Parallelism: cfg.Parallelism,
		})

	handler := &ipc.Handler{
		Orchestrator: orch,
		Checkpoints:  checkpoints,
		Bus:          bus,
		Store:        st,
	}
	srv := ipc.NewServer(handler, cfg.ListenAddr)

	// Graceful shutdown on interrupt.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		log.Println("shutting down...")

		monitor.Stop()
		stopMonitor()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("server shutdown: %v", err)
		}
	}()

	log.Printf("autodev engine %s listening on %s", version, cfg.ListenAddr)

	if err := srv.Start(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}
