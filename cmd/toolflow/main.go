package main

import (
	"context"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rahul/toolflow/internal/agent"
	"github.com/rahul/toolflow/internal/composio"
	"github.com/rahul/toolflow/internal/gateway"
	"github.com/rahul/toolflow/internal/governance"
	"github.com/rahul/toolflow/internal/history"
	"github.com/rahul/toolflow/internal/llm"
	"github.com/rahul/toolflow/internal/observability"
	"github.com/rahul/toolflow/internal/resolver"
	"github.com/rahul/toolflow/internal/store"
	"github.com/rahul/toolflow/internal/workflow"
	"github.com/rahul/toolflow/pkg/config"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

func main() {
	path := os.Getenv("TOOLFLOW_CONFIG")
	if path == "" {
		path = "config.yaml"
	}
	cfg := config.LoadConfig(path)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	db, err := store.Open(cfg.Memory.Type, cfg.Memory.Path, cfg.Memory.RedisURL)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	tgCfg, telegramOn := cfg.GetTelegramConfig()
	consoleOn := cfg.ConsoleEnabled() || !telegramOn

	// The console owns the terminal in raw mode, so logs go to a file.
	var logOut io.Writer = os.Stdout
	if consoleOn {
		f, err := observability.OpenLogFile(cfg.App.LogFile)
		if err != nil {
			log.Fatalf("open log file: %v", err)
		}
		defer f.Close()
		logOut = f
	}
	sink := observability.NewSyncWriter(logOut)
	log.SetOutput(sink)
	logger := observability.NewLoggerTo(sink, filepath.Join("logs", "llm.jsonl"))
	defer logger.Close()

	client := composio.NewClient(composio.Options{
		APIKey:            cfg.Composio.APIKey,
		BaseURL:           cfg.Composio.BaseURL,
		RequestsPerSecond: cfg.Composio.RequestsPerSecond,
		Burst:             cfg.Composio.Burst,
	})
	service := composio.NewService(client, cfg.Composio.UserID, cfg.Composio.MultiUserMode)

	policy, err := governance.NewPolicy(cfg.Composio.AllowedToolkits, cfg.Composio.DeniedToolkits, cfg.Composio.DeniedTools)
	if err != nil {
		log.Fatalf("invalid policy: %v", err)
	}

	// Initialize LLM (using default enabled provider)
	pName, pCfg := cfg.GetDefaultProvider()
	var chat llms.Model
	switch pName {
	case "openai", "openrouter":
		opts := []openai.Option{
			openai.WithToken(pCfg.APIKey),
			openai.WithModel(pCfg.Model),
		}
		if pCfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(pCfg.BaseURL))
		}
		chat, err = openai.New(opts...)
	default:
		log.Fatalf("Provider %s not yet implemented in main", pName)
	}
	if err != nil {
		log.Fatal(err)
	}
	model := llm.NewModel(chat, governance.Guard(client, policy, logger), logger)

	temps := cfg.Workflow.Temperatures
	executions := history.NewStoreWithLimit(cfg.Workflow.HistoryLimit)
	mappings := resolver.New()

	preparer := workflow.NewPreparer(service, executions, logger)
	preparer.CreatePlans = cfg.Workflow.CreatePlans
	if cfg.Workflow.IterativeDependencies {
		analyzer := workflow.NewLLMAnalyzer(model, temps.ToolExecution)
		preparer.WithFixpoint(workflow.NewFixpointResolver(analyzer, preparer.FetchUseCaseTools, cfg.Workflow.MaxDependencyRounds))
	}
	executor := workflow.NewExecutor(preparer, model, model, executions, logger, workflow.ExecutorConfig{
		ExecutionTemperature: temps.ToolExecution,
		NarrationTemperature: temps.ToolkitConnectionResponse,
	})
	orchestrator := workflow.NewOrchestrator(service, workflow.NewExtractor(model, temps.ToolkitExtraction), executor, logger)

	actions := &agent.Actions{
		Service:  service,
		Workflow: orchestrator,
		Gen:      model,
		Resolver: mappings,
		History:  executions,
		Policy:   policy,
		Temps: agent.Temperatures{
			ConnectionExtraction: temps.ToolkitConnectionExtraction,
			ConnectionResponse:   temps.ToolkitConnectionResponse,
			RemovalResponse:      temps.ToolkitRemovalResponse,
		},
		RecentExecutions: 3,
	}
	router := agent.NewRouter(chat, actions, db, agent.NewPromptManager(cfg.App.PromptsDir), cfg.Workflow.RecentExchanges)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	maintenance := agent.NewScheduler(db, executions, mappings, logger, cfg.Workflow.SnapshotInterval, cfg.Workflow.MappingMaxAge)
	maintenance.Restore(ctx)
	go maintenance.Start(ctx)

	var gateways []gateway.Messenger
	if telegramOn {
		tg, err := gateway.NewTelegramGateway(tgCfg.Token, router)
		if err != nil {
			log.Fatal(err)
		}
		gateways = append(gateways, tg)
	}
	if consoleOn {
		gateways = append(gateways, gateway.NewConsoleGateway(router))
	}

	for _, g := range gateways {
		go func(g gateway.Messenger) {
			if err := g.Start(ctx); err != nil {
				log.Printf("[ FAIL ] gateway error: %v", err)
			}
			stop() // stop caller if gateway dies
		}(g)
	}

	// Wait for shutdown signal
	<-ctx.Done()
	for _, g := range gateways {
		_ = g.Stop()
	}

	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := maintenance.Flush(flushCtx); err != nil {
		log.Printf("Error flushing snapshots: %v", err)
	}
	log.Println("[ EXIT ] toolflow stopped.")
}
