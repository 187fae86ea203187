// Package main provides the CLI entry point for Pegasus, a personal AI
// assistant runtime built around an event-driven cognitive task core.
//
// Pegasus wires an Event Bus, a Task FSM/Registry, an Agent (Thinker,
// Planner, Actor, Reflector), a Tool Executor, a Session Store, a Model
// Registry, and a Project Adapter into one process, driven by inbound
// messages from its channel adapters (terminal, Discord, Telegram, Slack).
//
// # Basic Usage
//
// Start the assistant:
//
//	pegasus serve --config pegasus.yaml
//
// # Environment Variables
//
//   - PEGASUS_CONFIG: Path to configuration file (default: pegasus.yaml)
//   - ANTHROPIC_API_KEY, OPENAI_API_KEY: LLM provider credentials
//   - DISCORD_BOT_TOKEN, TELEGRAM_BOT_TOKEN, SLACK_BOT_TOKEN, SLACK_APP_TOKEN
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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/syntrixbase/pegasus/internal/bus"
	"github.com/syntrixbase/pegasus/internal/channels"
	"github.com/syntrixbase/pegasus/internal/config"
	"github.com/syntrixbase/pegasus/internal/core"
	"github.com/syntrixbase/pegasus/internal/identity"
	"github.com/syntrixbase/pegasus/internal/mcp"
	"github.com/syntrixbase/pegasus/internal/mcptools"
	"github.com/syntrixbase/pegasus/internal/memoryindex"
	"github.com/syntrixbase/pegasus/internal/modelregistry"
	"github.com/syntrixbase/pegasus/internal/observability"
	"github.com/syntrixbase/pegasus/internal/projectadapter"
	"github.com/syntrixbase/pegasus/internal/providers/anthropic"
	"github.com/syntrixbase/pegasus/internal/providers/bedrock"
	"github.com/syntrixbase/pegasus/internal/providers/openai"
	"github.com/syntrixbase/pegasus/internal/sessionlog"
	"github.com/syntrixbase/pegasus/internal/taskfsm"
	"github.com/syntrixbase/pegasus/internal/tasks"
	"github.com/syntrixbase/pegasus/internal/tools"
	"github.com/syntrixbase/pegasus/internal/toolexec"
	"github.com/syntrixbase/pegasus/pkg/models"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "pegasus",
		Short:   "Pegasus - a personal AI assistant runtime",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	root.AddCommand(buildServeCmd(), buildWorkerCmd(), buildModelsCmd())
	return root
}

func buildServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the assistant: channel adapters, the cognitive core, and the metrics endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				configPath = os.Getenv("PEGASUS_CONFIG")
			}
			if configPath == "" {
				configPath = "pegasus.yaml"
			}
			return runServe(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}

// buildWorkerCmd exposes the project worker entry point the host spawns via
// projectadapter.ExecSpawner; a worker reads protocol frames on stdin and
// writes them on stdout, driving a private cognitive core whose sole
// LLMProvider is the LLMProxy RunWorker constructs (spec.md §4.8).
func buildWorkerCmd() *cobra.Command {
	var workspace string
	cmd := &cobra.Command{
		Use:    "worker",
		Short:  "Run as a project worker subprocess (invoked by the host, not interactively)",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return projectadapter.RunWorker(cmd.Context(), os.Stdin, os.Stdout, workerAgentFactory(workspace), slog.Default())
		},
	}
	cmd.Flags().StringVar(&workspace, "workspace", ".", "Project workspace directory")
	return cmd
}

// buildModelsCmd lists the foundation models available to the caller's AWS
// account, so an operator can fill in llm.providers.bedrock model IDs
// without hand-checking the AWS console.
func buildModelsCmd() *cobra.Command {
	var region string
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List foundation models available on AWS Bedrock",
		RunE: func(cmd *cobra.Command, args []string) error {
			found, err := bedrock.DiscoverModels(cmd.Context(), &bedrock.DiscoveryConfig{Region: region})
			if err != nil {
				return fmt.Errorf("discover models: %w", err)
			}
			for _, m := range found {
				fmt.Fprintf(cmd.OutOrStdout(), "%-40s %-12s context=%d maxTokens=%d\n", m.ID, m.Provider, m.ContextWindow, m.MaxTokens)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&region, "region", "", "AWS region to query (default: us-east-1)")
	return cmd
}

// workerAgentFactory builds the private Agent a project worker drives,
// resolving every tier to the host-proxied LLMProvider RunWorker hands it.
func workerAgentFactory(workspace string) projectadapter.AgentFactory {
	return func(proxy *projectadapter.LLMProxy, notifyHost func(ctx context.Context, source string, msg *models.Message)) projectadapter.WorkerAgent {
		workerBus := bus.New(bus.Config{})
		workerBus.Start()

		taskRegistry := taskfsm.NewRegistry(0)
		toolRegistry := toolexec.NewRegistry()
		toolRegistry.RegisterMany(tools.FileDefinitions(workspace, 0))
		toolRegistry.Register(tools.ExecDefinition(workspace, 0))
		toolExecutor := toolexec.NewExecutor(toolRegistry, workerBus, toolexec.Config{})

		modelReg := modelregistry.New(modelregistry.Config{
			Tiers: map[modelregistry.Tier]string{modelregistry.TierDefault: "proxy/default"},
		})
		modelReg.RegisterFactory("proxy", func(modelID string, cfg modelregistry.ProviderConfig) (modelregistry.LLMProvider, error) {
			return proxy, nil
		})

		persona, _ := identity.LoadFromWorkspace(workspace)

		return core.New(
			workerBus, taskRegistry, toolExecutor, toolRegistry, modelReg, nil,
			notifyHost, nil, core.Persona{Identity: persona.Render()},
			core.Config{}, slog.Default(),
		)
	}
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logLevel := slog.LevelInfo
	if cfg.LogLevel == "debug" {
		logLevel = slog.LevelDebug
	}
	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	eventBus := bus.New(bus.Config{Logger: logger})
	eventBus.Start()
	defer eventBus.Stop()

	taskRegistry := taskfsm.NewRegistry(cfg.Agent.MaxActiveTasks)

	toolRegistry := toolexec.NewRegistry()
	toolRegistry.RegisterMany(tools.FileDefinitions(cfg.DataDir, 0))
	toolRegistry.Register(tools.ExecDefinition(cfg.DataDir, cfg.Tools.Timeout))
	if cfg.Tools.SearchEndpoint != "" {
		toolRegistry.Register(tools.WebSearchDefinition(tools.NewHTTPSearchClient(cfg.Tools.SearchEndpoint, cfg.Tools.Timeout)))
	}
	toolExecutor := toolexec.NewExecutor(toolRegistry, eventBus, toolexec.Config{Timeout: cfg.Tools.Timeout})

	modelReg := modelregistry.New(modelregistry.Config{
		Tiers:     providerTiers(cfg.LLM),
		Providers: providerConfigs(cfg.LLM),
	})
	modelReg.RegisterFactory("anthropic", anthropic.New)
	modelReg.RegisterFactory("openai", openai.New)
	modelReg.RegisterFactory("bedrock", bedrock.New)

	sessions, err := sessionlog.New(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}

	persona, err := identity.LoadFromWorkspace(cfg.DataDir)
	if err != nil {
		logger.Warn("failed to load persona identity", "error", err)
	}

	memIndex := memoryindex.New(memoryindex.Config{Root: cfg.DataDir, Logger: logger})
	if err := memIndex.Watch(ctx); err != nil {
		logger.Warn("memory index watch failed, falling back to interval rescan", "error", err)
	}
	defer memIndex.Close()

	if cfg.MCP.Enabled {
		mcpManager := mcp.NewManager(&cfg.MCP, logger)
		if err := mcpManager.Start(ctx); err != nil {
			logger.Warn("mcp manager failed to start", "error", err)
		} else {
			defer mcpManager.Stop()
			bridge := mcptools.New(mcpManager, toolRegistry, logger)
			bridge.Sync()
		}
	}

	channelRegistry := channels.NewRegistry()
	notify := func(ctx context.Context, source string, msg *models.Message) {
		msg.Channel = models.ChannelType(source)
		if _, err := channelRegistry.Deliver(ctx, msg); err != nil {
			logger.Error("failed to deliver outbound message", "source", source, "error", err)
		}
	}

	agent := core.New(
		eventBus, taskRegistry, toolExecutor, toolRegistry, modelReg, sessions,
		notify, memIndex, core.Persona{Identity: persona.Render()},
		core.Config{
			MaxConcurrentLLMCalls:  cfg.LLM.MaxConcurrentCalls,
			MaxConcurrentTools:     cfg.Agent.MaxConcurrentTools,
			MaxActiveTasks:         cfg.Agent.MaxActiveTasks,
			MaxCognitiveIterations: cfg.Agent.MaxCognitiveIterations,
			TaskTimeout:            cfg.Agent.TaskTimeout,
		},
		logger,
	)
	agent.Start(ctx)
	defer agent.Stop()

	registerChannels(channelRegistry, cfg.Channels, agent.Submit, logger)
	channelCtx, cancelChannels := context.WithCancel(ctx)
	defer cancelChannels()
	if err := channelRegistry.StartAll(channelCtx, agent.Submit); err != nil {
		logger.Error("failed to start channel adapters", "error", err)
	}
	defer channelRegistry.StopAll(context.Background())

	paManager := projectadapter.NewManager(projectadapter.Config{
		Spawn:  projectadapter.ExecSpawner(os.Args[0], "worker"),
		Models: modelReg,
		Notify: notify,
		Logger: logger,
	})
	defer paManager.Stop()
	toolRegistry.Register(tools.ProjectDefinition(paManager))

	var scheduler *tasks.Scheduler
	if cfg.Database.URL != "" {
		store, err := tasks.NewCockroachStoreFromDSN(cfg.Database.URL, &tasks.CockroachConfig{
			MaxOpenConns:    cfg.Database.MaxConnections,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		})
		if err != nil {
			logger.Warn("scheduler database unavailable, recurring tasks disabled", "error", err)
		} else {
			scheduler = tasks.NewScheduler(store, eventBus, tasks.SchedulerConfig{})
			if err := scheduler.Start(ctx); err != nil {
				logger.Warn("scheduler failed to start", "error", err)
				scheduler = nil
			} else {
				defer scheduler.Stop(context.Background())
			}
		}
	}

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	wireMetrics(ctx, eventBus, agent, metrics)
	startMetricsServer(logger)

	logger.Info("pegasus started", "dataDir", cfg.DataDir)

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()
	logger.Info("shutting down")
	return nil
}

// providerTiers converts the configured tier->"<provider>/<model>" strings
// into modelregistry.Tier-keyed form.
func providerTiers(llmCfg config.LLMConfig) map[modelregistry.Tier]string {
	tiers := make(map[modelregistry.Tier]string, len(llmCfg.Tiers))
	for k, v := range llmCfg.Tiers {
		tiers[modelregistry.Tier(k)] = v
	}
	if llmCfg.Default != "" {
		if _, ok := tiers[modelregistry.TierDefault]; !ok {
			tiers[modelregistry.TierDefault] = llmCfg.Default
		}
	}
	return tiers
}

func providerConfigs(llmCfg config.LLMConfig) map[string]modelregistry.ProviderConfig {
	out := make(map[string]modelregistry.ProviderConfig, len(llmCfg.Providers))
	for name, p := range llmCfg.Providers {
		out[name] = modelregistry.ProviderConfig{APIKey: p.APIKey, BaseURL: p.BaseURL}
	}
	return out
}

// registerChannels wires every adapter whose credentials are present in
// cfg; terminal is always registered so pegasus is usable without any
// platform token configured.
func registerChannels(registry *channels.Registry, cfg config.ChannelsConfig, submit channels.Submit, logger *slog.Logger) {
	registry.Register(channels.NewTerminal(os.Stdin, os.Stdout, "terminal"))

	if cfg.DiscordToken != "" {
		if d, err := channels.NewDiscord(cfg.DiscordToken); err != nil {
			logger.Error("failed to construct discord adapter", "error", err)
		} else {
			registry.Register(d)
		}
	}
	if cfg.TelegramBotToken != "" {
		// go-telegram/bot wires its default handler at construction time, so
		// Telegram needs submit bound here rather than in Start.
		if tg, err := channels.NewTelegram(cfg.TelegramBotToken, submit); err != nil {
			logger.Error("failed to construct telegram adapter", "error", err)
		} else {
			registry.Register(tg)
		}
	}
	if cfg.SlackBotToken != "" && cfg.SlackAppToken != "" {
		registry.Register(channels.NewSlack(cfg.SlackBotToken, cfg.SlackAppToken))
	}
}

// wireMetrics subscribes the task/tool outcome counters to bus events and
// starts a background poller for the gauges that have no natural event to
// hang off (semaphore occupancy, bus history depth), per spec.md §5's
// concurrency model.
func wireMetrics(ctx context.Context, eventBus *bus.Bus, agent *core.Agent, metrics *observability.Metrics) {
	eventBus.Subscribe(models.EventTaskCreated, func(_ context.Context, _ models.Event) error {
		metrics.ActiveTasks.Inc()
		return nil
	})
	eventBus.Subscribe(models.EventTaskCompleted, func(_ context.Context, _ models.Event) error {
		metrics.TasksCompleted.WithLabelValues("completed").Inc()
		metrics.ActiveTasks.Dec()
		return nil
	})
	eventBus.Subscribe(models.EventTaskFailed, func(_ context.Context, _ models.Event) error {
		metrics.TasksCompleted.WithLabelValues("failed").Inc()
		metrics.ActiveTasks.Dec()
		return nil
	})
	eventBus.Subscribe(models.EventToolCallDone, func(_ context.Context, event models.Event) error {
		payload, _ := event.Payload.(models.ToolCallCompletedPayload)
		metrics.ToolInvocations.WithLabelValues(payload.ToolName, "success").Inc()
		return nil
	})
	eventBus.Subscribe(models.EventToolCallFailed, func(_ context.Context, event models.Event) error {
		payload, _ := event.Payload.(models.ToolCallCompletedPayload)
		metrics.ToolInvocations.WithLabelValues(payload.ToolName, "failed").Inc()
		return nil
	})

	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				llmInUse, toolInUse := agent.Occupancy()
				metrics.LLMSemInUse.Set(float64(llmInUse))
				metrics.ToolSemInUse.Set(float64(toolInUse))
				metrics.BusQueueDepth.Set(float64(len(eventBus.History())))
			}
		}
	}()
}

func startMetricsServer(logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: ":9090", Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", "error", err)
		}
	}()
}
