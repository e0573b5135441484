package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/scrypster/robi/internal/agent"
	"github.com/scrypster/robi/internal/config"
	"github.com/scrypster/robi/internal/conversation"
	"github.com/scrypster/robi/internal/engine"
	"github.com/scrypster/robi/internal/llm"
	"github.com/scrypster/robi/internal/memory"
	"github.com/scrypster/robi/internal/metrics"
	"github.com/scrypster/robi/internal/pipeline"
	"github.com/scrypster/robi/internal/server"
	"github.com/scrypster/robi/internal/session"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the interaction server",
		Long: `Run the interaction server.

The robot connects to the WebSocket endpoint (default /ws/interact),
authenticates with ROBI_API_KEY and streams turns. GET /api/health reports
liveness and /metrics exposes Prometheus metrics.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

// llmConfig selects the provider settings from the application config.
func llmConfig(cfg *config.Config) llm.Config {
	c := llm.Config{
		Provider:        cfg.LLM.LLMProvider,
		Timeout:         cfg.LLM.Timeout,
		Temperature:     cfg.LLM.Temperature,
		MaxOutputTokens: cfg.LLM.MaxOutputTokens,
		Breaker: llm.CircuitBreakerConfig{
			MaxFailures: uint32(max(cfg.LLM.BreakerFailures, 0)),
			Timeout:     cfg.LLM.BreakerTimeout,
		},
	}
	switch cfg.LLM.LLMProvider {
	case "openai":
		c.APIKey, c.Model, c.BaseURL = cfg.LLM.OpenAIAPIKey, cfg.LLM.OpenAIModel, cfg.LLM.OpenAIBaseURL
	case "ollama":
		c.Model, c.BaseURL = cfg.LLM.OllamaModel, cfg.LLM.OllamaURL
	default:
		c.APIKey, c.Model = cfg.LLM.GeminiAPIKey, cfg.LLM.GeminiModel
	}
	return c
}

func serve(ctx context.Context, cfg *config.Config) error {
	if cfg.Metrics.Enabled {
		metrics.Init(nil)
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	provider, err := llm.New(llmConfig(cfg))
	if err != nil {
		return fmt.Errorf("failed to create LLM provider: %w", err)
	}
	log.Printf("Using %s model %s", provider.Name(), provider.GetModel())

	pool, err := engine.NewTaskPool(engine.Config{
		NumWorkers:      cfg.Workers.NumWorkers,
		QueueSize:       cfg.Workers.QueueSize,
		ShutdownTimeout: cfg.Workers.ShutdownTimeout,
		TaskTimeout:     cfg.Workers.TaskTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to create task pool: %w", err)
	}
	pool.Start()

	mem := memory.NewService(store, store)
	compactor, err := engine.NewMemoryCompactor(mem, provider, engine.CompactorConfig{
		Threshold:  cfg.Memory.CompactionThreshold,
		Keep:       cfg.Memory.CompactionKeep,
		Importance: cfg.Memory.CompactedImportance,
	})
	if err != nil {
		return fmt.Errorf("failed to create memory compactor: %w", err)
	}

	convo, err := conversation.New(store, provider, pool, conversation.Config{
		Threshold: cfg.Conversation.CompactionThreshold,
		Keep:      cfg.Conversation.Keep,
	})
	if err != nil {
		return fmt.Errorf("failed to create conversation log: %w", err)
	}
	if err := convo.LoadAll(ctx); err != nil {
		return fmt.Errorf("failed to load conversation log: %w", err)
	}
	log.Printf("Loaded %d conversation turns", convo.Len())

	turns, err := pipeline.New(agent.New(provider), mem, convo, compactor, pool, memory.Caps{
		General: cfg.Memory.GeneralCap,
		Person:  cfg.Memory.PersonCap,
		Zone:    cfg.Memory.ZoneCap,
	})
	if err != nil {
		return fmt.Errorf("failed to create turn pipeline: %w", err)
	}

	interact, err := session.NewHandler(session.Config{
		APIKey:         cfg.Security.APIKey,
		AuthTimeout:    cfg.Security.AuthTimeout,
		OriginPatterns: cfg.Server.OriginPatterns,
	}, turns, mem, pool)
	if err != nil {
		return fmt.Errorf("failed to create session handler: %w", err)
	}

	if cfg.Backup.Interval > 0 && cfg.Storage.StorageEngine == "sqlite" {
		snapshots, err := newSnapshotter(cfg)
		if err != nil {
			return fmt.Errorf("failed to create snapshotter: %w", err)
		}
		go snapshots.Run(ctx, cfg.Backup.Interval)
	}

	addr, done, err := server.Start(ctx, cfg, interact)
	if err != nil {
		return err
	}
	log.Printf("Robi listening on ws://%s%s", addr, cfg.Server.WSPath)

	<-ctx.Done()
	log.Println("Shutting down gracefully...")
	<-done

	// Drain turn side effects after the last session is gone.
	stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Workers.ShutdownTimeout)
	defer cancel()
	if err := pool.Stop(stopCtx); err != nil {
		log.Printf("WARNING: task pool shutdown: %v", err)
	}
	return nil
}
