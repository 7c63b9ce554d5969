package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MikeSquared-Agency/quill/internal/anthropic"
	"github.com/MikeSquared-Agency/quill/internal/api"
	"github.com/MikeSquared-Agency/quill/internal/bus"
	"github.com/MikeSquared-Agency/quill/internal/config"
	"github.com/MikeSquared-Agency/quill/internal/coverage"
	"github.com/MikeSquared-Agency/quill/internal/embed"
	"github.com/MikeSquared-Agency/quill/internal/index"
	"github.com/MikeSquared-Agency/quill/internal/pipeline"
	"github.com/MikeSquared-Agency/quill/internal/questions"
	"github.com/MikeSquared-Agency/quill/internal/ranking"
	"github.com/MikeSquared-Agency/quill/internal/relevance"
	"github.com/MikeSquared-Agency/quill/internal/retrieval"
	"github.com/MikeSquared-Agency/quill/internal/speaker"
	"github.com/MikeSquared-Agency/quill/internal/store"
)

func main() {
	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("quill starting", "port", cfg.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Question definitions
	qs, err := questions.Load(cfg.QuestionsPath)
	if err != nil {
		slog.Error("failed to load questions", "path", cfg.QuestionsPath, "error", err)
		os.Exit(1)
	}
	slog.Info("questions loaded", "count", len(qs))

	// Anthropic client — the ranking oracle's transport
	if cfg.AnthropicAPIKey == "" {
		slog.Error("ANTHROPIC_API_KEY is required")
		os.Exit(1)
	}
	llm := anthropic.NewClient(cfg.AnthropicAPIKey, cfg.AnthropicModel)
	slog.Info("anthropic client ready", "model", cfg.AnthropicModel)

	// Embedder — pins the collection dimensionality
	embedder := embed.NewHTTPEmbedder(cfg.EmbedEndpoint, cfg.EmbedModel)
	dims, err := embedder.Dimensions(ctx)
	if err != nil {
		slog.Error("embedding endpoint not reachable", "endpoint", cfg.EmbedEndpoint, "error", err)
		os.Exit(1)
	}
	collection := index.NewCollectionConfig(dims)
	slog.Info("embedder ready", "model", embedder.Name(), "dimensions", dims)

	// Index backend: Postgres when configured, snapshot-backed memory otherwise
	var (
		idx       index.Index
		memIdx    *index.Memory
		persister pipeline.Persister
	)
	if cfg.DatabaseURL != "" {
		db, err := store.New(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		idx = store.NewVectorIndex(db, collection)
		persister = db
		slog.Info("database connected")
	} else {
		memIdx, err = index.LoadMemory(cfg.SnapshotPath, collection, slog.Default())
		if err != nil {
			slog.Warn("starting with empty index", "snapshot", cfg.SnapshotPath, "error", err)
			memIdx = index.NewMemory(collection, slog.Default())
		}
		idx = memIdx
		slog.Warn("no DATABASE_URL — using in-memory index with snapshots")
	}

	// Pipeline
	classifier := speaker.NewClassifier(cfg.ConfidenceThreshold)
	scorer := relevance.NewScorer()
	oracle := ranking.NewLLMOracle(llm, cfg.OracleTimeout, slog.Default())
	engine := ranking.NewEngine(oracle, ranking.Config{
		BatchSize:    cfg.BatchSize,
		MaxRetries:   cfg.MaxRetries,
		BatchDelay:   cfg.BatchDelay,
		FailureDelay: cfg.FailureDelay,
	}, slog.Default())

	// NATS
	busClient, err := bus.NewClient(cfg.NatsURL, cfg.NatsToken, slog.Default())
	if err != nil {
		slog.Error("failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer busClient.Close()
	slog.Info("NATS connected", "url", cfg.NatsURL)

	pipe := pipeline.New(
		cfg,
		classifier,
		speaker.NewLinker(cfg.ContextWindow),
		speaker.NewCorrector(classifier, slog.Default()),
		embedder,
		idx,
		retrieval.NewPlanner(idx, embedder, scorer, cfg.ExpansionCap, cfg.CandidateCeiling, slog.Default()),
		engine,
		coverage.NewTracker(),
		qs,
		persister,
		busClient,
		slog.Default(),
	)

	// Subscribe to segmented transcripts from the extraction collaborator
	if err := busClient.Subscribe(bus.SubjectTranscriptSegmented, pipe.HandleTranscriptSegmented); err != nil {
		slog.Error("failed to subscribe to transcript events", "error", err)
		os.Exit(1)
	}

	// HTTP API
	srv := api.NewServer(cfg.Port, pipe, slog.Default())
	go func() {
		if err := srv.Start(); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	// Announce registration
	if err := busClient.Publish("swarm.agent.quill.registered", map[string]any{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"port":      cfg.Port,
		"questions": len(qs),
	}); err != nil {
		slog.Warn("failed to publish registration", "error", err)
	}

	slog.Info("quill ready", "port", cfg.Port, "questions", len(qs))

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	slog.Info("shutting down")
	cancel()

	if memIdx != nil {
		if err := memIdx.Save(cfg.SnapshotPath); err != nil {
			slog.Error("failed to save index snapshot", "error", err)
		}
	}
	slog.Info("quill stopped")
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
