package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/glrag/glrag/internal/agent"
	"github.com/glrag/glrag/internal/chunking"
	"github.com/glrag/glrag/internal/config"
	"github.com/glrag/glrag/internal/embedder"
	"github.com/glrag/glrag/internal/gitlab"
	"github.com/glrag/glrag/internal/gitrepo"
	"github.com/glrag/glrag/internal/indexer"
	"github.com/glrag/glrag/internal/llm"
	"github.com/glrag/glrag/internal/planner"
	"github.com/glrag/glrag/internal/queue"
	"github.com/glrag/glrag/internal/repository"
	"github.com/glrag/glrag/internal/repository/postgres"
	"github.com/glrag/glrag/internal/retriever"
	"github.com/glrag/glrag/internal/server"
	"github.com/glrag/glrag/internal/vectorstore"
)

func main() {
	logLevel := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("failed to run server", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	slog.Info("starting glrag service",
		"http_port", cfg.HTTPPort,
		"environment", cfg.Environment,
		"gitlab_url", cfg.GitLabURL,
	)

	// PostgreSQL
	db, err := postgres.New(ctx, cfg.DatabaseURL())
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	slog.Info("connected to PostgreSQL")

	projectRepo := postgres.NewProjectRepo(db)
	itemRepo := postgres.NewItemRepo(db)
	conversationRepo := postgres.NewConversationRepo(db)
	messageRepo := postgres.NewMessageRepo(db)
	providerRepo := postgres.NewProviderRepo(db)

	// Embeddings
	var emb embedder.Embedder
	switch cfg.EmbeddingProvider {
	case "local":
		emb = embedder.NewLocalEmbedder(cfg.LocalEmbeddingURL, cfg.LocalEmbeddingDimension)
	default:
		emb = embedder.NewOpenAIEmbedder(cfg.OpenAIAPIKey, cfg.OpenAIEmbeddingModel)
	}
	slog.Info("initialized embedder", "provider", cfg.EmbeddingProvider, "model", emb.ModelName())

	// Qdrant
	store, err := vectorstore.NewQdrantStore(cfg.QdrantHost, cfg.QdrantPort)
	if err != nil {
		return fmt.Errorf("failed to connect to Qdrant: %w", err)
	}
	defer store.Close()
	if err := store.EnsureCollection(ctx, emb.Dimension()); err != nil {
		return fmt.Errorf("failed to ensure collection: %w", err)
	}
	slog.Info("connected to Qdrant", "collection", vectorstore.CollectionName)

	// GitLab
	gitlabClient, err := gitlab.NewClient(cfg.GitLabURL, cfg.GitLabPAT)
	if err != nil {
		return fmt.Errorf("failed to create gitlab client: %w", err)
	}

	chunker, err := chunking.NewChunker(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		return fmt.Errorf("failed to create chunker: %w", err)
	}

	repos := gitrepo.NewManager(cfg.ReposPath, cfg.GitLabPAT)
	ix := indexer.New(projectRepo, itemRepo, gitlabClient, chunker, emb, store, repos, cfg.GitLabURL)

	// Task queue
	queueClient, err := queue.NewClient(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("failed to create queue client: %w", err)
	}
	defer queueClient.Close()

	worker, err := queue.NewWorker(cfg.RedisURL, ix, projectRepo, queueClient)
	if err != nil {
		return fmt.Errorf("failed to create worker: %w", err)
	}

	control, err := queue.NewControl(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("failed to create queue control: %w", err)
	}
	defer control.Close()

	scheduler, err := queue.NewScheduler(cfg.RedisURL, cfg.SyncInterval)
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}

	// LLM, planning, retrieval
	defaultLLM := newLLMClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel)
	queryPlanner := planner.New(defaultLLM)
	hybridRetriever := retriever.New(emb, store, gitlabClient, cfg.TopKResults)
	codeAgent := agent.NewCodeAnalysisAgent(defaultLLM.Client(), cfg.OpenAIModel, repos)

	defaultAgent := agent.NewChatAgent(defaultLLM, queryPlanner, hybridRetriever, codeAgent)
	agentFactory := func(provider *repository.LLMProvider) server.ChatService {
		if provider == nil {
			return defaultAgent
		}
		providerLLM := newLLMClient(provider.APIKey, provider.BaseURL, provider.ModelID)
		return agent.NewChatAgent(providerLLM, queryPlanner, hybridRetriever, codeAgent)
	}

	srv := server.New(server.Config{
		Port:           cfg.HTTPPort,
		Logger:         slog.Default(),
		AllowedOrigins: []string{"*"},
		Projects:       projectRepo,
		Items:          itemRepo,
		Conversations:  conversationRepo,
		Messages:       messageRepo,
		Providers:      providerRepo,
		Store:          store,
		Queue:          queueClient,
		Control:        control,
		Indexer:        ix,
		Agents:         agentFactory,
	})

	errCh := make(chan error, 3)

	go func() {
		slog.Info("starting task worker", "queues", []string{queue.QueueIndexing, queue.QueueSync})
		if err := worker.Run(); err != nil {
			errCh <- fmt.Errorf("worker error: %w", err)
		}
	}()

	go func() {
		slog.Info("starting sync scheduler", "interval", cfg.SyncInterval)
		if err := scheduler.Run(); err != nil {
			errCh <- fmt.Errorf("scheduler error: %w", err)
		}
	}()

	go func() {
		if err := srv.Start(); err != nil {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		slog.Info("received shutdown signal", "signal", sig)
	}

	slog.Info("shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to shutdown HTTP server", "error", err)
	}
	scheduler.Shutdown()
	worker.Shutdown()

	slog.Info("stopped")
	return nil
}

// newLLMClient builds an OpenAI-compatible client, skipping empty options.
func newLLMClient(apiKey, baseURL, model string) *llm.OpenAIClient {
	opts := []llm.OpenAIOption{}
	if baseURL != "" {
		opts = append(opts, llm.WithBaseURL(baseURL))
	}
	if model != "" {
		opts = append(opts, llm.WithModel(model))
	}
	return llm.NewOpenAIClient(apiKey, opts...)
}

// Ensure interfaces are satisfied at compile time
var (
	_ repository.ProjectRepository      = (*postgres.ProjectRepo)(nil)
	_ repository.ItemRepository         = (*postgres.ItemRepo)(nil)
	_ repository.ConversationRepository = (*postgres.ConversationRepo)(nil)
	_ repository.MessageRepository      = (*postgres.MessageRepo)(nil)
	_ repository.ProviderRepository     = (*postgres.ProviderRepo)(nil)
	_ vectorstore.VectorStore           = (*vectorstore.QdrantStore)(nil)
	_ embedder.Embedder                 = (*embedder.OpenAIEmbedder)(nil)
	_ embedder.Embedder                 = (*embedder.LocalEmbedder)(nil)
	_ llm.LLM                           = (*llm.OpenAIClient)(nil)
	_ server.ChatService                = (*agent.ChatAgent)(nil)
	_ agent.RepoLocator                 = (*gitrepo.Manager)(nil)
)
