// Package server exposes the HTTP API: chat (streaming and synchronous),
// project and indexing control, conversation history, and LLM provider
// management.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/glrag/glrag/internal/indexer"
	"github.com/glrag/glrag/internal/llm"
	"github.com/glrag/glrag/internal/queue"
	"github.com/glrag/glrag/internal/repository"
	"github.com/glrag/glrag/internal/vectorstore"
)

// ChatService is what the chat handlers need from an agent.
type ChatService interface {
	Chat(ctx context.Context, query string, history []llm.Message, projectIDs []int64) (string, error)
	ChatStream(ctx context.Context, query string, history []llm.Message, projectIDs []int64) (<-chan llm.StreamChunk, error)
	GenerateTitle(ctx context.Context, firstMessage string) (string, error)
}

// AgentFactory builds a ChatService for a stored provider. A nil provider
// means "use the environment-configured default".
type AgentFactory func(provider *repository.LLMProvider) ChatService

// Config wires the server's collaborators.
type Config struct {
	Port           int
	Logger         *slog.Logger
	AllowedOrigins []string

	Projects      repository.ProjectRepository
	Items         repository.ItemRepository
	Conversations repository.ConversationRepository
	Messages      repository.MessageRepository
	Providers     repository.ProviderRepository

	Store   vectorstore.VectorStore
	Queue   *queue.Client
	Control *queue.Control
	Indexer *indexer.Indexer

	Agents AgentFactory
}

// Server is the HTTP API server.
type Server struct {
	server *http.Server
	router *chi.Mux
	logger *slog.Logger

	projects      repository.ProjectRepository
	items         repository.ItemRepository
	conversations repository.ConversationRepository
	messages      repository.MessageRepository
	providers     repository.ProviderRepository

	store   vectorstore.VectorStore
	queue   *queue.Client
	control *queue.Control
	indexer *indexer.Indexer

	agents AgentFactory
}

// New creates the server and registers all routes.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		logger:        logger,
		projects:      cfg.Projects,
		items:         cfg.Items,
		conversations: cfg.Conversations,
		messages:      cfg.Messages,
		providers:     cfg.Providers,
		store:         cfg.Store,
		queue:         cfg.Queue,
		control:       cfg.Control,
		indexer:       cfg.Indexer,
		agents:        cfg.Agents,
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(requestLoggingMiddleware(logger))
	router.Use(middleware.Recoverer)
	router.Use(corsMiddleware(cfg.AllowedOrigins))

	router.Get("/healthz", healthCheckHandler())
	router.Get("/readyz", readinessCheckHandler())

	router.Post("/chat", s.handleChat)
	router.Post("/chat/sync", s.handleChatSync)

	router.Route("/projects", func(r chi.Router) {
		r.Get("/", s.handleListProjects)
		r.Get("/vector-counts", s.handleVectorCounts)
		r.Post("/refresh", s.handleRefreshProjects)
		r.Get("/selected/list", s.handleListSelected)
		r.Route("/{projectID}", func(r chi.Router) {
			r.Get("/", s.handleGetProject)
			r.Get("/status", s.handleProjectStatus)
			r.Post("/select", s.handleSelectProject)
			r.Post("/deselect", s.handleDeselectProject)
			r.Post("/index", s.handleIndexProject)
			r.Post("/sync", s.handleSyncProject)
			r.Post("/stop-indexing", s.handleStopIndexing)
			r.Post("/clear-index", s.handleClearIndex)
		})
	})

	router.Route("/providers", func(r chi.Router) {
		r.Get("/", s.handleListProviders)
		r.Post("/", s.handleCreateProvider)
		r.Get("/default", s.handleGetDefaultProvider)
		r.Route("/{providerID}", func(r chi.Router) {
			r.Get("/", s.handleGetProvider)
			r.Put("/", s.handleUpdateProvider)
			r.Delete("/", s.handleDeleteProvider)
			r.Post("/set-default", s.handleSetDefaultProvider)
		})
	})

	router.Route("/conversations", func(r chi.Router) {
		r.Get("/", s.handleListConversations)
		r.Delete("/", s.handleClearConversations)
		r.Route("/{conversationID}", func(r chi.Router) {
			r.Get("/", s.handleGetConversation)
			r.Delete("/", s.handleDeleteConversation)
			r.Patch("/title", s.handleUpdateConversationTitle)
		})
	})

	s.router = router
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // streaming LLM responses
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Start starts the HTTP server and blocks until shutdown.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "address", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("HTTP server shutdown error: %w", err)
	}
	return nil
}

// Router returns the underlying chi router, mainly for tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// requestLoggingMiddleware logs HTTP requests.
func requestLoggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("HTTP request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"remote_addr", r.RemoteAddr,
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

// corsMiddleware handles CORS headers.
func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			allowed := false
			if len(allowedOrigins) == 0 {
				allowed = true
				origin = "*"
			} else {
				for _, o := range allowedOrigins {
					if o == "*" || o == origin {
						allowed = true
						break
					}
				}
			}

			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-CSRF-Token, X-Request-ID")
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Set("Access-Control-Max-Age", "86400")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func healthCheckHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	}
}

func readinessCheckHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
	}
}
