package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/glrag/glrag/internal/indexer"
	"github.com/glrag/glrag/internal/repository"
)

// workerConcurrency bounds parallel indexing jobs; each job already fans out
// embedding requests internally.
const workerConcurrency = 4

// Worker consumes indexing tasks
type Worker struct {
	server  *asynq.Server
	indexer *indexer.Indexer
	project repository.ProjectRepository
	client  *Client
}

// NewWorker creates a Worker bound to the Redis instance at redisURL
func NewWorker(redisURL string, ix *indexer.Indexer, projects repository.ProjectRepository, client *Client) (*Worker, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: workerConcurrency,
		Queues: map[string]int{
			QueueIndexing: 2,
			QueueSync:     1,
		},
		RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
			return retryDelay
		},
		Logger: slogAdapter{},
	})

	return &Worker{server: server, indexer: ix, project: projects, client: client}, nil
}

// Run starts processing tasks and blocks until Shutdown
func (w *Worker) Run() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeIndexProject, w.handleIndexProject)
	mux.HandleFunc(TypeSyncProject, w.handleSyncProject)
	mux.HandleFunc(TypeSyncAll, w.handleSyncAll)
	mux.HandleFunc(TypeRefreshProjects, w.handleRefreshProjects)
	return w.server.Run(mux)
}

// Shutdown stops the worker gracefully
func (w *Worker) Shutdown() {
	w.server.Shutdown()
}

func (w *Worker) handleIndexProject(ctx context.Context, task *asynq.Task) error {
	payload, err := decodePayload(task.Payload())
	if err != nil {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	return w.indexer.IndexProject(ctx, payload.ProjectID)
}

func (w *Worker) handleSyncProject(ctx context.Context, task *asynq.Task) error {
	payload, err := decodePayload(task.Payload())
	if err != nil {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	return w.indexer.SyncProject(ctx, payload.ProjectID)
}

// handleSyncAll recovers stale syncing projects and queues an incremental
// sync for every indexed project
func (w *Worker) handleSyncAll(ctx context.Context, _ *asynq.Task) error {
	recovered, err := w.indexer.RecoverStale(ctx)
	if err != nil {
		return err
	}

	projects, err := w.project.GetIndexed(ctx)
	if err != nil {
		return err
	}

	ids := make([]int64, 0, len(projects)+len(recovered))
	for _, p := range projects {
		ids = append(ids, p.ID)
	}
	ids = append(ids, recovered...)

	for _, id := range ids {
		if _, err := w.client.EnqueueSyncProject(ctx, id); err != nil {
			slog.Error("failed to queue project sync", "project_id", id, "error", err)
		}
	}
	slog.Info("queued periodic sync", "projects", len(ids))
	return nil
}

func (w *Worker) handleRefreshProjects(ctx context.Context, _ *asynq.Task) error {
	_, _, err := w.indexer.RefreshProjects(ctx)
	return err
}

// slogAdapter routes asynq's internal logging through slog
type slogAdapter struct{}

func (slogAdapter) Debug(args ...any) { slog.Debug(fmt.Sprint(args...)) }
func (slogAdapter) Info(args ...any)  { slog.Info(fmt.Sprint(args...)) }
func (slogAdapter) Warn(args ...any)  { slog.Warn(fmt.Sprint(args...)) }
func (slogAdapter) Error(args ...any) { slog.Error(fmt.Sprint(args...)) }
func (slogAdapter) Fatal(args ...any) { slog.Error(fmt.Sprint(args...)) }
