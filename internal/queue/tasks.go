// Package queue runs indexing work on a Redis-backed task queue. Full
// indexing and incremental syncs are enqueued as durable tasks so they
// survive process restarts and retry on failure.
package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// Task type names.
const (
	TypeIndexProject    = "index:project"
	TypeSyncProject     = "sync:project"
	TypeSyncAll         = "sync:all"
	TypeRefreshProjects = "projects:refresh"
)

// Queue names. Full indexing and periodic syncs run on separate queues so a
// long full index cannot starve the sync cadence.
const (
	QueueIndexing = "indexing"
	QueueSync     = "gitlab_sync"
)

const (
	maxRetry   = 3
	retryDelay = 60 * time.Second
)

// ProjectPayload identifies the project a task operates on
type ProjectPayload struct {
	ProjectID int64 `json:"project_id"`
}

// NewIndexProjectTask builds a full-index task for a project
func NewIndexProjectTask(projectID int64) (*asynq.Task, error) {
	payload, err := json.Marshal(ProjectPayload{ProjectID: projectID})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return asynq.NewTask(TypeIndexProject, payload,
		asynq.Queue(QueueIndexing), asynq.MaxRetry(maxRetry)), nil
}

// NewSyncProjectTask builds an incremental-sync task for a project
func NewSyncProjectTask(projectID int64) (*asynq.Task, error) {
	payload, err := json.Marshal(ProjectPayload{ProjectID: projectID})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return asynq.NewTask(TypeSyncProject, payload,
		asynq.Queue(QueueSync), asynq.MaxRetry(maxRetry)), nil
}

// NewSyncAllTask builds the periodic sweep task that fans out per-project syncs
func NewSyncAllTask() *asynq.Task {
	return asynq.NewTask(TypeSyncAll, nil, asynq.Queue(QueueSync), asynq.MaxRetry(0))
}

// NewRefreshProjectsTask builds a project-list refresh task
func NewRefreshProjectsTask() *asynq.Task {
	return asynq.NewTask(TypeRefreshProjects, nil,
		asynq.Queue(QueueSync), asynq.MaxRetry(maxRetry))
}

// decodePayload unmarshals a task's project payload
func decodePayload(data []byte) (ProjectPayload, error) {
	var p ProjectPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("invalid task payload: %w", err)
	}
	return p, nil
}

// payloadMatchesProject reports whether a raw task payload targets the given
// project. Used when hunting down tasks to cancel.
func payloadMatchesProject(data []byte, projectID int64) bool {
	p, err := decodePayload(data)
	return err == nil && p.ProjectID == projectID
}
