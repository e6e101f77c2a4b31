package queue

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
)

// Control cancels queued or running indexing work
type Control struct {
	inspector *asynq.Inspector
}

// NewControl creates a Control from a Redis URL
func NewControl(redisURL string) (*Control, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	return &Control{inspector: asynq.NewInspector(opt)}, nil
}

// Close closes the inspector connection
func (c *Control) Close() error {
	return c.inspector.Close()
}

// StopProject cancels any running task for the project and deletes pending
// ones from both queues. Returns how many tasks were affected.
func (c *Control) StopProject(projectID int64) (int, error) {
	stopped := 0

	for _, queue := range []string{QueueIndexing, QueueSync} {
		active, err := c.inspector.ListActiveTasks(queue)
		if err != nil && !errors.Is(err, asynq.ErrQueueNotFound) {
			return stopped, fmt.Errorf("failed to list active tasks: %w", err)
		}
		for _, task := range active {
			if !isProjectTask(task.Type, task.Payload, projectID) {
				continue
			}
			if err := c.inspector.CancelProcessing(task.ID); err != nil {
				slog.Warn("failed to cancel running task", "task_id", task.ID, "error", err)
				continue
			}
			stopped++
		}

		pending, err := c.inspector.ListPendingTasks(queue)
		if err != nil && !errors.Is(err, asynq.ErrQueueNotFound) {
			return stopped, fmt.Errorf("failed to list pending tasks: %w", err)
		}
		for _, task := range pending {
			if !isProjectTask(task.Type, task.Payload, projectID) {
				continue
			}
			if err := c.inspector.DeleteTask(queue, task.ID); err != nil {
				slog.Warn("failed to delete pending task", "task_id", task.ID, "error", err)
				continue
			}
			stopped++
		}
	}
	return stopped, nil
}

// isProjectTask reports whether a task of the given type operates on the
// given project
func isProjectTask(taskType string, payload []byte, projectID int64) bool {
	if taskType != TypeIndexProject && taskType != TypeSyncProject {
		return false
	}
	return payloadMatchesProject(payload, projectID)
}
