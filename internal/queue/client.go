package queue

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
)

// Client enqueues indexing tasks
type Client struct {
	client *asynq.Client
}

// NewClient creates a queue client from a Redis URL
func NewClient(redisURL string) (*Client, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	return &Client{client: asynq.NewClient(opt)}, nil
}

// Close closes the underlying connection
func (c *Client) Close() error {
	return c.client.Close()
}

// EnqueueIndexProject queues a full index of a project, returning the task id
func (c *Client) EnqueueIndexProject(ctx context.Context, projectID int64) (string, error) {
	task, err := NewIndexProjectTask(projectID)
	if err != nil {
		return "", err
	}
	info, err := c.client.EnqueueContext(ctx, task)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue index task: %w", err)
	}
	return info.ID, nil
}

// EnqueueSyncProject queues an incremental sync of a project
func (c *Client) EnqueueSyncProject(ctx context.Context, projectID int64) (string, error) {
	task, err := NewSyncProjectTask(projectID)
	if err != nil {
		return "", err
	}
	info, err := c.client.EnqueueContext(ctx, task)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue sync task: %w", err)
	}
	return info.ID, nil
}

// EnqueueRefreshProjects queues a project-list refresh
func (c *Client) EnqueueRefreshProjects(ctx context.Context) (string, error) {
	info, err := c.client.EnqueueContext(ctx, NewRefreshProjectsTask())
	if err != nil {
		return "", fmt.Errorf("failed to enqueue refresh task: %w", err)
	}
	return info.ID, nil
}
