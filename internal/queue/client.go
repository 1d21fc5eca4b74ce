package queue

import (
	"context"
	"time"

	"github.com/dunamismax/pixelmix/internal/config"
	"github.com/hibiken/asynq"
)

const (
	defaultMaxRetry = 5
	// Remote fetch and best-tier encodes of large images both fit well inside.
	defaultTimeout = 3 * time.Minute
)

type Client struct {
	client *asynq.Client
	queue  string
}

func NewClient(cfg config.QueueConfig) *Client {
	return &Client{
		client: asynq.NewClient(cfg.RedisClientOpt()),
		queue:  cfg.Name,
	}
}

func (c *Client) EnqueueProcessImage(ctx context.Context, payload ProcessImagePayload) (*asynq.TaskInfo, error) {
	task, err := NewProcessImageTask(payload)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(
		ctx,
		task,
		asynq.Queue(c.queue),
		asynq.MaxRetry(defaultMaxRetry),
		asynq.Timeout(defaultTimeout),
	)
}

func (c *Client) Close() error {
	return c.client.Close()
}
