package redis

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dvtran/ytarchive/internal/core/domain"
)

// Key helpers
func progressChannel(jobID string) string {
	return "jobs:progress:" + jobID
}

const pendingQueueKey = "jobs:pending"

// PublishProgress publishes a batched progress snapshot for subscribers
// (dashboards, CLI watchers). Failures are logged and dropped; progress
// is advisory.
func (c *Client) PublishProgress(ctx context.Context, p domain.Progress) {
	if c == nil {
		return
	}
	data, err := json.Marshal(p)
	if err != nil {
		return
	}
	if err := c.rdb.Publish(ctx, progressChannel(p.JobID), data).Err(); err != nil {
		slog.Debug("Failed to publish progress", "job", p.JobID, "error", err)
	}
}

// EnqueueJob pushes a queued job id so it survives restarts.
func (c *Client) EnqueueJob(ctx context.Context, jobID string) error {
	if c == nil {
		return nil
	}
	return c.rdb.LPush(ctx, pendingQueueKey, jobID).Err()
}

// DequeueJob pops the next pending job id, blocking up to timeout.
// Returns "" when the queue is empty.
func (c *Client) DequeueJob(ctx context.Context, timeout time.Duration) (string, error) {
	if c == nil {
		return "", nil
	}
	res, err := c.rdb.BRPop(ctx, timeout, pendingQueueKey).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	// BRPOP returns [key, value]
	if len(res) != 2 {
		return "", nil
	}
	return res[1], nil
}
