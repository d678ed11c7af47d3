package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"geoProcessor/worker/repository"
)

const statusTTL = 10 * time.Minute

// StatusCache mirrors the API's status cache layout: job projections
// under job:status:<id> and cancellation flags under job:cancel:<id>.
// The API caches the full projection; the worker only patches status
// and progress into an existing entry. Terminal writes drop the entry
// instead, so terminal reads are served from the row, which carries the
// result ref and error fields.
type StatusCache struct {
	client *redis.Client
}

func NewStatusCache(client *redis.Client) *StatusCache {
	return &StatusCache{client: client}
}

// Set is best-effort: a cache write failure never fails the job, the
// database row stays authoritative.
func (c *StatusCache) Set(ctx context.Context, jobID string, status string, progress int) error {
	key := "job:status:" + jobID

	switch status {
	case repository.StatusCompleted, repository.StatusFailed, repository.StatusCancelled:
		return c.client.Del(ctx, key).Err()
	}

	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		// Nothing cached to patch; the next API read repopulates.
		return nil
	}

	var entry map[string]interface{}
	if err := json.Unmarshal(data, &entry); err != nil {
		return c.client.Del(ctx, key).Err()
	}
	entry["status"] = status
	entry["progress"] = progress

	patched, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, patched, statusTTL).Err()
}

// IsCancelRequested reports whether the API has flagged the job for
// cancellation. Errors read as "not requested"; the flag is advisory
// and the next poll will see it.
func (c *StatusCache) IsCancelRequested(ctx context.Context, jobID string) bool {
	n, err := c.client.Exists(ctx, "job:cancel:"+jobID).Result()
	if err != nil {
		return false
	}
	return n > 0
}
