package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"geoProcessor/api/database"
	"geoProcessor/api/dto"
)

const (
	statusKeyPrefix = "job:status:"
	cancelKeyPrefix = "job:cancel:"
	statusTTL       = 10 * time.Minute
	cancelTTL       = 24 * time.Hour
)

// StatusCache holds the full job projection served on hot status polls
// so they skip Postgres. The worker patches status and progress into
// the cached payload while a job runs and drops the entry on terminal
// writes, so a terminal read always reaches the row first and the
// repopulated entry carries the result ref and error fields.
type StatusCache struct {
	cache *database.Cache
}

func NewStatusCache(cache *database.Cache) *StatusCache {
	return &StatusCache{cache: cache}
}

func (sc *StatusCache) Get(ctx context.Context, jobID string) (*dto.JobResponse, error) {
	key := fmt.Sprintf("%s%s", statusKeyPrefix, jobID)

	data, err := sc.cache.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	var job dto.JobResponse
	if err := json.Unmarshal([]byte(data), &job); err != nil {
		return nil, err
	}

	return &job, nil
}

func (sc *StatusCache) Set(ctx context.Context, jobID string, job *dto.JobResponse) error {
	key := fmt.Sprintf("%s%s", statusKeyPrefix, jobID)

	data, err := json.Marshal(job)
	if err != nil {
		return err
	}

	return sc.cache.Set(ctx, key, data, statusTTL)
}

func (sc *StatusCache) Delete(ctx context.Context, jobID string) error {
	key := fmt.Sprintf("%s%s", statusKeyPrefix, jobID)
	return sc.cache.Del(ctx, key)
}

// RequestCancel raises the cooperative cancellation flag the worker
// polls between progress updates. Raising it does not preempt anything.
func (sc *StatusCache) RequestCancel(ctx context.Context, jobID string) error {
	key := fmt.Sprintf("%s%s", cancelKeyPrefix, jobID)
	return sc.cache.Set(ctx, key, "1", cancelTTL)
}
