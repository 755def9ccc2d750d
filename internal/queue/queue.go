// Package queue implements the durable, at-least-once job queue on Redis.
//
// Layout:
//   - jobs:ready      list of jobs waiting for a worker
//   - jobs:processing list of jobs currently held by a worker
//   - jobs:delayed    sorted set of jobs scheduled for a future retry
//   - jobs:dead       list of jobs that exhausted their redelivery budget
//   - jobs:completed  bounded history of acknowledged jobs
//
// Dequeue moves a job atomically from ready to processing with BLMove, so a
// crashed worker leaves its job visible in jobs:processing for recovery
// rather than losing it.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyReady      = "jobs:ready"
	keyProcessing = "jobs:processing"
	keyDelayed    = "jobs:delayed"
	keyDead       = "jobs:dead"
	keyCompleted  = "jobs:completed"

	completedHistory = 1000
)

// ErrNoJob is returned by Dequeue when no job became available within the
// blocking window.
var ErrNoJob = errors.New("no job available")

// Stats summarizes queue depths for the admin surface.
type Stats struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Delayed   int64 `json:"delayed"`
}

// Queue is a Redis-backed job queue handle. It is injected into the task
// service and the worker pool at construction so tests can substitute an
// in-memory Redis.
type Queue struct {
	rdb *redis.Client
}

// New creates a queue over an established Redis client.
func New(rdb *redis.Client) *Queue {
	return &Queue{rdb: rdb}
}

// Enqueue appends a job to the ready list.
func (q *Queue) Enqueue(ctx context.Context, job Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return q.rdb.RPush(ctx, keyReady, data).Err()
}

// Dequeue atomically moves the oldest ready job into the processing list
// and returns it together with its raw form, which later acknowledgement
// calls need. Blocks up to a second; returns ErrNoJob on an empty queue.
func (q *Queue) Dequeue(ctx context.Context) (*Job, string, error) {
	raw, err := q.rdb.BLMove(ctx, keyReady, keyProcessing, "LEFT", "RIGHT", time.Second).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, "", ErrNoJob
		}
		return nil, "", err
	}

	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return nil, "", err
	}
	return &job, raw, nil
}

// Complete acknowledges a handled job: it leaves the processing list and
// joins the bounded completed history.
func (q *Queue) Complete(ctx context.Context, job Job, raw string) error {
	job.FinishedAt = time.Now()
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}

	pipe := q.rdb.TxPipeline()
	pipe.LRem(ctx, keyProcessing, 1, raw)
	pipe.RPush(ctx, keyCompleted, data)
	pipe.LTrim(ctx, keyCompleted, -completedHistory, -1)
	_, err = pipe.Exec(ctx)
	return err
}

// Retry schedules the job for redelivery with exponential backoff and
// removes the original delivery from the processing list. The caller checks
// Exhausted first; Retry itself only does the bookkeeping.
func (q *Queue) Retry(ctx context.Context, job Job, raw string) error {
	job.Attempt++
	processAt := time.Now().Add(job.Backoff())

	data, err := json.Marshal(job)
	if err != nil {
		return err
	}

	pipe := q.rdb.TxPipeline()
	pipe.ZAdd(ctx, keyDelayed, redis.Z{
		Score:  float64(processAt.UnixNano()),
		Member: data,
	})
	pipe.LRem(ctx, keyProcessing, 1, raw)
	_, err = pipe.Exec(ctx)
	return err
}

// Fail moves a job that exhausted its redelivery budget to the dead list.
func (q *Queue) Fail(ctx context.Context, job Job, raw string) error {
	job.FinishedAt = time.Now()
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}

	pipe := q.rdb.TxPipeline()
	pipe.RPush(ctx, keyDead, data)
	pipe.LRem(ctx, keyProcessing, 1, raw)
	_, err = pipe.Exec(ctx)
	return err
}

// promoteDueScript atomically moves every delayed job whose due time has
// passed back onto the ready list. Atomicity matters when several worker
// processes run the scheduler concurrently.
var promoteDueScript = redis.NewScript(`
	local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
	if #due > 0 then
		redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
		for _, job in ipairs(due) do
			redis.call('RPUSH', KEYS[2], job)
		end
	end
	return #due
`)

// StartScheduler promotes due delayed jobs to the ready list every interval
// until the context is cancelled. Run it in a goroutine next to the worker
// pool.
func (q *Queue) StartScheduler(ctx context.Context, interval time.Duration, onError func(error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := float64(time.Now().UnixNano())
			if err := promoteDueScript.Run(ctx, q.rdb, []string{keyDelayed, keyReady}, now).Err(); err != nil && !errors.Is(err, redis.Nil) {
				if onError != nil {
					onError(err)
				}
			}
		}
	}
}

// Stats returns current queue depths.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	pipe := q.rdb.Pipeline()
	waiting := pipe.LLen(ctx, keyReady)
	active := pipe.LLen(ctx, keyProcessing)
	completed := pipe.LLen(ctx, keyCompleted)
	failed := pipe.LLen(ctx, keyDead)
	delayed := pipe.ZCard(ctx, keyDelayed)
	if _, err := pipe.Exec(ctx); err != nil {
		return Stats{}, err
	}
	return Stats{
		Waiting:   waiting.Val(),
		Active:    active.Val(),
		Completed: completed.Val(),
		Failed:    failed.Val(),
		Delayed:   delayed.Val(),
	}, nil
}

// Clean purges queue entries in the given state ("completed", "failed" or
// "delayed") that finished or became due before the cutoff. Returns the
// number of removed entries.
func (q *Queue) Clean(ctx context.Context, olderThan time.Duration, state string) (int64, error) {
	cutoff := time.Now().Add(-olderThan)

	switch state {
	case "delayed":
		return q.rdb.ZRemRangeByScore(ctx, keyDelayed, "-inf", formatScore(cutoff)).Result()
	case "completed":
		return q.cleanList(ctx, keyCompleted, cutoff)
	case "failed":
		return q.cleanList(ctx, keyDead, cutoff)
	default:
		return 0, errors.New("unknown queue state: " + state)
	}
}

func (q *Queue) cleanList(ctx context.Context, key string, cutoff time.Time) (int64, error) {
	entries, err := q.rdb.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return 0, err
	}

	var removed int64
	for _, raw := range entries {
		var job Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			continue
		}
		stamp := job.FinishedAt
		if stamp.IsZero() {
			stamp = job.EnqueuedAt
		}
		if stamp.Before(cutoff) {
			n, err := q.rdb.LRem(ctx, key, 1, raw).Result()
			if err != nil {
				return removed, err
			}
			removed += n
		}
	}
	return removed, nil
}

// Inspect returns up to limit jobs from the named state without removing
// them. Used by the admin surface for debugging stuck jobs.
func (q *Queue) Inspect(ctx context.Context, state string, limit int64) ([]Job, error) {
	var raws []string
	var err error

	switch state {
	case "waiting":
		raws, err = q.rdb.LRange(ctx, keyReady, 0, limit-1).Result()
	case "active":
		raws, err = q.rdb.LRange(ctx, keyProcessing, 0, limit-1).Result()
	case "completed":
		raws, err = q.rdb.LRange(ctx, keyCompleted, 0, limit-1).Result()
	case "failed":
		raws, err = q.rdb.LRange(ctx, keyDead, 0, limit-1).Result()
	case "delayed":
		raws, err = q.rdb.ZRange(ctx, keyDelayed, 0, limit-1).Result()
	default:
		return nil, errors.New("unknown queue state: " + state)
	}
	if err != nil {
		return nil, err
	}

	jobs := make([]Job, 0, len(raws))
	for _, raw := range raws {
		var job Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// formatScore renders a timestamp the way ZRemRangeByScore expects scores.
func formatScore(t time.Time) string {
	return strconv.FormatFloat(float64(t.UnixNano()), 'f', 0, 64)
}
