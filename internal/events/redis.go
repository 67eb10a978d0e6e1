package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/roost-sh/roost/models"
)

// RedisStore implements Store on a Redis instance. Events live in a
// list per job (sequence number = list index, so numbering is gap-free
// by construction), job state in a hash, and the active-job index in
// a set. All job keys carry a TTL so abandoned records expire on
// their own.
type RedisStore struct {
	rdb         *redis.Client
	jobTTL      time.Duration
	terminalTTL time.Duration
}

// NewRedisStore wraps an existing Redis client. jobTTL applies while
// a job is in flight, terminalTTL once it completes or fails.
func NewRedisStore(rdb *redis.Client, jobTTL, terminalTTL time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, jobTTL: jobTTL, terminalTTL: terminalTTL}
}

const activeKey = "jobs:active"

func jobKey(id string) string    { return "job:" + id }
func eventsKey(id string) string { return "job:" + id + ":events" }

func (s *RedisStore) Register(ctx context.Context, job models.Job) error {
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, jobKey(job.ID), map[string]interface{}{
		"tenant":   job.Tenant,
		"version":  job.Version,
		"phase":    string(models.JobPending),
		"progress": 0,
		"message":  "",
		"created":  job.Created.UTC().Format(time.RFC3339),
	})
	pipe.Expire(ctx, jobKey(job.ID), s.jobTTL)
	pipe.SAdd(ctx, activeKey, job.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("register job %s: %w", job.ID, err)
	}
	return nil
}

func (s *RedisStore) Append(ctx context.Context, jobID string, ev models.Event) (int64, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return 0, fmt.Errorf("encode event: %w", err)
	}

	pipe := s.rdb.TxPipeline()
	push := pipe.RPush(ctx, eventsKey(jobID), payload)
	pipe.Expire(ctx, eventsKey(jobID), s.jobTTL)
	pipe.HSet(ctx, jobKey(jobID), map[string]interface{}{
		"phase":    string(ev.Status.Phase()),
		"progress": ev.Progress,
		"message":  ev.Message,
	})
	pipe.Expire(ctx, jobKey(jobID), s.jobTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("append event for job %s: %w", jobID, err)
	}
	return push.Val() - 1, nil
}

func (s *RedisStore) ReadSince(ctx context.Context, jobID string, since int64) ([]models.Event, error) {
	if since < 0 {
		since = 0
	}
	raw, err := s.rdb.LRange(ctx, eventsKey(jobID), since, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read events for job %s: %w", jobID, err)
	}
	if len(raw) == 0 {
		exists, err := s.rdb.Exists(ctx, jobKey(jobID)).Result()
		if err != nil {
			return nil, fmt.Errorf("read events for job %s: %w", jobID, err)
		}
		if exists == 0 {
			return nil, ErrUnknownJob
		}
		return []models.Event{}, nil
	}

	out := make([]models.Event, 0, len(raw))
	for i, item := range raw {
		var ev models.Event
		if err := json.Unmarshal([]byte(item), &ev); err != nil {
			return nil, fmt.Errorf("decode event %d for job %s: %w", since+int64(i), jobID, err)
		}
		ev.Sequence = since + int64(i)
		out = append(out, ev)
	}
	return out, nil
}

func (s *RedisStore) Phase(ctx context.Context, jobID string) (models.JobPhase, error) {
	phase, err := s.rdb.HGet(ctx, jobKey(jobID), "phase").Result()
	if err == redis.Nil {
		return "", ErrUnknownJob
	}
	if err != nil {
		return "", fmt.Errorf("read phase for job %s: %w", jobID, err)
	}
	return models.JobPhase(phase), nil
}

func (s *RedisStore) ListActive(ctx context.Context) ([]models.JobStatus, error) {
	ids, err := s.rdb.SMembers(ctx, activeKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list active jobs: %w", err)
	}

	out := make([]models.JobStatus, 0, len(ids))
	for _, id := range ids {
		fields, err := s.rdb.HGetAll(ctx, jobKey(id)).Result()
		if err != nil {
			return nil, fmt.Errorf("read job %s: %w", id, err)
		}
		if len(fields) == 0 {
			// Record expired out from under the index.
			s.rdb.SRem(ctx, activeKey, id)
			continue
		}
		phase := models.JobPhase(fields["phase"])
		if phase.Terminal() {
			continue
		}
		progress, _ := strconv.Atoi(fields["progress"])
		out = append(out, models.JobStatus{
			ID:       id,
			Tenant:   fields["tenant"],
			Version:  fields["version"],
			Phase:    phase,
			Progress: progress,
			Message:  fields["message"],
		})
	}
	return out, nil
}

func (s *RedisStore) MarkTerminal(ctx context.Context, jobID string) error {
	pipe := s.rdb.TxPipeline()
	pipe.SRem(ctx, activeKey, jobID)
	pipe.Expire(ctx, jobKey(jobID), s.terminalTTL)
	pipe.Expire(ctx, eventsKey(jobID), s.terminalTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("mark job %s terminal: %w", jobID, err)
	}
	return nil
}
