package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jmylchreest/vidsift/internal/models"
)

// DefaultRedisPrefix namespaces every key the Redis store writes.
const DefaultRedisPrefix = "vidsift:"

// enqueueRetries bounds optimistic transaction retries when another client
// touches the queue concurrently.
const enqueueRetries = 5

// RedisStore keeps the run snapshot, queue and outcomes in Redis so several
// processes can share one queue.
//
// Layout under the prefix:
//
//	run                 JSON RunState
//	queue               list of video ids in run order
//	queue:jobs          hash of video id to JSON VideoJob
//	outcomes:<run id>   hash of outcome id to JSON VideoOutcome
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedisStore creates a store on client. An empty prefix uses
// DefaultRedisPrefix.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	if !strings.HasSuffix(prefix, ":") {
		prefix += ":"
	}
	return &RedisStore{client: client, prefix: prefix, now: time.Now}
}

func (s *RedisStore) key(parts ...string) string {
	return s.prefix + strings.Join(parts, ":")
}

// Ping checks the connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) SaveRunState(ctx context.Context, state *models.RunState) error {
	c := state.Clone()
	c.Key = models.RunStateKey
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding run state: %w", err)
	}
	if err := s.client.Set(ctx, s.key("run"), data, 0).Err(); err != nil {
		return fmt.Errorf("saving run state: %w", err)
	}
	return nil
}

func (s *RedisStore) LoadRunState(ctx context.Context) (*models.RunState, error) {
	data, err := s.client.Get(ctx, s.key("run")).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading run state: %w", err)
	}
	var state models.RunState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decoding run state: %w", err)
	}
	state.Key = models.RunStateKey
	return &state, nil
}

func (s *RedisStore) ClearRunState(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key("run")).Err(); err != nil {
		return fmt.Errorf("clearing run state: %w", err)
	}
	return nil
}

func (s *RedisStore) Enqueue(ctx context.Context, jobs []models.VideoJob) error {
	if err := models.ValidateQueue(jobs); err != nil {
		return err
	}

	ids := make([]string, len(jobs))
	fields := make([]any, 0, 2*len(jobs))
	for i, j := range jobs {
		data, err := json.Marshal(j)
		if err != nil {
			return fmt.Errorf("encoding video %s: %w", j.ID, err)
		}
		ids[i] = j.ID
		fields = append(fields, j.ID, data)
	}

	listKey, jobsKey := s.key("queue"), s.key("queue", "jobs")
	txf := func(tx *redis.Tx) error {
		existing, err := tx.HMGet(ctx, jobsKey, ids...).Result()
		if err != nil {
			return err
		}
		for i, v := range existing {
			if v != nil {
				return fmt.Errorf("%w: %s", models.ErrDuplicateVideo, ids[i])
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, jobsKey, fields...)
			pipe.RPush(ctx, listKey, toAny(ids)...)
			return nil
		})
		return err
	}

	for range enqueueRetries {
		err := s.client.Watch(ctx, txf, jobsKey)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil && !errors.Is(err, models.ErrDuplicateVideo) {
			return fmt.Errorf("enqueueing videos: %w", err)
		}
		return err
	}
	return fmt.Errorf("enqueueing videos: %w", redis.TxFailedErr)
}

func (s *RedisStore) Queue(ctx context.Context) ([]models.VideoJob, error) {
	ids, err := s.client.LRange(ctx, s.key("queue"), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("listing queue: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	values, err := s.client.HMGet(ctx, s.key("queue", "jobs"), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("loading queued videos: %w", err)
	}

	jobs := make([]models.VideoJob, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// Removed between the two reads.
			continue
		}
		var j models.VideoJob
		if err := json.Unmarshal([]byte(raw), &j); err != nil {
			return nil, fmt.Errorf("decoding queued video %s: %w", ids[i], err)
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

func (s *RedisStore) Dequeue(ctx context.Context, videoID string) (bool, error) {
	var removed *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		removed = pipe.HDel(ctx, s.key("queue", "jobs"), videoID)
		pipe.LRem(ctx, s.key("queue"), 0, videoID)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("dequeueing %s: %w", videoID, err)
	}
	return removed.Val() > 0, nil
}

func (s *RedisStore) ClearQueue(ctx context.Context) (int64, error) {
	var count *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		count = pipe.HLen(ctx, s.key("queue", "jobs"))
		pipe.Del(ctx, s.key("queue"), s.key("queue", "jobs"))
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("clearing queue: %w", err)
	}
	return count.Val(), nil
}

func (s *RedisStore) RecordOutcome(ctx context.Context, outcome *models.VideoOutcome) error {
	now := s.now().UTC()
	if outcome.ID.IsZero() {
		outcome.ID = models.NewULID()
	}
	if outcome.CreatedAt.IsZero() {
		outcome.CreatedAt = now
	}
	outcome.UpdatedAt = now

	data, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("encoding outcome: %w", err)
	}
	if err := s.client.HSet(ctx, s.key("outcomes", outcome.RunID.String()), outcome.ID.String(), data).Err(); err != nil {
		return fmt.Errorf("recording outcome: %w", err)
	}
	return nil
}

// Outcomes returns the run's outcomes in creation order. Outcome ids are
// ULIDs, so sorting by id is enough.
func (s *RedisStore) Outcomes(ctx context.Context, runID models.ULID) ([]*models.VideoOutcome, error) {
	all, err := s.client.HGetAll(ctx, s.key("outcomes", runID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("listing outcomes: %w", err)
	}

	ids := make([]string, 0, len(all))
	for id := range all {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	out := make([]*models.VideoOutcome, 0, len(ids))
	for _, id := range ids {
		var o models.VideoOutcome
		if err := json.Unmarshal([]byte(all[id]), &o); err != nil {
			return nil, fmt.Errorf("decoding outcome %s: %w", id, err)
		}
		out = append(out, &o)
	}
	return out, nil
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

var _ Store = (*RedisStore)(nil)
