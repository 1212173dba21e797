// Package tasks contains the ingestion task model's runtime: the Redis task
// store (snapshots, in-flight index, cancel flags, locks, pub/sub), the
// Kafka task queue, and the coordinator that executes the ingestion plan.
package tasks

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/tyqqj0/paper-parser/internal/domain"
)

// Redis key prefixes.
const (
	taskKeyPrefix    = "task:"
	sourceKeyPrefix  = "task:src:"
	cancelKeyPrefix  = "task:cancel:"
	lockKeyPrefix    = "lock:"
	eventChanPrefix  = "task:events:"
	activeSnapshotTL = 24 * time.Hour
)

// StoreConfig holds task store settings.
type StoreConfig struct {
	// ResultTTL is how long terminal task snapshots are retained.
	ResultTTL time.Duration
}

// Store persists task snapshots and fans out task events over Redis.
// It also carries the per-task cancel flags and the dedup locks; these are
// the only process-external mutable structures the coordinator touches.
type Store struct {
	client    *redis.Client
	resultTTL time.Duration
	logger    zerolog.Logger
}

// NewStore creates a task store on an existing Redis client.
func NewStore(cfg StoreConfig, client *redis.Client, logger zerolog.Logger) *Store {
	resultTTL := cfg.ResultTTL
	if resultTTL <= 0 {
		resultTTL = time.Hour
	}
	return &Store{
		client:    client,
		resultTTL: resultTTL,
		logger:    logger.With().Str("component", "taskstore").Logger(),
	}
}

// SaveTask persists a task snapshot. Terminal snapshots get the result TTL;
// active ones a generous safety TTL. The in-flight source index entry is
// maintained alongside.
func (s *Store) SaveTask(ctx context.Context, task *domain.Task) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encoding task: %w", err)
	}

	ttl := activeSnapshotTL
	if task.ExecutionStatus.IsTerminal() {
		ttl = s.resultTTL
	}
	if err := s.client.Set(ctx, taskKeyPrefix+task.TaskID, payload, ttl).Err(); err != nil {
		return fmt.Errorf("saving task %s: %w", task.TaskID, err)
	}

	if task.SubmittedSource != "" {
		key := sourceKey(task.SubmittedSource)
		if task.ExecutionStatus.IsTerminal() {
			_ = s.client.Del(ctx, key).Err()
		} else {
			_ = s.client.Set(ctx, key, task.TaskID, activeSnapshotTL).Err()
		}
	}
	return nil
}

// GetTask loads a task snapshot.
func (s *Store) GetTask(ctx context.Context, taskID string) (*domain.Task, error) {
	payload, err := s.client.Get(ctx, taskKeyPrefix+taskID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.NewNotFoundError("task", taskID)
		}
		return nil, fmt.Errorf("loading task %s: %w", taskID, err)
	}

	var task domain.Task
	if err := json.Unmarshal(payload, &task); err != nil {
		return nil, fmt.Errorf("decoding task %s: %w", taskID, err)
	}
	return &task, nil
}

// FindActiveBySource returns a pending or processing task for the same
// canonical source created within the staleness window, or nil.
func (s *Store) FindActiveBySource(ctx context.Context, source string, window time.Duration) (*domain.Task, error) {
	if source == "" {
		return nil, nil
	}
	taskID, err := s.client.Get(ctx, sourceKey(source)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("looking up source index: %w", err)
	}

	task, err := s.GetTask(ctx, taskID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if task.ExecutionStatus.IsTerminal() {
		return nil, nil
	}
	if window > 0 && time.Since(task.CreatedAt) > window {
		// Stale in-flight entry; treat as absent.
		return nil, nil
	}
	return task, nil
}

// RequestCancel raises the cooperative cancel flag for a task.
func (s *Store) RequestCancel(ctx context.Context, taskID string) error {
	if err := s.client.Set(ctx, cancelKeyPrefix+taskID, "1", activeSnapshotTL).Err(); err != nil {
		return fmt.Errorf("raising cancel flag for %s: %w", taskID, err)
	}
	return nil
}

// IsCancelled reads the cooperative cancel flag.
func (s *Store) IsCancelled(ctx context.Context, taskID string) bool {
	v, err := s.client.Exists(ctx, cancelKeyPrefix+taskID).Result()
	return err == nil && v > 0
}

// Acquire takes a best-effort distributed lock. The returned release
// function is safe to call once. Lock failure returns an error; callers
// treat the lock as an optimization, not a correctness dependency.
func (s *Store) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	ok, err := s.client.SetNX(ctx, lockKeyPrefix+key, "1", ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquiring lock %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("lock %s is held", key)
	}
	return func() {
		_ = s.client.Del(context.Background(), lockKeyPrefix+key).Err()
	}, nil
}

// Publish sends a task event to the task's pub/sub channel.
func (s *Store) Publish(ctx context.Context, event *domain.TaskEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	if err := s.client.Publish(ctx, eventChanPrefix+event.TaskID, payload).Err(); err != nil {
		return fmt.Errorf("publishing event for %s: %w", event.TaskID, err)
	}
	return nil
}

// Subscribe opens the task's event channel. The returned cancel function
// closes the subscription and the channel.
func (s *Store) Subscribe(ctx context.Context, taskID string) (<-chan *domain.TaskEvent, func()) {
	sub := s.client.Subscribe(ctx, eventChanPrefix+taskID)
	out := make(chan *domain.TaskEvent, 16)

	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			var event domain.TaskEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				s.logger.Warn().Err(err).Str("task_id", taskID).Msg("dropping malformed task event")
				continue
			}
			select {
			case out <- &event:
			case <-ctx.Done():
				return
			default:
				// Slow consumer; drop rather than block the fan-out.
				s.logger.Warn().Str("task_id", taskID).Msg("event channel full, dropping event")
			}
		}
	}()

	return out, func() { _ = sub.Close() }
}

// sourceKey hashes the canonical source into a bounded Redis key.
func sourceKey(source string) string {
	sum := sha256.Sum256([]byte(source))
	return sourceKeyPrefix + hex.EncodeToString(sum[:16])
}
