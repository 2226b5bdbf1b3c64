package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ideaforge/api/internal/model"
)

// ErrRecordNotFound is returned when no record exists for the ID.
var ErrRecordNotFound = errors.New("blueprint record not found")

// ErrNotOwner is returned when the record exists but belongs to a
// different user.
var ErrNotOwner = errors.New("blueprint record owned by another user")

const keyPrefix = "blueprint:job:"

// BlueprintStore persists blueprint job records in Redis as JSON blobs
// with a TTL. It is the single source of truth for cross-process
// blueprint status.
type BlueprintStore struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewBlueprintStore(redisClient *redis.Client, ttl time.Duration) *BlueprintStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &BlueprintStore{redis: redisClient, ttl: ttl}
}

// Create stores a new record. The record's ID doubles as the job ID.
func (s *BlueprintStore) Create(ctx context.Context, rec *model.BlueprintRecord) error {
	return s.save(ctx, rec)
}

// Get loads a record by ID.
func (s *BlueprintStore) Get(ctx context.Context, id string) (*model.BlueprintRecord, error) {
	data, err := s.redis.Get(ctx, keyPrefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("get blueprint record: %w", err)
	}
	var rec model.BlueprintRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode blueprint record: %w", err)
	}
	return &rec, nil
}

// GetOwned loads a record and verifies ownership.
func (s *BlueprintStore) GetOwned(ctx context.Context, id, userID string) (*model.BlueprintRecord, error) {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.UserID != userID {
		return nil, ErrNotOwner
	}
	return rec, nil
}

// MarkRunning transitions a pending record to running and stamps
// StartedAt. Terminal records are left untouched.
func (s *BlueprintStore) MarkRunning(ctx context.Context, id string) error {
	return s.mutate(ctx, id, func(rec *model.BlueprintRecord) {
		if rec.Status.Terminal() {
			return
		}
		rec.Status = model.RecordStatusRunning
		if rec.StartedAt == nil {
			now := time.Now()
			rec.StartedAt = &now
		}
	})
}

// UpdateProgress records a progress milestone.
func (s *BlueprintStore) UpdateProgress(ctx context.Context, id string, progress int, step string) error {
	return s.mutate(ctx, id, func(rec *model.BlueprintRecord) {
		if rec.Status.Terminal() {
			return
		}
		if rec.Status == model.RecordStatusPending {
			rec.Status = model.RecordStatusRunning
			now := time.Now()
			rec.StartedAt = &now
		}
		if progress > rec.Progress {
			rec.Progress = progress
		}
		rec.CurrentStep = step
	})
}

// Complete finalizes a record with its output.
func (s *BlueprintStore) Complete(ctx context.Context, id string, output json.RawMessage) error {
	return s.mutate(ctx, id, func(rec *model.BlueprintRecord) {
		if rec.Status.Terminal() {
			return
		}
		now := time.Now()
		rec.Status = model.RecordStatusSucceeded
		rec.Progress = 100
		rec.CurrentStep = ""
		rec.Output = output
		rec.CompletedAt = &now
	})
}

// Fail finalizes a record with a failure reason.
func (s *BlueprintStore) Fail(ctx context.Context, id string, reason string) error {
	return s.mutate(ctx, id, func(rec *model.BlueprintRecord) {
		if rec.Status.Terminal() {
			return
		}
		now := time.Now()
		rec.Status = model.RecordStatusFailed
		rec.Error = &reason
		rec.CompletedAt = &now
	})
}

// Cancel marks a non-terminal record cancelled.
func (s *BlueprintStore) Cancel(ctx context.Context, id string) error {
	return s.mutate(ctx, id, func(rec *model.BlueprintRecord) {
		if rec.Status.Terminal() {
			return
		}
		now := time.Now()
		rec.Status = model.RecordStatusCancelled
		rec.CompletedAt = &now
	})
}

// Delete removes a record.
func (s *BlueprintStore) Delete(ctx context.Context, id string) error {
	return s.redis.Del(ctx, keyPrefix+id).Err()
}

// PurgeOlderThan deletes terminal records older than maxAge and returns
// how many were removed. Used by the stale job cleanup worker; TTL
// expiry covers anything this misses.
func (s *BlueprintStore) PurgeOlderThan(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)
	var removed int

	iter := s.redis.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		data, err := s.redis.Get(ctx, key).Bytes()
		if err != nil {
			continue
		}
		var rec model.BlueprintRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			continue
		}
		if rec.Status.Terminal() && rec.CompletedAt != nil && rec.CompletedAt.Before(cutoff) {
			if err := s.redis.Del(ctx, key).Err(); err == nil {
				removed++
			}
		}
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("scan blueprint records: %w", err)
	}
	return removed, nil
}

func (s *BlueprintStore) save(ctx context.Context, rec *model.BlueprintRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode blueprint record: %w", err)
	}
	return s.redis.Set(ctx, keyPrefix+rec.ID, data, s.ttl).Err()
}

func (s *BlueprintStore) mutate(ctx context.Context, id string, fn func(*model.BlueprintRecord)) error {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	fn(rec)
	return s.save(ctx, rec)
}
