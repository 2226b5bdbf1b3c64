package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ideaforge/api/internal/model"
)

// testStore connects to a local Redis on DB 15 and skips the test when
// none is reachable, so the suite stays runnable without infrastructure.
func testStore(t *testing.T) (*BlueprintStore, *redis.Client) {
	t.Helper()
	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15,
	})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})
	return NewBlueprintStore(client, time.Hour), client
}

func newRecord(userID string) *model.BlueprintRecord {
	return &model.BlueprintRecord{
		ID:        uuid.New().String(),
		UserID:    userID,
		ProjectID: "proj-1",
		Status:    model.RecordStatusPending,
		Input:     json.RawMessage(`{"originalIdea":"a habit tracker"}`),
		CreatedAt: time.Now(),
	}
}

func TestCreateAndGet(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()

	rec := newRecord("user-1")
	require.NoError(t, s.Create(ctx, rec))

	got, err := s.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, model.RecordStatusPending, got.Status)
	assert.JSONEq(t, string(rec.Input), string(got.Input))
}

func TestGetMissingRecord(t *testing.T) {
	s, _ := testStore(t)

	_, err := s.Get(context.Background(), "no-such-id")
	require.ErrorIs(t, err, ErrRecordNotFound)
}

func TestGetOwned(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()

	rec := newRecord("user-1")
	require.NoError(t, s.Create(ctx, rec))

	got, err := s.GetOwned(ctx, rec.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)

	_, err = s.GetOwned(ctx, rec.ID, "user-2")
	require.ErrorIs(t, err, ErrNotOwner)
}

func TestLifecycleTransitions(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()

	rec := newRecord("user-1")
	require.NoError(t, s.Create(ctx, rec))

	require.NoError(t, s.MarkRunning(ctx, rec.ID))
	got, err := s.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RecordStatusRunning, got.Status)
	require.NotNil(t, got.StartedAt)

	require.NoError(t, s.UpdateProgress(ctx, rec.ID, 40, "Designing modules"))
	got, err = s.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, 40, got.Progress)
	assert.Equal(t, "Designing modules", got.CurrentStep)

	output := json.RawMessage(`{"title":"Habit Tracker"}`)
	require.NoError(t, s.Complete(ctx, rec.ID, output))
	got, err = s.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RecordStatusSucceeded, got.Status)
	assert.Equal(t, 100, got.Progress)
	assert.Empty(t, got.CurrentStep)
	require.NotNil(t, got.CompletedAt)
	assert.JSONEq(t, string(output), string(got.Output))
}

func TestProgressIsMonotonicInStore(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()

	rec := newRecord("user-1")
	require.NoError(t, s.Create(ctx, rec))
	require.NoError(t, s.UpdateProgress(ctx, rec.ID, 60, "step 3"))
	require.NoError(t, s.UpdateProgress(ctx, rec.ID, 20, "late step 1"))

	got, err := s.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, 60, got.Progress, "lower progress must not regress the record")
	assert.Equal(t, "late step 1", got.CurrentStep)
}

func TestTerminalRecordsAreImmutable(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()

	rec := newRecord("user-1")
	require.NoError(t, s.Create(ctx, rec))
	require.NoError(t, s.Fail(ctx, rec.ID, "model call failed"))

	require.NoError(t, s.MarkRunning(ctx, rec.ID))
	require.NoError(t, s.UpdateProgress(ctx, rec.ID, 90, "late update"))
	require.NoError(t, s.Complete(ctx, rec.ID, json.RawMessage(`{}`)))
	require.NoError(t, s.Cancel(ctx, rec.ID))

	got, err := s.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RecordStatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, "model call failed", *got.Error)
	assert.Zero(t, got.Progress)
}

func TestCancelRecord(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()

	rec := newRecord("user-1")
	require.NoError(t, s.Create(ctx, rec))
	require.NoError(t, s.Cancel(ctx, rec.ID))

	got, err := s.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RecordStatusCancelled, got.Status)
	require.NotNil(t, got.CompletedAt)
}

func TestRecordsCarryTTL(t *testing.T) {
	s, client := testStore(t)
	ctx := context.Background()

	rec := newRecord("user-1")
	require.NoError(t, s.Create(ctx, rec))

	ttl, err := client.TTL(ctx, keyPrefix+rec.ID).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, time.Hour)
}

func TestPurgeOlderThan(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()

	// Old terminal record: purged.
	old := newRecord("user-1")
	require.NoError(t, s.Create(ctx, old))
	require.NoError(t, s.Fail(ctx, old.ID, "old failure"))
	stale, err := s.Get(ctx, old.ID)
	require.NoError(t, err)
	past := time.Now().Add(-48 * time.Hour)
	stale.CompletedAt = &past
	require.NoError(t, s.Create(ctx, stale))

	// Fresh terminal record and a pending one: kept.
	fresh := newRecord("user-1")
	require.NoError(t, s.Create(ctx, fresh))
	require.NoError(t, s.Complete(ctx, fresh.ID, json.RawMessage(`{}`)))
	pending := newRecord("user-1")
	require.NoError(t, s.Create(ctx, pending))

	removed, err := s.PurgeOlderThan(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = s.Get(ctx, old.ID)
	require.ErrorIs(t, err, ErrRecordNotFound)
	_, err = s.Get(ctx, fresh.ID)
	require.NoError(t, err)
	_, err = s.Get(ctx, pending.ID)
	require.NoError(t, err)
}

func TestDeleteRecord(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()

	rec := newRecord("user-1")
	require.NoError(t, s.Create(ctx, rec))
	require.NoError(t, s.Delete(ctx, rec.ID))

	_, err := s.Get(ctx, rec.ID)
	require.ErrorIs(t, err, ErrRecordNotFound)
}
