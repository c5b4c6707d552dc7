package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"eznotify/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// ===================== Locker Mock =========================

type mockLocker struct {
	mu    sync.Mutex
	allow bool
	calls []string
}

func (m *mockLocker) AcquireOnce(_ context.Context, task, slot string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, task+":"+slot)
	return m.allow
}

func seedProcessing(store *memStore, id string, startedAgo time.Duration, attempts int) {
	now := time.Now().UTC()
	started := now.Add(-startedAgo)
	store.put(model.Job{
		ID:           id,
		Type:         model.JobTypeReminder,
		Recipient:    "user@example.com",
		Priority:     model.PriorityNormal,
		Status:       model.StatusProcessing,
		Attempts:     attempts,
		MaxAttempts:  3,
		ScheduledFor: now.Add(-time.Hour),
		CreatedAt:    now.Add(-time.Hour),
		StartedAt:    &started,
	})
}

func TestJanitor_ReaperRequeuesOnlyStaleJobs(t *testing.T) {
	store := newMemStore()
	seedProcessing(store, "stale", 20*time.Minute, 2)
	seedProcessing(store, "fresh", time.Minute, 1)

	j := NewJanitor(store, NewObserver(store, zap.NewNop()), zap.NewNop()).
		WithStaleAfter(15 * time.Minute)

	j.RunReaper(context.Background())

	stale := store.get("stale")
	assert.Equal(t, model.StatusPending, stale.Status)
	assert.Nil(t, stale.StartedAt)
	assert.Contains(t, stale.LastError, "requeued")
	// attempts 不回退也不增加
	assert.Equal(t, 2, stale.Attempts)

	fresh := store.get("fresh")
	assert.Equal(t, model.StatusProcessing, fresh.Status)
	assert.Equal(t, 1, fresh.Attempts)
}

func TestJanitor_ReaperSkipsWhenLockDenied(t *testing.T) {
	store := newMemStore()
	seedProcessing(store, "stale", time.Hour, 1)

	locker := &mockLocker{allow: false}
	j := NewJanitor(store, NewObserver(store, zap.NewNop()), zap.NewNop()).
		WithLocker(locker).
		WithStaleAfter(15 * time.Minute)

	j.RunReaper(context.Background())

	assert.Equal(t, model.StatusProcessing, store.get("stale").Status)
	require.Len(t, locker.calls, 1)
	assert.Contains(t, locker.calls[0], "reaper:")
}

func TestJanitor_ReaperRunsWhenLockGranted(t *testing.T) {
	store := newMemStore()
	seedProcessing(store, "stale", time.Hour, 1)

	locker := &mockLocker{allow: true}
	j := NewJanitor(store, NewObserver(store, zap.NewNop()), zap.NewNop()).
		WithLocker(locker).
		WithStaleAfter(15 * time.Minute)

	j.RunReaper(context.Background())

	assert.Equal(t, model.StatusPending, store.get("stale").Status)
}

func TestJanitor_CleanupUsesRetention(t *testing.T) {
	store := newMemStore()
	now := time.Now().UTC()
	seedStatus(store, "ancient", model.StatusCompleted, now.AddDate(0, 0, -60))
	seedStatus(store, "recent", model.StatusCompleted, now.AddDate(0, 0, -3))

	j := NewJanitor(store, NewObserver(store, zap.NewNop()), zap.NewNop()).
		WithRetentionDays(7)

	j.RunCleanup(context.Background())

	counts, err := store.CountByStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, counts[model.StatusCompleted])

	_, err = store.GetJob(context.Background(), "ancient")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestJanitor_StartStop(t *testing.T) {
	store := newMemStore()
	j := NewJanitor(store, NewObserver(store, zap.NewNop()), zap.NewNop())

	require.NoError(t, j.Start())
	j.Stop()
}

func TestJanitor_StartRejectsBadSchedule(t *testing.T) {
	store := newMemStore()
	j := NewJanitor(store, NewObserver(store, zap.NewNop()), zap.NewNop()).
		WithSchedules("not-a-cron-spec", "")

	assert.Error(t, j.Start())
}
