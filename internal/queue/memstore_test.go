package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"eznotify/internal/model"
)

// memStore is an in-memory Store with the same conditional transition
// semantics as the PostgreSQL repository. Safe for concurrent use.
type memStore struct {
	mu   sync.Mutex
	jobs map[string]*model.Job

	claimErr error
	markErr  error
}

var _ Store = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{jobs: make(map[string]*model.Job)}
}

func (m *memStore) Insert(_ context.Context, job *model.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *job
	m.jobs[job.ID] = &cp
	return nil
}

func (m *memStore) ClaimBatch(_ context.Context, limit int, now time.Time) ([]model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.claimErr != nil {
		return nil, m.claimErr
	}

	candidates := make([]*model.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if j.Status == model.StatusPending && !j.ScheduledFor.After(now) {
			candidates = append(candidates, j)
		}
	}

	sort.Slice(candidates, func(i, k int) bool {
		if candidates[i].Priority.Rank() != candidates[k].Priority.Rank() {
			return candidates[i].Priority.Rank() < candidates[k].Priority.Rank()
		}
		if !candidates[i].CreatedAt.Equal(candidates[k].CreatedAt) {
			return candidates[i].CreatedAt.Before(candidates[k].CreatedAt)
		}
		return candidates[i].ID < candidates[k].ID
	})

	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	claimed := make([]model.Job, 0, len(candidates))
	for _, j := range candidates {
		j.Status = model.StatusProcessing
		j.Attempts++
		started := now
		j.StartedAt = &started
		claimed = append(claimed, *j)
	}
	return claimed, nil
}

func (m *memStore) MarkCompleted(_ context.Context, id string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.markErr != nil {
		return m.markErr
	}
	if j, ok := m.jobs[id]; ok && j.Status == model.StatusProcessing {
		j.Status = model.StatusCompleted
		done := now
		j.CompletedAt = &done
		j.LastError = ""
	}
	return nil
}

func (m *memStore) MarkRetry(_ context.Context, id, reason string, nextRun time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.markErr != nil {
		return m.markErr
	}
	if j, ok := m.jobs[id]; ok && j.Status == model.StatusProcessing {
		j.Status = model.StatusPending
		j.LastError = reason
		j.ScheduledFor = nextRun
		j.StartedAt = nil
	}
	return nil
}

func (m *memStore) MarkFailed(_ context.Context, id, reason string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.markErr != nil {
		return m.markErr
	}
	if j, ok := m.jobs[id]; ok && j.Status == model.StatusProcessing {
		j.Status = model.StatusFailed
		j.LastError = reason
		done := now
		j.CompletedAt = &done
	}
	return nil
}

func (m *memStore) Cancel(_ context.Context, id string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || (j.Status != model.StatusPending && j.Status != model.StatusProcessing) {
		return false, nil
	}
	j.Status = model.StatusCancelled
	done := now
	j.CompletedAt = &done
	return true, nil
}

func (m *memStore) Retry(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || j.Status != model.StatusFailed {
		return false, nil
	}
	j.Status = model.StatusPending
	j.LastError = ""
	j.CompletedAt = nil
	return true, nil
}

func (m *memStore) GetJob(_ context.Context, id string) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

func (m *memStore) CountByStatus(_ context.Context) (map[model.JobStatus]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[model.JobStatus]int)
	for _, j := range m.jobs {
		counts[j.Status]++
	}
	return counts, nil
}

func (m *memStore) ListByStatus(_ context.Context, status model.JobStatus, limit int) ([]model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	matched := make([]model.Job, 0)
	for _, j := range m.jobs {
		if j.Status == status {
			matched = append(matched, *j)
		}
	}
	sort.Slice(matched, func(i, k int) bool {
		return matched[i].CreatedAt.After(matched[k].CreatedAt)
	})
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (m *memStore) DeleteCompletedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var deleted int64
	for id, j := range m.jobs {
		if j.Status == model.StatusCompleted && j.CompletedAt != nil && j.CompletedAt.Before(cutoff) {
			delete(m.jobs, id)
			deleted++
		}
	}
	return deleted, nil
}

func (m *memStore) RequeueStale(_ context.Context, olderThan time.Duration, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := now.Add(-olderThan)
	var requeued int64
	for _, j := range m.jobs {
		if j.Status == model.StatusProcessing && j.StartedAt != nil && j.StartedAt.Before(cutoff) {
			j.Status = model.StatusPending
			j.StartedAt = nil
			j.LastError = "requeued: processing claim expired"
			requeued++
		}
	}
	return requeued, nil
}

// get returns a snapshot of a stored job for assertions.
func (m *memStore) get(id string) model.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.jobs[id]
}

// put stores a job snapshot directly, bypassing Enqueue validation.
func (m *memStore) put(job model.Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := job
	m.jobs[job.ID] = &cp
}
