// internal/repository/memory_repository.go
package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"node-service/internal/model"
)

// memoryRepository keeps runs in process memory, used when no database is configured
type memoryRepository struct {
	mu     sync.RWMutex
	runs   map[uuid.UUID]*model.DiscoveryResult
	logger *zap.Logger
}

// NewMemoryRepository creates an empty in-memory repository
func NewMemoryRepository(logger *zap.Logger) DiscoveryRepository {
	return &memoryRepository{
		runs:   make(map[uuid.UUID]*model.DiscoveryResult),
		logger: logger,
	}
}

func (r *memoryRepository) SaveRun(_ context.Context, run *model.DiscoveryResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[run.ID] = cloneRun(run)
	return nil
}

func (r *memoryRepository) GetRun(_ context.Context, id uuid.UUID) (*model.DiscoveryResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.runs[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	return cloneRun(run), nil
}

func (r *memoryRepository) ListRuns(_ context.Context, filter *RunFilter) ([]*model.DiscoveryResult, error) {
	r.mu.RLock()
	runs := make([]*model.DiscoveryResult, 0, len(r.runs))
	for _, run := range r.runs {
		if filter.matches(run) {
			runs = append(runs, cloneRun(run))
		}
	}
	r.mu.RUnlock()

	sort.Slice(runs, func(i, j int) bool { return runs[i].StartedAt.After(runs[j].StartedAt) })
	if filter != nil && filter.Limit > 0 && len(runs) > filter.Limit {
		runs = runs[:filter.Limit]
	}
	return runs, nil
}

func (r *memoryRepository) DeleteRunsBefore(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var deleted int64
	for id, run := range r.runs {
		if run.StartedAt.Before(before) {
			delete(r.runs, id)
			deleted++
		}
	}
	if deleted > 0 {
		r.logger.Debug("Deleted expired runs", zap.Int64("count", deleted))
	}
	return deleted, nil
}

func cloneRun(run *model.DiscoveryResult) *model.DiscoveryResult {
	c := *run
	c.Devices = append(model.DeviceTable(nil), run.Devices...)
	return &c
}
