package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"node-service/internal/model"
)

func newRun(op model.Operation, startedAt time.Time, ports ...string) *model.DiscoveryResult {
	run := &model.DiscoveryResult{
		ID:         uuid.New(),
		Operation:  op,
		BaudRate:   9600,
		StartedAt:  startedAt,
		FinishedAt: startedAt.Add(time.Second),
	}
	for _, port := range ports {
		run.Devices = append(run.Devices, model.DeviceRow{Port: model.Port{Name: port}, BaudRate: 9600})
	}
	return run
}

func TestMemoryRepositorySaveAndGet(t *testing.T) {
	repo := NewMemoryRepository(zap.NewNop())
	ctx := context.Background()
	run := newRun(model.OperationAvailableDevices, time.Now(), "COM1", "COM2")

	require.NoError(t, repo.SaveRun(ctx, run))
	run.Devices[0].DeviceName = "mutated"

	got, err := repo.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.ID, got.ID)
	require.Len(t, got.Devices, 2)
	assert.Empty(t, got.Devices[0].DeviceName, "stored copy is isolated from the caller")

	_, err = repo.GetRun(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestMemoryRepositoryListFilters(t *testing.T) {
	repo := NewMemoryRepository(zap.NewNop())
	ctx := context.Background()
	now := time.Now()

	oldest := newRun(model.OperationAvailableDevices, now.Add(-3*time.Hour), "COM1")
	middle := newRun(model.OperationReadDeviceID, now.Add(-2*time.Hour), "COM2")
	newest := newRun(model.OperationAvailableDevices, now.Add(-time.Hour), "COM1", "COM2")
	for _, run := range []*model.DiscoveryResult{middle, oldest, newest} {
		require.NoError(t, repo.SaveRun(ctx, run))
	}

	all, err := repo.ListRuns(ctx, nil)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []uuid.UUID{newest.ID, middle.ID, oldest.ID}, []uuid.UUID{all[0].ID, all[1].ID, all[2].ID})

	batch, err := repo.ListRuns(ctx, &RunFilter{Operation: model.OperationAvailableDevices})
	require.NoError(t, err)
	assert.Len(t, batch, 2)

	withCOM2, err := repo.ListRuns(ctx, &RunFilter{Port: "COM2", Limit: 1})
	require.NoError(t, err)
	require.Len(t, withCOM2, 1)
	assert.Equal(t, newest.ID, withCOM2[0].ID)

	since := now.Add(-150 * time.Minute)
	recent, err := repo.ListRuns(ctx, &RunFilter{Since: &since})
	require.NoError(t, err)
	assert.Len(t, recent, 2)
}

func TestMemoryRepositoryDeleteRunsBefore(t *testing.T) {
	repo := NewMemoryRepository(zap.NewNop())
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, repo.SaveRun(ctx, newRun(model.OperationAvailableDevices, now.Add(-48*time.Hour))))
	keep := newRun(model.OperationAvailableDevices, now)
	require.NoError(t, repo.SaveRun(ctx, keep))

	deleted, err := repo.DeleteRunsBefore(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	runs, err := repo.ListRuns(ctx, nil)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, keep.ID, runs[0].ID)
}
