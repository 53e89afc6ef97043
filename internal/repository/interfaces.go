// internal/repository/interfaces.go
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"node-service/internal/model"
)

// ErrRunNotFound is returned when no run has the requested ID
var ErrRunNotFound = errors.New("discovery run not found")

// DiscoveryRepository stores completed discovery runs
type DiscoveryRepository interface {
	SaveRun(ctx context.Context, run *model.DiscoveryResult) error
	GetRun(ctx context.Context, id uuid.UUID) (*model.DiscoveryResult, error)
	// ListRuns returns runs newest first
	ListRuns(ctx context.Context, filter *RunFilter) ([]*model.DiscoveryResult, error)
	DeleteRunsBefore(ctx context.Context, before time.Time) (int64, error)
}

// RunFilter narrows ListRuns. Zero fields match everything.
type RunFilter struct {
	Operation model.Operation `json:"operation,omitempty"`
	Port      string          `json:"port,omitempty"`
	Since     *time.Time      `json:"since,omitempty"`
	Limit     int             `json:"limit"`
}

func (f *RunFilter) matches(run *model.DiscoveryResult) bool {
	if f == nil {
		return true
	}
	if f.Operation != "" && run.Operation != f.Operation {
		return false
	}
	if f.Since != nil && run.StartedAt.Before(*f.Since) {
		return false
	}
	if f.Port != "" {
		if _, ok := run.Devices.Find(f.Port); !ok {
			return false
		}
	}
	return true
}
