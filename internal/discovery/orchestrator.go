// internal/discovery/orchestrator.go
package discovery

import (
	"context"
	"time"

	"github.com/sourcegraph/conc/iter"
	"go.uber.org/zap"

	"node-service/internal/model"
)

// RowObserver is called as each probe finishes, in completion order. Calls
// may come from several goroutines at once.
type RowObserver func(index int, row model.DeviceRow)

// Orchestrator probes many ports concurrently
type Orchestrator struct {
	prober         Prober
	maxConcurrency int
	logger         *zap.Logger
}

// NewOrchestrator creates an orchestrator. maxConcurrency <= 0 runs every
// probe at once.
func NewOrchestrator(prober Prober, maxConcurrency int, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		prober:         prober,
		maxConcurrency: maxConcurrency,
		logger:         logger.With(zap.String("component", "probe-orchestrator")),
	}
}

// BuildRequests creates one request per port with shared parameters
func BuildRequests(ports []model.Port, baudRate int, timeout time.Duration, settings model.SerialSettings) []model.ProbeRequest {
	requests := make([]model.ProbeRequest, len(ports))
	for i, port := range ports {
		requests[i] = model.ProbeRequest{
			Port:     port,
			BaudRate: baudRate,
			Timeout:  timeout,
			Settings: settings,
		}
	}
	return requests
}

// Dedupe drops requests for ports already requested, keeping the first
func Dedupe(requests []model.ProbeRequest) []model.ProbeRequest {
	seen := make(map[string]struct{}, len(requests))
	unique := make([]model.ProbeRequest, 0, len(requests))
	for _, req := range requests {
		if _, ok := seen[req.Port.Name]; ok {
			continue
		}
		seen[req.Port.Name] = struct{}{}
		unique = append(unique, req)
	}
	return unique
}

// Probe runs one identification per distinct port and returns a row for
// each, in request order. It returns once every probe is terminal; a failing
// port is recorded in its row and never aborts the batch.
func (o *Orchestrator) Probe(ctx context.Context, requests []model.ProbeRequest, observe RowObserver) model.DeviceTable {
	requests = Dedupe(requests)
	rows := make(model.DeviceTable, len(requests))
	if len(requests) == 0 {
		return rows
	}

	workers := len(requests)
	if o.maxConcurrency > 0 && o.maxConcurrency < workers {
		workers = o.maxConcurrency
	}

	start := time.Now()
	iter.Iterator[model.ProbeRequest]{MaxGoroutines: workers}.ForEachIdx(requests,
		func(i int, req *model.ProbeRequest) {
			rows[i] = model.NewDeviceRow(*req, o.prober.Identify(ctx, *req))
			if observe != nil {
				observe(i, rows[i])
			}
		})

	o.logger.Info("Probe batch completed",
		zap.Int("ports", len(rows)),
		zap.Int("identified", len(rows.Identified())),
		zap.Int("workers", workers),
		zap.Duration("duration", time.Since(start)),
	)
	return rows
}
