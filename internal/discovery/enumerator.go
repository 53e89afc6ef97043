// internal/discovery/enumerator.go
package discovery

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
	"go.uber.org/zap"

	"node-service/internal/model"
)

// PortLister produces candidate ports
type PortLister interface {
	ListPorts(ctx context.Context) ([]model.Port, error)
}

// PortEnricher adds metadata to enumerated ports
type PortEnricher interface {
	Enrich(ctx context.Context, ports []model.Port) []model.Port
}

// SerialEnumerator lists the serial ports visible to the OS
type SerialEnumerator struct {
	patterns []string
	enricher PortEnricher
	logger   *zap.Logger

	detailed func() ([]*enumerator.PortDetails, error)
	plain    func() ([]string, error)
}

// EnumeratorOption configures a SerialEnumerator
type EnumeratorOption func(*SerialEnumerator)

// WithEnricher attaches a metadata enricher
func WithEnricher(e PortEnricher) EnumeratorOption {
	return func(se *SerialEnumerator) { se.enricher = e }
}

// NewSerialEnumerator creates an enumerator. Ports are kept when they match
// any of the glob patterns; no patterns keeps every port.
func NewSerialEnumerator(patterns []string, logger *zap.Logger, opts ...EnumeratorOption) *SerialEnumerator {
	se := &SerialEnumerator{
		patterns: patterns,
		logger:   logger.With(zap.String("component", "port-enumerator")),
		detailed: enumerator.GetDetailedPortsList,
		plain:    serial.GetPortsList,
	}
	for _, opt := range opts {
		opt(se)
	}
	return se
}

// ListPorts returns the matching ports sorted by name
func (se *SerialEnumerator) ListPorts(ctx context.Context) ([]model.Port, error) {
	ports, err := se.list()
	if err != nil {
		return nil, err
	}

	var filtered []model.Port
	for _, port := range ports {
		if se.matches(port.Name) {
			filtered = append(filtered, port)
		}
	}
	sort.Slice(filtered, func(i, j int) bool { return filtered[i].Name < filtered[j].Name })

	if se.enricher != nil && len(filtered) > 0 {
		filtered = se.enricher.Enrich(ctx, filtered)
	}

	se.logger.Debug("Enumerated serial ports",
		zap.Int("found", len(ports)),
		zap.Int("matched", len(filtered)),
	)
	return filtered, nil
}

func (se *SerialEnumerator) list() ([]model.Port, error) {
	details, err := se.detailed()
	if err == nil {
		ports := make([]model.Port, 0, len(details))
		for _, d := range details {
			ports = append(ports, model.Port{
				Name:         d.Name,
				IsUSB:        d.IsUSB,
				VID:          d.VID,
				PID:          d.PID,
				SerialNumber: d.SerialNumber,
				Product:      d.Product,
			})
		}
		return ports, nil
	}

	se.logger.Debug("Detailed port enumeration unavailable, falling back to names", zap.Error(err))
	names, err := se.plain()
	if err != nil {
		return nil, fmt.Errorf("failed to get serial ports: %w", err)
	}
	ports := make([]model.Port, 0, len(names))
	for _, name := range names {
		ports = append(ports, model.Port{Name: name})
	}
	return ports, nil
}

func (se *SerialEnumerator) matches(name string) bool {
	if len(se.patterns) == 0 {
		return true
	}
	for _, pattern := range se.patterns {
		if ok, err := filepath.Match(pattern, name); err == nil && ok {
			return true
		}
	}
	return false
}

// StaticPorts is a PortLister over a fixed set of ports
type StaticPorts []model.Port

// ListPorts returns a copy of the ports
func (sp StaticPorts) ListPorts(context.Context) ([]model.Port, error) {
	return append([]model.Port(nil), sp...), nil
}
