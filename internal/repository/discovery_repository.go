// internal/repository/discovery_repository.go
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"node-service/internal/database"
	"node-service/internal/model"
)

// discoveryRepository implements DiscoveryRepository on Postgres
type discoveryRepository struct {
	db     *database.DB
	logger *zap.Logger
}

// NewDiscoveryRepository creates a Postgres-backed repository
func NewDiscoveryRepository(db *database.DB, logger *zap.Logger) DiscoveryRepository {
	return &discoveryRepository{
		db:     db,
		logger: logger,
	}
}

// SaveRun stores a run and its rows in one transaction
func (r *discoveryRepository) SaveRun(ctx context.Context, run *model.DiscoveryResult) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO discovery_runs (id, operation, baud_rate, timeout_ms, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, run.ID, run.Operation, run.BaudRate, run.Timeout.Milliseconds(), run.StartedAt, run.FinishedAt)
	if err != nil {
		r.logger.Error("Failed to insert discovery run", zap.Error(err), zap.String("run_id", run.ID.String()))
		return fmt.Errorf("failed to insert discovery run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO discovery_results (
			run_id, position, port, description, is_usb, vid, pid, serial_number,
			product, manufacturer, baud_rate, device_name, device_version,
			status, error, duration_ms
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare result insert: %w", err)
	}
	defer stmt.Close()

	for i, row := range run.Devices {
		_, err := stmt.ExecContext(ctx,
			run.ID, i, row.Name, row.Description, row.IsUSB, row.VID, row.PID,
			row.SerialNumber, row.Product, row.Manufacturer, row.BaudRate,
			row.DeviceName, row.DeviceVersion, row.Status, row.Error,
			row.Duration.Milliseconds(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert result for %s: %w", row.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit discovery run: %w", err)
	}

	r.logger.Debug("Discovery run saved",
		zap.String("run_id", run.ID.String()),
		zap.Int("rows", len(run.Devices)),
	)
	return nil
}

// GetRun loads a run with its rows
func (r *discoveryRepository) GetRun(ctx context.Context, id uuid.UUID) (*model.DiscoveryResult, error) {
	run := &model.DiscoveryResult{}
	var timeoutMS int64
	err := r.db.QueryRowContext(ctx, `
		SELECT id, operation, baud_rate, timeout_ms, started_at, finished_at
		FROM discovery_runs WHERE id = $1
	`, id).Scan(&run.ID, &run.Operation, &run.BaudRate, &timeoutMS, &run.StartedAt, &run.FinishedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("failed to get discovery run: %w", err)
	}
	run.Timeout = time.Duration(timeoutMS) * time.Millisecond

	devices, err := r.loadRows(ctx, []uuid.UUID{id})
	if err != nil {
		return nil, err
	}
	run.Devices = devices[id]
	return run, nil
}

// ListRuns returns runs newest first
func (r *discoveryRepository) ListRuns(ctx context.Context, filter *RunFilter) ([]*model.DiscoveryResult, error) {
	query, args := listRunsQuery(filter)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list discovery runs: %w", err)
	}
	defer rows.Close()

	var (
		runs []*model.DiscoveryResult
		ids  []uuid.UUID
	)
	for rows.Next() {
		run := &model.DiscoveryResult{}
		var timeoutMS int64
		if err := rows.Scan(&run.ID, &run.Operation, &run.BaudRate, &timeoutMS, &run.StartedAt, &run.FinishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan discovery run: %w", err)
		}
		run.Timeout = time.Duration(timeoutMS) * time.Millisecond
		runs = append(runs, run)
		ids = append(ids, run.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate discovery runs: %w", err)
	}

	if len(ids) == 0 {
		return runs, nil
	}
	devices, err := r.loadRows(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, run := range runs {
		run.Devices = devices[run.ID]
	}
	return runs, nil
}

// listRunsQuery builds the run listing with numbered placeholders in
// argument order; the limit, when set, is always the last argument.
func listRunsQuery(filter *RunFilter) (string, []interface{}) {
	var (
		conditions []string
		args       []interface{}
	)
	if filter != nil {
		if filter.Operation != "" {
			args = append(args, filter.Operation)
			conditions = append(conditions, fmt.Sprintf("operation = $%d", len(args)))
		}
		if filter.Since != nil {
			args = append(args, *filter.Since)
			conditions = append(conditions, fmt.Sprintf("started_at >= $%d", len(args)))
		}
		if filter.Port != "" {
			args = append(args, filter.Port)
			conditions = append(conditions, fmt.Sprintf(
				"EXISTS (SELECT 1 FROM discovery_results dr WHERE dr.run_id = discovery_runs.id AND dr.port = $%d)", len(args)))
		}
	}

	query := "SELECT id, operation, baud_rate, timeout_ms, started_at, finished_at FROM discovery_runs"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY started_at DESC"
	if filter != nil && filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return query, args
}

// DeleteRunsBefore removes runs started before the cutoff; rows cascade
func (r *discoveryRepository) DeleteRunsBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, "DELETE FROM discovery_runs WHERE started_at < $1", before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old discovery runs: %w", err)
	}
	return result.RowsAffected()
}

func (r *discoveryRepository) loadRows(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]model.DeviceTable, error) {
	query, args := resultsQuery(ids)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load discovery results: %w", err)
	}
	defer rows.Close()

	tables := make(map[uuid.UUID]model.DeviceTable, len(ids))
	for rows.Next() {
		var (
			runID      uuid.UUID
			row        model.DeviceRow
			durationMS int64
		)
		err := rows.Scan(
			&runID, &row.Name, &row.Description, &row.IsUSB, &row.VID, &row.PID,
			&row.SerialNumber, &row.Product, &row.Manufacturer, &row.BaudRate,
			&row.DeviceName, &row.DeviceVersion, &row.Status, &row.Error, &durationMS,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan discovery result: %w", err)
		}
		row.Duration = time.Duration(durationMS) * time.Millisecond
		tables[runID] = append(tables[runID], row)
	}
	return tables, rows.Err()
}

func resultsQuery(ids []uuid.UUID) (string, []interface{}) {
	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}

	query := `
		SELECT run_id, port, description, is_usb, vid, pid, serial_number, product,
			   manufacturer, baud_rate, device_name, device_version, status, error, duration_ms
		FROM discovery_results
		WHERE run_id IN (` + strings.Join(placeholders, ", ") + `)
		ORDER BY run_id, position
	`
	return query, args
}
