package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/reachforge/crm-api/internal/entity"
)

var (
	// ErrImportBatchNotFound is returned when no batch matches the id.
	ErrImportBatchNotFound = errors.New("import batch not found")
	// ErrInvalidTransition is returned when a status change would move the
	// batch backwards or out of a terminal state.
	ErrInvalidTransition = errors.New("invalid import batch status transition")
)

// ImportBatchRepository describes persistence operations for import batches.
// IncrementCounter and AppendError are the two operations hit concurrently
// by row units; both must be atomic at the storage layer.
type ImportBatchRepository interface {
	Create(ctx context.Context, batch *entity.ImportBatch) error
	Get(ctx context.Context, id uuid.UUID) (*entity.ImportBatch, error)
	ListRecent(ctx context.Context, limit, offset int) ([]entity.ImportBatch, error)
	SetStatus(ctx context.Context, id uuid.UUID, status entity.ImportStatus) error
	SetColumnMapping(ctx context.Context, id uuid.UUID, mapping map[string]string) error
	SetOptions(ctx context.Context, id uuid.UUID, opts entity.ImportOptions) error
	SetTotalRows(ctx context.Context, id uuid.UUID, total int) error
	StartProcessing(ctx context.Context, id uuid.UUID) error
	CompleteProcessing(ctx context.Context, id uuid.UUID, success bool) error
	IncrementCounter(ctx context.Context, id uuid.UUID, action entity.ImportAction) error
	AppendError(ctx context.Context, id uuid.UUID, entry entity.ImportError) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// PGXImportBatchRepository implements ImportBatchRepository using pgx.
type PGXImportBatchRepository struct {
	pool pgxPool
}

// NewPGXImportBatchRepository wires a pgx backed repository.
func NewPGXImportBatchRepository(pool pgxPool) *PGXImportBatchRepository {
	return &PGXImportBatchRepository{pool: pool}
}

const importBatchColumns = `
	id, user_id, status, filename, original_filename, total_rows,
	imported_count, updated_count, skipped_count, error_count,
	column_mapping, options, error_log, started_at, finished_at,
	created_at, updated_at`

// Create inserts a fresh batch in the uploaded state.
func (r *PGXImportBatchRepository) Create(ctx context.Context, batch *entity.ImportBatch) error {
	if batch == nil {
		return fmt.Errorf("import batch payload is nil")
	}
	if batch.ID == uuid.Nil {
		batch.ID = uuid.New()
	}
	if batch.Status == "" {
		batch.Status = entity.ImportUploaded
	}

	mappingJSON, err := json.Marshal(mappingOrEmpty(batch.ColumnMapping))
	if err != nil {
		return fmt.Errorf("marshal column mapping: %w", err)
	}
	optionsJSON, err := json.Marshal(batch.Options)
	if err != nil {
		return fmt.Errorf("marshal options: %w", err)
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO import_batches (
			id, user_id, status, filename, original_filename, total_rows,
			column_mapping, options, error_log
		) VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8::jsonb, '[]'::jsonb)
		RETURNING created_at, updated_at
	`, batch.ID, batch.UserID, batch.Status, batch.Filename, batch.OriginalFilename,
		batch.TotalRows, string(mappingJSON), string(optionsJSON))

	if err := row.Scan(&batch.CreatedAt, &batch.UpdatedAt); err != nil {
		return fmt.Errorf("insert import batch: %w", err)
	}
	return nil
}

// Get fetches one batch with its full error log.
func (r *PGXImportBatchRepository) Get(ctx context.Context, id uuid.UUID) (*entity.ImportBatch, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+importBatchColumns+` FROM import_batches WHERE id = $1`, id)
	batch, err := scanImportBatch(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrImportBatchNotFound
		}
		return nil, fmt.Errorf("query import batch: %w", err)
	}
	return batch, nil
}

// ListRecent returns batches ordered by creation date, newest first.
func (r *PGXImportBatchRepository) ListRecent(ctx context.Context, limit, offset int) ([]entity.ImportBatch, error) {
	if limit <= 0 {
		limit = 15
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+importBatchColumns+`
		FROM import_batches
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list import batches: %w", err)
	}
	defer rows.Close()

	var batches []entity.ImportBatch
	for rows.Next() {
		batch, err := scanImportBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan import batch: %w", err)
		}
		batches = append(batches, *batch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate import batches: %w", err)
	}
	return batches, nil
}

// SetStatus moves the batch forward; terminal batches are never changed.
func (r *PGXImportBatchRepository) SetStatus(ctx context.Context, id uuid.UUID, status entity.ImportStatus) error {
	if !status.Valid() {
		return fmt.Errorf("unknown import status %q", status)
	}
	cmd, err := r.pool.Exec(ctx, `
		UPDATE import_batches
		SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status NOT IN ('completed', 'failed')
	`, id, status)
	if err != nil {
		return fmt.Errorf("set import batch status: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// SetColumnMapping persists the user-chosen mapping.
func (r *PGXImportBatchRepository) SetColumnMapping(ctx context.Context, id uuid.UUID, mapping map[string]string) error {
	payload, err := json.Marshal(mappingOrEmpty(mapping))
	if err != nil {
		return fmt.Errorf("marshal column mapping: %w", err)
	}
	cmd, err := r.pool.Exec(ctx, `
		UPDATE import_batches SET column_mapping = $2::jsonb, updated_at = NOW() WHERE id = $1
	`, id, string(payload))
	if err != nil {
		return fmt.Errorf("set column mapping: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrImportBatchNotFound
	}
	return nil
}

// SetOptions persists the import run options.
func (r *PGXImportBatchRepository) SetOptions(ctx context.Context, id uuid.UUID, opts entity.ImportOptions) error {
	payload, err := json.Marshal(opts)
	if err != nil {
		return fmt.Errorf("marshal options: %w", err)
	}
	cmd, err := r.pool.Exec(ctx, `
		UPDATE import_batches SET options = $2::jsonb, updated_at = NOW() WHERE id = $1
	`, id, string(payload))
	if err != nil {
		return fmt.Errorf("set import options: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrImportBatchNotFound
	}
	return nil
}

// SetTotalRows records the streamed row count after upload.
func (r *PGXImportBatchRepository) SetTotalRows(ctx context.Context, id uuid.UUID, total int) error {
	cmd, err := r.pool.Exec(ctx, `
		UPDATE import_batches SET total_rows = $2, updated_at = NOW() WHERE id = $1
	`, id, total)
	if err != nil {
		return fmt.Errorf("set total rows: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrImportBatchNotFound
	}
	return nil
}

// StartProcessing resets the counters, stamps started_at and moves the
// batch into importing. It refuses to restart a batch that is already
// importing or finished.
func (r *PGXImportBatchRepository) StartProcessing(ctx context.Context, id uuid.UUID) error {
	cmd, err := r.pool.Exec(ctx, `
		UPDATE import_batches
		SET status = 'importing',
		    started_at = NOW(),
		    imported_count = 0,
		    updated_count = 0,
		    skipped_count = 0,
		    error_count = 0,
		    updated_at = NOW()
		WHERE id = $1 AND status IN ('uploaded', 'mapping', 'validating')
	`, id)
	if err != nil {
		return fmt.Errorf("start import processing: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// CompleteProcessing stamps the terminal state. The status guard makes the
// call idempotent: a second completion attempt is a no-op, never a flip
// from completed to failed.
func (r *PGXImportBatchRepository) CompleteProcessing(ctx context.Context, id uuid.UUID, success bool) error {
	status := entity.ImportCompleted
	if !success {
		status = entity.ImportFailed
	}
	_, err := r.pool.Exec(ctx, `
		UPDATE import_batches
		SET status = $2, finished_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'importing'
	`, id, status)
	if err != nil {
		return fmt.Errorf("complete import processing: %w", err)
	}
	return nil
}

// IncrementCounter bumps one outcome counter with a single atomic UPDATE.
// Row units call this concurrently; a read-modify-write here would lose
// increments.
func (r *PGXImportBatchRepository) IncrementCounter(ctx context.Context, id uuid.UUID, action entity.ImportAction) error {
	var column string
	switch action {
	case entity.ActionCreated:
		column = "imported_count"
	case entity.ActionUpdated:
		column = "updated_count"
	case entity.ActionSkipped:
		column = "skipped_count"
	case entity.ActionError:
		column = "error_count"
	default:
		return fmt.Errorf("unknown import action %q", action)
	}

	query := fmt.Sprintf(`UPDATE import_batches SET %s = %s + 1, updated_at = NOW() WHERE id = $1`, column, column)
	cmd, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("increment %s: %w", column, err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrImportBatchNotFound
	}
	return nil
}

// AppendError appends one entry to the error log. The jsonb concatenation
// runs inside the UPDATE so concurrent appends cannot drop each other.
func (r *PGXImportBatchRepository) AppendError(ctx context.Context, id uuid.UUID, entry entity.ImportError) error {
	if entry.Timestamp == "" {
		entry.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal error entry: %w", err)
	}
	cmd, err := r.pool.Exec(ctx, `
		UPDATE import_batches
		SET error_log = COALESCE(error_log, '[]'::jsonb) || $2::jsonb,
		    updated_at = NOW()
		WHERE id = $1
	`, id, string(payload))
	if err != nil {
		return fmt.Errorf("append import error: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrImportBatchNotFound
	}
	return nil
}

// Delete removes a batch.
func (r *PGXImportBatchRepository) Delete(ctx context.Context, id uuid.UUID) error {
	cmd, err := r.pool.Exec(ctx, `DELETE FROM import_batches WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete import batch: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrImportBatchNotFound
	}
	return nil
}

func scanImportBatch(row pgx.Row) (*entity.ImportBatch, error) {
	var (
		batch        entity.ImportBatch
		mappingJSON  []byte
		optionsJSON  []byte
		errorLogJSON []byte
		startedAt    *time.Time
		finishedAt   *time.Time
	)

	err := row.Scan(
		&batch.ID,
		&batch.UserID,
		&batch.Status,
		&batch.Filename,
		&batch.OriginalFilename,
		&batch.TotalRows,
		&batch.ImportedCount,
		&batch.UpdatedCount,
		&batch.SkippedCount,
		&batch.ErrorCount,
		&mappingJSON,
		&optionsJSON,
		&errorLogJSON,
		&startedAt,
		&finishedAt,
		&batch.CreatedAt,
		&batch.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(mappingJSON) > 0 {
		if err := json.Unmarshal(mappingJSON, &batch.ColumnMapping); err != nil {
			return nil, fmt.Errorf("unmarshal column mapping: %w", err)
		}
	}
	if len(optionsJSON) > 0 {
		if err := json.Unmarshal(optionsJSON, &batch.Options); err != nil {
			return nil, fmt.Errorf("unmarshal options: %w", err)
		}
	}
	if len(errorLogJSON) > 0 {
		if err := json.Unmarshal(errorLogJSON, &batch.ErrorLog); err != nil {
			return nil, fmt.Errorf("unmarshal error log: %w", err)
		}
	}
	batch.StartedAt = startedAt
	batch.FinishedAt = finishedAt

	return &batch, nil
}

func mappingOrEmpty(mapping map[string]string) map[string]string {
	if mapping == nil {
		return map[string]string{}
	}
	return mapping
}
