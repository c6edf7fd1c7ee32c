package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/reachforge/crm-api/internal/config"
	"github.com/reachforge/crm-api/internal/entity"
	"github.com/reachforge/crm-api/internal/queue"
	"github.com/reachforge/crm-api/internal/repository"
)

// ImportRunner executes an import batch: it streams the CSV, fans each
// row out to the worker pool and schedules completion checks until every
// row is accounted for or the deadline passes.
type ImportRunner struct {
	batches  repository.ImportBatchRepository
	contacts *ContactsService
	store    FileStore
	pool     *queue.Pool

	completionDelay time.Duration
	pollInterval    time.Duration
	maxWait         time.Duration
}

// NewImportRunner wires a runner over the shared worker pool.
func NewImportRunner(batches repository.ImportBatchRepository, contacts *ContactsService, store FileStore, pool *queue.Pool, cfg config.ImportConfig) *ImportRunner {
	return &ImportRunner{
		batches:         batches,
		contacts:        contacts,
		store:           store,
		pool:            pool,
		completionDelay: cfg.CompletionDelay,
		pollInterval:    cfg.PollInterval,
		maxWait:         cfg.MaxWait,
	}
}

// Start validates the batch can run and enqueues the run itself, so the
// HTTP handler returns immediately. Enqueueing blocks only when the pool
// buffer is full, which is the intended backpressure.
func (r *ImportRunner) Start(ctx context.Context, id uuid.UUID, opts entity.ImportOptions) error {
	batch, err := r.batches.Get(ctx, id)
	if err != nil {
		return err
	}
	if !batch.Status.CanTransitionTo(entity.ImportImporting) {
		return repository.ErrInvalidTransition
	}
	if err := r.batches.SetOptions(ctx, id, opts); err != nil {
		return err
	}

	return r.pool.Enqueue(ctx, func(ctx context.Context) {
		if err := r.Run(ctx, id); err != nil {
			log.Printf("import batch %s failed: %v", id, err)
		}
	})
}

// Run moves the batch into importing, streams the stored CSV and enqueues
// one unit of work per row. A completion check is scheduled after the
// configured delay. A failure to stream the file marks the whole batch
// failed with a row-0 error entry.
func (r *ImportRunner) Run(ctx context.Context, id uuid.UUID) error {
	if err := r.batches.StartProcessing(ctx, id); err != nil {
		return err
	}

	batch, err := r.batches.Get(ctx, id)
	if err != nil {
		return err
	}
	mapping := batch.ColumnMapping
	opts := batch.Options

	streamErr := forEachCSVRow(ctx, r.store, batch.Filename, func(rowNumber int, raw map[string]string) error {
		return r.pool.Enqueue(ctx, func(ctx context.Context) {
			r.processRow(ctx, id, rowNumber, raw, mapping, opts)
		})
	})
	if streamErr != nil {
		r.failBatch(ctx, id, fmt.Sprintf("failed to process CSV: %v", streamErr))
		return streamErr
	}

	started := time.Now()
	if batch.StartedAt != nil {
		started = *batch.StartedAt
	}
	r.scheduleCompletionCheck(id, started, r.completionDelay)
	return nil
}

// processRow handles one row end to end. Panics are contained so a bad
// row never takes down a worker.
func (r *ImportRunner) processRow(ctx context.Context, id uuid.UUID, rowNumber int, raw map[string]string, mapping map[string]string, opts entity.ImportOptions) {
	defer func() {
		if rec := recover(); rec != nil {
			r.recordRowError(ctx, id, rowNumber, []string{fmt.Sprintf("row processing panicked: %v", rec)})
		}
	}()

	row := MapRow(raw, mapping, opts)
	result, err := r.contacts.ImportFromRow(ctx, row, opts)
	if err != nil {
		r.recordRowError(ctx, id, rowNumber, []string{err.Error()})
		return
	}
	if result.Action == entity.ActionError {
		r.recordRowError(ctx, id, rowNumber, result.Errors)
		return
	}
	if err := r.batches.IncrementCounter(ctx, id, result.Action); err != nil {
		log.Printf("import batch %s: increment %s: %v", id, result.Action, err)
	}
}

// recordRowError bumps the error counter and appends a durable log entry.
func (r *ImportRunner) recordRowError(ctx context.Context, id uuid.UUID, rowNumber int, messages []string) {
	if len(messages) == 0 {
		messages = []string{"unknown error"}
	}
	if err := r.batches.IncrementCounter(ctx, id, entity.ActionError); err != nil {
		log.Printf("import batch %s: increment error count: %v", id, err)
	}
	entry := entity.ImportError{Row: rowNumber, Errors: messages}
	if err := r.batches.AppendError(ctx, id, entry); err != nil {
		log.Printf("import batch %s: append error: %v", id, err)
	}
}

// failBatch moves the batch to failed and records why at row 0.
func (r *ImportRunner) failBatch(ctx context.Context, id uuid.UUID, message string) {
	if err := r.batches.CompleteProcessing(ctx, id, false); err != nil {
		log.Printf("import batch %s: mark failed: %v", id, err)
	}
	entry := entity.ImportError{Row: 0, Errors: []string{message}}
	if err := r.batches.AppendError(ctx, id, entry); err != nil {
		log.Printf("import batch %s: append failure: %v", id, err)
	}
}

func (r *ImportRunner) scheduleCompletionCheck(id uuid.UUID, started time.Time, delay time.Duration) {
	r.pool.EnqueueAfter(delay, func(ctx context.Context) {
		r.checkCompletion(ctx, id, started)
	})
}

// checkCompletion is the bounded completion poller. It completes the
// batch when every row has an outcome, fails it when the deadline has
// passed, and otherwise reschedules itself.
func (r *ImportRunner) checkCompletion(ctx context.Context, id uuid.UUID, started time.Time) {
	batch, err := r.batches.Get(ctx, id)
	if err != nil {
		// A transient fetch failure must not end the poll chain; keep
		// polling until the deadline, then give up loudly.
		log.Printf("import batch %s: completion check: %v", id, err)
		if r.maxWait > 0 && time.Since(started) > r.maxWait {
			r.failBatch(ctx, id, fmt.Sprintf("import stalled: completion check failing after %s: %v", r.maxWait, err))
			return
		}
		r.scheduleCompletionCheck(id, started, r.pollInterval)
		return
	}
	if batch.Status != entity.ImportImporting {
		return
	}

	if batch.Processed() >= batch.TotalRows {
		if err := r.batches.CompleteProcessing(ctx, id, true); err != nil {
			log.Printf("import batch %s: mark completed: %v", id, err)
		}
		return
	}

	if r.maxWait > 0 && time.Since(started) > r.maxWait {
		r.failBatch(ctx, id, fmt.Sprintf(
			"import stalled: %d of %d rows processed after %s",
			batch.Processed(), batch.TotalRows, r.maxWait))
		return
	}

	r.scheduleCompletionCheck(id, started, r.pollInterval)
}
