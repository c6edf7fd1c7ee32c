package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/reachforge/crm-api/internal/config"
	"github.com/reachforge/crm-api/internal/entity"
	"github.com/reachforge/crm-api/internal/queue"
	"github.com/reachforge/crm-api/internal/repository"
)

// fakeBatchRepo is a mutex-guarded in-memory ImportBatchRepository. The
// row units hit IncrementCounter and AppendError concurrently, so the
// lock discipline here mirrors what the SQL layer guarantees.
type fakeBatchRepo struct {
	mu      sync.Mutex
	batches map[uuid.UUID]*entity.ImportBatch
}

func newFakeBatchRepo() *fakeBatchRepo {
	return &fakeBatchRepo{batches: make(map[uuid.UUID]*entity.ImportBatch)}
}

func (r *fakeBatchRepo) Create(ctx context.Context, batch *entity.ImportBatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if batch.ID == uuid.Nil {
		batch.ID = uuid.New()
	}
	if batch.Status == "" {
		batch.Status = entity.ImportUploaded
	}
	copied := *batch
	r.batches[batch.ID] = &copied
	return nil
}

func (r *fakeBatchRepo) Get(ctx context.Context, id uuid.UUID) (*entity.ImportBatch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	batch, ok := r.batches[id]
	if !ok {
		return nil, repository.ErrImportBatchNotFound
	}
	copied := *batch
	return &copied, nil
}

func (r *fakeBatchRepo) ListRecent(ctx context.Context, limit, offset int) ([]entity.ImportBatch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []entity.ImportBatch
	for _, batch := range r.batches {
		out = append(out, *batch)
	}
	return out, nil
}

func (r *fakeBatchRepo) SetStatus(ctx context.Context, id uuid.UUID, status entity.ImportStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	batch, ok := r.batches[id]
	if !ok {
		return repository.ErrImportBatchNotFound
	}
	if batch.Status.Terminal() {
		return repository.ErrInvalidTransition
	}
	batch.Status = status
	return nil
}

func (r *fakeBatchRepo) SetColumnMapping(ctx context.Context, id uuid.UUID, mapping map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	batch, ok := r.batches[id]
	if !ok {
		return repository.ErrImportBatchNotFound
	}
	batch.ColumnMapping = mapping
	return nil
}

func (r *fakeBatchRepo) SetOptions(ctx context.Context, id uuid.UUID, opts entity.ImportOptions) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	batch, ok := r.batches[id]
	if !ok {
		return repository.ErrImportBatchNotFound
	}
	batch.Options = opts
	return nil
}

func (r *fakeBatchRepo) SetTotalRows(ctx context.Context, id uuid.UUID, total int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	batch, ok := r.batches[id]
	if !ok {
		return repository.ErrImportBatchNotFound
	}
	batch.TotalRows = total
	return nil
}

func (r *fakeBatchRepo) StartProcessing(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	batch, ok := r.batches[id]
	if !ok {
		return repository.ErrImportBatchNotFound
	}
	switch batch.Status {
	case entity.ImportUploaded, entity.ImportMapping, entity.ImportValidating:
	default:
		return repository.ErrInvalidTransition
	}
	now := time.Now()
	batch.Status = entity.ImportImporting
	batch.StartedAt = &now
	batch.ImportedCount = 0
	batch.UpdatedCount = 0
	batch.SkippedCount = 0
	batch.ErrorCount = 0
	return nil
}

func (r *fakeBatchRepo) CompleteProcessing(ctx context.Context, id uuid.UUID, success bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	batch, ok := r.batches[id]
	if !ok {
		return repository.ErrImportBatchNotFound
	}
	if batch.Status != entity.ImportImporting {
		return nil
	}
	now := time.Now()
	if success {
		batch.Status = entity.ImportCompleted
	} else {
		batch.Status = entity.ImportFailed
	}
	batch.FinishedAt = &now
	return nil
}

func (r *fakeBatchRepo) IncrementCounter(ctx context.Context, id uuid.UUID, action entity.ImportAction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	batch, ok := r.batches[id]
	if !ok {
		return repository.ErrImportBatchNotFound
	}
	switch action {
	case entity.ActionCreated:
		batch.ImportedCount++
	case entity.ActionUpdated:
		batch.UpdatedCount++
	case entity.ActionSkipped:
		batch.SkippedCount++
	case entity.ActionError:
		batch.ErrorCount++
	default:
		return fmt.Errorf("unknown action %q", action)
	}
	return nil
}

func (r *fakeBatchRepo) AppendError(ctx context.Context, id uuid.UUID, entry entity.ImportError) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	batch, ok := r.batches[id]
	if !ok {
		return repository.ErrImportBatchNotFound
	}
	if entry.Timestamp == "" {
		entry.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	batch.ErrorLog = append(batch.ErrorLog, entry)
	return nil
}

func (r *fakeBatchRepo) Delete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.batches[id]; !ok {
		return repository.ErrImportBatchNotFound
	}
	delete(r.batches, id)
	return nil
}

// memStore keeps uploaded files in memory.
type memStore struct {
	mu    sync.Mutex
	files map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{files: make(map[string][]byte)}
}

func (s *memStore) Save(ctx context.Context, batchID uuid.UUID, src io.Reader) (string, error) {
	data, err := io.ReadAll(src)
	if err != nil {
		return "", err
	}
	name := batchID.String() + ".csv"
	s.mu.Lock()
	s.files[name] = data
	s.mu.Unlock()
	return name, nil
}

func (s *memStore) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	s.mu.Lock()
	data, ok := s.files[name]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("file %s not found", name)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *memStore) Remove(ctx context.Context, name string) error {
	s.mu.Lock()
	delete(s.files, name)
	s.mu.Unlock()
	return nil
}

// memContactsRepo is a mutex-guarded contact store keyed by e-mail.
type memContactsRepo struct {
	mockContactsRepo
	mu       sync.Mutex
	byEmail  map[string]*entity.Contact
}

func newMemContactsRepo() *memContactsRepo {
	repo := &memContactsRepo{byEmail: make(map[string]*entity.Contact)}
	return repo
}

func (r *memContactsRepo) Create(ctx context.Context, contact *entity.Contact) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if contact.Email != nil {
		key := strings.ToLower(*contact.Email)
		if _, exists := r.byEmail[key]; exists {
			return repository.ErrEmailTaken
		}
		if contact.ID == uuid.Nil {
			contact.ID = uuid.New()
		}
		copied := *contact
		r.byEmail[key] = &copied
	}
	return nil
}

func (r *memContactsRepo) Update(ctx context.Context, contact *entity.Contact) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if contact.Email != nil {
		copied := *contact
		r.byEmail[strings.ToLower(*contact.Email)] = &copied
	}
	return nil
}

func (r *memContactsRepo) FindDuplicate(ctx context.Context, email, mobile *string) (*entity.Contact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if email != nil {
		if found, ok := r.byEmail[strings.ToLower(*email)]; ok {
			copied := *found
			return &copied, nil
		}
	}
	return nil, repository.ErrContactNotFound
}

func testRunnerConfig() config.ImportConfig {
	return config.ImportConfig{
		Workers:         4,
		QueueSize:       64,
		CompletionDelay: 10 * time.Millisecond,
		PollInterval:    10 * time.Millisecond,
		MaxWait:         time.Second,
		PreviewRows:     20,
	}
}

func setupRunner(t *testing.T, csv string, mapping map[string]string, cfg config.ImportConfig) (*ImportRunner, *fakeBatchRepo, uuid.UUID, *queue.Pool) {
	t.Helper()

	batches := newFakeBatchRepo()
	store := newMemStore()
	contacts := NewContactsService(newMemContactsRepo(), "US")

	batchID := uuid.New()
	if _, err := store.Save(context.Background(), batchID, strings.NewReader(csv)); err != nil {
		t.Fatalf("store csv: %v", err)
	}

	total := strings.Count(strings.TrimSpace(csv), "\n")
	batch := &entity.ImportBatch{
		ID:            batchID,
		Status:        entity.ImportValidating,
		Filename:      batchID.String() + ".csv",
		TotalRows:     total,
		ColumnMapping: mapping,
	}
	if err := batches.Create(context.Background(), batch); err != nil {
		t.Fatalf("create batch: %v", err)
	}

	pool := queue.NewPool(cfg.Workers, cfg.QueueSize)
	pool.Start(context.Background())
	t.Cleanup(pool.Stop)

	runner := NewImportRunner(batches, contacts, store, pool, cfg)
	return runner, batches, batchID, pool
}

func waitForTerminal(t *testing.T, batches *fakeBatchRepo, id uuid.UUID, timeout time.Duration) *entity.ImportBatch {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		batch, err := batches.Get(context.Background(), id)
		if err != nil {
			t.Fatalf("get batch: %v", err)
		}
		if batch.Completed() {
			return batch
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("batch %s never reached a terminal state", id)
	return nil
}

func TestImportRunnerEndToEnd(t *testing.T) {
	csvData := "Email,Full Name\n" +
		"alice@example.com,Alice\n" +
		"not-an-email,Bob\n" +
		"alice@example.com,Alice Again\n"
	mapping := map[string]string{"Email": "email", "Full Name": "full_name"}

	// A single worker keeps row order deterministic, so the duplicate in
	// row 3 reliably lands after the create in row 1.
	cfg := testRunnerConfig()
	cfg.Workers = 1
	runner, batches, id, _ := setupRunner(t, csvData, mapping, cfg)

	if err := runner.Start(context.Background(), id, entity.ImportOptions{}); err != nil {
		t.Fatalf("start: %v", err)
	}

	batch := waitForTerminal(t, batches, id, 3*time.Second)
	if batch.Status != entity.ImportCompleted {
		t.Fatalf("expected completed, got %s", batch.Status)
	}
	if batch.ImportedCount != 1 {
		t.Fatalf("expected 1 imported, got %d", batch.ImportedCount)
	}
	if batch.ErrorCount != 1 {
		t.Fatalf("expected 1 error, got %d", batch.ErrorCount)
	}
	if batch.SkippedCount != 1 {
		t.Fatalf("expected 1 skipped duplicate, got %d", batch.SkippedCount)
	}
	if batch.Processed() != batch.TotalRows {
		t.Fatalf("expected all rows processed, got %d of %d", batch.Processed(), batch.TotalRows)
	}
	if len(batch.ErrorLog) != 1 {
		t.Fatalf("expected one error entry, got %d", len(batch.ErrorLog))
	}
	if batch.ErrorLog[0].Row != 2 {
		t.Fatalf("expected error at row 2, got row %d", batch.ErrorLog[0].Row)
	}
	if batch.Duration() == nil {
		t.Fatalf("expected a duration once finished")
	}
}

func TestImportRunnerCountsAreExactUnderConcurrency(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("Email,Full Name\n")
	for i := 0; i < 500; i++ {
		fmt.Fprintf(&sb, "user%03d@example.com,User %03d\n", i, i)
	}
	mapping := map[string]string{"Email": "email", "Full Name": "full_name"}

	cfg := testRunnerConfig()
	cfg.Workers = 8
	runner, batches, id, _ := setupRunner(t, sb.String(), mapping, cfg)

	if err := runner.Start(context.Background(), id, entity.ImportOptions{}); err != nil {
		t.Fatalf("start: %v", err)
	}

	batch := waitForTerminal(t, batches, id, 10*time.Second)
	if batch.Status != entity.ImportCompleted {
		t.Fatalf("expected completed, got %s", batch.Status)
	}
	if batch.ImportedCount != 500 {
		t.Fatalf("lost increments: expected 500 imported, got %d", batch.ImportedCount)
	}
	if batch.ErrorCount != 0 || batch.SkippedCount != 0 || batch.UpdatedCount != 0 {
		t.Fatalf("unexpected counters: %+v", batch)
	}
}

func TestImportRunnerFailsOnUnreadableFile(t *testing.T) {
	runner, batches, id, _ := setupRunner(t, "Email\n a@b.co\n", map[string]string{"Email": "email"}, testRunnerConfig())

	// Point the batch at a file that does not exist.
	batches.mu.Lock()
	batches.batches[id].Filename = "missing.csv"
	batches.mu.Unlock()

	if err := runner.Run(context.Background(), id); err == nil {
		t.Fatalf("expected stream error")
	}

	batch, err := batches.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get batch: %v", err)
	}
	if batch.Status != entity.ImportFailed {
		t.Fatalf("expected failed, got %s", batch.Status)
	}
	if len(batch.ErrorLog) == 0 || batch.ErrorLog[0].Row != 0 {
		t.Fatalf("expected a row-0 failure entry, got %v", batch.ErrorLog)
	}
}

func TestImportRunnerStartRejectsTerminalBatch(t *testing.T) {
	runner, batches, id, _ := setupRunner(t, "Email\na@b.co\n", map[string]string{"Email": "email"}, testRunnerConfig())

	batches.mu.Lock()
	batches.batches[id].Status = entity.ImportCompleted
	batches.mu.Unlock()

	err := runner.Start(context.Background(), id, entity.ImportOptions{})
	if err == nil {
		t.Fatalf("expected rejection for terminal batch")
	}
}

func TestCompletionPollerFailsAfterMaxWait(t *testing.T) {
	cfg := testRunnerConfig()
	cfg.MaxWait = 30 * time.Millisecond
	runner, batches, id, _ := setupRunner(t, "Email\na@b.co\n", map[string]string{"Email": "email"}, cfg)

	// Simulate a run whose rows never finish: importing with zero
	// processed rows and a total that will never be reached.
	batches.mu.Lock()
	batches.batches[id].Status = entity.ImportImporting
	now := time.Now()
	batches.batches[id].StartedAt = &now
	batches.batches[id].TotalRows = 100
	batches.mu.Unlock()

	runner.scheduleCompletionCheck(id, now, cfg.PollInterval)

	batch := waitForTerminal(t, batches, id, 3*time.Second)
	if batch.Status != entity.ImportFailed {
		t.Fatalf("expected stalled batch to fail, got %s", batch.Status)
	}
	if len(batch.ErrorLog) == 0 || !strings.Contains(batch.ErrorLog[0].Errors[0], "stalled") {
		t.Fatalf("expected stall entry, got %v", batch.ErrorLog)
	}
}

// flakyBatchRepo fails Get a fixed number of times before delegating.
type flakyBatchRepo struct {
	*fakeBatchRepo
	failMu   sync.Mutex
	failures int
}

func (r *flakyBatchRepo) Get(ctx context.Context, id uuid.UUID) (*entity.ImportBatch, error) {
	r.failMu.Lock()
	if r.failures > 0 {
		r.failures--
		r.failMu.Unlock()
		return nil, fmt.Errorf("connection reset")
	}
	r.failMu.Unlock()
	return r.fakeBatchRepo.Get(ctx, id)
}

func TestCompletionPollerSurvivesTransientGetFailure(t *testing.T) {
	cfg := testRunnerConfig()
	_, batches, id, pool := setupRunner(t, "Email\na@b.co\n", map[string]string{"Email": "email"}, cfg)

	// All rows already accounted for; only the completion check is left.
	batches.mu.Lock()
	batches.batches[id].Status = entity.ImportImporting
	now := time.Now()
	batches.batches[id].StartedAt = &now
	batches.batches[id].TotalRows = 1
	batches.batches[id].ImportedCount = 1
	batches.mu.Unlock()

	flaky := &flakyBatchRepo{fakeBatchRepo: batches, failures: 1}
	runner := NewImportRunner(flaky, NewContactsService(newMemContactsRepo(), "US"), newMemStore(), pool, cfg)

	runner.scheduleCompletionCheck(id, now, cfg.PollInterval)

	batch := waitForTerminal(t, batches, id, 3*time.Second)
	if batch.Status != entity.ImportCompleted {
		t.Fatalf("expected completed after transient fetch failure, got %s", batch.Status)
	}
}

func TestCompletionPollerIsIdempotent(t *testing.T) {
	cfg := testRunnerConfig()
	runner, batches, id, _ := setupRunner(t, "Email\na@b.co\n", map[string]string{"Email": "email"}, cfg)

	batches.mu.Lock()
	batches.batches[id].Status = entity.ImportImporting
	now := time.Now()
	batches.batches[id].StartedAt = &now
	batches.batches[id].TotalRows = 1
	batches.batches[id].ImportedCount = 1
	batches.mu.Unlock()

	runner.checkCompletion(context.Background(), id, now)
	runner.checkCompletion(context.Background(), id, now)

	batch, err := batches.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get batch: %v", err)
	}
	if batch.Status != entity.ImportCompleted {
		t.Fatalf("expected completed, got %s", batch.Status)
	}
}
