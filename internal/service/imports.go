package service

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"

	"github.com/reachforge/crm-api/internal/config"
	"github.com/reachforge/crm-api/internal/dto"
	"github.com/reachforge/crm-api/internal/entity"
	"github.com/reachforge/crm-api/internal/repository"
	"github.com/reachforge/crm-api/internal/storage"
)

// FileStore abstracts where uploaded CSVs live so the service can be
// tested against a temp directory or an in-memory fake.
type FileStore interface {
	Save(ctx context.Context, batchID uuid.UUID, src io.Reader) (string, error)
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	Remove(ctx context.Context, name string) error
}

// UploadValidationError describes a rejected upload. Handlers map it to a
// 422 instead of a 500.
type UploadValidationError struct {
	Message string
}

func (e *UploadValidationError) Error() string { return e.Message }

// ImportBatchService drives an import batch from upload through preview.
// The actual row processing is owned by the ImportRunner.
type ImportBatchService struct {
	batches   repository.ImportBatchRepository
	store     FileStore
	validator *RowValidator
	cfg       config.ImportConfig
}

// NewImportBatchService wires the batch lifecycle service.
func NewImportBatchService(batches repository.ImportBatchRepository, store FileStore, validator *RowValidator, cfg config.ImportConfig) *ImportBatchService {
	return &ImportBatchService{batches: batches, store: store, validator: validator, cfg: cfg}
}

// CreateBatch validates and stores an uploaded CSV, counts its data rows
// and records a batch in the uploaded state.
func (s *ImportBatchService) CreateBatch(ctx context.Context, userID uuid.UUID, originalName string, src io.Reader) (*entity.ImportBatch, error) {
	name := strings.TrimSpace(originalName)
	if name == "" {
		return nil, &UploadValidationError{Message: "a CSV file is required"}
	}
	if !strings.EqualFold(strings.TrimPrefix(extension(name), "."), "csv") {
		return nil, &UploadValidationError{Message: "only CSV files are supported"}
	}

	batchID := uuid.New()
	stored, err := s.store.Save(ctx, batchID, src)
	if err != nil {
		if errors.Is(err, storage.ErrTooLarge) {
			return nil, &UploadValidationError{Message: "file exceeds the 10MB upload limit"}
		}
		return nil, fmt.Errorf("store upload: %w", err)
	}

	total, err := s.countDataRows(ctx, stored)
	if err != nil {
		s.store.Remove(ctx, stored)
		return nil, &UploadValidationError{Message: fmt.Sprintf("could not parse CSV: %v", err)}
	}
	if total == 0 {
		s.store.Remove(ctx, stored)
		return nil, &UploadValidationError{Message: "the CSV contains no data rows"}
	}

	batch := &entity.ImportBatch{
		ID:               batchID,
		UserID:           userID,
		Status:           entity.ImportUploaded,
		Filename:         stored,
		OriginalFilename: name,
		TotalRows:        total,
	}
	if err := s.batches.Create(ctx, batch); err != nil {
		s.store.Remove(ctx, stored)
		return nil, fmt.Errorf("create import batch: %w", err)
	}
	return batch, nil
}

// MappingInfo returns the CSV headers alongside a suggested column
// mapping, advancing the batch into the mapping state.
func (s *ImportBatchService) MappingInfo(ctx context.Context, id uuid.UUID) (*dto.MappingResponse, error) {
	batch, err := s.batches.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	headers, err := s.readHeaders(ctx, batch.Filename)
	if err != nil {
		return nil, err
	}

	if batch.Status.CanTransitionTo(entity.ImportMapping) {
		if err := s.batches.SetStatus(ctx, id, entity.ImportMapping); err != nil {
			return nil, err
		}
	}

	return &dto.MappingResponse{
		Headers:          headers,
		SuggestedMapping: SuggestMapping(headers),
		AvailableFields:  TargetFields,
	}, nil
}

// Preview persists the chosen mapping and validates the first rows of the
// file without creating any contacts. The batch moves to validating.
func (s *ImportBatchService) Preview(ctx context.Context, id uuid.UUID, mapping map[string]string) ([]RowCheck, error) {
	if err := ValidateMapping(mapping); err != nil {
		return nil, &UploadValidationError{Message: err.Error()}
	}

	batch, err := s.batches.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if batch.Status.Terminal() || batch.Status == entity.ImportImporting {
		return nil, repository.ErrInvalidTransition
	}

	if err := s.batches.SetColumnMapping(ctx, id, mapping); err != nil {
		return nil, err
	}

	limit := s.cfg.PreviewRows
	if limit <= 0 {
		limit = 20
	}

	var checks []RowCheck
	err = s.eachRow(ctx, batch.Filename, func(rowNumber int, raw map[string]string) error {
		if len(checks) >= limit {
			return errStopIteration
		}
		row := MapRow(raw, mapping, entity.ImportOptions{})
		checks = append(checks, s.validator.Check(ctx, rowNumber, row))
		return nil
	})
	if err != nil {
		return nil, err
	}

	if batch.Status.CanTransitionTo(entity.ImportValidating) {
		if err := s.batches.SetStatus(ctx, id, entity.ImportValidating); err != nil {
			return nil, err
		}
	}
	return checks, nil
}

// Status assembles the polling payload for a batch.
func (s *ImportBatchService) Status(ctx context.Context, id uuid.UUID) (*dto.ImportStatusResponse, error) {
	batch, err := s.batches.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &dto.ImportStatusResponse{
		Status:        string(batch.Status),
		Progress:      batch.ProgressPercentage(),
		TotalRows:     batch.TotalRows,
		ImportedCount: batch.ImportedCount,
		UpdatedCount:  batch.UpdatedCount,
		SkippedCount:  batch.SkippedCount,
		ErrorCount:    batch.ErrorCount,
		Completed:     batch.Completed(),
		Duration:      batch.Duration(),
	}, nil
}

// ErrorsCSV streams the batch error log as a CSV download.
func (s *ImportBatchService) ErrorsCSV(ctx context.Context, id uuid.UUID, w io.Writer) error {
	batch, err := s.batches.Get(ctx, id)
	if err != nil {
		return err
	}

	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"Row Number", "Errors", "Timestamp"}); err != nil {
		return fmt.Errorf("write error log header: %w", err)
	}
	for _, entry := range batch.ErrorLog {
		record := []string{
			fmt.Sprintf("%d", entry.Row),
			strings.Join(entry.Errors, "; "),
			entry.Timestamp,
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("write error log row: %w", err)
		}
	}
	writer.Flush()
	return writer.Error()
}

// Get fetches one batch.
func (s *ImportBatchService) Get(ctx context.Context, id uuid.UUID) (*entity.ImportBatch, error) {
	return s.batches.Get(ctx, id)
}

// List returns recent batches.
func (s *ImportBatchService) List(ctx context.Context, limit, offset int) ([]entity.ImportBatch, error) {
	return s.batches.ListRecent(ctx, limit, offset)
}

// Delete removes the batch record and its stored file.
func (s *ImportBatchService) Delete(ctx context.Context, id uuid.UUID) error {
	batch, err := s.batches.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.batches.Delete(ctx, id); err != nil {
		return err
	}
	if batch.Filename != "" {
		if err := s.store.Remove(ctx, batch.Filename); err != nil {
			return fmt.Errorf("remove stored file: %w", err)
		}
	}
	return nil
}

// errStopIteration signals eachRow to stop early without error.
var errStopIteration = errors.New("stop iteration")

func (s *ImportBatchService) eachRow(ctx context.Context, filename string, fn func(rowNumber int, raw map[string]string) error) error {
	return forEachCSVRow(ctx, s.store, filename, fn)
}

// forEachCSVRow streams a stored CSV, calling fn once per data row with
// the row number (header is row 0, first data row is 1) and the raw cell
// map. Short rows leave their trailing cells absent from the map.
func forEachCSVRow(ctx context.Context, store FileStore, filename string, fn func(rowNumber int, raw map[string]string) error) error {
	file, err := store.Open(ctx, filename)
	if err != nil {
		return fmt.Errorf("open stored file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	headers, err := reader.Read()
	if err != nil {
		return fmt.Errorf("read CSV header: %w", err)
	}

	rowNumber := 0
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read CSV row %d: %w", rowNumber+1, err)
		}
		rowNumber++

		raw := make(map[string]string, len(headers))
		for i, header := range headers {
			if i < len(record) {
				raw[header] = record[i]
			}
		}
		if err := fn(rowNumber, raw); err != nil {
			if errors.Is(err, errStopIteration) {
				return nil
			}
			return err
		}
	}
}

func (s *ImportBatchService) readHeaders(ctx context.Context, filename string) ([]string, error) {
	file, err := s.store.Open(ctx, filename)
	if err != nil {
		return nil, fmt.Errorf("open stored file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.TrimLeadingSpace = true
	headers, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read CSV header: %w", err)
	}
	return headers, nil
}

func (s *ImportBatchService) countDataRows(ctx context.Context, filename string) (int, error) {
	count := 0
	err := s.eachRow(ctx, filename, func(int, map[string]string) error {
		count++
		return nil
	})
	return count, err
}

func extension(name string) string {
	if idx := strings.LastIndex(name, "."); idx >= 0 {
		return name[idx:]
	}
	return ""
}
