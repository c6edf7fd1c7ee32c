package entity

import (
	"testing"
	"time"
)

func TestImportStatusTransitions(t *testing.T) {
	tests := map[string]struct {
		from ImportStatus
		to   ImportStatus
		want bool
	}{
		"uploaded to mapping":      {ImportUploaded, ImportMapping, true},
		"uploaded to importing":    {ImportUploaded, ImportImporting, true},
		"mapping to validating":    {ImportMapping, ImportValidating, true},
		"validating to importing":  {ImportValidating, ImportImporting, true},
		"importing to completed":   {ImportImporting, ImportCompleted, true},
		"importing to failed":      {ImportImporting, ImportFailed, true},
		"backwards":                {ImportValidating, ImportMapping, false},
		"completed is terminal":    {ImportCompleted, ImportImporting, false},
		"failed is terminal":       {ImportFailed, ImportImporting, false},
		"unknown target":           {ImportUploaded, ImportStatus("bogus"), false},
		"same state is not a move": {ImportMapping, ImportMapping, false},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			if got := tc.from.CanTransitionTo(tc.to); got != tc.want {
				t.Fatalf("%s -> %s: expected %v, got %v", tc.from, tc.to, tc.want, got)
			}
		})
	}
}

func TestProgressPercentage(t *testing.T) {
	b := ImportBatch{TotalRows: 3, ImportedCount: 1}
	if got := b.ProgressPercentage(); got != 33.3 {
		t.Fatalf("expected 33.3, got %v", got)
	}

	b = ImportBatch{TotalRows: 4, ImportedCount: 1, UpdatedCount: 1, SkippedCount: 1, ErrorCount: 1}
	if got := b.ProgressPercentage(); got != 100 {
		t.Fatalf("expected 100, got %v", got)
	}

	b = ImportBatch{}
	if got := b.ProgressPercentage(); got != 0 {
		t.Fatalf("expected 0 for empty batch, got %v", got)
	}
}

func TestSuccessRate(t *testing.T) {
	b := ImportBatch{TotalRows: 8, ImportedCount: 3, UpdatedCount: 1, ErrorCount: 4}
	if got := b.SuccessRate(); got != 50 {
		t.Fatalf("expected 50, got %v", got)
	}
}

func TestDuration(t *testing.T) {
	b := ImportBatch{}
	if b.Duration() != nil {
		t.Fatalf("expected nil duration before the run finishes")
	}

	start := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	finish := start.Add(1*time.Hour + 2*time.Minute + 3*time.Second)
	b.StartedAt = &start
	b.FinishedAt = &finish

	got := b.Duration()
	if got == nil || *got != "01:02:03" {
		t.Fatalf("expected 01:02:03, got %v", got)
	}
}

func TestProcessed(t *testing.T) {
	b := ImportBatch{ImportedCount: 2, UpdatedCount: 3, SkippedCount: 4, ErrorCount: 1}
	if b.Processed() != 10 {
		t.Fatalf("expected 10 processed, got %d", b.Processed())
	}
}
