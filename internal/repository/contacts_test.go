package repository

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type noRowsRow struct{}

func (noRowsRow) Scan(dest ...any) error { return pgx.ErrNoRows }

// recordingPool captures the last statement so tests can assert on the SQL.
type recordingPool struct {
	lastSQL  string
	lastArgs []any
}

func (p *recordingPool) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	p.lastSQL, p.lastArgs = sql, args
	return pgconn.CommandTag{}, nil
}

func (p *recordingPool) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	p.lastSQL, p.lastArgs = sql, args
	return nil, pgx.ErrNoRows
}

func (p *recordingPool) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	p.lastSQL, p.lastArgs = sql, args
	return noRowsRow{}
}

func (p *recordingPool) BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error) {
	return nil, errors.New("not implemented")
}

func strPtr(s string) *string { return &s }

func TestFindDuplicatePrefersEmailMatch(t *testing.T) {
	pool := &recordingPool{}
	repo := NewPGXContactsRepository(pool)

	_, err := repo.FindDuplicate(context.Background(), strPtr("a@b.co"), strPtr("+15551234567"))
	if !errors.Is(err, ErrContactNotFound) {
		t.Fatalf("expected ErrContactNotFound, got %v", err)
	}
	if !strings.Contains(pool.lastSQL, "ORDER BY LOWER(email) = LOWER($1) DESC") {
		t.Fatalf("expected the e-mail clause to order the result, got %s", pool.lastSQL)
	}
	if !strings.Contains(pool.lastSQL, "LIMIT 1") {
		t.Fatalf("expected LIMIT 1, got %s", pool.lastSQL)
	}
	if len(pool.lastArgs) != 2 {
		t.Fatalf("expected both arguments bound, got %v", pool.lastArgs)
	}
}

func TestFindDuplicateSingleClause(t *testing.T) {
	pool := &recordingPool{}
	repo := NewPGXContactsRepository(pool)

	if _, err := repo.FindDuplicate(context.Background(), nil, strPtr("+15551234567")); !errors.Is(err, ErrContactNotFound) {
		t.Fatalf("expected ErrContactNotFound, got %v", err)
	}
	if strings.Contains(pool.lastSQL, "ORDER BY") {
		t.Fatalf("expected no ordering for a single clause, got %s", pool.lastSQL)
	}
}

func TestFindDuplicateBothNil(t *testing.T) {
	pool := &recordingPool{}
	repo := NewPGXContactsRepository(pool)

	if _, err := repo.FindDuplicate(context.Background(), nil, nil); !errors.Is(err, ErrContactNotFound) {
		t.Fatalf("expected ErrContactNotFound, got %v", err)
	}
	if pool.lastSQL != "" {
		t.Fatalf("expected no query for nil identifiers, got %s", pool.lastSQL)
	}
}
