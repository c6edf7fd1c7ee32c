package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestLocalStoreSaveAndOpen(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), 1024)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	id := uuid.New()
	name, err := store.Save(context.Background(), id, strings.NewReader("Email\na@b.co\n"))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if name != id.String()+".csv" {
		t.Fatalf("unexpected stored name: %s", name)
	}

	file, err := store.Open(context.Background(), name)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "Email\na@b.co\n" {
		t.Fatalf("unexpected contents: %q", data)
	}
}

func TestLocalStoreRejectsOversizedFile(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStore(dir, 10)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	id := uuid.New()
	_, err = store.Save(context.Background(), id, strings.NewReader(strings.Repeat("x", 11)))
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}

	// The partial write must be cleaned up.
	if _, err := os.Stat(filepath.Join(dir, id.String()+".csv")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected partial file removed, got %v", err)
	}
}

func TestLocalStoreRemove(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), 1024)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	id := uuid.New()
	name, err := store.Save(context.Background(), id, strings.NewReader("data"))
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	if err := store.Remove(context.Background(), name); err != nil {
		t.Fatalf("remove: %v", err)
	}
	// Removing a missing file is not an error.
	if err := store.Remove(context.Background(), name); err != nil {
		t.Fatalf("second remove: %v", err)
	}

	if _, err := store.Open(context.Background(), name); err == nil {
		t.Fatalf("expected open to fail after remove")
	}
}
