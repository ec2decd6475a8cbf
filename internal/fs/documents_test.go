package fs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"omnipong/internal/domain"
)

func TestWriteThenReadDocument(t *testing.T) {
	store, err := NewDocumentStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("new document store: %v", err)
	}
	ctx := context.Background()

	if err := store.WriteDocument(ctx, "agents/edge/state.json", []byte(`{"health":100}`)); err != nil {
		t.Fatalf("write document: %v", err)
	}
	got, err := store.ReadDocument(ctx, "./agents/edge/state.json")
	if err != nil {
		t.Fatalf("read document: %v", err)
	}
	if string(got) != `{"health":100}` {
		t.Fatalf("content=%q", got)
	}

	if err := store.WriteDocument(ctx, "agents/edge/state.json", []byte(`{}`)); err != nil {
		t.Fatalf("overwrite document: %v", err)
	}
	got, _ = store.ReadDocument(ctx, "agents/edge/state.json")
	if string(got) != `{}` {
		t.Fatalf("content after overwrite=%q", got)
	}

	entries, err := os.ReadDir(filepath.Join(store.Root(), "agents", "edge"))
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected temp files to be cleaned up, found %d entries", len(entries))
	}
}

func TestReadMissingDocument(t *testing.T) {
	store, err := NewDocumentStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("new document store: %v", err)
	}
	_, err = store.ReadDocument(context.Background(), "missing.json")
	if !errors.Is(err, domain.ErrDocumentNotFound) {
		t.Fatalf("expected ErrDocumentNotFound, got %v", err)
	}
}

func TestDocumentPathCannotEscapeRoot(t *testing.T) {
	store, err := NewDocumentStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("new document store: %v", err)
	}
	ctx := context.Background()
	for _, p := range []string{"../outside.json", "a/../../outside.json", "", "."} {
		if err := store.WriteDocument(ctx, p, []byte("x")); err == nil {
			t.Fatalf("expected write to %q to be rejected", p)
		}
	}
}

func TestCanceledContext(t *testing.T) {
	store, err := NewDocumentStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("new document store: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := store.WriteDocument(ctx, "kb.json", []byte("{}")); err == nil {
		t.Fatalf("expected canceled write to fail")
	}
}
