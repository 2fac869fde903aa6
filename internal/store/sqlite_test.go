//go:build sqlite
// +build sqlite

package store

import (
	"context"
	"path/filepath"
	"testing"

	"dropwatch/pkg/logx"
)

func openSQLiteTemp(t *testing.T, path string) Store {
	t.Helper()
	st, err := Open(Config{Driver: "sqlite", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return st
}

func TestSQLiteSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snap.db")
	ctx := context.Background()

	st := openSQLiteTemp(t, path)
	if added := st.Merge(recs("A", "B")); added != 2 {
		t.Fatalf("merge added %d, want 2", added)
	}
	if err := st.Save(ctx); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened := openSQLiteTemp(t, path)
	defer reopened.Close()
	if !reopened.Contains("A") || !reopened.Contains("B") {
		t.Fatal("reloaded store lost records")
	}
	if added := reopened.Merge(recs("A")); added != 0 {
		t.Fatalf("re-merge added %d, want 0", added)
	}
}

func TestSQLiteResetPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snap.db")
	ctx := context.Background()

	st := openSQLiteTemp(t, path)
	st.Merge(recs("A", "B"))
	if err := st.Save(ctx); err != nil {
		t.Fatal(err)
	}
	if err := st.Reset(ctx); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if st.Len() != 0 {
		t.Fatalf("Len after reset = %d, want 0", st.Len())
	}
	if err := st.Close(); err != nil {
		t.Fatal(err)
	}

	reopened := openSQLiteTemp(t, path)
	defer reopened.Close()
	if reopened.Len() != 0 {
		t.Fatalf("reset not persisted: reloaded %d records", reopened.Len())
	}
}

func TestSQLiteResetKeepsMemoryOnDeleteFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snap.db")
	ctx := context.Background()

	st := openSQLiteTemp(t, path)
	st.Merge(recs("A"))
	if err := st.Save(ctx); err != nil {
		t.Fatal(err)
	}

	// Force the DELETE to fail by tearing the connection out from under it.
	ss := st.(*sqliteStore)
	if err := ss.db.Close(); err != nil {
		t.Fatal(err)
	}
	if err := st.Reset(ctx); err == nil {
		t.Fatal("Reset succeeded against a closed database")
	}
	if !st.Contains("A") {
		t.Fatal("failed reset cleared the in-memory set; restart would resurrect the row anyway")
	}

	// The durable state still holds the row.
	reopened := openSQLiteTemp(t, path)
	defer reopened.Close()
	if !reopened.Contains("A") {
		t.Fatal("row missing after failed reset")
	}
}
