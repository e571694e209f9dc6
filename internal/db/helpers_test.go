package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewDB failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// seedSegment creates store 001, camera entrance and one segment starting at start.
func seedSegment(t *testing.T, db *DB, path string, start time.Time) *Segment {
	t.Helper()
	ctx := context.Background()
	store, err := db.EnsureStore(ctx, "001", "Paulista", "Sao Paulo")
	if err != nil {
		t.Fatalf("EnsureStore failed: %v", err)
	}
	cam, err := db.EnsureCamera(ctx, store.ID, "entrance")
	if err != nil {
		t.Fatalf("EnsureCamera failed: %v", err)
	}
	seg, _, err := db.UpsertSegment(ctx, &Segment{
		StoreID:     store.ID,
		CameraID:    cam.ID,
		Path:        path,
		Start:       start,
		End:         start.Add(15 * time.Minute),
		Fingerprint: "fp-" + path,
		FileSize:    1024,
	})
	if err != nil {
		t.Fatalf("UpsertSegment failed: %v", err)
	}
	return seg
}
