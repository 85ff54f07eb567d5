package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"mindmap/internal/domain"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s := NewStore()
	if err := s.Open(filepath.Join(t.TempDir(), "test.db")); err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("failed to close store: %v", err)
		}
	})
	return s
}

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func node(id, parent string, order int) domain.Node {
	return domain.Node{
		ID:            "id-" + id,
		ShortID:       id,
		MindmapID:     "m1",
		ParentShortID: parent,
		OrderIndex:    order,
		Title:         "Title " + id,
		CreatedAt:     t0,
		UpdatedAt:     t0,
	}
}

func upsert(t *testing.T, s *Store, recs ...domain.Record) {
	t.Helper()
	tx, err := s.BeginTx(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	for i := range recs {
		if err := tx.UpsertRecord(&recs[i]); err != nil {
			_ = tx.Rollback()
			t.Fatalf("upsert %s: %v", recs[i].ShortID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
}

func TestStore_OpenTwice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "store.db")

	for i := range 2 {
		s := NewStore()
		if err := s.Open(path); err != nil {
			t.Fatalf("open #%d: %v", i+1, err)
		}
		if s.Path() != path {
			t.Errorf("Path() = %q", s.Path())
		}
		if err := s.Close(); err != nil {
			t.Fatal(err)
		}
	}
}

func TestStore_DefaultPath(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_DATA_HOME", dir)

	if got, want := DefaultPath(), filepath.Join(dir, "mindmap", "mindmap.db"); got != want {
		t.Errorf("DefaultPath() = %q, expected %q", got, want)
	}
}

func TestStore_MissingRowsAreNil(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	doc, err := s.GetDocument(ctx, "nope")
	if err != nil || doc != nil {
		t.Errorf("GetDocument = %v, %v; expected nil, nil", doc, err)
	}
	rec, err := s.GetRecord(ctx, "m1", "nope")
	if err != nil || rec != nil {
		t.Errorf("GetRecord = %v, %v; expected nil, nil", rec, err)
	}
}

func TestStore_UpsertAndList(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	upsert(t, s,
		domain.Record{Node: node("r", "", 0), LocalModifiedAt: t0},
		domain.Record{Node: node("b", "r", 1), Dirty: true, LocalModifiedAt: t0.Add(2 * time.Second)},
		domain.Record{Node: node("a", "r", 0), Dirty: true, LocalModifiedAt: t0.Add(time.Second)},
	)

	got, err := s.GetRecord(ctx, "m1", "a")
	if err != nil {
		t.Fatal(err)
	}
	if got.Node != node("a", "r", 0) || !got.Dirty || !got.LocalModifiedAt.Equal(t0.Add(time.Second)) {
		t.Errorf("unexpected record %+v", got)
	}

	nodes, err := s.ListNodes(ctx, "m1")
	if err != nil {
		t.Fatal(err)
	}
	if len(nodes) != 3 {
		t.Fatalf("expected 3 nodes, got %d", len(nodes))
	}

	dirty, err := s.ListDirty(ctx, "m1")
	if err != nil {
		t.Fatal(err)
	}
	if len(dirty) != 2 || dirty[0].ShortID != "a" || dirty[1].ShortID != "b" {
		t.Errorf("dirty records out of order: %+v", dirty)
	}

	other, err := s.ListNodes(ctx, "m2")
	if err != nil || len(other) != 0 {
		t.Errorf("expected no nodes for another mindmap, got %d (%v)", len(other), err)
	}
}

func TestStore_LocalModifiedAtIsMonotonic(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	upsert(t, s, domain.Record{Node: node("a", "", 0), Dirty: true, LocalModifiedAt: t0})
	first, _ := s.GetRecord(ctx, "m1", "a")

	// Same clock reading as the first write
	upsert(t, s, domain.Record{Node: node("a", "", 0), Dirty: true, LocalModifiedAt: t0})
	second, _ := s.GetRecord(ctx, "m1", "a")

	if !second.LocalModifiedAt.After(first.LocalModifiedAt) {
		t.Errorf("modification stamp did not advance: %v then %v", first.LocalModifiedAt, second.LocalModifiedAt)
	}
}

func TestStore_TombstoneLifecycle(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	upsert(t, s, domain.Record{Node: node("a", "", 0), Dirty: true, LocalModifiedAt: t0})

	tx, _ := s.BeginTx(ctx)
	if err := tx.MarkDeleted("m1", "a", t0.Add(time.Second)); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	rec, _ := s.GetRecord(ctx, "m1", "a")
	if rec == nil || !rec.Deleted || !rec.Dirty {
		t.Fatalf("expected dirty tombstone, got %+v", rec)
	}
	if nodes, _ := s.ListNodes(ctx, "m1"); len(nodes) != 0 {
		t.Error("tombstones must not be listed as live nodes")
	}
	if dirty, _ := s.ListDirty(ctx, "m1"); len(dirty) != 1 {
		t.Error("tombstones must be listed as dirty")
	}

	// A stale stamp leaves the tombstone in place
	tx, _ = s.BeginTx(ctx)
	if err := tx.PurgeRecord("m1", "a", t0); err != nil {
		t.Fatal(err)
	}
	_ = tx.Commit()
	if rec, _ := s.GetRecord(ctx, "m1", "a"); rec == nil {
		t.Fatal("purge with a stale stamp removed the record")
	}

	tx, _ = s.BeginTx(ctx)
	if err := tx.PurgeRecord("m1", "a", rec.LocalModifiedAt); err != nil {
		t.Fatal(err)
	}
	_ = tx.Commit()
	if rec, _ := s.GetRecord(ctx, "m1", "a"); rec != nil {
		t.Errorf("tombstone not purged: %+v", rec)
	}
}

func TestStore_ClearDirtyRespectsLaterEdits(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	upsert(t, s, domain.Record{Node: node("a", "", 0), Dirty: true, LocalModifiedAt: t0})
	collected, _ := s.GetRecord(ctx, "m1", "a")

	// Edit lands after the save collected the record
	edited := node("a", "", 0)
	edited.Title = "Edited"
	upsert(t, s, domain.Record{Node: edited, Dirty: true, LocalModifiedAt: t0.Add(time.Second)})

	tx, _ := s.BeginTx(ctx)
	if err := tx.ClearDirty("m1", "a", collected.LocalModifiedAt); err != nil {
		t.Fatal(err)
	}
	_ = tx.Commit()

	rec, _ := s.GetRecord(ctx, "m1", "a")
	if !rec.Dirty {
		t.Error("record edited after collection must stay dirty")
	}

	tx, _ = s.BeginTx(ctx)
	_ = tx.ClearDirty("m1", "a", rec.LocalModifiedAt)
	_ = tx.Commit()
	if rec, _ := s.GetRecord(ctx, "m1", "a"); rec.Dirty {
		t.Error("record should be clean after acknowledging the latest stamp")
	}
}

func TestStore_DocumentsAndReplace(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	upsert(t, s,
		domain.Record{Node: node("old", "", 0), Dirty: true, LocalModifiedAt: t0},
		domain.Record{Node: node("gone", "old", 0), Dirty: true, Deleted: true, LocalModifiedAt: t0},
	)

	tx, _ := s.BeginTx(ctx)
	doc := &domain.Document{ID: "m1", Title: "Plan", UpdatedAt: t0, LastSyncedRemote: t0}
	if err := tx.PutDocument(doc); err != nil {
		t.Fatal(err)
	}
	if err := tx.ReplaceNodes("m1", []domain.Node{node("r", "", 0), node("a", "r", 0)}); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	if err := tx.Rollback(); err != nil {
		t.Errorf("rollback after commit: %v", err)
	}

	got, err := s.GetDocument(ctx, "m1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "Plan" || !got.LastSyncedRemote.Equal(t0) {
		t.Errorf("unexpected document %+v", got)
	}

	nodes, _ := s.ListNodes(ctx, "m1")
	if len(nodes) != 2 {
		t.Fatalf("expected 2 nodes after replace, got %d", len(nodes))
	}
	if dirty, _ := s.ListDirty(ctx, "m1"); len(dirty) != 0 {
		t.Errorf("replaced nodes must be clean, got %d dirty", len(dirty))
	}

	docs, err := s.ListDocuments(ctx)
	if err != nil || len(docs) != 1 {
		t.Errorf("ListDocuments = %v, %v", docs, err)
	}
}

func TestStore_RollbackDiscardsWrites(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	tx, _ := s.BeginTx(ctx)
	n := node("a", "", 0)
	if err := tx.UpsertRecord(&domain.Record{Node: n}); err != nil {
		t.Fatal(err)
	}
	inTx, err := tx.GetRecord("m1", "a")
	if err != nil || inTx == nil {
		t.Fatalf("record not visible inside its transaction: %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatal(err)
	}

	if rec, _ := s.GetRecord(ctx, "m1", "a"); rec != nil {
		t.Error("rolled back write is visible")
	}
}
