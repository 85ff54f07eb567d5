package reconcile

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"mindmap/internal/adapters/sqlite"
	"mindmap/internal/application"
	"mindmap/internal/application/actions"
	"mindmap/internal/application/commands"
	"mindmap/internal/application/engine"
	"mindmap/internal/domain"
	"mindmap/internal/ports"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// fakeRemote keeps snapshots in memory and stamps every upload with a new
// version one second after the previous one
type fakeRemote struct {
	mu      sync.Mutex
	docs    map[string]*domain.Snapshot
	uploads []domain.ChangeSet

	onUpload func()        // Runs before an upload is applied
	entered  chan struct{} // Signalled when a version check starts
	block    chan struct{} // Version checks wait for it when set
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{docs: map[string]*domain.Snapshot{}}
}

func (r *fakeRemote) seed(id string, version time.Time, nodes ...domain.Node) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.docs[id] = &domain.Snapshot{
		Document: domain.Document{ID: id, Title: "Remote " + id, UpdatedAt: version},
		Nodes:    nodes,
	}
}

// touch simulates another client saving the document
func (r *fakeRemote) touch(id string, version time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.docs[id].Document.UpdatedAt = version
}

func (r *fakeRemote) uploadCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.uploads)
}

func (r *fakeRemote) FetchDocumentVersion(ctx context.Context, id string) (time.Time, error) {
	if r.entered != nil {
		r.entered <- struct{}{}
	}
	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
			return time.Time{}, ctx.Err()
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	snap, ok := r.docs[id]
	if !ok {
		return time.Time{}, ports.ErrNoRemoteCopy
	}
	return snap.Document.UpdatedAt, nil
}

func (r *fakeRemote) FetchDocument(_ context.Context, id string) (*domain.Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap, ok := r.docs[id]
	if !ok {
		return nil, ports.ErrNoRemoteCopy
	}
	cp := *snap
	cp.Nodes = append([]domain.Node(nil), snap.Nodes...)
	return &cp, nil
}

func (r *fakeRemote) UploadChanges(_ context.Context, id string, cs domain.ChangeSet) (time.Time, error) {
	if r.onUpload != nil {
		r.onUpload()
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	snap, ok := r.docs[id]
	if !ok {
		snap = &domain.Snapshot{Document: *cs.Document, Nodes: nil}
		snap.Document.UpdatedAt = t0
		r.docs[id] = snap
	}

	byID := nodeMap(snap.Nodes)
	for _, n := range cs.UpdatedNodes {
		byID[n.ShortID] = n
	}
	for _, short := range cs.DeletedIDs {
		delete(byID, short)
	}
	snap.Nodes = snap.Nodes[:0]
	for _, n := range byID {
		snap.Nodes = append(snap.Nodes, n)
	}
	snap.Document.UpdatedAt = snap.Document.UpdatedAt.Add(time.Second)
	r.uploads = append(r.uploads, cs)
	return snap.Document.UpdatedAt, nil
}

type harness struct {
	store    *sqlite.Store
	remote   *fakeRemote
	protocol *Protocol
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := sqlite.NewStore()
	if err := store.Open(filepath.Join(t.TempDir(), "mindmap.db")); err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	remote := newFakeRemote()
	return &harness{
		store:    store,
		remote:   remote,
		protocol: New(store, remote, quietLogger()),
	}
}

// editor opens an engine over state with the node commands registered
func (h *harness) editor(t *testing.T, state *domain.EditorState) *engine.Engine {
	t.Helper()
	e := engine.New(h.store, state, engine.Options{Logger: quietLogger()})
	if err := commands.Register(e.Registry(), commands.DefaultGenerator()); err != nil {
		t.Fatalf("register: %v", err)
	}
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func (h *harness) dirty(t *testing.T, id string) []domain.Record {
	t.Helper()
	recs, err := h.store.ListDirty(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	return recs
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func rootNode(id string) domain.Node {
	return domain.Node{ID: "01ROOT", ShortID: "root", MindmapID: id, Title: "Central idea", CreatedAt: t0, UpdatedAt: t0}
}

func child(id, short string, order int) domain.Node {
	return domain.Node{ID: "01" + short, ShortID: short, MindmapID: id, ParentShortID: "root", OrderIndex: order, Title: short, CreatedAt: t0, UpdatedAt: t0}
}

func addChild(t *testing.T, e *engine.Engine, title string) {
	t.Helper()
	err := e.Dispatch(context.Background(), "node.add_child", application.Params{"parentId": "root", "title": title})
	if err != nil {
		t.Fatalf("add child: %v", err)
	}
}

func TestSave_NewMindmapUploadsEverything(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	state, err := h.protocol.Create(ctx, rootNode("m1"), "Plans")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	e := h.editor(t, state)
	addChild(t, e, "First")
	if e.State().Saved() {
		t.Fatal("state should be unsaved after an edit")
	}

	res, err := h.protocol.Save(ctx, e, "m1", application.ResolutionNone)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if res.Uploaded != 2 || res.Deleted != 0 || !res.Saved {
		t.Errorf("unexpected result %+v", res)
	}
	if !e.State().Saved() {
		t.Error("editor should be saved")
	}
	if n := len(h.dirty(t, "m1")); n != 0 {
		t.Errorf("expected clean replica, %d records still dirty", n)
	}

	doc, _ := h.store.GetDocument(ctx, "m1")
	if !doc.LastSyncedRemote.Equal(res.RemoteVersion) {
		t.Errorf("replica synced at %v, remote at %v", doc.LastSyncedRemote, res.RemoteVersion)
	}
	if h.protocol.Phase("m1") != PhaseIdle {
		t.Errorf("phase = %s after save", h.protocol.Phase("m1"))
	}
}

func TestSave_NothingDirty(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.remote.seed("m1", t0, rootNode("m1"))

	state, err := h.protocol.Open(ctx, "m1")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	e := h.editor(t, state)

	res, err := h.protocol.Save(ctx, e, "m1", application.ResolutionNone)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Skipped || !res.Saved {
		t.Errorf("expected skipped save, got %+v", res)
	}
	if h.remote.uploadCount() != 0 {
		t.Error("nothing should have been uploaded")
	}
}

func TestSave_DeletionsBecomeTombstoneUploads(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.remote.seed("m1", t0, rootNode("m1"), child("m1", "a", 0), child("m1", "b", 1))

	state, err := h.protocol.Open(ctx, "m1")
	if err != nil {
		t.Fatal(err)
	}
	e := h.editor(t, state)
	if err := e.Dispatch(ctx, "node.delete", application.Params{"nodeId": "a"}); err != nil {
		t.Fatalf("delete: %v", err)
	}

	res, err := h.protocol.Save(ctx, e, "m1", application.ResolutionNone)
	if err != nil {
		t.Fatal(err)
	}
	// b was renumbered, a was removed
	if res.Deleted != 1 || res.Uploaded != 1 {
		t.Errorf("unexpected result %+v", res)
	}
	if rec, _ := h.store.GetRecord(ctx, "m1", "a"); rec != nil {
		t.Errorf("acknowledged tombstone still stored: %+v", rec)
	}
}

func TestSave_Conflict(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.remote.seed("m1", t0, rootNode("m1"))

	state, _ := h.protocol.Open(ctx, "m1")
	e := h.editor(t, state)
	addChild(t, e, "Local idea")

	t1 := t0.Add(time.Hour)
	h.remote.touch("m1", t1)

	_, err := h.protocol.Save(ctx, e, "m1", application.ResolutionNone)
	if !errors.Is(err, application.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	var conflict *application.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected *ConflictError, got %T", err)
	}
	if !conflict.LocalVersion.Equal(t0) || !conflict.ServerVersion.Equal(t1) || conflict.DirtyCount != 1 {
		t.Errorf("unexpected conflict %+v", conflict)
	}
	if h.remote.uploadCount() != 0 {
		t.Error("a conflicting save must not upload")
	}
	if n := len(h.dirty(t, "m1")); n != 1 {
		t.Errorf("local changes must stay dirty, got %d", n)
	}
	if e.State().Saved() {
		t.Error("editor must stay unsaved")
	}
	if h.protocol.Phase("m1") != PhaseIdle {
		t.Error("phase should return to idle after a conflict")
	}
}

func TestSave_Resolutions(t *testing.T) {
	t1 := t0.Add(time.Hour)

	setup := func(t *testing.T) (*harness, *engine.Engine) {
		h := newHarness(t)
		h.remote.seed("m1", t0, rootNode("m1"), child("m1", "remote", 0))
		state, err := h.protocol.Open(context.Background(), "m1")
		if err != nil {
			t.Fatal(err)
		}
		e := h.editor(t, state)
		addChild(t, e, "Local idea")
		h.remote.touch("m1", t1)
		return h, e
	}

	t.Run("force", func(t *testing.T) {
		h, e := setup(t)
		res, err := h.protocol.Save(context.Background(), e, "m1", application.ResolutionForce)
		if err != nil {
			t.Fatal(err)
		}
		if res.Uploaded != 1 || !res.RemoteVersion.Equal(t1.Add(time.Second)) {
			t.Errorf("unexpected result %+v", res)
		}
		if len(h.dirty(t, "m1")) != 0 || !e.State().Saved() {
			t.Error("forced save should leave a clean, saved replica")
		}
	})

	t.Run("discard", func(t *testing.T) {
		h, e := setup(t)
		res, err := h.protocol.Save(context.Background(), e, "m1", application.ResolutionDiscard)
		if err != nil {
			t.Fatal(err)
		}
		if !res.Discarded || !res.RemoteVersion.Equal(t1) {
			t.Errorf("unexpected result %+v", res)
		}
		if h.remote.uploadCount() != 0 {
			t.Error("discard must not upload")
		}
		s := e.State()
		if s.Len() != 2 || !s.Saved() {
			t.Errorf("editor should hold the remote copy, got %d nodes (saved=%v)", s.Len(), s.Saved())
		}
		if _, ok := s.Node("remote"); !ok {
			t.Error("remote node missing after discard")
		}
		if e.CanUndo() {
			t.Error("history should be cleared after discard")
		}
		if len(h.dirty(t, "m1")) != 0 {
			t.Error("replica should be clean after discard")
		}
	})

	t.Run("cancel", func(t *testing.T) {
		h, e := setup(t)
		res, err := h.protocol.Save(context.Background(), e, "m1", application.ResolutionCancel)
		if err != nil {
			t.Fatal(err)
		}
		if !res.Skipped || res.Saved {
			t.Errorf("unexpected result %+v", res)
		}
		if len(h.dirty(t, "m1")) != 1 || e.State().Saved() {
			t.Error("cancel must keep local changes pending")
		}
	})
}

func TestSave_EditDuringUploadStaysDirty(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.remote.seed("m1", t0, rootNode("m1"))

	state, _ := h.protocol.Open(ctx, "m1")
	e := h.editor(t, state)
	addChild(t, e, "Before save")

	var raceErr error
	h.remote.onUpload = func() {
		raceErr = e.Dispatch(ctx, "node.update", application.Params{"nodeId": "root", "title": "Renamed mid-save"})
	}

	res, err := h.protocol.Save(ctx, e, "m1", application.ResolutionNone)
	if err != nil {
		t.Fatal(err)
	}
	if raceErr != nil {
		t.Fatalf("racing edit: %v", raceErr)
	}
	if res.Saved || e.State().Saved() {
		t.Error("an edit committed during the save must keep the editor unsaved")
	}

	dirty := h.dirty(t, "m1")
	if len(dirty) != 1 || dirty[0].ShortID != "root" {
		t.Fatalf("expected only the raced node dirty, got %+v", dirty)
	}

	// The next save picks the raced edit up
	h.remote.onUpload = nil
	res, err = h.protocol.Save(ctx, e, "m1", application.ResolutionNone)
	if err != nil {
		t.Fatal(err)
	}
	if res.Uploaded != 1 || !res.Saved {
		t.Errorf("unexpected second save %+v", res)
	}
}

// gatedStore holds engine storage transactions while a gate is set
type gatedStore struct {
	*sqlite.Store
	mu   sync.Mutex
	gate chan struct{}
}

func (s *gatedStore) hold() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gate = make(chan struct{})
}

func (s *gatedStore) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gate != nil {
		close(s.gate)
		s.gate = nil
	}
}

func (s *gatedStore) BeginTx(ctx context.Context) (ports.StoreTx, error) {
	s.mu.Lock()
	gate := s.gate
	s.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return s.Store.BeginTx(ctx)
}

// flushHook runs a callback once, right after the first flush of a save
type flushHook struct {
	*engine.Engine
	after func()
}

func (f *flushHook) Flush(ctx context.Context) error {
	err := f.Engine.Flush(ctx)
	if after := f.after; after != nil {
		f.after = nil
		after()
	}
	return err
}

func TestSave_EditAfterFlushStaysUnsaved(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.remote.seed("m1", t0, rootNode("m1"))

	state, err := h.protocol.Open(ctx, "m1")
	if err != nil {
		t.Fatal(err)
	}
	store := &gatedStore{Store: h.store}
	e := engine.New(store, state, engine.Options{Logger: quietLogger()})
	if err := commands.Register(e.Registry(), commands.DefaultGenerator()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		store.release()
		_ = e.Close()
	})
	addChild(t, e, "First")

	committed := make(chan struct{}, 1)
	e.Subscribe("committed", []actions.Kind{actions.KindAddNode}, engine.PhaseSync, func(context.Context, engine.Event) error {
		select {
		case committed <- struct{}{}:
		default:
		}
		return nil
	})

	// The second edit commits after the flush but is stored only after the
	// dirty records have been collected
	raced := make(chan error, 1)
	editor := &flushHook{Engine: e, after: func() {
		store.hold()
		go func() {
			raced <- e.Dispatch(ctx, "node.add_child", application.Params{"parentId": "root", "title": "Second"})
		}()
		<-committed
	}}

	res, err := h.protocol.Save(ctx, editor, "m1", application.ResolutionNone)
	store.release()
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := <-raced; err != nil {
		t.Fatalf("second edit: %v", err)
	}

	if res.Saved || e.State().Saved() {
		t.Error("an edit committed after the flush must keep the editor unsaved")
	}
	snap, _ := h.remote.FetchDocument(ctx, "m1")
	titles := map[string]bool{}
	for _, n := range snap.Nodes {
		titles[n.Title] = true
	}
	if !titles["First"] || titles["Second"] {
		t.Errorf("remote titles %v, expected First without Second", titles)
	}
	dirty := h.dirty(t, "m1")
	if len(dirty) != 1 || dirty[0].Title != "Second" {
		t.Errorf("expected only Second dirty, got %+v", dirty)
	}
}

func TestSave_RejectsConcurrentSave(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.remote.seed("m1", t0, rootNode("m1"))

	state, _ := h.protocol.Open(ctx, "m1")
	e := h.editor(t, state)
	addChild(t, e, "Pending")

	h.remote.entered = make(chan struct{}, 1)
	h.remote.block = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := h.protocol.Save(ctx, e, "m1", application.ResolutionNone)
		done <- err
	}()
	<-h.remote.entered

	if ph := h.protocol.Phase("m1"); ph != PhaseChecking {
		t.Errorf("phase = %s, expected %s", ph, PhaseChecking)
	}
	if _, err := h.protocol.Save(ctx, e, "m1", application.ResolutionNone); !errors.Is(err, application.ErrSaveInProgress) {
		t.Errorf("expected ErrSaveInProgress, got %v", err)
	}
	if _, err := h.protocol.Pull(ctx, "m1"); !errors.Is(err, application.ErrSaveInProgress) {
		t.Errorf("pull during save: expected ErrSaveInProgress, got %v", err)
	}

	close(h.remote.block)
	if err := <-done; err != nil {
		t.Fatalf("first save: %v", err)
	}
}

func TestSave_MissingReplica(t *testing.T) {
	h := newHarness(t)
	e := h.editor(t, domain.NewEditorState("ghost", []domain.Node{rootNode("ghost")}))

	_, err := h.protocol.Save(context.Background(), e, "ghost", application.ResolutionNone)
	if !errors.Is(err, application.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPull_RejectsMalformedTree(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	second := rootNode("m1")
	second.ShortID = "root2"
	h.remote.seed("m1", t0, rootNode("m1"), second)

	if _, err := h.protocol.Pull(ctx, "m1"); err == nil {
		t.Fatal("expected pull of a two-rooted tree to fail")
	}
	if doc, _ := h.store.GetDocument(ctx, "m1"); doc != nil {
		t.Error("malformed pull must not touch the replica")
	}
}

func TestOpen(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.remote.seed("m1", t0, rootNode("m1"), child("m1", "a", 0))

	state, err := h.protocol.Open(ctx, "m1")
	if err != nil {
		t.Fatal(err)
	}
	if state.Len() != 2 || state.CurrentNodeID() != "root" || !state.Saved() {
		t.Errorf("unexpected state: %d nodes, current %q, saved %v", state.Len(), state.CurrentNodeID(), state.Saved())
	}

	// A second open uses the replica even when the remote moves on
	h.remote.seed("m1", t0.Add(time.Hour), rootNode("m1"))
	state, err = h.protocol.Open(ctx, "m1")
	if err != nil {
		t.Fatal(err)
	}
	if state.Len() != 2 {
		t.Errorf("expected the local replica, got %d nodes", state.Len())
	}

	if _, err := h.protocol.Open(ctx, "unknown"); !errors.Is(err, ports.ErrNoRemoteCopy) {
		t.Errorf("expected ErrNoRemoteCopy, got %v", err)
	}
}

func TestLoad_DirtyReplicaIsUnsaved(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.remote.seed("m1", t0, rootNode("m1"), child("m1", "a", 0))

	state, _ := h.protocol.Open(ctx, "m1")
	e := h.editor(t, state)
	if err := e.Dispatch(ctx, "node.delete", application.Params{"nodeId": "a"}); err != nil {
		t.Fatal(err)
	}
	if err := e.Close(); err != nil {
		t.Fatal(err)
	}

	state, err := h.protocol.Load(ctx, "m1")
	if err != nil {
		t.Fatal(err)
	}
	if state.Saved() {
		t.Error("a replica with pending tombstones must load unsaved")
	}
	if state.Len() != 1 {
		t.Errorf("tombstoned node loaded: %d nodes", state.Len())
	}
}

func TestCreate_Twice(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.protocol.Create(ctx, rootNode("m1"), "Plans"); err != nil {
		t.Fatal(err)
	}
	if _, err := h.protocol.Create(ctx, rootNode("m1"), "Plans"); !errors.Is(err, application.ErrInvalidOperation) {
		t.Errorf("expected ErrInvalidOperation, got %v", err)
	}
}

func TestSaveDefinition(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	state, _ := h.protocol.Create(ctx, rootNode("m1"), "Plans")
	e := h.editor(t, state)

	var got *Result
	if err := e.Registry().Register(SaveDefinition(h.protocol, e, func(r *Result) { got = r })); err != nil {
		t.Fatal(err)
	}
	addChild(t, e, "Idea")

	if err := e.Dispatch(ctx, "document.save", nil); err != nil {
		t.Fatalf("save command: %v", err)
	}
	if got == nil || got.Uploaded != 2 {
		t.Errorf("unexpected result %+v", got)
	}
	if d := e.UndoDescription(); d != `Add child to "Central idea"` {
		t.Errorf("save must not enter history, undo would replay %q", d)
	}

	err := e.Dispatch(ctx, "document.save", application.Params{"resolution": "sideways"})
	var verr *application.ValidationError
	if !errors.As(err, &verr) {
		t.Errorf("expected validation error for bad resolution, got %v", err)
	}
}
