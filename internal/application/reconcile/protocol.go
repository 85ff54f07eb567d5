// Package reconcile synchronises the local replica of a mindmap with the
// remote backend. Saves compare the remote timestamp against the one the
// replica last synced with and surface any mismatch as a conflict for a human
// to resolve.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"mindmap/internal/application"
	"mindmap/internal/domain"
	"mindmap/internal/ports"
)

// Phase is a step of the save state machine
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseCollecting Phase = "collecting-dirty"
	PhaseChecking   Phase = "checking-remote-version"
	PhaseConflict   Phase = "conflict"
	PhaseUploading  Phase = "uploading"
	PhaseSettling   Phase = "settling"
)

// Editor is the part of the engine a save needs
type Editor interface {
	Flush(ctx context.Context) error
	Generation() uint64
	MarkSaved(generation uint64) bool
	Reset(s *domain.EditorState)
}

// Result describes the outcome of a save
type Result struct {
	MindmapID     string
	Skipped       bool // Nothing was dirty, or the save was cancelled
	Discarded     bool // Local changes were dropped in favour of the remote copy
	Uploaded      int
	Deleted       int
	RemoteVersion time.Time
	Saved         bool // The editor was flagged saved; false when an edit raced the save
	Message       string
}

// Protocol runs saves and pulls. Saves are serialised per mindmap.
type Protocol struct {
	store  ports.LocalStore
	remote ports.RemoteBackend
	logger *slog.Logger

	mu     sync.Mutex
	phases map[string]Phase
}

// New creates a Protocol
func New(store ports.LocalStore, remote ports.RemoteBackend, logger *slog.Logger) *Protocol {
	if logger == nil {
		logger = slog.Default()
	}
	return &Protocol{
		store:  store,
		remote: remote,
		logger: logger,
		phases: map[string]Phase{},
	}
}

// Phase returns the current save phase of a mindmap
func (p *Protocol) Phase(mindmapID string) Phase {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ph, ok := p.phases[mindmapID]; ok {
		return ph
	}
	return PhaseIdle
}

// begin claims the mindmap for one save run
func (p *Protocol) begin(mindmapID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ph, ok := p.phases[mindmapID]; ok && ph != PhaseIdle {
		return fmt.Errorf("%w: %s is %s", application.ErrSaveInProgress, mindmapID, ph)
	}
	p.phases[mindmapID] = PhaseCollecting
	return nil
}

func (p *Protocol) enter(mindmapID string, ph Phase) {
	p.mu.Lock()
	p.phases[mindmapID] = ph
	p.mu.Unlock()
	p.logger.Debug("save phase", "mindmap", mindmapID, "phase", string(ph))
}

func (p *Protocol) end(mindmapID string) {
	p.mu.Lock()
	delete(p.phases, mindmapID)
	p.mu.Unlock()
}

// Save uploads the local changes of a mindmap.
//
// Without a resolution a remote timestamp that differs from the one the
// replica last synced with fails with *application.ConflictError and nothing
// is uploaded. ResolutionForce uploads anyway, ResolutionDiscard replaces
// the replica with the remote copy and resets the editor, ResolutionCancel
// leaves everything as it is.
func (p *Protocol) Save(ctx context.Context, editor Editor, mindmapID string, resolution application.Resolution) (*Result, error) {
	if err := p.begin(mindmapID); err != nil {
		return nil, err
	}
	defer p.end(mindmapID)

	result := &Result{MindmapID: mindmapID}
	switch resolution {
	case application.ResolutionCancel:
		result.Skipped = true
		result.Message = "Save cancelled, local changes kept"
		return result, nil
	case application.ResolutionDiscard:
		return p.discard(ctx, editor, result)
	}

	// Every batch counted in generation is written by the flush, so the
	// dirty set covers it. Later commits make MarkSaved refuse.
	generation := editor.Generation()
	if err := editor.Flush(ctx); err != nil {
		return nil, fmt.Errorf("cannot save with unstored changes: %w", err)
	}

	doc, err := p.store.GetDocument(ctx, mindmapID)
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: mindmap %s has no local replica", application.ErrNotFound, mindmapID)
	}

	dirty, err := p.store.ListDirty(ctx, mindmapID)
	if err != nil {
		return nil, fmt.Errorf("failed to list dirty records: %w", err)
	}
	if len(dirty) == 0 {
		result.Skipped = true
		result.RemoteVersion = doc.LastSyncedRemote
		result.Saved = editor.MarkSaved(generation)
		result.Message = "Nothing to save"
		return result, nil
	}

	p.enter(mindmapID, PhaseChecking)
	remoteVersion, err := p.remote.FetchDocumentVersion(ctx, mindmapID)
	switch {
	case errors.Is(err, ports.ErrNoRemoteCopy):
		remoteVersion = time.Time{}
	case err != nil:
		return nil, fmt.Errorf("failed to fetch remote version: %w", err)
	}

	if !remoteVersion.Equal(doc.LastSyncedRemote) {
		if resolution != application.ResolutionForce {
			p.enter(mindmapID, PhaseConflict)
			conflict := &application.ConflictError{
				MindmapID:     mindmapID,
				LocalVersion:  doc.LastSyncedRemote,
				ServerVersion: remoteVersion,
				DirtyCount:    len(dirty),
			}
			p.logger.Warn("save conflict",
				"mindmap", mindmapID,
				"local_version", doc.LastSyncedRemote,
				"server_version", remoteVersion,
				"dirty", len(dirty))
			return nil, conflict
		}
		p.logger.Warn("forcing save over newer remote copy",
			"mindmap", mindmapID,
			"server_version", remoteVersion)
	}

	p.enter(mindmapID, PhaseUploading)
	changes := collect(doc, dirty)
	newVersion, err := p.remote.UploadChanges(ctx, mindmapID, changes)
	if err != nil {
		return nil, fmt.Errorf("failed to upload changes: %w", err)
	}

	p.enter(mindmapID, PhaseSettling)
	if err := p.settle(ctx, doc, dirty, newVersion); err != nil {
		return nil, err
	}

	result.Uploaded = len(changes.UpdatedNodes)
	result.Deleted = len(changes.DeletedIDs)
	result.RemoteVersion = newVersion
	result.Saved = editor.MarkSaved(generation)
	result.Message = fmt.Sprintf("Saved %d changed and %d deleted nodes", result.Uploaded, result.Deleted)
	if !result.Saved {
		result.Message += ", newer edits are still pending"
	}
	p.logger.Info("mindmap saved",
		"mindmap", mindmapID,
		"uploaded", result.Uploaded,
		"deleted", result.Deleted,
		"remote_version", newVersion)
	return result, nil
}

// collect splits dirty records into updated nodes and tombstones
func collect(doc *domain.Document, dirty []domain.Record) domain.ChangeSet {
	header := *doc
	cs := domain.ChangeSet{Document: &header}
	for _, rec := range dirty {
		if rec.Deleted {
			cs.DeletedIDs = append(cs.DeletedIDs, rec.ShortID)
			continue
		}
		cs.UpdatedNodes = append(cs.UpdatedNodes, rec.Node)
	}
	return cs
}

// settle acknowledges an upload in one transaction. Records modified after
// they were collected keep their dirty flag for the next save.
func (p *Protocol) settle(ctx context.Context, doc *domain.Document, dirty []domain.Record, version time.Time) error {
	tx, err := p.store.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, rec := range dirty {
		if rec.Deleted {
			err = tx.PurgeRecord(rec.MindmapID, rec.ShortID, rec.LocalModifiedAt)
		} else {
			err = tx.ClearDirty(rec.MindmapID, rec.ShortID, rec.LocalModifiedAt)
		}
		if err != nil {
			return fmt.Errorf("failed to settle node %s: %w", rec.ShortID, err)
		}
	}

	synced := *doc
	synced.UpdatedAt = version
	synced.LastSyncedRemote = version
	if err := tx.PutDocument(&synced); err != nil {
		return fmt.Errorf("failed to record remote version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit settlement: %w", err)
	}
	return nil
}

// discard drops every local change, reloads the remote copy and resets the
// editor to it
func (p *Protocol) discard(ctx context.Context, editor Editor, result *Result) (*Result, error) {
	if err := editor.Flush(ctx); err != nil {
		p.logger.Warn("discarding unstored changes", "mindmap", result.MindmapID, "error", err)
	}

	snap, err := p.pull(ctx, result.MindmapID)
	if err != nil {
		return nil, err
	}
	state, err := p.Load(ctx, result.MindmapID)
	if err != nil {
		return nil, err
	}
	editor.Reset(state)

	result.Discarded = true
	result.Saved = true
	result.RemoteVersion = snap.Document.UpdatedAt
	result.Message = fmt.Sprintf("Discarded local changes, reloaded %d nodes", len(snap.Nodes))
	p.logger.Info("local changes discarded", "mindmap", result.MindmapID, "remote_version", snap.Document.UpdatedAt)
	return result, nil
}

// Pull replaces the local replica with the remote copy. Unsaved local
// changes are lost.
func (p *Protocol) Pull(ctx context.Context, mindmapID string) (*domain.Snapshot, error) {
	if err := p.begin(mindmapID); err != nil {
		return nil, err
	}
	defer p.end(mindmapID)
	return p.pull(ctx, mindmapID)
}

func (p *Protocol) pull(ctx context.Context, mindmapID string) (*domain.Snapshot, error) {
	snap, err := p.remote.FetchDocument(ctx, mindmapID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch remote document: %w", err)
	}
	if err := domain.ValidateTree(nodeMap(snap.Nodes)); err != nil {
		return nil, fmt.Errorf("remote document %s is malformed: %w", mindmapID, err)
	}

	tx, err := p.store.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	doc := snap.Document
	doc.LastSyncedRemote = doc.UpdatedAt
	if err := tx.PutDocument(&doc); err != nil {
		return nil, fmt.Errorf("failed to store document: %w", err)
	}
	if err := tx.ReplaceNodes(mindmapID, snap.Nodes); err != nil {
		return nil, fmt.Errorf("failed to store nodes: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit pull: %w", err)
	}
	return snap, nil
}

// Load builds an editor state from the local replica
func (p *Protocol) Load(ctx context.Context, mindmapID string) (*domain.EditorState, error) {
	doc, err := p.store.GetDocument(ctx, mindmapID)
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: mindmap %s has no local replica", application.ErrNotFound, mindmapID)
	}

	records, err := p.store.ListNodes(ctx, mindmapID)
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}
	nodes := make([]domain.Node, 0, len(records))
	dirty := false
	for _, rec := range records {
		nodes = append(nodes, rec.Node)
		dirty = dirty || rec.Dirty
	}
	if err := domain.ValidateTree(nodeMap(nodes)); err != nil {
		p.logger.Warn("local replica breaks tree invariants", "mindmap", mindmapID, "error", err)
	}

	state := domain.NewEditorState(mindmapID, nodes)
	if !dirty {
		// Tombstones are not listed but still need a save
		pending, err := p.store.ListDirty(ctx, mindmapID)
		if err != nil {
			return nil, fmt.Errorf("failed to list dirty records: %w", err)
		}
		dirty = len(pending) > 0
	}
	if dirty {
		d := state.Edit()
		d.SetSaved(false)
		state = d.Commit()
	}
	return state, nil
}

// Open loads the local replica, pulling it from the remote first when there
// is none
func (p *Protocol) Open(ctx context.Context, mindmapID string) (*domain.EditorState, error) {
	doc, err := p.store.GetDocument(ctx, mindmapID)
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}
	if doc == nil {
		p.logger.Info("no local replica, pulling from remote", "mindmap", mindmapID)
		if _, err := p.Pull(ctx, mindmapID); err != nil {
			return nil, err
		}
	}
	return p.Load(ctx, mindmapID)
}

// Create starts a new mindmap locally with a single root node. It is
// uploaded by the first save.
func (p *Protocol) Create(ctx context.Context, root domain.Node, title string) (*domain.EditorState, error) {
	existing, err := p.store.GetDocument(ctx, root.MindmapID)
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: mindmap %s already exists", application.ErrInvalidOperation, root.MindmapID)
	}
	root.ParentShortID = ""
	root.OrderIndex = 0

	tx, err := p.store.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := tx.PutDocument(&domain.Document{ID: root.MindmapID, Title: title, UpdatedAt: root.CreatedAt}); err != nil {
		return nil, fmt.Errorf("failed to store document: %w", err)
	}
	rec := &domain.Record{Node: root, Dirty: true, LocalModifiedAt: root.CreatedAt}
	if err := tx.UpsertRecord(rec); err != nil {
		return nil, fmt.Errorf("failed to store root: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit new mindmap: %w", err)
	}
	return p.Load(ctx, root.MindmapID)
}

func nodeMap(nodes []domain.Node) map[string]domain.Node {
	m := make(map[string]domain.Node, len(nodes))
	for _, n := range nodes {
		m[n.ShortID] = n
	}
	return m
}
