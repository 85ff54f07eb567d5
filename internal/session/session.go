// Package session wires the local store, the remote client, the save
// protocol and an editor engine for one open mindmap.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"mindmap/internal/adapters/metrics"
	"mindmap/internal/adapters/remote"
	"mindmap/internal/adapters/sqlite"
	"mindmap/internal/application"
	"mindmap/internal/application/commands"
	"mindmap/internal/application/engine"
	"mindmap/internal/application/reconcile"
	"mindmap/internal/domain"
	"mindmap/internal/ports"
)

// Options configures Open
type Options struct {
	DatabasePath string // Empty selects the store's default location
	RemoteURL    string
	MindmapID    string
	Logger       *slog.Logger
	Metrics      *metrics.Metrics // Optional

	// Create starts a new mindmap titled Title when neither the local store
	// nor the remote has one
	Create bool
	Title  string

	HistoryLimit            int
	SlowSubscriberThreshold time.Duration
}

// Session is one open mindmap
type Session struct {
	Store    *sqlite.Store
	Remote   *remote.Client
	Protocol *reconcile.Protocol
	Engine   *engine.Engine
	Metrics  *metrics.Metrics

	mindmapID string
	logger    *slog.Logger
	stop      func()
}

// Open loads a mindmap, pulling it from the remote when there is no local
// replica
func Open(ctx context.Context, opts Options) (*Session, error) {
	if strings.TrimSpace(opts.MindmapID) == "" {
		return nil, &application.ValidationError{Field: "mindmap", Message: "a mindmap ID is required"}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	store := sqlite.NewStore()
	if err := store.Open(opts.DatabasePath); err != nil {
		return nil, err
	}

	client := remote.NewClient(opts.RemoteURL, nil)
	protocol := reconcile.New(store, client, logger)

	state, err := protocol.Open(ctx, opts.MindmapID)
	if errors.Is(err, ports.ErrNoRemoteCopy) && opts.Create {
		state, err = protocol.Create(ctx, newRoot(opts.MindmapID, opts.Title), opts.Title)
		if err == nil {
			logger.Info("created mindmap", "mindmap", opts.MindmapID)
		}
	}
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to open mindmap %s: %w", opts.MindmapID, err)
	}

	e := engine.New(store, state, engine.Options{
		Logger:                  logger,
		HistoryLimit:            opts.HistoryLimit,
		SlowSubscriberThreshold: opts.SlowSubscriberThreshold,
	})

	s := &Session{
		Store:     store,
		Remote:    client,
		Protocol:  protocol,
		Engine:    e,
		Metrics:   opts.Metrics,
		mindmapID: opts.MindmapID,
		logger:    logger,
		stop:      func() {},
	}

	var onSave func(*reconcile.Result)
	if s.Metrics != nil {
		s.stop = s.Metrics.Observe(e)
		onSave = func(r *reconcile.Result) { s.Metrics.ObserveSave(r, nil) }
	}

	if err := commands.Register(e.Registry(), commands.DefaultGenerator()); err != nil {
		s.Close()
		return nil, err
	}
	if err := e.Registry().Register(reconcile.SaveDefinition(protocol, e, onSave)); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func newRoot(mindmapID, title string) domain.Node {
	now := time.Now().UTC()
	if strings.TrimSpace(title) == "" {
		title = "Central idea"
	}
	return domain.Node{
		ID:        ulid.Make().String(),
		ShortID:   uuid.NewString(),
		MindmapID: mindmapID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// MindmapID returns the open mindmap
func (s *Session) MindmapID() string {
	return s.mindmapID
}

// Save runs the save protocol for the open mindmap
func (s *Session) Save(ctx context.Context, resolution application.Resolution) (*reconcile.Result, error) {
	res, err := s.Protocol.Save(ctx, s.Engine, s.mindmapID, resolution)
	if s.Metrics != nil {
		s.Metrics.ObserveSave(res, err)
	}
	return res, err
}

// Close stops the engine, waiting for queued storage writes, then closes
// the store
func (s *Session) Close() error {
	s.stop()
	engineErr := s.Engine.Close()
	if engineErr != nil {
		s.logger.Error("closing with unstored changes", "mindmap", s.mindmapID, "error", engineErr)
	}
	return errors.Join(engineErr, s.Store.Close())
}
