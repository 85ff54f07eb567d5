package ports

import (
	"context"
	"errors"
	"time"

	"mindmap/internal/domain"
)

// ErrNoRemoteCopy is returned when the remote has never stored a mindmap
var ErrNoRemoteCopy = errors.New("mindmap not found on remote")

// RemoteBackend is the authoritative copy of every mindmap.
// Authentication and row-level storage are the backend's concern.
type RemoteBackend interface {
	// FetchDocumentVersion returns the remote last-modified timestamp.
	// A mindmap the remote has never seen yields ErrNoRemoteCopy.
	FetchDocumentVersion(ctx context.Context, mindmapID string) (time.Time, error)

	// FetchDocument returns the full remote document
	FetchDocument(ctx context.Context, mindmapID string) (*domain.Snapshot, error)

	// UploadChanges applies a change set and returns the new remote timestamp
	UploadChanges(ctx context.Context, mindmapID string, changes domain.ChangeSet) (time.Time, error)
}
