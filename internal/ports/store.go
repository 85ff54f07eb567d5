package ports

import (
	"context"
	"time"

	"mindmap/internal/domain"
)

// LocalStore provides durable local storage for mindmap replicas.
// Records are addressed by (mindmap ID, short ID).
type LocalStore interface {
	// Lifecycle
	Open(path string) error
	Close() error

	// Queries return nil without error when nothing is stored
	GetDocument(ctx context.Context, mindmapID string) (*domain.Document, error)
	GetRecord(ctx context.Context, mindmapID, shortID string) (*domain.Record, error)
	ListNodes(ctx context.Context, mindmapID string) ([]domain.Record, error) // Live records only
	ListDirty(ctx context.Context, mindmapID string) ([]domain.Record, error) // Includes tombstones

	// Batch updates (one transaction per action batch)
	BeginTx(ctx context.Context) (StoreTx, error)
}

// StoreTx represents a transaction for atomic multi-record writes
type StoreTx interface {
	// Record operations
	GetRecord(mindmapID, shortID string) (*domain.Record, error)
	UpsertRecord(rec *domain.Record) error
	MarkDeleted(mindmapID, shortID string, at time.Time) error

	// Settling operations; each only touches a record whose local
	// modification time still equals modifiedAt
	ClearDirty(mindmapID, shortID string, modifiedAt time.Time) error
	PurgeRecord(mindmapID, shortID string, modifiedAt time.Time) error

	// Document operations
	PutDocument(doc *domain.Document) error
	ReplaceNodes(mindmapID string, nodes []domain.Node) error

	// Transaction control
	Commit() error
	Rollback() error
}
