package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/roach88/aegis/internal/model"
)

// Sentinel errors surfaced by Store implementations.
var (
	// ErrNotFound means the record id does not exist.
	ErrNotFound = eris.New("store: record not found")

	// ErrInvalidIdentifier means the identifier is not exactly 13 digits.
	// Records with malformed identifiers are never inserted.
	ErrInvalidIdentifier = eris.New("store: invalid identifier")

	// ErrInvalidStatus means the status value is not part of the lifecycle.
	ErrInvalidStatus = eris.New("store: invalid status")
)

// Store is the durable ledger of extracted records and their status.
// Records are append-only: nothing is ever deleted through this contract,
// and every call commits fully or has no effect.
type Store interface {
	// InsertRecord appends a record as pending and returns its assigned id.
	// The record's Status and ProcessedAt fields are ignored on input.
	InsertRecord(ctx context.Context, rec model.OwnerRecord) (int64, error)

	// UpdateStatus transitions a record. Entering done stamps processed_at
	// once (a repeated done leaves the original stamp); any other status
	// clears it.
	UpdateStatus(ctx context.Context, id int64, status model.RecordStatus) error

	// UpdateResult marks a record done and stores its phone numbers.
	UpdateResult(ctx context.Context, id int64, phones []string) error

	// MarkFailed marks a record failed and increments its attempt counter.
	MarkFailed(ctx context.Context, id int64) error

	// ListByStatus returns a document's records with the given status, in
	// insertion order.
	ListByStatus(ctx context.Context, doc string, status model.RecordStatus) ([]model.OwnerRecord, error)

	// ListAll returns a document's full history, any status, insertion order.
	ListAll(ctx context.Context, doc string) ([]model.OwnerRecord, error)

	// HasRecord reports whether the document already holds the identifier.
	HasRecord(ctx context.Context, doc, identifier string) (bool, error)

	// CountByStatus returns per-status record counts for a document.
	CountByStatus(ctx context.Context, doc string) (map[model.RecordStatus]int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
