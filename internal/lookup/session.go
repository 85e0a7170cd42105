// Package lookup resolves national identifiers to phone numbers through the
// remote agent portal. The portal has no API; the real driver works the
// rendered sign-in and search pages, while ReplaySession serves recorded
// fixtures for tests and dry runs.
package lookup

import (
	"context"

	"github.com/rotisserie/eris"
)

// Sentinel errors for the session stage.
var (
	// ErrAuthentication means the portal rejected the credentials. Fatal to
	// the whole batch: no lookup can proceed without a session.
	ErrAuthentication = eris.New("lookup: authentication failed")

	// ErrTimeout means the portal did not respond within the bounded wait.
	// During Open it is fatal; during a single Lookup it is a per-identifier
	// failure.
	ErrTimeout = eris.New("lookup: portal timed out")
)

// Opener establishes authenticated portal sessions.
type Opener interface {
	Open(ctx context.Context, username, password string) (Session, error)
}

// Session is one authenticated interaction window with the portal, reusable
// across many lookups.
//
// Lookup returns zero to three phone numbers for the identifier. "Not found"
// is a successful empty result, never an error.
type Session interface {
	Lookup(ctx context.Context, identifier string) ([]string, error)
	Close() error
}
