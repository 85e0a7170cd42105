package lookup

import (
	"context"
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
)

// ReplayOpener serves recorded lookup results instead of driving the live
// portal. It backs `process --dry-run`.
type ReplayOpener struct {
	Fixture map[string][]string // identifier → phone numbers
}

// LoadReplayFixture reads a recorded identifier→phones map from a JSON file.
func LoadReplayFixture(path string) (*ReplayOpener, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "replay: read fixture %s", path)
	}
	var fixture map[string][]string
	if err := json.Unmarshal(data, &fixture); err != nil {
		return nil, eris.Wrapf(err, "replay: parse fixture %s", path)
	}
	return &ReplayOpener{Fixture: fixture}, nil
}

func (r *ReplayOpener) Open(_ context.Context, _, _ string) (Session, error) {
	return &ReplaySession{fixture: r.Fixture}, nil
}

// ReplaySession resolves identifiers against a recorded fixture. Unknown
// identifiers are a successful empty result, matching the portal's "not
// found" behavior.
type ReplaySession struct {
	fixture map[string][]string
}

func (s *ReplaySession) Lookup(_ context.Context, identifier string) ([]string, error) {
	var phones []string
	for _, raw := range s.fixture[identifier] {
		if n, ok := NormalizePhone(raw); ok {
			phones = append(phones, n)
		}
		if len(phones) == 3 {
			break
		}
	}
	return phones, nil
}

func (s *ReplaySession) Close() error { return nil }
