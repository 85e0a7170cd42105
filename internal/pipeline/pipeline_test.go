package pipeline

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/roach88/aegis/internal/extract"
	"github.com/roach88/aegis/internal/lookup"
	"github.com/roach88/aegis/internal/model"
	"github.com/roach88/aegis/internal/resilience"
	"github.com/roach88/aegis/internal/store"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "pipeline.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2.0,
	}
}

// stubExtractor replaces PDF reading with fixed per-document record sets.
func stubExtractor(docs map[string][]model.OwnerRecord) func(string) ([]model.OwnerRecord, error) {
	return func(path string) ([]model.OwnerRecord, error) {
		recs, ok := docs[filepath.Base(path)]
		if !ok {
			return nil, extract.ErrNoData
		}
		return recs, nil
	}
}

func ownerRecord(identifier string) model.OwnerRecord {
	return model.OwnerRecord{
		Unit:       "12",
		Size:       "45",
		Name:       "JOHN SMITH",
		Identifier: identifier,
	}
}

func TestRun_EndToEnd(t *testing.T) {
	st := newTestStore(t)
	opener := &lookup.ReplayOpener{Fixture: map[string][]string{
		"6211141234083": {"082 123 4567"},
	}}

	p := New(st, opener, fastRetry())
	p.extractFn = stubExtractor(map[string][]model.OwnerRecord{
		"scheme.pdf": {ownerRecord("6211141234083")},
	})

	report, err := p.Run(context.Background(), Batch{
		Documents: []DocumentInput{{Path: "/docs/scheme.pdf", Municipality: "Ethekwini", Township: "Umhlanga", SchemeName: "SEA VIEW"}},
		Username:  "agent",
		Password:  "secret",
		Credits:   10,
	})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, 0, report.Failed)
	assert.Equal(t, 0, report.Pending)
	assert.Equal(t, 1, report.CreditsUsed)
	assert.Equal(t, 9, report.CreditsRemaining)
	assert.False(t, report.QuotaExhausted)

	require.Len(t, report.Documents, 1)
	outcome := report.Documents[0]
	assert.Equal(t, "scheme.pdf", outcome.Document)
	assert.Equal(t, 1, outcome.Extracted)
	assert.Equal(t, 1, outcome.Inserted)
	assert.Equal(t, 1, outcome.Processed)

	recs, err := st.ListAll(context.Background(), "scheme.pdf")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, model.StatusDone, recs[0].Status)
	assert.Equal(t, []string{"0821234567"}, recs[0].Phones)
	assert.Equal(t, "Ethekwini", recs[0].Municipality)
	assert.Equal(t, "SEA VIEW", recs[0].SchemeName)
	require.NotNil(t, recs[0].ProcessedAt)
}

func TestRun_QuotaStopsMidDocument(t *testing.T) {
	st := newTestStore(t)
	opener := &lookup.ReplayOpener{Fixture: map[string][]string{}}

	ids := []string{
		"6211141234083", "6302251234084", "6403361234085",
		"6504471234086", "6605581234087",
	}
	recs := make([]model.OwnerRecord, 0, len(ids))
	for _, id := range ids {
		recs = append(recs, ownerRecord(id))
	}

	p := New(st, opener, fastRetry())
	p.extractFn = stubExtractor(map[string][]model.OwnerRecord{"big.pdf": recs})

	report, err := p.Run(context.Background(), Batch{
		Documents: []DocumentInput{{Path: "big.pdf"}},
		Credits:   2,
	})
	require.NoError(t, err)

	assert.Equal(t, 2, report.Processed)
	assert.Equal(t, 3, report.Pending)
	assert.Equal(t, 2, report.CreditsUsed)
	assert.Equal(t, 0, report.CreditsRemaining)
	assert.True(t, report.QuotaExhausted)

	counts, err := st.CountByStatus(context.Background(), "big.pdf")
	require.NoError(t, err)
	assert.Equal(t, 2, counts[model.StatusDone])
	assert.Equal(t, 3, counts[model.StatusPending])
	assert.Equal(t, 0, counts[model.StatusFailed])
}

func TestRun_ZeroCreditsNeverTouchesPortalOrDocuments(t *testing.T) {
	st := newTestStore(t)

	// No expectations: any Open call fails the test.
	opener := &mockOpener{}

	extracted := false
	p := New(st, opener, fastRetry())
	p.extractFn = func(path string) ([]model.OwnerRecord, error) {
		extracted = true
		return []model.OwnerRecord{ownerRecord("6211141234083")}, nil
	}

	report, err := p.Run(context.Background(), Batch{
		Documents: []DocumentInput{{Path: "a.pdf"}},
		Credits:   0,
	})
	require.NoError(t, err)

	opener.AssertNotCalled(t, "Open", mock.Anything, mock.Anything, mock.Anything)
	assert.False(t, extracted)
	assert.Empty(t, report.Documents)
	assert.True(t, report.QuotaExhausted)
	assert.Equal(t, 0, report.CreditsUsed)
}

func TestRun_LookupFailureMarksFailedAndContinues(t *testing.T) {
	st := newTestStore(t)

	session := &mockSession{}
	session.On("Lookup", mock.Anything, "6211141234083").
		Return(nil, lookup.ErrTimeout)
	session.On("Lookup", mock.Anything, "6302251234084").
		Return([]string{"0834567890"}, nil)
	session.On("Close").Return(nil)

	opener := &mockOpener{}
	opener.On("Open", mock.Anything, "agent", "secret").Return(session, nil)

	p := New(st, opener, fastRetry())
	p.extractFn = stubExtractor(map[string][]model.OwnerRecord{
		"doc.pdf": {ownerRecord("6211141234083"), ownerRecord("6302251234084")},
	})

	report, err := p.Run(context.Background(), Batch{
		Documents: []DocumentInput{{Path: "doc.pdf"}},
		Username:  "agent",
		Password:  "secret",
		Credits:   10,
	})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 9, report.CreditsRemaining)

	recs, err := st.ListAll(context.Background(), "doc.pdf")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, model.StatusFailed, recs[0].Status)
	assert.Equal(t, 1, recs[0].Attempts)
	assert.Equal(t, model.StatusDone, recs[1].Status)

	session.AssertNumberOfCalls(t, "Lookup", 3)
	session.AssertCalled(t, "Close")
}

func TestRun_TransientErrorRetriedThenSucceeds(t *testing.T) {
	st := newTestStore(t)

	session := &mockSession{}
	session.On("Lookup", mock.Anything, "6211141234083").
		Return(nil, lookup.ErrTimeout).Once()
	session.On("Lookup", mock.Anything, "6211141234083").
		Return([]string{"0821234567"}, nil).Once()
	session.On("Close").Return(nil)

	opener := &mockOpener{}
	opener.On("Open", mock.Anything, mock.Anything, mock.Anything).Return(session, nil)

	p := New(st, opener, fastRetry())
	p.extractFn = stubExtractor(map[string][]model.OwnerRecord{
		"doc.pdf": {ownerRecord("6211141234083")},
	})

	report, err := p.Run(context.Background(), Batch{
		Documents: []DocumentInput{{Path: "doc.pdf"}},
		Credits:   5,
	})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, 0, report.Failed)
	session.AssertExpectations(t)
}

// resultFailStore simulates a write fault on the done transition.
type resultFailStore struct {
	store.Store
	resultErr error
}

func (s *resultFailStore) UpdateResult(ctx context.Context, id int64, phones []string) error {
	return s.resultErr
}

func TestRun_ResultWriteFailureMarksRecordFailed(t *testing.T) {
	st := &resultFailStore{
		Store:     newTestStore(t),
		resultErr: eris.New("disk full"),
	}
	opener := &lookup.ReplayOpener{Fixture: map[string][]string{
		"6211141234083": {"0821234567"},
	}}

	p := New(st, opener, fastRetry())
	p.extractFn = stubExtractor(map[string][]model.OwnerRecord{
		"doc.pdf": {ownerRecord("6211141234083")},
	})

	report, err := p.Run(context.Background(), Batch{
		Documents: []DocumentInput{{Path: "doc.pdf"}},
		Credits:   5,
	})
	require.NoError(t, err)

	assert.Equal(t, 0, report.Processed)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 0, report.CreditsUsed)

	// The stored status must agree with the failed count.
	counts, err := st.CountByStatus(context.Background(), "doc.pdf")
	require.NoError(t, err)
	assert.Equal(t, 1, counts[model.StatusFailed])
	assert.Equal(t, 0, counts[model.StatusPending])
}

func TestRun_PermanentErrorNotRetried(t *testing.T) {
	st := newTestStore(t)

	session := &mockSession{}
	session.On("Lookup", mock.Anything, "6211141234083").
		Return(nil, eris.New("portal: malformed response"))
	session.On("Close").Return(nil)

	opener := &mockOpener{}
	opener.On("Open", mock.Anything, mock.Anything, mock.Anything).Return(session, nil)

	p := New(st, opener, fastRetry())
	p.extractFn = stubExtractor(map[string][]model.OwnerRecord{
		"doc.pdf": {ownerRecord("6211141234083")},
	})

	report, err := p.Run(context.Background(), Batch{
		Documents: []DocumentInput{{Path: "doc.pdf"}},
		Credits:   5,
	})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Failed)
	session.AssertNumberOfCalls(t, "Lookup", 1)
}

func TestRun_BadDocumentSkippedBatchContinues(t *testing.T) {
	st := newTestStore(t)
	opener := &lookup.ReplayOpener{Fixture: map[string][]string{
		"6302251234084": {"0834567890"},
	}}

	p := New(st, opener, fastRetry())
	p.extractFn = stubExtractor(map[string][]model.OwnerRecord{
		"good.pdf": {ownerRecord("6302251234084")},
		// empty.pdf is absent from the map so the stub returns ErrNoData
	})

	report, err := p.Run(context.Background(), Batch{
		Documents: []DocumentInput{{Path: "empty.pdf"}, {Path: "good.pdf"}},
		Credits:   10,
	})
	require.NoError(t, err)

	require.Len(t, report.Documents, 2)
	assert.True(t, report.Documents[0].Skipped())
	assert.NotEmpty(t, report.Documents[0].Error)
	assert.Equal(t, 1, report.Documents[1].Processed)
	assert.Equal(t, 1, report.Processed)
}

func TestRun_OpenFailureAbortsBatch(t *testing.T) {
	st := newTestStore(t)

	opener := &mockOpener{}
	opener.On("Open", mock.Anything, "agent", "wrong").
		Return(nil, lookup.ErrAuthentication)

	p := New(st, opener, fastRetry())
	p.extractFn = func(string) ([]model.OwnerRecord, error) {
		t.Fatal("extraction must not run when the session cannot be opened")
		return nil, nil
	}

	report, err := p.Run(context.Background(), Batch{
		Documents: []DocumentInput{{Path: "doc.pdf"}},
		Username:  "agent",
		Password:  "wrong",
		Credits:   5,
	})
	require.Error(t, err)
	assert.True(t, eris.Is(err, lookup.ErrAuthentication))
	assert.Nil(t, report)
}

func TestRun_DedupeAcrossRuns(t *testing.T) {
	st := newTestStore(t)
	opener := &lookup.ReplayOpener{Fixture: map[string][]string{
		"6211141234083": {"0821234567"},
	}}

	p := New(st, opener, fastRetry())
	p.extractFn = stubExtractor(map[string][]model.OwnerRecord{
		"doc.pdf": {ownerRecord("6211141234083")},
	})

	batch := Batch{
		Documents: []DocumentInput{{Path: "doc.pdf"}},
		Credits:   10,
	}

	_, err := p.Run(context.Background(), batch)
	require.NoError(t, err)

	// Second run over the same document dedupes rather than re-inserting.
	report, err := p.Run(context.Background(), batch)
	require.NoError(t, err)
	require.Len(t, report.Documents, 1)
	assert.Equal(t, 1, report.Documents[0].Deduped)
	assert.Equal(t, 0, report.Documents[0].Inserted)

	recs, err := st.ListAll(context.Background(), "doc.pdf")
	require.NoError(t, err)
	assert.Len(t, recs, 1)

	// Force re-inserts the pair as a fresh pending record.
	batch.Force = true
	report, err = p.Run(context.Background(), batch)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Documents[0].Inserted)

	recs, err = st.ListAll(context.Background(), "doc.pdf")
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestRun_CancelledContextStops(t *testing.T) {
	st := newTestStore(t)
	opener := &lookup.ReplayOpener{Fixture: map[string][]string{}}

	p := New(st, opener, fastRetry())
	p.extractFn = stubExtractor(map[string][]model.OwnerRecord{
		"doc.pdf": {ownerRecord("6211141234083")},
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := p.Run(ctx, Batch{
		Documents: []DocumentInput{{Path: "doc.pdf"}},
		Credits:   10,
	})
	require.NoError(t, err)
	assert.Empty(t, report.Documents)
	assert.Equal(t, 0, report.Processed)
}
