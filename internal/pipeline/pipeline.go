// Package pipeline orchestrates extraction, persistence and portal
// enrichment for a batch of source documents under a finite credit budget.
package pipeline

import (
	"context"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/roach88/aegis/internal/extract"
	"github.com/roach88/aegis/internal/lookup"
	"github.com/roach88/aegis/internal/model"
	"github.com/roach88/aegis/internal/resilience"
	"github.com/roach88/aegis/internal/store"
)

// DocumentInput is one source PDF plus caller-supplied context fields.
type DocumentInput struct {
	Path         string
	Municipality string
	Township     string
	SchemeName   string
}

// Batch describes one pipeline run.
type Batch struct {
	Documents []DocumentInput
	Username  string
	Password  string
	Credits   int
	// Force re-inserts records whose (document, identifier) pair already
	// exists instead of deduplicating them.
	Force bool
}

// Pipeline drives extractor → store → session → store for a batch. It is
// the only component that creates records or writes status.
type Pipeline struct {
	store     store.Store
	opener    lookup.Opener
	retry     resilience.RetryConfig
	extractFn func(path string) ([]model.OwnerRecord, error)
}

// New creates a Pipeline.
func New(st store.Store, opener lookup.Opener, retry resilience.RetryConfig) *Pipeline {
	return &Pipeline{
		store:     st,
		opener:    opener,
		retry:     retry,
		extractFn: extract.FromFile,
	}
}

// Run processes every document in the batch sequentially against one portal
// session. A failed document or a failed identifier never aborts the batch;
// only a session that cannot be established does. Records touched before an
// external stop keep their last written status.
func (p *Pipeline) Run(ctx context.Context, batch Batch) (*model.BatchReport, error) {
	log := zap.L().With(zap.String("component", "pipeline"))

	report := &model.BatchReport{
		ID:        uuid.New().String(),
		StartedAt: time.Now().UTC(),
	}

	ledger := NewCreditLedger(batch.Credits)

	// An empty budget ends the run before any extraction or portal traffic,
	// sign-in included.
	if !ledger.CanSpend() {
		report.QuotaExhausted = true
		report.FinishedAt = time.Now().UTC()
		log.Warn("no credits in budget, batch not started",
			zap.Int("documents", len(batch.Documents)))
		return report, nil
	}

	session, err := p.opener.Open(ctx, batch.Username, batch.Password)
	if err != nil {
		// Nothing can proceed unauthenticated; the whole batch aborts.
		return nil, eris.Wrap(err, "pipeline: open session")
	}
	defer func() { _ = session.Close() }()

	for _, doc := range batch.Documents {
		if !ledger.CanSpend() {
			report.QuotaExhausted = true
			log.Warn("credit budget exhausted, stopping batch",
				zap.Int("documents_remaining", len(batch.Documents)-len(report.Documents)))
			break
		}
		if ctx.Err() != nil {
			break
		}

		outcome := p.processDocument(ctx, session, doc, ledger, batch.Force)
		if outcome.Skipped() {
			log.Warn("document skipped",
				zap.String("document", outcome.Document),
				zap.String("reason", outcome.Error))
		}
		report.Documents = append(report.Documents, outcome)

		report.Processed += outcome.Processed
		report.Failed += outcome.Failed
		report.Pending += outcome.Pending
	}

	report.CreditsUsed = ledger.Used()
	report.CreditsRemaining = ledger.Remaining()
	if !ledger.CanSpend() && report.Pending > 0 {
		report.QuotaExhausted = true
	}
	report.FinishedAt = time.Now().UTC()

	log.Info("batch finished",
		zap.String("batch", report.ID),
		zap.Int("processed", report.Processed),
		zap.Int("failed", report.Failed),
		zap.Int("pending", report.Pending),
		zap.Int("credits_used", report.CreditsUsed),
		zap.Bool("quota_exhausted", report.QuotaExhausted),
	)
	return report, nil
}

func (p *Pipeline) processDocument(ctx context.Context, session lookup.Session, doc DocumentInput, ledger *CreditLedger, force bool) model.DocumentOutcome {
	name := filepath.Base(doc.Path)
	log := zap.L().With(zap.String("component", "pipeline"), zap.String("document", name))
	outcome := model.DocumentOutcome{Document: name}

	recs, err := p.extractFn(doc.Path)
	if err != nil {
		// A bad document must not abort the whole batch.
		outcome.Error = err.Error()
		return outcome
	}
	outcome.Extracted = len(recs)

	for _, rec := range recs {
		rec.SourceDocument = name
		rec.Municipality = doc.Municipality
		rec.Township = doc.Township
		rec.SchemeName = doc.SchemeName

		if !force {
			exists, err := p.store.HasRecord(ctx, name, rec.Identifier)
			if err != nil {
				outcome.Error = err.Error()
				return outcome
			}
			if exists {
				outcome.Deduped++
				continue
			}
		}

		if _, err := p.store.InsertRecord(ctx, rec); err != nil {
			outcome.Error = err.Error()
			return outcome
		}
		outcome.Inserted++
	}

	// Re-query rather than reuse the in-memory list so interleaved inserts
	// from earlier runs are picked up too.
	pending, err := p.store.ListByStatus(ctx, name, model.StatusPending)
	if err != nil {
		outcome.Error = err.Error()
		return outcome
	}

	for i, rec := range pending {
		if !ledger.CanSpend() {
			outcome.Pending = len(pending) - i
			log.Warn("credit budget exhausted mid-document",
				zap.Int("records_remaining", outcome.Pending))
			return outcome
		}
		if ctx.Err() != nil {
			outcome.Pending = len(pending) - i
			return outcome
		}

		phones, err := p.lookupWithRetry(ctx, session, rec.Identifier)
		if err != nil {
			// One failed lookup never aborts the document.
			if markErr := p.store.MarkFailed(ctx, rec.ID); markErr != nil {
				log.Error("mark failed", zap.Int64("id", rec.ID), zap.Error(markErr))
			}
			outcome.Failed++
			log.Warn("lookup failed",
				zap.String("identifier", rec.Identifier),
				zap.Error(err))
			continue
		}

		if err := p.store.UpdateResult(ctx, rec.ID, phones); err != nil {
			log.Error("record result", zap.Int64("id", rec.ID), zap.Error(err))
			// Counted as failed, so the stored status must say failed too.
			if markErr := p.store.MarkFailed(ctx, rec.ID); markErr != nil {
				log.Error("mark failed", zap.Int64("id", rec.ID), zap.Error(markErr))
			}
			outcome.Failed++
			continue
		}
		ledger.Spend()
		outcome.Processed++
		log.Debug("record done",
			zap.String("identifier", rec.Identifier),
			zap.Int("phones", len(phones)))
	}

	return outcome
}

func (p *Pipeline) lookupWithRetry(ctx context.Context, session lookup.Session, identifier string) ([]string, error) {
	cfg := p.retry
	cfg.ShouldRetry = func(err error) bool {
		return eris.Is(err, lookup.ErrTimeout) || resilience.IsTransient(err)
	}
	if cfg.OnRetry == nil {
		cfg.OnRetry = resilience.RetryLogger("portal lookup")
	}
	return resilience.DoVal(ctx, cfg, func(ctx context.Context) ([]string, error) {
		return session.Lookup(ctx, identifier)
	})
}
