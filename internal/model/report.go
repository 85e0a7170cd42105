package model

import "time"

// DocumentOutcome summarizes what happened to one source document in a batch.
type DocumentOutcome struct {
	Document  string `json:"document"`
	Extracted int    `json:"extracted"`
	Inserted  int    `json:"inserted"`
	Deduped   int    `json:"deduped"`
	Processed int    `json:"processed"`
	Failed    int    `json:"failed"`
	Pending   int    `json:"pending"`
	Error     string `json:"error,omitempty"`
}

// Skipped reports whether the document was abandoned before any lookup ran.
func (o DocumentOutcome) Skipped() bool {
	return o.Error != ""
}

// BatchReport is the aggregate result of one pipeline run.
type BatchReport struct {
	ID               string            `json:"id"`
	StartedAt        time.Time         `json:"started_at"`
	FinishedAt       time.Time         `json:"finished_at"`
	Documents        []DocumentOutcome `json:"documents"`
	Processed        int               `json:"processed"`
	Failed           int               `json:"failed"`
	Pending          int               `json:"pending"`
	CreditsUsed      int               `json:"credits_used"`
	CreditsRemaining int               `json:"credits_remaining"`
	QuotaExhausted   bool              `json:"quota_exhausted"`
}
