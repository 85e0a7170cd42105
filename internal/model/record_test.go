package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecordStatusValid(t *testing.T) {
	assert.True(t, StatusPending.Valid())
	assert.True(t, StatusDone.Valid())
	assert.True(t, StatusFailed.Valid())
	assert.False(t, RecordStatus("").Valid())
	assert.False(t, RecordStatus("processing").Valid())
}

func TestValidIdentifier(t *testing.T) {
	tests := []struct {
		name string
		id   string
		want bool
	}{
		{"valid", "6211141234083", true},
		{"leading zeros", "0001011234567", true},
		{"too short", "621114123408", false},
		{"too long", "62111412340831", false},
		{"letters", "62111412340a3", false},
		{"embedded spaces", "621114 234083", false},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidIdentifier(tt.id))
		})
	}
}

func TestDocumentOutcomeSkipped(t *testing.T) {
	assert.False(t, DocumentOutcome{Document: "a.pdf"}.Skipped())
	assert.True(t, DocumentOutcome{Document: "a.pdf", Error: "no records found"}.Skipped())
}
