package model

import (
	"regexp"
	"time"
)

// RecordStatus represents the processing state of an extracted record.
type RecordStatus string

const (
	StatusPending RecordStatus = "pending"
	StatusDone    RecordStatus = "done"
	StatusFailed  RecordStatus = "failed"
)

// Valid reports whether s is one of the known statuses.
func (s RecordStatus) Valid() bool {
	switch s {
	case StatusPending, StatusDone, StatusFailed:
		return true
	}
	return false
}

// IdentifierLength is the exact digit count of a national identifier.
const IdentifierLength = 13

var identifierRe = regexp.MustCompile(`^\d{13}$`)

// ValidIdentifier reports whether s is exactly 13 digits.
func ValidIdentifier(s string) bool {
	return identifierRe.MatchString(s)
}

// MaxPhones is the maximum number of phone numbers kept per record.
const MaxPhones = 3

// OwnerRecord is one owner row extracted from a source PDF, tracked through
// the pending → done/failed lifecycle. Unit and Size stay as the strings that
// appear in the document so leading zeros survive.
type OwnerRecord struct {
	ID             int64        `json:"id"`
	SourceDocument string       `json:"source_document"`
	Municipality   string       `json:"municipality,omitempty"`
	Township       string       `json:"township,omitempty"`
	SchemeName     string       `json:"sectional_scheme_name,omitempty"`
	Unit           string       `json:"unit"`
	Size           string       `json:"size"`
	Name           string       `json:"name"`
	Identifier     string       `json:"identifier"`
	Status         RecordStatus `json:"status"`
	Phones         []string     `json:"phones,omitempty"`
	Attempts       int          `json:"attempts"`
	ProcessedAt    *time.Time   `json:"processed_at,omitempty"`
}
