// Package extract turns the fixed-layout owner report PDFs into candidate
// owner records. The only contract with the source document is the record
// pattern: unit, size, uppercase name, 13-digit identifier co-occurring
// within one physical text block.
package extract

import (
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/roach88/aegis/internal/model"
)

// Sentinel errors for the extraction stage.
var (
	// ErrNoData means the document produced zero record matches. An empty
	// document is never silently treated as success.
	ErrNoData = eris.New("extract: no matching records found")

	// ErrUnreadable means the document could not be opened or parsed.
	ErrUnreadable = eris.New("extract: unreadable document")
)

// recordRe matches one owner record inside a block: unit digits, size
// digits, an uppercase name (non-greedy so it does not swallow the
// identifier), then exactly 13 identifier digits. The trailing boundary
// keeps a 14-digit run from donating its first 13 digits.
var recordRe = regexp.MustCompile(`(\d+)\s+(\d+)\s+([A-Z\s]+?)\s+(\d{13})\b`)

// FromFile extracts all owner records from the PDF at path. Contextual
// fields (municipality, township, scheme) are left blank for the caller.
func FromFile(path string) ([]model.OwnerRecord, error) {
	blocks, err := readBlocks(path)
	if err != nil {
		return nil, err
	}

	recs := FromBlocks(blocks)
	if len(recs) == 0 {
		return nil, eris.Wrapf(ErrNoData, "%s", path)
	}

	zap.L().Debug("extracted records",
		zap.String("path", path),
		zap.Int("blocks", len(blocks)),
		zap.Int("records", len(recs)),
	)
	return recs, nil
}

// FromBlocks runs the record pattern over pre-segmented block texts. All
// non-overlapping matches in a block are extracted; names are trimmed.
func FromBlocks(blocks []string) []model.OwnerRecord {
	var recs []model.OwnerRecord
	for _, block := range blocks {
		for _, m := range recordRe.FindAllStringSubmatch(block, -1) {
			recs = append(recs, model.OwnerRecord{
				Unit:       m[1],
				Size:       m[2],
				Name:       collapseSpaces(m[3]),
				Identifier: m[4],
			})
		}
	}
	return recs
}

// readBlocks opens the PDF and returns the text of every physical block,
// page by page.
func readBlocks(path string) (blocks []string, err error) {
	// ledongthuc/pdf panics on some malformed cross-reference tables; fold
	// those into ErrUnreadable like any other parse fault.
	defer func() {
		if r := recover(); r != nil {
			blocks = nil
			err = eris.Wrapf(ErrUnreadable, "%s: %v", path, r)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, eris.Wrapf(ErrUnreadable, "%s: %v", path, err)
	}
	defer f.Close()

	for pageNum := 1; pageNum <= r.NumPage(); pageNum++ {
		page := r.Page(pageNum)
		if page.V.IsNull() || page.V.Key("Contents").IsNull() {
			continue
		}
		blocks = append(blocks, groupBlocks(page.Content().Text)...)
	}
	return blocks, nil
}

// Layout grouping thresholds, in PDF points. Fragments within rowTolerance
// of a row's baseline belong to that row; rows closer than blockGap form one
// block.
const (
	rowTolerance = 2.0
	blockGap     = 14.0
)

type textRow struct {
	y     float64
	parts []string
}

// groupBlocks clusters positioned text fragments into physical blocks.
// Fragments land in rows keyed by their Y baseline, then adjacent rows merge
// into blocks so that a record wrapped across lines still matches as one
// block text.
func groupBlocks(texts []pdf.Text) []string {
	var rows []textRow
	for _, t := range texts {
		s := strings.TrimSpace(t.S)
		if s == "" {
			continue
		}

		placed := false
		for i := range rows {
			if abs(rows[i].y-t.Y) < rowTolerance {
				rows[i].parts = append(rows[i].parts, s)
				placed = true
				break
			}
		}
		if !placed {
			rows = append(rows, textRow{y: t.Y, parts: []string{s}})
		}
	}

	var blocks []string
	var current []string
	var lastY float64
	for i, row := range rows {
		line := strings.Join(row.parts, " ")
		if i > 0 && abs(lastY-row.y) > blockGap {
			blocks = append(blocks, strings.Join(current, " "))
			current = current[:0]
		}
		current = append(current, line)
		lastY = row.y
	}
	if len(current) > 0 {
		blocks = append(blocks, strings.Join(current, " "))
	}
	return blocks
}

var spaceRe = regexp.MustCompile(`\s+`)

func collapseSpaces(s string) string {
	return spaceRe.ReplaceAllString(strings.TrimSpace(s), " ")
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
