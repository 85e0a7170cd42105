package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/roach88/aegis/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS processed_ids (
	id                    INTEGER PRIMARY KEY AUTOINCREMENT,
	pdf_filename          TEXT NOT NULL,
	municipality          TEXT NOT NULL DEFAULT '',
	township              TEXT NOT NULL DEFAULT '',
	sectional_scheme_name TEXT NOT NULL DEFAULT '',
	unit                  TEXT NOT NULL,
	size                  TEXT NOT NULL,
	name                  TEXT NOT NULL,
	identifier            TEXT NOT NULL,
	status                TEXT NOT NULL DEFAULT 'pending',
	phone1                TEXT NOT NULL DEFAULT '',
	phone2                TEXT NOT NULL DEFAULT '',
	phone3                TEXT NOT NULL DEFAULT '',
	attempts              INTEGER NOT NULL DEFAULT 0,
	processed_at          DATETIME
);

CREATE TABLE IF NOT EXISTS credentials (
	agent_name TEXT NOT NULL,
	field      TEXT NOT NULL,
	value      TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (agent_name, field)
);

CREATE INDEX IF NOT EXISTS idx_processed_ids_doc ON processed_ids(pdf_filename);
CREATE INDEX IF NOT EXISTS idx_processed_ids_doc_status ON processed_ids(pdf_filename, status);
CREATE INDEX IF NOT EXISTS idx_processed_ids_doc_identifier ON processed_ids(pdf_filename, identifier);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const recordColumns = `id, pdf_filename, municipality, township, sectional_scheme_name,
	unit, size, name, identifier, status, phone1, phone2, phone3, attempts, processed_at`

func (s *SQLiteStore) InsertRecord(ctx context.Context, rec model.OwnerRecord) (int64, error) {
	if !model.ValidIdentifier(rec.Identifier) {
		return 0, eris.Wrapf(ErrInvalidIdentifier, "sqlite: insert %q", rec.Identifier)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO processed_ids
			(pdf_filename, municipality, township, sectional_scheme_name, unit, size, name, identifier, status, processed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)`,
		rec.SourceDocument, rec.Municipality, rec.Township, rec.SchemeName,
		rec.Unit, rec.Size, rec.Name, rec.Identifier, string(model.StatusPending),
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: insert record")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: last insert id")
	}
	return id, nil
}

func (s *SQLiteStore) UpdateStatus(ctx context.Context, id int64, status model.RecordStatus) error {
	if !status.Valid() {
		return eris.Wrapf(ErrInvalidStatus, "sqlite: update status %q", status)
	}

	var res sql.Result
	var err error
	if status == model.StatusDone {
		// COALESCE keeps the first stamp when done is applied twice.
		res, err = s.db.ExecContext(ctx,
			`UPDATE processed_ids SET status = ?, processed_at = COALESCE(processed_at, ?) WHERE id = ?`,
			string(status), time.Now().UTC(), id,
		)
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE processed_ids SET status = ?, processed_at = NULL WHERE id = ?`,
			string(status), id,
		)
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: update status %d", id)
	}
	return checkRowsAffected(res, id)
}

func (s *SQLiteStore) UpdateResult(ctx context.Context, id int64, phones []string) error {
	p := padPhones(phones)
	res, err := s.db.ExecContext(ctx,
		`UPDATE processed_ids
		 SET status = ?, phone1 = ?, phone2 = ?, phone3 = ?, processed_at = COALESCE(processed_at, ?)
		 WHERE id = ?`,
		string(model.StatusDone), p[0], p[1], p[2], time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update result %d", id)
	}
	return checkRowsAffected(res, id)
}

func (s *SQLiteStore) MarkFailed(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE processed_ids SET status = ?, attempts = attempts + 1, processed_at = NULL WHERE id = ?`,
		string(model.StatusFailed), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark failed %d", id)
	}
	return checkRowsAffected(res, id)
}

func (s *SQLiteStore) ListByStatus(ctx context.Context, doc string, status model.RecordStatus) ([]model.OwnerRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM processed_ids WHERE pdf_filename = ? AND status = ? ORDER BY id`,
		doc, string(status),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list by status")
	}
	return collectRecords(rows)
}

func (s *SQLiteStore) ListAll(ctx context.Context, doc string) ([]model.OwnerRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM processed_ids WHERE pdf_filename = ? ORDER BY id`,
		doc,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list all")
	}
	return collectRecords(rows)
}

func (s *SQLiteStore) HasRecord(ctx context.Context, doc, identifier string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM processed_ids WHERE pdf_filename = ? AND identifier = ?`,
		doc, identifier,
	).Scan(&n)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: has record")
	}
	return n > 0, nil
}

func (s *SQLiteStore) CountByStatus(ctx context.Context, doc string) (map[model.RecordStatus]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(1) FROM processed_ids WHERE pdf_filename = ? GROUP BY status`,
		doc,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: count by status")
	}
	defer rows.Close()

	counts := make(map[model.RecordStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan count")
		}
		counts[model.RecordStatus(status)] = n
	}
	return counts, eris.Wrap(rows.Err(), "sqlite: count iterate")
}

// helpers

func checkRowsAffected(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "id %d", id)
	}
	return nil
}

func padPhones(phones []string) [model.MaxPhones]string {
	var p [model.MaxPhones]string
	for i, ph := range phones {
		if i >= model.MaxPhones {
			break
		}
		p[i] = ph
	}
	return p
}

func collectRecords(rows *sql.Rows) ([]model.OwnerRecord, error) {
	defer rows.Close()

	var recs []model.OwnerRecord
	for rows.Next() {
		var r model.OwnerRecord
		var status string
		var phone1, phone2, phone3 string
		var processedAt sql.NullTime
		err := rows.Scan(
			&r.ID, &r.SourceDocument, &r.Municipality, &r.Township, &r.SchemeName,
			&r.Unit, &r.Size, &r.Name, &r.Identifier, &status,
			&phone1, &phone2, &phone3, &r.Attempts, &processedAt,
		)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan record")
		}
		r.Status = model.RecordStatus(status)
		for _, ph := range []string{phone1, phone2, phone3} {
			if strings.TrimSpace(ph) != "" {
				r.Phones = append(r.Phones, ph)
			}
		}
		if processedAt.Valid {
			t := processedAt.Time.UTC()
			r.ProcessedAt = &t
		}
		recs = append(recs, r)
	}
	return recs, eris.Wrap(rows.Err(), "sqlite: iterate records")
}
