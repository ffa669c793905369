package sqlite

import (
	"context"
	"database/sql"
	"strings"

	core "github.com/bananapics/core/internal"
)

// PostEntry inserts a ledger entry. The (user_id, entry_type, reference_id)
// UNIQUE constraint makes posting idempotent: a duplicate post is treated as
// the no-op required by the ledger's idempotency invariant, not an error.
func (s *Store) PostEntry(ctx context.Context, e *core.LedgerEntry) error {
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO ledger_entries (id, user_id, entry_type, amount, reference_id, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.UserID, string(e.EntryType), e.Amount, e.ReferenceID,
		nullStr(e.Metadata), timeToStr(e.CreatedAt),
	)
	if err != nil && isUniqueViolation(err) {
		return nil
	}
	return err
}

// Balance returns the user's current credit balance by summation over the
// ledger, per the "balance is derived, never stored" invariant.
func (s *Store) Balance(ctx context.Context, userID string) (int64, error) {
	var total int64
	err := s.read.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM ledger_entries WHERE user_id = ?`, userID,
	).Scan(&total)
	return total, err
}

// ListEntriesByReference returns all ledger entries for a user tied to a
// given reference id (e.g. all entries posted for one generation).
func (s *Store) ListEntriesByReference(ctx context.Context, userID, refID string) ([]*core.LedgerEntry, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT id, user_id, entry_type, amount, reference_id, metadata, created_at
		 FROM ledger_entries WHERE user_id = ? AND reference_id = ? ORDER BY created_at ASC`,
		userID, refID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*core.LedgerEntry
	for rows.Next() {
		e, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanLedgerEntry(sc scanner) (*core.LedgerEntry, error) {
	var e core.LedgerEntry
	var entryType string
	var metadata sql.NullString
	var createdAt string

	err := sc.Scan(&e.ID, &e.UserID, &entryType, &e.Amount, &e.ReferenceID, &metadata, &createdAt)
	if err != nil {
		return nil, notFoundErr(err)
	}
	e.EntryType = core.LedgerEntryType(entryType)
	e.Metadata = metadata.String
	e.CreatedAt = mustParseTime(createdAt)
	return &e, nil
}

// isUniqueViolation reports whether err is a SQLite UNIQUE constraint
// failure. modernc.org/sqlite surfaces the driver's literal error text, so
// matching on the standard SQLite message is the portable check.
func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
