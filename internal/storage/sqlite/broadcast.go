package sqlite

import (
	"context"
	"database/sql"
	"time"

	core "github.com/bananapics/core/internal"
)

// CreateBroadcast inserts a new broadcast campaign in draft state.
func (s *Store) CreateBroadcast(ctx context.Context, b *core.Broadcast) error {
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO broadcasts (id, created_by, content_type, message_text, media_url, button_text, button_url,
		 filter, status, total_users, sent_count, failed_count, blocked_count, created_at, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.CreatedBy, string(b.ContentType), b.MessageText, b.MediaURL, b.ButtonText, b.ButtonURL,
		string(b.Filter), string(b.Status), b.TotalUsers,
		b.SentCount, b.FailedCount, b.BlockedCount, timeToStr(b.CreatedAt),
		nullTimeToStr(b.StartedAt), nullTimeToStr(b.CompletedAt),
	)
	return err
}

// GetBroadcast retrieves a broadcast campaign by ID.
func (s *Store) GetBroadcast(ctx context.Context, id string) (*core.Broadcast, error) {
	row := s.read.QueryRowContext(ctx, broadcastSelectQuery+` WHERE id = ?`, id)
	return scanBroadcast(row)
}

// UpdateBroadcast persists status/progress/timestamp changes on a broadcast.
func (s *Store) UpdateBroadcast(ctx context.Context, b *core.Broadcast) error {
	result, err := s.write.ExecContext(ctx,
		`UPDATE broadcasts SET status=?, total_users=?, sent_count=?, failed_count=?, blocked_count=?,
		 started_at=?, completed_at=? WHERE id=?`,
		string(b.Status), b.TotalUsers, b.SentCount, b.FailedCount, b.BlockedCount,
		nullTimeToStr(b.StartedAt), nullTimeToStr(b.CompletedAt), b.ID,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(result, "broadcast")
}

// ListBroadcasts returns the most recent broadcasts, newest first, capped
// at limit (defaults to 50 when limit <= 0).
func (s *Store) ListBroadcasts(ctx context.Context, limit int) ([]*core.Broadcast, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.read.QueryContext(ctx,
		broadcastSelectQuery+` ORDER BY created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*core.Broadcast
	for rows.Next() {
		b, err := scanBroadcast(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

const broadcastSelectQuery = `SELECT id, created_by, content_type, message_text, media_url, button_text, button_url,
	 filter, status, total_users, sent_count, failed_count, blocked_count, created_at, started_at, completed_at
	 FROM broadcasts`

func scanBroadcast(sc scanner) (*core.Broadcast, error) {
	var b core.Broadcast
	var contentType, filter, status string
	var createdAt string
	var startedAt, completedAt sql.NullString

	err := sc.Scan(&b.ID, &b.CreatedBy, &contentType, &b.MessageText, &b.MediaURL, &b.ButtonText, &b.ButtonURL,
		&filter, &status, &b.TotalUsers,
		&b.SentCount, &b.FailedCount, &b.BlockedCount, &createdAt, &startedAt, &completedAt)
	if err != nil {
		return nil, notFoundErr(err)
	}
	b.ContentType = core.BroadcastContentType(contentType)
	b.Filter = core.BroadcastFilter(filter)
	b.Status = core.BroadcastStatus(status)
	b.CreatedAt = mustParseTime(createdAt)
	b.StartedAt = parseTime(startedAt)
	b.CompletedAt = parseTime(completedAt)
	return &b, nil
}

// CreateRecipients batch-inserts the resolved recipient cohort for a
// broadcast, all starting in "pending" status.
func (s *Store) CreateRecipients(ctx context.Context, recipients []*core.BroadcastRecipient) error {
	if len(recipients) == 0 {
		return nil
	}
	tx, err := s.write.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO broadcast_recipients (id, broadcast_id, user_id, status, attempted_at)
		 VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range recipients {
		if _, err := stmt.ExecContext(ctx, r.ID, r.BroadcastID, r.UserID, string(r.Status), nullTimeToStr(r.AttemptedAt)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// NextPendingRecipient atomically claims the next pending recipient for a
// broadcast: a single UPDATE ... RETURNING statement flips it from
// "pending" to "sending", so two dispatch workers never receive the same
// recipient. Returns core.ErrNotFound when none is pending.
func (s *Store) NextPendingRecipient(ctx context.Context, broadcastID string) (*core.BroadcastRecipient, error) {
	row := s.write.QueryRowContext(ctx,
		`UPDATE broadcast_recipients SET status = 'sending'
		 WHERE id = (SELECT id FROM broadcast_recipients
		             WHERE broadcast_id = ? AND status = 'pending' ORDER BY id ASC LIMIT 1)
		 RETURNING id, broadcast_id, user_id, status, attempted_at`,
		broadcastID,
	)
	var r core.BroadcastRecipient
	var status string
	var attemptedAt sql.NullString
	if err := row.Scan(&r.ID, &r.BroadcastID, &r.UserID, &status, &attemptedAt); err != nil {
		return nil, notFoundErr(err)
	}
	r.Status = core.BroadcastRecipientStatus(status)
	r.AttemptedAt = parseTime(attemptedAt)
	return &r, nil
}

// UpdateRecipientStatus records the terminal delivery outcome for one recipient.
func (s *Store) UpdateRecipientStatus(ctx context.Context, id string, status core.BroadcastRecipientStatus, at time.Time) error {
	_, err := s.write.ExecContext(ctx,
		`UPDATE broadcast_recipients SET status=?, attempted_at=? WHERE id=?`,
		string(status), timeToStr(at), id,
	)
	return err
}

// IncrementCounters atomically bumps the broadcast's progress counters with
// a single statement, satisfying the atomicity requirement on concurrent
// per-recipient deliveries.
func (s *Store) IncrementCounters(ctx context.Context, broadcastID string, sentDelta, failedDelta, blockedDelta int) error {
	_, err := s.write.ExecContext(ctx,
		`UPDATE broadcasts SET sent_count = sent_count + ?, failed_count = failed_count + ?,
		 blocked_count = blocked_count + ? WHERE id = ?`,
		sentDelta, failedDelta, blockedDelta, broadcastID,
	)
	return err
}
