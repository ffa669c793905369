package sqlite

import (
	"context"
	"database/sql"
	"time"

	core "github.com/bananapics/core/internal"
)

// CreateUser inserts a new user. A nil LastActiveAt is stored as CreatedAt.
func (s *Store) CreateUser(ctx context.Context, u *core.User) error {
	lastActive := u.CreatedAt
	if u.LastActiveAt != nil {
		lastActive = *u.LastActiveAt
	}
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO users (id, telegram_id, username, language, referral_code, referred_by, blocked, created_at, last_active_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.TelegramID, u.Username, u.Language,
		u.ReferralCode, nullStr(u.ReferredBy), boolToInt(u.Blocked),
		timeToStr(u.CreatedAt), timeToStr(lastActive),
	)
	return err
}

// GetUserByTelegramID retrieves a user by their Telegram ID.
func (s *Store) GetUserByTelegramID(ctx context.Context, telegramID int64) (*core.User, error) {
	row := s.read.QueryRowContext(ctx,
		`SELECT id, telegram_id, username, language, referral_code, referred_by, blocked, created_at, last_active_at
		 FROM users WHERE telegram_id = ?`, telegramID,
	)
	return scanUser(row)
}

// GetUser retrieves a user by ID.
func (s *Store) GetUser(ctx context.Context, id string) (*core.User, error) {
	row := s.read.QueryRowContext(ctx,
		`SELECT id, telegram_id, username, language, referral_code, referred_by, blocked, created_at, last_active_at
		 FROM users WHERE id = ?`, id,
	)
	return scanUser(row)
}

// GetUserByReferralCode retrieves a user by their referral code.
func (s *Store) GetUserByReferralCode(ctx context.Context, code string) (*core.User, error) {
	row := s.read.QueryRowContext(ctx,
		`SELECT id, telegram_id, username, language, referral_code, referred_by, blocked, created_at, last_active_at
		 FROM users WHERE referral_code = ?`, code,
	)
	return scanUser(row)
}

// UpdateUser updates an existing user's mutable fields.
func (s *Store) UpdateUser(ctx context.Context, u *core.User) error {
	result, err := s.write.ExecContext(ctx,
		`UPDATE users SET username=?, language=?, blocked=? WHERE id=?`,
		u.Username, u.Language, boolToInt(u.Blocked), u.ID,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(result, "user")
}

// TouchUserActive updates the last_active_at timestamp.
func (s *Store) TouchUserActive(ctx context.Context, id string, at time.Time) error {
	_, err := s.write.ExecContext(ctx,
		`UPDATE users SET last_active_at=? WHERE id=?`, timeToStr(at), id,
	)
	return err
}

// ListUserIDsByFilter resolves the recipient cohort for a broadcast filter.
func (s *Store) ListUserIDsByFilter(ctx context.Context, filter core.BroadcastFilter, now time.Time) ([]string, error) {
	var query string
	var args []any

	switch filter {
	case core.FilterAll:
		query = `SELECT id FROM users WHERE blocked = 0`
	case core.FilterActive7d:
		query = `SELECT id FROM users WHERE blocked = 0 AND last_active_at >= ?`
		args = []any{timeToStr(now.Add(-7 * 24 * time.Hour))}
	case core.FilterActive30d:
		query = `SELECT id FROM users WHERE blocked = 0 AND last_active_at >= ?`
		args = []any{timeToStr(now.Add(-30 * 24 * time.Hour))}
	case core.FilterWithBalance:
		query = `SELECT u.id FROM users u WHERE u.blocked = 0 AND
			(SELECT COALESCE(SUM(amount), 0) FROM ledger_entries WHERE user_id = u.id) > 0`
	case core.FilterPaidUsers:
		query = `SELECT DISTINCT u.id FROM users u
			JOIN ledger_entries l ON l.user_id = u.id
			WHERE u.blocked = 0 AND l.entry_type = 'deposit'`
	case core.FilterNewUsers:
		query = `SELECT id FROM users WHERE blocked = 0 AND created_at >= ?`
		args = []any{timeToStr(now.Add(-24 * time.Hour))}
	case core.FilterNewUsers7d:
		query = `SELECT id FROM users WHERE blocked = 0 AND created_at >= ?`
		args = []any{timeToStr(now.Add(-7 * 24 * time.Hour))}
	default:
		query = `SELECT id FROM users WHERE blocked = 0`
	}

	rows, err := s.read.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanUser(sc scanner) (*core.User, error) {
	var u core.User
	var username, language, referredBy sql.NullString
	var blocked int
	var createdAt string
	var lastActiveAt sql.NullString

	err := sc.Scan(&u.ID, &u.TelegramID, &username, &language, &u.ReferralCode,
		&referredBy, &blocked, &createdAt, &lastActiveAt)
	if err != nil {
		return nil, notFoundErr(err)
	}

	u.Username = username.String
	u.Language = language.String
	u.ReferredBy = referredBy.String
	u.Blocked = blocked != 0
	u.CreatedAt = mustParseTime(createdAt)
	u.LastActiveAt = parseTime(lastActiveAt)
	return &u, nil
}
