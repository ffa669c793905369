package sqlite

import (
	"context"

	core "github.com/bananapics/core/internal"
)

// MarkTrialUsed records that a user has spent their one-time free trial.
// Returns core.ErrConflict if a row already exists for the user, enforced
// by the UNIQUE primary key on user_id.
func (s *Store) MarkTrialUsed(ctx context.Context, t *core.TrialUse) error {
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO trial_uses (user_id, used_at, generation_request_id) VALUES (?, ?, ?)`,
		t.UserID, timeToStr(t.UsedAt), t.GenerationRequestID,
	)
	if err != nil && isUniqueViolation(err) {
		return core.ErrConflict
	}
	return err
}

// HasUsedTrial reports whether a user has already used their free trial.
func (s *Store) HasUsedTrial(ctx context.Context, userID string) (bool, error) {
	var n int
	err := s.read.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM trial_uses WHERE user_id = ?`, userID,
	).Scan(&n)
	return n > 0, err
}

// ClearTrialUsed removes the trial-use row, rolling back the grant when the
// generation it paid for fails (per the trial rollback policy). It is a
// no-op if the user had no trial-use row.
func (s *Store) ClearTrialUsed(ctx context.Context, userID string) error {
	_, err := s.write.ExecContext(ctx, `DELETE FROM trial_uses WHERE user_id = ?`, userID)
	return err
}
