package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	core "github.com/bananapics/core/internal"
)

// CreateRequest inserts a new generation request.
func (s *Store) CreateRequest(ctx context.Context, r *core.GenerationRequest) error {
	params, err := json.Marshal(r.Params)
	if err != nil {
		return err
	}
	refs, err := json.Marshal(r.ReferenceIDs)
	if err != nil {
		return err
	}
	_, err = s.write.ExecContext(ctx,
		`INSERT INTO generation_requests (id, user_id, model_key, mode, prompt, params, reference_ids, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.UserID, r.ModelKey, string(r.Mode), r.Prompt, string(params), string(refs), string(r.Status), timeToStr(r.CreatedAt),
	)
	return err
}

// GetRequest retrieves a generation request by ID.
func (s *Store) GetRequest(ctx context.Context, id string) (*core.GenerationRequest, error) {
	row := s.read.QueryRowContext(ctx,
		`SELECT id, user_id, model_key, mode, prompt, params, reference_ids, status, created_at
		 FROM generation_requests WHERE id = ?`, id,
	)
	var r core.GenerationRequest
	var mode, status string
	var params, refs sql.NullString
	var createdAt string
	if err := row.Scan(&r.ID, &r.UserID, &r.ModelKey, &mode, &r.Prompt, &params, &refs, &status, &createdAt); err != nil {
		return nil, notFoundErr(err)
	}
	r.Mode = core.GenerationMode(mode)
	r.Status = core.GenerationStatus(status)
	r.CreatedAt = mustParseTime(createdAt)
	if params.Valid {
		if err := json.Unmarshal([]byte(params.String), &r.Params); err != nil {
			return nil, err
		}
	}
	if refs.Valid {
		if err := json.Unmarshal([]byte(refs.String), &r.ReferenceIDs); err != nil {
			return nil, err
		}
	}
	return &r, nil
}

// UpdateRequest persists a generation request's status transition (e.g. to
// failed on admission-time rejection).
func (s *Store) UpdateRequest(ctx context.Context, r *core.GenerationRequest) error {
	result, err := s.write.ExecContext(ctx,
		`UPDATE generation_requests SET status=? WHERE id=?`,
		string(r.Status), r.ID,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(result, "generation request")
}

// CreateReference inserts a new uploaded reference image.
func (s *Store) CreateReference(ctx context.Context, ref *core.GenerationReference) error {
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO generation_references (id, user_id, file_id, content_type, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		ref.ID, ref.UserID, ref.FileID, ref.ContentType, timeToStr(ref.CreatedAt),
	)
	return err
}

// GetReference retrieves a reference image by ID.
func (s *Store) GetReference(ctx context.Context, id string) (*core.GenerationReference, error) {
	row := s.read.QueryRowContext(ctx,
		`SELECT id, user_id, file_id, content_type, created_at FROM generation_references WHERE id = ?`, id,
	)
	var ref core.GenerationReference
	var createdAt string
	if err := row.Scan(&ref.ID, &ref.UserID, &ref.FileID, &ref.ContentType, &createdAt); err != nil {
		return nil, notFoundErr(err)
	}
	ref.CreatedAt = mustParseTime(createdAt)
	return &ref, nil
}

// CreateResult inserts the terminal output of a completed generation.
func (s *Store) CreateResult(ctx context.Context, res *core.GenerationResult) error {
	urls, err := json.Marshal(res.OutputURLs)
	if err != nil {
		return err
	}
	_, err = s.write.ExecContext(ctx,
		`INSERT INTO generation_results (id, generation_id, output_urls, created_at)
		 VALUES (?, ?, ?, ?)`,
		res.ID, res.GenerationID, string(urls), timeToStr(res.CreatedAt),
	)
	return err
}

// GetResultsByRequestID returns the output URLs produced for a generation
// request, across possibly multiple result rows (retries can append more
// than one).
func (s *Store) GetResultsByRequestID(ctx context.Context, requestID string) ([]*core.GenerationResult, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT id, generation_id, output_urls, created_at FROM generation_results
		 WHERE generation_id = ? ORDER BY created_at ASC`, requestID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*core.GenerationResult
	for rows.Next() {
		var res core.GenerationResult
		var urls sql.NullString
		var createdAt string
		if err := rows.Scan(&res.ID, &res.GenerationID, &urls, &createdAt); err != nil {
			return nil, err
		}
		res.CreatedAt = mustParseTime(createdAt)
		if urls.Valid {
			if err := json.Unmarshal([]byte(urls.String), &res.OutputURLs); err != nil {
				return nil, err
			}
		}
		results = append(results, &res)
	}
	return results, rows.Err()
}

// CreateJob inserts a new generation job row.
func (s *Store) CreateJob(ctx context.Context, j *core.GenerationJob) error {
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO generation_jobs (id, request_id, user_id, chat_id, provider_name, upstream_job_id,
		 model_key, status, price_credits, error_message, submitted_at, last_polled_at, completed_at, timeout_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.RequestID, j.UserID, j.ChatID, j.ProviderName, j.UpstreamJobID,
		j.ModelKey, string(j.Status), j.PriceCredits, nullStr(j.ErrorMessage),
		timeToStr(j.SubmittedAt), nullTimeToStr(j.LastPolledAt), nullTimeToStr(j.CompletedAt), timeToStr(j.TimeoutAt),
	)
	return err
}

// GetJob retrieves a generation job by ID.
func (s *Store) GetJob(ctx context.Context, id string) (*core.GenerationJob, error) {
	row := s.read.QueryRowContext(ctx, jobSelectQuery+` WHERE id = ?`, id)
	return scanJob(row)
}

// UpdateJob persists the mutable fields of a generation job (status,
// upstream job id, error, timestamps).
func (s *Store) UpdateJob(ctx context.Context, j *core.GenerationJob) error {
	result, err := s.write.ExecContext(ctx,
		`UPDATE generation_jobs SET upstream_job_id=?, status=?, error_message=?, last_polled_at=?, completed_at=?
		 WHERE id=?`,
		j.UpstreamJobID, string(j.Status), nullStr(j.ErrorMessage),
		nullTimeToStr(j.LastPolledAt), nullTimeToStr(j.CompletedAt), j.ID,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(result, "generation job")
}

// CountActiveJobsForUser returns the number of non-terminal jobs for a user,
// used by the Submission Gateway's per-user concurrency admission check.
func (s *Store) CountActiveJobsForUser(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.read.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM generation_jobs WHERE user_id = ? AND status IN ('pending', 'processing')`,
		userID,
	).Scan(&n)
	return n, err
}

// GetActiveJobForUser returns the user's most recent non-terminal job, for
// the "one active generation at a time" UI affordance. Returns
// core.ErrNotFound when the user has no active job.
func (s *Store) GetActiveJobForUser(ctx context.Context, userID string) (*core.GenerationJob, error) {
	row := s.read.QueryRowContext(ctx,
		jobSelectQuery+` WHERE user_id = ? AND status IN ('pending', 'processing')
		 ORDER BY submitted_at DESC LIMIT 1`, userID,
	)
	return scanJob(row)
}

// ListNonTerminalJobs returns every job the Status Poller must keep polling.
func (s *Store) ListNonTerminalJobs(ctx context.Context) ([]*core.GenerationJob, error) {
	rows, err := s.read.QueryContext(ctx,
		jobSelectQuery+` WHERE status IN ('pending', 'processing') ORDER BY submitted_at ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJobs(rows)
}

// ListStuckJobs returns non-terminal jobs whose last activity predates
// olderThan, for the reaper sweep.
func (s *Store) ListStuckJobs(ctx context.Context, olderThan time.Time) ([]*core.GenerationJob, error) {
	rows, err := s.read.QueryContext(ctx,
		jobSelectQuery+` WHERE status IN ('pending', 'processing')
		 AND COALESCE(last_polled_at, submitted_at) < ?`,
		timeToStr(olderThan),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJobs(rows)
}

const jobSelectQuery = `SELECT id, request_id, user_id, chat_id, provider_name, upstream_job_id,
	 model_key, status, price_credits, error_message, submitted_at, last_polled_at, completed_at, timeout_at
	 FROM generation_jobs`

func scanJob(sc scanner) (*core.GenerationJob, error) {
	var j core.GenerationJob
	var status string
	var errMsg sql.NullString
	var submittedAt, timeoutAt string
	var lastPolledAt, completedAt sql.NullString

	err := sc.Scan(&j.ID, &j.RequestID, &j.UserID, &j.ChatID, &j.ProviderName, &j.UpstreamJobID,
		&j.ModelKey, &status, &j.PriceCredits, &errMsg, &submittedAt, &lastPolledAt, &completedAt, &timeoutAt)
	if err != nil {
		return nil, notFoundErr(err)
	}
	j.Status = core.GenerationStatus(status)
	j.ErrorMessage = errMsg.String
	j.SubmittedAt = mustParseTime(submittedAt)
	j.TimeoutAt = mustParseTime(timeoutAt)
	j.LastPolledAt = parseTime(lastPolledAt)
	j.CompletedAt = parseTime(completedAt)
	return &j, nil
}

func scanJobs(rows *sql.Rows) ([]*core.GenerationJob, error) {
	var jobs []*core.GenerationJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}
