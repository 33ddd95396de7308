package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"ojeval/internal/common/cache"
	"ojeval/internal/common/db"
	judgemodel "ojeval/internal/judge/model"
	"ojeval/internal/submission/model"
	pkgerrors "ojeval/pkg/errors"
)

const (
	defaultSubmissionCacheTTL      = 30 * time.Minute
	defaultSubmissionCacheEmptyTTL = time.Minute
	submissionCacheKeyPrefix       = "submission:"
	defaultListLimit               = 200
)

// MySQLSubmissionRepository stores submissions in MySQL with a read-through
// redis copy that every write invalidates.
type MySQLSubmissionRepository struct {
	db     db.Database
	cached *cache.ReadThrough[*model.Submission]
}

func NewSubmissionRepository(database db.Database, cacheClient cache.Cache) *MySQLSubmissionRepository {
	return NewSubmissionRepositoryWithTTL(database, cacheClient, defaultSubmissionCacheTTL, defaultSubmissionCacheEmptyTTL)
}

func NewSubmissionRepositoryWithTTL(database db.Database, cacheClient cache.Cache, ttl, emptyTTL time.Duration) *MySQLSubmissionRepository {
	if ttl <= 0 {
		ttl = defaultSubmissionCacheTTL
	}
	if emptyTTL <= 0 {
		emptyTTL = defaultSubmissionCacheEmptyTTL
	}
	return &MySQLSubmissionRepository{
		db:     database,
		cached: &cache.ReadThrough[*model.Submission]{Cache: cacheClient, TTL: ttl, EmptyTTL: emptyTTL},
	}
}

const submissionColumns = `id, user_id, username, problem_id, contest_id, language, code, status, generation,
	test_results, test_case_stats, status_message, score, plagiarism_check, created_at, updated_at, judged_at`

func (r *MySQLSubmissionRepository) Create(ctx context.Context, s *model.Submission) error {
	if s == nil || s.ID == "" {
		return pkgerrors.ValidationError("submission.id", "required")
	}
	plagiarism, err := json.Marshal(s.Plagiarism)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO submissions
		(id, user_id, username, problem_id, contest_id, language, code, status, generation,
		 test_results, test_case_stats, status_message, score, plagiarism_check, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, '[]', '{}', ?, 0, ?, ?, ?)`
	_, err = r.db.Exec(ctx, query,
		s.ID, s.UserID, s.Username, s.ProblemID, db.NullString(s.ContestID), s.Language, s.Code,
		s.Status, s.Generation, s.StatusMessage, plagiarism, s.CreatedAt, s.CreatedAt,
	)
	if err != nil {
		if _, dup := db.UniqueViolation(err); dup {
			return pkgerrors.Wrapf(err, pkgerrors.DuplicateSubmission, "submission %s already exists", s.ID)
		}
		return pkgerrors.Wrapf(err, pkgerrors.SubmissionCreateFailed, "insert submission")
	}
	return nil
}

func (r *MySQLSubmissionRepository) Get(ctx context.Context, id string) (*model.Submission, error) {
	s, found, err := r.cached.Load(ctx, submissionCacheKey(id), func(ctx context.Context) (*model.Submission, bool, error) {
		s, err := r.getFromDB(ctx, nil, id)
		if pkgerrors.Is(err, pkgerrors.SubmissionNotFound) {
			return nil, false, nil
		}
		return s, err == nil, err
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, notFound(id)
	}
	return s, nil
}

func (r *MySQLSubmissionRepository) MarkRunning(ctx context.Context, id string, generation int64) (bool, error) {
	query := `
		UPDATE submissions
		SET status = ?, updated_at = ?
		WHERE id = ? AND generation = ? AND status IN (?, ?)`
	return r.conditionalUpdate(ctx, id, query,
		judgemodel.StatusRunning, time.Now().UTC(), id, generation, judgemodel.StatusPending, judgemodel.StatusRunning)
}

func (r *MySQLSubmissionRepository) Finish(ctx context.Context, id string, generation int64, out model.Outcome) (bool, error) {
	results, err := json.Marshal(out.TestResults)
	if err != nil {
		return false, err
	}
	stats, err := json.Marshal(out.TestCaseStats)
	if err != nil {
		return false, err
	}
	query := `
		UPDATE submissions
		SET status = ?, test_results = ?, test_case_stats = ?, status_message = ?, score = ?,
		    judged_at = ?, updated_at = ?
		WHERE id = ? AND generation = ? AND status = ?`
	return r.conditionalUpdate(ctx, id, query,
		out.Status, results, stats, out.StatusMessage, out.Score,
		out.JudgedAt, out.JudgedAt, id, generation, judgemodel.StatusRunning)
}

func (r *MySQLSubmissionRepository) conditionalUpdate(ctx context.Context, id, query string, args ...any) (bool, error) {
	var changed bool
	err := r.invalidating(ctx, id, func(ctx context.Context) error {
		res, err := r.db.Exec(ctx, query, args...)
		if err != nil {
			return pkgerrors.Wrapf(err, pkgerrors.SubmissionUpdateFailed, "update submission %s", id)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return pkgerrors.Wrap(err, pkgerrors.DatabaseError)
		}
		changed = n > 0
		return nil
	})
	return changed, err
}

func (r *MySQLSubmissionRepository) Reopen(ctx context.Context, id string) (int64, error) {
	var generation int64
	err := r.invalidating(ctx, id, func(ctx context.Context) error {
		return r.db.Transaction(ctx, func(tx db.Transaction) error {
			var status judgemodel.SubmissionStatus
			row := tx.QueryRow(ctx, "SELECT status, generation FROM submissions WHERE id = ? FOR UPDATE", id)
			if err := row.Scan(&status, &generation); err != nil {
				if db.IsNoRows(err) {
					return notFound(id)
				}
				return pkgerrors.Wrap(err, pkgerrors.DatabaseError)
			}
			if !status.Terminal() {
				return pkgerrors.Newf(pkgerrors.SubmissionNotTerminal, "submission %s is %s", id, status)
			}
			generation++
			query := `
				UPDATE submissions
				SET status = ?, generation = ?, test_results = '[]', test_case_stats = '{}',
				    status_message = '', score = 0, judged_at = NULL, updated_at = ?
				WHERE id = ?`
			if _, err := tx.Exec(ctx, query, judgemodel.StatusPending, generation, time.Now().UTC(), id); err != nil {
				return pkgerrors.Wrapf(err, pkgerrors.SubmissionUpdateFailed, "reopen submission %s", id)
			}
			return nil
		})
	})
	if err != nil {
		return 0, err
	}
	return generation, nil
}

func (r *MySQLSubmissionRepository) ListAccepted(ctx context.Context, q AcceptedQuery) ([]*model.Submission, error) {
	if q.Limit <= 0 {
		q.Limit = defaultListLimit
	}
	query := `
		SELECT ` + submissionColumns + `
		FROM submissions
		WHERE problem_id = ? AND contest_id = ? AND language = ? AND status = ?
		  AND created_at < ? AND user_id <> ?
		ORDER BY created_at DESC
		LIMIT ?`
	return r.list(ctx, query, q.ProblemID, q.ContestID, q.Language, judgemodel.StatusAccepted,
		q.Before, q.ExcludeUserID, q.Limit)
}

func (r *MySQLSubmissionRepository) ListByUserProblem(ctx context.Context, userID, problemID string, before time.Time, limit int) ([]*model.Submission, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	query := `
		SELECT ` + submissionColumns + `
		FROM submissions
		WHERE user_id = ? AND problem_id = ? AND created_at < ?
		ORDER BY created_at DESC
		LIMIT ?`
	return r.list(ctx, query, userID, problemID, before, limit)
}

func (r *MySQLSubmissionRepository) list(ctx context.Context, query string, args ...any) ([]*model.Submission, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.DatabaseError)
	}
	defer rows.Close()

	var out []*model.Submission
	for rows.Next() {
		s, err := scanSubmission(rows)
		if err != nil {
			return nil, pkgerrors.Wrap(err, pkgerrors.DatabaseError)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.DatabaseError)
	}
	return out, nil
}

func (r *MySQLSubmissionRepository) SavePlagiarismCheck(ctx context.Context, id string, check model.PlagiarismCheck) error {
	return r.updateCheck(ctx, id, func(stored *model.PlagiarismCheck) {
		mergeCheck(stored, check)
	})
}

func (r *MySQLSubmissionRepository) RaisePlagiarismScore(ctx context.Context, id string, score float64, ref model.SimilarSubmission) error {
	return r.updateCheck(ctx, id, func(stored *model.PlagiarismCheck) {
		stored.Score = max(stored.Score, score)
		mergeRef(stored, ref)
	})
}

// updateCheck applies fn to the stored plagiarism check under a row lock.
func (r *MySQLSubmissionRepository) updateCheck(ctx context.Context, id string, fn func(*model.PlagiarismCheck)) error {
	return r.invalidating(ctx, id, func(ctx context.Context) error {
		return r.db.Transaction(ctx, func(tx db.Transaction) error {
			var raw []byte
			row := tx.QueryRow(ctx, "SELECT plagiarism_check FROM submissions WHERE id = ? FOR UPDATE", id)
			if err := row.Scan(&raw); err != nil {
				if db.IsNoRows(err) {
					return notFound(id)
				}
				return pkgerrors.Wrap(err, pkgerrors.DatabaseError)
			}
			var check model.PlagiarismCheck
			if err := decodeJSON(raw, &check); err != nil {
				return pkgerrors.Wrapf(err, pkgerrors.DatabaseError, "decode plagiarism check of %s", id)
			}
			fn(&check)
			payload, err := json.Marshal(check)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, "UPDATE submissions SET plagiarism_check = ? WHERE id = ?", payload, id); err != nil {
				return pkgerrors.Wrapf(err, pkgerrors.SubmissionUpdateFailed, "save plagiarism check for %s", id)
			}
			return nil
		})
	})
}

func (r *MySQLSubmissionRepository) getFromDB(ctx context.Context, tx db.Transaction, id string) (*model.Submission, error) {
	query := "SELECT " + submissionColumns + " FROM submissions WHERE id = ?"
	s, err := scanSubmission(db.GetQuerier(r.db, tx).QueryRow(ctx, query, id))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, notFound(id)
		}
		return nil, pkgerrors.Wrap(err, pkgerrors.DatabaseError)
	}
	return s, nil
}

func (r *MySQLSubmissionRepository) invalidating(ctx context.Context, id string, fn func(context.Context) error) error {
	return r.cached.Write(ctx, submissionCacheKey(id), fn)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSubmission(row scanner) (*model.Submission, error) {
	var (
		s          model.Submission
		contestID  sql.NullString
		results    []byte
		stats      []byte
		plagiarism []byte
		judgedAt   sql.NullTime
	)
	err := row.Scan(
		&s.ID, &s.UserID, &s.Username, &s.ProblemID, &contestID, &s.Language, &s.Code,
		&s.Status, &s.Generation, &results, &stats, &s.StatusMessage, &s.Score, &plagiarism,
		&s.CreatedAt, &s.UpdatedAt, &judgedAt,
	)
	if err != nil {
		return nil, err
	}
	s.ContestID = contestID.String
	if judgedAt.Valid {
		t := judgedAt.Time
		s.JudgedAt = &t
	}
	if err := decodeJSON(results, &s.TestResults); err != nil {
		return nil, err
	}
	if err := decodeJSON(stats, &s.TestCaseStats); err != nil {
		return nil, err
	}
	if err := decodeJSON(plagiarism, &s.Plagiarism); err != nil {
		return nil, err
	}
	return &s, nil
}

func decodeJSON(raw []byte, out any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}

func submissionCacheKey(id string) string {
	return submissionCacheKeyPrefix + id
}

func notFound(id string) error {
	return pkgerrors.Newf(pkgerrors.SubmissionNotFound, "submission %s not found", id)
}

var _ SubmissionRepository = (*MySQLSubmissionRepository)(nil)
