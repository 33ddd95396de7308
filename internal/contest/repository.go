package contest

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"ojeval/internal/common/db"
	pkgerrors "ojeval/pkg/errors"
)

// Repository persists contest boards. Update runs fn against the current
// board and stores the result atomically; concurrent updates of one contest
// must be serialized by the caller or by the store.
type Repository interface {
	Load(ctx context.Context, contestID string) (*Board, error)
	Update(ctx context.Context, contestID string, fn func(*Board) error) error
}

// MySQLRepository keeps participants and attempts in two tables.
type MySQLRepository struct {
	db db.Database
}

func NewMySQLRepository(database db.Database) *MySQLRepository {
	return &MySQLRepository{db: database}
}

func (r *MySQLRepository) Load(ctx context.Context, contestID string) (*Board, error) {
	return r.load(ctx, db.GetQuerier(r.db, nil), contestID, false)
}

// Update locks the participant rows of the contest for the whole
// read-modify-write.
func (r *MySQLRepository) Update(ctx context.Context, contestID string, fn func(*Board) error) error {
	return r.db.Transaction(ctx, func(tx db.Transaction) error {
		board, err := r.load(ctx, tx, contestID, true)
		if err != nil {
			return err
		}
		if err := fn(board); err != nil {
			return err
		}
		return r.store(ctx, tx, board)
	})
}

func (r *MySQLRepository) load(ctx context.Context, q db.Querier, contestID string, lock bool) (*Board, error) {
	board := NewBoard(contestID)

	query := `
		SELECT user_id, username, problem_scores, aggregate_score, latest_submission_at, ` + "`rank`" + `
		FROM contest_participants
		WHERE contest_id = ?`
	if lock {
		query += " FOR UPDATE"
	}
	rows, err := q.Query(ctx, query, contestID)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.DatabaseError)
	}
	for rows.Next() {
		p := &Participant{ContestID: contestID}
		var problems []byte
		if err := rows.Scan(&p.UserID, &p.Username, &problems, &p.AggregateScore, &p.LatestSubmissionAt, &p.Rank); err != nil {
			_ = rows.Close()
			return nil, pkgerrors.Wrap(err, pkgerrors.DatabaseError)
		}
		if len(problems) > 0 {
			if err := json.Unmarshal(problems, &p.Problems); err != nil {
				_ = rows.Close()
				return nil, pkgerrors.Wrapf(err, pkgerrors.DatabaseError, "decode problem scores of %s", p.UserID)
			}
		}
		board.Participants[p.UserID] = p
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, pkgerrors.Wrap(err, pkgerrors.DatabaseError)
	}
	_ = rows.Close()

	rows, err = q.Query(ctx, `
		SELECT submission_id, user_id, problem_id, status, score, submitted_at
		FROM contest_attempts
		WHERE contest_id = ?`, contestID)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.DatabaseError)
	}
	defer rows.Close()
	for rows.Next() {
		var a Attempt
		if err := rows.Scan(&a.SubmissionID, &a.UserID, &a.ProblemID, &a.Status, &a.Score, &a.SubmittedAt); err != nil {
			return nil, pkgerrors.Wrap(err, pkgerrors.DatabaseError)
		}
		board.Attempts[a.SubmissionID] = a
	}
	if err := rows.Err(); err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.DatabaseError)
	}
	return board, nil
}

func (r *MySQLRepository) store(ctx context.Context, tx db.Transaction, board *Board) error {
	for _, id := range board.ChangedAttempts() {
		a := board.Attempts[id]
		_, err := tx.Exec(ctx, `
			INSERT INTO contest_attempts
			(contest_id, submission_id, user_id, problem_id, status, score, submitted_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE status = VALUES(status), score = VALUES(score)`,
			board.ContestID, a.SubmissionID, a.UserID, a.ProblemID, a.Status, a.Score, a.SubmittedAt,
		)
		if err != nil {
			return pkgerrors.Wrapf(err, pkgerrors.ContestUpdateFailed, "store attempt %s", id)
		}
	}

	// Ranks move for everyone, so every participant row is rewritten.
	now := time.Now().UTC()
	for _, p := range board.Participants {
		problems, err := json.Marshal(p.Problems)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO contest_participants
			(contest_id, user_id, username, problem_scores, aggregate_score, latest_submission_at, `+"`rank`"+`, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE username = VALUES(username), problem_scores = VALUES(problem_scores),
			  aggregate_score = VALUES(aggregate_score), latest_submission_at = VALUES(latest_submission_at),
			  `+"`rank`"+` = VALUES(`+"`rank`"+`), updated_at = VALUES(updated_at)`,
			board.ContestID, p.UserID, p.Username, problems, p.AggregateScore, p.LatestSubmissionAt, p.Rank, now,
		)
		if err != nil {
			return pkgerrors.Wrapf(err, pkgerrors.ContestUpdateFailed, "store participant %s", p.UserID)
		}
	}
	return nil
}

// MemoryRepository is an in-process Repository.
type MemoryRepository struct {
	mu     sync.Mutex
	boards map[string]*Board
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{boards: make(map[string]*Board)}
}

func (r *MemoryRepository) Load(_ context.Context, contestID string) (*Board, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.boards[contestID]; ok {
		return b.Clone(), nil
	}
	return NewBoard(contestID), nil
}

func (r *MemoryRepository) Update(_ context.Context, contestID string, fn func(*Board) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	board := NewBoard(contestID)
	if b, ok := r.boards[contestID]; ok {
		board = b.Clone()
	}
	if err := fn(board); err != nil {
		return err
	}
	r.boards[contestID] = board.Clone()
	return nil
}

var (
	_ Repository = (*MySQLRepository)(nil)
	_ Repository = (*MemoryRepository)(nil)
)
