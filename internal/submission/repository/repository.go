// Package repository persists submissions.
package repository

import (
	"context"
	"time"

	judgemodel "ojeval/internal/judge/model"
	"ojeval/internal/submission/model"
)

// SubmissionRepository persists submissions. Writes made on behalf of an
// evaluation are conditional on the generation, so a superseded run cannot
// overwrite a newer one; those methods report false when nothing changed.
type SubmissionRepository interface {
	Create(ctx context.Context, s *model.Submission) error
	Get(ctx context.Context, id string) (*model.Submission, error)

	// MarkRunning moves pending to running for generation. A row already
	// running at generation is claimed again, so a redelivered task can
	// finish a run whose worker died or failed to store its outcome.
	MarkRunning(ctx context.Context, id string, generation int64) (bool, error)
	// Finish stores a terminal outcome for generation.
	Finish(ctx context.Context, id string, generation int64, out model.Outcome) (bool, error)
	// Reopen moves a terminal submission back to pending, clears its
	// results and returns the new generation.
	Reopen(ctx context.Context, id string) (int64, error)

	// ListAccepted returns accepted submissions for a problem, language and
	// contest created before the given time, newest first.
	ListAccepted(ctx context.Context, q AcceptedQuery) ([]*model.Submission, error)
	// ListByUserProblem returns a user's earlier submissions for a problem.
	ListByUserProblem(ctx context.Context, userID, problemID string, before time.Time, limit int) ([]*model.Submission, error)

	// SavePlagiarismCheck merges a finished scan into the stored check,
	// keeping flags other scans raised in the meantime.
	SavePlagiarismCheck(ctx context.Context, id string, check model.PlagiarismCheck) error
	// RaisePlagiarismScore sets score to max(existing, score) and records ref.
	RaisePlagiarismScore(ctx context.Context, id string, score float64, ref model.SimilarSubmission) error
}

// AcceptedQuery selects similarity candidates.
type AcceptedQuery struct {
	ProblemID     string
	ContestID     string
	Language      judgemodel.Language
	Before        time.Time
	ExcludeUserID string
	Limit         int
}

func mergeRef(check *model.PlagiarismCheck, ref model.SimilarSubmission) {
	for i, existing := range check.SimilarSubmissions {
		if existing.SubmissionID == ref.SubmissionID {
			if ref.Similarity > existing.Similarity {
				check.SimilarSubmissions[i] = ref
			}
			return
		}
	}
	check.SimilarSubmissions = append(check.SimilarSubmissions, ref)
}

func mergeCheck(dst *model.PlagiarismCheck, src model.PlagiarismCheck) {
	dst.Checked = dst.Checked || src.Checked
	if src.CheckedAt != nil {
		dst.CheckedAt = src.CheckedAt
	}
	dst.Score = max(dst.Score, src.Score)
	for _, ref := range src.SimilarSubmissions {
		mergeRef(dst, ref)
	}
}
