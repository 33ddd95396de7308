package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	judgemodel "ojeval/internal/judge/model"
	"ojeval/internal/submission/model"
	pkgerrors "ojeval/pkg/errors"
)

// MemoryRepository keeps submissions in process. It backs local mode and
// tests; values are copied in and out.
type MemoryRepository struct {
	mu    sync.RWMutex
	items map[string]*model.Submission
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{items: make(map[string]*model.Submission)}
}

func (m *MemoryRepository) Create(_ context.Context, s *model.Submission) error {
	if s == nil || s.ID == "" {
		return pkgerrors.ValidationError("submission.id", "required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[s.ID]; ok {
		return pkgerrors.Newf(pkgerrors.DuplicateSubmission, "submission %s already exists", s.ID)
	}
	cp := clone(s)
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = cp.CreatedAt
	}
	m.items[s.ID] = cp
	return nil
}

func (m *MemoryRepository) Get(_ context.Context, id string) (*model.Submission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.items[id]
	if !ok {
		return nil, notFound(id)
	}
	return clone(s), nil
}

func (m *MemoryRepository) MarkRunning(_ context.Context, id string, generation int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.items[id]
	if !ok {
		return false, notFound(id)
	}
	if s.Generation != generation || !claimable(s.Status) {
		return false, nil
	}
	s.Status = judgemodel.StatusRunning
	s.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (m *MemoryRepository) Finish(_ context.Context, id string, generation int64, out model.Outcome) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.items[id]
	if !ok {
		return false, notFound(id)
	}
	if s.Generation != generation || s.Status != judgemodel.StatusRunning {
		return false, nil
	}
	judgedAt := out.JudgedAt
	s.Status = out.Status
	s.TestResults = append([]judgemodel.TestResult(nil), out.TestResults...)
	s.TestCaseStats = out.TestCaseStats
	s.StatusMessage = out.StatusMessage
	s.Score = out.Score
	s.JudgedAt = &judgedAt
	s.UpdatedAt = judgedAt
	return true, nil
}

func (m *MemoryRepository) Reopen(_ context.Context, id string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.items[id]
	if !ok {
		return 0, notFound(id)
	}
	if !s.Status.Terminal() {
		return 0, pkgerrors.Newf(pkgerrors.SubmissionNotTerminal, "submission %s is %s", id, s.Status)
	}
	s.Generation++
	s.Status = judgemodel.StatusPending
	s.TestResults = nil
	s.TestCaseStats = judgemodel.TestCaseStats{}
	s.StatusMessage = ""
	s.Score = 0
	s.JudgedAt = nil
	s.UpdatedAt = time.Now().UTC()
	return s.Generation, nil
}

func (m *MemoryRepository) ListAccepted(_ context.Context, q AcceptedQuery) ([]*model.Submission, error) {
	return m.list(q.Limit, func(s *model.Submission) bool {
		return s.ProblemID == q.ProblemID &&
			s.ContestID == q.ContestID &&
			s.Language == q.Language &&
			s.Status == judgemodel.StatusAccepted &&
			s.CreatedAt.Before(q.Before) &&
			s.UserID != q.ExcludeUserID
	}), nil
}

func (m *MemoryRepository) ListByUserProblem(_ context.Context, userID, problemID string, before time.Time, limit int) ([]*model.Submission, error) {
	return m.list(limit, func(s *model.Submission) bool {
		return s.UserID == userID && s.ProblemID == problemID && s.CreatedAt.Before(before)
	}), nil
}

func (m *MemoryRepository) list(limit int, keep func(*model.Submission) bool) []*model.Submission {
	if limit <= 0 {
		limit = defaultListLimit
	}
	m.mu.RLock()
	var out []*model.Submission
	for _, s := range m.items {
		if keep(s) {
			out = append(out, clone(s))
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (m *MemoryRepository) SavePlagiarismCheck(_ context.Context, id string, check model.PlagiarismCheck) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.items[id]
	if !ok {
		return notFound(id)
	}
	merged := s.Plagiarism
	merged.SimilarSubmissions = append([]model.SimilarSubmission(nil), s.Plagiarism.SimilarSubmissions...)
	mergeCheck(&merged, check)
	s.Plagiarism = merged
	return nil
}

func (m *MemoryRepository) RaisePlagiarismScore(_ context.Context, id string, score float64, ref model.SimilarSubmission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.items[id]
	if !ok {
		return notFound(id)
	}
	merged := s.Plagiarism
	merged.SimilarSubmissions = append([]model.SimilarSubmission(nil), s.Plagiarism.SimilarSubmissions...)
	merged.Score = max(merged.Score, score)
	mergeRef(&merged, ref)
	s.Plagiarism = merged
	return nil
}

func clone(s *model.Submission) *model.Submission {
	cp := *s
	cp.TestResults = append([]judgemodel.TestResult(nil), s.TestResults...)
	cp.Plagiarism.SimilarSubmissions = append([]model.SimilarSubmission(nil), s.Plagiarism.SimilarSubmissions...)
	if s.JudgedAt != nil {
		t := *s.JudgedAt
		cp.JudgedAt = &t
	}
	return &cp
}

var _ SubmissionRepository = (*MemoryRepository)(nil)

func claimable(status judgemodel.SubmissionStatus) bool {
	return status == judgemodel.StatusPending || status == judgemodel.StatusRunning
}
