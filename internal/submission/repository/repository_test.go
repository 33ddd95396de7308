package repository_test

import (
	"context"
	"testing"
	"time"

	judgemodel "ojeval/internal/judge/model"
	"ojeval/internal/submission/model"
	"ojeval/internal/submission/repository"
	pkgerrors "ojeval/pkg/errors"
)

func seed(t *testing.T, repo *repository.MemoryRepository, id string) {
	t.Helper()
	err := repo.Create(context.Background(), &model.Submission{
		ID:         id,
		UserID:     "u1",
		ProblemID:  "p1",
		Language:   judgemodel.LanguagePython,
		Code:       "print(1)",
		Status:     judgemodel.StatusPending,
		Generation: 1,
		CreatedAt:  time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
}

func TestGenerationGuardsWrites(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	seed(t, repo, "s1")

	if ok, err := repo.MarkRunning(ctx, "s1", 2); err != nil || ok {
		t.Fatalf("wrong generation must not start: ok=%v err=%v", ok, err)
	}
	if ok, _ := repo.MarkRunning(ctx, "s1", 1); !ok {
		t.Fatalf("expected pending -> running")
	}
	if ok, _ := repo.MarkRunning(ctx, "s1", 1); !ok {
		t.Fatalf("running at the same generation must be claimable again")
	}

	if _, err := repo.Reopen(ctx, "s1"); !pkgerrors.Is(err, pkgerrors.SubmissionNotTerminal) {
		t.Fatalf("reopen of running submission should fail, got %v", err)
	}

	out := model.Outcome{
		Status:        judgemodel.StatusAccepted,
		TestResults:   []judgemodel.TestResult{{TestCaseIndex: 0, Status: judgemodel.TestPassed}},
		StatusMessage: "All 1 test cases passed (1 visible, 0 hidden).",
		Score:         100,
		JudgedAt:      time.Now().UTC(),
	}
	if ok, _ := repo.Finish(ctx, "s1", 1, out); !ok {
		t.Fatalf("expected finish to apply")
	}

	gen, err := repo.Reopen(ctx, "s1")
	if err != nil || gen != 2 {
		t.Fatalf("reopen: gen=%d err=%v", gen, err)
	}
	s, _ := repo.Get(ctx, "s1")
	if s.Status != judgemodel.StatusPending || len(s.TestResults) != 0 || s.Score != 0 || s.JudgedAt != nil {
		t.Fatalf("reopen did not clear results: %+v", s)
	}

	// A late write from generation 1 is dropped.
	if ok, _ := repo.Finish(ctx, "s1", 1, out); ok {
		t.Fatalf("stale finish must be rejected")
	}
	if ok, _ := repo.MarkRunning(ctx, "s1", 1); ok {
		t.Fatalf("stale generation must not be claimed")
	}
}

func TestReopenMissing(t *testing.T) {
	t.Parallel()
	repo := repository.NewMemoryRepository()
	if _, err := repo.Reopen(context.Background(), "nope"); !pkgerrors.Is(err, pkgerrors.SubmissionNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRaisePlagiarismScoreKeepsMax(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	seed(t, repo, "s1")

	ref := model.SimilarSubmission{SubmissionID: "s2", UserID: "u2", Similarity: 90}
	if err := repo.RaisePlagiarismScore(ctx, "s1", 90, ref); err != nil {
		t.Fatalf("raise: %v", err)
	}
	ref.Similarity = 75
	if err := repo.RaisePlagiarismScore(ctx, "s1", 75, ref); err != nil {
		t.Fatalf("raise: %v", err)
	}
	s, _ := repo.Get(ctx, "s1")
	if s.Plagiarism.Score != 90 {
		t.Fatalf("score lowered to %v", s.Plagiarism.Score)
	}
	if len(s.Plagiarism.SimilarSubmissions) != 1 || s.Plagiarism.SimilarSubmissions[0].Similarity != 90 {
		t.Fatalf("unexpected refs %+v", s.Plagiarism.SimilarSubmissions)
	}
}

func TestListAcceptedFilters(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	add := func(id, user, contest string, lang judgemodel.Language, status judgemodel.SubmissionStatus, at time.Time) {
		if err := repo.Create(ctx, &model.Submission{
			ID: id, UserID: user, ProblemID: "p1", ContestID: contest,
			Language: lang, Status: status, Generation: 1, CreatedAt: at,
		}); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}
	add("a", "u2", "c1", judgemodel.LanguagePython, judgemodel.StatusAccepted, base)
	add("b", "u3", "c1", judgemodel.LanguagePython, judgemodel.StatusAccepted, base.Add(time.Minute))
	add("self", "u1", "c1", judgemodel.LanguagePython, judgemodel.StatusAccepted, base)
	add("wa", "u2", "c1", judgemodel.LanguagePython, judgemodel.StatusWrongAnswer, base)
	add("js", "u2", "c1", judgemodel.LanguageJavaScript, judgemodel.StatusAccepted, base)
	add("other", "u2", "c2", judgemodel.LanguagePython, judgemodel.StatusAccepted, base)
	add("later", "u2", "c1", judgemodel.LanguagePython, judgemodel.StatusAccepted, base.Add(time.Hour))

	got, err := repo.ListAccepted(ctx, repository.AcceptedQuery{
		ProblemID:     "p1",
		ContestID:     "c1",
		Language:      judgemodel.LanguagePython,
		Before:        base.Add(30 * time.Minute),
		ExcludeUserID: "u1",
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 || got[0].ID != "b" || got[1].ID != "a" {
		ids := make([]string, len(got))
		for i, s := range got {
			ids[i] = s.ID
		}
		t.Fatalf("unexpected candidates %v", ids)
	}
}
