package similarity_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"ojeval/internal/common/mq"
	judgemodel "ojeval/internal/judge/model"
	"ojeval/internal/notify"
	"ojeval/internal/similarity"
	"ojeval/internal/submission/model"
	"ojeval/internal/submission/repository"
)

type capturePublisher struct {
	mu     sync.Mutex
	alerts []notify.PlagiarismAlert
}

func (c *capturePublisher) Publish(_ context.Context, e notify.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if alert, ok := e.Payload.(notify.PlagiarismAlert); ok {
		c.alerts = append(c.alerts, alert)
	}
	return nil
}

var base = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func seed(t *testing.T, repo *repository.MemoryRepository, subs ...*model.Submission) {
	t.Helper()
	for _, s := range subs {
		if err := repo.Create(context.Background(), s); err != nil {
			t.Fatalf("seed %s: %v", s.ID, err)
		}
	}
}

func accepted(id, user, code string, lang judgemodel.Language, offset time.Duration) *model.Submission {
	return &model.Submission{
		ID:         id,
		UserID:     user,
		Username:   "name-" + user,
		ProblemID:  "p1",
		ContestID:  "c1",
		Language:   lang,
		Code:       code,
		Status:     judgemodel.StatusAccepted,
		Generation: 1,
		Score:      100,
		CreatedAt:  base.Add(offset),
	}
}

func newScanner(t *testing.T, repo *repository.MemoryRepository, events notify.Publisher) *similarity.Scanner {
	t.Helper()
	s, err := similarity.NewScanner(similarity.ScannerConfig{Submissions: repo, Events: events})
	if err != nil {
		t.Fatalf("scanner: %v", err)
	}
	return s
}

func TestIdenticalCodeFlagsBothSubmissions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	seed(t, repo,
		accepted("s1", "u1", sumOfSquares, judgemodel.LanguagePython, 0),
		accepted("s2", "u2", sumOfSquares, judgemodel.LanguagePython, time.Minute),
		accepted("s3", "u3", wordCount, judgemodel.LanguagePython, 30*time.Second),
		accepted("s4", "u4", sumOfSquares, judgemodel.LanguageJavaScript, 10*time.Second),
	)
	events := &capturePublisher{}

	if err := newScanner(t, repo, events).Scan(ctx, model.Task{SubmissionID: "s2", Generation: 1}); err != nil {
		t.Fatalf("scan: %v", err)
	}

	s2, _ := repo.Get(ctx, "s2")
	check := s2.Plagiarism
	if !check.Checked || check.CheckedAt == nil || check.Score < 95 {
		t.Fatalf("unexpected check on new submission %+v", check)
	}
	if len(check.SimilarSubmissions) != 1 || check.SimilarSubmissions[0].SubmissionID != "s1" {
		t.Fatalf("expected only s1 to be reported, got %+v", check.SimilarSubmissions)
	}

	s1, _ := repo.Get(ctx, "s1")
	if s1.Plagiarism.Score < 95 || len(s1.Plagiarism.SimilarSubmissions) != 1 ||
		s1.Plagiarism.SimilarSubmissions[0].SubmissionID != "s2" {
		t.Fatalf("compared submission not updated: %+v", s1.Plagiarism)
	}
	if s1.Status != judgemodel.StatusAccepted || s1.Score != 100 {
		t.Fatalf("verdict changed: %s %d", s1.Status, s1.Score)
	}

	if len(events.alerts) != 1 {
		t.Fatalf("expected one alert, got %+v", events.alerts)
	}
	alert := events.alerts[0]
	if alert.ContestID != "c1" || alert.ComparedSubmissionID != "s1" || alert.FlaggedUsername != "name-u2" || alert.SelfReuse {
		t.Fatalf("unexpected alert %+v", alert)
	}
}

func TestSelfReuseIsFlagged(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	earlier := accepted("s1", "u1", sumOfSquares, judgemodel.LanguagePython, 0)
	earlier.Status = judgemodel.StatusWrongAnswer
	earlier.ContestID = ""
	seed(t, repo, earlier, accepted("s2", "u1", sumOfSquares, judgemodel.LanguagePython, time.Minute))
	events := &capturePublisher{}

	if err := newScanner(t, repo, events).Scan(ctx, model.Task{SubmissionID: "s2", Generation: 1}); err != nil {
		t.Fatalf("scan: %v", err)
	}
	s2, _ := repo.Get(ctx, "s2")
	refs := s2.Plagiarism.SimilarSubmissions
	if len(refs) != 1 || !refs[0].SelfReuse || refs[0].SubmissionID != "s1" {
		t.Fatalf("unexpected refs %+v", refs)
	}
	if len(events.alerts) != 1 || !events.alerts[0].SelfReuse {
		t.Fatalf("expected a self-reuse alert, got %+v", events.alerts)
	}
}

func TestScanSkipsIneligibleSubmissions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	practice := accepted("s2", "u2", sumOfSquares, judgemodel.LanguagePython, time.Minute)
	practice.ContestID = ""
	seed(t, repo,
		accepted("s1", "u1", sumOfSquares, judgemodel.LanguagePython, 0),
		practice,
		accepted("s3", "u3", sumOfSquares, judgemodel.LanguagePython, 2*time.Minute),
	)
	scanner := newScanner(t, repo, nil)

	tests := []struct {
		name string
		task model.Task
	}{
		{"outside contest", model.Task{SubmissionID: "s2", Generation: 1}},
		{"stale generation", model.Task{SubmissionID: "s3", Generation: 7}},
	}
	for _, tt := range tests {
		if err := scanner.Scan(ctx, tt.task); err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		s, _ := repo.Get(ctx, tt.task.SubmissionID)
		if s.Plagiarism.Checked {
			t.Fatalf("%s: submission was scanned", tt.name)
		}
	}
}

func TestHandleMessageSwallowsFailures(t *testing.T) {
	t.Parallel()
	scanner := newScanner(t, repository.NewMemoryRepository(), nil)
	body, _ := json.Marshal(model.Task{SubmissionID: "missing", Generation: 1})

	if err := scanner.HandleMessage(context.Background(), mq.NewMessage("s-1", body)); err != nil {
		t.Fatalf("scan failure must not be retried: %v", err)
	}
	if err := scanner.HandleMessage(context.Background(), mq.NewMessage("s-1", []byte("{"))); err != nil {
		t.Fatalf("malformed task must be dropped: %v", err)
	}
}
