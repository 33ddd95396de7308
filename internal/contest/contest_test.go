package contest_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"ojeval/internal/common/cache"
	"ojeval/internal/contest"
	judgemodel "ojeval/internal/judge/model"
	"ojeval/internal/notify"
	"ojeval/internal/submission/model"
	pkgerrors "ojeval/pkg/errors"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func attempt(id, user, problemID string, status judgemodel.SubmissionStatus, score int, offset time.Duration) contest.Verdict {
	return contest.Verdict{
		Attempt: contest.Attempt{
			SubmissionID: id,
			UserID:       user,
			ProblemID:    problemID,
			Status:       status,
			Score:        score,
			SubmittedAt:  t0.Add(offset),
		},
		Username: "name-" + user,
	}
}

func TestPenaltyForWrongAttempts(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		per       int
		enabled   bool
		aggregate int
		penalty   int
	}{
		{name: "two wrong then accepted", per: 10, enabled: true, aggregate: 80, penalty: 20},
		{name: "penalty floors at zero", per: 60, enabled: true, aggregate: 0, penalty: 120},
		{name: "penalties disabled", per: 10, enabled: false, aggregate: 100, penalty: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			b := contest.NewBoard("c1")
			rule := contest.PenaltyRule{Enabled: tt.enabled, PerWrongAttempt: tt.per}
			b.Apply(attempt("s1", "u1", "A", judgemodel.StatusWrongAnswer, 0, 0), rule)
			b.Apply(attempt("s2", "u1", "A", judgemodel.StatusWrongAnswer, 50, time.Minute), rule)
			p := b.Apply(attempt("s3", "u1", "A", judgemodel.StatusAccepted, 100, 2*time.Minute), rule)

			if p.AggregateScore != tt.aggregate {
				t.Fatalf("expected aggregate %d, got %d", tt.aggregate, p.AggregateScore)
			}
			r := p.Problems["A"]
			if r.BestScore != 100 || r.WrongAttempts != 2 || r.Penalty != tt.penalty {
				t.Fatalf("unexpected problem result %+v", r)
			}
		})
	}
}

func TestPenaltyIgnoresSystemErrorsAndReruns(t *testing.T) {
	t.Parallel()
	b := contest.NewBoard("c1")
	rule := contest.PenaltyRule{Enabled: true, PerWrongAttempt: 10}

	b.Apply(attempt("s1", "u1", "A", judgemodel.StatusSystemError, 0, 0), rule)
	b.Apply(attempt("s2", "u1", "A", judgemodel.StatusWrongAnswer, 0, time.Minute), rule)
	// s2 is rerun and judged again.
	b.Apply(attempt("s2", "u1", "A", judgemodel.StatusWrongAnswer, 0, time.Minute), rule)
	p := b.Apply(attempt("s3", "u1", "A", judgemodel.StatusAccepted, 100, 2*time.Minute), rule)

	if p.Problems["A"].WrongAttempts != 1 || p.AggregateScore != 90 {
		t.Fatalf("unexpected standing %+v aggregate=%d", p.Problems["A"], p.AggregateScore)
	}

	// A later acceptance does not charge the penalty twice.
	p = b.Apply(attempt("s4", "u1", "A", judgemodel.StatusAccepted, 100, 3*time.Minute), rule)
	if p.AggregateScore != 90 {
		t.Fatalf("penalty charged again: %d", p.AggregateScore)
	}
}

func TestBestScoreAcrossProblems(t *testing.T) {
	t.Parallel()
	b := contest.NewBoard("c1")
	rule := contest.PenaltyRule{}
	b.Apply(attempt("s1", "u1", "A", judgemodel.StatusWrongAnswer, 60, 0), rule)
	b.Apply(attempt("s2", "u1", "A", judgemodel.StatusWrongAnswer, 40, time.Minute), rule)
	p := b.Apply(attempt("s3", "u1", "B", judgemodel.StatusAccepted, 100, 2*time.Minute), rule)

	if p.Problems["A"].BestScore != 60 || p.AggregateScore != 160 {
		t.Fatalf("unexpected standing %+v aggregate=%d", p.Problems, p.AggregateScore)
	}
	if !p.LatestSubmissionAt.Equal(t0.Add(2 * time.Minute)) {
		t.Fatalf("unexpected latest submission %v", p.LatestSubmissionAt)
	}
}

func TestDenseRanking(t *testing.T) {
	t.Parallel()
	b := contest.NewBoard("c1")
	rule := contest.PenaltyRule{}
	b.Apply(attempt("s1", "u1", "A", judgemodel.StatusAccepted, 100, time.Minute), rule)
	b.Apply(attempt("s2", "u2", "A", judgemodel.StatusAccepted, 100, time.Minute), rule)
	b.Apply(attempt("s3", "u3", "A", judgemodel.StatusAccepted, 100, 2*time.Minute), rule)
	b.Apply(attempt("s4", "u4", "A", judgemodel.StatusWrongAnswer, 50, 0), rule)

	ranks := map[string]int{}
	for _, p := range b.Rank() {
		ranks[p.UserID] = p.Rank
	}
	want := map[string]int{"u1": 1, "u2": 1, "u3": 2, "u4": 3}
	for user, rank := range want {
		if ranks[user] != rank {
			t.Fatalf("rank of %s: expected %d, got %d (all %v)", user, rank, ranks[user], ranks)
		}
	}
}

type capturePublisher struct {
	mu     sync.Mutex
	events []notify.Event
}

func (c *capturePublisher) Publish(_ context.Context, e notify.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return nil
}

func (c *capturePublisher) count(eventType string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

func newService(t *testing.T, cfg contest.Config) (*contest.Service, *cache.RedisCache, *miniredis.Miniredis, *capturePublisher) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	c, err := cache.NewRedisCacheWithClient(client)
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	events := &capturePublisher{}
	return contest.NewService(contest.NewMemoryRepository(), c, events, cfg), c, mr, events
}

func submission(id, user, contestID string, status judgemodel.SubmissionStatus, score int, offset time.Duration) *model.Submission {
	return &model.Submission{
		ID:        id,
		UserID:    user,
		Username:  "name-" + user,
		ProblemID: "A",
		ContestID: contestID,
		Status:    status,
		Score:     score,
		CreatedAt: t0.Add(offset),
	}
}

func TestOnVerdictMirrorsLeaderboard(t *testing.T) {
	t.Parallel()
	svc, _, mr, events := newService(t, contest.Config{Penalty: contest.PenaltyRule{Enabled: true, PerWrongAttempt: 10}})
	ctx := context.Background()

	subs := []*model.Submission{
		submission("s1", "u1", "c1", judgemodel.StatusWrongAnswer, 0, 0),
		submission("s2", "u1", "c1", judgemodel.StatusAccepted, 100, time.Minute),
		submission("s3", "u2", "c1", judgemodel.StatusAccepted, 100, 2*time.Minute),
		submission("s4", "u3", "c1", judgemodel.StatusSystemError, 0, 0),
		submission("s5", "u4", "", judgemodel.StatusAccepted, 100, 0),
	}
	for _, s := range subs {
		if err := svc.OnVerdict(ctx, s); err != nil {
			t.Fatalf("on verdict %s: %v", s.ID, err)
		}
	}
	if n := events.count(notify.TypeLeaderboardUpdated); n != 3 {
		t.Fatalf("expected 3 leaderboard events, got %d", n)
	}

	rows, err := svc.Leaderboard(ctx, "c1", 10)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %+v", rows)
	}
	if rows[0].UserID != "u2" || rows[0].AggregateScore != 100 || rows[0].Rank != 1 {
		t.Fatalf("unexpected first row %+v", rows[0])
	}
	if rows[1].UserID != "u1" || rows[1].AggregateScore != 90 || rows[1].Rank != 2 || rows[1].Username != "name-u1" {
		t.Fatalf("unexpected second row %+v", rows[1])
	}
	if !rows[1].LatestSubmissionAt.Equal(t0.Add(time.Minute)) {
		t.Fatalf("unexpected latest submission %v", rows[1].LatestSubmissionAt)
	}

	mr.FlushAll()
	rebuilt, err := svc.Leaderboard(ctx, "c1", 10)
	if err != nil {
		t.Fatalf("leaderboard after flush: %v", err)
	}
	if len(rebuilt) != 2 || rebuilt[0].UserID != "u2" || rebuilt[1].Rank != 2 {
		t.Fatalf("unexpected rebuilt leaderboard %+v", rebuilt)
	}
	if !mr.Exists("contest:leaderboard:c1") {
		t.Fatalf("expected mirror to be rebuilt")
	}
}

func TestLeaderboardFallbackLeavesMirrorToLockHolder(t *testing.T) {
	t.Parallel()
	svc, c, mr, _ := newService(t, contest.Config{})
	ctx := context.Background()

	if err := svc.OnVerdict(ctx, submission("s1", "u1", "c1", judgemodel.StatusAccepted, 100, 0)); err != nil {
		t.Fatalf("on verdict: %v", err)
	}
	mr.FlushAll()

	token, ok, err := c.TryLock(ctx, "contest:lock:c1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("hold lock: ok=%v err=%v", ok, err)
	}
	rows, err := svc.Leaderboard(ctx, "c1", 10)
	if err != nil || len(rows) != 1 || rows[0].UserID != "u1" {
		t.Fatalf("leaderboard while locked: %+v %v", rows, err)
	}
	if mr.Exists("contest:leaderboard:c1") {
		t.Fatalf("reader rebuilt the mirror while a writer held the lock")
	}

	if err := c.Unlock(ctx, "contest:lock:c1", token); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if _, err := svc.Leaderboard(ctx, "c1", 10); err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if !mr.Exists("contest:leaderboard:c1") {
		t.Fatalf("expected mirror to be rebuilt once the lock is free")
	}
	if mr.Exists("contest:lock:c1") {
		t.Fatalf("reader kept the contest lock")
	}
}

func TestOnVerdictLockTimeout(t *testing.T) {
	t.Parallel()
	svc, c, _, _ := newService(t, contest.Config{LockWait: 20 * time.Millisecond, LockRetry: 5 * time.Millisecond})
	ctx := context.Background()

	if _, ok, err := c.TryLock(ctx, "contest:lock:c1", time.Minute); err != nil || !ok {
		t.Fatalf("hold lock: ok=%v err=%v", ok, err)
	}
	err := svc.OnVerdict(ctx, submission("s1", "u1", "c1", judgemodel.StatusAccepted, 100, 0))
	if !pkgerrors.Is(err, pkgerrors.LeaderboardLockTimeout) {
		t.Fatalf("expected lock timeout, got %v", err)
	}
}

func TestConcurrentVerdictsAreSerialized(t *testing.T) {
	t.Parallel()
	svc, _, _, _ := newService(t, contest.Config{})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i, user := range []string{"u1", "u2", "u3", "u4", "u5", "u6"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s := submission("s-"+user, user, "c1", judgemodel.StatusAccepted, 100, time.Duration(i)*time.Second)
			if err := svc.OnVerdict(ctx, s); err != nil {
				t.Errorf("on verdict %s: %v", user, err)
			}
		}()
	}
	wg.Wait()

	rows, err := svc.Standings(ctx, "c1")
	if err != nil {
		t.Fatalf("standings: %v", err)
	}
	if len(rows) != 6 {
		t.Fatalf("lost updates: %d participants", len(rows))
	}
	for i, p := range rows {
		if p.Rank != i+1 {
			t.Fatalf("unexpected rank for %s: %d", p.UserID, p.Rank)
		}
	}
}
