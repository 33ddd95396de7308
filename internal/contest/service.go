package contest

import (
	"context"
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	"ojeval/internal/common/cache"
	"ojeval/internal/notify"
	"ojeval/internal/submission/model"
	pkgerrors "ojeval/pkg/errors"
	"ojeval/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	lockKeyPrefix        = "contest:lock:"
	leaderboardKeyPrefix = "contest:leaderboard:"

	// scoreShift leaves room for a unix timestamp below the aggregate.
	scoreShift = 1e10

	defaultLockTTL        = 10 * time.Second
	defaultLockWait       = 5 * time.Second
	defaultLockRetry      = 50 * time.Millisecond
	defaultLeaderboardTTL = 24 * time.Hour
	defaultLeaderboardTop = 100
)

// Config controls standings updates.
type Config struct {
	Penalty        PenaltyRule   `yaml:",inline"`
	LockTTL        time.Duration `yaml:"lockTTL"`
	LockWait       time.Duration `yaml:"lockWait"`
	LockRetry      time.Duration `yaml:"lockRetry"`
	LeaderboardTTL time.Duration `yaml:"leaderboardTTL"`
}

func (c *Config) setDefaults() {
	if c.LockTTL <= 0 {
		c.LockTTL = defaultLockTTL
	}
	if c.LockWait <= 0 {
		c.LockWait = defaultLockWait
	}
	if c.LockRetry <= 0 {
		c.LockRetry = defaultLockRetry
	}
	if c.LeaderboardTTL <= 0 {
		c.LeaderboardTTL = defaultLeaderboardTTL
	}
}

// Standing is one leaderboard row as served to clients.
type Standing struct {
	Rank               int       `json:"rank"`
	UserID             string    `json:"userId"`
	Username           string    `json:"username"`
	AggregateScore     int       `json:"aggregateScore"`
	LatestSubmissionAt time.Time `json:"latestSubmissionAt"`
}

// Service applies verdicts to contest standings and serves leaderboards.
// Writes for one contest are serialized by a redis lock on top of the
// repository transaction; the ranked board is mirrored into a sorted set.
type Service struct {
	repo   Repository
	cache  cache.Cache
	events notify.Publisher
	cfg    Config
}

func NewService(repo Repository, cacheClient cache.Cache, events notify.Publisher, cfg Config) *Service {
	cfg.setDefaults()
	if events == nil {
		events = notify.Discard{}
	}
	return &Service{repo: repo, cache: cacheClient, events: events, cfg: cfg}
}

// OnVerdict folds a terminal contest submission into the standings. System
// errors are not verdicts and leave the board untouched.
func (s *Service) OnVerdict(ctx context.Context, sub *model.Submission) error {
	if sub == nil || !sub.InContest() || !sub.Status.Verdict() {
		return nil
	}
	unlock, err := s.lock(ctx, sub.ContestID)
	if err != nil {
		return err
	}
	defer unlock()

	var ordered []*Participant
	err = s.repo.Update(ctx, sub.ContestID, func(b *Board) error {
		b.Apply(Verdict{
			Attempt: Attempt{
				SubmissionID: sub.ID,
				UserID:       sub.UserID,
				ProblemID:    sub.ProblemID,
				Status:       sub.Status,
				Score:        sub.Score,
				SubmittedAt:  sub.CreatedAt,
			},
			Username: sub.Username,
		}, s.cfg.Penalty)
		ordered = b.Ordered()
		return nil
	})
	if err != nil {
		return err
	}

	s.mirror(ctx, sub.ContestID, ordered)
	logger.Info(ctx, "contest standings updated",
		zap.String("contest_id", sub.ContestID),
		zap.String("submission_id", sub.ID),
		zap.Int("participants", len(ordered)),
	)
	_ = s.events.Publish(ctx, notify.NewEvent(notify.TypeLeaderboardUpdated, sub.ContestID,
		notify.LeaderboardUpdated{ContestID: sub.ContestID}))
	return nil
}

func (s *Service) lock(ctx context.Context, contestID string) (func(), error) {
	if s.cache == nil {
		return func() {}, nil
	}
	key := lockKeyPrefix + contestID
	token, err := cache.LockWithRetry(ctx, s.cache, key, s.cfg.LockTTL, s.cfg.LockWait, s.cfg.LockRetry)
	if err != nil {
		if errors.Is(err, cache.ErrLockTimeout) {
			return nil, pkgerrors.Newf(pkgerrors.LeaderboardLockTimeout, "contest %s is locked", contestID)
		}
		return nil, pkgerrors.Wrapf(err, pkgerrors.LockFailed, "lock contest %s", contestID)
	}
	return func() {
		if err := s.cache.Unlock(context.WithoutCancel(ctx), key, token); err != nil {
			logger.Warn(ctx, "unlock contest failed", zap.String("contest_id", contestID), zap.Error(err))
		}
	}, nil
}

// tryLock takes the contest lock without waiting. A reader that misses it
// serves the repository but leaves the mirror to the writer holding it.
func (s *Service) tryLock(ctx context.Context, contestID string) (func(), bool) {
	if s.cache == nil {
		return func() {}, false
	}
	key := lockKeyPrefix + contestID
	token, ok, err := s.cache.TryLock(ctx, key, s.cfg.LockTTL)
	if err != nil || !ok {
		return func() {}, false
	}
	return func() {
		if err := s.cache.Unlock(context.WithoutCancel(ctx), key, token); err != nil {
			logger.Warn(ctx, "unlock contest failed", zap.String("contest_id", contestID), zap.Error(err))
		}
	}, true
}

// Leaderboard returns the top limit rows, served from the sorted set when
// it is populated and rebuilt from the repository otherwise.
func (s *Service) Leaderboard(ctx context.Context, contestID string, limit int) ([]Standing, error) {
	if limit <= 0 {
		limit = defaultLeaderboardTop
	}
	if rows, ok := s.fromMirror(ctx, contestID, limit); ok {
		return rows, nil
	}

	release, held := s.tryLock(ctx, contestID)
	defer release()
	board, err := s.repo.Load(ctx, contestID)
	if err != nil {
		return nil, err
	}
	ordered := board.Rank()
	if held {
		s.mirror(ctx, contestID, ordered)
	}

	out := make([]Standing, 0, min(limit, len(ordered)))
	for _, p := range ordered {
		if len(out) == limit {
			break
		}
		out = append(out, Standing{
			Rank:               p.Rank,
			UserID:             p.UserID,
			Username:           p.Username,
			AggregateScore:     p.AggregateScore,
			LatestSubmissionAt: p.LatestSubmissionAt.UTC(),
		})
	}
	return out, nil
}

// Standings returns every participant with per-problem detail.
func (s *Service) Standings(ctx context.Context, contestID string) ([]*Participant, error) {
	board, err := s.repo.Load(ctx, contestID)
	if err != nil {
		return nil, err
	}
	return board.Rank(), nil
}

func (s *Service) mirror(ctx context.Context, contestID string, ordered []*Participant) {
	if s.cache == nil {
		return
	}
	members := make([]cache.ZMember, len(ordered))
	for i, p := range ordered {
		members[i] = cache.ZMember{Score: mirrorScore(p), Member: p.UserID + "|" + p.Username}
	}
	if err := s.cache.ReplaceZSet(ctx, leaderboardKeyPrefix+contestID, members, s.cfg.LeaderboardTTL); err != nil {
		logger.Warn(ctx, "mirror leaderboard failed", zap.String("contest_id", contestID), zap.Error(err))
	}
}

func (s *Service) fromMirror(ctx context.Context, contestID string, limit int) ([]Standing, bool) {
	if s.cache == nil {
		return nil, false
	}
	members, err := s.cache.ZRevRangeWithScores(ctx, leaderboardKeyPrefix+contestID, 0, int64(limit-1))
	if err != nil {
		logger.Warn(ctx, "read leaderboard mirror failed", zap.String("contest_id", contestID), zap.Error(err))
		return nil, false
	}
	if len(members) == 0 {
		return nil, false
	}
	out := make([]Standing, len(members))
	rank := 0
	for i, m := range members {
		if i == 0 || m.Score != members[i-1].Score {
			rank++
		}
		userID, username, _ := strings.Cut(m.Member, "|")
		aggregate, latest := splitMirrorScore(m.Score)
		out[i] = Standing{
			Rank:               rank,
			UserID:             userID,
			Username:           username,
			AggregateScore:     aggregate,
			LatestSubmissionAt: latest,
		}
	}
	return out, true
}

// mirrorScore packs the ranking key into one float: higher aggregate first,
// then earlier latest submission.
func mirrorScore(p *Participant) float64 {
	return float64(p.AggregateScore)*scoreShift + (scoreShift - float64(p.LatestSubmissionAt.Unix()))
}

func splitMirrorScore(score float64) (int, time.Time) {
	aggregate := math.Floor(score / scoreShift)
	rest := score - aggregate*scoreShift
	return int(aggregate), time.Unix(int64(scoreShift-rest), 0).UTC()
}

// ParseLimit reads a leaderboard limit query value.
func ParseLimit(raw string) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n <= 0 {
		return defaultLeaderboardTop
	}
	return n
}
