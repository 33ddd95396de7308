package similarity

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"ojeval/internal/common/metrics"
	"ojeval/internal/common/mq"
	judgemodel "ojeval/internal/judge/model"
	"ojeval/internal/notify"
	"ojeval/internal/submission/model"
	"ojeval/internal/submission/repository"
	pkgerrors "ojeval/pkg/errors"
	"ojeval/pkg/utils/logger"

	"go.uber.org/zap"
)

// Thresholds are similarity percentages.
type Thresholds struct {
	Report    float64 `yaml:"report"`
	OtherUser float64 `yaml:"otherUser"`
	Self      float64 `yaml:"self"`
}

func (t *Thresholds) setDefaults() {
	if t.Report <= 0 {
		t.Report = 50
	}
	if t.OtherUser <= 0 {
		t.OtherUser = 70
	}
	if t.Self <= 0 {
		t.Self = 60
	}
}

// ScannerConfig wires a Scanner.
type ScannerConfig struct {
	Submissions    repository.SubmissionRepository
	Engine         *Engine
	Events         notify.Publisher
	Thresholds     Thresholds
	CandidateLimit int
	Timeout        time.Duration
}

// Scanner compares a newly accepted contest submission with earlier ones
// and records the integrity outcome on both sides.
type Scanner struct {
	submissions    repository.SubmissionRepository
	engine         *Engine
	events         notify.Publisher
	thresholds     Thresholds
	candidateLimit int
	timeout        time.Duration
}

func NewScanner(cfg ScannerConfig) (*Scanner, error) {
	if cfg.Submissions == nil {
		return nil, pkgerrors.New(pkgerrors.InvalidParams).WithMessage("submission repository is required")
	}
	if cfg.Engine == nil {
		cfg.Engine = NewEngine(Profile{})
	}
	if cfg.Events == nil {
		cfg.Events = notify.Discard{}
	}
	if cfg.CandidateLimit <= 0 {
		cfg.CandidateLimit = 200
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	cfg.Thresholds.setDefaults()
	return &Scanner{
		submissions:    cfg.Submissions,
		engine:         cfg.Engine,
		events:         cfg.Events,
		thresholds:     cfg.Thresholds,
		candidateLimit: cfg.CandidateLimit,
		timeout:        cfg.Timeout,
	}, nil
}

// Subscribe consumes similarity tasks from topic.
func (s *Scanner) Subscribe(ctx context.Context, queue mq.MessageQueue, topic, group string) error {
	return queue.Subscribe(ctx, topic, s.HandleMessage, &mq.SubscribeOptions{ConsumerGroup: group, Concurrency: 1})
}

// HandleMessage runs one scan. Failures are logged and never retried; the
// verdict of the submission is already final.
func (s *Scanner) HandleMessage(ctx context.Context, msg *mq.Message) error {
	var task model.Task
	if err := json.Unmarshal(msg.Body, &task); err != nil || task.SubmissionID == "" {
		logger.Warn(ctx, "dropping malformed similarity task", zap.Error(err))
		return nil
	}
	ctx = logger.WithSubmission(ctx, task.SubmissionID)
	if err := s.Scan(ctx, task); err != nil {
		logger.Error(ctx, "similarity scan failed", zap.Int64("generation", task.Generation), zap.Error(err))
	}
	return nil
}

// Scan checks one submission. It is a no-op unless the submission is an
// accepted contest submission still at task's generation.
func (s *Scanner) Scan(ctx context.Context, task model.Task) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	sub, err := s.submissions.Get(ctx, task.SubmissionID)
	if err != nil {
		return pkgerrors.Wrapf(err, pkgerrors.SimilarityCheckFailed, "load submission %s", task.SubmissionID)
	}
	if sub.Status != judgemodel.StatusAccepted || !sub.InContest() || sub.Generation != task.Generation {
		return nil
	}

	others, err := s.submissions.ListAccepted(ctx, repository.AcceptedQuery{
		ProblemID:     sub.ProblemID,
		ContestID:     sub.ContestID,
		Language:      sub.Language,
		Before:        sub.CreatedAt,
		ExcludeUserID: sub.UserID,
		Limit:         s.candidateLimit,
	})
	if err != nil {
		return pkgerrors.Wrap(err, pkgerrors.SimilarityCheckFailed)
	}
	own, err := s.submissions.ListByUserProblem(ctx, sub.UserID, sub.ProblemID, sub.CreatedAt, s.candidateLimit)
	if err != nil {
		return pkgerrors.Wrap(err, pkgerrors.SimilarityCheckFailed)
	}

	self := newFingerprint(Source{Code: sub.Code, Language: sub.Language})
	check := model.PlagiarismCheck{Checked: true}
	for _, c := range others {
		s.compareWith(ctx, sub, self, c, false, &check)
	}
	for _, c := range own {
		if c.ID == sub.ID || c.Language != sub.Language {
			continue
		}
		s.compareWith(ctx, sub, self, c, true, &check)
	}

	sort.Slice(check.SimilarSubmissions, func(i, j int) bool {
		return check.SimilarSubmissions[i].Similarity > check.SimilarSubmissions[j].Similarity
	})
	now := time.Now().UTC()
	check.CheckedAt = &now
	if err := s.submissions.SavePlagiarismCheck(ctx, sub.ID, check); err != nil {
		return pkgerrors.Wrap(err, pkgerrors.SimilarityCheckFailed)
	}
	logger.Info(ctx, "similarity scan finished",
		zap.Int("candidates", len(others)+len(own)),
		zap.Int("reported", len(check.SimilarSubmissions)),
		zap.Float64("score", check.Score),
	)
	return nil
}

func (s *Scanner) compareWith(ctx context.Context, sub *model.Submission, fp *fingerprint, other *model.Submission, selfReuse bool, check *model.PlagiarismCheck) {
	res := s.engine.compare(fp, newFingerprint(Source{Code: other.Code, Language: other.Language}))
	if res.Score < s.thresholds.Report {
		return
	}
	check.SimilarSubmissions = append(check.SimilarSubmissions, model.SimilarSubmission{
		SubmissionID: other.ID,
		UserID:       other.UserID,
		Username:     other.Username,
		Similarity:   res.Score,
		SelfReuse:    selfReuse,
		Confidence:   res.Confidence,
	})
	check.Score = max(check.Score, res.Score)

	flag := s.thresholds.OtherUser
	kind := "cross_user"
	if selfReuse {
		flag = s.thresholds.Self
		kind = "self_reuse"
	}
	if res.Score < flag {
		return
	}
	metrics.SimilarityFlagsTotal.WithLabelValues(kind).Inc()

	ref := model.SimilarSubmission{
		SubmissionID: sub.ID,
		UserID:       sub.UserID,
		Username:     sub.Username,
		Similarity:   res.Score,
		SelfReuse:    selfReuse,
		Confidence:   res.Confidence,
	}
	if err := s.submissions.RaisePlagiarismScore(ctx, other.ID, res.Score, ref); err != nil {
		logger.Warn(ctx, "raise plagiarism score failed", zap.String("compared_id", other.ID), zap.Error(err))
	}
	_ = s.events.Publish(ctx, notify.NewEvent(notify.TypePlagiarismAlert, sub.ContestID, notify.PlagiarismAlert{
		ContestID:            sub.ContestID,
		SubmissionID:         sub.ID,
		ComparedSubmissionID: other.ID,
		Similarity:           res.Score,
		FlaggedUsername:      sub.Username,
		SelfReuse:            selfReuse,
	}))
}
