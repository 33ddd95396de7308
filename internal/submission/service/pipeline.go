package service

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"ojeval/internal/common/metrics"
	"ojeval/internal/common/storage"
	judgemodel "ojeval/internal/judge/model"
	"ojeval/internal/judge/runner"
	"ojeval/internal/judge/verdict"
	"ojeval/internal/notify"
	"ojeval/internal/problem"
	"ojeval/internal/submission/model"
	"ojeval/internal/submission/repository"
	appErr "ojeval/pkg/errors"
	"ojeval/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	defaultMaxOutputBytes = 4096
	defaultReportPrefix   = "reports"
	truncatedSuffix       = "...[truncated]"
	finishAttempts        = 3
)

// ContestHook updates standings after a contest submission reaches a
// terminal state.
type ContestHook interface {
	OnVerdict(ctx context.Context, sub *model.Submission) error
}

// PipelineConfig holds pipeline dependencies and settings.
type PipelineConfig struct {
	Submissions repository.SubmissionRepository
	Problems    problem.Repository
	Runner      *runner.Runner
	Events      notify.Publisher
	Contest     ContestHook
	Dispatcher  *Dispatcher

	// Storage receives full reports. Nil disables archiving.
	Storage         storage.ObjectStorage
	ReportBucket    string
	ReportKeyPrefix string
	MaxOutputBytes  int
	Timeouts        TimeoutConfig
}

// Pipeline evaluates one generation of a submission from pending to a
// terminal state.
type Pipeline struct {
	submissions repository.SubmissionRepository
	problems    problem.Repository
	runner      *runner.Runner
	events      notify.Publisher
	contest     ContestHook
	dispatcher  *Dispatcher

	storage         storage.ObjectStorage
	reportBucket    string
	reportKeyPrefix string
	maxOutputBytes  int
	timeouts        TimeoutConfig
}

// Report is the archived, untruncated record of one run.
type Report struct {
	SubmissionID string                      `json:"submissionId"`
	Generation   int64                       `json:"generation"`
	Adapter      string                      `json:"adapter"`
	Status       judgemodel.SubmissionStatus `json:"status"`
	Score        int                         `json:"score"`
	Stats        judgemodel.TestCaseStats    `json:"testCaseStats"`
	Message      string                      `json:"statusMessage"`
	Results      []judgemodel.TestResult     `json:"testResults"`
	JudgedAt     time.Time                   `json:"judgedAt"`
}

func NewPipeline(cfg PipelineConfig) (*Pipeline, error) {
	if cfg.Submissions == nil {
		return nil, fmt.Errorf("submission repository is required")
	}
	if cfg.Problems == nil {
		return nil, fmt.Errorf("problem repository is required")
	}
	if cfg.Runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	if cfg.Storage != nil && cfg.ReportBucket == "" {
		return nil, fmt.Errorf("report bucket is required")
	}
	if cfg.Events == nil {
		cfg.Events = notify.Discard{}
	}
	if cfg.ReportKeyPrefix == "" {
		cfg.ReportKeyPrefix = defaultReportPrefix
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = defaultMaxOutputBytes
	}
	return &Pipeline{
		submissions:     cfg.Submissions,
		problems:        cfg.Problems,
		runner:          cfg.Runner,
		events:          cfg.Events,
		contest:         cfg.Contest,
		dispatcher:      cfg.Dispatcher,
		storage:         cfg.Storage,
		reportBucket:    cfg.ReportBucket,
		reportKeyPrefix: cfg.ReportKeyPrefix,
		maxOutputBytes:  cfg.MaxOutputBytes,
		timeouts:        cfg.Timeouts,
	}, nil
}

// Evaluate runs task to completion. Tasks for a superseded generation, or
// for a run that already ended, are dropped without error. A run left in
// running by a failed attempt is judged again. A returned error means the
// task may be redelivered.
func (p *Pipeline) Evaluate(ctx context.Context, task model.Task) error {
	ctx = logger.WithSubmission(ctx, task.SubmissionID)

	sub, err := p.get(ctx, task.SubmissionID)
	if err != nil {
		if appErr.Is(err, appErr.SubmissionNotFound) {
			logger.Warn(ctx, "dropping task for missing submission")
			return nil
		}
		return err
	}
	if sub.Generation != task.Generation || sub.Status.Terminal() {
		p.dropStale(ctx, task, sub)
		return nil
	}

	ctxDB := withTimeout(ctx, p.timeouts.DB)
	started, err := p.submissions.MarkRunning(ctxDB.ctx, sub.ID, task.Generation)
	ctxDB.cancel()
	if err != nil {
		return err
	}
	if !started {
		p.dropStale(ctx, task, sub)
		return nil
	}
	sub.Status = judgemodel.StatusRunning
	publishSubmission(ctx, p.events, sub)

	out := p.judge(ctx, sub)
	if ctx.Err() != nil {
		// The worker is shutting down or the task was superseded. The run
		// still has to end, so it ends as a system error on a fresh context.
		result, v := verdict.SystemError(appErr.New(appErr.EvaluationFailed).WithMessage("evaluation interrupted"))
		out = outcomeOf(v, []judgemodel.TestResult{result})
		ctx = context.WithoutCancel(ctx)
	}

	finished, err := p.finish(ctx, sub.ID, task.Generation, out)
	if err != nil {
		logger.Error(ctx, "store outcome failed", zap.Error(err))
		return err
	}
	if !finished {
		p.dropStale(ctx, task, sub)
		return nil
	}
	metrics.EvaluationsTotal.WithLabelValues(string(out.Status)).Inc()

	applyOutcome(sub, out)
	publishSubmission(ctx, p.events, sub)
	logger.Info(ctx, "submission judged",
		zap.Int64("generation", sub.Generation),
		zap.String("status", string(sub.Status)),
		zap.Int("score", sub.Score),
	)

	p.afterVerdict(ctx, sub)
	return nil
}

func (p *Pipeline) get(ctx context.Context, id string) (*model.Submission, error) {
	ctxDB := withTimeout(ctx, p.timeouts.DB)
	defer ctxDB.cancel()
	return p.submissions.Get(ctxDB.ctx, id)
}

// judge produces the outcome of one run. Any failure outside per-test
// handling, including a panic, becomes a system error.
func (p *Pipeline) judge(ctx context.Context, sub *model.Submission) (out model.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, "evaluation panicked", zap.Any("panic", r), zap.Stack("stack"))
			out = p.systemError(ctx, sub, appErr.Newf(appErr.EvaluationFailed, "evaluation panicked: %v", r))
		}
	}()

	ctxDB := withTimeout(ctx, p.timeouts.DB)
	prob, err := p.problems.Get(ctxDB.ctx, sub.ProblemID)
	ctxDB.cancel()
	if err != nil {
		return p.systemError(ctx, sub, err)
	}

	results, err := p.runner.Run(ctx, runner.Job{
		SubmissionID: sub.ID,
		Code:         sub.Code,
		Language:     sub.Language,
		TestCases:    prob.TestCases,
		Limits:       prob.Limits,
	})
	if err != nil {
		return p.systemError(ctx, sub, err)
	}

	v := verdict.Resolve(results, prob.VisibleCount())
	out = outcomeOf(v, results)
	p.archive(ctx, sub, out)
	out.TestResults = truncateResults(out.TestResults, p.maxOutputBytes)
	return out
}

func (p *Pipeline) systemError(ctx context.Context, sub *model.Submission, err error) model.Outcome {
	logger.Error(ctx, "evaluation failed", zap.Error(err))
	result, v := verdict.SystemError(err)
	out := outcomeOf(v, []judgemodel.TestResult{result})
	p.archive(ctx, sub, out)
	return out
}

func (p *Pipeline) finish(ctx context.Context, id string, generation int64, out model.Outcome) (bool, error) {
	var lastErr error
	for attempt := 0; attempt < finishAttempts; attempt++ {
		ctxDB := withTimeout(ctx, p.timeouts.DB)
		ok, err := p.submissions.Finish(ctxDB.ctx, id, generation, out)
		ctxDB.cancel()
		if err == nil {
			return ok, nil
		}
		lastErr = err
		logger.Warn(ctx, "finish submission failed", zap.Int("attempt", attempt+1), zap.Error(err))
		select {
		case <-ctx.Done():
			return false, lastErr
		case <-time.After(time.Duration(attempt+1) * 100 * time.Millisecond):
		}
	}
	return false, lastErr
}

func (p *Pipeline) archive(ctx context.Context, sub *model.Submission, out model.Outcome) {
	if p.storage == nil {
		return
	}
	report := Report{
		SubmissionID: sub.ID,
		Generation:   sub.Generation,
		Adapter:      p.runner.Adapter().Name(),
		Status:       out.Status,
		Score:        out.Score,
		Stats:        out.TestCaseStats,
		Message:      out.StatusMessage,
		Results:      out.TestResults,
		JudgedAt:     out.JudgedAt,
	}
	ctxStorage := withTimeout(ctx, p.timeouts.Storage)
	defer ctxStorage.cancel()
	key := ReportKey(p.reportKeyPrefix, sub.ID, sub.Generation)
	if err := storage.PutCompressedJSON(ctxStorage.ctx, p.storage, p.reportBucket, key, report); err != nil {
		logger.Warn(ctx, "archive report failed", zap.String("key", key), zap.Error(err))
	}
}

// afterVerdict runs the contest hook and queues the similarity scan. Neither
// can change the stored verdict.
func (p *Pipeline) afterVerdict(ctx context.Context, sub *model.Submission) {
	if !sub.InContest() {
		return
	}
	if p.contest != nil {
		if err := p.contest.OnVerdict(ctx, sub); err != nil {
			logger.Error(ctx, "contest update failed", zap.String("contest_id", sub.ContestID), zap.Error(err))
		}
	}
	if sub.Status == judgemodel.StatusAccepted && p.dispatcher != nil {
		ctxMQ := withTimeout(ctx, p.timeouts.MQ)
		defer ctxMQ.cancel()
		if err := p.dispatcher.Similarity(ctxMQ.ctx, model.Task{SubmissionID: sub.ID, Generation: sub.Generation}); err != nil {
			logger.Warn(ctx, "queue similarity scan failed", zap.Error(err))
		}
	}
}

func (p *Pipeline) dropStale(ctx context.Context, task model.Task, sub *model.Submission) {
	metrics.StaleTasksTotal.Inc()
	logger.Info(ctx, "dropping stale task",
		zap.Int64("task_generation", task.Generation),
		zap.Int64("generation", sub.Generation),
		zap.String("status", string(sub.Status)),
	)
}

// ReportKey is the object key of an archived report.
func ReportKey(prefix, submissionID string, generation int64) string {
	if prefix == "" {
		prefix = defaultReportPrefix
	}
	return fmt.Sprintf("%s/%s/%d.json.zst", prefix, submissionID, generation)
}

func outcomeOf(v verdict.Verdict, results []judgemodel.TestResult) model.Outcome {
	return model.Outcome{
		Status:        v.Status,
		TestResults:   results,
		TestCaseStats: v.Stats,
		StatusMessage: v.Message,
		Score:         v.Score,
		JudgedAt:      time.Now().UTC(),
	}
}

func applyOutcome(sub *model.Submission, out model.Outcome) {
	judgedAt := out.JudgedAt
	sub.Status = out.Status
	sub.TestResults = out.TestResults
	sub.TestCaseStats = out.TestCaseStats
	sub.StatusMessage = out.StatusMessage
	sub.Score = out.Score
	sub.JudgedAt = &judgedAt
	sub.UpdatedAt = judgedAt
}

func truncateResults(results []judgemodel.TestResult, limit int) []judgemodel.TestResult {
	out := make([]judgemodel.TestResult, len(results))
	for i, r := range results {
		r.Input = truncate(r.Input, limit)
		r.ExpectedOutput = truncate(r.ExpectedOutput, limit)
		r.ActualOutput = truncate(r.ActualOutput, limit)
		r.ErrorMessage = truncate(r.ErrorMessage, limit)
		out[i] = r
	}
	return out
}

func truncate(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + truncatedSuffix
}
