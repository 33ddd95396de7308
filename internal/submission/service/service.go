// Package service owns the submission lifecycle: intake, dispatch of
// evaluation tasks, the evaluation pipeline and reruns.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ojeval/internal/common/cache"
	"ojeval/internal/common/storage"
	judgemodel "ojeval/internal/judge/model"
	"ojeval/internal/notify"
	"ojeval/internal/problem"
	"ojeval/internal/submission/model"
	"ojeval/internal/submission/repository"
	appErr "ojeval/pkg/errors"
	"ojeval/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	idempotencyKeyPrefix  = "submit:idempotency:"
	rateUserKeyPrefix     = "submit:rate:user:"
	defaultSourcePrefix   = "sources"
	defaultIdempotencyTTL = 10 * time.Minute
	processingMarker      = "processing"
)

// RateLimitConfig throttles submissions per user within Window.
type RateLimitConfig struct {
	UserMax int           `yaml:"userMax"`
	Window  time.Duration `yaml:"window"`
}

// TimeoutConfig bounds calls to external dependencies.
type TimeoutConfig struct {
	DB      time.Duration `yaml:"db"`
	Cache   time.Duration `yaml:"cache"`
	MQ      time.Duration `yaml:"mq"`
	Storage time.Duration `yaml:"storage"`
}

// Config holds submission service dependencies and settings.
type Config struct {
	Submissions repository.SubmissionRepository
	Problems    problem.Repository
	Storage     storage.ObjectStorage
	Cache       cache.Cache
	Dispatcher  *Dispatcher
	Events      notify.Publisher

	SourceBucket    string
	SourceKeyPrefix string
	// ReportBucket defaults to SourceBucket.
	ReportBucket    string
	ReportKeyPrefix string
	MaxCodeBytes    int
	IdempotencyTTL  time.Duration
	RateLimit       RateLimitConfig
	Timeouts        TimeoutConfig
}

// SubmissionService handles intake, reads and reruns.
type SubmissionService struct {
	submissions repository.SubmissionRepository
	problems    problem.Repository
	storage     storage.ObjectStorage
	cache       cache.Cache
	dispatcher  *Dispatcher
	events      notify.Publisher

	sourceBucket    string
	sourceKeyPrefix string
	reportBucket    string
	reportKeyPrefix string
	maxCodeBytes    int
	idempotencyTTL  time.Duration
	rateLimit       RateLimitConfig
	timeouts        TimeoutConfig
}

// CreateInput describes a new submission.
type CreateInput struct {
	UserID         string
	Username       string
	ProblemID      string
	ContestID      string
	Language       string
	Code           string
	IdempotencyKey string
}

// NewSubmissionService validates cfg and builds the service.
func NewSubmissionService(cfg Config) (*SubmissionService, error) {
	if cfg.Submissions == nil {
		return nil, fmt.Errorf("submission repository is required")
	}
	if cfg.Problems == nil {
		return nil, fmt.Errorf("problem repository is required")
	}
	if cfg.Storage == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if cfg.Cache == nil {
		return nil, fmt.Errorf("cache is required")
	}
	if cfg.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if cfg.SourceBucket == "" {
		return nil, fmt.Errorf("source bucket is required")
	}
	if cfg.SourceKeyPrefix == "" {
		cfg.SourceKeyPrefix = defaultSourcePrefix
	}
	if cfg.ReportBucket == "" {
		cfg.ReportBucket = cfg.SourceBucket
	}
	if cfg.ReportKeyPrefix == "" {
		cfg.ReportKeyPrefix = defaultReportPrefix
	}
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = defaultIdempotencyTTL
	}
	if cfg.Events == nil {
		cfg.Events = notify.Discard{}
	}
	return &SubmissionService{
		submissions:     cfg.Submissions,
		problems:        cfg.Problems,
		storage:         cfg.Storage,
		cache:           cfg.Cache,
		dispatcher:      cfg.Dispatcher,
		events:          cfg.Events,
		sourceBucket:    cfg.SourceBucket,
		sourceKeyPrefix: cfg.SourceKeyPrefix,
		reportBucket:    cfg.ReportBucket,
		reportKeyPrefix: cfg.ReportKeyPrefix,
		maxCodeBytes:    cfg.MaxCodeBytes,
		idempotencyTTL:  cfg.IdempotencyTTL,
		rateLimit:       cfg.RateLimit,
		timeouts:        cfg.Timeouts,
	}, nil
}

// Create persists a pending submission and dispatches its first evaluation.
// It returns as soon as the task is queued.
func (s *SubmissionService) Create(ctx context.Context, input CreateInput) (model.View, error) {
	lang, err := s.validateInput(input)
	if err != nil {
		return model.View{}, err
	}
	if err := s.checkRateLimit(ctx, input.UserID); err != nil {
		return model.View{}, err
	}
	if _, err := s.loadProblem(ctx, input.ProblemID); err != nil {
		return model.View{}, err
	}

	idemKey := idempotencyCacheKey(input.UserID, input.IdempotencyKey)
	acquired, existingID, err := s.acquireIdempotency(ctx, idemKey)
	if err != nil {
		return model.View{}, err
	}
	if !acquired && existingID != "" {
		existing, err := s.authorized(ctx, existingID, input.UserID, false)
		if err != nil {
			return model.View{}, err
		}
		return existing.ToView(false), nil
	}

	now := time.Now().UTC()
	sub := &model.Submission{
		ID:         uuid.NewString(),
		UserID:     input.UserID,
		Username:   input.Username,
		ProblemID:  input.ProblemID,
		ContestID:  strings.TrimSpace(input.ContestID),
		Code:       input.Code,
		Language:   lang,
		Status:     judgemodel.StatusPending,
		Generation: 1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.uploadSource(ctx, sub); err != nil {
		s.releaseIdempotency(ctx, idemKey, acquired)
		return model.View{}, err
	}
	if err := s.createSubmission(ctx, sub); err != nil {
		s.releaseIdempotency(ctx, idemKey, acquired)
		return model.View{}, err
	}
	s.finalizeIdempotency(ctx, idemKey, sub.ID, acquired)
	s.publishUpdated(ctx, sub)

	if err := s.dispatch(ctx, model.Task{SubmissionID: sub.ID, Generation: sub.Generation}); err != nil {
		// The row exists in pending; a rerun or redelivery can pick it up.
		return model.View{}, err
	}
	logger.Info(ctx, "submission created",
		zap.String("submission_id", sub.ID),
		zap.String("problem_id", sub.ProblemID),
		zap.String("language", string(sub.Language)),
	)
	return sub.ToView(false), nil
}

// Get returns the submission as the viewer may see it. Only the owner and
// staff can read a submission.
func (s *SubmissionService) Get(ctx context.Context, id, viewerID string, staff bool) (model.View, error) {
	sub, err := s.authorized(ctx, id, viewerID, staff)
	if err != nil {
		return model.View{}, err
	}
	return sub.ToView(staff), nil
}

// Status returns the lightweight polling snapshot.
func (s *SubmissionService) Status(ctx context.Context, id, viewerID string, staff bool) (model.StatusSnapshot, error) {
	sub, err := s.authorized(ctx, id, viewerID, staff)
	if err != nil {
		return model.StatusSnapshot{}, err
	}
	return sub.Snapshot(), nil
}

// Report reads the archived evaluation of one generation, the current one
// when generation is zero. Outside staff, hidden case bodies are withheld.
func (s *SubmissionService) Report(ctx context.Context, id, viewerID string, staff bool, generation int64) (Report, error) {
	sub, err := s.authorized(ctx, id, viewerID, staff)
	if err != nil {
		return Report{}, err
	}
	if generation <= 0 {
		generation = sub.Generation
	}
	if generation > sub.Generation || (generation == sub.Generation && !sub.Status.Terminal()) {
		return Report{}, appErr.Newf(appErr.ReportNotFound, "submission %s has no report for generation %d", id, generation)
	}

	ctxStorage := withTimeout(ctx, s.timeouts.Storage)
	defer ctxStorage.cancel()
	var report Report
	key := ReportKey(s.reportKeyPrefix, id, generation)
	if err := storage.GetCompressedJSON(ctxStorage.ctx, s.storage, s.reportBucket, key, &report); err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return Report{}, appErr.Newf(appErr.ReportNotFound, "submission %s has no report for generation %d", id, generation)
		}
		return Report{}, appErr.Wrapf(err, appErr.StorageError, "read report %s", key)
	}
	if !staff {
		for i := range report.Results {
			report.Results[i] = report.Results[i].Withheld()
		}
	}
	return report, nil
}

// Rerun reopens a terminal submission and dispatches a new generation.
func (s *SubmissionService) Rerun(ctx context.Context, id, viewerID string, staff bool) (model.StatusSnapshot, error) {
	if _, err := s.authorized(ctx, id, viewerID, staff); err != nil {
		return model.StatusSnapshot{}, err
	}

	ctxDB := withTimeout(ctx, s.timeouts.DB)
	generation, err := s.submissions.Reopen(ctxDB.ctx, id)
	ctxDB.cancel()
	if err != nil {
		return model.StatusSnapshot{}, err
	}

	sub, err := s.getSubmission(ctx, id)
	if err != nil {
		return model.StatusSnapshot{}, err
	}
	s.publishUpdated(ctx, sub)
	if err := s.dispatch(ctx, model.Task{SubmissionID: id, Generation: generation, Rerun: true}); err != nil {
		return model.StatusSnapshot{}, err
	}
	logger.Info(ctx, "submission reopened",
		zap.String("submission_id", id),
		zap.Int64("generation", generation),
		zap.String("requested_by", viewerID),
	)
	return sub.Snapshot(), nil
}

func (s *SubmissionService) authorized(ctx context.Context, id, viewerID string, staff bool) (*model.Submission, error) {
	if strings.TrimSpace(id) == "" {
		return nil, appErr.ValidationError("submission_id", "required")
	}
	sub, err := s.getSubmission(ctx, id)
	if err != nil {
		return nil, err
	}
	if !staff && sub.UserID != viewerID {
		return nil, appErr.New(appErr.PermissionDenied).WithMessage("submission belongs to another user")
	}
	return sub, nil
}

func (s *SubmissionService) validateInput(input CreateInput) (judgemodel.Language, error) {
	if strings.TrimSpace(input.UserID) == "" {
		return "", appErr.ValidationError("user_id", "required")
	}
	if strings.TrimSpace(input.ProblemID) == "" {
		return "", appErr.ValidationError("problem_id", "required")
	}
	if strings.TrimSpace(input.Code) == "" {
		return "", appErr.ValidationError("code", "required")
	}
	if s.maxCodeBytes > 0 && len(input.Code) > s.maxCodeBytes {
		return "", appErr.New(appErr.CodeTooLarge).WithMessage("source code too large")
	}
	return judgemodel.ParseLanguage(input.Language)
}

func (s *SubmissionService) loadProblem(ctx context.Context, problemID string) (*problem.Problem, error) {
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	return s.problems.Get(ctxDB.ctx, problemID)
}

func (s *SubmissionService) getSubmission(ctx context.Context, id string) (*model.Submission, error) {
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	return s.submissions.Get(ctxDB.ctx, id)
}

// idempotencyCacheKey scopes a client key to its user; "" disables dedup.
func idempotencyCacheKey(userID, key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return ""
	}
	return idempotencyKeyPrefix + userID + ":" + key
}

func (s *SubmissionService) acquireIdempotency(ctx context.Context, cacheKey string) (bool, string, error) {
	if cacheKey == "" {
		return true, "", nil
	}
	ctxCache := withTimeout(ctx, s.timeouts.Cache)
	defer ctxCache.cancel()

	ok, err := s.cache.SetNX(ctxCache.ctx, cacheKey, processingMarker, s.idempotencyTTL)
	if err != nil {
		return false, "", appErr.Wrapf(err, appErr.CacheError, "reserve idempotency key failed")
	}
	if ok {
		return true, "", nil
	}
	existing, err := s.cache.Get(ctxCache.ctx, cacheKey)
	if err != nil {
		return false, "", appErr.Wrapf(err, appErr.CacheError, "read idempotency key failed")
	}
	if existing != "" && existing != processingMarker {
		return false, existing, nil
	}
	return false, "", appErr.New(appErr.TooManyRequests).WithMessage("request is processing")
}

func (s *SubmissionService) finalizeIdempotency(ctx context.Context, cacheKey, submissionID string, acquired bool) {
	if !acquired || cacheKey == "" {
		return
	}
	ctxCache := withTimeout(ctx, s.timeouts.Cache)
	defer ctxCache.cancel()
	if err := s.cache.Set(ctxCache.ctx, cacheKey, submissionID, s.idempotencyTTL); err != nil {
		logger.Warn(ctx, "update idempotency key failed", zap.Error(err))
	}
}

func (s *SubmissionService) releaseIdempotency(ctx context.Context, cacheKey string, acquired bool) {
	if !acquired || cacheKey == "" {
		return
	}
	ctxCache := withTimeout(ctx, s.timeouts.Cache)
	defer ctxCache.cancel()
	if err := s.cache.Del(ctxCache.ctx, cacheKey); err != nil {
		logger.Warn(ctx, "release idempotency key failed", zap.Error(err))
	}
}

func (s *SubmissionService) checkRateLimit(ctx context.Context, userID string) error {
	if s.rateLimit.Window <= 0 || s.rateLimit.UserMax <= 0 {
		return nil
	}
	ctxCache := withTimeout(ctx, s.timeouts.Cache)
	defer ctxCache.cancel()

	key := rateUserKeyPrefix + userID
	count, err := s.cache.IncrWindow(ctxCache.ctx, key, s.rateLimit.Window)
	if err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "rate limit check failed")
	}
	if int(count) > s.rateLimit.UserMax {
		return appErr.New(appErr.SubmitTooFrequently).WithMessage("submit too frequently")
	}
	return nil
}

func (s *SubmissionService) uploadSource(ctx context.Context, sub *model.Submission) error {
	reader := strings.NewReader(sub.Code)
	ctxStorage := withTimeout(ctx, s.timeouts.Storage)
	defer ctxStorage.cancel()
	key := s.sourceKey(sub)
	if err := s.storage.PutObject(ctxStorage.ctx, s.sourceBucket, key, reader, reader.Size(), "text/plain; charset=utf-8"); err != nil {
		return appErr.Wrapf(err, appErr.SubmissionCreateFailed, "upload source failed")
	}
	return nil
}

func (s *SubmissionService) createSubmission(ctx context.Context, sub *model.Submission) error {
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	if err := s.submissions.Create(ctxDB.ctx, sub); err != nil {
		return appErr.Wrapf(err, appErr.SubmissionCreateFailed, "create submission failed")
	}
	return nil
}

func (s *SubmissionService) dispatch(ctx context.Context, task model.Task) error {
	ctxMQ := withTimeout(ctx, s.timeouts.MQ)
	defer ctxMQ.cancel()
	return s.dispatcher.Evaluate(ctxMQ.ctx, task)
}

func (s *SubmissionService) publishUpdated(ctx context.Context, sub *model.Submission) {
	publishSubmission(ctx, s.events, sub)
}

func (s *SubmissionService) sourceKey(sub *model.Submission) string {
	return fmt.Sprintf("%s/%s.%s", s.sourceKeyPrefix, sub.ID, sourceExtension(sub.Language))
}

func sourceExtension(lang judgemodel.Language) string {
	switch lang {
	case judgemodel.LanguagePython:
		return "py"
	case judgemodel.LanguageJavaScript:
		return "js"
	case judgemodel.LanguageJava:
		return "java"
	case judgemodel.LanguageCPP:
		return "cpp"
	case judgemodel.LanguageC:
		return "c"
	}
	return "txt"
}

// publishSubmission broadcasts the code-free view of sub.
func publishSubmission(ctx context.Context, events notify.Publisher, sub *model.Submission) {
	event := notify.NewEvent(notify.TypeSubmissionUpdated, sub.ID, sub.ToView(false))
	if err := events.Publish(ctx, event); err != nil {
		logger.Warn(ctx, "publish submission event failed", zap.String("submission_id", sub.ID), zap.Error(err))
	}
}

type timeoutCtx struct {
	ctx    context.Context
	cancel context.CancelFunc
}

func withTimeout(ctx context.Context, timeout time.Duration) timeoutCtx {
	if timeout <= 0 {
		return timeoutCtx{ctx: ctx, cancel: func() {}}
	}
	ctxTimeout, cancel := context.WithTimeout(ctx, timeout)
	return timeoutCtx{ctx: ctxTimeout, cancel: cancel}
}
