package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"ojeval/internal/common/cache"
	"ojeval/internal/common/db"
	commonmw "ojeval/internal/common/http/middleware"
	"ojeval/internal/common/metrics"
	"ojeval/internal/common/mq"
	"ojeval/internal/common/storage"
	"ojeval/internal/contest"
	contestcontroller "ojeval/internal/contest/controller"
	"ojeval/internal/judge/executor"
	"ojeval/internal/judge/runner"
	"ojeval/internal/notify"
	"ojeval/internal/problem"
	"ojeval/internal/similarity"
	submissioncontroller "ojeval/internal/submission/controller"
	"ojeval/internal/submission/repository"
	"ojeval/internal/submission/service"
	"ojeval/pkg/utils/logger"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const defaultConfigPath = "configs/judge_service.yaml"

// stores groups the persistence backends picked at startup.
type stores struct {
	submissions repository.SubmissionRepository
	problems    problem.Repository
	contests    contest.Repository
	close       func()
}

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	if err := run(appCfg); err != nil {
		logger.Error(context.Background(), "judge service stopped", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(appCfg *AppConfig) error {
	ctx := context.Background()
	metrics.MustRegister(prometheus.DefaultRegisterer)

	redisCache, err := cache.NewRedisCache(appCfg.Redis)
	if err != nil {
		return fmt.Errorf("init redis failed: %w", err)
	}
	defer func() {
		_ = redisCache.Close()
	}()

	st, err := openStores(appCfg, redisCache)
	if err != nil {
		return err
	}
	defer st.close()

	objStorage, err := openStorage(ctx, appCfg)
	if err != nil {
		return err
	}

	queue, err := openQueue(appCfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = queue.Close()
	}()

	events := notify.Fanout{notify.NewMQPublisher(queue, appCfg.Kafka.EventTopic)}
	if appCfg.NATS.URL != "" {
		natsProducer, err := mq.NewNATSProducer(appCfg.NATS)
		if err != nil {
			return fmt.Errorf("init nats failed: %w", err)
		}
		defer func() {
			_ = natsProducer.Close()
		}()
		events = append(events, notify.NewMQPublisher(natsProducer, appCfg.Kafka.EventTopic))
	}

	adapter, err := executor.New(appCfg.Executor)
	if err != nil {
		return fmt.Errorf("init executor failed: %w", err)
	}
	if closer, ok := adapter.(io.Closer); ok {
		defer func() {
			_ = closer.Close()
		}()
	}
	testRunner, err := runner.New(adapter, appCfg.Runner)
	if err != nil {
		return fmt.Errorf("init runner failed: %w", err)
	}

	dispatcher := service.NewDispatcher(queue, appCfg.Kafka.Topics)
	contestSvc := contest.NewService(st.contests, redisCache, events, appCfg.Contest)

	pipeline, err := service.NewPipeline(service.PipelineConfig{
		Submissions:     st.submissions,
		Problems:        st.problems,
		Runner:          testRunner,
		Events:          events,
		Contest:         contestSvc,
		Dispatcher:      dispatcher,
		Storage:         objStorage,
		ReportBucket:    appCfg.Submission.ReportBucket,
		ReportKeyPrefix: appCfg.Submission.ReportKeyPrefix,
		MaxOutputBytes:  appCfg.Submission.MaxOutputBytes,
		Timeouts:        appCfg.Submission.Timeouts,
	})
	if err != nil {
		return fmt.Errorf("init pipeline failed: %w", err)
	}
	worker := service.NewWorker(pipeline, dispatcher.Topics(), appCfg.Submission.Worker)
	defer worker.Close()
	if err := worker.Subscribe(ctx, queue); err != nil {
		return fmt.Errorf("subscribe evaluation topics failed: %w", err)
	}

	profile, err := similarity.NewProfile(appCfg.Similarity.ProfileConfig)
	if err != nil {
		return fmt.Errorf("init similarity profile failed: %w", err)
	}
	scanner, err := similarity.NewScanner(similarity.ScannerConfig{
		Submissions:    st.submissions,
		Engine:         similarity.NewEngine(profile),
		Events:         events,
		Thresholds:     appCfg.Similarity.Thresholds,
		CandidateLimit: appCfg.Similarity.CandidateLimit,
		Timeout:        appCfg.Similarity.Timeout,
	})
	if err != nil {
		return fmt.Errorf("init similarity scanner failed: %w", err)
	}
	if err := scanner.Subscribe(ctx, queue, dispatcher.Topics().Similarity, appCfg.Similarity.ConsumerGroup); err != nil {
		return fmt.Errorf("subscribe similarity topic failed: %w", err)
	}

	submissionSvc, err := service.NewSubmissionService(service.Config{
		Submissions:     st.submissions,
		Problems:        st.problems,
		Storage:         objStorage,
		Cache:           redisCache,
		Dispatcher:      dispatcher,
		Events:          events,
		SourceBucket:    appCfg.Submission.SourceBucket,
		SourceKeyPrefix: appCfg.Submission.SourceKeyPrefix,
		ReportBucket:    appCfg.Submission.ReportBucket,
		ReportKeyPrefix: appCfg.Submission.ReportKeyPrefix,
		MaxCodeBytes:    appCfg.Submission.MaxCodeBytes,
		IdempotencyTTL:  appCfg.Submission.IdempotencyTTL,
		RateLimit:       appCfg.Submission.RateLimit,
		Timeouts:        appCfg.Submission.Timeouts,
	})
	if err != nil {
		return fmt.Errorf("init submission service failed: %w", err)
	}

	if err := queue.Start(); err != nil {
		return fmt.Errorf("start consumers failed: %w", err)
	}
	defer stopConsumers(worker, queue)

	auth := commonmw.NewAuthenticator(appCfg.Auth.Secret, appCfg.Auth.Issuer)
	httpServer := buildHTTPServer(appCfg.Server, auth, submissionSvc, contestSvc)
	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("init http listener failed: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "judge http server started",
			zap.String("addr", appCfg.Server.Addr),
			zap.String("dispatch", appCfg.Dispatch.Mode),
			zap.String("executor", adapter.Name()),
			zap.Strings("similarityMetrics", metricNames(profile)),
		)
		errCh <- httpServer.Serve(listener)
	}()

	shutdownCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx, "http server stopped", zap.Error(err))
		}
	case <-shutdownCtx.Done():
		logger.Info(ctx, "shutdown signal received")
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, defaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(timeoutCtx); err != nil {
		logger.Error(ctx, "http server shutdown failed", zap.Error(err))
	}
	return nil
}

// stopConsumers interrupts in-flight runs so they record system_error, then
// waits for the consumers to return.
func stopConsumers(worker interface{ Close() }, queue interface{ Stop() error }) {
	worker.Close()
	_ = queue.Stop()
}

func openStores(appCfg *AppConfig, redisCache *cache.RedisCache) (*stores, error) {
	if appCfg.Database.DSN == "" {
		logger.Warn(context.Background(), "database dsn is empty, using in-memory repositories")
		return &stores{
			submissions: repository.NewMemoryRepository(),
			problems:    problem.NewStaticRepository(),
			contests:    contest.NewMemoryRepository(),
			close:       func() {},
		}, nil
	}
	mysqlDB, err := db.NewMySQLWithConfig(&appCfg.Database)
	if err != nil {
		return nil, fmt.Errorf("init database failed: %w", err)
	}
	return &stores{
		submissions: repository.NewSubmissionRepository(mysqlDB, redisCache),
		problems:    problem.NewRepository(mysqlDB, redisCache),
		contests:    contest.NewMySQLRepository(mysqlDB),
		close: func() {
			_ = mysqlDB.Close()
		},
	}, nil
}

func openStorage(ctx context.Context, appCfg *AppConfig) (storage.ObjectStorage, error) {
	if appCfg.MinIO.Endpoint == "" {
		logger.Warn(ctx, "minio endpoint is empty, keeping sources and reports in memory")
		return storage.NewMemoryStorage(), nil
	}
	objStorage, err := storage.NewMinIOStorage(appCfg.MinIO)
	if err != nil {
		return nil, fmt.Errorf("init minio failed: %w", err)
	}
	for _, bucket := range []string{appCfg.Submission.SourceBucket, appCfg.Submission.ReportBucket} {
		if err := objStorage.EnsureBucket(ctx, bucket); err != nil {
			return nil, fmt.Errorf("ensure bucket %s failed: %w", bucket, err)
		}
	}
	return objStorage, nil
}

func openQueue(appCfg *AppConfig) (mq.MessageQueue, error) {
	if appCfg.Dispatch.Mode == dispatchLocal {
		return mq.NewMemoryQueue(), nil
	}
	queue, err := mq.NewKafkaQueue(appCfg.Kafka.toMQConfig())
	if err != nil {
		return nil, fmt.Errorf("init kafka failed: %w", err)
	}
	return queue, nil
}

func buildHTTPServer(cfg ServerConfig, auth *commonmw.Authenticator, submissions *service.SubmissionService, contests *contest.Service) *http.Server {
	if cfg.Release {
		gin.SetMode(gin.ReleaseMode)
	}
	zl := logger.GetLogger().Zap()
	router := gin.New()
	router.Use(commonmw.TraceContextMiddleware())
	router.Use(ginzap.Ginzap(zl, "", true))
	router.Use(ginzap.RecoveryWithZap(zl, true))

	router.GET("/healthz", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1")
	api.Use(commonmw.AuthMiddleware(auth))
	submissioncontroller.NewSubmissionController(submissions).Register(api)
	contestcontroller.NewContestController(contests).Register(api)

	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}

func metricNames(p similarity.Profile) []string {
	names := make([]string, 0, len(p.Metrics()))
	for _, m := range p.Metrics() {
		names = append(names, string(m))
	}
	return names
}
