package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"tutorexec/internal/app/executor"
	"tutorexec/internal/app/producer"
	"tutorexec/internal/domain/execution"
	kafkainfra "tutorexec/internal/infra/kafka"
	"tutorexec/internal/ports"
	"tutorexec/internal/runtime/docker"
	"tutorexec/internal/runtime/native"
	"tutorexec/internal/session"
	"tutorexec/internal/verdict"
	"tutorexec/internal/workspace"
)

func main() {
	cfg, err := loadAppConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(2)
	}

	logger := newLogger(cfg.LogLevel, cfg.LogFormat, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("worker stopped")
	}
}

func run(ctx context.Context, cfg appConfig, logger zerolog.Logger) error {
	registry, err := cfg.registry()
	if err != nil {
		return fmt.Errorf("language profiles: %w", err)
	}

	backend, err := newBackend(cfg, logger)
	if err != nil {
		return err
	}

	workspaces, err := workspace.NewManager(cfg.workspaceConfig(), logger)
	if err != nil {
		_ = backend.Close()
		return err
	}

	engine, err := session.NewEngine(backend, workspaces, verdict.Heuristic{}, cfg.sessionConfig(), logger)
	if err != nil {
		_ = backend.Close()
		return err
	}

	service, err := executor.NewService(executor.Config{
		Profiles: registry,
		Engine:   engine,
		Store:    session.NewStore(cfg.SessionRetention, logger),
		Backend:  backend,
		Logger:   logger,
	})
	if err != nil {
		_ = backend.Close()
		return err
	}
	defer func() {
		if cerr := service.Close(); cerr != nil {
			logger.Warn().Err(cerr).Msg("failed to close backend")
		}
	}()

	go service.RunReaper(ctx, defaultReapInterval)

	if cfg.MetricsAddr != "" {
		srv := startMetricsServer(cfg.MetricsAddr, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	jobs, closeJobs, err := newProducer(cfg, logger)
	if err != nil {
		return err
	}
	defer closeJobs()

	publisher, err := newPublisher(cfg)
	if err != nil {
		return err
	}
	if publisher != nil {
		defer func() {
			if cerr := publisher.Close(); cerr != nil {
				logger.Warn().Err(cerr).Msg("failed to close report publisher")
			}
		}()
	}

	logger.Info().
		Str("backend", backend.Name()).
		Int("max_parallel", cfg.MaxParallel).
		Int("max_jobs", cfg.MaxJobs).
		Msg("worker started")

	return service.ExecuteFromProducer(ctx, jobs, cfg.MaxJobs, cfg.MaxParallel, func(report execution.Report) {
		logReport(logger, report)
		if publisher == nil {
			return
		}
		if err := publisher.PublishReport(ctx, report); err != nil {
			logger.Error().Err(err).Str("job", report.Job.ID).Msg("failed to publish report")
		}
	})
}

func newBackend(cfg appConfig, logger zerolog.Logger) (ports.Backend, error) {
	if cfg.Backend == backendNative {
		logger.Warn().Msg("native backend runs submissions without isolation")
		return native.New(logger), nil
	}

	dockerCfg, err := cfg.dockerConfig()
	if err != nil {
		return nil, err
	}
	backend, err := docker.New(dockerCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize docker backend: %w", err)
	}
	return backend, nil
}

// newProducer picks the job source: a YAML jobs file, a Kafka topic or the
// built-in smoke-test catalogue, in that order of preference.
func newProducer(cfg appConfig, logger zerolog.Logger) (ports.JobProducer, func(), error) {
	switch {
	case cfg.JobsFile != "":
		jobs, err := producer.LoadFile(cfg.JobsFile)
		if err != nil {
			return nil, nil, err
		}
		logger.Info().Str("file", cfg.JobsFile).Int("jobs", jobs.Len()).Msg("serving jobs from file")
		return jobs, func() {}, nil
	case len(cfg.KafkaBrokers) > 0:
		consumer, err := kafkainfra.NewConsumer(kafkainfra.Config{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.JobsTopic,
			GroupID: cfg.GroupID,
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize kafka consumer: %w", err)
		}
		return consumer, func() {
			if cerr := consumer.Close(); cerr != nil {
				logger.Warn().Err(cerr).Msg("failed to close kafka consumer")
			}
		}, nil
	default:
		logger.Info().Msg("no job source configured, running the built-in catalogue")
		return producer.NewService(), func() {}, nil
	}
}

func newPublisher(cfg appConfig) (ports.ReportPublisher, error) {
	if len(cfg.KafkaBrokers) == 0 || cfg.ReportsTopic == "" {
		return nil, nil
	}
	publisher, err := kafkainfra.NewPublisher(kafkainfra.PublisherConfig{
		Brokers: cfg.KafkaBrokers,
		Topic:   cfg.ReportsTopic,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize kafka publisher: %w", err)
	}
	return publisher, nil
}

func startMetricsServer(addr string, logger zerolog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Str("addr", addr).Msg("metrics server failed")
		}
	}()
	logger.Info().Str("addr", addr).Msg("serving metrics")
	return srv
}

func newLogger(level, format string, out io.Writer) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	if format != "json" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}

func logReport(logger zerolog.Logger, report execution.Report) {
	logger = logger.With().Str("job", report.Job.ID).Str("language", report.Job.Request.Language).Logger()

	switch {
	case report.Err != nil:
		logger.Error().Err(report.Err).Msg("job failed")
	case report.Exercise != nil:
		ex := report.Exercise
		logger.Info().
			Str("exercise", ex.ExerciseID).
			Int("passed", ex.Passed).
			Int("total", ex.Total).
			Msg("exercise graded")
	case report.Result != nil:
		res := report.Result
		logger.Info().
			Str("kind", string(res.Kind)).
			Int("exit_code", res.ExitCode).
			Dur("duration", res.Duration.Round(time.Millisecond)).
			Str("stdout", res.Stdout).
			Str("stderr", res.Stderr).
			Msg("job finished")
	}
}
