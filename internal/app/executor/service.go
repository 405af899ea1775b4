package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tutorexec/internal/domain/execution"
	"tutorexec/internal/ports"
	"tutorexec/internal/runtime"
	"tutorexec/internal/session"
)

// Engine runs sessions for the service.
type Engine interface {
	Open(ctx context.Context, profile runtime.Profile, source string, timeout time.Duration) (*session.Session, error)
	RunBatch(ctx context.Context, profile runtime.Profile, source, stdin string, timeout time.Duration) (*execution.Result, error)
}

// Config wires the service's collaborators. Backend is optional and only
// used to release it on Close.
type Config struct {
	Profiles *runtime.Registry
	Engine   Engine
	Store    *session.Store
	Backend  ports.Backend
	Logger   zerolog.Logger
}

// Service is the entry point callers use for batch runs, interactive
// sessions and exercise grading.
type Service struct {
	profiles *runtime.Registry
	engine   Engine
	store    *session.Store
	backend  ports.Backend
	suites   *suiteRunner
	logger   zerolog.Logger
}

func NewService(cfg Config) (*Service, error) {
	if cfg.Profiles == nil {
		return nil, errors.New("executor: profiles registry is required")
	}
	if cfg.Engine == nil {
		return nil, errors.New("executor: engine is required")
	}
	if cfg.Store == nil {
		cfg.Store = session.NewStore(0, cfg.Logger)
	}
	return &Service{
		profiles: cfg.Profiles,
		engine:   cfg.Engine,
		store:    cfg.Store,
		backend:  cfg.Backend,
		suites:   newSuiteRunner(cfg.Engine),
		logger:   cfg.Logger,
	}, nil
}

// Execute runs a request to completion. Per-request failures such as
// compile errors or timeouts are reported in the Result; only unsupported
// languages and an unavailable backend are returned as errors.
func (s *Service) Execute(ctx context.Context, req execution.Request) (*execution.Result, error) {
	profile, err := s.profiles.Resolve(req.Language)
	if err != nil {
		return nil, err
	}
	return s.engine.RunBatch(ctx, profile, req.Source, req.NormalizedStdin(), req.Timeout)
}

// StartSession launches an interactive session and returns its id.
func (s *Service) StartSession(ctx context.Context, language, source string, timeout time.Duration) (string, error) {
	profile, err := s.profiles.Resolve(language)
	if err != nil {
		return "", err
	}
	sess, err := s.engine.Open(ctx, profile, source, timeout)
	if err != nil {
		return "", err
	}
	if err := s.store.Add(sess); err != nil {
		return "", err
	}
	return sess.ID(), nil
}

// SendInput writes one line to the session's stdin.
func (s *Service) SendInput(id, text string) error {
	sess, err := s.store.Get(id)
	if err != nil {
		return err
	}
	return sess.SendInput(text)
}

// CloseInput signals end-of-file on the session's stdin.
func (s *Service) CloseInput(id string) error {
	sess, err := s.store.Get(id)
	if err != nil {
		return err
	}
	return sess.CloseInput()
}

// PollOutput drains output produced since the previous poll, waiting up to
// timeout for something to arrive.
func (s *Service) PollOutput(id string, timeout time.Duration) (session.Output, error) {
	sess, err := s.store.Get(id)
	if err != nil {
		return session.Output{}, err
	}
	return sess.Poll(timeout), nil
}

// AwaitCompletion blocks until the session ends or timeout elapses, in which
// case the program is killed and a timeout result returned. The session is
// forgotten once a result is returned.
func (s *Service) AwaitCompletion(ctx context.Context, id string, timeout time.Duration) (*execution.Result, error) {
	sess, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}
	res, err := sess.Await(ctx, timeout)
	if err != nil {
		return nil, err
	}
	s.store.Remove(id)
	return res, nil
}

// StopSession kills the session's program and forgets the session. Stopping
// a finished session only forgets it.
func (s *Service) StopSession(id string) error {
	sess, err := s.store.Get(id)
	if err != nil {
		return err
	}
	sess.Stop()
	s.store.Remove(id)
	return nil
}

// RunExercise grades source against every case of exercise.
func (s *Service) RunExercise(ctx context.Context, language, source string, exercise execution.LabExercise, timeout time.Duration) (*execution.ExerciseReport, error) {
	profile, err := s.profiles.Resolve(language)
	if err != nil {
		return nil, err
	}
	return s.suites.Run(ctx, profile, source, exercise, timeout)
}

// ExecuteJob runs a single job and never fails: errors are carried in the
// report.
func (s *Service) ExecuteJob(ctx context.Context, job execution.Job) execution.Report {
	report := execution.Report{Job: job}

	if job.Exercise != nil {
		exerciseReport, err := s.RunExercise(ctx, job.Request.Language, job.Request.Source, *job.Exercise, job.Request.Timeout)
		report.Exercise = exerciseReport
		report.Err = err
		return report
	}

	result, err := s.Execute(ctx, job.Request)
	report.Result = result
	report.Err = err
	return report
}

// ExecuteFromProducer pulls jobs from the supplied producer and runs them with bounded parallelism.
//
// If maxJobs is greater than zero the execution stops after the specified
// number of jobs has been processed. Otherwise it keeps consuming until the
// context is cancelled or the producer signals completion via io.EOF.
//
// When onReport is provided it is invoked after every job with the
// corresponding report.
func (s *Service) ExecuteFromProducer(
	ctx context.Context,
	producer ports.JobProducer,
	maxJobs int,
	maxParallel int,
	onReport func(execution.Report),
) error {
	if maxParallel <= 0 {
		maxParallel = 1
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, maxParallel)
	processed := 0

	finish := func(err error) error {
		wg.Wait()
		return err
	}

	for {
		if maxJobs > 0 && processed >= maxJobs {
			return finish(nil)
		}

		job, err := producer.NextJob(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.EOF) {
				return finish(nil)
			}

			return finish(fmt.Errorf("get next job: %w", err))
		}

		sem <- struct{}{}
		wg.Add(1)
		processed++
		go func(job execution.Job) {
			defer wg.Done()
			defer func() { <-sem }()

			report := s.ExecuteJob(ctx, job)
			if report.Err != nil {
				s.logger.Warn().Err(report.Err).Str("job", job.ID).Msg("job failed")
			}
			if onReport != nil {
				onReport(report)
			}
		}(job)
	}
}

// RunReaper evicts finished sessions until ctx is cancelled.
func (s *Service) RunReaper(ctx context.Context, interval time.Duration) {
	s.store.Run(ctx, interval)
}

// Languages lists the languages the service accepts.
func (s *Service) Languages() []execution.Language {
	return s.profiles.Languages()
}

// Close stops live sessions and releases the backend.
func (s *Service) Close() error {
	s.store.Close()
	if s.backend == nil {
		return nil
	}
	return s.backend.Close()
}
