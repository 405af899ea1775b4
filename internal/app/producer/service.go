package producer

import (
	"context"
	"io"
	"sync"

	"github.com/google/uuid"

	"tutorexec/internal/domain/execution"
	"tutorexec/internal/ports"
)

// Service implements ports.JobProducer over an in-memory catalogue of jobs.
type Service struct {
	mu    sync.Mutex
	jobs  []execution.Job
	index int
}

var _ ports.JobProducer = (*Service)(nil)

// NewService builds a producer over jobs. With no jobs it serves the default
// catalogue.
func NewService(jobs ...execution.Job) *Service {
	if len(jobs) == 0 {
		jobs = DefaultJobs()
	}
	s := &Service{}
	for _, job := range jobs {
		s.AddJob(job)
	}
	return s
}

// DefaultJobs is a small smoke-test catalogue covering every language and
// one graded exercise.
func DefaultJobs() []execution.Job {
	return []execution.Job{
		{
			ID: "hello-c",
			Request: execution.Request{
				Language: "c",
				Source:   "#include <stdio.h>\nint main(void) { printf(\"Hello from C\\n\"); return 0; }\n",
			},
		},
		{
			ID: "hello-cpp",
			Request: execution.Request{
				Language: "cpp",
				Source:   "#include <iostream>\nint main() { std::cout << \"Hello from C++\" << std::endl; }\n",
			},
		},
		{
			ID: "hello-java",
			Request: execution.Request{
				Language: "java",
				Source:   "System.out.println(\"Hello from Java\");\n",
			},
		},
		{
			ID: "double-python",
			Request: execution.Request{
				Language: "python",
				Source:   "n = int(input('Enter a number: '))\nprint(n * 2)\n",
				Stdin:    "5",
			},
		},
		{
			ID: "squares-python",
			Request: execution.Request{
				Language: "python",
				Source:   "n = int(input())\nfor i in range(1, n + 1):\n    print(i * i)\n",
			},
			Exercise: &execution.LabExercise{
				ID:    "squares",
				Title: "Squares",
				Tests: []execution.TestCase{
					{Input: "3", ExpectedOutput: "1\n4\n9", Description: "three squares"},
					{Input: "1", ExpectedOutput: "1", Description: "single square"},
				},
			},
		},
	}
}

// NextJob returns the next catalogued job, or io.EOF once all have been
// handed out.
func (s *Service) NextJob(ctx context.Context) (execution.Job, error) {
	select {
	case <-ctx.Done():
		return execution.Job{}, ctx.Err()
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.index >= len(s.jobs) {
		return execution.Job{}, io.EOF
	}

	job := s.jobs[s.index]
	s.index++

	return job, nil
}

// AddJob allows extending the producer catalogue at runtime.
func (s *Service) AddJob(job execution.Job) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.jobs = append(s.jobs, job)
}

// Len reports how many jobs are catalogued, consumed or not.
func (s *Service) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}
