package producer

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"tutorexec/internal/domain/execution"
)

type catalogueFile struct {
	Jobs []jobEntry `yaml:"jobs"`
}

type jobEntry struct {
	ID       string         `yaml:"id"`
	Language string         `yaml:"language"`
	Source   string         `yaml:"source"`
	Stdin    string         `yaml:"stdin"`
	Timeout  time.Duration  `yaml:"timeout"`
	Exercise *exerciseEntry `yaml:"exercise"`
}

type exerciseEntry struct {
	ID          string      `yaml:"id"`
	Title       string      `yaml:"title"`
	Description string      `yaml:"description"`
	Tests       []caseEntry `yaml:"tests"`
}

type caseEntry struct {
	Input          string `yaml:"input"`
	ExpectedOutput string `yaml:"expected_output"`
	Description    string `yaml:"description"`
}

// LoadFile reads a YAML job catalogue from path.
func LoadFile(path string) (*Service, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read jobs file: %w", err)
	}
	jobs, err := ParseJobs(data)
	if err != nil {
		return nil, fmt.Errorf("parse jobs file %s: %w", path, err)
	}
	return NewService(jobs...), nil
}

// ParseJobs decodes a YAML job catalogue. Unknown keys are rejected and
// every job must name a language and carry source.
func ParseJobs(data []byte) ([]execution.Job, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var file catalogueFile
	if err := dec.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty catalogue")
		}
		return nil, err
	}
	if len(file.Jobs) == 0 {
		return nil, errors.New("empty catalogue")
	}

	jobs := make([]execution.Job, 0, len(file.Jobs))
	for i, entry := range file.Jobs {
		if entry.Language == "" {
			return nil, fmt.Errorf("job %d: language is required", i)
		}
		if entry.Source == "" {
			return nil, fmt.Errorf("job %d: source is required", i)
		}
		jobs = append(jobs, entry.toJob())
	}
	return jobs, nil
}

func (e jobEntry) toJob() execution.Job {
	job := execution.Job{
		ID: e.ID,
		Request: execution.Request{
			Language: e.Language,
			Source:   e.Source,
			Stdin:    e.Stdin,
			Timeout:  e.Timeout,
		},
	}
	if e.Exercise != nil {
		exercise := &execution.LabExercise{
			ID:          e.Exercise.ID,
			Title:       e.Exercise.Title,
			Description: e.Exercise.Description,
			Tests:       make([]execution.TestCase, 0, len(e.Exercise.Tests)),
		}
		for _, tc := range e.Exercise.Tests {
			exercise.Tests = append(exercise.Tests, execution.TestCase{
				Input:          tc.Input,
				ExpectedOutput: tc.ExpectedOutput,
				Description:    tc.Description,
			})
		}
		job.Exercise = exercise
	}
	return job
}
