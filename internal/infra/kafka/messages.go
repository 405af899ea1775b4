package kafka

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"tutorexec/internal/domain/execution"
)

const (
	messageTypeJob  = "job"
	messageTypeDone = "done"
)

type jobEnvelope struct {
	Type      string            `json:"type"`
	ID        string            `json:"id"`
	Language  string            `json:"language"`
	Source    string            `json:"source"`
	Stdin     string            `json:"stdin,omitempty"`
	TimeoutMs int64             `json:"timeout_ms,omitempty"`
	Exercise  *exerciseEnvelope `json:"exercise,omitempty"`
}

type exerciseEnvelope struct {
	ID          string             `json:"id"`
	Title       string             `json:"title,omitempty"`
	Description string             `json:"description,omitempty"`
	Tests       []testCaseEnvelope `json:"tests"`
}

type testCaseEnvelope struct {
	Input          string `json:"input"`
	ExpectedOutput string `json:"expected_output"`
	Description    string `json:"description,omitempty"`
}

type reportEnvelope struct {
	ID         string                  `json:"id"`
	Language   string                  `json:"language,omitempty"`
	Success    *bool                   `json:"success,omitempty"`
	Output     string                  `json:"output,omitempty"`
	Error      string                  `json:"error,omitempty"`
	Kind       execution.Kind          `json:"kind,omitempty"`
	Message    string                  `json:"message,omitempty"`
	ExitCode   *int                    `json:"exit_code,omitempty"`
	DurationMs *int64                  `json:"duration_ms,omitempty"`
	Truncated  bool                    `json:"truncated,omitempty"`
	Exercise   *exerciseReportEnvelope `json:"exercise,omitempty"`
	Failure    string                  `json:"failure,omitempty"`
	Timestamp  time.Time               `json:"timestamp"`
}

type exerciseReportEnvelope struct {
	ID      string               `json:"id"`
	Total   int                  `json:"total"`
	Passed  int                  `json:"passed"`
	Failed  int                  `json:"failed"`
	Results []caseResultEnvelope `json:"results"`
}

type caseResultEnvelope struct {
	Index          int               `json:"index"`
	Description    string            `json:"description,omitempty"`
	Verdict        execution.Verdict `json:"verdict"`
	ActualOutput   string            `json:"actual_output"`
	ExpectedOutput string            `json:"expected_output"`
	Stderr         string            `json:"stderr,omitempty"`
	ExitCode       int               `json:"exit_code"`
	Message        string            `json:"message,omitempty"`
}

func decodeJobMessage(msg kafkago.Message) (execution.Job, error) {
	var envelope jobEnvelope
	if err := json.Unmarshal(msg.Value, &envelope); err != nil {
		return execution.Job{}, fmt.Errorf("decode message: %w", err)
	}

	msgType := envelope.Type
	if msgType == "" {
		msgType = messageTypeJob
	}

	switch msgType {
	case messageTypeJob:
		return envelope.toJob(msg)
	case messageTypeDone:
		return execution.Job{}, io.EOF
	default:
		return execution.Job{}, fmt.Errorf("unknown message type %q", msgType)
	}
}

func (e jobEnvelope) toJob(msg kafkago.Message) (execution.Job, error) {
	if e.Source == "" {
		return execution.Job{}, fmt.Errorf("job message missing source")
	}
	if e.Language == "" {
		return execution.Job{}, fmt.Errorf("job message missing language")
	}

	jobID := e.ID
	if jobID == "" {
		jobID = string(msg.Key)
	}
	if jobID == "" {
		jobID = fmt.Sprintf("%s:%d", msg.Topic, msg.Offset)
	}

	job := execution.Job{
		ID: jobID,
		Request: execution.Request{
			Language: e.Language,
			Source:   e.Source,
			Stdin:    e.Stdin,
		},
		Exercise: e.toExercise(),
	}
	if e.TimeoutMs > 0 {
		job.Request.Timeout = time.Duration(e.TimeoutMs) * time.Millisecond
	}
	return job, nil
}

func (e jobEnvelope) toExercise() *execution.LabExercise {
	if e.Exercise == nil {
		return nil
	}

	exercise := &execution.LabExercise{
		ID:          e.Exercise.ID,
		Title:       e.Exercise.Title,
		Description: e.Exercise.Description,
		Tests:       make([]execution.TestCase, len(e.Exercise.Tests)),
	}
	for idx, test := range e.Exercise.Tests {
		exercise.Tests[idx] = execution.TestCase{
			Input:          test.Input,
			ExpectedOutput: test.ExpectedOutput,
			Description:    test.Description,
		}
	}
	return exercise
}

func encodeReport(report execution.Report) ([]byte, error) {
	payload, err := json.Marshal(makeReportEnvelope(report))
	if err != nil {
		return nil, fmt.Errorf("marshal report: %w", err)
	}
	return payload, nil
}

func makeReportEnvelope(report execution.Report) reportEnvelope {
	envelope := reportEnvelope{
		ID:        report.Job.ID,
		Language:  report.Job.Request.Language,
		Timestamp: time.Now().UTC(),
	}

	if res := report.Result; res != nil {
		success := res.Success
		exit := res.ExitCode
		dur := res.ExecutionTimeMs()

		envelope.Success = &success
		envelope.Output = res.Stdout
		envelope.Error = res.ErrorText()
		envelope.Kind = res.Kind
		envelope.Message = res.Message
		envelope.ExitCode = &exit
		envelope.DurationMs = &dur
		envelope.Truncated = res.Truncated
	}

	if ex := report.Exercise; ex != nil {
		results := make([]caseResultEnvelope, 0, len(ex.Results))
		for _, res := range ex.Results {
			results = append(results, caseResultEnvelope{
				Index:          res.Index,
				Description:    res.Case.Description,
				Verdict:        res.Verdict,
				ActualOutput:   res.ActualOutput,
				ExpectedOutput: res.ExpectedOutput,
				Stderr:         res.Stderr,
				ExitCode:       res.ExitCode,
				Message:        res.Message,
			})
		}
		envelope.Exercise = &exerciseReportEnvelope{
			ID:      ex.ExerciseID,
			Total:   ex.Total,
			Passed:  ex.Passed,
			Failed:  ex.Failed,
			Results: results,
		}
		success := ex.Total > 0 && ex.Failed == 0
		envelope.Success = &success
	}

	if report.Err != nil {
		envelope.Failure = report.Err.Error()
	}

	return envelope
}
