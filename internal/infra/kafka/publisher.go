package kafka

import (
	"context"
	"fmt"
	"strings"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"tutorexec/internal/domain/execution"
	"tutorexec/internal/ports"
)

// Ensure Publisher implements ports.ReportPublisher.
var _ ports.ReportPublisher = (*Publisher)(nil)

// PublisherConfig configures the Kafka-based job report publisher.
type PublisherConfig struct {
	Brokers []string
	Topic   string
}

// Publisher publishes job reports to Kafka.
type Publisher struct {
	writer messageWriter
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// NewPublisher constructs a Publisher using the supplied configuration.
func NewPublisher(cfg PublisherConfig) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one broker must be provided")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("topic must be provided")
	}

	writer := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		AllowAutoTopicCreation: true,
		Balancer:               &kafkago.LeastBytes{},
		RequiredAcks:           kafkago.RequireAll,
		BatchTimeout:           10 * time.Millisecond,
	}

	return newPublisher(writer), nil
}

func newPublisher(writer messageWriter) *Publisher {
	return &Publisher{writer: writer}
}

// PublishReport serializes and writes the supplied report to Kafka, keyed by
// job id. Routing headers let consumers filter reports without decoding the
// payload.
func (p *Publisher) PublishReport(ctx context.Context, report execution.Report) error {
	if p.writer == nil {
		return fmt.Errorf("publisher is not initialized")
	}

	payload, err := encodeReport(report)
	if err != nil {
		return err
	}

	msg := kafkago.Message{
		Key:     []byte(report.Job.ID),
		Value:   payload,
		Headers: reportHeaders(report),
		Time:    time.Now(),
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}

	return nil
}

const (
	headerReport   = "report"
	headerLanguage = "language"
	headerOutcome  = "outcome"

	reportResult   = "result"
	reportExercise = "exercise"
	reportFailure  = "failure"
)

// reportHeaders describes the report's shape and outcome. A job failure
// takes precedence over any partial payload. For exercises the outcome is
// "pass" when every case passed and "fail" otherwise; for single runs it is
// the result kind.
func reportHeaders(report execution.Report) []kafkago.Header {
	reportType, outcome := reportFailure, ""
	switch {
	case report.Err != nil:
	case report.Exercise != nil:
		reportType, outcome = reportExercise, "fail"
		if ex := report.Exercise; ex.Total > 0 && ex.Failed == 0 {
			outcome = "pass"
		}
	case report.Result != nil:
		reportType, outcome = reportResult, string(report.Result.Kind)
	}

	headers := []kafkago.Header{{Key: headerReport, Value: []byte(reportType)}}
	if lang := strings.ToLower(strings.TrimSpace(report.Job.Request.Language)); lang != "" {
		headers = append(headers, kafkago.Header{Key: headerLanguage, Value: []byte(lang)})
	}
	if outcome != "" {
		headers = append(headers, kafkago.Header{Key: headerOutcome, Value: []byte(outcome)})
	}
	return headers
}

// Close releases the underlying Kafka writer.
func (p *Publisher) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
