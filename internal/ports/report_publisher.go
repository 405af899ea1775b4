package ports

import (
	"context"

	"tutorexec/internal/domain/execution"
)

// ReportPublisher publishes job reports to an external system.
type ReportPublisher interface {
	PublishReport(ctx context.Context, report execution.Report) error
	Close() error
}
