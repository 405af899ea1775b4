package ports

import (
	"context"

	"tutorexec/internal/domain/execution"
)

// JobProducer yields jobs for the executor. It returns io.EOF when exhausted.
type JobProducer interface {
	NextJob(ctx context.Context) (execution.Job, error)
}
