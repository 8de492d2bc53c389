package utils

import (
	"context"

	"github.com/tanq16/rangefetch/internal/events"
)

// Downloader is implemented by every job type the scheduler can run.
type Downloader interface {
	ValidateJob(job *FetchJob) error
	BuildJob(ctx context.Context, job *FetchJob) error
	Download(ctx context.Context, job *FetchJob) error
}

type FetchJob struct {
	ID               string
	JobType          string
	URL              string
	OutputPath       string
	Connections      int
	Kind             events.Kind
	Sink             events.Sink
	Rename           bool
	HTTPClientConfig HTTPClientConfig
	Metadata         map[string]any
}
