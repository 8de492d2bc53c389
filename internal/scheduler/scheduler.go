package scheduler

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	rangehttp "github.com/tanq16/rangefetch/internal/downloaders/http"
	"github.com/tanq16/rangefetch/internal/events"
	"github.com/tanq16/rangefetch/internal/output"
	"github.com/tanq16/rangefetch/internal/utils"
)

type Options struct {
	Workers int
	HTTP    rangehttp.Options
	// Sinks receive every notification of every job, next to the terminal.
	Sinks  []events.Sink
	Output *output.Manager
}

// registry maps job types to their downloader.
func registry(opts Options) map[string]utils.Downloader {
	httpDownloader := &rangehttp.HTTPDownloader{Options: opts.HTTP}
	return map[string]utils.Downloader{
		"http":  httpDownloader,
		"https": httpDownloader,
	}
}

// Run executes the jobs on a pool of workers and returns an error when any
// of them failed.
func Run(ctx context.Context, jobs []utils.FetchJob, opts Options) error {
	outputMgr := opts.Output
	if outputMgr == nil {
		outputMgr = output.NewManager()
	}
	numWorkers := min(max(opts.Workers, 1), max(len(jobs), 1))
	downloaders := registry(opts)

	jobCh := make(chan *utils.FetchJob, len(jobs))
	for i := range jobs {
		job := &jobs[i]
		if job.ID == "" {
			job.ID = uuid.NewString()
		}
		outputMgr.Register(job.ID, job.URL)
		jobCh <- job
	}
	close(jobCh)

	outputMgr.StartDisplay()
	var wg sync.WaitGroup
	for range numWorkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			processJobs(ctx, jobCh, downloaders, opts.Sinks, outputMgr)
		}()
	}
	wg.Wait()
	outputMgr.StopDisplay()

	if failed := outputMgr.Failures(); failed > 0 {
		return fmt.Errorf("%d of %d downloads failed", failed, len(jobs))
	}
	return nil
}

func processJobs(ctx context.Context, jobCh <-chan *utils.FetchJob, downloaders map[string]utils.Downloader, sinks []events.Sink, outputMgr *output.Manager) {
	log := utils.GetLogger("scheduler")
	for job := range jobCh {
		downloader, exists := downloaders[job.JobType]
		if !exists {
			outputMgr.ReportError(job.ID, fmt.Errorf("unknown job type: %s", job.JobType))
			continue
		}
		if ctx.Err() != nil {
			outputMgr.ReportError(job.ID, ctx.Err())
			continue
		}
		all := append([]events.Sink{outputMgr.Sink(job.ID)}, sinks...)
		if job.Sink != nil {
			all = append(all, job.Sink)
		}
		job.Sink = events.Multi(all...)

		outputMgr.SetStatus(job.ID, "active")
		outputMgr.SetMessage(job.ID, fmt.Sprintf("Validating %s job", job.JobType))
		if err := downloader.ValidateJob(job); err != nil {
			outputMgr.ReportError(job.ID, fmt.Errorf("validation failed: %w", err))
			continue
		}
		outputMgr.SetMessage(job.ID, "Probing "+job.URL)
		if err := downloader.BuildJob(ctx, job); err != nil {
			outputMgr.ReportError(job.ID, fmt.Errorf("build failed: %w", err))
			continue
		}
		log.Debug().Str("id", job.ID).Str("url", job.URL).Str("path", job.OutputPath).Msg("job built")

		outputMgr.SetMessage(job.ID, "Downloading "+filepath.Base(job.OutputPath))
		if err := downloader.Download(ctx, job); err != nil {
			outputMgr.ReportError(job.ID, fmt.Errorf("download failed: %w", err))
			continue
		}
		outputMgr.Complete(job.ID, "Completed "+job.OutputPath)
	}
}
