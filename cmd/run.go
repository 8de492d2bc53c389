package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tanq16/rangefetch/internal/events"
	"github.com/tanq16/rangefetch/internal/scheduler"
	"github.com/tanq16/rangefetch/internal/statusserver"
	"github.com/tanq16/rangefetch/internal/utils"
)

// runJobs hands jobs to the scheduler with the sinks the configuration asks
// for. Interrupts cancel the run and leave checkpoints for a later resume.
func runJobs(jobs []utils.FetchJob) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	log := utils.GetLogger("cmd")

	var sinks []events.Sink
	if debug {
		sinks = append(sinks, events.Log(utils.GetLogger("events")))
	}
	if cfg.Status.File != "" {
		sinks = append(sinks, events.NewFileSink(cfg.Status.File, utils.GetLogger("events")))
	}
	if cfg.Status.Addr != "" {
		memory := events.NewMemory()
		hub := statusserver.NewHub()
		server := statusserver.New(cfg.Status.Addr, memory, hub, utils.GetLogger("status"))
		if err := server.Start(); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Warn().Err(err).Msg("status server shutdown")
			}
		}()
		sinks = append(sinks, memory, hub)
	}

	return scheduler.Run(ctx, jobs, scheduler.Options{
		Workers: cfg.Workers,
		HTTP:    cfg.EngineOptions(),
		Sinks:   sinks,
	})
}

func newJob(url, outputPath string, kind events.Kind) utils.FetchJob {
	return utils.FetchJob{
		JobType:          "http",
		URL:              url,
		OutputPath:       outputPath,
		Connections:      cfg.Threads,
		Kind:             kind,
		Rename:           rename,
		HTTPClientConfig: cfg.HTTPClientConfig(),
		Metadata:         make(map[string]any),
	}
}
