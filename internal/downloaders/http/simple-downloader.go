package rangehttp

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/tanq16/rangefetch/internal/metrics"
	"github.com/tanq16/rangefetch/internal/progress"
	"github.com/tanq16/rangefetch/internal/utils"
	"golang.org/x/time/rate"
)

// singleDownload streams the whole resource over one connection. A failed
// attempt restarts from byte 0 and takes back the progress it reported.
func (e *Engine) singleDownload(ctx context.Context, target *Target, req Request, log zerolog.Logger) (*Outcome, error) {
	reporter := progress.NewReporter(req.ID, req.Kind, target.Size, req.Sink, e.opts.Progress, log)
	reporter.Start(0)
	limiter := newLimiter(e.opts.BytesPerSecond)

	policy := e.opts.TransferRetry
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		log.Warn().Str("op", "http/single").Err(err).Msgf("transfer attempt %d failed, retrying in %s", attempt, delay)
	}
	var written int64
	err := policy.Do(ctx, func(attempt int) error {
		n, err := e.simpleAttempt(ctx, target, reporter, limiter)
		if err != nil {
			if n > 0 {
				reporter.Add(-n)
			}
			return err
		}
		written = n
		return nil
	})
	if err == nil && target.Size > 0 {
		err = verifySize(target.Path, target.Size)
	}
	reporter.Stop(err)
	if err != nil {
		return nil, err
	}
	return &Outcome{
		Path:   target.Path,
		Target: *target,
		Mode:   ModeSingle,
		Bytes:  written,
	}, nil
}

func (e *Engine) simpleAttempt(ctx context.Context, target *Target, reporter *progress.Reporter, limiter *rate.Limiter) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.URL, nil)
	if err != nil {
		return 0, utils.Permanent(fmt.Errorf("error creating request: %w", err))
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("error downloading: %w", err)
	}
	defer resp.Body.Close()
	if err := statusError(resp.StatusCode); err != nil {
		return 0, err
	}

	file, err := os.OpenFile(target.Path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return 0, utils.Permanent(fmt.Errorf("%w: create %s: %w", ErrFilesystem, target.Path, err))
	}
	defer file.Close()

	written, err := e.copyAt(ctx, resp.Body, &syncFile{f: file}, 0, -1, limiter, func(_, n int64) {
		reporter.Add(n)
		metrics.BytesDownloaded.WithLabelValues(string(ModeSingle)).Add(float64(n))
	})
	if err != nil {
		return written, err
	}
	if target.Size > 0 && written < target.Size {
		return written, fmt.Errorf("%w: got %d of %d bytes", ErrShortBody, written, target.Size)
	}
	if err := file.Sync(); err != nil {
		return written, utils.Permanent(fmt.Errorf("%w: sync %s: %w", ErrFilesystem, target.Path, err))
	}
	return written, nil
}
