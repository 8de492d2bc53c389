package rangehttp

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/tanq16/rangefetch/internal/events"
	"github.com/tanq16/rangefetch/internal/metrics"
	"github.com/tanq16/rangefetch/internal/utils"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/tanq16/rangefetch/internal/downloaders/http")

// Engine downloads one resource per call. It is safe for concurrent use;
// all per-download state lives on the call stack.
type Engine struct {
	client utils.HTTPDoer
	opts   Options
	log    zerolog.Logger
}

func NewEngine(client utils.HTTPDoer, opts Options, logger zerolog.Logger) *Engine {
	def := DefaultOptions()
	if opts.Threads <= 0 {
		opts.Threads = def.Threads
	}
	if opts.MaxParallel <= 0 {
		opts.MaxParallel = def.MaxParallel
	}
	opts.MaxParallel = min(opts.MaxParallel, MaxParallelSegments)
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = def.ProbeTimeout
	}
	if opts.SegmentTimeout <= 0 {
		opts.SegmentTimeout = def.SegmentTimeout
	}
	if opts.ProbeRetry.MaxAttempts <= 0 {
		opts.ProbeRetry = def.ProbeRetry
	}
	if opts.SegmentRetry.MaxAttempts <= 0 {
		opts.SegmentRetry = def.SegmentRetry
	}
	if opts.TransferRetry.MaxAttempts <= 0 {
		opts.TransferRetry = def.TransferRetry
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = def.BufferSize
	}
	return &Engine{client: client, opts: opts, log: logger}
}

func (e *Engine) normalize(req Request) Request {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Threads <= 0 {
		req.Threads = e.opts.Threads
	}
	if req.Sink == nil {
		req.Sink = events.Discard
	}
	return req
}

// Download resolves and fetches req in one call. Every outcome, including
// a failed probe, produces a terminal notification on req.Sink.
func (e *Engine) Download(ctx context.Context, req Request) (*Outcome, error) {
	req = e.normalize(req)
	target, err := e.Resolve(ctx, req)
	if err != nil {
		e.NotifyFailure(req, err)
		metrics.Downloads.WithLabelValues(req.Kind.String(), "failure").Inc()
		return nil, err
	}
	return e.Fetch(ctx, target, req)
}

// Resolve checks the request, creates the destination directory and probes
// the URL. A destination ending in a separator, or naming an existing
// directory, receives the resolved filename.
func (e *Engine) Resolve(ctx context.Context, req Request) (*Target, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	dest := req.Destination
	intoDir := strings.HasSuffix(dest, "/") || strings.HasSuffix(dest, string(os.PathSeparator))
	if info, err := os.Stat(dest); err == nil && info.IsDir() {
		intoDir = true
	}
	dir := filepath.Dir(dest)
	if intoDir {
		dir = dest
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: create %s: %w", ErrFilesystem, dir, err)
	}

	target, err := e.Probe(ctx, req.URL)
	if err != nil {
		return nil, err
	}
	if intoDir {
		target.Path = filepath.Join(dir, target.Filename)
	} else {
		target.Path = dest
		target.Filename = filepath.Base(dest)
	}
	return target, nil
}

// Fetch downloads a resolved target, choosing multi-segment mode when the
// server supports ranges, the size is known and more than one thread is
// requested.
func (e *Engine) Fetch(ctx context.Context, target *Target, req Request) (*Outcome, error) {
	req = e.normalize(req)
	mode := ModeSingle
	if target.RangeSupported && target.Size > 0 && req.Threads > 1 {
		mode = ModeMulti
	}
	ctx, span := tracer.Start(ctx, "rangefetch.download", trace.WithAttributes(
		attribute.String("id", req.ID),
		attribute.String("url", target.URL),
		attribute.String("mode", string(mode)),
		attribute.Int64("size", target.Size),
	))
	defer span.End()
	metrics.ActiveDownloads.Inc()
	defer metrics.ActiveDownloads.Dec()

	log := e.log.With().Str("id", req.ID).Str("path", target.Path).Logger()
	log.Info().Str("op", "http/fetch").Str("mode", string(mode)).Int64("size", target.Size).
		Int("threads", req.Threads).Msg("starting download")

	started := time.Now()
	var out *Outcome
	var err error
	if mode == ModeMulti {
		out, err = e.multiDownload(ctx, target, req, log)
	} else {
		out, err = e.singleDownload(ctx, target, req, log)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "download failed")
		metrics.Downloads.WithLabelValues(req.Kind.String(), "failure").Inc()
		log.Error().Str("op", "http/fetch").Err(err).Msg("download failed")
		return nil, err
	}
	out.Elapsed = time.Since(started)
	metrics.Downloads.WithLabelValues(req.Kind.String(), "success").Inc()
	log.Info().Str("op", "http/fetch").Int64("bytes", out.Bytes).Bool("resumed", out.Resumed).
		Dur("elapsed", out.Elapsed).Msg("download complete")
	return out, nil
}

// NotifyFailure emits the terminal failure notification for a download that
// never reached the transfer stage.
func (e *Engine) NotifyFailure(req Request, err error) {
	if req.Sink == nil {
		return
	}
	req.Sink.Notify(events.Notification{
		ID:       req.ID,
		Kind:     req.Kind,
		Progress: "0.0%",
		Speed:    utils.FormatSpeed(0),
		Error:    err.Error(),
		Time:     time.Now(),
	})
}

func validateRequest(req Request) error {
	if err := utils.Validate(req); err != nil {
		return utils.Permanent(fmt.Errorf("invalid request: %w", err))
	}
	parsedURL, err := url.Parse(req.URL)
	if err != nil {
		return utils.Permanent(fmt.Errorf("invalid URL: %w", err))
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return utils.Permanent(fmt.Errorf("unsupported scheme: %s", parsedURL.Scheme))
	}
	return nil
}

// HTTPDownloader adapts the engine to the scheduler's job interface.
type HTTPDownloader struct {
	Options Options
}

func (d *HTTPDownloader) engine(job *utils.FetchJob) *Engine {
	return NewEngine(utils.NewFetchHTTPClient(job.HTTPClientConfig), d.Options, utils.GetLogger("http"))
}

func requestFor(job *utils.FetchJob) Request {
	return Request{
		ID:          job.ID,
		URL:         job.URL,
		Destination: job.OutputPath,
		Threads:     job.Connections,
		Kind:        job.Kind,
		Sink:        job.Sink,
	}
}

func (d *HTTPDownloader) ValidateJob(job *utils.FetchJob) error {
	if job.OutputPath == "" {
		job.OutputPath = "." + string(os.PathSeparator)
	}
	return validateRequest(requestFor(job))
}

func (d *HTTPDownloader) BuildJob(ctx context.Context, job *utils.FetchJob) error {
	job.HTTPClientConfig.HighThreadMode = job.Connections > 5
	job.HTTPClientConfig.IdlePerHost = max(job.HTTPClientConfig.IdlePerHost, job.Connections)
	if job.Metadata == nil {
		job.Metadata = make(map[string]any)
	}
	engine := d.engine(job)
	req := engine.normalize(requestFor(job))
	job.ID = req.ID
	target, err := engine.Resolve(ctx, req)
	if err != nil {
		engine.NotifyFailure(req, err)
		return err
	}
	// A partial file with a checkpoint is resumed in place, anything else
	// that already exists is kept and the new download gets a fresh name.
	if job.Rename && !NewStateStore(target.Path).Exists() {
		if _, err := os.Stat(target.Path); err == nil {
			target.Path = utils.RenewOutputPath(target.Path)
			target.Filename = filepath.Base(target.Path)
		}
	}
	job.OutputPath = target.Path
	job.Metadata["target"] = target
	return nil
}

func (d *HTTPDownloader) Download(ctx context.Context, job *utils.FetchJob) error {
	target, ok := job.Metadata["target"].(*Target)
	if !ok {
		if err := d.BuildJob(ctx, job); err != nil {
			return err
		}
		target, ok = job.Metadata["target"].(*Target)
		if !ok {
			return errors.New("job has no resolved target")
		}
	}
	out, err := d.engine(job).Fetch(ctx, target, requestFor(job))
	if err != nil {
		return err
	}
	job.Metadata["outcome"] = out
	return nil
}
