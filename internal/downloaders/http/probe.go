package rangehttp

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tanq16/rangefetch/internal/metrics"
	"github.com/tanq16/rangefetch/internal/utils"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Probe discovers size, final URL, filename and range support of rawURL.
// HEAD is tried first; a failed or non-2xx HEAD falls back to a GET of byte 0.
func (e *Engine) Probe(ctx context.Context, rawURL string) (*Target, error) {
	ctx, span := tracer.Start(ctx, "rangefetch.probe", trace.WithAttributes(attribute.String("url", rawURL)))
	defer span.End()
	started := time.Now()
	defer func() { metrics.ProbeLatency.Observe(time.Since(started).Seconds()) }()

	policy := e.opts.ProbeRetry
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		e.log.Warn().Str("op", "http/probe").Err(err).Msgf("probe attempt %d for %s failed, retrying in %s", attempt, rawURL, delay)
	}
	var target *Target
	err := policy.Do(ctx, func(attempt int) error {
		t, err := e.probeAttempt(ctx, rawURL)
		if err != nil {
			return err
		}
		target = t
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "probe failed")
		return nil, fmt.Errorf("probe %s: %w", rawURL, err)
	}
	span.SetAttributes(
		attribute.Int64("size", target.Size),
		attribute.Bool("range_supported", target.RangeSupported),
	)
	e.log.Debug().Str("op", "http/probe").Str("url", target.URL).Int64("size", target.Size).
		Bool("ranges", target.RangeSupported).Str("filename", target.Filename).Msg("probe complete")
	return target, nil
}

func (e *Engine) probeAttempt(ctx context.Context, rawURL string) (*Target, error) {
	headCtx, cancel := context.WithTimeout(ctx, e.opts.ProbeTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(headCtx, http.MethodHead, rawURL, nil)
	if err != nil {
		return nil, utils.Permanent(fmt.Errorf("error creating request: %w", err))
	}
	resp, err := e.client.Do(req)
	if err == nil {
		resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return targetFromResponse(resp), nil
		}
		e.log.Debug().Str("op", "http/probe").Msgf("HEAD returned %d, trying ranged GET", resp.StatusCode)
	} else {
		e.log.Debug().Str("op", "http/probe").Err(err).Msg("HEAD failed, trying ranged GET")
	}
	return e.probeRangedGet(ctx, rawURL)
}

func (e *Engine) probeRangedGet(ctx context.Context, rawURL string) (*Target, error) {
	getCtx, cancel := context.WithTimeout(ctx, e.opts.ProbeTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(getCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, utils.Permanent(fmt.Errorf("error creating request: %w", err))
	}
	req.Header.Set("Range", "bytes=0-0")
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ranged GET: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusPartialContent {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 1))
	}
	if err := statusError(resp.StatusCode); err != nil {
		return nil, err
	}
	return targetFromResponse(resp), nil
}

func targetFromResponse(resp *http.Response) *Target {
	finalURL := resp.Request.URL
	t := &Target{
		URL:            finalURL.String(),
		Filename:       ResolveFilename(resp.Header, finalURL),
		RangeSupported: acceptsByteRanges(resp.Header),
	}
	if resp.StatusCode == http.StatusPartialContent {
		t.RangeSupported = true
		if _, _, total, err := ParseContentRange(resp.Header.Get("Content-Range")); err == nil && total > 0 {
			t.Size = total
		}
		return t
	}
	if cl := resp.Header.Get("Content-Length"); cl != "" {
		if size, err := strconv.ParseInt(strings.TrimSpace(cl), 10, 64); err == nil && size > 0 {
			t.Size = size
		}
	}
	return t
}

func acceptsByteRanges(h http.Header) bool {
	for _, v := range h.Values("Accept-Ranges") {
		if strings.Contains(strings.ToLower(v), "bytes") {
			return true
		}
	}
	return false
}

// statusError classifies a non-2xx status; client errors other than
// timeouts and throttling are not worth retrying.
func statusError(code int) error {
	if code >= 200 && code < 300 {
		return nil
	}
	err := fmt.Errorf("%w: %d", ErrUnexpectedStatus, code)
	if code >= 400 && code < 500 && code != http.StatusRequestTimeout && code != http.StatusTooManyRequests {
		return utils.Permanent(err)
	}
	return err
}

// ParseContentRange parses "bytes start-end/total". An unknown total ("*")
// is reported as -1.
func ParseContentRange(header string) (start, end, total int64, err error) {
	header = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(header), "bytes"))
	parts := strings.Split(header, "/")
	if len(parts) != 2 {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %q", header)
	}
	rangeParts := strings.Split(parts[0], "-")
	if len(rangeParts) != 2 {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %q", header)
	}
	if start, err = strconv.ParseInt(rangeParts[0], 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("invalid start byte: %w", err)
	}
	if end, err = strconv.ParseInt(rangeParts[1], 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("invalid end byte: %w", err)
	}
	if parts[1] == "*" {
		return start, end, -1, nil
	}
	if total, err = strconv.ParseInt(parts[1], 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("invalid total bytes: %w", err)
	}
	return start, end, total, nil
}
