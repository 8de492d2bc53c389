package rangehttp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/tanq16/rangefetch/internal/metrics"
	"github.com/tanq16/rangefetch/internal/progress"
	"github.com/tanq16/rangefetch/internal/utils"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// syncFile is the destination shared by all fetchers. Seek and write happen
// under one lock since the pair is not atomic on its own.
type syncFile struct {
	mu sync.Mutex
	f  *os.File
}

func (s *syncFile) writeAt(p []byte, off int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.f.Seek(off, io.SeekStart); err != nil {
		return fmt.Errorf("%w: seek %s to %d: %w", ErrFilesystem, s.f.Name(), off, err)
	}
	if _, err := s.f.Write(p); err != nil {
		return fmt.Errorf("%w: write %s at %d: %w", ErrFilesystem, s.f.Name(), off, err)
	}
	return nil
}

// copyAt streams body into file from offset. A negative end means the
// stream length is unknown; otherwise bytes past end are dropped. onWrite
// runs after every successful write with the new cursor and byte count.
func (e *Engine) copyAt(ctx context.Context, body io.Reader, file *syncFile, offset, end int64, limiter *rate.Limiter, onWrite func(cursor, n int64)) (int64, error) {
	reader := throttle(ctx, body, limiter)
	buffer := make([]byte, e.opts.BufferSize)
	cursor := offset
	for end < 0 || cursor < end {
		bytesRead, readErr := reader.Read(buffer)
		if bytesRead > 0 {
			chunk := buffer[:bytesRead]
			if end >= 0 && int64(len(chunk)) > end-cursor {
				chunk = chunk[:end-cursor]
			}
			if err := file.writeAt(chunk, cursor); err != nil {
				return cursor - offset, utils.Permanent(err)
			}
			cursor += int64(len(chunk))
			onWrite(cursor, int64(len(chunk)))
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			return cursor - offset, fmt.Errorf("error reading response body: %w", readErr)
		}
	}
	return cursor - offset, nil
}

type segmentFetcher struct {
	engine   *Engine
	url      string
	index    int
	table    *segmentTable
	file     *syncFile
	reporter *progress.Reporter
	limiter  *rate.Limiter
	log      zerolog.Logger
}

// fetch drives one segment to completion, retrying from the current cursor.
func (f *segmentFetcher) fetch(ctx context.Context) error {
	policy := f.engine.opts.SegmentRetry
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		metrics.SegmentRetries.Inc()
		f.log.Warn().Str("op", "http/segment").Int("segment", f.index).Err(err).
			Msgf("segment attempt %d failed, retrying in %s", attempt, delay)
	}
	return policy.Do(ctx, func(attempt int) error {
		seg := f.table.get(f.index)
		if seg.Done() {
			return nil
		}
		written, err := f.attempt(ctx, seg)
		if err != nil && written > 0 {
			return utils.Progressed(err)
		}
		return err
	})
}

func (f *segmentFetcher) attempt(ctx context.Context, seg Segment) (int64, error) {
	ctx, span := tracer.Start(ctx, "rangefetch.segment", trace.WithAttributes(
		attribute.Int("segment", f.index),
		attribute.Int64("cursor", seg.Cursor),
		attribute.Int64("end", seg.End),
	))
	defer span.End()
	written, err := f.request(ctx, seg)
	span.SetAttributes(attribute.Int64("written", written))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "segment attempt failed")
	}
	return written, err
}

func (f *segmentFetcher) request(ctx context.Context, seg Segment) (int64, error) {
	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, f.url, nil)
	if err != nil {
		return 0, utils.Permanent(fmt.Errorf("error creating request: %w", err))
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", seg.Cursor, seg.End-1))
	// Only waiting for headers is bounded here; the body is bounded by the
	// client's overall timeout and resumes from the cursor when cut.
	headerTimer := time.AfterFunc(f.engine.opts.SegmentTimeout, cancel)
	resp, err := f.engine.client.Do(req)
	headerTimer.Stop()
	if err != nil {
		return 0, fmt.Errorf("range request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusPartialContent:
		if start, _, _, err := ParseContentRange(resp.Header.Get("Content-Range")); err == nil && start != seg.Cursor {
			return 0, fmt.Errorf("%w: asked for offset %d, server sent %d", ErrUnexpectedStatus, seg.Cursor, start)
		}
	case http.StatusOK:
		// A full body only lines up with the file when writing from byte 0.
		if seg.Cursor > 0 {
			return 0, fmt.Errorf("%w: got 200 for offset %d", ErrRangeIgnored, seg.Cursor)
		}
		f.log.Debug().Str("op", "http/segment").Int("segment", f.index).Msg("server sent full content, writing from offset 0")
	case http.StatusRequestedRangeNotSatisfiable:
		f.log.Debug().Str("op", "http/segment").Int("segment", f.index).Msg("range not satisfiable, treating segment as complete")
		f.table.advance(f.index, seg.End)
		f.reporter.Add(seg.Remaining())
		return 0, nil
	default:
		return 0, fmt.Errorf("%w: %d for range %d-%d", ErrUnexpectedStatus, resp.StatusCode, seg.Cursor, seg.End-1)
	}

	written, err := f.engine.copyAt(ctx, resp.Body, f.file, seg.Cursor, seg.End, f.limiter, func(cursor, n int64) {
		f.table.advance(f.index, cursor)
		f.reporter.Add(n)
		metrics.BytesDownloaded.WithLabelValues(string(ModeMulti)).Add(float64(n))
	})
	if err != nil {
		return written, err
	}
	if seg.Cursor+written < seg.End {
		return written, fmt.Errorf("%w: stopped at %d of %d", ErrShortBody, seg.Cursor+written, seg.End)
	}
	return written, nil
}
