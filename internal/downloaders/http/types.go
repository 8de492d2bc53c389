package rangehttp

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tanq16/rangefetch/internal/events"
	"github.com/tanq16/rangefetch/internal/progress"
	"github.com/tanq16/rangefetch/internal/utils"
)

var (
	ErrRangeIgnored     = errors.New("server ignored range on a resumed segment")
	ErrUnexpectedStatus = errors.New("unexpected status code")
	ErrShortBody        = errors.New("response ended before segment end")
	ErrSizeMismatch     = errors.New("size mismatch")
	ErrNoCheckpoint     = errors.New("no usable checkpoint")
	ErrFilesystem       = errors.New("filesystem error")
)

// Target describes what to fetch. The prober fills everything but Path.
type Target struct {
	URL            string // after redirects
	Path           string
	Filename       string
	Size           int64 // 0 when unknown
	RangeSupported bool
}

// Segment is the byte range [Start, End) with Cursor the next byte to write.
type Segment struct {
	Start  int64
	Cursor int64
	End    int64
}

func (s Segment) Done() bool        { return s.Cursor >= s.End }
func (s Segment) Downloaded() int64 { return s.Cursor - s.Start }
func (s Segment) Remaining() int64  { return s.End - s.Cursor }

func (s Segment) valid() bool {
	return s.Start >= 0 && s.Start <= s.Cursor && s.Cursor <= s.End
}

type Request struct {
	ID          string      `json:"id"`
	URL         string      `json:"url" validate:"required,url"`
	Destination string      `json:"destination" validate:"required"`
	Threads     int         `json:"threads" validate:"gte=0,lte=64"`
	Kind        events.Kind `json:"kind"`
	Sink        events.Sink `json:"-"`
}

type Mode string

const (
	ModeMulti  Mode = "multi"
	ModeSingle Mode = "single"
)

type Outcome struct {
	Path    string
	Target  Target
	Mode    Mode
	Resumed bool
	Bytes   int64
	Elapsed time.Duration
}

// MaxParallelSegments bounds in-flight segment fetches per download no
// matter what Options or the request ask for.
const MaxParallelSegments = 16

type Options struct {
	Threads        int
	MaxParallel    int
	ProbeTimeout   time.Duration
	SegmentTimeout time.Duration // time allowed to receive response headers
	ProbeRetry     utils.RetryPolicy
	SegmentRetry   utils.RetryPolicy
	TransferRetry  utils.RetryPolicy
	Progress       progress.Config
	BytesPerSecond int
	BufferSize     int
}

func DefaultOptions() Options {
	return Options{
		Threads:        8,
		MaxParallel:    MaxParallelSegments,
		ProbeTimeout:   10 * time.Second,
		SegmentTimeout: 60 * time.Second,
		ProbeRetry:     utils.RetryPolicy{MaxAttempts: 3, BaseDelay: 2 * time.Second, Backoff: utils.Exponential(0)},
		SegmentRetry:   utils.RetryPolicy{MaxAttempts: 10, BaseDelay: 2 * time.Second, Backoff: utils.Exponential(5)},
		TransferRetry:  utils.RetryPolicy{MaxAttempts: 5, BaseDelay: 2 * time.Second, Backoff: utils.Exponential(0)},
		Progress:       progress.DefaultConfig(),
		BufferSize:     utils.DefaultBufferSize,
	}
}

// SegmentError is one segment that exhausted its retries.
type SegmentError struct {
	Index   int
	Segment Segment
	Err     error
}

func (e *SegmentError) Error() string {
	return fmt.Sprintf("segment %d [%d-%d) stopped at %d: %v", e.Index, e.Segment.Start, e.Segment.End, e.Segment.Cursor, e.Err)
}

func (e *SegmentError) Unwrap() error { return e.Err }

// DownloadError summarizes every failed segment of a multi-segment run.
type DownloadError struct {
	Segments []*SegmentError
}

func (e *DownloadError) Error() string {
	parts := make([]string, 0, len(e.Segments))
	for _, s := range e.Segments {
		parts = append(parts, s.Error())
	}
	return fmt.Sprintf("%d segment(s) failed: %s", len(e.Segments), strings.Join(parts, "; "))
}

func (e *DownloadError) Unwrap() []error {
	errs := make([]error, 0, len(e.Segments))
	for _, s := range e.Segments {
		errs = append(errs, s)
	}
	return errs
}
