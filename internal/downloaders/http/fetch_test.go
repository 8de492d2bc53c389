package rangehttp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/tanq16/rangefetch/internal/events"
	"github.com/tanq16/rangefetch/internal/progress"
)

// newFetcher wires a fetcher for segment 0 of segments against a fresh file
// of size total.
func newFetcher(t *testing.T, e *Engine, url string, total int64, segments []Segment) (*segmentFetcher, *progress.Reporter, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "out.bin")
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		t.Fatal(err)
	}
	if err := file.Truncate(total); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { file.Close() })
	reporter := progress.NewReporter("seg", events.KindFile, total, events.Discard, e.opts.Progress, zerolog.Nop())
	return &segmentFetcher{
		engine:   e,
		url:      url,
		index:    0,
		table:    newSegmentTable(segments),
		file:     &syncFile{f: file},
		reporter: reporter,
		log:      zerolog.Nop(),
	}, reporter, path
}

func TestSegmentRangeNotSatisfiableCompletes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Range", "bytes */100")
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
	}))
	defer server.Close()

	fetcher, reporter, path := newFetcher(t, testEngine(), server.URL, 100, []Segment{{Start: 50, Cursor: 99, End: 100}})
	if err := fetcher.fetch(context.Background()); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if seg := fetcher.table.get(0); !seg.Done() {
		t.Errorf("segment should be complete, got %v", seg)
	}
	reporter.Stop(nil)
	if got := reporter.Downloaded(); got != 1 {
		t.Errorf("expected 1 byte credited, got %d", got)
	}
	data, _ := os.ReadFile(path)
	if !bytes.Equal(data, make([]byte, 100)) {
		t.Error("expected no bytes written")
	}
}

func TestSegmentWritesAtCursor(t *testing.T) {
	data := pattern(1000)
	server, log := serveContent(t, data, nil)

	fetcher, reporter, path := newFetcher(t, testEngine(), server.URL, 1000, []Segment{{Start: 200, Cursor: 300, End: 600}})
	if err := fetcher.fetch(context.Background()); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if got := log.getRanges(); len(got) != 1 || got[0] != "bytes=300-599" {
		t.Errorf("expected one request for bytes=300-599, got %v", got)
	}
	written, _ := os.ReadFile(path)
	if !bytes.Equal(written[300:600], data[300:600]) {
		t.Error("segment bytes do not match source")
	}
	if !bytes.Equal(written[:300], make([]byte, 300)) || !bytes.Equal(written[600:], make([]byte, 400)) {
		t.Error("bytes outside the segment were modified")
	}
	reporter.Stop(nil)
	if got := reporter.Downloaded(); got != 300 {
		t.Errorf("expected 300 bytes reported, got %d", got)
	}
}

func TestSegmentFullResponseOnResumeFails(t *testing.T) {
	data := pattern(1000)
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write(data)
	}))
	defer server.Close()

	fetcher, _, path := newFetcher(t, testEngine(), server.URL, 1000, []Segment{{Start: 0, Cursor: 10, End: 500}})
	err := fetcher.fetch(context.Background())
	if !errors.Is(err, ErrRangeIgnored) {
		t.Fatalf("expected ErrRangeIgnored, got %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
	written, _ := os.ReadFile(path)
	if !bytes.Equal(written, make([]byte, 1000)) {
		t.Error("full response must not be written at a resumed offset")
	}
}

func TestSegmentFullResponseFromZeroIsClamped(t *testing.T) {
	data := pattern(1000)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(data)
	}))
	defer server.Close()

	fetcher, _, path := newFetcher(t, testEngine(), server.URL, 1000, []Segment{{Start: 0, Cursor: 0, End: 400}})
	if err := fetcher.fetch(context.Background()); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	written, _ := os.ReadFile(path)
	if !bytes.Equal(written[:400], data[:400]) {
		t.Error("first 400 bytes do not match")
	}
	if !bytes.Equal(written[400:], make([]byte, 600)) {
		t.Error("bytes past the segment end were written")
	}
}

func TestSegmentResumesAfterShortBody(t *testing.T) {
	data := pattern(1000)
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var start, end int64
		fmt.Sscanf(r.Header.Get("Range"), "bytes=%d-%d", &start, &end)
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, len(data)))
		w.WriteHeader(http.StatusPartialContent)
		if calls.Add(1) == 1 {
			// cut the first response halfway
			w.Write(data[start : start+(end-start+1)/2])
			return
		}
		w.Write(data[start : end+1])
	}))
	defer server.Close()

	fetcher, _, path := newFetcher(t, testEngine(), server.URL, 1000, []Segment{{Start: 0, Cursor: 0, End: 1000}})
	if err := fetcher.fetch(context.Background()); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("expected 2 requests, got %d", got)
	}
	written, _ := os.ReadFile(path)
	if !bytes.Equal(written, data) {
		t.Error("file content does not match after resume")
	}
}

func TestSegmentPersistentErrorExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	fetcher, _, _ := newFetcher(t, testEngine(), server.URL, 100, []Segment{{Start: 0, Cursor: 0, End: 100}})
	err := fetcher.fetch(context.Background())
	if !errors.Is(err, ErrUnexpectedStatus) {
		t.Fatalf("expected ErrUnexpectedStatus, got %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
}
