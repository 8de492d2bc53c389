package rangehttp

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/tanq16/rangefetch/internal/utils"
)

func testOptions() Options {
	opts := DefaultOptions()
	fast := utils.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond}
	opts.ProbeRetry = fast
	opts.SegmentRetry = fast
	opts.TransferRetry = fast
	opts.ProbeTimeout = 2 * time.Second
	opts.SegmentTimeout = 2 * time.Second
	opts.Progress.Tick = 5 * time.Millisecond
	opts.Progress.Emit = 10 * time.Millisecond
	opts.BufferSize = 4096
	return opts
}

func testEngine() *Engine {
	return NewEngine(&http.Client{}, testOptions(), zerolog.Nop())
}

func pattern(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i*7 + i/251)
	}
	return data
}

// requestLog records the Range header of every GET a test server sees.
type requestLog struct {
	mu     sync.Mutex
	ranges []string
	heads  int
}

func (l *requestLog) record(r *http.Request) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if r.Method == http.MethodHead {
		l.heads++
		return
	}
	l.ranges = append(l.ranges, r.Header.Get("Range"))
}

func (l *requestLog) getRanges() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.ranges...)
}

// serveContent answers HEAD and ranged GETs for data, optionally decorating
// headers first.
func serveContent(t *testing.T, data []byte, decorate func(http.Header)) (*httptest.Server, *requestLog) {
	t.Helper()
	log := &requestLog{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.record(r)
		if decorate != nil {
			decorate(w.Header())
		}
		http.ServeContent(w, r, "", time.Time{}, bytes.NewReader(data))
	}))
	t.Cleanup(server.Close)
	return server, log
}
