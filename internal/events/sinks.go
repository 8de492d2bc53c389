package events

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/rs/zerolog"
)

type discard struct{}

func (discard) Notify(Notification) {}

// Discard drops every notification.
var Discard Sink = discard{}

// Func adapts a plain function to a Sink.
type Func func(Notification)

func (f Func) Notify(n Notification) { f(n) }

type multi []Sink

func (m multi) Notify(n Notification) {
	for _, s := range m {
		s.Notify(n)
	}
}

// Multi fans each notification out to every non-nil sink.
func Multi(sinks ...Sink) Sink {
	var out multi
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	switch len(out) {
	case 0:
		return Discard
	case 1:
		return out[0]
	}
	return out
}

type filter struct {
	next  Sink
	kinds []Kind
}

func (f filter) Notify(n Notification) {
	if slices.Contains(f.kinds, n.Kind) {
		f.next.Notify(n)
	}
}

// Filter forwards only notifications of the given kinds.
func Filter(next Sink, kinds ...Kind) Sink {
	return filter{next: next, kinds: kinds}
}

type chanSink struct {
	ch chan<- Notification
}

func (c chanSink) Notify(n Notification) {
	select {
	case c.ch <- n:
	default:
	}
}

// Chan delivers notifications to ch without ever blocking; a full channel
// drops the notification. This is the hand-off point for a UI event loop.
func Chan(ch chan<- Notification) Sink {
	return chanSink{ch: ch}
}

// Log writes each notification at debug level.
func Log(logger zerolog.Logger) Sink {
	return Func(func(n Notification) {
		ev := logger.Debug()
		if n.Failed() {
			ev = logger.Warn().Str("error", n.Error)
		}
		ev.Str("id", n.ID).Stringer("kind", n.Kind).Str("progress", n.Progress).
			Str("speed", n.Speed).Bool("downloading", n.Downloading).Msg("progress")
	})
}

// Memory keeps the latest notification per download and per kind so that
// pollers can query status instead of subscribing.
type Memory struct {
	mu     sync.RWMutex
	byID   map[string]Notification
	byKind map[Kind]Notification
	order  []string
}

func NewMemory() *Memory {
	return &Memory{
		byID:   make(map[string]Notification),
		byKind: make(map[Kind]Notification),
	}
}

func (m *Memory) Notify(n Notification) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[n.ID]; !ok {
		m.order = append(m.order, n.ID)
	}
	m.byID[n.ID] = n
	m.byKind[n.Kind] = n
}

func (m *Memory) Latest(id string) (Notification, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.byID[id]
	return n, ok
}

func (m *Memory) LatestOfKind(k Kind) (Notification, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.byKind[k]
	return n, ok
}

// All returns the latest notification of every download in first-seen order.
func (m *Memory) All() []Notification {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Notification, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.byID[id])
	}
	return out
}

// FileStatus is the document written by the file sink.
type FileStatus struct {
	ID          string `json:"id"`
	Kind        Kind   `json:"kind"`
	Progress    string `json:"progress"`
	Speed       string `json:"speed"`
	Downloading bool   `json:"downloading"`
	Error       string `json:"error,omitempty"`
}

// FileSink rewrites a JSON status file on every notification. The file is
// replaced through a rename so readers never see a torn write.
type FileSink struct {
	mu     sync.Mutex
	path   string
	logger zerolog.Logger
}

func NewFileSink(path string, logger zerolog.Logger) *FileSink {
	return &FileSink{path: path, logger: logger}
}

func (f *FileSink) Notify(n Notification) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.write(n); err != nil {
		f.logger.Warn().Str("op", "events/file").Err(err).Msgf("could not write status file %s", f.path)
	}
}

func (f *FileSink) write(n Notification) error {
	data, err := json.Marshal(FileStatus{
		ID:          n.ID,
		Kind:        n.Kind,
		Progress:    n.Progress,
		Speed:       n.Speed,
		Downloading: n.Downloading,
		Error:       n.Error,
	})
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".status-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace status file: %w", err)
	}
	return nil
}
