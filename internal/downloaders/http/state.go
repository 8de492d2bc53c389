package rangehttp

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

const CheckpointExt = ".download"

// CheckpointPath derives the sidecar path by replacing the destination's
// extension with CheckpointExt. A destination that already carries that
// extension gets it appended instead so the two never collide.
func CheckpointPath(dest string) string {
	ext := filepath.Ext(dest)
	if ext == CheckpointExt {
		return dest + CheckpointExt
	}
	return strings.TrimSuffix(dest, ext) + CheckpointExt
}

// StateStore persists per-segment progress as "start,cursor,end" lines.
type StateStore struct {
	path string
}

func NewStateStore(dest string) *StateStore {
	return &StateStore{path: CheckpointPath(dest)}
}

func (s *StateStore) Path() string { return s.path }

func (s *StateStore) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Save truncates and rewrites the whole checkpoint, then syncs it to disk.
func (s *StateStore) Save(segments []Segment) error {
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("open checkpoint: %w", err)
	}
	w := bufio.NewWriter(f)
	for _, seg := range segments {
		fmt.Fprintf(w, "%d,%d,%d\n", seg.Start, seg.Cursor, seg.End)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync checkpoint: %w", err)
	}
	return f.Close()
}

// Load parses the checkpoint, skipping malformed lines. It fails with
// ErrNoCheckpoint when the file is missing or holds no usable segment.
func (s *StateStore) Load() ([]Segment, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoCheckpoint, err)
	}
	defer f.Close()
	var segments []Segment
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		seg, ok := parseSegmentLine(scanner.Text())
		if !ok {
			continue
		}
		segments = append(segments, seg)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoCheckpoint, err)
	}
	if len(segments) == 0 {
		return nil, fmt.Errorf("%w: %s has no valid segments", ErrNoCheckpoint, s.path)
	}
	return segments, nil
}

func (s *StateStore) Remove() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Clean removes leftovers of interrupted downloads. For a file it drops the
// checkpoint and the partial destination beside it; a destination without a
// checkpoint is a finished file and is left alone. For a directory it drops
// every checkpoint inside it. It returns the removed paths.
func Clean(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err == nil && info.IsDir() {
		matches, err := filepath.Glob(filepath.Join(path, "*"+CheckpointExt))
		if err != nil {
			return nil, err
		}
		var removed []string
		for _, m := range matches {
			if err := os.Remove(m); err != nil {
				return removed, err
			}
			removed = append(removed, m)
		}
		return removed, nil
	}
	store := NewStateStore(path)
	if !store.Exists() {
		return nil, nil
	}
	var removed []string
	if err := os.Remove(path); err == nil {
		removed = append(removed, path)
	} else if !os.IsNotExist(err) {
		return nil, err
	}
	if err := store.Remove(); err != nil {
		return removed, err
	}
	return append(removed, store.Path()), nil
}

func parseSegmentLine(line string) (Segment, bool) {
	parts := strings.Split(strings.TrimSpace(line), ",")
	if len(parts) != 3 {
		return Segment{}, false
	}
	var vals [3]int64
	for i, p := range parts {
		v, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return Segment{}, false
		}
		vals[i] = v
	}
	seg := Segment{Start: vals[0], Cursor: vals[1], End: vals[2]}
	return seg, seg.valid()
}

// segmentTable is the in-memory DownloadState. Each fetcher advances only
// its own index; the checkpoint writer reads consistent snapshots.
type segmentTable struct {
	mu       sync.RWMutex
	segments []Segment
}

func newSegmentTable(segments []Segment) *segmentTable {
	return &segmentTable{segments: append([]Segment(nil), segments...)}
}

func (t *segmentTable) get(i int) Segment {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.segments[i]
}

func (t *segmentTable) advance(i int, cursor int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.segments[i].Cursor = cursor
}

func (t *segmentTable) snapshot() []Segment {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]Segment(nil), t.segments...)
}
