package rangehttp

import (
	"context"
	"fmt"
	"os"
	"slices"
	"sync"

	"github.com/rs/zerolog"
	"github.com/tanq16/rangefetch/internal/progress"
	"golang.org/x/sync/semaphore"
)

func (e *Engine) multiDownload(ctx context.Context, target *Target, req Request, log zerolog.Logger) (*Outcome, error) {
	store := NewStateStore(target.Path)
	segments, resumed := e.restoreSegments(store, target, req.Threads, log)
	already := downloadedBytes(segments)

	reporter := progress.NewReporter(req.ID, req.Kind, target.Size, req.Sink, e.opts.Progress, log)
	file, err := prepareFile(target.Path, target.Size, resumed)
	if err != nil {
		reporter.Stop(err)
		return nil, err
	}
	defer file.Close()

	table := newSegmentTable(segments)
	save := func() error { return store.Save(table.snapshot()) }
	if !resumed {
		if err := save(); err != nil {
			log.Warn().Str("op", "http/multi").Err(err).Msg("could not write initial checkpoint")
		}
	}
	reporter.SetCheckpoint(save)
	reporter.Start(already)

	limiter := newLimiter(e.opts.BytesPerSecond)
	shared := &syncFile{f: file}
	gate := semaphore.NewWeighted(int64(min(req.Threads, e.opts.MaxParallel)))

	var wg sync.WaitGroup
	var mu sync.Mutex
	var failed []*SegmentError
	for i, seg := range segments {
		if seg.Done() {
			continue
		}
		wg.Add(1)
		go func(index int) {
			defer wg.Done()
			fetcher := &segmentFetcher{
				engine:   e,
				url:      target.URL,
				index:    index,
				table:    table,
				file:     shared,
				reporter: reporter,
				limiter:  limiter,
				log:      log,
			}
			var err error
			if err = gate.Acquire(ctx, 1); err == nil {
				err = fetcher.fetch(ctx)
				gate.Release(1)
			}
			if err != nil {
				mu.Lock()
				failed = append(failed, &SegmentError{Index: index, Segment: table.get(index), Err: err})
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	finalErr := func() error {
		if len(failed) > 0 {
			slices.SortFunc(failed, func(a, b *SegmentError) int { return a.Index - b.Index })
			return &DownloadError{Segments: failed}
		}
		if err := file.Sync(); err != nil {
			return fmt.Errorf("%w: sync %s: %w", ErrFilesystem, target.Path, err)
		}
		return verifySize(target.Path, target.Size)
	}()
	if finalErr != nil {
		reporter.Stop(finalErr)
		if err := save(); err != nil {
			log.Warn().Str("op", "http/multi").Err(err).Msg("could not save checkpoint after failure")
		}
		return nil, finalErr
	}
	reporter.Stop(nil)
	if err := store.Remove(); err != nil {
		log.Warn().Str("op", "http/multi").Err(err).Msg("could not remove checkpoint")
	}
	return &Outcome{
		Path:    target.Path,
		Target:  *target,
		Mode:    ModeMulti,
		Resumed: resumed,
		Bytes:   target.Size - already,
	}, nil
}

// restoreSegments returns the checkpointed segments when they describe
// exactly this resource and the partial file they refer to, or a fresh plan
// otherwise. A partial file with work left must exist at the full length.
// A finished checkpoint over a wrongly sized file is kept so that size
// verification reports it.
func (e *Engine) restoreSegments(store *StateStore, target *Target, threads int, log zerolog.Logger) ([]Segment, bool) {
	segments, err := store.Load()
	if err == nil {
		if !coversExactly(segments, target.Size) {
			log.Warn().Str("op", "http/multi").Str("checkpoint", store.Path()).
				Msg("checkpoint does not match remote size, starting over")
			return PlanSegments(target.Size, threads), false
		}
		allDone := !slices.ContainsFunc(segments, func(s Segment) bool { return !s.Done() })
		info, statErr := os.Stat(target.Path)
		if statErr != nil || (info.Size() != target.Size && !allDone) {
			log.Warn().Str("op", "http/multi").Str("checkpoint", store.Path()).
				Msg("partial file is missing or resized, starting over")
			return PlanSegments(target.Size, threads), false
		}
		log.Info().Str("op", "http/multi").Int("segments", len(segments)).
			Int64("done", downloadedBytes(segments)).Msg("resuming from checkpoint")
		return segments, true
	} else if store.Exists() {
		log.Warn().Str("op", "http/multi").Err(err).Msg("ignoring unreadable checkpoint")
	}
	return PlanSegments(target.Size, threads), false
}

// prepareFile opens the destination for positioned writes. Fresh plans get
// an emptied file sized up front; a resumed file is left as it is.
func prepareFile(path string, size int64, resumed bool) (*os.File, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrFilesystem, path, err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("%w: stat %s: %w", ErrFilesystem, path, err)
	}
	if !resumed {
		// drop stale bytes from an earlier attempt before sizing
		if info.Size() > 0 {
			if err := file.Truncate(0); err != nil {
				file.Close()
				return nil, fmt.Errorf("%w: truncate %s: %w", ErrFilesystem, path, err)
			}
		}
		if err := file.Truncate(size); err != nil {
			file.Close()
			return nil, fmt.Errorf("%w: allocate %s: %w", ErrFilesystem, path, err)
		}
	}
	return file, nil
}

func verifySize(path string, expected int64) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: stat %s: %w", ErrFilesystem, path, err)
	}
	if info.Size() != expected {
		return fmt.Errorf("%w: expected %d bytes, got %d", ErrSizeMismatch, expected, info.Size())
	}
	return nil
}
