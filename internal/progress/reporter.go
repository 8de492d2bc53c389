// Package progress aggregates byte deltas from concurrent fetchers into
// periodic notifications and drives the periodic checkpoint save.
package progress

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/tanq16/rangefetch/internal/events"
	"github.com/tanq16/rangefetch/internal/utils"
)

type Config struct {
	Tick       time.Duration `yaml:"tick" validate:"gt=0"`
	Emit       time.Duration `yaml:"emit" validate:"gt=0"`
	Window     time.Duration `yaml:"window" validate:"gt=0"`
	Checkpoint time.Duration `yaml:"checkpoint" validate:"gt=0"`
	MaxBatch   int           `yaml:"batch" validate:"gte=1"`
	Buffer     int           `yaml:"-"`
}

func DefaultConfig() Config {
	return Config{
		Tick:       100 * time.Millisecond,
		Emit:       250 * time.Millisecond,
		Window:     2 * time.Second,
		Checkpoint: 30 * time.Second,
		MaxBatch:   1000,
		Buffer:     10000,
	}
}

// Reporter runs beside the fetchers of one download. Fetchers hand it byte
// deltas through Add, which never blocks.
type Reporter struct {
	cfg    Config
	id     string
	kind   events.Kind
	total  int64
	sink   events.Sink
	save   func() error
	logger zerolog.Logger

	intake     chan int64
	overflow   atomic.Int64
	cumulative atomic.Int64

	started  bool
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once

	mu       sync.Mutex
	finished bool
}

func NewReporter(id string, kind events.Kind, total int64, sink events.Sink, cfg Config, logger zerolog.Logger) *Reporter {
	def := DefaultConfig()
	if cfg.Tick <= 0 {
		cfg.Tick = def.Tick
	}
	if cfg.Emit <= 0 {
		cfg.Emit = def.Emit
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.Checkpoint <= 0 {
		cfg.Checkpoint = def.Checkpoint
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = def.MaxBatch
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = def.Buffer
	}
	if sink == nil {
		sink = events.Discard
	}
	return &Reporter{
		cfg:    cfg,
		id:     id,
		kind:   kind,
		total:  total,
		sink:   sink,
		logger: logger,
		intake: make(chan int64, cfg.Buffer),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// SetCheckpoint installs the function called on the checkpoint cadence.
// It must be set before Start.
func (r *Reporter) SetCheckpoint(save func() error) {
	r.save = save
}

// Add records a byte delta. A full intake is folded in on the next tick
// instead of blocking the caller.
func (r *Reporter) Add(delta int64) {
	select {
	case r.intake <- delta:
	default:
		r.overflow.Add(delta)
	}
}

func (r *Reporter) Downloaded() int64 {
	return r.cumulative.Load()
}

// Start emits the opening notification and begins sampling. already is the
// byte count restored from a checkpoint.
func (r *Reporter) Start(already int64) {
	r.cumulative.Store(already)
	r.started = true
	r.emit(0)
	go r.run()
}

func (r *Reporter) run() {
	defer close(r.doneCh)
	ticker := time.NewTicker(r.cfg.Tick)
	defer ticker.Stop()
	window := newSpeedWindow(r.cfg.Window)
	lastEmit := time.Now()
	lastSave := time.Now()
	for {
		select {
		case <-r.stopCh:
			r.drain(-1)
			return
		case now := <-ticker.C:
			r.drain(r.cfg.MaxBatch)
			current := r.cumulative.Load()
			window.push(now, current)
			if now.Sub(lastEmit) >= r.cfg.Emit {
				r.emit(window.rate())
				lastEmit = now
			}
			if r.save != nil && now.Sub(lastSave) >= r.cfg.Checkpoint {
				if err := r.save(); err != nil {
					r.logger.Warn().Str("op", "progress/checkpoint").Err(err).Msg("checkpoint save failed")
				}
				lastSave = now
			}
			// Sampling ends at the total; the terminal notification waits
			// for Stop, which knows whether verification passed.
			if r.total > 0 && current >= r.total {
				r.emit(window.rate())
				return
			}
		}
	}
}

// drain folds pending deltas into the cumulative counter; limit < 0 drains
// everything currently queued.
func (r *Reporter) drain(limit int) {
	var batch int64
	for n := 0; limit < 0 || n < limit; n++ {
		select {
		case d := <-r.intake:
			batch += d
			continue
		default:
		}
		break
	}
	batch += r.overflow.Swap(0)
	if batch != 0 {
		r.cumulative.Add(batch)
	}
}

// Stop ends sampling and emits the terminal notification: 100% when err is
// nil, 0% with the error otherwise. A failure is reported even if the total
// was already reached.
func (r *Reporter) Stop(err error) {
	r.stopOnce.Do(func() {
		close(r.stopCh)
		if r.started {
			<-r.doneCh
		}
		r.drain(-1)
		if err != nil {
			r.fail(err)
			return
		}
		r.complete()
	})
}

func (r *Reporter) complete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished {
		return
	}
	r.finished = true
	done := r.cumulative.Load()
	total := max(r.total, done)
	r.sink.Notify(events.Notification{
		ID:          r.id,
		Kind:        r.kind,
		Progress:    "100.0%",
		Percent:     100,
		Speed:       utils.FormatSpeed(0),
		Downloaded:  done,
		Total:       total,
		Downloading: false,
		Time:        time.Now(),
	})
}

func (r *Reporter) fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = true
	r.sink.Notify(events.Notification{
		ID:          r.id,
		Kind:        r.kind,
		Progress:    "0.0%",
		Percent:     0,
		Speed:       utils.FormatSpeed(0),
		Downloaded:  r.cumulative.Load(),
		Total:       r.total,
		Downloading: false,
		Error:       err.Error(),
		Time:        time.Now(),
	})
}

func (r *Reporter) emit(rate float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished {
		return
	}
	done := r.cumulative.Load()
	pctStr, pct := utils.FormatPercent(done, r.total)
	r.sink.Notify(events.Notification{
		ID:          r.id,
		Kind:        r.kind,
		Progress:    pctStr,
		Percent:     pct,
		Speed:       utils.FormatSpeed(rate),
		BytesPerSec: rate,
		Downloaded:  done,
		Total:       r.total,
		Downloading: true,
		Time:        time.Now(),
	})
}
