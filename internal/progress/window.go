package progress

import "time"

type sample struct {
	at    time.Time
	bytes int64
}

// speedWindow keeps (time, cumulative bytes) samples younger than span and
// derives a moving-average throughput from them.
type speedWindow struct {
	span    time.Duration
	samples []sample
}

func newSpeedWindow(span time.Duration) *speedWindow {
	return &speedWindow{span: span}
}

func (w *speedWindow) push(at time.Time, cumulative int64) {
	w.samples = append(w.samples, sample{at: at, bytes: cumulative})
	cut := 0
	for cut < len(w.samples) && at.Sub(w.samples[cut].at) >= w.span {
		cut++
	}
	if cut > 0 {
		w.samples = append(w.samples[:0], w.samples[cut:]...)
	}
}

// rate is bytes per second between the oldest and newest sample.
func (w *speedWindow) rate() float64 {
	if len(w.samples) < 2 {
		return 0
	}
	oldest, latest := w.samples[0], w.samples[len(w.samples)-1]
	elapsed := latest.at.Sub(oldest.at).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return max(0, float64(latest.bytes-oldest.bytes)/elapsed)
}
