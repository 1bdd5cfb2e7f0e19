package queue

import (
	"math"
	"time"

	"golang.org/x/time/rate"
)

// window counts dispatches inside a trailing time window from their timestamps.
// A dispatch at t stops counting at exactly t+size.
type window struct {
	size   time.Duration
	limit  int
	stamps []time.Time
}

func newWindow(size time.Duration, limit int) *window {
	return &window{
		size:   size,
		limit:  limit,
		stamps: make([]time.Time, 0, max(limit, 0)),
	}
}

// prune drops timestamps that have left the window.
func (w *window) prune(now time.Time) {
	cutoff := now.Add(-w.size)

	i := 0
	for i < len(w.stamps) && !w.stamps[i].After(cutoff) {
		i++
	}

	if i > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[i:]...)
	}
}

// count returns the number of dispatches inside the window ending at now.
func (w *window) count(now time.Time) int {
	w.prune(now)
	return len(w.stamps)
}

// delay returns how long to wait from now until another dispatch fits in the window.
func (w *window) delay(now time.Time) time.Duration {
	if w.limit <= 0 || w.size <= 0 {
		return 0
	}

	w.prune(now)

	if len(w.stamps) < w.limit {
		return 0
	}

	oldest := w.stamps[len(w.stamps)-w.limit]

	return oldest.Add(w.size).Sub(now)
}

func (w *window) record(now time.Time) {
	if w.limit <= 0 || w.size <= 0 {
		return
	}

	w.stamps = append(w.stamps, now)
}

// admission combines the rolling window ceiling with the minimum spacing between dispatches.
// Both must hold for a dispatch to start. Not safe for concurrent use.
type admission struct {
	window      *window
	spacing     *rate.Limiter
	minInterval time.Duration
}

func newAdmission(maxPerWindow int, windowSize, minInterval time.Duration) *admission {
	a := &admission{
		window:      newWindow(windowSize, maxPerWindow),
		minInterval: minInterval,
	}

	// A single token refilled every minInterval enforces the spacing
	if minInterval > 0 {
		a.spacing = rate.NewLimiter(rate.Every(minInterval), 1)
	}

	return a
}

// delay returns 0 when a dispatch is allowed at now, otherwise the time until it will be.
func (a *admission) delay(now time.Time) time.Duration {
	wait := a.window.delay(now)

	if a.spacing != nil {
		if tokens := a.spacing.TokensAt(now); tokens < 1 {
			spacingWait := time.Duration(math.Ceil((1 - tokens) * float64(a.minInterval)))
			wait = max(wait, spacingWait)
		}
	}

	return wait
}

// record registers a dispatch that started at now.
func (a *admission) record(now time.Time) {
	a.window.record(now)

	if a.spacing != nil {
		a.spacing.ReserveN(now, 1)
	}
}

// inWindow returns the number of dispatches in the trailing window.
func (a *admission) inWindow(now time.Time) int {
	return a.window.count(now)
}
