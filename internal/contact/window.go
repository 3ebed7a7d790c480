package contact

import "time"

// Window is a trailing sliding window with a fixed cap. It is evaluated at
// the moment of the request against the exact timestamps of earlier events,
// so there are no bucket boundaries to game.
type Window struct {
	Size  time.Duration
	Limit int
}

// Check reports whether one more event is allowed at now given the
// timestamps of previous events. Events at or before now-Size are ignored.
// When refused, retryAfter is the time until the oldest in-window event
// leaves the window, rounded up to a whole second (minimum one second).
func (w Window) Check(events []time.Time, now time.Time) (allowed bool, retryAfter time.Duration) {
	if w.Limit <= 0 {
		return false, w.Size
	}
	cutoff := now.Add(-w.Size)
	var (
		n      int
		oldest time.Time
	)
	for _, ts := range events {
		if !ts.After(cutoff) {
			continue
		}
		if n == 0 || ts.Before(oldest) {
			oldest = ts
		}
		n++
	}
	if n < w.Limit {
		return true, 0
	}
	wait := oldest.Add(w.Size).Sub(now)
	if rem := wait % time.Second; rem != 0 {
		wait += time.Second - rem
	}
	if wait < time.Second {
		wait = time.Second
	}
	return false, wait
}
