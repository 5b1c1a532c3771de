package timeutil

import "time"

// Stopwatch measures time spent in the current phase. It can be frozen so
// that elapsed time stops accumulating, and restarted at a phase boundary.
// A Stopwatch is not safe for concurrent use; its owner serialises access.
type Stopwatch struct {
	clock   Clock
	start   time.Time
	frozen  bool
	held    time.Duration
	started bool
}

// NewStopwatch returns a stopwatch started at the clock's current time.
func NewStopwatch(clock Clock) *Stopwatch {
	s := &Stopwatch{clock: clock}
	s.Restart()
	return s
}

// Restart begins a new interval at the current time and clears any freeze.
func (s *Stopwatch) Restart() {
	s.start = s.clock.Now()
	s.frozen = false
	s.held = 0
	s.started = true
}

// Elapsed returns the time accumulated since the last Restart, excluding any
// time spent frozen.
func (s *Stopwatch) Elapsed() time.Duration {
	if s.frozen {
		return s.held
	}
	if !s.started {
		return 0
	}
	if d := s.clock.Since(s.start); d > 0 {
		return d
	}
	return 0
}

// Freeze stops the stopwatch at its current reading. Freezing a frozen
// stopwatch has no effect.
func (s *Stopwatch) Freeze() {
	if s.frozen {
		return
	}
	s.held = s.Elapsed()
	s.frozen = true
}

// Frozen reports whether elapsed time is currently held.
func (s *Stopwatch) Frozen() bool { return s.frozen }

// Started returns the time of the last Restart.
func (s *Stopwatch) Started() time.Time { return s.start }
