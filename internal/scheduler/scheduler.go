// Package scheduler is the signal phase state machine. Each Tick reads one
// consistent snapshot of the traffic state, advances the phase, applies at
// most one operator command and emergency preemption, and returns the full
// status derived from that single snapshot.
package scheduler

import (
	"sync"
	"time"

	"github.com/banshee-data/junction/internal/monitoring"
	"github.com/banshee-data/junction/internal/state"
	"github.com/banshee-data/junction/internal/timeutil"
	"github.com/banshee-data/junction/internal/traffic"
)

// Timing holds the fixed phase lengths.
type Timing struct {
	Yellow  time.Duration
	RedHold time.Duration
	// ForecastUnit is the green length assumed for every approach queued
	// ahead in the wait forecast.
	ForecastUnit time.Duration
	// EmergencyMax caps a preemption regardless of the detector.
	EmergencyMax time.Duration
	// EmergencyConfirm is the number of consecutive observations that must
	// flag the same approach before preemption starts.
	EmergencyConfirm int
}

// EventKind names scheduler events worth publishing.
type EventKind string

const (
	EmergencyStarted EventKind = "emergency_started"
	EmergencyCleared EventKind = "emergency_cleared"
	EmergencyExpired EventKind = "emergency_expired"
	CommandApplied   EventKind = "command_applied"
)

// Event is emitted by Tick for state changes outside the normal rotation.
type Event struct {
	Kind      EventKind         `json:"kind"`
	Direction traffic.Direction `json:"direction"`
	Command   string            `json:"command,omitempty"`
	At        time.Time         `json:"at"`
}

// EmergencyStatus reports an active preemption.
type EmergencyStatus struct {
	Active    bool              `json:"active"`
	Direction traffic.Direction `json:"direction"`
	Elapsed   int               `json:"elapsed"`
}

// Status is everything observable about one tick. All fields derive from
// the same snapshot.
type Status struct {
	At            time.Time
	Signals       traffic.SignalMap
	State         traffic.PhaseState
	Mode          traffic.Mode
	Current       traffic.Direction
	Next          traffic.Direction
	Hold          bool
	Remaining     time.Duration
	Timer         int
	GreenDuration time.Duration
	WaitTimes     [traffic.NumDirections]int
	Emergency     EmergencyStatus
	Observation   state.Observation
	Events        []Event
}

// Scheduler owns the phase state. Tick and Status may be called from
// different goroutines.
type Scheduler struct {
	clock  timeutil.Clock
	store  *state.Store
	policy Policy
	timing Timing
	logf   monitoring.Logger

	mu            sync.Mutex
	phase         traffic.PhaseState
	mode          traffic.Mode
	current       traffic.Direction
	next          traffic.Direction
	greenDuration time.Duration
	hold          bool
	watch         *timeutil.Stopwatch

	emergencyDir   traffic.Direction
	emergencyStart time.Time
	// latched suppresses re-entry on latchedDir after expiry or an operator
	// override until the detector stops flagging that approach.
	latched    bool
	latchedDir traffic.Direction
	confirmSeq uint64
	confirmDir traffic.Direction
	confirmRun int

	last Status
}

// New returns a scheduler serving initial in GREEN for the forecast unit,
// held within the policy's bounds.
func New(clock timeutil.Clock, store *state.Store, policy Policy, timing Timing, initial traffic.Direction) *Scheduler {
	if timing.EmergencyConfirm < 1 {
		timing.EmergencyConfirm = 1
	}
	lo, hi := policy.Bounds()
	s := &Scheduler{
		clock:         clock,
		store:         store,
		policy:        policy,
		timing:        timing,
		logf:          monitoring.Tagged("scheduler"),
		phase:         traffic.GreenPhase,
		mode:          traffic.Auto,
		current:       initial,
		next:          initial.Next(),
		greenDuration: clamp(timing.ForecastUnit, lo, hi),
		watch:         timeutil.NewStopwatch(clock),
	}
	store.SetCurrentGreen(initial)
	s.last = s.statusLocked(clock.Now(), store.Snapshot().Observation, nil)
	return s
}

// Tick advances the state machine by one step. cmd, when not nil, is applied
// before the phase is advanced.
func (s *Scheduler) Tick(cmd *traffic.Command) Status {
	snap := s.store.Snapshot()

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	var events []Event

	if cmd != nil {
		s.applyLocked(*cmd)
		events = append(events, Event{Kind: CommandApplied, Direction: cmd.Direction, Command: cmd.String(), At: now})
	}
	events = append(events, s.emergencyLocked(snap.Observation, now)...)
	s.advanceLocked(snap.Counts)

	if s.current != snap.CurrentGreen {
		s.store.SetCurrentGreen(s.current)
	}
	s.last = s.statusLocked(now, snap.Observation, events)
	return s.last
}

// Status returns the result of the most recent Tick.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// InSafetyHold reports whether an operator stop_all is holding every
// approach at red.
func (s *Scheduler) InSafetyHold() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hold && s.phase == traffic.RedPhase
}

func (s *Scheduler) applyLocked(cmd traffic.Command) {
	if s.mode == traffic.Emergency {
		s.logf("operator %s overrides emergency on %s", cmd, s.emergencyDir)
		s.latched = true
		s.latchedDir = s.emergencyDir
		s.watch.Restart()
	}
	switch cmd.Kind {
	case traffic.CommandAuto:
		s.mode = traffic.Auto
		s.hold = false
	case traffic.CommandStopAll:
		s.mode = traffic.Manual
		s.hold = true
		s.enterRedLocked()
	case traffic.CommandForce:
		s.mode = traffic.Manual
		s.hold = false
		s.next = cmd.Direction
		if !(s.phase == traffic.GreenPhase && s.current == cmd.Direction) {
			s.enterRedLocked()
		}
	}
}

// emergencyLocked debounces the detector flag and enters, clears or
// expires preemption.
func (s *Scheduler) emergencyLocked(obs state.Observation, now time.Time) []Event {
	if obs.Seq != s.confirmSeq {
		s.confirmSeq = obs.Seq
		flags := obs
		if s.latched {
			if obs.Emergency[s.latchedDir] {
				flags.Emergency[s.latchedDir] = false
			} else {
				s.latched = false
			}
		}
		d, flagged := flags.EmergencyDirection(s.current)
		switch {
		case !flagged:
			s.confirmRun = 0
		case s.confirmRun > 0 && d == s.confirmDir:
			s.confirmRun++
		default:
			s.confirmDir = d
			s.confirmRun = 1
		}
	}
	confirmed := s.confirmRun >= s.timing.EmergencyConfirm

	if s.mode == traffic.Emergency {
		if !confirmed || s.confirmDir != s.emergencyDir {
			s.mode = traffic.Auto
			s.watch.Restart()
			s.logf("emergency on %s cleared", s.emergencyDir)
			return []Event{{Kind: EmergencyCleared, Direction: s.emergencyDir, At: now}}
		}
		if s.timing.EmergencyMax > 0 && now.Sub(s.emergencyStart) >= s.timing.EmergencyMax {
			s.mode = traffic.Auto
			s.latched = true
			s.latchedDir = s.emergencyDir
			s.watch.Restart()
			s.logf("emergency on %s expired after %s", s.emergencyDir, s.timing.EmergencyMax)
			return []Event{{Kind: EmergencyExpired, Direction: s.emergencyDir, At: now}}
		}
		return nil
	}

	if !confirmed || (s.latched && s.confirmDir == s.latchedDir) {
		return nil
	}

	d := s.confirmDir
	s.mode = traffic.Emergency
	s.hold = false
	s.emergencyDir = d
	s.emergencyStart = now
	s.next = d
	s.greenDuration = s.policy.GreenDuration(obs.Counts[d])
	if s.phase == traffic.GreenPhase && s.current == d {
		s.watch.Freeze()
	} else {
		s.enterRedLocked()
	}
	s.logf("emergency vehicle on %s, preempting", d)
	return []Event{{Kind: EmergencyStarted, Direction: d, At: now}}
}

func (s *Scheduler) advanceLocked(counts [traffic.NumDirections]int) {
	elapsed := s.watch.Elapsed()

	switch s.phase {
	case traffic.GreenPhase:
		if s.mode != traffic.Auto || elapsed < s.greenDuration {
			return
		}
		s.next = s.policy.Next(s.current, counts)
		s.greenDuration = s.policy.GreenDuration(counts[s.next])
		s.phase = traffic.YellowPhase
		s.watch.Restart()

	case traffic.YellowPhase:
		if elapsed < s.timing.Yellow {
			return
		}
		s.phase = traffic.RedPhase
		s.watch.Restart()

	case traffic.RedPhase:
		if s.hold || elapsed < s.timing.RedHold {
			return
		}
		s.phase = traffic.GreenPhase
		s.current = s.next
		s.watch.Restart()
		if s.mode == traffic.Emergency {
			s.watch.Freeze()
		}
	}
}

func (s *Scheduler) enterRedLocked() {
	s.phase = traffic.RedPhase
	s.watch.Restart()
}

func (s *Scheduler) targetLocked() time.Duration {
	switch s.phase {
	case traffic.GreenPhase:
		return s.greenDuration
	case traffic.YellowPhase:
		return s.timing.Yellow
	default:
		return s.timing.RedHold
	}
}

func (s *Scheduler) statusLocked(now time.Time, obs state.Observation, events []Event) Status {
	remaining := s.targetLocked() - s.watch.Elapsed()
	if remaining < 0 {
		remaining = 0
	}
	st := Status{
		At:            now,
		Signals:       traffic.SignalMapFor(s.phase, s.current),
		State:         s.phase,
		Mode:          s.mode,
		Current:       s.current,
		Next:          s.next,
		Hold:          s.hold,
		Remaining:     remaining,
		Timer:         int(remaining / time.Second),
		GreenDuration: s.greenDuration,
		WaitTimes:     Forecast(s.phase, s.current, remaining, s.timing),
		Observation:   obs,
		Events:        events,
	}
	if s.mode == traffic.Emergency {
		st.Emergency = EmergencyStatus{
			Active:    true,
			Direction: s.emergencyDir,
			Elapsed:   int(now.Sub(s.emergencyStart) / time.Second),
		}
	}
	return st
}
