package traffic

import "fmt"

// PhaseState is the position of the controller within one approach's
// service interval. The safety hold is RedPhase with no approach served.
type PhaseState uint8

const (
	GreenPhase PhaseState = iota
	YellowPhase
	RedPhase
)

var phaseNames = [...]string{"GREEN_PHASE", "YELLOW_PHASE", "RED_PHASE"}

func (p PhaseState) String() string {
	if int(p) >= len(phaseNames) {
		return fmt.Sprintf("phase(%d)", uint8(p))
	}
	return phaseNames[p]
}

func (p PhaseState) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// Mode selects who is driving phase changes.
type Mode uint8

const (
	Auto Mode = iota
	Manual
	Emergency
)

var modeNames = [...]string{"AUTO", "MANUAL", "EMERGENCY"}

func (m Mode) String() string {
	if int(m) >= len(modeNames) {
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
	return modeNames[m]
}

func (m Mode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// SignalMapFor derives the lamp aspects from the phase and the approach that
// currently holds right of way.
func SignalMapFor(state PhaseState, current Direction) SignalMap {
	m := AllRed()
	switch state {
	case GreenPhase:
		m[current] = Green
	case YellowPhase:
		m[current] = Yellow
	}
	return m
}

// Phase recovers the phase and served approach from a signal map. An all-red
// map yields RedPhase with ok=false because the served approach is not
// encoded in the lamps. A conflicting map is an error.
func (m SignalMap) Phase() (state PhaseState, current Direction, ok bool, err error) {
	if err := m.Validate(); err != nil {
		return RedPhase, 0, false, err
	}
	d, active := m.Active()
	if !active {
		return RedPhase, 0, false, nil
	}
	if m[d] == Yellow {
		return YellowPhase, d, true, nil
	}
	return GreenPhase, d, true, nil
}
