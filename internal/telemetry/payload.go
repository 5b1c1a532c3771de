// Package telemetry publishes the controller's per-tick picture to viewers
// over websocket and accepts operator commands back.
package telemetry

import (
	"sync"

	"github.com/banshee-data/junction/internal/capture"
	"github.com/banshee-data/junction/internal/scheduler"
	"github.com/banshee-data/junction/internal/traffic"
)

// Weather modes reported in Env, most specific first.
const (
	WeatherRain  = "RAIN"
	WeatherNight = "NIGHT"
	WeatherClear = "CLEAR"
)

// Payload is the JSON document pushed to every viewer once per tick.
type Payload struct {
	Feeds     map[string]string `json:"feeds"`
	Counts    map[string]int    `json:"counts"`
	Logic     Logic             `json:"logic"`
	WaitTimes map[string]int    `json:"wait_times"`
	Analytics map[string]int    `json:"analytics"`
	Env       Env               `json:"env"`
	Violation *Violation        `json:"violation,omitempty"`
}

// Logic is the scheduler part of the payload.
type Logic struct {
	SignalMap     traffic.SignalMap         `json:"signal_map"`
	Timer         int                       `json:"timer"`
	WaitTimes     map[string]int            `json:"wait_times"`
	State         traffic.PhaseState        `json:"state"`
	CurrentGreen  traffic.Direction         `json:"current_green"`
	Mode          traffic.Mode              `json:"mode"`
	ActiveDir     *traffic.Direction        `json:"active_dir"`
	NextDir       traffic.Direction         `json:"next_dir"`
	GreenDuration int                       `json:"green_duration"`
	Hold          bool                      `json:"hold"`
	Emergency     scheduler.EmergencyStatus `json:"emergency"`
}

// Env describes conditions around the junction.
type Env struct {
	WeatherMode  string              `json:"weather_mode"`
	IsNight      bool                `json:"is_night"`
	ObstacleZone []traffic.Direction `json:"obstacle_zone"`
	Lost         []traffic.Direction `json:"lost"`
	Stale        bool                `json:"stale"`
}

// Assembler builds payloads. It owns the feed cache and the violation
// throttle so it must see every tick in order.
type Assembler struct {
	feeds      *FeedEncoder
	violations *ViolationMonitor

	mu   sync.Mutex
	last *Violation
}

func NewAssembler(feeds *FeedEncoder, violations *ViolationMonitor) *Assembler {
	return &Assembler{feeds: feeds, violations: violations}
}

// Build assembles the payload for st. frames are the images shown as feeds
// and used as violation snapshots.
func (a *Assembler) Build(st scheduler.Status, frames [traffic.NumDirections]capture.Frame) Payload {
	obs := st.Observation
	feeds := a.feeds.Encode(frames)

	counts := make(map[string]int, traffic.NumDirections+2)
	wait := make(map[string]int, traffic.NumDirections)
	roiTotal := 0
	for _, d := range traffic.Directions {
		counts[d.String()] = obs.Counts[d]
		wait[d.String()] = st.WaitTimes[d]
		roiTotal += obs.ROICounts[d]
	}
	counts["roi_vehicles"] = roiTotal
	if obs.Rain {
		counts["rain_trigger"] = 1
	} else {
		counts["rain_trigger"] = 0
	}

	analytics := make(map[string]int, len(obs.Analytics))
	for k, v := range obs.Analytics {
		analytics[k] = v
	}

	var active *traffic.Direction
	if d, ok := st.Signals.Active(); ok {
		active = &d
	}

	env := Env{
		WeatherMode:  weatherMode(obs.Rain, obs.IsNight),
		IsNight:      obs.IsNight,
		ObstacleZone: flagged(obs.Stalled),
		Lost:         flagged(obs.Lost),
		Stale:        obs.Stale,
	}

	p := Payload{
		Feeds:  feeds,
		Counts: counts,
		Logic: Logic{
			SignalMap:     st.Signals,
			Timer:         st.Timer,
			WaitTimes:     wait,
			State:         st.State,
			CurrentGreen:  st.Current,
			Mode:          st.Mode,
			ActiveDir:     active,
			NextDir:       st.Next,
			GreenDuration: int(st.GreenDuration.Seconds()),
			Hold:          st.Hold,
			Emergency:     st.Emergency,
		},
		WaitTimes: wait,
		Analytics: analytics,
		Env:       env,
	}
	if v := a.violations.Check(st.At, st.Signals, obs.ROICounts, feeds); v != nil {
		p.Violation = v
		a.mu.Lock()
		a.last = v
		a.mu.Unlock()
	}
	return p
}

// LastViolation returns the most recent violation reported by Build.
func (a *Assembler) LastViolation() *Violation {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last
}

func weatherMode(rain, night bool) string {
	switch {
	case rain:
		return WeatherRain
	case night:
		return WeatherNight
	default:
		return WeatherClear
	}
}

func flagged(flags [traffic.NumDirections]bool) []traffic.Direction {
	out := []traffic.Direction{}
	for _, d := range traffic.Directions {
		if flags[d] {
			out = append(out, d)
		}
	}
	return out
}
