package scheduler

import (
	"time"

	"github.com/banshee-data/junction/internal/traffic"
)

// Forecast estimates, in whole seconds, how long each approach waits for its
// next green. Approaches are taken in rotation order after current; each one
// ahead costs a full ForecastUnit green plus yellow and red hold. The served
// approach waits 0 while green, otherwise a full cycle.
func Forecast(phase traffic.PhaseState, current traffic.Direction, remaining time.Duration, t Timing) [traffic.NumDirections]int {
	var out [traffic.NumDirections]int

	cumulative := remaining
	switch phase {
	case traffic.GreenPhase:
		cumulative += t.Yellow + t.RedHold
	case traffic.YellowPhase:
		cumulative += t.RedHold
	}
	step := t.ForecastUnit + t.Yellow + t.RedHold

	d := current
	for i := 1; i < traffic.NumDirections; i++ {
		d = d.Next()
		out[d] = int(cumulative / time.Second)
		cumulative += step
	}
	if phase != traffic.GreenPhase {
		out[current] = int(cumulative / time.Second)
	}
	return out
}
