package scheduler

import (
	"fmt"
	"time"

	"github.com/banshee-data/junction/internal/config"
	"github.com/banshee-data/junction/internal/traffic"
)

// Policy decides which approach is served next and for how long. A run uses
// one policy for both decisions.
type Policy interface {
	Name() string
	// Next picks the approach to serve after current.
	Next(current traffic.Direction, counts [traffic.NumDirections]int) traffic.Direction
	// GreenDuration sizes the green for an approach with count vehicles.
	GreenDuration(count int) time.Duration
	// Bounds returns the shortest and longest green the policy allows. A
	// zero max means unbounded.
	Bounds() (min, max time.Duration)
}

// Tiered serves approaches in strict rotation and picks one of three green
// lengths by comparing the count against two breakpoints.
type Tiered struct {
	Low, Medium, High time.Duration
	// Counts below LowTraffic get Low, below MediumTraffic get Medium.
	LowTraffic, MediumTraffic int
	Min, Max                  time.Duration
}

func (Tiered) Name() string { return config.PolicyTiered }

func (Tiered) Next(current traffic.Direction, _ [traffic.NumDirections]int) traffic.Direction {
	return current.Next()
}

func (p Tiered) GreenDuration(count int) time.Duration {
	d := p.High
	switch {
	case count < p.LowTraffic:
		d = p.Low
	case count < p.MediumTraffic:
		d = p.Medium
	}
	return clamp(d, p.Min, p.Max)
}

func (p Tiered) Bounds() (time.Duration, time.Duration) { return p.Min, p.Max }

// Proportional gives Min plus PerVehicle for each queued vehicle, capped at
// Max, and skips approaches with nobody waiting.
type Proportional struct {
	Min, Max, PerVehicle time.Duration
}

func (Proportional) Name() string { return config.PolicyProportional }

// Next returns the first approach after current with a non-zero count,
// current itself included last. With every approach empty it falls back to
// strict rotation.
func (Proportional) Next(current traffic.Direction, counts [traffic.NumDirections]int) traffic.Direction {
	d := current
	for i := 0; i < traffic.NumDirections; i++ {
		d = d.Next()
		if counts[d] > 0 {
			return d
		}
	}
	return current.Next()
}

func (p Proportional) GreenDuration(count int) time.Duration {
	if count < 0 {
		count = 0
	}
	return clamp(p.Min+time.Duration(count)*p.PerVehicle, p.Min, p.Max)
}

func (p Proportional) Bounds() (time.Duration, time.Duration) { return p.Min, p.Max }

func clamp(d, lo, hi time.Duration) time.Duration {
	if d < lo {
		return lo
	}
	if hi > 0 && d > hi {
		return hi
	}
	return d
}

// PolicyFromConfig builds the configured policy.
func PolicyFromConfig(c *config.Config) (Policy, error) {
	switch name := c.GetTimingPolicy(); name {
	case config.PolicyTiered:
		return Tiered{
			Low:           c.GetGreenLow(),
			Medium:        c.GetGreenMedium(),
			High:          c.GetGreenHigh(),
			LowTraffic:    c.GetLowTraffic(),
			MediumTraffic: c.GetMediumTraffic(),
			Min:           c.GetMinGreen(),
			Max:           c.GetMaxGreen(),
		}, nil
	case config.PolicyProportional:
		return Proportional{Min: c.GetMinGreen(), Max: c.GetMaxGreen(), PerVehicle: c.GetPerVehicle()}, nil
	default:
		return nil, fmt.Errorf("unknown timing policy %q", name)
	}
}
