package controller

import (
	"time"

	"github.com/banshee-data/junction/internal/capture"
	"github.com/banshee-data/junction/internal/events"
	"github.com/banshee-data/junction/internal/hwlink"
	"github.com/banshee-data/junction/internal/scheduler"
	"github.com/banshee-data/junction/internal/telemetry"
	"github.com/banshee-data/junction/internal/traffic"
	"github.com/banshee-data/junction/internal/version"
)

// Report is the operator status document served by /api/status.
type Report struct {
	Version       version.Info                            `json:"version"`
	Uptime        string                                  `json:"uptime"`
	Mode          traffic.Mode                            `json:"mode"`
	State         traffic.PhaseState                      `json:"state"`
	Current       traffic.Direction                       `json:"current_green"`
	Next          traffic.Direction                       `json:"next_dir"`
	Hold          bool                                    `json:"hold"`
	Timer         int                                     `json:"timer"`
	SignalMap     traffic.SignalMap                       `json:"signal_map"`
	Counts        map[traffic.Direction]int               `json:"counts"`
	WaitTimes     map[traffic.Direction]int               `json:"wait_times"`
	Emergency     scheduler.EmergencyStatus               `json:"emergency"`
	Hardware      hwlink.Stats                            `json:"hardware"`
	Sources       map[traffic.Direction]capture.SlotStats `json:"sources"`
	Viewers       telemetry.HubStats                      `json:"viewers"`
	Events        events.DispatchStats                    `json:"events"`
	Counters      Counters                                `json:"counters"`
	LastViolation *telemetry.Violation                    `json:"last_violation,omitempty"`
}

// Counters tracks degrade-and-continue paths.
type Counters struct {
	Ticks              int64 `json:"ticks"`
	TickPanics         int64 `json:"tick_panics"`
	RejectedSignals    int64 `json:"rejected_signals"`
	PerceptionFailures int64 `json:"perception_failures"`
	QueuedCommands     int   `json:"queued_commands"`
}

// Report assembles the current status from the last scheduler tick.
func (c *Controller) Report() Report {
	st := c.Scheduler.Status()
	counts := make(map[traffic.Direction]int, traffic.NumDirections)
	wait := make(map[traffic.Direction]int, traffic.NumDirections)
	for _, d := range traffic.Directions {
		counts[d] = st.Observation.Counts[d]
		wait[d] = st.WaitTimes[d]
	}
	var last *telemetry.Violation
	if v := c.Assembler.LastViolation(); v != nil {
		cp := v.Summary().(telemetry.Violation)
		last = &cp
	}
	return Report{
		Version:   version.Current(),
		Uptime:    c.clock.Since(c.started).Round(time.Second).String(),
		Mode:      st.Mode,
		State:     st.State,
		Current:   st.Current,
		Next:      st.Next,
		Hold:      st.Hold,
		Timer:     st.Timer,
		SignalMap: st.Signals,
		Counts:    counts,
		WaitTimes: wait,
		Emergency: st.Emergency,
		Hardware:  c.Emitter.Stats(),
		Sources:   c.Board.Stats(),
		Viewers:   c.Hub.Stats(),
		Events:    c.Events.Stats(),
		Counters: Counters{
			Ticks:              c.ticks.Load(),
			TickPanics:         c.tickPanics.Load(),
			RejectedSignals:    c.rejected.Load(),
			PerceptionFailures: c.Analyzer.Failures(),
			QueuedCommands:     c.Commands.Len(),
		},
		LastViolation: last,
	}
}
