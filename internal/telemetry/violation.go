package telemetry

import (
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/junction/internal/traffic"
)

// Violation is a vehicle seen at the stop line of an approach showing red.
type Violation struct {
	ID        string            `json:"id"`
	Direction traffic.Direction `json:"dir"`
	Time      string            `json:"time"`
	Timestamp time.Time         `json:"timestamp"`
	Snapshot  string            `json:"img,omitempty"`
}

// ViolationMonitor reports red-light violations at most once per window for
// each approach, and at most one per tick overall.
type ViolationMonitor struct {
	window time.Duration
	last   [traffic.NumDirections]time.Time
}

func NewViolationMonitor(window time.Duration) *ViolationMonitor {
	return &ViolationMonitor{window: window}
}

// Check returns a violation for the first red approach, in rotation order,
// with a vehicle inside its stop-line region and no report within the
// window. feeds supplies the snapshot.
func (m *ViolationMonitor) Check(now time.Time, signals traffic.SignalMap, roi [traffic.NumDirections]int, feeds map[string]string) *Violation {
	for _, d := range traffic.Directions {
		if signals.Get(d) != traffic.Red || roi[d] <= 0 {
			continue
		}
		if last := m.last[d]; !last.IsZero() && now.Sub(last) < m.window {
			continue
		}
		m.last[d] = now
		return &Violation{
			ID:        uuid.NewString(),
			Direction: d,
			Time:      now.Format("15:04:05"),
			Timestamp: now,
			Snapshot:  feeds[d.String()],
		}
	}
	return nil
}

// Summary returns v without the snapshot, for log lines.
func (v Violation) Summary() any {
	v.Snapshot = ""
	return v
}
