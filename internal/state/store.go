// Package state is the shared traffic picture: the latest perception
// observation and the approach currently holding the green.
package state

import (
	"sync"
	"time"

	"github.com/banshee-data/junction/internal/traffic"
)

// Vehicle types reported in Observation.Analytics.
var VehicleTypes = []string{"car", "bike", "bus", "truck"}

// Observation is one perception tick's output.
type Observation struct {
	Seq uint64
	At  time.Time

	Counts    [traffic.NumDirections]int
	ROICounts [traffic.NumDirections]int
	Emergency [traffic.NumDirections]bool
	Stalled   [traffic.NumDirections]bool
	Lost      [traffic.NumDirections]bool
	Analytics map[string]int

	IsNight bool
	Rain    bool
	// Stale is set when the detector failed and the counts were carried
	// over from the previous tick.
	Stale bool
}

// EmergencyDirection returns the flagged approach, preferring prefer when it
// is flagged and otherwise the first flagged one in rotation order after it.
func (o Observation) EmergencyDirection(prefer traffic.Direction) (traffic.Direction, bool) {
	d := prefer
	for i := 0; i < traffic.NumDirections; i++ {
		if o.Emergency[d] {
			return d, true
		}
		d = d.Next()
	}
	return 0, false
}

// Snapshot is a consistent read of the whole store.
type Snapshot struct {
	Observation
	CurrentGreen traffic.Direction
}

// Store guards the shared traffic picture. Readers always get a full copy
// taken under one lock, never a mix of two updates.
type Store struct {
	mu           sync.RWMutex
	obs          Observation
	currentGreen traffic.Direction
}

// NewStore returns an empty store with initial as the current green.
func NewStore(initial traffic.Direction) *Store {
	return &Store{currentGreen: initial}
}

// Update replaces the observation and stamps it with the next sequence
// number, which it returns. Negative counts are clamped to zero.
func (s *Store) Update(o Observation) uint64 {
	for i := range o.Counts {
		if o.Counts[i] < 0 {
			o.Counts[i] = 0
		}
		if o.ROICounts[i] < 0 {
			o.ROICounts[i] = 0
		}
	}
	o.Analytics = copyAnalytics(o.Analytics)

	s.mu.Lock()
	defer s.mu.Unlock()
	o.Seq = s.obs.Seq + 1
	s.obs = o
	return o.Seq
}

// SetCurrentGreen records the approach the scheduler is serving.
func (s *Store) SetCurrentGreen(d traffic.Direction) {
	s.mu.Lock()
	s.currentGreen = d
	s.mu.Unlock()
}

// Snapshot returns a copy of the store contents.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{Observation: s.obs, CurrentGreen: s.currentGreen}
	snap.Analytics = copyAnalytics(s.obs.Analytics)
	return snap
}

// Latest returns the current observation.
func (s *Store) Latest() Observation {
	return s.Snapshot().Observation
}

func copyAnalytics(in map[string]int) map[string]int {
	out := make(map[string]int, len(VehicleTypes))
	for _, t := range VehicleTypes {
		out[t] = 0
	}
	for k, v := range in {
		out[k] = v
	}
	return out
}
