package perception

import (
	"context"
	"fmt"
	"image"
	"sync/atomic"
	"time"

	"github.com/banshee-data/junction/internal/capture"
	"github.com/banshee-data/junction/internal/monitoring"
	"github.com/banshee-data/junction/internal/state"
	"github.com/banshee-data/junction/internal/traffic"
)

// Options configures an Analyzer. An approach without an ROI gets no
// stop-line count, StalledLimit 0 never flags a stall and a negative
// RainClass disables the rain trigger.
type Options struct {
	VehicleClasses   map[int]string
	EmergencyClasses []int
	RainClass        int
	ROI              map[traffic.Direction]image.Rectangle
	NightThreshold   float64
	StalledThreshold int
	StalledLimit     int
	MinConfidence    float64
}

// Analyzer runs one detection pass per tick. It is used from a single
// goroutine.
type Analyzer struct {
	detector  Detector
	enhancer  Enhancer
	opts      Options
	emergency map[int]bool
	logf      monitoring.Logger

	stallRun [traffic.NumDirections]int
	previous state.Observation
	failures atomic.Int64
}

// NewAnalyzer returns an Analyzer. enhancer may be nil, in which case night
// frames go to the detector unchanged.
func NewAnalyzer(d Detector, enhancer Enhancer, opts Options) *Analyzer {
	em := make(map[int]bool, len(opts.EmergencyClasses))
	for _, c := range opts.EmergencyClasses {
		em[c] = true
	}
	return &Analyzer{
		detector:  d,
		enhancer:  enhancer,
		opts:      opts,
		emergency: em,
		logf:      monitoring.Tagged("perception"),
	}
}

// Failures returns how many ticks fell back to the previous observation.
func (a *Analyzer) Failures() int64 { return a.failures.Load() }

// Analyze produces the observation for one set of frames. Placeholder
// frames are not sent to the detector; their approach reports zero and is
// marked lost. A detector error never fails the tick: the previous
// observation is reused for the approaches that still have a frame and
// marked stale.
func (a *Analyzer) Analyze(ctx context.Context, frames [traffic.NumDirections]capture.Frame, now time.Time) state.Observation {
	obs := state.Observation{At: now, Analytics: make(map[string]int)}
	for _, t := range state.VehicleTypes {
		obs.Analytics[t] = 0
	}

	batch := make([]Input, 0, traffic.NumDirections)
	for _, d := range traffic.Directions {
		f := frames[d]
		if f.Placeholder || f.Image == nil {
			obs.Lost[d] = true
			continue
		}
		batch = append(batch, Input{Direction: d, Image: f.Image})
	}

	for _, in := range batch {
		if MeanBrightness(in.Image) < a.opts.NightThreshold {
			obs.IsNight = true
			break
		}
	}
	if obs.IsNight && a.enhancer != nil {
		for i := range batch {
			img, err := a.enhancer.Enhance(batch[i].Image)
			if err != nil {
				a.logf("night enhancement failed for %s: %v", batch[i].Direction, err)
				continue
			}
			batch[i].Image = img
		}
	}

	var results [][]Detection
	if len(batch) > 0 {
		var err error
		results, err = a.detect(ctx, batch)
		if err != nil {
			a.failures.Add(1)
			a.logf("%v; reusing previous counts", err)
			stale := a.previous
			stale.At = now
			stale.Stale = true
			stale.Lost = obs.Lost
			stale.IsNight = obs.IsNight
			for _, d := range traffic.Directions {
				if !obs.Lost[d] {
					continue
				}
				stale.Counts[d] = 0
				stale.ROICounts[d] = 0
				stale.Emergency[d] = false
				stale.Stalled[d] = false
				a.stallRun[d] = 0
			}
			return stale
		}
	}

	for i, in := range batch {
		a.tally(&obs, in.Direction, results[i])
	}

	for _, d := range traffic.Directions {
		if a.opts.StalledLimit <= 0 {
			continue
		}
		if !obs.Lost[d] && obs.Counts[d] >= a.opts.StalledThreshold {
			a.stallRun[d]++
		} else {
			a.stallRun[d] = 0
		}
		obs.Stalled[d] = a.stallRun[d] >= a.opts.StalledLimit
	}

	a.previous = obs
	return obs
}

func (a *Analyzer) detect(ctx context.Context, batch []Input) ([][]Detection, error) {
	results, err := a.detector.Detect(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPerceptionFailure, err)
	}
	if len(results) != len(batch) {
		return nil, fmt.Errorf("%w: detector returned %d results for %d frames", ErrPerceptionFailure, len(results), len(batch))
	}
	return results, nil
}

func (a *Analyzer) tally(obs *state.Observation, d traffic.Direction, dets []Detection) {
	roi, hasROI := a.opts.ROI[d]
	for _, det := range dets {
		if det.Confidence < a.opts.MinConfidence {
			continue
		}
		if a.emergency[det.Class] {
			obs.Emergency[d] = true
		}
		if det.Class == a.opts.RainClass {
			obs.Rain = true
		}
		kind, ok := a.opts.VehicleClasses[det.Class]
		if !ok {
			continue
		}
		obs.Counts[d]++
		obs.Analytics[kind]++
		if hasROI && insideInclusive(det.Centroid(), roi) {
			obs.ROICounts[d]++
		}
	}
}

// insideInclusive treats the rectangle's far edges as part of the region.
func insideInclusive(p image.Point, r image.Rectangle) bool {
	return p.X >= r.Min.X && p.X <= r.Max.X && p.Y >= r.Min.Y && p.Y <= r.Max.Y
}
