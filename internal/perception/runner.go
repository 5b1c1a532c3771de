package perception

import (
	"context"
	"time"

	"github.com/banshee-data/junction/internal/capture"
	"github.com/banshee-data/junction/internal/state"
	"github.com/banshee-data/junction/internal/timeutil"
)

// Runner feeds the analyzer from the frame board at a fixed cadence and
// publishes each observation to the store.
type Runner struct {
	Analyzer *Analyzer
	Board    *capture.Board
	Store    *state.Store
	Clock    timeutil.Clock
	Interval time.Duration
}

// Step runs one detection pass.
func (r *Runner) Step(ctx context.Context) state.Observation {
	obs := r.Analyzer.Analyze(ctx, r.Board.Snapshot(), r.Clock.Now())
	obs.Seq = r.Store.Update(obs)
	return obs
}

// Run calls Step every Interval until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	ticker := r.Clock.NewTicker(r.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			r.Step(ctx)
		}
	}
}
