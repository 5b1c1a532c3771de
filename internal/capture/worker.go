package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/banshee-data/junction/internal/monitoring"
	"github.com/banshee-data/junction/internal/timeutil"
	"github.com/banshee-data/junction/internal/traffic"
)

// Worker feeds one approach's Slot from its Source.
type Worker struct {
	Direction traffic.Direction
	Open      Opener
	Board     *Board
	Clock     timeutil.Clock

	// ReconnectDelay is the pause between a failure and the next open.
	ReconnectDelay time.Duration
	// Pace is the minimum time between reads. Zero reads as fast as the
	// source delivers; file sources need a pace or they spin.
	Pace time.Duration
}

// Run captures until ctx is cancelled. It never returns early on source
// errors: while the source is down the slot shows the placeholder.
func (w *Worker) Run(ctx context.Context) error {
	logf := monitoring.Tagged("capture/" + w.Direction.String())
	slot := w.Board.Slot(w.Direction)
	size := w.Board.Size()
	placeholder := Placeholder(w.Direction, size)

	var src Source
	// rewound is set between a Rewind and the next frame, so an empty
	// looping stream is treated as a failure instead of spinning.
	rewound := false
	defer func() {
		if src != nil {
			src.Close()
		}
	}()

	fail := func(err error) error {
		if src != nil {
			src.Close()
			src = nil
		}
		rewound = false
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logf("%v, retrying in %s", err, w.ReconnectDelay)
		slot.Publish(Frame{Direction: w.Direction, Image: placeholder, CapturedAt: w.Clock.Now(), Placeholder: true})
		slot.noteReconnect()
		return timeutil.SleepContext(ctx, w.Clock, w.ReconnectDelay)
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if src == nil {
			s, err := w.Open(ctx)
			if err != nil {
				if err := fail(err); err != nil {
					return err
				}
				continue
			}
			src = s
		}

		img, err := src.Read(ctx)
		if errors.Is(err, io.EOF) {
			err = fmt.Errorf("%w: end of stream", ErrSourceUnavailable)
			if r, ok := src.(Rewinder); ok && !rewound {
				err = r.Rewind()
				rewound = err == nil
				if rewound {
					continue
				}
			}
		}
		if err != nil {
			if err := fail(err); err != nil {
				return err
			}
			continue
		}

		rewound = false
		slot.Publish(Frame{Direction: w.Direction, Image: Normalize(img, size), CapturedAt: w.Clock.Now()})

		if w.Pace > 0 {
			if err := timeutil.SleepContext(ctx, w.Clock, w.Pace); err != nil {
				return err
			}
		}
	}
}
