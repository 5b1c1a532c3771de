// Package events forwards notable controller events (red-light violations,
// emergency preemption changes) to an outbound sink off the control loop.
package events

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/junction/internal/monitoring"
)

// Kind selects the topic an event is published under.
type Kind string

const (
	KindViolation Kind = "violation"
	KindEmergency Kind = "emergency"
)

// ErrDropped is returned by Emit when the dispatcher backlog is full.
var ErrDropped = errors.New("event dropped: backlog full")

// Envelope is the wire form of every published event.
type Envelope struct {
	ID   string    `json:"id"`
	Kind Kind      `json:"kind"`
	At   time.Time `json:"at"`
	Data any       `json:"data"`
}

// Sink delivers envelopes somewhere outside the process.
type Sink interface {
	Publish(ctx context.Context, e Envelope) error
	Close() error
}

// DispatchStats counts envelopes by outcome.
type DispatchStats struct {
	Queued    int64 `json:"queued"`
	Published int64 `json:"published"`
	Dropped   int64 `json:"dropped"`
	Failed    int64 `json:"failed"`
}

// Dispatcher decouples the control loop from the sink. Emit never blocks;
// Run drains the backlog into the sink.
type Dispatcher struct {
	sink    Sink
	backlog chan Envelope
	logf    monitoring.Logger

	queued, published, dropped, failed atomic.Int64
}

func NewDispatcher(sink Sink, backlog int) *Dispatcher {
	if backlog < 1 {
		backlog = 1
	}
	return &Dispatcher{
		sink:    sink,
		backlog: make(chan Envelope, backlog),
		logf:    monitoring.Tagged("events"),
	}
}

// Emit wraps data in an envelope and queues it.
func (d *Dispatcher) Emit(kind Kind, at time.Time, data any) error {
	e := Envelope{ID: uuid.NewString(), Kind: kind, At: at, Data: data}
	select {
	case d.backlog <- e:
		d.queued.Add(1)
		return nil
	default:
		d.dropped.Add(1)
		d.logf("dropping %s event %s: backlog full", kind, e.ID)
		return ErrDropped
	}
}

// Run publishes queued envelopes until ctx is done, then closes the sink.
func (d *Dispatcher) Run(ctx context.Context) error {
	defer d.sink.Close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e := <-d.backlog:
			if err := d.sink.Publish(ctx, e); err != nil {
				d.failed.Add(1)
				d.logf("publish %s event %s: %v", e.Kind, e.ID, err)
				continue
			}
			d.published.Add(1)
		}
	}
}

func (d *Dispatcher) Stats() DispatchStats {
	return DispatchStats{
		Queued:    d.queued.Load(),
		Published: d.published.Load(),
		Dropped:   d.dropped.Load(),
		Failed:    d.failed.Load(),
	}
}
