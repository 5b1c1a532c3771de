package hwlink

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/junction/internal/monitoring"
	"github.com/banshee-data/junction/internal/timeutil"
	"github.com/banshee-data/junction/internal/traffic"
)

// Stats summarises emitter activity for status pages.
type Stats struct {
	Connected bool      `json:"connected"`
	Sent      int64     `json:"sent"`
	Failed    int64     `json:"failed"`
	Settling  int64     `json:"settling"`
	LastFrame string    `json:"last_frame,omitempty"`
	LastSent  time.Time `json:"last_sent,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}

// Emitter resends the most recently offered SignalMap once per interval.
// Offer never blocks, so the control loop is decoupled from the link: a
// dropped or failed frame is corrected by the next period's full-state
// resync.
type Emitter struct {
	sender   Sender
	clock    timeutil.Clock
	interval time.Duration
	logf     monitoring.Logger

	mu       sync.Mutex
	latest   traffic.SignalMap
	have     bool
	override *traffic.SignalMap
	stats    Stats
	tails    map[chan string]struct{}
}

// NewEmitter returns an Emitter that sends through s every interval.
func NewEmitter(s Sender, clock timeutil.Clock, interval time.Duration) *Emitter {
	return &Emitter{
		sender:   s,
		clock:    clock,
		interval: interval,
		logf:     monitoring.Tagged("hwlink"),
		tails:    make(map[chan string]struct{}),
	}
}

// Offer records m as the state to send next. Invalid maps are refused so a
// conflicting frame can never reach the controller.
func (e *Emitter) Offer(m traffic.SignalMap) error {
	if err := m.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	e.latest = m
	e.have = true
	e.mu.Unlock()
	return nil
}

// LampTest queues a one-off frame lighting only dir in colour c. It replaces
// the offered state on the next periodic send, and the send after that
// restores it, so the link still carries one frame per interval.
func (e *Emitter) LampTest(dir traffic.Direction, c traffic.Color) error {
	if !dir.Valid() {
		return fmt.Errorf("%w: %d", traffic.ErrUnknownDirection, dir)
	}
	m := traffic.AllRed()
	m[dir] = c
	if err := m.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	e.override = &m
	e.mu.Unlock()
	return nil
}

// Run sends on every tick until ctx is cancelled, then closes the sender.
func (e *Emitter) Run(ctx context.Context) error {
	ticker := e.clock.NewTicker(e.interval)
	defer ticker.Stop()
	defer func() {
		if err := e.sender.Close(); err != nil {
			e.logf("close: %v", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			e.Flush()
		}
	}
}

// Flush sends the pending lamp test if there is one, otherwise the latest
// offered state. It does nothing before the first Offer.
func (e *Emitter) Flush() {
	e.mu.Lock()
	var m traffic.SignalMap
	switch {
	case e.override != nil:
		m = *e.override
		e.override = nil
	case e.have:
		m = e.latest
	default:
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	frame := Encode(m)
	err := e.sender.Send(frame)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.stats.Connected = e.sender.Connected()
	switch {
	case err == nil:
		e.stats.Sent++
		e.stats.LastFrame = string(frame[:len(frame)-1])
		e.stats.LastSent = e.clock.Now()
		for ch := range e.tails {
			select {
			case ch <- e.stats.LastFrame:
			default:
			}
		}
	case errors.Is(err, ErrSettling):
		e.stats.Settling++
	default:
		e.stats.Failed++
		if e.stats.LastError != err.Error() {
			e.logf("send failed, retrying next period: %v", err)
		}
		e.stats.LastError = err.Error()
	}
}

// Stats returns a copy of the current counters.
func (e *Emitter) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

func (e *Emitter) subscribe() chan string {
	ch := make(chan string, 8)
	e.mu.Lock()
	e.tails[ch] = struct{}{}
	e.mu.Unlock()
	return ch
}

func (e *Emitter) unsubscribe(ch chan string) {
	e.mu.Lock()
	delete(e.tails, ch)
	e.mu.Unlock()
}
