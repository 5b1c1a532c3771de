package telemetry

import (
	"errors"

	"github.com/banshee-data/junction/internal/traffic"
)

// ErrQueueFull is returned when the operator sends commands faster than the
// control loop drains them.
var ErrQueueFull = errors.New("command queue full")

// CommandQueue is a bounded FIFO of validated operator commands. The control
// loop pops at most one per tick.
type CommandQueue struct {
	ch chan traffic.Command
}

func NewCommandQueue(size int) *CommandQueue {
	if size < 1 {
		size = 1
	}
	return &CommandQueue{ch: make(chan traffic.Command, size)}
}

// Submit parses raw and queues it. Invalid commands are rejected with an
// error wrapping traffic.ErrInvalidCommand and never reach the scheduler.
func (q *CommandQueue) Submit(raw string) (traffic.Command, error) {
	cmd, err := traffic.ParseCommand(raw)
	if err != nil {
		return traffic.Command{}, err
	}
	select {
	case q.ch <- cmd:
		return cmd, nil
	default:
		return cmd, ErrQueueFull
	}
}

// Pop returns the oldest queued command without blocking.
func (q *CommandQueue) Pop() (traffic.Command, bool) {
	select {
	case cmd := <-q.ch:
		return cmd, true
	default:
		return traffic.Command{}, false
	}
}

func (q *CommandQueue) Len() int { return len(q.ch) }
