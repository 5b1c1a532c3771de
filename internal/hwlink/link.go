package hwlink

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/junction/internal/monitoring"
	"github.com/banshee-data/junction/internal/timeutil"
)

// ErrLinkDown is returned when the port cannot be opened or a write fails.
// The port is closed and reopened on the next send.
var ErrLinkDown = errors.New("hardware link down")

// ErrSettling is returned for sends that arrive while a freshly opened port
// is still inside its settle delay. The frame is dropped, not queued.
var ErrSettling = errors.New("hardware link settling")

// Sender delivers encoded frames to the controller.
type Sender interface {
	Send(frame []byte) error
	Connected() bool
	Close() error
}

// Link is a Sender over a reopenable serial Port. It never retries within a
// send; the caller's next periodic send is the retry.
type Link struct {
	open   Opener
	clock  timeutil.Clock
	settle time.Duration
	logf   monitoring.Logger

	mu       sync.Mutex
	port     Port
	readyAt  time.Time
	closed   bool
	reopened int
}

// NewLink returns a Link that opens its port lazily on the first Send.
// Boards that reset when the port opens need settle > 0.
func NewLink(open Opener, clock timeutil.Clock, settle time.Duration) *Link {
	return &Link{
		open:   open,
		clock:  clock,
		settle: settle,
		logf:   monitoring.Tagged("hwlink"),
	}
}

// Send writes one frame. Short writes count as failures.
func (l *Link) Send(frame []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return fmt.Errorf("%w: link closed", ErrLinkDown)
	}

	if l.port == nil {
		p, err := l.open()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrLinkDown, err)
		}
		l.port = p
		l.readyAt = l.clock.Now().Add(l.settle)
		l.reopened++
		l.logf("port opened (attempt %d), settling for %s", l.reopened, l.settle)
	}

	if l.clock.Now().Before(l.readyAt) {
		return ErrSettling
	}

	n, err := l.port.Write(frame)
	if err == nil && n != len(frame) {
		err = fmt.Errorf("short write: %d of %d bytes", n, len(frame))
	}
	if err != nil {
		l.dropLocked()
		return fmt.Errorf("%w: %v", ErrLinkDown, err)
	}
	return nil
}

// Connected reports whether a port is currently open.
func (l *Link) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.port != nil
}

// Close releases the port. Later sends fail with ErrLinkDown.
func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	if l.port == nil {
		return nil
	}
	err := l.port.Close()
	l.port = nil
	return err
}

func (l *Link) dropLocked() {
	if err := l.port.Close(); err != nil {
		l.logf("close after failure: %v", err)
	}
	l.port = nil
}

// DisabledLink stands in for the controller when no hardware is attached.
// Frames are reported as delivered and logged when they change.
type DisabledLink struct {
	logf monitoring.Logger

	mu   sync.Mutex
	last string
}

func NewDisabledLink() *DisabledLink {
	return &DisabledLink{logf: monitoring.Tagged("hwlink")}
}

func (d *DisabledLink) Send(frame []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if string(frame) != d.last {
		d.last = string(frame)
		d.logf("hardware disabled, frame %q", frame)
	}
	return nil
}

func (d *DisabledLink) Connected() bool { return false }
func (d *DisabledLink) Close() error    { return nil }
