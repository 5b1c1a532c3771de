// Package capture keeps the latest frame for each approach. One worker per
// approach reads its source as fast as the source delivers and overwrites a
// single slot; consumers read whatever is newest and never wait.
package capture

import (
	"image"
	"sync"
	"time"

	"github.com/banshee-data/junction/internal/traffic"
)

// Frame is one published picture. Image is never modified after Publish, so
// readers may share it without copying.
type Frame struct {
	Direction   traffic.Direction
	Seq         uint64
	Image       *image.RGBA
	CapturedAt  time.Time
	Placeholder bool
}

// SlotStats reports per-slot activity.
type SlotStats struct {
	Published   uint64 `json:"published"`
	Overwritten uint64 `json:"overwritten"`
	Reconnects  uint64 `json:"reconnects"`
	Lost        bool   `json:"lost"`
}

// Slot is a single-frame mailbox. Publish overwrites; Latest never blocks.
type Slot struct {
	mu       sync.Mutex
	frame    Frame
	have     bool
	lastRead uint64
	stats    SlotStats
}

// Publish replaces the held frame, stamping it with the next sequence number.
func (s *Slot) Publish(f Frame) Frame {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.have && s.frame.Seq != s.lastRead {
		s.stats.Overwritten++
	}
	f.Seq = s.frame.Seq + 1
	s.frame = f
	s.have = true
	s.stats.Published++
	s.stats.Lost = f.Placeholder
	return f
}

// Latest returns the newest frame. ok is false before the first Publish.
func (s *Slot) Latest() (f Frame, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.have {
		s.lastRead = s.frame.Seq
	}
	return s.frame, s.have
}

func (s *Slot) noteReconnect() {
	s.mu.Lock()
	s.stats.Reconnects++
	s.mu.Unlock()
}

// Stats returns a copy of the slot counters.
func (s *Slot) Stats() SlotStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Board holds one Slot per approach.
type Board struct {
	slots [traffic.NumDirections]Slot
	size  image.Point
}

// NewBoard returns a Board whose slots start out holding the lost-signal
// placeholder, so readers always have a frame of the pipeline size.
func NewBoard(size image.Point, now time.Time) *Board {
	b := &Board{size: size}
	for _, d := range traffic.Directions {
		b.slots[d].Publish(Frame{Direction: d, Image: Placeholder(d, size), CapturedAt: now, Placeholder: true})
	}
	return b
}

// Slot returns the mailbox for d.
func (b *Board) Slot(d traffic.Direction) *Slot { return &b.slots[d] }

// Size is the fixed pipeline resolution.
func (b *Board) Size() image.Point { return b.size }

// Snapshot returns the latest frame of every approach. Each slot is read
// under its own lock; approaches are independent so no cross-slot
// consistency is implied.
func (b *Board) Snapshot() [traffic.NumDirections]Frame {
	var out [traffic.NumDirections]Frame
	for _, d := range traffic.Directions {
		out[d], _ = b.slots[d].Latest()
	}
	return out
}

// Stats returns per-approach slot counters.
func (b *Board) Stats() map[traffic.Direction]SlotStats {
	out := make(map[traffic.Direction]SlotStats, traffic.NumDirections)
	for _, d := range traffic.Directions {
		out[d] = b.slots[d].Stats()
	}
	return out
}
