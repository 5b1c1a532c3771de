// Package traffic defines the vocabulary shared by every stage of the
// junction controller: approach directions, lamp colours, the signal map
// driven onto the hardware, phase states, controller modes and the operator
// command set.
package traffic

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidCommand is returned for any operator input that names an
// unknown mode, direction or colour. Inputs are rejected, never coerced.
var ErrInvalidCommand = errors.New("invalid command")

var (
	ErrUnknownDirection = fmt.Errorf("%w: unknown direction", ErrInvalidCommand)
	ErrUnknownColor     = fmt.Errorf("%w: unknown color", ErrInvalidCommand)
)

// Direction is one of the four approaches into the junction.
type Direction uint8

const (
	North Direction = iota
	East
	South
	West
)

// NumDirections is the number of approaches served by the controller.
const NumDirections = 4

// Directions lists every approach in rotation order.
var Directions = [NumDirections]Direction{North, East, South, West}

var directionNames = [NumDirections]string{"north", "east", "south", "west"}

func (d Direction) String() string {
	if !d.Valid() {
		return fmt.Sprintf("direction(%d)", uint8(d))
	}
	return directionNames[d]
}

// Valid reports whether d names one of the four approaches.
func (d Direction) Valid() bool { return d < NumDirections }

// Next returns the approach that follows d in the fixed rotation.
func (d Direction) Next() Direction { return (d + 1) % NumDirections }

// Slot returns the 1-based position of the approach in a hardware frame.
func (d Direction) Slot() int { return int(d) + 1 }

// ParseDirection accepts a direction name in any case.
func ParseDirection(s string) (Direction, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for i, n := range directionNames {
		if n == name {
			return Direction(i), nil
		}
	}
	return 0, fmt.Errorf("%w %q", ErrUnknownDirection, s)
}

// MarshalText lets a Direction act as a JSON object key.
func (d Direction) MarshalText() ([]byte, error) {
	if !d.Valid() {
		return nil, fmt.Errorf("%w %d", ErrUnknownDirection, uint8(d))
	}
	return []byte(directionNames[d]), nil
}

func (d *Direction) UnmarshalText(b []byte) error {
	v, err := ParseDirection(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}
