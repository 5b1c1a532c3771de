package traffic

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Color is the aspect shown by one approach's lamp head. The zero value is
// Red so that an unset SignalMap is the all-red safety hold.
type Color uint8

const (
	Red Color = iota
	Yellow
	Green
)

var colorNames = [...]string{"RED", "YELLOW", "GREEN"}

// Hardware codes are one-hot, one bit per lamp.
var colorCodes = [...]string{"100", "010", "001"}

func (c Color) String() string {
	if int(c) >= len(colorNames) {
		return fmt.Sprintf("color(%d)", uint8(c))
	}
	return colorNames[c]
}

// Code returns the 3-bit lamp code used in hardware frames.
func (c Color) Code() string {
	if int(c) >= len(colorCodes) {
		return colorCodes[Red]
	}
	return colorCodes[c]
}

// ParseColor accepts a colour name in any case.
func ParseColor(s string) (Color, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	for i, n := range colorNames {
		if n == name {
			return Color(i), nil
		}
	}
	return Red, fmt.Errorf("%w %q", ErrUnknownColor, s)
}

// ParseColorCode is the inverse of Color.Code.
func ParseColorCode(code string) (Color, error) {
	for i, c := range colorCodes {
		if c == code {
			return Color(i), nil
		}
	}
	return Red, fmt.Errorf("%w: lamp code %q", ErrUnknownColor, code)
}

func (c Color) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

func (c *Color) UnmarshalText(b []byte) error {
	v, err := ParseColor(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// SignalMap holds the aspect of every approach. It is a value type; copies
// are independent snapshots.
type SignalMap [NumDirections]Color

// AllRed returns the safety hold map.
func AllRed() SignalMap { return SignalMap{} }

// Get returns the aspect shown to d.
func (m SignalMap) Get(d Direction) Color { return m[d] }

// Active returns the single approach that is not red, if any.
func (m SignalMap) Active() (Direction, bool) {
	for _, d := range Directions {
		if m[d] != Red {
			return d, true
		}
	}
	return 0, false
}

// IsAllRed reports whether every approach is held at red.
func (m SignalMap) IsAllRed() bool {
	_, ok := m.Active()
	return !ok
}

// Validate enforces the conflict rule: at most one approach may show a
// non-red aspect.
func (m SignalMap) Validate() error {
	active := 0
	for _, d := range Directions {
		if m[d] > Green {
			return fmt.Errorf("%s: %w", d, ErrUnknownColor)
		}
		if m[d] != Red {
			active++
		}
	}
	if active > 1 {
		return fmt.Errorf("conflicting signal map %s: %d approaches not red", m, active)
	}
	return nil
}

func (m SignalMap) String() string {
	parts := make([]string, 0, NumDirections)
	for _, d := range Directions {
		parts = append(parts, d.String()+"="+m[d].String())
	}
	return strings.Join(parts, ",")
}

func (m SignalMap) MarshalJSON() ([]byte, error) {
	out := make(map[Direction]Color, NumDirections)
	for _, d := range Directions {
		out[d] = m[d]
	}
	return json.Marshal(out)
}

func (m *SignalMap) UnmarshalJSON(b []byte) error {
	var in map[Direction]Color
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	*m = SignalMap{}
	for d, c := range in {
		m[d] = c
	}
	return nil
}
