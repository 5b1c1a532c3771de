package hwlink

import (
	"fmt"
	"strings"

	"github.com/banshee-data/junction/internal/traffic"
)

// Encode renders m as one controller frame: "<1ccc,2ccc,3ccc,4ccc>\n", with
// slots in the fixed north, east, south, west order and each ccc the
// one-hot RGY code of that approach's lamp.
func Encode(m traffic.SignalMap) []byte {
	var b strings.Builder
	b.Grow(24)
	b.WriteByte('<')
	for i, d := range traffic.Directions {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%d%s", d.Slot(), m.Get(d).Code())
	}
	b.WriteString(">\n")
	return []byte(b.String())
}

// Parse decodes a frame produced by Encode. Trailing whitespace is ignored.
// Unknown slots or codes are rejected; so is any frame that lights more than
// one approach.
func Parse(frame string) (traffic.SignalMap, error) {
	var m traffic.SignalMap
	s := strings.TrimSpace(frame)
	if !strings.HasPrefix(s, "<") || !strings.HasSuffix(s, ">") {
		return m, fmt.Errorf("frame %q: missing delimiters", frame)
	}
	fields := strings.Split(s[1:len(s)-1], ",")
	if len(fields) != traffic.NumDirections {
		return m, fmt.Errorf("frame %q: want %d slots, got %d", frame, traffic.NumDirections, len(fields))
	}
	for i, f := range fields {
		d := traffic.Directions[i]
		want := fmt.Sprintf("%d", d.Slot())
		if len(f) != 4 || f[:1] != want {
			return m, fmt.Errorf("frame %q: slot %d malformed: %q", frame, i+1, f)
		}
		c, err := traffic.ParseColorCode(f[1:])
		if err != nil {
			return m, fmt.Errorf("frame %q: %w", frame, err)
		}
		m[d] = c
	}
	if err := m.Validate(); err != nil {
		return m, err
	}
	return m, nil
}
