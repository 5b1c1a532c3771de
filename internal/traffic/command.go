package traffic

import (
	"fmt"
	"strings"
)

// CommandKind enumerates the operator override vocabulary.
type CommandKind uint8

const (
	// CommandAuto hands control back to the automatic rotation.
	CommandAuto CommandKind = iota
	// CommandStopAll holds every approach at red.
	CommandStopAll
	// CommandForce gives right of way to a single approach.
	CommandForce
)

const forcePrefix = "force_"

// Command is a validated operator override.
type Command struct {
	Kind      CommandKind
	Direction Direction
}

// ParseCommand validates the wire form of an override: "auto", "stop_all"
// or "force_<direction>". Matching is case-insensitive.
func ParseCommand(s string) (Command, error) {
	cmd := strings.ToLower(strings.TrimSpace(s))
	switch {
	case cmd == "auto":
		return Command{Kind: CommandAuto}, nil
	case cmd == "stop_all":
		return Command{Kind: CommandStopAll}, nil
	case strings.HasPrefix(cmd, forcePrefix):
		d, err := ParseDirection(strings.TrimPrefix(cmd, forcePrefix))
		if err != nil {
			return Command{}, err
		}
		return Command{Kind: CommandForce, Direction: d}, nil
	}
	return Command{}, fmt.Errorf("%w %q", ErrInvalidCommand, s)
}

func (c Command) String() string {
	switch c.Kind {
	case CommandAuto:
		return "auto"
	case CommandStopAll:
		return "stop_all"
	case CommandForce:
		return forcePrefix + c.Direction.String()
	}
	return fmt.Sprintf("command(%d)", uint8(c.Kind))
}
