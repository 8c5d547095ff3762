package arm

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind is the discriminator of an arm command.
type Kind string

const (
	KindHome   Kind = "home"   // return to the rest position
	KindMove   Kind = "move"   // relative move by X/Y/Z
	KindMoveTo Kind = "moveTo" // absolute move to X/Y/Z
	KindRotate Kind = "rotate" // rotate the end effector to Angle
	KindPump   Kind = "pump"   // switch the suction pump
	KindStop   Kind = "stop"   // halt immediately
)

var kinds = map[string]Kind{
	"home":   KindHome,
	"move":   KindMove,
	"moveto": KindMoveTo,
	"rotate": KindRotate,
	"pump":   KindPump,
	"stop":   KindStop,
}

// ParseKind resolves a kind name case-insensitively.
func ParseKind(s string) (Kind, error) {
	k, ok := kinds[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownCommand, s)
	}
	return k, nil
}

// Motion reports whether the command starts a movement that has to be
// waited for with the finish poller.
func (k Kind) Motion() bool {
	switch k {
	case KindHome, KindMove, KindMoveTo, KindRotate:
		return true
	default:
		return false
	}
}

// Command is a single robotic-arm instruction.
type Command struct {
	Kind  Kind
	X     float32
	Y     float32
	Z     float32
	Angle float32
	Pump  bool
}

// String renders the command the way it is logged.
func (c Command) String() string {
	return fmt.Sprintf("command: %s, x: %.1f, y: %.1f, z: %.1f, angle: %.1f, pump: %d",
		c.Kind, c.X, c.Y, c.Z, c.Angle, boolToInt(c.Pump))
}

// Encode returns the wire form: one ASCII line
// "<kind> <x> <y> <z> <angle> <pump>\n" with one decimal per float.
func (c Command) Encode() []byte {
	return []byte(fmt.Sprintf("%s %.1f %.1f %.1f %.1f %d\n",
		c.Kind, c.X, c.Y, c.Z, c.Angle, boolToInt(c.Pump)))
}

// ParseCommand parses a command line in wire form. Trailing fields may be
// omitted and default to zero/false. The pump flag accepts 0/1, on/off and
// true/false.
func ParseCommand(line string) (Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Command{}, ErrEmptyCommand
	}
	if len(fields) > 6 {
		return Command{}, fmt.Errorf("too many arguments: got %d, want at most 5 after the command", len(fields)-1)
	}

	kind, err := ParseKind(fields[0])
	if err != nil {
		return Command{}, err
	}
	cmd := Command{Kind: kind}

	targets := []*float32{&cmd.X, &cmd.Y, &cmd.Z, &cmd.Angle}
	for i, f := range fields[1:] {
		if i == len(targets) {
			pump, err := parsePump(f)
			if err != nil {
				return Command{}, err
			}
			cmd.Pump = pump
			break
		}
		v, err := strconv.ParseFloat(f, 32)
		if err != nil {
			return Command{}, fmt.Errorf("invalid number %q: %w", f, err)
		}
		*targets[i] = float32(v)
	}

	return cmd, nil
}

func parsePump(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "1", "on", "true":
		return true, nil
	case "0", "off", "false":
		return false, nil
	default:
		return false, fmt.Errorf("invalid pump flag %q (must be 0/1, on/off or true/false)", s)
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
