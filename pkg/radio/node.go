package radio

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidNodeID is returned when a node identifier cannot be parsed
var ErrInvalidNodeID = errors.New("invalid node ID")

// Position is the last reported location of a node
type Position struct {
	Latitude  float64
	Longitude float64
	Altitude  int32
	Time      time.Time
}

// NodeInfo is the radio's metadata about one mesh participant.
// The zero value means "unknown node".
type NodeInfo struct {
	Num       uint32
	ID        string
	LongName  string
	ShortName string
	HWModel   int32
	SNR       float32
	LastHeard time.Time
	Position  *Position
}

// IsZero reports whether the node is unknown.
func (n NodeInfo) IsZero() bool {
	return n.Num == 0 && n.ID == ""
}

// FormatNodeID renders a node number the way Meshtastic clients show it ("!a1b2c3d4").
func FormatNodeID(num uint32) string {
	if num == BroadcastAddr {
		return "^all"
	}
	return fmt.Sprintf("!%08x", num)
}

// ParseNodeID accepts "!a1b2c3d4", "0xa1b2c3d4", "^all" or a decimal node number.
func ParseNodeID(s string) (uint32, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return 0, ErrInvalidNodeID
	case s == "^all":
		return BroadcastAddr, nil
	case strings.HasPrefix(s, "!"):
		return parseUint32(s[1:], 16)
	case strings.HasPrefix(s, "0x"), strings.HasPrefix(s, "0X"):
		return parseUint32(s[2:], 16)
	default:
		return parseUint32(s, 10)
	}
}

func parseUint32(s string, base int) (uint32, error) {
	v, err := strconv.ParseUint(s, base, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidNodeID, s)
	}
	return uint32(v), nil
}
