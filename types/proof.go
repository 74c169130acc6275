package types

import "github.com/pkg/errors"

// Side says where the sibling sits when folding a path element.
type Side uint8

const (
	// Right: the running hash is the left child.
	Right Side = iota
	// Left: the sibling is the left child.
	Left
)

func (s Side) String() string {
	if s == Left {
		return "left"
	}
	return "right"
}

func (s Side) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Side) UnmarshalText(text []byte) error {
	switch string(text) {
	case "left":
		*s = Left
	case "right":
		*s = Right
	default:
		return errors.Errorf("unknown side %q", text)
	}
	return nil
}

type PathElement struct {
	Hash Hash `json:"hash"`
	Side Side `json:"side"`
}

// Proof shows a message is included under some outbox root.
type Proof struct {
	Message Message       `json:"message"`
	Path    []PathElement `json:"path"`
}

func (p Proof) Index() uint32 { return p.Message.Index }
