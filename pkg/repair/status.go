package repair

import (
	"fmt"
)

// Status is the outcome of the most recent execution attempt.
type Status int

const (
	Unset Status = iota
	Pass
	NotPass
)

func (s Status) String() string {
	switch s {
	case Unset:
		return "Unset"
	case Pass:
		return "Pass"
	case NotPass:
		return "Not Pass"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

func (s Status) MarshalText() ([]byte, error) {
	switch s {
	case Unset:
		return []byte(""), nil
	case Pass, NotPass:
		return []byte(s.String()), nil
	}
	return nil, fmt.Errorf("invalid status %d", int(s))
}

func (s *Status) UnmarshalText(text []byte) error {
	switch string(text) {
	case "", "Unset":
		*s = Unset
	case "Pass":
		*s = Pass
	case "Not Pass", "NotPass":
		*s = NotPass
	default:
		return fmt.Errorf("invalid status %q", string(text))
	}
	return nil
}
