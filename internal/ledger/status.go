package ledger

import (
	"fmt"
	"strings"
)

// Status is an attendance status. The numeric order is the upgrade order:
// Absent < Late < Present.
type Status int

const (
	Absent Status = iota + 1
	Late
	Present
)

func (s Status) String() string {
	switch s {
	case Absent:
		return "ABSENT"
	case Late:
		return "LATE"
	case Present:
		return "PRESENT"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	return s >= Absent && s <= Present
}

// Better reports whether s ranks above other.
func (s Status) Better(other Status) bool {
	return s > other
}

// ParseStatus parses ABSENT, LATE or PRESENT, case-insensitively.
func ParseStatus(v string) (Status, error) {
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case "ABSENT":
		return Absent, nil
	case "LATE":
		return Late, nil
	case "PRESENT":
		return Present, nil
	}
	return 0, fmt.Errorf("unknown attendance status %q", v)
}

// MarshalText encodes the status by name.
func (s Status) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid attendance status %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status name.
func (s *Status) UnmarshalText(b []byte) error {
	v, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}
