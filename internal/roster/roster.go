// Package roster decides whether a student belongs to an academy's roster.
package roster

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"seatcheck/internal/qrpayload"
)

// Identity is the authenticated caller as supplied by the auth layer.
// It is immutable for the duration of a request.
type Identity struct {
	StudentID string
	Academies []string
}

// MemberOf reports whether the identity lists academyID among its memberships.
func (id Identity) MemberOf(academyID string) bool {
	return slices.Contains(id.Academies, academyID)
}

// Decision is the local admission verdict for a roster scan.
type Decision int

const (
	Admitted Decision = iota + 1
	NotOnRoster
)

func (d Decision) String() string {
	if d == Admitted {
		return "Admitted"
	}
	return "NotOnRoster"
}

// Admit checks the caller against the snapshot embedded in a roster code.
// The verdict is advisory: the snapshot can be stale, so commit re-checks live data.
func Admit(intent qrpayload.RosterIntent, caller Identity) Decision {
	if caller.StudentID != "" && slices.Contains(intent.Students, caller.StudentID) {
		return Admitted
	}
	return NotOnRoster
}

// ErrUnknownAcademy is returned by a Lookup that has no roster for the academy.
var ErrUnknownAcademy = errors.New("unknown academy")

// Lookup returns the live enrolled students of an academy.
type Lookup interface {
	GetEnrolledStudents(ctx context.Context, academyID string) ([]string, error)
}

// IsEnrolled asks lookup whether studentID is currently enrolled in academyID.
// An academy the lookup does not know is treated as having nobody enrolled.
func IsEnrolled(ctx context.Context, lookup Lookup, academyID, studentID string) (bool, error) {
	students, err := lookup.GetEnrolledStudents(ctx, academyID)
	if err != nil {
		if errors.Is(err, ErrUnknownAcademy) {
			return false, nil
		}
		return false, err
	}
	return slices.Contains(students, studentID), nil
}

// Static is an in-memory Lookup, used in development and tests.
type Static struct {
	mu       sync.RWMutex
	students map[string][]string
}

// NewStatic builds a Static lookup from academy -> students.
func NewStatic(rosters map[string][]string) *Static {
	s := &Static{students: make(map[string][]string, len(rosters))}
	for academy, ids := range rosters {
		s.students[academy] = slices.Clone(ids)
	}
	return s
}

// ParseStatic reads the ROSTER_STATIC format: "1001=S1|S2;1002=S3".
func ParseStatic(spec string) (*Static, error) {
	rosters := map[string][]string{}
	for _, part := range strings.Split(spec, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		academy, list, ok := strings.Cut(part, "=")
		academy = strings.TrimSpace(academy)
		if !ok || academy == "" {
			return nil, fmt.Errorf("roster: bad entry %q, want academy=S1|S2", part)
		}
		ids := []string{}
		for _, id := range strings.Split(list, "|") {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		}
		rosters[academy] = ids
	}
	return NewStatic(rosters), nil
}

// GetEnrolledStudents implements Lookup.
func (s *Static) GetEnrolledStudents(_ context.Context, academyID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids, ok := s.students[academyID]
	if !ok {
		return nil, ErrUnknownAcademy
	}
	return slices.Clone(ids), nil
}

// Set replaces the roster of one academy.
func (s *Static) Set(academyID string, students []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.students[academyID] = slices.Clone(students)
}
