package plan

import (
	"fmt"

	"github.com/talgya/drivesim/internal/drives"
)

// Status is the lifecycle state of one candidate root.
type Status uint8

const (
	NotComplete Status = iota
	Complete
	Running
	Finished
	Interrupted
)

var statusNames = [...]string{"not_complete", "complete", "running", "finished", "interrupted"}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("status(%d)", s)
}

// MarshalText renders the status name in JSON and YAML output.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a status name written by MarshalText.
func (s *Status) UnmarshalText(text []byte) error {
	for i, n := range statusNames {
		if n == string(text) {
			*s = Status(i)
			return nil
		}
	}
	return fmt.Errorf("unknown plan status %q", text)
}

// Candidate is one root of a plan set together with its scores.
type Candidate struct {
	Tree        *Tree   `json:"-"`
	Status      Status  `json:"status"`
	DriveAmount float64 `json:"drive_amount"`
	Time        float64 `json:"time"`
	SideEffect  float64 `json:"side_effect"`
	Utility     float64 `json:"utility"`
	// Reason explains a NotComplete status.
	Reason string `json:"reason,omitempty"`
}

// Set holds every candidate root built for one drive in one planning pass.
type Set struct {
	Drive      drives.ID   `json:"drive"`
	Candidates []Candidate `json:"candidates"`
}

// NewSet returns an empty set for d.
func NewSet(d drives.ID) *Set {
	return &Set{Drive: d}
}

// Add appends a candidate and returns its index.
func (s *Set) Add(c Candidate) int {
	s.Candidates = append(s.Candidates, c)
	return len(s.Candidates) - 1
}

// Len returns the number of candidates, selectable or not.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Candidates)
}

// Selectable returns the indices of Complete candidates in set order.
func (s *Set) Selectable() []int {
	if s == nil {
		return nil
	}
	var out []int
	for i := range s.Candidates {
		if s.Candidates[i].Status == Complete {
			out = append(out, i)
		}
	}
	return out
}

// Best returns the Complete candidate with the highest utility. Ties go to
// the earlier candidate.
func (s *Set) Best() (int, bool) {
	best := -1
	for _, i := range s.Selectable() {
		if best < 0 || s.Candidates[i].Utility > s.Candidates[best].Utility {
			best = i
		}
	}
	return best, best >= 0
}

// SetStatus updates the status of candidate i.
func (s *Set) SetStatus(i int, st Status) {
	if i >= 0 && i < len(s.Candidates) {
		s.Candidates[i].Status = st
	}
}
