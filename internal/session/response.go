package session

import (
	"sort"
	"time"
)

// SessionsResponse is the snapshot handed to consumers once per cycle.
type SessionsResponse struct {
	Sessions     []Session `json:"sessions" yaml:"sessions"`
	TotalCount   int       `json:"totalCount" yaml:"totalCount"`
	WaitingCount int       `json:"waitingCount" yaml:"waitingCount"`
	GeneratedAt  time.Time `json:"generatedAt" yaml:"generatedAt"`
	Cycle        uint64    `json:"cycle" yaml:"cycle"`
	// Stale is set when the cycle could not enumerate processes and the
	// previous snapshot was reused.
	Stale bool `json:"stale,omitempty" yaml:"stale,omitempty"`
}

// NewResponse sorts sessions by status priority and then by order, and
// fills in the aggregate counts. order returns the first-seen sequence
// for a session id; ties keep input order.
func NewResponse(sessions []Session, order func(id string) uint64, cycle uint64, now time.Time) *SessionsResponse {
	if sessions == nil {
		sessions = []Session{}
	}
	sort.SliceStable(sessions, func(i, j int) bool {
		pi, pj := SortPriority(sessions[i].Status), SortPriority(sessions[j].Status)
		if pi != pj {
			return pi < pj
		}
		if order == nil {
			return false
		}
		return order(sessions[i].ID) < order(sessions[j].ID)
	})

	waiting := 0
	for _, s := range sessions {
		if s.Status == StatusWaiting {
			waiting++
		}
	}
	return &SessionsResponse{
		Sessions:     sessions,
		TotalCount:   len(sessions),
		WaitingCount: waiting,
		GeneratedAt:  now,
		Cycle:        cycle,
	}
}

// Empty returns a response with no sessions.
func Empty() *SessionsResponse {
	return &SessionsResponse{Sessions: []Session{}}
}

// Find returns the session with the given id.
func (r *SessionsResponse) Find(id string) (Session, bool) {
	if r == nil {
		return Session{}, false
	}
	for _, s := range r.Sessions {
		if s.ID == id {
			return s, true
		}
	}
	return Session{}, false
}

// Clone returns a copy whose session slice can be modified freely.
func (r *SessionsResponse) Clone() *SessionsResponse {
	if r == nil {
		return Empty()
	}
	out := *r
	out.Sessions = append([]Session(nil), r.Sessions...)
	return &out
}
