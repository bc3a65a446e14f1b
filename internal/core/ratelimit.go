package core

import (
	"errors"
	"strings"
	"time"
)

// WindowState is the pruned view of one sliding-window key.
type WindowState struct {
	Count  int
	Oldest time.Time
}

// WindowPolicy is an "at most Limit events per Window" rule.
type WindowPolicy struct {
	Limit  int
	Window time.Duration
}

// WindowDecision is the result of a sliding-window check.
type WindowDecision struct {
	Allowed   bool
	Remaining int
	Count     int
	// ResetAt is set only when the check is disallowed and at least one
	// event is in the window.
	ResetAt time.Time
}

// WindowSlot is one key and policy taking part in a reservation.
type WindowSlot struct {
	Key    string
	Limit  int
	Window time.Duration
}

// Reservation is the outcome of reserving several slots as one unit. States
// holds the pruned state of each slot evaluated, in order, before anything
// was appended. Blocked is the index of the first slot at its limit, or -1
// when the event was appended to every slot.
type Reservation struct {
	States  []WindowState
	Blocked int
}

// Granted reports whether every slot accepted the event.
func (r Reservation) Granted() bool {
	return r.Blocked < 0
}

// WindowEntry describes a stored window key for administrative listing.
type WindowEntry struct {
	Key    string    `json:"key" yaml:"key"`
	Events int       `json:"events" yaml:"events"`
	Oldest time.Time `json:"oldest" yaml:"oldest"`
	Newest time.Time `json:"newest" yaml:"newest"`
}

// WindowQuery selects window keys for administrative commands.
type WindowQuery struct {
	All    bool
	Key    string
	Prefix string
}

// Validate requires exactly one usable selector.
func (q WindowQuery) Validate() error {
	if q.All {
		return nil
	}
	if strings.TrimSpace(q.Key) != "" {
		return nil
	}
	if strings.TrimSpace(q.Prefix) != "" {
		return nil
	}
	return errors.New("must specify --all, --key, or --prefix")
}
