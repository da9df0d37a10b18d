package order

import (
	"github.com/xenking/oolio-orderflow/internal/domain/apperr"
)

// Status is the lifecycle state of an order.
type Status uint8

// remember to add new statuses to statusNames and transitions
const (
	StatusPending Status = iota
	StatusConfirmed
	StatusShipped
	StatusDelivered
	StatusCancelled
	StatusReturned

	statusCount
)

var statusNames = [statusCount]string{
	StatusPending:   "pending",
	StatusConfirmed: "confirmed",
	StatusShipped:   "shipped",
	StatusDelivered: "delivered",
	StatusCancelled: "cancelled",
	StatusReturned:  "returned",
}

// transitions lists the allowed targets per status. A nil row is terminal.
var transitions = [statusCount][]Status{
	StatusPending:   {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusShipped, StatusCancelled},
	StatusShipped:   {StatusDelivered},
	StatusDelivered: {StatusReturned},
	StatusCancelled: nil,
	StatusReturned:  nil,
}

// Statuses returns all statuses in lifecycle order.
func Statuses() []Status {
	out := make([]Status, statusCount)
	for i := range out {
		out[i] = Status(i)
	}
	return out
}

// ParseStatus converts the wire name of a status.
func ParseStatus(s string) (Status, error) {
	for i, name := range statusNames {
		if name == s {
			return Status(i), nil
		}
	}
	return 0, apperr.Validation("status", "unknown order status %q", s)
}

func (s Status) String() string {
	if !s.Valid() {
		return "unknown"
	}
	return statusNames[s]
}

// Valid reports whether s is one of the declared statuses.
func (s Status) Valid() bool { return s < statusCount }

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return s.Valid() && len(transitions[s]) == 0
}

// CanTransitionTo reports whether target is reachable from s in one step.
func (s Status) CanTransitionTo(target Status) bool {
	if !s.Valid() || !target.Valid() {
		return false
	}
	for _, t := range transitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// Next returns the statuses reachable from s.
func (s Status) Next() []Status {
	if !s.Valid() {
		return nil
	}
	return append([]Status(nil), transitions[s]...)
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, apperr.Validation("status", "unknown order status %d", uint8(s))
	}
	return []byte(statusNames[s]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(b []byte) error {
	v, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}
