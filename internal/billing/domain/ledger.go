package domain

import "context"

// ClaimState is the outcome of claiming a processor event for handling.
type ClaimState int

const (
	// ClaimAcquired means this caller owns the event and must Complete or Release it.
	ClaimAcquired ClaimState = iota
	// ClaimDone means the event was already handled successfully.
	ClaimDone
	// ClaimInFlight means another delivery of the event is being handled now.
	ClaimInFlight
)

func (s ClaimState) String() string {
	switch s {
	case ClaimAcquired:
		return "acquired"
	case ClaimDone:
		return "done"
	case ClaimInFlight:
		return "in_flight"
	default:
		return "unknown"
	}
}

// EventLedger records which processor events have been handled so redelivered
// events are acknowledged without touching the stores again.
type EventLedger interface {
	Claim(ctx context.Context, eventID string) (ClaimState, error)
	Complete(ctx context.Context, eventID string) error
	Release(ctx context.Context, eventID string) error
}
