package domain

import "time"

// AppointmentStatus is the lifecycle state of a UserAppointment.
type AppointmentStatus string

const (
	AppointmentPending   AppointmentStatus = "pending"
	AppointmentScheduled AppointmentStatus = "scheduled"
	AppointmentCompleted AppointmentStatus = "completed"
	AppointmentCancelled AppointmentStatus = "cancelled"
)

// UserAppointment is a purchased or entitlement-based appointment slot.
type UserAppointment struct {
	ID                 string
	StripeSessionID    string
	Status             AppointmentStatus
	ScheduledDate      *time.Time
	PaymentStatus      PaymentStatus
	MirrorID           string
	UserSubscriptionID string
}

// PlaceholderScheduleDate is the scheduled date given to a freshly paid
// appointment until the patient picks a real slot: the same time tomorrow.
func PlaceholderScheduleDate(now time.Time) time.Time {
	return now.AddDate(0, 0, 1)
}
