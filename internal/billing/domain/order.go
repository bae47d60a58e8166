package domain

// OrderStatus is the lifecycle state of an Order.
type OrderStatus string

const (
	OrderPending OrderStatus = "pending"
	OrderPaid    OrderStatus = "paid"
)

// PaymentStatus is the payment state shared by orders and appointments.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentFailed  PaymentStatus = "failed"
)

// PaymentMethodStripe marks purchases settled through the processor.
const PaymentMethodStripe = "stripe"

// Order is a non-subscription, non-appointment purchase.
type Order struct {
	ID                    string
	MirrorID              string
	Status                OrderStatus
	PaymentMethod         string
	PaymentStatus         PaymentStatus
	StripeSessionID       string
	StripePaymentIntentID string
	StripeCustomerID      string
}
