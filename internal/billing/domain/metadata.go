package domain

import "strings"

// Checkout session metadata keys written by the checkout-initiation flow.
const (
	MetaUserID               = "userId"
	MetaSubscriptionID       = "subscriptionId"
	MetaAppointmentID        = "appointmentId"
	MetaType                 = "type"
	MetaFromSubscription     = "fromSubscription"
	MetaSourceSubscriptionID = "sourceSubscriptionId"
	MetaOrderID              = "orderId"
	MetaMirrorID             = "sanityId"
)

// PurchaseTypeAppointment is the MetaType value marking a one-time appointment.
const PurchaseTypeAppointment = "appointment"

// CheckoutModeSubscription is the session mode of recurring purchases.
const CheckoutModeSubscription = "subscription"

// CheckoutMetadata is the correlation metadata carried on a checkout session.
type CheckoutMetadata struct {
	UserID               string
	SubscriptionID       string
	AppointmentID        string
	Type                 string
	FromSubscription     bool
	SourceSubscriptionID string
	OrderID              string
	MirrorID             string
}

// ParseCheckoutMetadata reads the metadata bag once, trimming whitespace.
func ParseCheckoutMetadata(raw map[string]string) CheckoutMetadata {
	get := func(key string) string { return strings.TrimSpace(raw[key]) }
	return CheckoutMetadata{
		UserID:               get(MetaUserID),
		SubscriptionID:       get(MetaSubscriptionID),
		AppointmentID:        get(MetaAppointmentID),
		Type:                 get(MetaType),
		FromSubscription:     strings.EqualFold(get(MetaFromSubscription), "true"),
		SourceSubscriptionID: get(MetaSourceSubscriptionID),
		OrderID:              get(MetaOrderID),
		MirrorID:             get(MetaMirrorID),
	}
}

// Purchase is the classified intent of a checkout session. It is one of
// SubscriptionPurchase, AppointmentPurchase or OrderPurchase.
type Purchase interface {
	Kind() string
}

// SubscriptionPurchase is a recurring plan bought through a subscription-mode session.
type SubscriptionPurchase struct {
	UserID    string
	ProductID string
}

// AppointmentPurchase is a one-time appointment, bought directly or drawn
// from a subscription's included appointments.
type AppointmentPurchase struct {
	UserID               string
	AppointmentID        string
	FromSubscription     bool
	SourceSubscriptionID string
}

// OrderPurchase is any other product purchase.
type OrderPurchase struct {
	OrderID  string
	MirrorID string
}

func (SubscriptionPurchase) Kind() string { return "subscription" }
func (AppointmentPurchase) Kind() string  { return "appointment" }
func (OrderPurchase) Kind() string        { return "order" }

// UsesEntitlement reports whether the appointment consumes a subscription allowance.
func (p AppointmentPurchase) UsesEntitlement() bool {
	return p.FromSubscription && p.SourceSubscriptionID != ""
}

// Classify returns the purchase this session represents, or nil when the
// metadata matches no known purchase type.
func (m CheckoutMetadata) Classify(mode string) Purchase {
	switch {
	case mode == CheckoutModeSubscription && m.SubscriptionID != "":
		return SubscriptionPurchase{UserID: m.UserID, ProductID: m.SubscriptionID}
	case m.Type == PurchaseTypeAppointment && m.AppointmentID != "":
		return AppointmentPurchase{
			UserID:               m.UserID,
			AppointmentID:        m.AppointmentID,
			FromSubscription:     m.FromSubscription,
			SourceSubscriptionID: m.SourceSubscriptionID,
		}
	case m.OrderID != "" || m.MirrorID != "":
		return OrderPurchase{OrderID: m.OrderID, MirrorID: m.MirrorID}
	default:
		return nil
	}
}

// PaymentIntentMetadata is the order correlation carried on a payment intent.
type PaymentIntentMetadata struct {
	OrderID  string
	MirrorID string
}

// ParsePaymentIntentMetadata reads order correlation ids from a payment intent.
func ParsePaymentIntentMetadata(raw map[string]string) PaymentIntentMetadata {
	return PaymentIntentMetadata{
		OrderID:  strings.TrimSpace(raw[MetaOrderID]),
		MirrorID: strings.TrimSpace(raw[MetaMirrorID]),
	}
}

// Empty reports whether the payment intent carries no order correlation.
func (m PaymentIntentMetadata) Empty() bool {
	return m.OrderID == "" && m.MirrorID == ""
}
