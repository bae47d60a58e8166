package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckoutMetadata_Classify(t *testing.T) {
	tests := []struct {
		name string
		mode string
		raw  map[string]string
		want Purchase
	}{
		{
			name: "subscription purchase",
			mode: "subscription",
			raw:  map[string]string{"subscriptionId": "sub_plan_1", "userId": "u1"},
			want: SubscriptionPurchase{UserID: "u1", ProductID: "sub_plan_1"},
		},
		{
			name: "subscription mode without product falls through to order",
			mode: "subscription",
			raw:  map[string]string{"orderId": "o1"},
			want: OrderPurchase{OrderID: "o1"},
		},
		{
			name: "appointment purchase from entitlement",
			mode: "payment",
			raw: map[string]string{
				"type":                 "appointment",
				"appointmentId":        "a1",
				"fromSubscription":     "true",
				"sourceSubscriptionId": "us1",
			},
			want: AppointmentPurchase{AppointmentID: "a1", FromSubscription: true, SourceSubscriptionID: "us1"},
		},
		{
			name: "appointment marker without id is not an appointment",
			mode: "payment",
			raw:  map[string]string{"type": "appointment"},
			want: nil,
		},
		{
			name: "order with only mirror id",
			mode: "payment",
			raw:  map[string]string{"sanityId": "order-doc-1"},
			want: OrderPurchase{MirrorID: "order-doc-1"},
		},
		{
			name: "informational session",
			mode: "payment",
			raw:  map[string]string{"userId": "u1"},
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseCheckoutMetadata(tt.raw).Classify(tt.mode)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAppointmentPurchase_UsesEntitlement(t *testing.T) {
	assert.True(t, AppointmentPurchase{FromSubscription: true, SourceSubscriptionID: "us1"}.UsesEntitlement())
	assert.False(t, AppointmentPurchase{FromSubscription: true}.UsesEntitlement())
	assert.False(t, AppointmentPurchase{SourceSubscriptionID: "us1"}.UsesEntitlement())
}

func TestPaymentIntentMetadata(t *testing.T) {
	assert.True(t, ParsePaymentIntentMetadata(nil).Empty())
	m := ParsePaymentIntentMetadata(map[string]string{"orderId": " o1 "})
	assert.Equal(t, "o1", m.OrderID)
	assert.False(t, m.Empty())
}

func TestDatastoreError_WrapsNotFound(t *testing.T) {
	err := &DatastoreError{Op: "update", Table: TableOrders, KeyField: KeyID, Key: "o1", Err: ErrNotFound}
	assert.True(t, IsNotFound(err))
	assert.Contains(t, err.Error(), `orders where id="o1"`)

	var dsErr *DatastoreError
	assert.True(t, errors.As(error(err), &dsErr))
}
