package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/carepath/internal/billing/domain"
)

func TestSplit_MapsColumnsToMirrorFields(t *testing.T) {
	end := time.Date(2026, 11, 15, 9, 30, 0, 0, time.FixedZone("CET", 3600))

	columns, fields := split(SubscriptionUpdate{
		Status:          domain.SubscriptionActive,
		IsActive:        boolPtr(false),
		EndDate:         &end,
		NextBillingDate: &end,
	}.assignments())

	assert.Equal(t, domain.Fields{
		"status":            "active",
		"is_active":         false,
		"end_date":          end,
		"next_billing_date": end,
	}, columns)
	assert.Equal(t, domain.Fields{
		"status":          "active",
		"isActive":        false,
		"endDate":         "2026-11-15T08:30:00Z",
		"nextBillingDate": "2026-11-15T08:30:00Z",
	}, fields)
}

func TestSplit_OmitsZeroValues(t *testing.T) {
	columns, fields := split(OrderUpdate{PaymentStatus: domain.PaymentFailed}.assignments())

	assert.Equal(t, domain.Fields{"payment_status": "failed"}, columns)
	assert.Equal(t, domain.Fields{"paymentStatus": "failed"}, fields)
}

func TestOperations_UpdateOrderUsesSyncVisibility(t *testing.T) {
	h := newHarness()
	h.relational.seed(domain.TableOrders, row{"id": "order-1", "status": "pending"})
	ops := NewOperations(h.relational, h.documents, h.processor, nil)

	err := ops.UpdateOrder(context.Background(), "order-1", "order-doc-1", OrderUpdate{Status: domain.OrderPaid})
	require.NoError(t, err)

	require.Len(t, h.documents.patches, 1)
	assert.Equal(t, domain.VisibilitySync, h.documents.patches[0].visibility)
	assert.Equal(t, "paid", h.relational.row(domain.TableOrders, "order-1")["status"])
}

func TestOperations_RelationalFailureSkipsMirror(t *testing.T) {
	h := newHarness()
	h.relational.seed(domain.TableSubscriptions, row{"id": "us-1", "sanity_id": "sub-doc-1"})
	h.relational.updateErr = errors.New("connection reset")
	ops := NewOperations(h.relational, h.documents, h.processor, nil)

	err := ops.UpdateSubscription(context.Background(), &domain.UserSubscription{ID: "us-1", MirrorID: "sub-doc-1"},
		SubscriptionUpdate{Status: domain.SubscriptionPastDue})

	require.Error(t, err)
	assert.Zero(t, h.documents.patchCount())
}

func TestOperations_WithoutDocumentStore(t *testing.T) {
	h := newHarness()
	h.relational.seed(domain.TableSubscriptions, row{"id": "us-1", "sanity_id": "sub-doc-1"})
	ops := NewOperations(h.relational, nil, h.processor, nil)

	err := ops.UpdateSubscription(context.Background(), &domain.UserSubscription{ID: "us-1", MirrorID: "sub-doc-1"},
		SubscriptionUpdate{Status: domain.SubscriptionCancelled})

	require.NoError(t, err)
	assert.Equal(t, "cancelled", h.relational.row(domain.TableSubscriptions, "us-1")["status"])
}

func TestOperations_ChargeAppointmentOncePerAppointment(t *testing.T) {
	h := newHarness()
	h.relational.seed(domain.TableSubscriptions, row{"id": "us-1", "sanity_id": "sub-doc-1", "appointments_used": 2})
	h.relational.seed(domain.TableAppointments, row{"id": "ap-1", "sanity_id": "appt-doc-ap-1"})
	ops := NewOperations(h.relational, h.documents, h.processor, nil)
	appt := &domain.UserAppointment{ID: "ap-1", MirrorID: "appt-doc-ap-1"}

	used, charged, err := ops.ChargeAppointment(context.Background(), appt, "us-1")
	require.NoError(t, err)
	assert.Equal(t, 3, used)
	assert.True(t, charged)
	assert.Equal(t, 3, h.documents.doc("sub-doc-1")["appointmentsUsed"])

	used, charged, err = ops.ChargeAppointment(context.Background(), appt, "us-1")
	require.NoError(t, err)
	assert.Equal(t, 3, used)
	assert.False(t, charged)
	assert.Equal(t, 3, h.relational.row(domain.TableSubscriptions, "us-1")["appointments_used"])
	assert.Equal(t, 2, h.documents.patchCount())

	_, _, err = ops.ChargeAppointment(context.Background(), appt, "us-missing")
	assert.True(t, domain.IsNotFound(err))
}

func TestOperations_ChargeAppointmentRepairsMirror(t *testing.T) {
	h := newHarness()
	h.relational.seed(domain.TableSubscriptions, row{"id": "us-1", "sanity_id": "sub-doc-1"})
	h.relational.seed(domain.TableAppointments, row{"id": "ap-1"})
	ops := NewOperations(h.relational, h.documents, h.processor, nil)
	appt := &domain.UserAppointment{ID: "ap-1"}

	h.documents.err = errors.New("sanity unavailable")
	_, charged, err := ops.ChargeAppointment(context.Background(), appt, "us-1")
	require.Error(t, err)
	assert.True(t, charged)

	h.documents.err = nil
	used, charged, err := ops.ChargeAppointment(context.Background(), appt, "us-1")
	require.NoError(t, err)
	assert.False(t, charged)
	assert.Equal(t, 1, used)
	assert.Equal(t, 1, h.documents.doc("sub-doc-1")["appointmentsUsed"])
}

func TestOperations_ResolveAppointmentAllLookupsMiss(t *testing.T) {
	h := newHarness()
	h.processor.sessionMetadata["cs_1"] = map[string]string{"appointmentId": "appt-1"}
	ops := NewOperations(h.relational, h.documents, h.processor, nil)

	// The stored id equals the fallback id, so it is not looked up twice.
	_, err := ops.ResolveAppointment(context.Background(), "cs_1", "appt-1")

	require.Error(t, err)
	assert.True(t, domain.IsNotFound(err))
	assert.Zero(t, h.relational.updates)
}

func TestOperations_ResolveAppointmentProcessorError(t *testing.T) {
	h := newHarness()
	h.processor.err = errors.New("processor unavailable")
	ops := NewOperations(h.relational, h.documents, h.processor, nil)

	_, err := ops.ResolveAppointment(context.Background(), "cs_1", "")

	require.Error(t, err)
	assert.False(t, domain.IsNotFound(err))
}
