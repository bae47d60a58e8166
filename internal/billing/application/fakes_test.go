package application

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/felixgeelhaar/carepath/internal/billing/domain"
)

type row map[string]any

// fakeRelational is an in-memory RelationalStore with the same no-insert
// semantics as the SQL store.
type fakeRelational struct {
	mu        sync.Mutex
	tables    map[domain.Table][]row
	updates   int
	updateErr error
}

func newFakeRelational() *fakeRelational {
	return &fakeRelational{tables: map[domain.Table][]row{}}
}

func (f *fakeRelational) seed(table domain.Table, r row) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tables[table] = append(f.tables[table], r)
}

func (f *fakeRelational) find(table domain.Table, keyField domain.KeyField, key string) row {
	for _, r := range f.tables[table] {
		if v, ok := r[string(keyField)].(string); ok && v == key {
			return r
		}
	}
	return nil
}

func (f *fakeRelational) row(table domain.Table, id string) row {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.find(table, domain.KeyID, id)
}

func (f *fakeRelational) count(table domain.Table) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tables[table])
}

func (f *fakeRelational) Update(_ context.Context, table domain.Table, keyField domain.KeyField, key string, fields domain.Fields) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates++
	if f.updateErr != nil {
		return &domain.DatastoreError{Op: "update", Table: table, KeyField: keyField, Key: key, Err: f.updateErr}
	}
	r := f.find(table, keyField, key)
	if r == nil {
		return &domain.DatastoreError{Op: "update", Table: table, KeyField: keyField, Key: key, Err: domain.ErrNotFound}
	}
	for k, v := range fields {
		r[k] = v
	}
	return nil
}

func (f *fakeRelational) Get(_ context.Context, table domain.Table, keyField domain.KeyField, key string) (*domain.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.find(table, keyField, key)
	if r == nil {
		return nil, &domain.DatastoreError{Op: "select", Table: table, KeyField: keyField, Key: key, Err: domain.ErrNotFound}
	}
	rec := &domain.Record{}
	rec.ID, _ = r["id"].(string)
	rec.MirrorID, _ = r["sanity_id"].(string)
	rec.Status, _ = r["status"].(string)
	rec.StripeSessionID, _ = r["stripe_session_id"].(string)
	rec.AppointmentsUsed, _ = r["appointments_used"].(int)
	if d, ok := r["scheduled_date"].(time.Time); ok {
		rec.ScheduledDate = &d
	}
	return rec, nil
}

func (f *fakeRelational) ChargeAppointment(_ context.Context, appointmentID, subscriptionID string) (int, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub := f.find(domain.TableSubscriptions, domain.KeyID, subscriptionID)
	if sub == nil {
		return 0, false, &domain.DatastoreError{Op: "charge", Table: domain.TableSubscriptions, KeyField: domain.KeyID, Key: subscriptionID, Err: domain.ErrNotFound}
	}
	appt := f.find(domain.TableAppointments, domain.KeyID, appointmentID)
	if appt == nil {
		return 0, false, &domain.DatastoreError{Op: "charge", Table: domain.TableAppointments, KeyField: domain.KeyID, Key: appointmentID, Err: domain.ErrNotFound}
	}
	used, _ := sub["appointments_used"].(int)
	if charged, _ := appt["entitlement_charged"].(bool); charged {
		return used, false, nil
	}
	used++
	sub["appointments_used"] = used
	appt["entitlement_charged"] = true
	appt["user_subscription_id"] = subscriptionID
	return used, true, nil
}

type patch struct {
	documentID string
	fields     domain.Fields
	visibility domain.Visibility
}

// fakeDocuments records patches and merges them into per-document state.
type fakeDocuments struct {
	mu      sync.Mutex
	docs    map[string]domain.Fields
	patches []patch
	err     error
}

func newFakeDocuments() *fakeDocuments {
	return &fakeDocuments{docs: map[string]domain.Fields{}}
}

func (f *fakeDocuments) Patch(_ context.Context, documentID string, fields domain.Fields, visibility domain.Visibility) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return &domain.DocumentStoreError{DocumentID: documentID, Err: f.err}
	}
	f.patches = append(f.patches, patch{documentID: documentID, fields: fields, visibility: visibility})
	doc, ok := f.docs[documentID]
	if !ok {
		doc = domain.Fields{}
		f.docs[documentID] = doc
	}
	for k, v := range fields {
		doc[k] = v
	}
	return nil
}

func (f *fakeDocuments) doc(id string) domain.Fields {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.docs[id]
}

func (f *fakeDocuments) patchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.patches)
}

type fakeProcessor struct {
	subscriptions    map[string]*domain.BillingSubscription
	sessionMetadata  map[string]map[string]string
	customers        map[string]string
	customersCreated int
	err              error
}

func newFakeProcessor() *fakeProcessor {
	return &fakeProcessor{
		subscriptions:   map[string]*domain.BillingSubscription{},
		sessionMetadata: map[string]map[string]string{},
		customers:       map[string]string{},
	}
}

func (f *fakeProcessor) RetrieveSubscription(_ context.Context, id string) (*domain.BillingSubscription, error) {
	if f.err != nil {
		return nil, f.err
	}
	sub, ok := f.subscriptions[id]
	if !ok {
		return nil, errors.New("no such subscription: " + id)
	}
	cp := *sub
	return &cp, nil
}

func (f *fakeProcessor) RetrieveCheckoutSessionMetadata(_ context.Context, id string) (map[string]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.sessionMetadata[id], nil
}

func (f *fakeProcessor) EnsureCustomer(_ context.Context, email string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if id, ok := f.customers[email]; ok {
		return id, nil
	}
	f.customersCreated++
	id := "cus_new_" + email
	f.customers[email] = id
	return id, nil
}

var fixedNow = time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

type harness struct {
	relational *fakeRelational
	documents  *fakeDocuments
	processor  *fakeProcessor
	handlers   *Handlers
}

func newHarness() *harness {
	h := &harness{
		relational: newFakeRelational(),
		documents:  newFakeDocuments(),
		processor:  newFakeProcessor(),
	}
	ops := NewOperations(h.relational, h.documents, h.processor, nil)
	h.handlers = NewHandlers(ops, h.processor, nil).WithClock(func() time.Time { return fixedNow })
	return h
}
