package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/felixgeelhaar/carepath/internal/billing/domain"
	"github.com/felixgeelhaar/carepath/internal/shared/infrastructure/database"
)

// writableColumns lists, per table, the columns this service may transition.
// Anything else (ids, user ids, created_at) is owned by the checkout flow.
var writableColumns = map[domain.Table]map[string]bool{
	domain.TableSubscriptions: {
		"stripe_subscription_id": true,
		"stripe_session_id":      true,
		"status":                 true,
		"is_active":              true,
		"start_date":             true,
		"end_date":               true,
		"next_billing_date":      true,
		"appointments_used":      true,
	},
	domain.TableAppointments: {
		"stripe_session_id": true,
		"status":            true,
		"scheduled_date":    true,
		"payment_status":    true,
	},
	domain.TableOrders: {
		"status":                   true,
		"payment_method":           true,
		"payment_status":           true,
		"stripe_session_id":        true,
		"stripe_payment_intent_id": true,
		"stripe_customer_id":       true,
	},
}

var lookupKeys = map[domain.KeyField]bool{
	domain.KeyID:                   true,
	domain.KeyStripeSubscriptionID: true,
	domain.KeyStripeSessionID:      true,
}

// SQLStore implements domain.RelationalStore over either relational backend.
type SQLStore struct {
	conn   database.Connection
	logger *slog.Logger
	now    func() time.Time
}

// NewSQLStore creates a relational store on an open connection.
func NewSQLStore(conn database.Connection, logger *slog.Logger) *SQLStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLStore{conn: conn, logger: logger, now: time.Now}
}

// Update applies fields to the row matching keyField = key. It never inserts.
func (s *SQLStore) Update(ctx context.Context, table domain.Table, keyField domain.KeyField, key string, fields domain.Fields) error {
	if err := validate(table, keyField); err != nil {
		return err
	}
	if len(fields) == 0 {
		return fmt.Errorf("update %s: no fields", table)
	}

	names := make([]string, 0, len(fields))
	for name := range fields {
		if !writableColumns[table][name] {
			return fmt.Errorf("update %s: column %q is not writable", table, name)
		}
		names = append(names, name)
	}
	sort.Strings(names)

	driver := s.conn.Driver()
	sets := make([]string, 0, len(names)+1)
	args := make([]any, 0, len(names)+2)
	for _, name := range names {
		args = append(args, s.arg(fields[name]))
		sets = append(sets, fmt.Sprintf("%s = %s", name, driver.Placeholder(len(args))))
	}
	args = append(args, s.arg(s.now()))
	sets = append(sets, "updated_at = "+driver.Placeholder(len(args)))
	args = append(args, key)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s",
		table, strings.Join(sets, ", "), keyField, driver.Placeholder(len(args)))

	result, err := s.conn.Exec(ctx, query, args...)
	if err != nil {
		s.logger.ErrorContext(ctx, "relational update failed",
			"table", table, "key_field", keyField, "key", key, "error", err)
		return &domain.DatastoreError{Op: "update", Table: table, KeyField: keyField, Key: key, Err: err}
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return &domain.DatastoreError{Op: "update", Table: table, KeyField: keyField, Key: key, Err: err}
	}
	if affected == 0 {
		return &domain.DatastoreError{Op: "update", Table: table, KeyField: keyField, Key: key, Err: domain.ErrNotFound}
	}
	return nil
}

// Get returns the row matching keyField = key.
func (s *SQLStore) Get(ctx context.Context, table domain.Table, keyField domain.KeyField, key string) (*domain.Record, error) {
	if err := validate(table, keyField); err != nil {
		return nil, err
	}

	driver := s.conn.Driver()
	counter := "0"
	if table == domain.TableSubscriptions {
		counter = "appointments_used"
	}
	scheduled := "NULL"
	switch {
	case table == domain.TableAppointments:
		scheduled = "scheduled_date"
	case driver == database.DriverPostgres:
		scheduled = "NULL::timestamptz"
	}
	query := fmt.Sprintf(`
		SELECT CAST(id AS TEXT), COALESCE(sanity_id, ''), status,
		       COALESCE(stripe_session_id, ''), %s, %s
		FROM %s
		WHERE %s = %s
		LIMIT 1`, counter, scheduled, table, keyField, driver.Placeholder(1))

	// Postgres returns timestamptz; SQLite stores RFC 3339 text.
	var (
		pgDate   *time.Time
		textDate sql.NullString
	)
	var dateDest any = &pgDate
	if driver == database.DriverSQLite {
		dateDest = &textDate
	}

	var rec domain.Record
	err := s.conn.QueryRow(ctx, query, key).Scan(
		&rec.ID,
		&rec.MirrorID,
		&rec.Status,
		&rec.StripeSessionID,
		&rec.AppointmentsUsed,
		dateDest,
	)
	if err != nil {
		if database.IsNoRows(err) {
			return nil, &domain.DatastoreError{Op: "select", Table: table, KeyField: keyField, Key: key, Err: domain.ErrNotFound}
		}
		s.logger.ErrorContext(ctx, "relational lookup failed",
			"table", table, "key_field", keyField, "key", key, "error", err)
		return nil, &domain.DatastoreError{Op: "select", Table: table, KeyField: keyField, Key: key, Err: err}
	}

	switch {
	case pgDate != nil:
		t := pgDate.UTC()
		rec.ScheduledDate = &t
	case textDate.Valid && textDate.String != "":
		t, err := time.Parse(time.RFC3339, textDate.String)
		if err != nil {
			return nil, &domain.DatastoreError{Op: "select", Table: table, KeyField: keyField, Key: key,
				Err: fmt.Errorf("scheduled_date %q: %w", textDate.String, err)}
		}
		t = t.UTC()
		rec.ScheduledDate = &t
	}
	return &rec, nil
}

// errAlreadyCharged rolls back the counter increment of a charge that was
// already applied.
var errAlreadyCharged = errors.New("appointment already charged")

// ChargeAppointment increments the subscription counter and flags the
// appointment in one transaction. The flag guards the increment, so a
// repeated charge for the same appointment changes nothing.
func (s *SQLStore) ChargeAppointment(ctx context.Context, appointmentID, subscriptionID string) (int, bool, error) {
	driver := s.conn.Driver()
	now := s.arg(s.now())

	increment := fmt.Sprintf(`
		UPDATE user_subscriptions
		SET appointments_used = appointments_used + 1, updated_at = %s
		WHERE id = %s
		RETURNING appointments_used`, driver.Placeholder(1), driver.Placeholder(2))
	mark := fmt.Sprintf(`
		UPDATE user_appointments
		SET entitlement_charged = %s, user_subscription_id = %s, updated_at = %s
		WHERE id = %s AND entitlement_charged = %s`,
		driver.Placeholder(1), driver.Placeholder(2), driver.Placeholder(3), driver.Placeholder(4), driver.Placeholder(5))

	var used int
	err := s.conn.InTx(ctx, func(tx database.Executor) error {
		if err := tx.QueryRow(ctx, increment, now, subscriptionID).Scan(&used); err != nil {
			if database.IsNoRows(err) {
				return &domain.DatastoreError{Op: "increment", Table: domain.TableSubscriptions, KeyField: domain.KeyID, Key: subscriptionID, Err: domain.ErrNotFound}
			}
			return &domain.DatastoreError{Op: "increment", Table: domain.TableSubscriptions, KeyField: domain.KeyID, Key: subscriptionID, Err: err}
		}

		result, err := tx.Exec(ctx, mark, true, subscriptionID, now, appointmentID, false)
		if err != nil {
			return &domain.DatastoreError{Op: "update", Table: domain.TableAppointments, KeyField: domain.KeyID, Key: appointmentID, Err: err}
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return &domain.DatastoreError{Op: "update", Table: domain.TableAppointments, KeyField: domain.KeyID, Key: appointmentID, Err: err}
		}
		if affected == 0 {
			return errAlreadyCharged
		}
		return nil
	})

	switch {
	case err == nil:
		return used, true, nil
	case errors.Is(err, errAlreadyCharged):
		// Either the appointment was charged before or it does not exist.
		if _, err := s.Get(ctx, domain.TableAppointments, domain.KeyID, appointmentID); err != nil {
			return 0, false, err
		}
		sub, err := s.Get(ctx, domain.TableSubscriptions, domain.KeyID, subscriptionID)
		if err != nil {
			return 0, false, err
		}
		return sub.AppointmentsUsed, false, nil
	default:
		if !domain.IsNotFound(err) {
			s.logger.ErrorContext(ctx, "appointment charge failed",
				"appointment_id", appointmentID, "subscription_id", subscriptionID, "error", err)
		}
		return 0, false, err
	}
}

// arg normalizes values for the active driver. SQLite stores timestamps as
// RFC 3339 text in UTC.
func (s *SQLStore) arg(v any) any {
	if s.conn.Driver() != database.DriverSQLite {
		return v
	}
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	case *time.Time:
		if t == nil {
			return nil
		}
		return t.UTC().Format(time.RFC3339)
	default:
		return v
	}
}

func validate(table domain.Table, keyField domain.KeyField) error {
	if _, ok := writableColumns[table]; !ok {
		return fmt.Errorf("unknown table %q", table)
	}
	if !lookupKeys[keyField] {
		return fmt.Errorf("unknown key field %q", keyField)
	}
	if keyField == domain.KeyStripeSubscriptionID && table != domain.TableSubscriptions {
		return fmt.Errorf("table %s has no %s", table, keyField)
	}
	return nil
}

var _ domain.RelationalStore = (*SQLStore)(nil)
