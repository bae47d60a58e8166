package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means a correlation key matched no record.
	ErrNotFound = errors.New("record not found")

	// ErrMissingField means an event payload lacks a field the handler requires.
	ErrMissingField = errors.New("missing required field")

	// ErrMalformedPayload means an event payload could not be decoded.
	ErrMalformedPayload = errors.New("malformed payload")
)

// DatastoreError reports a failed relational operation together with the key
// it targeted. It wraps ErrNotFound when an update matched zero rows.
type DatastoreError struct {
	Op       string
	Table    Table
	KeyField KeyField
	Key      string
	Err      error
}

func (e *DatastoreError) Error() string {
	return fmt.Sprintf("%s %s where %s=%q: %v", e.Op, e.Table, e.KeyField, e.Key, e.Err)
}

func (e *DatastoreError) Unwrap() error {
	return e.Err
}

// DocumentStoreError reports a failed mirror document commit.
type DocumentStoreError struct {
	DocumentID string
	Err        error
}

func (e *DocumentStoreError) Error() string {
	return fmt.Sprintf("patch document %q: %v", e.DocumentID, e.Err)
}

func (e *DocumentStoreError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err means a correlation key matched nothing.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
