package library

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrForbidden           = errors.New("permission denied")
	ErrUnavailable         = errors.New("book is not available")
	ErrDuplicateBorrow     = errors.New("you have already borrowed this book")
	ErrAlreadyReturned     = errors.New("book already returned")
	ErrBookInUse           = errors.New("book is currently borrowed")
	ErrDuplicateIdentifier = errors.New("another book with this ID already exists")
	ErrDuplicateISBN       = errors.New("another book with this ISBN already exists")
	ErrDuplicateUsername   = errors.New("username already exists")
	ErrDuplicateEmail      = errors.New("email already exists")
	ErrInvalidCredentials  = errors.New("invalid username or password")
	ErrValidation          = errors.New("invalid data")

	// ErrStorage marks a persistence failure. The transaction that hit it was rolled back.
	ErrStorage = errors.New("storage error")
)

// ValidationError lists the rejected input fields with a message for each.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return ErrValidation.Error() + ": " + strings.Join(parts, "; ")
}

// Is lets errors.Is(err, ErrValidation) match any ValidationError.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func (e *ValidationError) add(field, msg string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	if _, ok := e.Fields[field]; !ok {
		e.Fields[field] = msg
	}
}

// orNil returns e only if it recorded at least one field.
func (e *ValidationError) orNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

// storageError wraps a driver error so errors.Is(err, ErrStorage) holds.
func storageError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
}

// isDomainError reports whether err already carries one of the package's classifications.
func isDomainError(err error) bool {
	for _, target := range []error{
		ErrNotFound, ErrForbidden, ErrUnavailable, ErrDuplicateBorrow, ErrAlreadyReturned,
		ErrBookInUse, ErrDuplicateIdentifier, ErrDuplicateISBN, ErrDuplicateUsername,
		ErrDuplicateEmail, ErrInvalidCredentials, ErrValidation, ErrStorage,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
