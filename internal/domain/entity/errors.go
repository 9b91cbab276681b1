package entity

import (
	"errors"
	"fmt"
)

var (
	ErrAccountNotFound   = errors.New("account not found")
	ErrAccountInactive   = errors.New("account inactive")
	ErrInvalidCredential = errors.New("current password is incorrect")
	ErrInvalidFileType   = errors.New("file must be an image")
	ErrFileTooLarge      = errors.New("file too large")
)

// UniqueField names an account attribute that must be unique across accounts.
type UniqueField string

const (
	FieldEmail    UniqueField = "email"
	FieldUsername UniqueField = "username"
)

// ConflictError reports that a unique field value is bound to another account.
type ConflictError struct {
	Field UniqueField
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s already taken", e.Field)
}

// NewConflict builds a ConflictError for field.
func NewConflict(field UniqueField) error {
	return &ConflictError{Field: field}
}

// IsConflict reports whether err is a ConflictError and returns its field.
func IsConflict(err error) (UniqueField, bool) {
	var ce *ConflictError
	if errors.As(err, &ce) {
		return ce.Field, true
	}
	return "", false
}
