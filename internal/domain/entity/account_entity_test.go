package entity

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccount_TouchNeverBeforeCreatedAt(t *testing.T) {
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	a := &Account{CreatedAt: created, UpdatedAt: created}

	a.Touch(created.Add(-time.Hour))
	assert.Equal(t, created, a.UpdatedAt)

	later := created.Add(time.Minute)
	a.Touch(later)
	assert.Equal(t, later, a.UpdatedAt)
}

func TestAccount_JSONOmitsPasswordHash(t *testing.T) {
	a := Account{ID: 1, Email: "li@x.com", Username: "li_bai", PasswordHash: "$2a$secret"}

	b, err := json.Marshal(a)
	require.NoError(t, err)
	assert.NotContains(t, string(b), "secret")
	assert.NotContains(t, string(b), "password")
}

func TestIsConflict(t *testing.T) {
	err := fmt.Errorf("update: %w", NewConflict(FieldUsername))

	field, ok := IsConflict(err)
	require.True(t, ok)
	assert.Equal(t, FieldUsername, field)
	assert.Equal(t, "username already taken", NewConflict(FieldUsername).Error())

	_, ok = IsConflict(ErrInvalidCredential)
	assert.False(t, ok)
}
