package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStorage_NilStaysNil(t *testing.T) {
	assert.NoError(t, Storage("op", nil))
}

func TestStorage_MatchesSentinelAndCause(t *testing.T) {
	cause := errors.New("disk full")
	err := Storage("claim.upsert", cause)

	assert.ErrorIs(t, err, ErrStorage)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "claim.upsert")

	var se *StorageError
	assert.True(t, errors.As(err, &se))
	assert.Equal(t, "claim.upsert", se.Op)
}

func TestStorage_DoesNotDoubleWrap(t *testing.T) {
	inner := Storage("inner", errors.New("x"))
	outer := Storage("outer", fmt.Errorf("ctx: %w", inner))

	var se *StorageError
	assert.True(t, errors.As(outer, &se))
	assert.Equal(t, "inner", se.Op)
}

func TestInvalid(t *testing.T) {
	err := Invalid("hint %q is blank", "")
	assert.ErrorIs(t, err, ErrInvalidEntry)
	assert.True(t, IsValidation(err))
}

func TestIsValidation(t *testing.T) {
	assert.True(t, IsValidation(ErrNotFound))
	assert.True(t, IsValidation(fmt.Errorf("wrap: %w", ErrSessionNotFound)))
	assert.True(t, IsValidation(ErrAlreadyAnswered))
	assert.False(t, IsValidation(Storage("op", errors.New("boom"))))
	assert.False(t, IsValidation(errors.New("other")))
}
