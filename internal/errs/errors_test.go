package errs

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidationError(t *testing.T) {
	err := Validationf("amount", "must be greater than zero, got %s", "-5")
	assert.Equal(t, "amount: must be greater than zero, got -5", err.Error())
	assert.True(t, IsValidation(err))
	assert.False(t, IsNotFound(err))
}

func TestValidationWithoutField(t *testing.T) {
	err := Validation("sum of split amounts must equal the bank transaction amount")
	assert.Equal(t, "sum of split amounts must equal the bank transaction amount", err.Error())
}

func TestNotFoundError(t *testing.T) {
	err := NotFound("transaction", "tx-123")
	assert.Equal(t, "transaction tx-123 not found", err.Error())
	assert.True(t, IsNotFound(err))
}

func TestWrappedErrorsStillMatch(t *testing.T) {
	inner := NotFound("document", "doc-1")
	wrapped := fmt.Errorf("replacing splits: %w", inner)
	assert.True(t, IsNotFound(wrapped))

	conflict := fmt.Errorf("submit: %w", Conflict("splits already pending review"))
	assert.True(t, IsConflict(conflict))
	assert.False(t, IsValidation(conflict))
}
