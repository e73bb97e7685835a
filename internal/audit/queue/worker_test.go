package queue

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestIsRetryable_TransientErrorsRetry(t *testing.T) {
	assert.True(t, isRetryable(errors.New("connection refused")))
	assert.True(t, isRetryable(errors.New("context deadline exceeded")))
}

func TestIsRetryable_RecordNotFoundDoesNotRetry(t *testing.T) {
	assert.False(t, isRetryable(gorm.ErrRecordNotFound))
}

func TestIsRetryable_ConstraintViolationsDoNotRetry(t *testing.T) {
	assert.False(t, isRetryable(errors.New("Error 1062: Duplicate entry '1' for key 'PRIMARY'")))
	assert.False(t, isRetryable(errors.New("cannot add or update a child row: a foreign key constraint fails")))
	assert.False(t, isRetryable(errors.New("Data too long for column 'state_json'")))
}

