package store_test

import (
	"errors"
	"fmt"
	"testing"

	registrystore "github.com/chirino/content-migrator/internal/registry/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestFailedCount(t *testing.T) {
	assert.Equal(t, 0, registrystore.FailedCount(nil))
	results := []registrystore.SaveResult{
		{ID: uuid.New()},
		{Err: &registrystore.ValidationError{Field: "title", Message: "required"}},
		{ID: uuid.New()},
		{Err: errors.New("boom")},
	}
	assert.Equal(t, 2, registrystore.FailedCount(results))
}

func TestIsRecordRejection(t *testing.T) {
	assert.True(t, registrystore.IsRecordRejection(&registrystore.ValidationError{Field: "accessLevel", Message: "owner"}))
	assert.True(t, registrystore.IsRecordRejection(fmt.Errorf("wrapped: %w", &registrystore.ConflictError{Message: "dup"})))
	assert.True(t, registrystore.IsRecordRejection(&registrystore.NotFoundError{Resource: "user", ID: "x"}))
	assert.False(t, registrystore.IsRecordRejection(errors.New("connection reset")))
	assert.False(t, registrystore.IsRecordRejection(nil))
}
