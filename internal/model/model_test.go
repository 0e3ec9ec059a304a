package model_test

import (
	"testing"

	"github.com/chirino/content-migrator/internal/model"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestAccessLevelOrdering(t *testing.T) {
	assert.True(t, model.AccessLevelOwner.IsAtLeast(model.AccessLevelManager))
	assert.True(t, model.AccessLevelWriter.IsAtLeast(model.AccessLevelReader))
	assert.True(t, model.AccessLevelReader.IsAtLeast(model.AccessLevelReader))
	assert.False(t, model.AccessLevelReader.IsAtLeast(model.AccessLevelWriter))
	assert.False(t, model.AccessLevel("viewer").Valid())
	assert.True(t, model.AccessLevelManager.Valid())
}

func TestVisibilityValid(t *testing.T) {
	assert.True(t, model.VisibilityAllUsers.Valid())
	assert.True(t, model.VisibilityInternalUsers.Valid())
	assert.False(t, model.Visibility("public").Valid())
}

func TestProvenanceStamp(t *testing.T) {
	record := model.SourceRecord{ID: uuid.New(), ParentID: uuid.New(), OwnerID: "alice"}
	var v model.ContentVersion
	assert.False(t, v.HasProvenance())

	p := model.ProvenanceOf(record)
	v.StampProvenance(p)
	assert.True(t, v.HasProvenance())
	assert.Equal(t, p, v.Provenance())

	// The stamp must not alias the caller's value.
	p.OwnerID = "bob"
	assert.Equal(t, "alice", v.Provenance().OwnerID)

	v.OriginalOwnerID = nil
	assert.False(t, v.HasProvenance())
}
