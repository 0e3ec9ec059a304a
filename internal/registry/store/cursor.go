package store

import (
	"strings"

	"github.com/google/uuid"
)

// EncodeCursor builds the keyset cursor for a (parent id, id) position.
func EncodeCursor(parentID, id uuid.UUID) string {
	return parentID.String() + "/" + id.String()
}

// DecodeCursor parses a cursor produced by EncodeCursor. Every backend
// decodes through here so a malformed cursor fails the same way everywhere.
func DecodeCursor(cursor string) (uuid.UUID, uuid.UUID, error) {
	parent, id, ok := strings.Cut(cursor, "/")
	if !ok {
		return uuid.Nil, uuid.Nil, &ValidationError{Field: "cursor", Message: "malformed cursor"}
	}
	parentID, err := uuid.Parse(parent)
	if err != nil {
		return uuid.Nil, uuid.Nil, &ValidationError{Field: "cursor", Message: "malformed parent id"}
	}
	recordID, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil, uuid.Nil, &ValidationError{Field: "cursor", Message: "malformed record id"}
	}
	return parentID, recordID, nil
}
