package store_test

import (
	"errors"
	"testing"

	registrystore "github.com/chirino/content-migrator/internal/registry/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorRoundTrip(t *testing.T) {
	parent, id := uuid.New(), uuid.New()
	gotParent, gotID, err := registrystore.DecodeCursor(registrystore.EncodeCursor(parent, id))
	require.NoError(t, err)
	assert.Equal(t, parent, gotParent)
	assert.Equal(t, id, gotID)
}

func TestDecodeCursorRejectsMalformed(t *testing.T) {
	cases := map[string]string{
		"no separator": uuid.NewString(),
		"bad parent":   "parent/" + uuid.NewString(),
		"bad record":   uuid.NewString() + "/record",
		"empty":        "",
	}
	for name, cursor := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := registrystore.DecodeCursor(cursor)
			var validation *registrystore.ValidationError
			require.True(t, errors.As(err, &validation))
			assert.Equal(t, "cursor", validation.Field)
		})
	}
}
