package convert_test

import (
	"testing"

	"github.com/chirino/content-migrator/internal/convert"
	"github.com/chirino/content-migrator/internal/model"
	"github.com/stretchr/testify/assert"
)

func TestOptionsValidateLinkAccessLevel(t *testing.T) {
	for _, level := range []model.AccessLevel{model.AccessLevelReader, model.AccessLevelWriter, model.AccessLevelManager} {
		opts := convert.DefaultOptions()
		opts.LinkAccessLevel = level
		assert.NoError(t, opts.Validate(), "level %q", level)
	}

	opts := convert.DefaultOptions()
	opts.LinkAccessLevel = model.AccessLevelOwner
	assert.EqualError(t, opts.Validate(), `link access level cannot be "owner"`)

	opts.LinkAccessLevel = model.AccessLevel("admin")
	assert.Error(t, opts.Validate())

	opts = convert.DefaultOptions()
	opts.LinkVisibility = model.Visibility("everyone")
	assert.Error(t, opts.Validate())
}
