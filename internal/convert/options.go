package convert

import (
	"fmt"

	"github.com/chirino/content-migrator/internal/model"
)

// Options is the per-invocation configuration of the engine. It is passed by
// value into every call so pages never share mutable settings.
type Options struct {
	DeleteUponConversion   bool
	SharePrivateWithParent bool
	// SkipConverted removes sources that already have a provenance-matching
	// version from the page before anything is created.
	SkipConverted   bool
	LinkAccessLevel model.AccessLevel
	LinkVisibility  model.Visibility
}

// DefaultOptions returns the conservative defaults: keep sources, keep private
// records unlinked, re-convert everything.
func DefaultOptions() Options {
	return Options{
		LinkAccessLevel: model.AccessLevelReader,
		LinkVisibility:  model.VisibilityAllUsers,
	}
}

func (o Options) Validate() error {
	if !o.LinkAccessLevel.Valid() {
		return fmt.Errorf("invalid link access level %q", o.LinkAccessLevel)
	}
	if o.LinkAccessLevel.IsAtLeast(model.AccessLevelOwner) {
		return fmt.Errorf("link access level cannot be %q", model.AccessLevelOwner)
	}
	if !o.LinkVisibility.Valid() {
		return fmt.Errorf("invalid link visibility %q", o.LinkVisibility)
	}
	return nil
}
