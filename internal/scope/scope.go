// Package scope selects the legacy records eligible for conversion and hands
// them out in pages ordered by parent.
package scope

import (
	"context"
	"fmt"
	"strings"

	"github.com/chirino/content-migrator/internal/model"
	registrystore "github.com/chirino/content-migrator/internal/registry/store"
	"github.com/google/uuid"
)

// SelectionError reports a malformed scope. It is raised before any page runs.
type SelectionError struct {
	Value string
	Err   error
}

func (e *SelectionError) Error() string {
	return fmt.Sprintf("invalid scope %q: %v", e.Value, e.Err)
}

func (e *SelectionError) Unwrap() error { return e.Err }

// ParentFilter restricts the scope by parent identity. The zero value is
// unrestricted; a restricted filter with no ids selects nothing.
type ParentFilter struct {
	restricted bool
	ids        []uuid.UUID
}

// Unrestricted selects records under any parent.
func Unrestricted() ParentFilter { return ParentFilter{} }

// Restrict selects records under the given parents only.
func Restrict(ids ...uuid.UUID) ParentFilter {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return ParentFilter{restricted: true, ids: out}
}

// ParseParentFilter parses a comma separated list of parent ids. When set is
// false the flag was never given and the scope is unrestricted; when it was
// given but lists nothing, nothing is converted.
func ParseParentFilter(raw string, set bool) (ParentFilter, error) {
	if !set {
		return Unrestricted(), nil
	}
	var ids []uuid.UUID
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := uuid.Parse(part)
		if err != nil {
			return ParentFilter{}, &SelectionError{Value: part, Err: err}
		}
		ids = append(ids, id)
	}
	return Restrict(ids...), nil
}

func (f ParentFilter) Restricted() bool { return f.restricted }

// Empty reports whether the filter selects nothing.
func (f ParentFilter) Empty() bool { return f.restricted && len(f.ids) == 0 }

// IDs returns the restricting parent ids.
func (f ParentFilter) IDs() []uuid.UUID { return append([]uuid.UUID(nil), f.ids...) }

func (f ParentFilter) String() string {
	if !f.restricted {
		return "unrestricted"
	}
	parts := make([]string, len(f.ids))
	for i, id := range f.ids {
		parts[i] = id.String()
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// Selector opens page cursors over the record store.
type Selector struct {
	store registrystore.RecordStore
}

func NewSelector(store registrystore.RecordStore) *Selector {
	return &Selector{store: store}
}

// Open returns a cursor over kind records matching filter. Nothing is read
// until the first call to Next.
func (s *Selector) Open(kind model.SourceKind, filter ParentFilter, pageSize int) *Cursor {
	return &Cursor{store: s.store, kind: kind, filter: filter, pageSize: pageSize}
}

// Cursor hands out pages in (parent id, id) order. Positions are keyset based,
// so records removed after being handed out never shift later pages.
type Cursor struct {
	store    registrystore.RecordStore
	kind     model.SourceKind
	filter   ParentFilter
	pageSize int
	after    *string
	done     bool
}

// Next returns the next page, or an empty page once the scope is exhausted.
func (c *Cursor) Next(ctx context.Context) ([]model.SourceRecord, error) {
	if c.done {
		return nil, nil
	}
	if c.pageSize <= 0 {
		return nil, &SelectionError{Value: fmt.Sprint(c.pageSize), Err: fmt.Errorf("page size must be positive")}
	}
	if c.filter.Empty() {
		c.done = true
		return nil, nil
	}
	records, next, err := c.store.QueryScope(ctx, registrystore.ScopeQuery{
		Kind:        c.kind,
		ParentIDs:   c.filter.ids,
		Restricted:  c.filter.restricted,
		AfterCursor: c.after,
		Limit:       c.pageSize,
	})
	if err != nil {
		return nil, fmt.Errorf("query %s scope: %w", c.kind, err)
	}
	if next == nil {
		c.done = true
	}
	c.after = next

	page := records[:0]
	for _, r := range records {
		if !r.OwnerActive {
			continue
		}
		page = append(page, r)
	}
	return page, nil
}

// Done reports whether the scope is exhausted.
func (c *Cursor) Done() bool { return c.done }
