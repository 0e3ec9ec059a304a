package convert

import (
	"fmt"

	"github.com/chirino/content-migrator/internal/model"
	registrystore "github.com/chirino/content-migrator/internal/registry/store"
	"github.com/google/uuid"
)

// CorrelationMap maps generated entity ids back to the source record they were
// created from. It is page-scoped and is only ever built from a create
// response, the one place where results line up with the request by index.
type CorrelationMap struct {
	sources map[uuid.UUID]model.SourceRecord
	order   []uuid.UUID
}

// Correlate pairs sources[i] with results[i]. Failed results are left out of
// the map; the caller reports them. A length mismatch or a repeated id means
// the store broke the alignment contract and nothing can be trusted.
func Correlate(step Step, sources []model.SourceRecord, results []registrystore.SaveResult) (*CorrelationMap, error) {
	if len(results) != len(sources) {
		return nil, &CorrelationError{Step: step, Expected: len(sources), Actual: len(results)}
	}
	m := &CorrelationMap{
		sources: make(map[uuid.UUID]model.SourceRecord, len(sources)),
		order:   make([]uuid.UUID, 0, len(sources)),
	}
	for i, res := range results {
		if !res.OK() {
			continue
		}
		if res.ID == uuid.Nil {
			return nil, fmt.Errorf("correlation failed at %s: store returned no id for record %s", step, sources[i].ID)
		}
		if _, dup := m.sources[res.ID]; dup {
			id := res.ID
			return nil, &CorrelationError{Step: step, Expected: len(sources), Actual: len(m.order), Unknown: &id}
		}
		m.sources[res.ID] = sources[i]
		m.order = append(m.order, res.ID)
	}
	return m, nil
}

// Len returns the number of correlated entities.
func (m *CorrelationMap) Len() int {
	if m == nil {
		return 0
	}
	return len(m.order)
}

// IDs returns the generated ids in creation order.
func (m *CorrelationMap) IDs() []uuid.UUID {
	if m == nil {
		return nil
	}
	out := make([]uuid.UUID, len(m.order))
	copy(out, m.order)
	return out
}

// Lookup returns the source record an entity was generated from.
func (m *CorrelationMap) Lookup(id uuid.UUID) (model.SourceRecord, bool) {
	if m == nil {
		return model.SourceRecord{}, false
	}
	src, ok := m.sources[id]
	return src, ok
}

// Compose chains first (intermediate id to source) with next (intermediate id
// to generated version id) into a map keyed by version id. Every entity of
// first must appear in next exactly once and nothing else may.
func Compose(step Step, first *CorrelationMap, next map[uuid.UUID]uuid.UUID) (*CorrelationMap, error) {
	if len(next) != first.Len() {
		return nil, &CorrelationError{Step: step, Expected: first.Len(), Actual: len(next)}
	}
	if first == nil {
		return &CorrelationMap{sources: map[uuid.UUID]model.SourceRecord{}}, nil
	}
	composed := &CorrelationMap{
		sources: make(map[uuid.UUID]model.SourceRecord, len(next)),
		order:   make([]uuid.UUID, 0, len(next)),
	}
	for intermediateID := range next {
		if _, ok := first.Lookup(intermediateID); !ok {
			id := intermediateID
			return nil, &CorrelationError{Step: step, Expected: first.Len(), Actual: len(next), Unknown: &id}
		}
	}
	for _, intermediateID := range first.order {
		versionID := next[intermediateID]
		if versionID == uuid.Nil {
			return nil, fmt.Errorf("correlation failed at %s: intermediate %s has no version", step, intermediateID)
		}
		if _, dup := composed.sources[versionID]; dup {
			id := versionID
			return nil, &CorrelationError{Step: step, Expected: first.Len(), Actual: len(composed.order), Unknown: &id}
		}
		composed.sources[versionID] = first.sources[intermediateID]
		composed.order = append(composed.order, versionID)
	}
	return composed, nil
}

// Resolve matches ids returned by an unordered re-query against m. It fails
// when the store returns an id m does not know, repeats one, or omits one.
func (m *CorrelationMap) Resolve(step Step, ids []uuid.UUID) error {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := m.Lookup(id); !ok {
			unknown := id
			return &CorrelationError{Step: step, Expected: m.Len(), Actual: len(ids), Unknown: &unknown}
		}
		if _, dup := seen[id]; dup {
			return &CorrelationError{Step: step, Expected: m.Len(), Actual: len(ids)}
		}
		seen[id] = struct{}{}
	}
	if len(seen) != m.Len() {
		return &CorrelationError{Step: step, Expected: m.Len(), Actual: len(seen)}
	}
	return nil
}
