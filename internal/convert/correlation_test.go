package convert_test

import (
	"errors"
	"testing"

	"github.com/chirino/content-migrator/internal/convert"
	"github.com/chirino/content-migrator/internal/model"
	registrystore "github.com/chirino/content-migrator/internal/registry/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sources(n int) []model.SourceRecord {
	out := make([]model.SourceRecord, n)
	for i := range out {
		out[i] = model.SourceRecord{ID: uuid.New(), ParentID: uuid.New(), OwnerID: "owner"}
	}
	return out
}

func okResults(n int) []registrystore.SaveResult {
	out := make([]registrystore.SaveResult, n)
	for i := range out {
		out[i] = registrystore.SaveResult{ID: uuid.New()}
	}
	return out
}

func TestCorrelateIsPositional(t *testing.T) {
	src := sources(3)
	results := okResults(3)

	m, err := convert.Correlate(convert.StepCreate, src, results)
	require.NoError(t, err)
	assert.Equal(t, 3, m.Len())
	for i, res := range results {
		got, ok := m.Lookup(res.ID)
		require.True(t, ok)
		assert.Equal(t, src[i].ID, got.ID)
	}
	assert.Equal(t, []uuid.UUID{results[0].ID, results[1].ID, results[2].ID}, m.IDs())
}

func TestCorrelateSkipsFailedResults(t *testing.T) {
	src := sources(3)
	results := okResults(3)
	results[1] = registrystore.SaveResult{Err: errors.New("rejected")}

	m, err := convert.Correlate(convert.StepCreate, src, results)
	require.NoError(t, err)
	assert.Equal(t, 2, m.Len())
	got, ok := m.Lookup(results[2].ID)
	require.True(t, ok)
	assert.Equal(t, src[2].ID, got.ID, "a failure must not shift later records")
	assert.Equal(t, []uuid.UUID{results[0].ID, results[2].ID}, m.IDs())
}

func TestCorrelateLengthMismatch(t *testing.T) {
	_, err := convert.Correlate(convert.StepCreate, sources(3), okResults(2))
	var corr *convert.CorrelationError
	require.True(t, errors.As(err, &corr))
	assert.Equal(t, 3, corr.Expected)
	assert.Equal(t, 2, corr.Actual)
}

func TestCorrelateDuplicateID(t *testing.T) {
	results := okResults(2)
	results[1].ID = results[0].ID
	_, err := convert.Correlate(convert.StepCreate, sources(2), results)
	var corr *convert.CorrelationError
	require.True(t, errors.As(err, &corr))
}

func TestResolve(t *testing.T) {
	results := okResults(3)
	m, err := convert.Correlate(convert.StepCreate, sources(3), results)
	require.NoError(t, err)

	shuffled := []uuid.UUID{results[2].ID, results[0].ID, results[1].ID}
	require.NoError(t, m.Resolve(convert.StepQueryVersions, shuffled))

	var corr *convert.CorrelationError
	require.True(t, errors.As(m.Resolve(convert.StepQueryVersions, shuffled[:2]), &corr))
	assert.Nil(t, corr.Unknown)

	require.True(t, errors.As(m.Resolve(convert.StepQueryVersions, []uuid.UUID{results[0].ID, results[1].ID, uuid.New()}), &corr))
	assert.NotNil(t, corr.Unknown)

	require.True(t, errors.As(m.Resolve(convert.StepQueryVersions, []uuid.UUID{results[0].ID, results[0].ID, results[1].ID}), &corr))
}

func TestComposeTwoHops(t *testing.T) {
	src := sources(2)
	created := okResults(2)
	first, err := convert.Correlate(convert.StepCreate, src, created)
	require.NoError(t, err)

	v0, v1 := uuid.New(), uuid.New()
	composed, err := convert.Compose(convert.StepQueryNotes, first, map[uuid.UUID]uuid.UUID{
		created[1].ID: v1,
		created[0].ID: v0,
	})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{v0, v1}, composed.IDs())
	got, ok := composed.Lookup(v1)
	require.True(t, ok)
	assert.Equal(t, src[1].ID, got.ID)
	_, ok = composed.Lookup(created[0].ID)
	assert.False(t, ok, "composed map is keyed by version id only")
}

func TestComposeCountMismatch(t *testing.T) {
	created := okResults(2)
	first, err := convert.Correlate(convert.StepCreate, sources(2), created)
	require.NoError(t, err)

	_, err = convert.Compose(convert.StepQueryNotes, first, map[uuid.UUID]uuid.UUID{created[0].ID: uuid.New()})
	var corr *convert.CorrelationError
	require.True(t, errors.As(err, &corr))
	assert.Equal(t, 2, corr.Expected)
	assert.Equal(t, 1, corr.Actual)
}

func TestComposeUnknownIntermediate(t *testing.T) {
	created := okResults(2)
	first, err := convert.Correlate(convert.StepCreate, sources(2), created)
	require.NoError(t, err)

	_, err = convert.Compose(convert.StepQueryNotes, first, map[uuid.UUID]uuid.UUID{
		created[0].ID: uuid.New(),
		uuid.New():    uuid.New(),
	})
	var corr *convert.CorrelationError
	require.True(t, errors.As(err, &corr))
	require.NotNil(t, corr.Unknown)
}

func TestComposeSharedVersion(t *testing.T) {
	created := okResults(2)
	first, err := convert.Correlate(convert.StepCreate, sources(2), created)
	require.NoError(t, err)

	v := uuid.New()
	_, err = convert.Compose(convert.StepQueryNotes, first, map[uuid.UUID]uuid.UUID{
		created[0].ID: v,
		created[1].ID: v,
	})
	var corr *convert.CorrelationError
	require.True(t, errors.As(err, &corr))
}
