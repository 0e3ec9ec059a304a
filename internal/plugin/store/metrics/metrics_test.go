package metrics_test

import (
	"context"
	"testing"

	"github.com/chirino/content-migrator/internal/model"
	"github.com/chirino/content-migrator/internal/monitoring"
	"github.com/chirino/content-migrator/internal/plugin/store/metrics"
	registrystore "github.com/chirino/content-migrator/internal/registry/store"
	"github.com/chirino/content-migrator/internal/testutil/memstore"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapDelegatesAndObserves(t *testing.T) {
	monitoring.InitMetrics(nil)

	inner := memstore.New()
	inner.AddUser("alice", true)
	a := inner.AddAttachment(model.LegacyAttachment{ParentID: uuid.New(), OwnerID: "alice", Name: "a.txt"})
	store := metrics.Wrap(inner)

	records, next, err := store.QueryScope(context.Background(), registrystore.ScopeQuery{Kind: model.SourceKindFile, Limit: 10})
	require.NoError(t, err)
	assert.Nil(t, next)
	require.Len(t, records, 1)
	assert.Equal(t, a.ID, records[0].ID)

	results, err := store.DeleteSources(context.Background(), model.SourceKindFile, []uuid.UUID{a.ID})
	require.NoError(t, err)
	assert.True(t, results[0].OK())
	assert.False(t, inner.HasSource(a.ID))

	assert.Equal(t, 1, inner.CallCount(memstore.OpQueryScope))
	assert.GreaterOrEqual(t, testutil.CollectAndCount(monitoring.StoreLatency), 2)
	assert.NoError(t, store.Close())
}
