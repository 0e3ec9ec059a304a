package monitoring

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMetricsLabels(t *testing.T) {
	t.Setenv("POD_NAME", "migrator-0")

	labels, err := ParseMetricsLabels("service=content-migrator,pod=${POD_NAME}")
	require.NoError(t, err)
	assert.Equal(t, prometheus.Labels{"service": "content-migrator", "pod": "migrator-0"}, labels)

	labels, err = ParseMetricsLabels("")
	require.NoError(t, err)
	assert.Nil(t, labels)

	_, err = ParseMetricsLabels("novalue")
	assert.Error(t, err)
	_, err = ParseMetricsLabels("1bad=x")
	assert.Error(t, err)
}

func TestRecordersAreNoopsUntilInit(t *testing.T) {
	if pagesTotal != nil {
		t.Skip("metrics already initialized")
	}
	RecordPage("file", "ok", time.Second)
	RecordRecords("file", "linked", 3)
	ObserveStore("query_scope", time.Now())
}

func TestRecordPageAndRecords(t *testing.T) {
	InitMetrics(nil)
	InitMetrics(prometheus.Labels{"ignored": "second call"})

	before := testutil.ToFloat64(pagesTotal.WithLabelValues("note", "failed"))
	RecordPage("note", "failed", 20*time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(pagesTotal.WithLabelValues("note", "failed")))

	before = testutil.ToFloat64(recordsTotal.WithLabelValues("note", "deleted"))
	RecordRecords("note", "deleted", 4)
	RecordRecords("note", "deleted", 0)
	assert.Equal(t, before+4, testutil.ToFloat64(recordsTotal.WithLabelValues("note", "deleted")))

	ObserveStore("create_notes", time.Now())
	assert.Positive(t, testutil.CollectAndCount(StoreLatency))
}

func TestPushWithoutURL(t *testing.T) {
	assert.NoError(t, Push("", "content-migrator"))
}
