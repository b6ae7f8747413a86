package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordRequestIncrementsCounters(t *testing.T) {
	before := testutil.ToFloat64(requestsTotal.WithLabelValues("GET", "ok"))
	RecordRequest("GET", "ok", 0.002)
	after := testutil.ToFloat64(requestsTotal.WithLabelValues("GET", "ok"))
	assert.Equal(t, before+1, after)
}

func TestRecordPublishIncrementsPerKey(t *testing.T) {
	before := testutil.ToFloat64(publishesTotal.WithLabelValues("dcs.ra"))
	RecordPublish("dcs.ra")
	after := testutil.ToFloat64(publishesTotal.WithLabelValues("dcs.ra"))
	assert.Equal(t, before+1, after)
}

func TestSetSubscriberCount(t *testing.T) {
	SetSubscriberCount("dcs", 3)
	assert.Equal(t, float64(3), testutil.ToFloat64(subscriberGauge.WithLabelValues("dcs")))
}

func TestRecordPersistenceFlush(t *testing.T) {
	before := testutil.ToFloat64(persistenceFlushesTotal.WithLabelValues("ok"))
	RecordPersistenceFlush("ok", 5)
	after := testutil.ToFloat64(persistenceFlushesTotal.WithLabelValues("ok"))
	assert.Equal(t, before+1, after)
}
