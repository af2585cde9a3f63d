package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveMerge(t *testing.T) {
	before := testutil.ToFloat64(mergesTotal.WithLabelValues("alternating", "success"))
	ObserveMerge("alternating", "success", 20*time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(mergesTotal.WithLabelValues("alternating", "success")))

	busy := testutil.ToFloat64(mergesTotal.WithLabelValues("sequential", "busy"))
	ObserveMerge("sequential", "busy", 0)
	assert.Equal(t, busy+1, testutil.ToFloat64(mergesTotal.WithLabelValues("sequential", "busy")))
}

func TestQueueGauges(t *testing.T) {
	SetQueue(3, 41)
	assert.Equal(t, 3.0, testutil.ToFloat64(queueFiles))
	assert.Equal(t, 41.0, testutil.ToFloat64(queuePages))
}

func TestRejected(t *testing.T) {
	before := testutil.ToFloat64(filesRejected.WithLabelValues("duplicate"))
	IncRejected("duplicate")
	assert.Equal(t, before+1, testutil.ToFloat64(filesRejected.WithLabelValues("duplicate")))
}
