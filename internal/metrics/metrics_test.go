package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveAction(t *testing.T) {
	okBefore := testutil.ToFloat64(chatActionsTotal.WithLabelValues("send_text", "ok"))
	errBefore := testutil.ToFloat64(chatActionsTotal.WithLabelValues("send_text", "error"))

	ObserveAction("send_text", nil)
	ObserveAction("send_text", errors.New("boom"))
	ObserveAction("send_text", nil)

	assert.Equal(t, okBefore+2, testutil.ToFloat64(chatActionsTotal.WithLabelValues("send_text", "ok")))
	assert.Equal(t, errBefore+1, testutil.ToFloat64(chatActionsTotal.WithLabelValues("send_text", "error")))
}

func TestCounters(t *testing.T) {
	snapshots := testutil.ToFloat64(snapshotsTotal)
	failures := testutil.ToFloat64(markReadFailuresTotal)

	IncSnapshot()
	IncMarkReadFailure()
	ObserveUpload("image", 2048)

	assert.Equal(t, snapshots+1, testutil.ToFloat64(snapshotsTotal))
	assert.Equal(t, failures+1, testutil.ToFloat64(markReadFailuresTotal))
	assert.Equal(t, 1, testutil.CollectAndCount(uploadBytes))
}
