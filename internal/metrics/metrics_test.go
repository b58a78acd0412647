package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetReturnsSingleton(t *testing.T) {
	a := Get()
	b := Get()
	require.NotNil(t, a)
	assert.Same(t, a, b)
}

func TestRecordOperation(t *testing.T) {
	m := Get()

	before := testutil.ToFloat64(m.operations.WithLabelValues("execute", "success"))
	m.RecordOperation("execute", "success")
	m.RecordOperation("execute", "success")

	assert.Equal(t, before+2, testutil.ToFloat64(m.operations.WithLabelValues("execute", "success")))
}

func TestRecordBlockedSanitizesReason(t *testing.T) {
	m := Get()

	m.RecordBlocked("workspace escape")

	assert.Equal(t, float64(1), testutil.ToFloat64(m.blocked.WithLabelValues("workspace_escape")))
}

func TestIndexGauge(t *testing.T) {
	m := Get()

	m.SetIndexEntries(42)
	assert.Equal(t, float64(42), testutil.ToFloat64(m.indexEntries))

	m.SetIndexEntries(7)
	assert.Equal(t, float64(7), testutil.ToFloat64(m.indexEntries))
}

func TestCounters(t *testing.T) {
	m := Get()

	before := testutil.ToFloat64(m.commandTimeouts)
	m.RecordCommandTimeout()
	assert.Equal(t, before+1, testutil.ToFloat64(m.commandTimeouts))

	before = testutil.ToFloat64(m.auditWriteFailures)
	m.RecordAuditWriteFailure()
	assert.Equal(t, before+1, testutil.ToFloat64(m.auditWriteFailures))
}

func TestHistogramsCollect(t *testing.T) {
	m := Get()

	m.ObserveApprovalWait(12.5)
	m.ObserveCommandDuration(0.25)

	assert.Equal(t, 1, testutil.CollectAndCount(m.approvalWait))
	assert.Equal(t, 1, testutil.CollectAndCount(m.commandDuration))
}

func TestSanitizeLabel(t *testing.T) {
	assert.Equal(t, "unknown", sanitizeLabel(""))
	assert.Equal(t, "two_words", sanitizeLabel("two words"))

	long := strings.Repeat("x", 100)
	assert.Len(t, sanitizeLabel(long), maxLabelLen)
}
