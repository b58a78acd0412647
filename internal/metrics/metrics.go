// Package metrics exposes Prometheus instrumentation for the gateway.
package metrics

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// maxLabelLen is the maximum length for a metric label value
const maxLabelLen = 64

// sanitizeLabel ensures a label value is safe for Prometheus:
// - Truncates to maxLabelLen
// - Replaces spaces with underscores
// - Returns "unknown" for empty values
func sanitizeLabel(s string) string {
	if s == "" {
		return "unknown"
	}
	s = strings.ReplaceAll(s, " ", "_")
	if len(s) > maxLabelLen {
		s = s[:maxLabelLen]
	}
	return s
}

// GatewayMetrics manages Prometheus instrumentation for gateway operations,
// the approval pipeline, command execution, and the tree index.
type GatewayMetrics struct {
	// Operation outcomes by kind and result
	operations *prometheus.CounterVec
	blocked    *prometheus.CounterVec

	// Approval pipeline
	approvalRequests  *prometheus.CounterVec
	approvalDecisions *prometheus.CounterVec
	approvalWait      prometheus.Histogram

	// Command execution
	commandDuration prometheus.Histogram
	commandTimeouts prometheus.Counter

	// Tree index
	indexEntries prometheus.Gauge
	indexRefresh prometheus.Counter

	// Audit trail health
	auditWriteFailures prometheus.Counter

	// Host utilisation sampled by the background collector
	hostCPUPercent       prometheus.Gauge
	hostMemoryPercent    prometheus.Gauge
	workspaceDiskPercent prometheus.Gauge
	workspaceDiskFree    prometheus.Gauge
}

var (
	gatewayInstance *GatewayMetrics
	gatewayOnce     sync.Once
)

// Get returns the singleton gateway metrics instance.
// Call this to record metrics from anywhere in the gateway.
func Get() *GatewayMetrics {
	gatewayOnce.Do(func() {
		gatewayInstance = newGatewayMetrics()
	})
	return gatewayInstance
}

func newGatewayMetrics() *GatewayMetrics {
	m := &GatewayMetrics{
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "warden",
				Subsystem: "gateway",
				Name:      "operations_total",
				Help:      "Total gateway operations by kind and result",
			},
			[]string{"operation", "result"},
		),
		blocked: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "warden",
				Subsystem: "gateway",
				Name:      "blocked_total",
				Help:      "Total operations refused before execution by reason",
			},
			[]string{"reason"},
		),
		approvalRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "warden",
				Subsystem: "approval",
				Name:      "requests_total",
				Help:      "Total approval requests queued by sensitivity",
			},
			[]string{"sensitivity"},
		),
		approvalDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "warden",
				Subsystem: "approval",
				Name:      "decisions_total",
				Help:      "Total approval outcomes by final status",
			},
			[]string{"status"},
		),
		approvalWait: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "warden",
				Subsystem: "approval",
				Name:      "wait_seconds",
				Help:      "Time spent waiting for a human decision",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300},
			},
		),
		commandDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "warden",
				Subsystem: "command",
				Name:      "duration_seconds",
				Help:      "Shell command wall-clock duration",
				Buckets:   []float64{0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
			},
		),
		commandTimeouts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "warden",
				Subsystem: "command",
				Name:      "timeouts_total",
				Help:      "Total shell commands killed on timeout",
			},
		),
		indexEntries: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "warden",
				Subsystem: "index",
				Name:      "entries",
				Help:      "Entries currently in the tree index",
			},
		),
		indexRefresh: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "warden",
				Subsystem: "index",
				Name:      "refresh_total",
				Help:      "Total full index rebuilds",
			},
		),
		auditWriteFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "warden",
				Subsystem: "audit",
				Name:      "write_failures_total",
				Help:      "Total audit entries that could not be written to the log file",
			},
		),
		hostCPUPercent: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "warden",
				Subsystem: "host",
				Name:      "cpu_percent",
				Help:      "Host CPU utilisation percentage",
			},
		),
		hostMemoryPercent: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "warden",
				Subsystem: "host",
				Name:      "memory_used_percent",
				Help:      "Host memory utilisation percentage",
			},
		),
		workspaceDiskPercent: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "warden",
				Subsystem: "workspace",
				Name:      "disk_used_percent",
				Help:      "Utilisation of the volume backing the workspace",
			},
		),
		workspaceDiskFree: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "warden",
				Subsystem: "workspace",
				Name:      "disk_free_bytes",
				Help:      "Free bytes on the volume backing the workspace",
			},
		),
	}

	// Register all metrics
	prometheus.MustRegister(
		m.operations,
		m.blocked,
		m.approvalRequests,
		m.approvalDecisions,
		m.approvalWait,
		m.commandDuration,
		m.commandTimeouts,
		m.indexEntries,
		m.indexRefresh,
		m.auditWriteFailures,
		m.hostCPUPercent,
		m.hostMemoryPercent,
		m.workspaceDiskPercent,
		m.workspaceDiskFree,
	)

	return m
}

// RecordOperation records a completed gateway operation and its result
// (success, failure, blocked, cancelled).
func (m *GatewayMetrics) RecordOperation(operation, result string) {
	m.operations.WithLabelValues(sanitizeLabel(operation), sanitizeLabel(result)).Inc()
}

// RecordBlocked records an operation refused before execution.
// Note: reason should be a small enum (blocked_pattern, workspace_escape), not user input
func (m *GatewayMetrics) RecordBlocked(reason string) {
	m.blocked.WithLabelValues(sanitizeLabel(reason)).Inc()
}

// RecordApprovalRequest records a new approval request entering the queue
func (m *GatewayMetrics) RecordApprovalRequest(sensitivity string) {
	m.approvalRequests.WithLabelValues(sanitizeLabel(sensitivity)).Inc()
}

// RecordApprovalDecision records the final status of an approval request
// (approved, rejected, expired)
func (m *GatewayMetrics) RecordApprovalDecision(status string) {
	m.approvalDecisions.WithLabelValues(sanitizeLabel(status)).Inc()
}

// ObserveApprovalWait records how long an operation waited for a decision
func (m *GatewayMetrics) ObserveApprovalWait(seconds float64) {
	m.approvalWait.Observe(seconds)
}

// ObserveCommandDuration records a shell command's wall-clock duration
func (m *GatewayMetrics) ObserveCommandDuration(seconds float64) {
	m.commandDuration.Observe(seconds)
}

// RecordCommandTimeout records a command killed on timeout
func (m *GatewayMetrics) RecordCommandTimeout() {
	m.commandTimeouts.Inc()
}

// SetIndexEntries records the current size of the tree index
func (m *GatewayMetrics) SetIndexEntries(n int) {
	m.indexEntries.Set(float64(n))
}

// RecordIndexRefresh records a full index rebuild
func (m *GatewayMetrics) RecordIndexRefresh() {
	m.indexRefresh.Inc()
}

// RecordAuditWriteFailure records an audit entry that could not be persisted
func (m *GatewayMetrics) RecordAuditWriteFailure() {
	m.auditWriteFailures.Inc()
}

// SetHostSnapshot publishes the latest host utilisation sample
func (m *GatewayMetrics) SetHostSnapshot(s HostSnapshot) {
	m.hostCPUPercent.Set(s.CPUUsagePercent)
	m.hostMemoryPercent.Set(s.MemoryUsedPercent)
	m.workspaceDiskPercent.Set(s.WorkspaceUsedPercent)
	m.workspaceDiskFree.Set(float64(s.WorkspaceFreeBytes))
}
