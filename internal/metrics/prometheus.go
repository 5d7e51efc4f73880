package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tis24dev/backupguard/internal/logging"
	"github.com/tis24dev/backupguard/internal/types"
)

const (
	namespace    = "backupguard"
	textfileName = "backupguard.prom"
)

// RunMetrics summarises one CLI invocation for the run-level gauges.
type RunMetrics struct {
	Command      string
	StartTime    time.Time
	EndTime      time.Time
	ExitCode     int
	ErrorCount   int
	WarningCount int
}

// PrometheusExporter collects operation metrics in a private registry and
// writes them in Prometheus textfile format for node_exporter.
type PrometheusExporter struct {
	textfileDir string
	logger      *logging.Logger
	registry    *prometheus.Registry

	operations *prometheus.CounterVec
	durations  *prometheus.HistogramVec
	files      *prometheus.CounterVec
	bytes      *prometheus.CounterVec

	startTime *prometheus.GaugeVec
	endTime   *prometheus.GaugeVec
	exitCode  *prometheus.GaugeVec
	status    *prometheus.GaugeVec
	issues    *prometheus.GaugeVec
}

// NewPrometheusExporter creates a new PrometheusExporter using the provided directory.
func NewPrometheusExporter(textfileDir string, logger *logging.Logger) *PrometheusExporter {
	pe := &PrometheusExporter{
		textfileDir: strings.TrimRight(textfileDir, "/"),
		logger:      logger,
		registry:    prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Backup operations per environment and outcome",
		}, []string{"operation", "environment", "outcome"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Wall time of cross-environment operations",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		}, []string{"operation"}),
		files: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_total",
			Help:      "Files backed up or restored",
		}, []string{"operation", "environment"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_total",
			Help:      "Bytes recorded in backup manifests",
		}, []string{"environment"}),
		startTime: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_start_time_seconds",
			Help:      "Unix timestamp of the last run start",
		}, []string{"command"}),
		endTime: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_end_time_seconds",
			Help:      "Unix timestamp of the last run end",
		}, []string{"command"}),
		exitCode: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_exit_code",
			Help:      "Exit code of the last run",
		}, []string{"command"}),
		status: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_status",
			Help:      "Status of the last run (0=success,1=warning,2=error)",
		}, []string{"command"}),
		issues: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_issues",
			Help:      "Errors and warnings logged during the last run",
		}, []string{"command", "severity"}),
	}
	pe.registry.MustRegister(
		pe.operations, pe.durations, pe.files, pe.bytes,
		pe.startTime, pe.endTime, pe.exitCode, pe.status, pe.issues,
	)
	return pe
}

// Registry exposes the underlying registry.
func (pe *PrometheusExporter) Registry() *prometheus.Registry { return pe.registry }

// RecordOperation counts one per-environment outcome. An empty environment
// is reported as "all".
func (pe *PrometheusExporter) RecordOperation(operation string, env types.Environment, outcome string) {
	pe.operations.WithLabelValues(operation, envLabel(env), outcome).Inc()
}

// ObserveDuration records the wall time of an operation.
func (pe *PrometheusExporter) ObserveDuration(operation string, d time.Duration) {
	pe.durations.WithLabelValues(operation).Observe(d.Seconds())
}

// RecordFiles adds file and byte counts for one environment.
func (pe *PrometheusExporter) RecordFiles(operation string, env types.Environment, files int, bytes int64) {
	if files > 0 {
		pe.files.WithLabelValues(operation, envLabel(env)).Add(float64(files))
	}
	if bytes > 0 {
		pe.bytes.WithLabelValues(envLabel(env)).Add(float64(bytes))
	}
}

// Export sets the run gauges from m and writes backupguard.prom in textfileDir.
func (pe *PrometheusExporter) Export(m *RunMetrics) error {
	if pe == nil || m == nil {
		return nil
	}

	if pe.textfileDir == "" {
		return fmt.Errorf("metrics textfile directory is empty")
	}

	if err := os.MkdirAll(pe.textfileDir, 0o755); err != nil {
		return fmt.Errorf("create metrics directory %s: %w", pe.textfileDir, err)
	}

	end := m.EndTime
	if end.IsZero() {
		end = time.Now()
	}

	// Status gauge: 0=success, 1=warning, 2=error
	status := 0
	if m.ExitCode != 0 {
		status = 2
	} else if m.WarningCount > 0 {
		status = 1
	}

	pe.startTime.WithLabelValues(m.Command).Set(float64(m.StartTime.Unix()))
	pe.endTime.WithLabelValues(m.Command).Set(float64(end.Unix()))
	pe.exitCode.WithLabelValues(m.Command).Set(float64(m.ExitCode))
	pe.status.WithLabelValues(m.Command).Set(float64(status))
	pe.issues.WithLabelValues(m.Command, "error").Set(float64(m.ErrorCount))
	pe.issues.WithLabelValues(m.Command, "warning").Set(float64(m.WarningCount))

	finalPath := filepath.Join(pe.textfileDir, textfileName)
	if err := prometheus.WriteToTextfile(finalPath, pe.registry); err != nil {
		return fmt.Errorf("write metrics file %s: %w", finalPath, err)
	}

	if pe.logger != nil {
		pe.logger.Debug("Prometheus metrics exported to %s", finalPath)
	}

	return nil
}

func envLabel(env types.Environment) string {
	if env == "" {
		return "all"
	}
	return env.String()
}
