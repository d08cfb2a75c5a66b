package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/semmidev/restorepoint/internal/domain"
)

const namespace = "restorepoint"

// Metrics registers every collector on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	BackupsTotal        *prometheus.CounterVec
	BackupDuration      *prometheus.HistogramVec
	BackupInProgress    prometheus.Gauge
	LastBackupSizeBytes *prometheus.GaugeVec
	RestoresTotal       *prometheus.CounterVec
	CleanupDeletedTotal prometheus.Counter
	UploadFailuresTotal *prometheus.CounterVec
	Schedules           *prometheus.GaugeVec
	ScheduleRunsTotal   *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		BackupsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backups_total",
			Help:      "Backup attempts by type and final status.",
		}, []string{"type", "status"}),

		BackupDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backup_duration_seconds",
			Help:      "Time spent producing backup artifacts.",
			Buckets:   []float64{1, 5, 15, 60, 300, 900, 1800, 3600, 7200},
		}, []string{"type"}),

		BackupInProgress: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backup_in_progress",
			Help:      "1 while a full backup holds the single-flight guard.",
		}),

		LastBackupSizeBytes: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_backup_size_bytes",
			Help:      "Size of the most recent completed artifact per type.",
		}, []string{"type"}),

		RestoresTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "restores_total",
			Help:      "Restore and point-in-time recovery attempts by outcome.",
		}, []string{"status"}),

		CleanupDeletedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cleanup_deleted_total",
			Help:      "Backups removed by retention cleanup.",
		}),

		UploadFailuresTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_failures_total",
			Help:      "Failed replica uploads per target.",
		}, []string{"target"}),

		Schedules: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "schedules",
			Help:      "Schedules by status.",
		}, []string{"status"}),

		ScheduleRunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "schedule_runs_total",
			Help:      "Scheduled backup runs by schedule and outcome.",
		}, []string{"schedule", "status"}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveBackup records one finished attempt.
func (m *Metrics) ObserveBackup(backupType, status string, elapsed time.Duration, size int64) {
	m.BackupsTotal.WithLabelValues(backupType, status).Inc()
	m.BackupDuration.WithLabelValues(backupType).Observe(elapsed.Seconds())
	if status == "completed" {
		m.LastBackupSizeBytes.WithLabelValues(backupType).Set(float64(size))
	}
}

func (m *Metrics) SetBackupInProgress(running bool) {
	if running {
		m.BackupInProgress.Set(1)
		return
	}
	m.BackupInProgress.Set(0)
}

func (m *Metrics) ObserveRestore(status string) {
	m.RestoresTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveCleanup(deleted int) {
	m.CleanupDeletedTotal.Add(float64(deleted))
}

func (m *Metrics) ObserveUploadFailure(target string) {
	m.UploadFailuresTotal.WithLabelValues(target).Inc()
}

func (m *Metrics) ObserveScheduleRun(schedule, status string) {
	m.ScheduleRunsTotal.WithLabelValues(schedule, status).Inc()
}

// SetSchedules replaces the per-status schedule gauge. Statuses absent from
// byStatus are reset to zero.
func (m *Metrics) SetSchedules(byStatus map[domain.ScheduleStatus]int) {
	for _, status := range []domain.ScheduleStatus{
		domain.ScheduleStatusInactive,
		domain.ScheduleStatusActive,
		domain.ScheduleStatusRunning,
		domain.ScheduleStatusError,
	} {
		m.Schedules.WithLabelValues(string(status)).Set(float64(byStatus[status]))
	}
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
