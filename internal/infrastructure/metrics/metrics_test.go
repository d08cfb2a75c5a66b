package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/semmidev/restorepoint/internal/domain"
)

func TestMetrics(t *testing.T) {
	Convey("Given a Metrics instance", t, func() {
		m := New()

		Convey("ObserveBackup should count attempts and remember the last size", func() {
			m.ObserveBackup("full", "completed", 3*time.Second, 2048)
			m.ObserveBackup("full", "failed", time.Second, 0)

			So(testutil.ToFloat64(m.BackupsTotal.WithLabelValues("full", "completed")), ShouldEqual, 1.0)
			So(testutil.ToFloat64(m.BackupsTotal.WithLabelValues("full", "failed")), ShouldEqual, 1.0)
			So(testutil.ToFloat64(m.LastBackupSizeBytes.WithLabelValues("full")), ShouldEqual, 2048.0)
			So(testutil.CollectAndCount(m.BackupDuration), ShouldEqual, 1)
		})

		Convey("Two instances should not share state", func() {
			other := New()
			m.CleanupDeletedTotal.Add(3)

			So(testutil.ToFloat64(m.CleanupDeletedTotal), ShouldEqual, 3.0)
			So(testutil.ToFloat64(other.CleanupDeletedTotal), ShouldEqual, 0.0)
		})

		Convey("SetSchedules should reset statuses that disappeared", func() {
			m.SetSchedules(map[domain.ScheduleStatus]int{domain.ScheduleStatusActive: 2, domain.ScheduleStatusError: 1})
			m.SetSchedules(map[domain.ScheduleStatus]int{domain.ScheduleStatusActive: 3})

			So(testutil.ToFloat64(m.Schedules.WithLabelValues("active")), ShouldEqual, 3.0)
			So(testutil.ToFloat64(m.Schedules.WithLabelValues("error")), ShouldEqual, 0.0)
		})

		Convey("The in-progress gauge should follow the guard", func() {
			m.SetBackupInProgress(true)
			So(testutil.ToFloat64(m.BackupInProgress), ShouldEqual, 1.0)
			m.SetBackupInProgress(false)
			So(testutil.ToFloat64(m.BackupInProgress), ShouldEqual, 0.0)
		})

		Convey("The handler should expose the namespaced series", func() {
			m.RestoresTotal.WithLabelValues("completed").Inc()

			rec := httptest.NewRecorder()
			m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
			body, err := io.ReadAll(rec.Body)
			So(err, ShouldBeNil)
			So(rec.Code, ShouldEqual, 200)
			So(strings.Contains(string(body), `restorepoint_restores_total{status="completed"} 1`), ShouldBeTrue)
		})
	})
}
