package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMetricsManagerCreation(t *testing.T) {
	Convey("Given metrics manager creation", t, func() {
		Convey("When creating with default options on a fresh registry", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(WithPrometheusRegistry(registry))

			Convey("Then it uses the service namespace", func() {
				So(manager, ShouldNotBeNil)
				manager.recordsMarked.Inc()
				families, err := registry.Gather()
				So(err, ShouldBeNil)
				names := make([]string, 0, len(families))
				for _, f := range families {
					names = append(names, f.GetName())
				}
				So(names, ShouldContain, "recon_dedupe_records_marked_total")
			})
		})

		Convey("When creating with custom options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace("acme"),
				WithSubsystem("recon"),
				WithHistogramBuckets([]float64{0.1, 0.5, 1.0}),
				WithCustomLabels(map[string]string{"env": "test"}),
				WithPrometheusRegistry(registry),
			)
			manager.recordsMerged.Inc()

			Convey("Then the names and constant labels follow", func() {
				expected := `
# HELP acme_recon_records_merged_total Duplicates whose fields were merged into their canonical
# TYPE acme_recon_records_merged_total counter
acme_recon_records_merged_total{env="test"} 1
`
				err := testutil.GatherAndCompare(registry, strings.NewReader(expected), "acme_recon_records_merged_total")
				So(err, ShouldBeNil)
			})
		})
	})
}

func TestMetricsRecording(t *testing.T) {
	Convey("Given the global manager", t, func() {
		Convey("When recording verdicts", func() {
			before := testutil.ToFloat64(globalManager.verdicts.WithLabelValues("EXACT_DUPLICATE", "mark"))
			RecordVerdict("EXACT_DUPLICATE", "mark")
			RecordVerdict("EXACT_DUPLICATE", "mark")

			Convey("Then the labelled counter grows", func() {
				after := testutil.ToFloat64(globalManager.verdicts.WithLabelValues("EXACT_DUPLICATE", "mark"))
				So(after-before, ShouldEqual, 2)
			})
		})

		Convey("When recording store activity", func() {
			UpdateStoreRecordsTotal("memory", 42)

			Convey("Then the gauge reflects the last value", func() {
				So(testutil.ToFloat64(globalManager.storeRecords.WithLabelValues("memory")), ShouldEqual, 42)
			})
		})

		Convey("When recording cache lookups", func() {
			hits := testutil.ToFloat64(globalManager.comparisonCache.WithLabelValues("hit"))
			RecordComparisonCache(true)
			RecordComparisonCache(false)

			Convey("Then hits and misses are split", func() {
				So(testutil.ToFloat64(globalManager.comparisonCache.WithLabelValues("hit"))-hits, ShouldEqual, 1)
			})
		})

		Convey("When recording everything else", func() {
			So(func() {
				RecordEvaluationLatency(1.5)
				RecordRecordInserted()
				RecordRecordMarked()
				RecordRecordMerged()
				RecordCleanupRun("dry_run")
				RecordCleanupDuration("apply", 12)
				RecordClustersAnalyzed(3)
				RecordCleanupError()
				RecordStoreOperation("postgres", "get", 0.4)
				RecordStoreError("sqlite", "sqlite.Insert")
				UpdateQueueSize(10)
				UpdateQueueCapacity(100)
				UpdateQueueUtilization(0.1)
				RecordQueueEnqueue()
				RecordQueueDequeue()
				RecordQueueEnqueueError()
				RecordQueueProcessingLatency(0.01)
				UpdateWorkerCount(1)
				RecordWorkerProcessingLatency(3)
				RecordWorkerError()
				RecordKafkaMessage("ingested")
				RecordHTTPRequest("/activities", "POST", "202")
				RecordHTTPRequestDuration("/activities", "POST", "202", 4)
				RecordErrorByComponent("queue", "full")
				UpdateSystemMemoryUsage(1 << 20)
				UpdateSystemGoroutineCount(12)
				RecordSystemGCPauseTime(0.2)
			}, ShouldNotPanic)
		})

		Convey("The registry is exposed", func() {
			So(GetRegistry(), ShouldNotBeNil)
		})
	})
}
