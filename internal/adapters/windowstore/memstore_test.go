package windowstore_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/devscout/streamengine/internal/adapters/windowstore"
	"github.com/devscout/streamengine/internal/domain/model"
	"github.com/devscout/streamengine/internal/domain/pipeline"
	"github.com/devscout/streamengine/pkg/metrics"
)

func windowKey(candidate int, challenge string, start time.Time, size time.Duration) model.WindowKey {
	s, e := model.TumblingWindow(start, size)
	return model.WindowKey{
		Pipeline:    pipeline.NameTestResult,
		GroupKey:    model.GroupKey{CandidateID: candidate, ChallengeID: challenge},
		WindowStart: s,
		WindowEnd:   e,
	}
}

func TestMemStore(t *testing.T) {
	Convey("Given an in-memory window store", t, func() {
		ctx := context.Background()
		base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
		size := 10 * time.Minute

		Convey("When accumulating into a fresh key", func() {
			s := windowstore.NewMemStore()
			key := windowKey(1, "c1", base, size)

			s.Accumulate(ctx, key, model.Delta{Count: 1, SuccessRateSum: 80})

			Convey("Then the store should hold one open window", func() {
				So(s.OpenCount(ctx), ShouldEqual, 1)
			})

			Convey("And further deltas should merge into the same cell", func() {
				s.Accumulate(ctx, key, model.Delta{Count: 1, SuccessRateSum: 60})
				So(s.OpenCount(ctx), ShouldEqual, 1)

				closed := s.CloseWindowsBelow(ctx, pipeline.NameTestResult, key.End())
				So(closed, ShouldHaveLength, 1)
				So(closed[0].Acc.Count, ShouldEqual, 2)
				So(closed[0].Acc.SuccessRateSum, ShouldEqual, 140.0)
			})
		})

		Convey("When deltas arrive in shuffled order", func() {
			deltas := []model.Delta{
				{Count: 1, SuccessRateSum: 10},
				{Count: 1, SuccessRateSum: 20, ErrorCount: 1},
				{Count: 1, SuccessRateSum: 30},
				{Count: 1, SuccessRateSum: 40},
			}
			orders := [][]int{{0, 1, 2, 3}, {3, 2, 1, 0}, {2, 0, 3, 1}}

			results := make([]model.Accumulator, 0, len(orders))
			for _, order := range orders {
				s := windowstore.NewMemStore()
				key := windowKey(1, "c1", base, size)
				for _, i := range order {
					s.Accumulate(ctx, key, deltas[i])
				}
				closed := s.CloseWindowsBelow(ctx, pipeline.NameTestResult, key.End())
				So(closed, ShouldHaveLength, 1)
				results = append(results, closed[0].Acc)
			}

			Convey("Then every order should produce the same accumulator", func() {
				So(results[1], ShouldResemble, results[0])
				So(results[2], ShouldResemble, results[0])
				So(results[0].Count, ShouldEqual, 4)
				So(results[0].SuccessRateSum, ShouldEqual, 100.0)
				So(results[0].ErrorCount, ShouldEqual, 1)
			})
		})

		Convey("When closing below a watermark", func() {
			s := windowstore.NewMemStore()
			old := windowKey(1, "c1", base, size)
			current := windowKey(1, "c1", base.Add(20*time.Minute), size)
			s.Accumulate(ctx, old, model.Delta{Count: 1})
			s.Accumulate(ctx, current, model.Delta{Count: 1})

			closed := s.CloseWindowsBelow(ctx, pipeline.NameTestResult, old.End())

			Convey("Then only windows ending at or below the watermark should close", func() {
				So(closed, ShouldHaveLength, 1)
				So(closed[0].Key, ShouldResemble, old)
				So(s.OpenCount(ctx), ShouldEqual, 1)
			})

			Convey("And closing is remove-and-return, so a second sweep finds nothing", func() {
				again := s.CloseWindowsBelow(ctx, pipeline.NameTestResult, old.End())
				So(again, ShouldBeEmpty)
			})

			Convey("And an event after the close reopens a fresh accumulator", func() {
				s.Accumulate(ctx, old, model.Delta{Count: 1, SuccessRateSum: 5})
				reopened := s.CloseWindowsBelow(ctx, pipeline.NameTestResult, old.End())
				So(reopened, ShouldHaveLength, 1)
				So(reopened[0].Acc.Count, ShouldEqual, 1)
				So(reopened[0].Acc.SuccessRateSum, ShouldEqual, 5.0)
			})
		})

		Convey("When pipelines share a store", func() {
			s := windowstore.NewMemStore()
			tr := windowKey(1, "c1", base, size)
			lm := model.WindowKey{
				Pipeline:    pipeline.NameLiveMetric,
				GroupKey:    model.GroupKey{CandidateID: 1, SessionID: "s1", MetricType: "idle_gap"},
				WindowStart: tr.WindowStart,
				WindowEnd:   tr.WindowEnd,
			}
			s.Accumulate(ctx, tr, model.Delta{Count: 1})
			s.Accumulate(ctx, lm, model.Delta{Count: 1})

			closed := s.CloseWindowsBelow(ctx, pipeline.NameLiveMetric, time.UnixMilli(tr.WindowEnd))

			Convey("Then closing one pipeline should not touch the other", func() {
				So(closed, ShouldHaveLength, 1)
				So(closed[0].Key.Pipeline, ShouldEqual, pipeline.NameLiveMetric)
				So(s.OpenCount(ctx), ShouldEqual, 1)
			})
		})

		Convey("When force-closing everything", func() {
			s := windowstore.NewMemStore(windowstore.WithInitialCapacity(4))
			s.Accumulate(ctx, windowKey(1, "c1", base, size), model.Delta{Count: 1})
			s.Accumulate(ctx, windowKey(2, "c2", base.Add(time.Hour), size), model.Delta{Count: 2})

			closed := s.ForceCloseAll(ctx)

			Convey("Then all accumulators should come out and the store drains", func() {
				So(closed, ShouldHaveLength, 2)
				So(s.OpenCount(ctx), ShouldEqual, 0)
			})
		})

		Convey("When snapshotting and restoring", func() {
			s := windowstore.NewMemStore()
			key := windowKey(1, "c1", base, size)
			s.Accumulate(ctx, key, model.Delta{Count: 3, SuccessRateSum: 210})

			blob, err := s.Snapshot(ctx)
			So(err, ShouldBeNil)

			fresh := windowstore.NewMemStore()
			So(fresh.Restore(ctx, blob), ShouldBeNil)

			Convey("Then the restored store should carry the same state", func() {
				So(fresh.OpenCount(ctx), ShouldEqual, 1)
				closed := fresh.CloseWindowsBelow(ctx, pipeline.NameTestResult, key.End())
				So(closed, ShouldHaveLength, 1)
				So(closed[0].Acc.Count, ShouldEqual, 3)
				So(closed[0].Acc.SuccessRateSum, ShouldEqual, 210.0)
			})

			Convey("And restoring garbage should fail without clobbering state", func() {
				So(fresh.Restore(ctx, []byte("not json")), ShouldNotBeNil)
			})
		})

		Convey("When stores for two partitions report open windows", func() {
			a := windowstore.NewMemStore(windowstore.WithPartition(7))
			b := windowstore.NewMemStore(windowstore.WithPartition(8))

			a.Accumulate(ctx, windowKey(1, "c1", base, size), model.Delta{Count: 1})
			a.Accumulate(ctx, windowKey(2, "c1", base, size), model.Delta{Count: 1})
			b.Accumulate(ctx, windowKey(3, "c1", base, size), model.Delta{Count: 1})

			rec := httptest.NewRecorder()
			promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}).
				ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

			Convey("Then each partition should keep its own gauge series", func() {
				body := rec.Body.String()
				So(body, ShouldContainSubstring, `devscout_streaming_open_windows{partition="7"} 2`)
				So(body, ShouldContainSubstring, `devscout_streaming_open_windows{partition="8"} 1`)
			})
		})
	})
}
