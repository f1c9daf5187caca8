package model_test

import (
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/devscout/streamengine/internal/domain/model"
)

func TestTumblingWindow(t *testing.T) {
	Convey("Given tumbling window assignment", t, func() {
		size := 10 * time.Minute

		Convey("When a timestamp falls mid-window", func() {
			ts := time.Date(2026, 3, 1, 10, 4, 30, 0, time.UTC)
			start, end := model.TumblingWindow(ts, size)

			Convey("Then bounds should snap to the containing window", func() {
				So(start, ShouldEqual, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC).UnixMilli())
				So(end, ShouldEqual, time.Date(2026, 3, 1, 10, 10, 0, 0, time.UTC).UnixMilli())
			})
		})

		Convey("When a timestamp sits exactly on a boundary", func() {
			ts := time.Date(2026, 3, 1, 10, 10, 0, 0, time.UTC)
			start, end := model.TumblingWindow(ts, size)

			Convey("Then it should open the next window, not close the previous", func() {
				So(start, ShouldEqual, ts.UnixMilli())
				So(end-start, ShouldEqual, size.Milliseconds())
			})
		})

		Convey("When two timestamps share a window", func() {
			a, _ := model.TumblingWindow(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), size)
			b, _ := model.TumblingWindow(time.Date(2026, 3, 1, 10, 9, 59, 999_000_000, time.UTC), size)

			Convey("Then they should bucket identically", func() {
				So(a, ShouldEqual, b)
			})
		})

		Convey("When the timestamp pre-dates the epoch", func() {
			ts := time.Date(1969, 12, 31, 23, 55, 1, 0, time.UTC)
			start, end := model.TumblingWindow(ts, size)

			Convey("Then the bucket should still contain it", func() {
				So(start, ShouldBeLessThanOrEqualTo, ts.UnixMilli())
				So(end, ShouldBeGreaterThan, ts.UnixMilli())
				So(end-start, ShouldEqual, size.Milliseconds())
			})
		})
	})
}

func TestAccumulator(t *testing.T) {
	Convey("Given accumulator merging", t, func() {
		Convey("When deltas arrive in different orders", func() {
			deltas := []model.Delta{
				{Count: 1, SuccessRateSum: 80, ExecTimeSum: 100, ErrorCount: 1},
				{Count: 1, SuccessRateSum: 60, ExecTimeSum: 50},
				{Count: 1, SuccessRateSum: 100, ExecTimeSum: 10},
			}

			var forward, backward model.Accumulator
			for _, d := range deltas {
				forward.Merge(d)
			}
			for i := len(deltas) - 1; i >= 0; i-- {
				backward.Merge(deltas[i])
			}

			Convey("Then the result should be order independent", func() {
				So(forward, ShouldResemble, backward)
				So(forward.Count, ShouldEqual, 3)
				So(forward.SuccessRateSum, ShouldEqual, 240.0)
				So(forward.ExecTimeSum, ShouldEqual, 160.0)
				So(forward.ErrorCount, ShouldEqual, 1)
			})
		})

		Convey("When partial accumulators merge", func() {
			var left, right, whole model.Accumulator
			left.Merge(model.Delta{Count: 2, MetricSum: 10})
			right.Merge(model.Delta{Count: 3, MetricSum: 20})
			whole.Merge(model.Delta{Count: 5, MetricSum: 30})

			left.Merge(right)

			Convey("Then merging partials should equal merging everything", func() {
				So(left, ShouldResemble, whole)
			})
		})
	})
}

func TestWindowKey(t *testing.T) {
	Convey("Given a window key", t, func() {
		start, end := model.TumblingWindow(time.Date(2026, 3, 1, 10, 4, 0, 0, time.UTC), 10*time.Minute)
		key := model.WindowKey{
			Pipeline:    "test_result",
			GroupKey:    model.GroupKey{CandidateID: 1, ChallengeID: "challenge-001"},
			WindowStart: start,
			WindowEnd:   end,
		}

		Convey("When used as a map key", func() {
			m := map[model.WindowKey]int{key: 1}
			same := model.WindowKey{
				Pipeline:    "test_result",
				GroupKey:    model.GroupKey{CandidateID: 1, ChallengeID: "challenge-001"},
				WindowStart: start,
				WindowEnd:   end,
			}

			Convey("Then equal keys should collide", func() {
				So(m[same], ShouldEqual, 1)
			})
		})

		Convey("When converting bounds back to times", func() {
			So(key.Start().Equal(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)), ShouldBeTrue)
			So(key.End().Equal(time.Date(2026, 3, 1, 10, 10, 0, 0, time.UTC)), ShouldBeTrue)
		})
	})
}

func TestRowUpsertKeys(t *testing.T) {
	Convey("Given finalized rows", t, func() {
		Convey("When the same aggregate is produced twice", func() {
			end := time.Date(2026, 3, 1, 10, 10, 0, 0, time.UTC)
			a := model.TestResultRow{CandidateID: 1, ChallengeID: "c", WindowEnd: end, AttemptCount: 2}
			b := model.TestResultRow{CandidateID: 1, ChallengeID: "c", WindowEnd: end, AttemptCount: 5}

			Convey("Then upsert keys should match so replays overwrite", func() {
				So(a.UpsertKey(), ShouldEqual, b.UpsertKey())
			})
		})

		Convey("When completion rows share an event id", func() {
			a := model.CompletionRow{EventID: "evt-9", CandidateID: 1}
			b := model.CompletionRow{EventID: "evt-9", CandidateID: 1}

			Convey("Then the key should be the event id", func() {
				So(a.UpsertKey(), ShouldEqual, b.UpsertKey())
				So(a.UpsertKey(), ShouldEqual, "completion/evt-9")
			})
		})

		Convey("When rows differ in grouping fields", func() {
			end := time.Date(2026, 3, 1, 10, 10, 0, 0, time.UTC)
			a := model.LiveMetricRow{CandidateID: 1, SessionID: "s1", MetricType: "keystroke_rate", WindowEnd: end}
			b := model.LiveMetricRow{CandidateID: 1, SessionID: "s1", MetricType: "idle_gap", WindowEnd: end}

			Convey("Then keys should differ", func() {
				So(a.UpsertKey(), ShouldNotEqual, b.UpsertKey())
			})
		})
	})
}
