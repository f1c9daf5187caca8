package app_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/devscout/streamengine/internal/adapters/sink"
	"github.com/devscout/streamengine/internal/adapters/source"
	"github.com/devscout/streamengine/internal/app"
	"github.com/devscout/streamengine/internal/checkpoint"
	"github.com/devscout/streamengine/internal/domain/model"
	"github.com/devscout/streamengine/internal/domain/pipeline"
	"github.com/devscout/streamengine/pkg/logger"
)

func testResultPayload(id string, candidate int, challenge string, ts time.Time, passed, total int) []byte {
	return []byte(fmt.Sprintf(
		`{"event_id":%q,"event_type":"test_result","candidate_id":%d,"challenge_id":%q,"timestamp":%q,"tests_passed":%d,"tests_total":%d,"execution_time_ms":100}`,
		id, candidate, challenge, ts.Format(time.RFC3339Nano), passed, total,
	))
}

func completionPayload(id string, candidate int, ts time.Time) []byte {
	return []byte(fmt.Sprintf(
		`{"event_id":%q,"event_type":"challenge_completion","candidate_id":%d,"challenge_id":"challenge-001","timestamp":%q,"final_score":90.0,"time_taken_seconds":600,"attempts":1}`,
		id, candidate, ts.Format(time.RFC3339Nano),
	))
}

// fastEngine wires an engine over memory adapters with test-friendly
// intervals: 10-minute windows, zero lateness, fast ticks.
func fastEngine(src *source.MemorySource, snk *sink.MemorySink, dlq *sink.MemoryDeadLetter, dir string) *app.Engine {
	ckpt := checkpoint.NewManager(dir, checkpoint.WithInterval(time.Hour))
	return app.New(src, snk, dlq, ckpt,
		app.WithSchedulerTick(10*time.Millisecond),
		app.WithDrainTimeout(2*time.Second),
		app.WithTestResultOptions(
			pipeline.WithTestResultWindow(10*time.Minute),
			pipeline.WithTestResultLateness(0),
		),
		app.WithLiveMetricOptions(
			pipeline.WithLiveMetricWindow(5*time.Minute),
			pipeline.WithLiveMetricLateness(0),
		),
		app.WithWriterOptions(
			sink.WithBatchSize(1),
			sink.WithFlushInterval(10*time.Millisecond),
		),
	)
}

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestEngine(t *testing.T) {
	_ = logger.Init()

	Convey("Given a running streaming engine", t, func() {
		ctx := context.Background()
		base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

		Convey("When two test runs share a window and a later event matures it", func() {
			src := source.NewMemorySource(source.WithPartitions(0))
			snk := sink.NewMemorySink()
			dlq := sink.NewMemoryDeadLetter()
			eng := fastEngine(src, snk, dlq, t.TempDir())

			So(eng.Start(ctx), ShouldBeNil)

			src.Append(0, testResultPayload("e1", 1, "challenge-001", base, 8, 10))
			src.Append(0, testResultPayload("e2", 1, "challenge-001", base.Add(2*time.Minute), 6, 10))
			src.Append(0, testResultPayload("e3", 1, "challenge-001", base.Add(11*time.Minute), 10, 10))

			Convey("Then one aggregate row with both early events should reach the sink", func() {
				ok := waitFor(func() bool {
					for _, r := range snk.Rows() {
						if tr, is := r.(model.TestResultRow); is && tr.AttemptCount == 2 {
							return true
						}
					}
					return false
				})
				So(ok, ShouldBeTrue)

				var row model.TestResultRow
				for _, r := range snk.Rows() {
					if tr, is := r.(model.TestResultRow); is && tr.AttemptCount == 2 {
						row = tr
					}
				}
				So(row.AvgSuccessRate, ShouldEqual, 70.0)
				So(row.WindowStart.Equal(base), ShouldBeTrue)
				So(row.WindowEnd.Equal(base.Add(10*time.Minute)), ShouldBeTrue)
				So(row.Forced, ShouldBeFalse)

				eng.Stop(ctx)
			})
		})

		Convey("When a duplicated completion is replayed", func() {
			src := source.NewMemorySource(source.WithPartitions(0))
			snk := sink.NewMemorySink()
			dlq := sink.NewMemoryDeadLetter()
			eng := fastEngine(src, snk, dlq, t.TempDir())

			So(eng.Start(ctx), ShouldBeNil)

			src.Append(0, completionPayload("dup-1", 5, base))
			src.Append(0, completionPayload("dup-1", 5, base))

			Convey("Then the sink should hold exactly one row for the event", func() {
				So(waitFor(func() bool { return snk.Len() >= 1 }), ShouldBeTrue)
				time.Sleep(50 * time.Millisecond)

				So(snk.Len(), ShouldEqual, 1)
				_, exists := snk.Rows()["completion/dup-1"]
				So(exists, ShouldBeTrue)

				eng.Stop(ctx)
			})
		})

		Convey("When a malformed payload arrives", func() {
			src := source.NewMemorySource(source.WithPartitions(0))
			snk := sink.NewMemorySink()
			dlq := sink.NewMemoryDeadLetter()
			eng := fastEngine(src, snk, dlq, t.TempDir())

			So(eng.Start(ctx), ShouldBeNil)

			src.Append(0, []byte(`{"event_type":"test_result"`))
			src.Append(0, []byte(`{"event_id":"x","event_type":"profile_update","candidate_id":1,"timestamp":"2026-03-01T10:00:00Z"}`))

			Convey("Then both should be dead-lettered with their payloads", func() {
				So(waitFor(func() bool { return len(dlq.Entries()) >= 2 }), ShouldBeTrue)

				reasons := map[string]bool{}
				for _, e := range dlq.Entries() {
					reasons[e.Reason] = true
					So(e.Payload, ShouldNotBeEmpty)
				}
				So(reasons[sink.ReasonInvalid], ShouldBeTrue)
				So(reasons[sink.ReasonUnknownType], ShouldBeTrue)

				eng.Stop(ctx)
			})
		})

		Convey("When an event arrives behind the watermark", func() {
			src := source.NewMemorySource(source.WithPartitions(0))
			snk := sink.NewMemorySink()
			dlq := sink.NewMemoryDeadLetter()
			eng := fastEngine(src, snk, dlq, t.TempDir())

			So(eng.Start(ctx), ShouldBeNil)

			src.Append(0, testResultPayload("fresh", 1, "c", base.Add(time.Hour), 1, 1))
			So(waitFor(func() bool {
				st := eng.Stats(ctx)
				off, ok := st.Offsets[0]
				return ok && off >= 1
			}), ShouldBeTrue)

			src.Append(0, testResultPayload("stale", 1, "c", base, 1, 1))

			Convey("Then the stale event should be dropped to the dead letter", func() {
				So(waitFor(func() bool {
					for _, e := range dlq.Entries() {
						if e.Reason == sink.ReasonTooLate {
							return true
						}
					}
					return false
				}), ShouldBeTrue)

				eng.Stop(ctx)
			})
		})

		Convey("When the engine stops with windows still open", func() {
			src := source.NewMemorySource(source.WithPartitions(0))
			snk := sink.NewMemorySink()
			dlq := sink.NewMemoryDeadLetter()
			eng := fastEngine(src, snk, dlq, t.TempDir())

			So(eng.Start(ctx), ShouldBeNil)

			src.Append(0, testResultPayload("open", 7, "challenge-002", base, 3, 4))
			So(waitFor(func() bool {
				st := eng.Stats(ctx)
				off, ok := st.Offsets[0]
				return ok && off >= 1
			}), ShouldBeTrue)

			eng.Stop(ctx)

			Convey("Then the open window should be force-flushed with the marker set", func() {
				var forced *model.TestResultRow
				for _, r := range snk.Rows() {
					if tr, is := r.(model.TestResultRow); is {
						forced = &tr
					}
				}
				So(forced, ShouldNotBeNil)
				So(forced.Forced, ShouldBeTrue)
				So(forced.AttemptCount, ShouldEqual, 1)
				So(forced.AvgSuccessRate, ShouldEqual, 75.0)
			})
		})

		Convey("When the engine restarts from its checkpoint", func() {
			dir := t.TempDir()
			src := source.NewMemorySource(source.WithPartitions(0))
			snk := sink.NewMemorySink()
			eng := fastEngine(src, snk, sink.NewMemoryDeadLetter(), dir)

			So(eng.Start(ctx), ShouldBeNil)
			src.Append(0, completionPayload("cp-1", 1, base))
			src.Append(0, completionPayload("cp-2", 2, base))
			So(waitFor(func() bool {
				st := eng.Stats(ctx)
				off, ok := st.Offsets[0]
				return ok && off >= 2
			}), ShouldBeTrue)
			eng.Stop(ctx)

			Convey("Then a fresh engine should resume past consumed offsets", func() {
				snk2 := sink.NewMemorySink()
				eng2 := fastEngine(src, snk2, sink.NewMemoryDeadLetter(), dir)

				restartCtx := context.Background()
				So(eng2.Start(restartCtx), ShouldBeNil)

				st := eng2.Stats(restartCtx)
				So(st.Offsets[0], ShouldEqual, 2)

				Convey("And already-consumed events should not be reprocessed", func() {
					time.Sleep(50 * time.Millisecond)
					So(snk2.Len(), ShouldEqual, 0)
					eng2.Stop(restartCtx)
				})
			})
		})

		Convey("When the engine is halted", func() {
			src := source.NewMemorySource(source.WithPartitions(0))
			eng := fastEngine(src, sink.NewMemorySink(), sink.NewMemoryDeadLetter(), t.TempDir())

			So(eng.Start(ctx), ShouldBeNil)

			cause := errors.New("checkpoint storage gone")
			eng.Halt(cause)

			Convey("Then the halt should be observable", func() {
				So(eng.HaltErr(), ShouldEqual, cause)
				So(eng.Stats(ctx).Halted, ShouldBeTrue)

				eng.Stop(ctx)
			})
		})

		Convey("When stats are read from a started engine", func() {
			src := source.NewMemorySource(source.WithPartitions(0, 1, 2))
			eng := fastEngine(src, sink.NewMemorySink(), sink.NewMemoryDeadLetter(), t.TempDir())

			So(eng.Start(ctx), ShouldBeNil)

			st := eng.Stats(ctx)

			Convey("Then topology facts should be reported", func() {
				So(st.Started, ShouldBeTrue)
				So(st.Partitions, ShouldEqual, 3)
				So(st.Halted, ShouldBeFalse)
				So(st.State, ShouldEqual, "running")

				eng.Stop(ctx)
			})
		})
	})
}
