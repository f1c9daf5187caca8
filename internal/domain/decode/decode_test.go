package decode_test

import (
	"errors"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/devscout/streamengine/internal/domain/decode"
	"github.com/devscout/streamengine/internal/domain/model"
)

func TestDecode(t *testing.T) {
	Convey("Given the payload decoder", t, func() {
		Convey("When decoding a valid test result", func() {
			raw := []byte(`{
				"event_id": "evt-1",
				"event_type": "test_result",
				"candidate_id": 42,
				"challenge_id": "challenge-007",
				"timestamp": "2026-03-01T10:04:30Z",
				"tests_passed": 8,
				"tests_total": 10,
				"execution_time_ms": 1234.5,
				"has_errors": true
			}`)

			ev, err := decode.Decode(raw)

			Convey("Then it should yield a typed TestResult", func() {
				So(err, ShouldBeNil)
				tr, ok := ev.(model.TestResult)
				So(ok, ShouldBeTrue)
				So(tr.Kind(), ShouldEqual, model.KindTestResult)
				So(tr.Metadata().CandidateID, ShouldEqual, 42)
				So(tr.ChallengeID, ShouldEqual, "challenge-007")
				So(tr.TestsPassed, ShouldEqual, 8)
				So(tr.TestsTotal, ShouldEqual, 10)
				So(tr.ExecutionTimeMS, ShouldEqual, 1234.5)
				So(tr.HasErrors, ShouldBeTrue)
				So(tr.SuccessRate(), ShouldEqual, 80.0)
			})

			Convey("And the event time should be parsed as UTC", func() {
				So(err, ShouldBeNil)
				want := time.Date(2026, 3, 1, 10, 4, 30, 0, time.UTC)
				So(ev.Metadata().EventTime.Equal(want), ShouldBeTrue)
			})
		})

		Convey("When decoding a valid challenge completion", func() {
			raw := []byte(`{
				"event_id": "evt-2",
				"event_type": "challenge_completion",
				"candidate_id": 7,
				"challenge_id": "challenge-001",
				"timestamp": "2026-03-01 10:04:30",
				"final_score": 87.5,
				"time_taken_seconds": 900,
				"attempts": 3
			}`)

			ev, err := decode.Decode(raw)

			Convey("Then it should yield a typed ChallengeCompletion", func() {
				So(err, ShouldBeNil)
				cc, ok := ev.(model.ChallengeCompletion)
				So(ok, ShouldBeTrue)
				So(cc.FinalScore, ShouldEqual, 87.5)
				So(cc.TimeTakenSeconds, ShouldEqual, 900)
				So(cc.Attempts, ShouldEqual, 3)
			})
		})

		Convey("When decoding a valid live metric", func() {
			raw := []byte(`{
				"event_id": "evt-3",
				"event_type": "live_coding_metric",
				"candidate_id": 7,
				"session_id": "session-abc",
				"timestamp": "2026-03-01T10:04:30.250Z",
				"metric_type": "keystroke_rate",
				"metric_value": 55.2
			}`)

			ev, err := decode.Decode(raw)

			Convey("Then it should yield a typed LiveMetric", func() {
				So(err, ShouldBeNil)
				lm, ok := ev.(model.LiveMetric)
				So(ok, ShouldBeTrue)
				So(lm.SessionID, ShouldEqual, "session-abc")
				So(lm.MetricType, ShouldEqual, "keystroke_rate")
				So(lm.MetricValue, ShouldEqual, 55.2)
			})
		})

		Convey("When the event type is unknown", func() {
			raw := []byte(`{"event_id":"e","event_type":"profile_update","candidate_id":1,"timestamp":"2026-03-01T10:00:00Z"}`)

			_, err := decode.Decode(raw)

			Convey("Then it should report ErrUnknownType", func() {
				So(errors.Is(err, decode.ErrUnknownType), ShouldBeTrue)
			})
		})

		Convey("When the payload is not JSON", func() {
			_, err := decode.Decode([]byte("not json"))

			Convey("Then it should report ErrInvalid", func() {
				So(errors.Is(err, decode.ErrInvalid), ShouldBeTrue)
			})
		})

		Convey("When required fields are missing or out of range", func() {
			cases := map[string]string{
				"missing event_id":     `{"event_type":"test_result","candidate_id":1,"challenge_id":"c","timestamp":"2026-03-01T10:00:00Z","tests_passed":1,"tests_total":2}`,
				"missing candidate_id": `{"event_id":"e","event_type":"test_result","challenge_id":"c","timestamp":"2026-03-01T10:00:00Z","tests_passed":1,"tests_total":2}`,
				"missing timestamp":    `{"event_id":"e","event_type":"test_result","candidate_id":1,"challenge_id":"c","tests_passed":1,"tests_total":2}`,
				"bad timestamp":        `{"event_id":"e","event_type":"test_result","candidate_id":1,"challenge_id":"c","timestamp":"yesterday","tests_passed":1,"tests_total":2}`,
				"zero tests_total":     `{"event_id":"e","event_type":"test_result","candidate_id":1,"challenge_id":"c","timestamp":"2026-03-01T10:00:00Z","tests_passed":0,"tests_total":0}`,
				"passed above total":   `{"event_id":"e","event_type":"test_result","candidate_id":1,"challenge_id":"c","timestamp":"2026-03-01T10:00:00Z","tests_passed":5,"tests_total":3}`,
				"negative exec time":   `{"event_id":"e","event_type":"test_result","candidate_id":1,"challenge_id":"c","timestamp":"2026-03-01T10:00:00Z","tests_passed":1,"tests_total":2,"execution_time_ms":-1}`,
				"missing final_score":  `{"event_id":"e","event_type":"challenge_completion","candidate_id":1,"challenge_id":"c","timestamp":"2026-03-01T10:00:00Z"}`,
				"zero attempts":        `{"event_id":"e","event_type":"challenge_completion","candidate_id":1,"challenge_id":"c","timestamp":"2026-03-01T10:00:00Z","final_score":1,"attempts":0}`,
				"missing session_id":   `{"event_id":"e","event_type":"live_coding_metric","candidate_id":1,"timestamp":"2026-03-01T10:00:00Z","metric_type":"m","metric_value":1}`,
				"missing metric_value": `{"event_id":"e","event_type":"live_coding_metric","candidate_id":1,"session_id":"s","timestamp":"2026-03-01T10:00:00Z","metric_type":"m"}`,
			}

			for name, raw := range cases {
				Convey("Then "+name+" should report ErrInvalid", func() {
					_, err := decode.Decode([]byte(raw))
					So(errors.Is(err, decode.ErrInvalid), ShouldBeTrue)
				})
			}
		})

		Convey("When a completion omits optional fields", func() {
			raw := []byte(`{"event_id":"e","event_type":"challenge_completion","candidate_id":1,"challenge_id":"c","timestamp":"2026-03-01T10:00:00Z","final_score":50}`)

			ev, err := decode.Decode(raw)

			Convey("Then attempts should default to one", func() {
				So(err, ShouldBeNil)
				cc := ev.(model.ChallengeCompletion)
				So(cc.Attempts, ShouldEqual, 1)
				So(cc.TimeTakenSeconds, ShouldEqual, 0)
			})
		})

		Convey("When a producer precomputes success_rate", func() {
			raw := []byte(`{"event_id":"e","event_type":"test_result","candidate_id":1,"challenge_id":"c","timestamp":"2026-03-01T10:00:00Z","tests_passed":1,"tests_total":4,"success_rate":99.0}`)

			ev, err := decode.Decode(raw)

			Convey("Then the decoder should recompute it from counts", func() {
				So(err, ShouldBeNil)
				So(ev.(model.TestResult).SuccessRate(), ShouldEqual, 25.0)
			})
		})
	})
}
