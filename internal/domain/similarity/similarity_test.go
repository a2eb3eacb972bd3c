package similarity_test

import (
	"math"
	"testing"
	"time"

	"github.com/okian/recon/internal/domain/model"
	"github.com/okian/recon/internal/domain/similarity"
	. "github.com/smartystreets/goconvey/convey"
)

func TestTemporal(t *testing.T) {
	Convey("Given a five minute window", t, func() {
		w := 5 * time.Minute

		So(similarity.Temporal(0, w), ShouldEqual, 1.0)
		So(similarity.Temporal(2*time.Minute, w), ShouldAlmostEqual, 0.6, 1e-9)
		So(similarity.Temporal(-2*time.Minute, w), ShouldAlmostEqual, 0.6, 1e-9)
		So(similarity.Temporal(5*time.Minute, w), ShouldEqual, 0.0)
		So(similarity.Temporal(20*time.Minute, w), ShouldEqual, 0.0)

		Convey("A zero window only accepts identical starts", func() {
			So(similarity.Temporal(0, 0), ShouldEqual, 1.0)
			So(similarity.Temporal(time.Second, 0), ShouldEqual, 0.0)
		})
	})
}

func TestText(t *testing.T) {
	Convey("Given descriptions", t, func() {
		Convey("Punctuation and case do not matter", func() {
			So(similarity.Text("Ticket #123 fix bug", "ticket 123 fix Bug"), ShouldEqual, 1.0)
		})

		Convey("Reordered words score high through token overlap", func() {
			So(similarity.Text("fix bug ticket 123", "ticket 123 fix bug"), ShouldEqual, 1.0)
		})

		Convey("A single typo scores close to one", func() {
			s := similarity.Text("printer maintenance", "printer maintenace")
			So(s, ShouldBeGreaterThan, 0.9)
			So(s, ShouldBeLessThan, 1.0)
		})

		Convey("Unrelated text scores low", func() {
			So(similarity.Text("quarterly tax filing", "replace brake pads"), ShouldBeLessThan, 0.5)
		})

		Convey("Empty descriptions", func() {
			So(similarity.Text("", "  "), ShouldEqual, 1.0)
			So(similarity.Text("", "something"), ShouldEqual, 0.0)
		})

		Convey("Scores are bounded", func() {
			for _, pair := range [][2]string{{"a", "b"}, {"abc", "abcdef"}, {"ü", "u"}} {
				s := similarity.Text(pair[0], pair[1])
				So(s, ShouldBeBetweenOrEqual, 0.0, 1.0)
			}
		})
	})
}

func TestDuration(t *testing.T) {
	Convey("Given durations", t, func() {
		s, ok := similarity.Duration(model.Hours(2), model.Hours(2))
		So(ok, ShouldBeTrue)
		So(s, ShouldEqual, 1.0)

		s, ok = similarity.Duration(model.Hours(2), model.Hours(1))
		So(ok, ShouldBeTrue)
		So(s, ShouldAlmostEqual, 0.5, 1e-9)

		s, ok = similarity.Duration(model.Hours(0), model.Hours(0))
		So(ok, ShouldBeTrue)
		So(s, ShouldEqual, 1.0)

		_, ok = similarity.Duration(nil, model.Hours(1))
		So(ok, ShouldBeFalse)
	})
}

func TestCombine(t *testing.T) {
	Convey("Given default weights", t, func() {
		w := similarity.DefaultWeights()
		So(w.Valid(), ShouldBeTrue)

		Convey("Two factors average when duration is absent", func() {
			c := w.Combine(similarity.Scores{Temporal: 0.6, Textual: 1})
			So(c, ShouldAlmostEqual, 0.8, 1e-9)
		})

		Convey("Duration folds in as a third factor", func() {
			c := w.Combine(similarity.Scores{Temporal: 0.6, Textual: 1, Duration: 1, HasDuration: true})
			So(c, ShouldAlmostEqual, 2.6/3, 1e-9)
		})

		Convey("Zero duration weight ignores the factor", func() {
			w.Duration = 0
			c := w.Combine(similarity.Scores{Temporal: 1, Textual: 1, Duration: 0, HasDuration: true})
			So(c, ShouldEqual, 1.0)
		})

		Convey("Invalid weights are detected", func() {
			So(similarity.Weights{Temporal: -1, Textual: 1}.Valid(), ShouldBeFalse)
			So(similarity.Weights{Duration: 1}.Valid(), ShouldBeFalse)
		})

		Convey("Clamp handles out-of-range values", func() {
			So(similarity.Clamp(math.NaN()), ShouldEqual, 0.0)
			So(similarity.Clamp(-0.1), ShouldEqual, 0.0)
			So(similarity.Clamp(1.1), ShouldEqual, 1.0)
		})
	})
}
