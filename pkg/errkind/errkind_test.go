package errkind_test

import (
	"errors"
	"testing"

	"github.com/okian/recon/pkg/errkind"
	. "github.com/smartystreets/goconvey/convey"
)

var errSentinel = errors.New("sentinel")

func TestErrKind(t *testing.T) {
	Convey("Given the errkind helpers", t, func() {
		cause := errors.New("connection refused")

		Convey("When wrapping with a kind", func() {
			err := errkind.WrapKind("store.get", errSentinel, cause)

			Convey("Then both kind and cause are reachable", func() {
				So(errors.Is(err, errSentinel), ShouldBeTrue)
				So(errors.Is(err, cause), ShouldBeTrue)
				So(errkind.KindOf(err, errSentinel), ShouldBeTrue)
				So(err.Error(), ShouldEqual, "store.get: sentinel: connection refused")
			})
		})

		Convey("When creating a bare kind error", func() {
			err := errkind.New("api.parse", errSentinel)

			Convey("Then the message has op and kind", func() {
				So(err.Error(), ShouldEqual, "api.parse: sentinel")
				So(errors.Is(err, errSentinel), ShouldBeTrue)
			})
		})

		Convey("When wrapping nil", func() {
			So(errkind.Wrap("noop", nil), ShouldBeNil)
			So(errkind.WrapKind("noop", errSentinel, nil), ShouldBeNil)
		})

		Convey("When wrapping without a kind", func() {
			err := errkind.Wrap("engine.analyze", cause)
			So(errors.Is(err, cause), ShouldBeTrue)
			So(errors.Is(err, errSentinel), ShouldBeFalse)
			So(err.Error(), ShouldEqual, "engine.analyze: connection refused")
		})
	})
}
