package scoring_test

import (
	"math"
	"testing"

	scoring "github.com/okian/greenpoints/internal/domain/scoring"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMap(t *testing.T) {
	Convey("Given the score mapper", t, func() {
		Convey("When mapping bucket boundaries", func() {
			cases := map[int]int64{
				0:   1,
				19:  1,
				20:  2,
				39:  2,
				40:  3,
				60:  4,
				79:  4,
				80:  5,
				100: 5,
			}

			Convey("Then each score lands in its bucket", func() {
				for score, want := range cases {
					So(scoring.Map(score), ShouldEqual, want)
				}
			})
		})

		Convey("When mapping out-of-range scores", func() {
			Convey("Then negatives earn the minimum and large scores the maximum", func() {
				So(scoring.Map(-1), ShouldEqual, scoring.MinUnits)
				So(scoring.Map(math.MinInt), ShouldEqual, scoring.MinUnits)
				So(scoring.Map(1000), ShouldEqual, scoring.MaxUnits)
				So(scoring.Map(math.MaxInt), ShouldEqual, scoring.MaxUnits)
			})
		})

		Convey("When mapping every score in a wide range", func() {
			Convey("Then the result is monotonic and at least one unit", func() {
				prev := scoring.Map(-500)
				for s := -500; s <= 500; s++ {
					u := scoring.Map(s)
					So(u, ShouldBeGreaterThanOrEqualTo, prev)
					So(u, ShouldBeBetweenOrEqual, scoring.MinUnits, scoring.MaxUnits)
					prev = u
				}
			})
		})

		Convey("When mapping the same score twice", func() {
			Convey("Then the result is identical", func() {
				So(scoring.Map(57), ShouldEqual, scoring.Map(57))
			})
		})
	})
}

func TestClamp(t *testing.T) {
	Convey("Given raw scores", t, func() {
		So(scoring.Clamp(-3), ShouldEqual, 0)
		So(scoring.Clamp(42), ShouldEqual, 42)
		So(scoring.Clamp(140), ShouldEqual, 100)
	})
}
