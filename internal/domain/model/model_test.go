package model_test

import (
	"testing"

	"github.com/okian/greenpoints/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func TestDistributionEvent(t *testing.T) {
	Convey("Given a distribution event", t, func() {
		e := model.DistributionEvent{
			ID:         "evt",
			PoolSize:   10,
			Snapshot:   map[string]int64{"a": 1, "b": 3},
			Allocation: map[string]int64{"a": 3, "b": 7},
			Disbursements: map[string]model.Disbursement{
				"a": {AccountID: "a", Units: 3, TxRef: "sig"},
				"b": {AccountID: "b", Units: 7, Err: "rpc down"},
			},
		}

		Convey("Then Allocated sums allocations", func() {
			So(e.Allocated(), ShouldEqual, 10)
		})

		Convey("Then Failures lists only failed disbursements", func() {
			f := e.Failures()
			So(len(f), ShouldEqual, 1)
			So(f[0].AccountID, ShouldEqual, "b")
			So(f[0].Failed(), ShouldBeTrue)
			So(e.Disbursements["a"].Failed(), ShouldBeFalse)
		})

		Convey("When a disbursement is still in flight", func() {
			e.Disbursements["c"] = model.Disbursement{AccountID: "c", Units: 1, Pending: true}

			Convey("Then it is unsettled but not failed", func() {
				So(e.Disbursements["c"].Failed(), ShouldBeFalse)
				So(len(e.Failures()), ShouldEqual, 1)
				u := e.Unsettled()
				So(len(u), ShouldEqual, 1)
				So(u[0].AccountID, ShouldEqual, "c")
			})
		})

		Convey("When cloned and the clone is mutated", func() {
			c := e.Clone()
			c.Allocation["a"] = 100
			c.Disbursements["b"] = model.Disbursement{AccountID: "b", TxRef: "x"}

			Convey("Then the original is unchanged", func() {
				So(e.Allocation["a"], ShouldEqual, 3)
				So(e.Disbursements["b"].Failed(), ShouldBeTrue)
			})
		})
	})
}

func TestPayoutJobAbandoned(t *testing.T) {
	Convey("Given payout jobs", t, func() {
		Convey("Then a job without an abandon channel is never abandoned", func() {
			So(model.PayoutJob{}.IsAbandoned(), ShouldBeFalse)
		})

		Convey("Then closing the channel abandons the job", func() {
			ch := make(chan struct{})
			job := model.PayoutJob{Abandoned: ch}
			So(job.IsAbandoned(), ShouldBeFalse)
			close(ch)
			So(job.IsAbandoned(), ShouldBeTrue)
		})
	})
}
