package repository

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/okian/greenpoints/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

type ledgerFactory func(t *testing.T) Ledger

func backends() map[string]ledgerFactory {
	return map[string]ledgerFactory{
		"memory": func(t *testing.T) Ledger {
			return NewMemoryLedger(context.Background(), WithShardCount(4))
		},
		"sqlite": func(t *testing.T) Ledger {
			l, err := NewSQLiteLedger(context.Background(), filepath.Join(t.TempDir(), "ledger.db"))
			if err != nil {
				t.Fatalf("open sqlite ledger: %v", err)
			}
			return l
		},
	}
}

func TestLedgerContract(t *testing.T) {
	for name, factory := range backends() {
		Convey("Given a "+name+" ledger", t, func() {
			ctx := context.Background()
			l := factory(t)
			Reset(func() { _ = l.Close() })

			Convey("When crediting a new account", func() {
				bal, err := l.Credit(ctx, "alice", 3)

				Convey("Then the account is created with the credited balance", func() {
					So(err, ShouldBeNil)
					So(bal, ShouldEqual, 3)
					got, err := l.Balance(ctx, "alice")
					So(err, ShouldBeNil)
					So(got, ShouldEqual, 3)
					So(l.Count(ctx), ShouldEqual, 1)
				})
			})

			Convey("When crediting the same account repeatedly", func() {
				_, _ = l.Credit(ctx, "alice", 3)
				bal, err := l.Credit(ctx, "alice", 5)

				Convey("Then the balance accumulates", func() {
					So(err, ShouldBeNil)
					So(bal, ShouldEqual, 8)
				})
			})

			Convey("When crediting zero or negative units", func() {
				_, _ = l.Credit(ctx, "alice", 2)
				_, errZero := l.Credit(ctx, "alice", 0)
				_, errNeg := l.Credit(ctx, "alice", -4)

				Convey("Then it fails and leaves the balance unchanged", func() {
					So(errors.Is(errZero, model.ErrInvalidArgument), ShouldBeTrue)
					So(errors.Is(errNeg, model.ErrInvalidArgument), ShouldBeTrue)
					bal, _ := l.Balance(ctx, "alice")
					So(bal, ShouldEqual, 2)
				})
			})

			Convey("When reading an unknown account", func() {
				_, err := l.Balance(ctx, "ghost")

				Convey("Then it reports not found", func() {
					So(errors.Is(err, model.ErrNotFound), ShouldBeTrue)
				})
			})

			Convey("When registering accounts", func() {
				So(l.Register(ctx, "bob"), ShouldBeNil)
				_, _ = l.Credit(ctx, "bob", 4)
				So(l.Register(ctx, "bob"), ShouldBeNil)

				Convey("Then registration starts at zero and never resets", func() {
					bal, err := l.Balance(ctx, "bob")
					So(err, ShouldBeNil)
					So(bal, ShouldEqual, 4)
					So(errors.Is(l.Register(ctx, ""), model.ErrInvalidArgument), ShouldBeTrue)
				})
			})

			Convey("When taking a snapshot", func() {
				_ = l.Register(ctx, "zero")
				_, _ = l.Credit(ctx, "alice", 1)
				_, _ = l.Credit(ctx, "bob", 3)
				snap, err := l.SnapshotAll(ctx)

				Convey("Then it includes zero balances and leaves the ledger intact", func() {
					So(err, ShouldBeNil)
					So(snap, ShouldResemble, map[string]int64{"zero": 0, "alice": 1, "bob": 3})
					bal, _ := l.Balance(ctx, "bob")
					So(bal, ShouldEqual, 3)
				})
			})

			Convey("When resetting a subset of accounts", func() {
				_, _ = l.Credit(ctx, "alice", 1)
				_, _ = l.Credit(ctx, "bob", 3)
				err := l.ResetAll(ctx, []string{"alice", "unknown"})

				Convey("Then only the listed known accounts are zeroed", func() {
					So(err, ShouldBeNil)
					a, _ := l.Balance(ctx, "alice")
					b, _ := l.Balance(ctx, "bob")
					So(a, ShouldEqual, 0)
					So(b, ShouldEqual, 3)
					So(l.Count(ctx), ShouldEqual, 2)
				})
			})

			Convey("When draining", func() {
				_, _ = l.Credit(ctx, "alice", 1)
				_, _ = l.Credit(ctx, "bob", 3)
				snap, err := l.Drain(ctx)

				Convey("Then the snapshot is returned and every balance is zero", func() {
					So(err, ShouldBeNil)
					So(snap, ShouldResemble, map[string]int64{"alice": 1, "bob": 3})
					after, _ := l.SnapshotAll(ctx)
					So(after, ShouldResemble, map[string]int64{"alice": 0, "bob": 0})
				})

				Convey("And credits after the drain land in the next round", func() {
					_, _ = l.Credit(ctx, "bob", 2)
					next, err := l.Drain(ctx)
					So(err, ShouldBeNil)
					So(next["bob"], ShouldEqual, 2)
					So(next["alice"], ShouldEqual, 0)
				})
			})
		})
	}
}

func submissionAt(id, account string, units int64, at time.Time) model.Submission {
	return model.Submission{
		ID:            id,
		AccountID:     account,
		ItemReference: "3017620422003",
		ItemName:      "Spread",
		ProofDigest:   "digest-" + id,
		ExternalScore: 45,
		AwardedUnits:  units,
		CreatedAt:     at,
	}
}

func TestLedgerSubmissions(t *testing.T) {
	for name, factory := range backends() {
		Convey("Given a "+name+" ledger", t, func() {
			ctx := context.Background()
			l := factory(t)
			Reset(func() { _ = l.Close() })
			base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

			Convey("When crediting submissions", func() {
				first, err := l.CreditSubmission(ctx, submissionAt("s1", "alice", 3, base))
				So(err, ShouldBeNil)
				second, err := l.CreditSubmission(ctx, submissionAt("s2", "alice", 5, base.Add(time.Second)))
				So(err, ShouldBeNil)
				_, err = l.CreditSubmission(ctx, submissionAt("s3", "bob", 1, base))
				So(err, ShouldBeNil)

				Convey("Then each record carries the balance after its credit", func() {
					So(first.Balance, ShouldEqual, 3)
					So(second.Balance, ShouldEqual, 8)
					bal, _ := l.Balance(ctx, "alice")
					So(bal, ShouldEqual, 8)
				})

				Convey("Then they are listed per account, newest first", func() {
					subs, err := l.Submissions(ctx, "alice", 0)
					So(err, ShouldBeNil)
					So(len(subs), ShouldEqual, 2)
					So(subs[0].ID, ShouldEqual, "s2")
					So(subs[1].ID, ShouldEqual, "s1")
					So(subs[1].ItemName, ShouldEqual, "Spread")
					So(subs[1].ProofDigest, ShouldEqual, "digest-s1")
					So(subs[1].ExternalScore, ShouldEqual, 45)
					So(subs[1].AwardedUnits, ShouldEqual, 3)
					So(subs[1].CreatedAt.Equal(base), ShouldBeTrue)

					limited, err := l.Submissions(ctx, "alice", 1)
					So(err, ShouldBeNil)
					So(len(limited), ShouldEqual, 1)
					So(limited[0].ID, ShouldEqual, "s2")
				})

				Convey("Then an unknown account has none", func() {
					subs, err := l.Submissions(ctx, "ghost", 0)
					So(err, ShouldBeNil)
					So(subs, ShouldBeEmpty)
				})
			})

			Convey("When the same submission id is credited twice", func() {
				_, err := l.CreditSubmission(ctx, submissionAt("s1", "alice", 3, base))
				So(err, ShouldBeNil)
				_, err = l.CreditSubmission(ctx, submissionAt("s1", "alice", 3, base))

				Convey("Then the second is rejected and the balance is credited once", func() {
					So(errors.Is(err, model.ErrDuplicateSubmission), ShouldBeTrue)
					bal, _ := l.Balance(ctx, "alice")
					So(bal, ShouldEqual, 3)
					subs, _ := l.Submissions(ctx, "alice", 0)
					So(len(subs), ShouldEqual, 1)
				})
			})

			Convey("When the submission is invalid", func() {
				_, errUnits := l.CreditSubmission(ctx, submissionAt("s1", "alice", 0, base))
				_, errID := l.CreditSubmission(ctx, submissionAt("", "alice", 2, base))

				Convey("Then nothing is credited or recorded", func() {
					So(errors.Is(errUnits, model.ErrInvalidArgument), ShouldBeTrue)
					So(errors.Is(errID, model.ErrInvalidArgument), ShouldBeTrue)
					_, err := l.Balance(ctx, "alice")
					So(errors.Is(err, model.ErrNotFound), ShouldBeTrue)
				})
			})
		})
	}
}

func TestLedgerDistributions(t *testing.T) {
	for name, factory := range backends() {
		Convey("Given a "+name+" ledger", t, func() {
			ctx := context.Background()
			l := factory(t)
			Reset(func() { _ = l.Close() })
			base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

			older := model.DistributionEvent{
				ID:         "evt-1",
				PoolSize:   10,
				Snapshot:   map[string]int64{"a": 1},
				Allocation: map[string]int64{"a": 10},
				Disbursements: map[string]model.Disbursement{
					"a": {AccountID: "a", Units: 10, Err: "disbursement failed", Attempts: 3},
				},
				StartedAt: base,
			}
			newer := model.DistributionEvent{
				ID:            "evt-2",
				PoolSize:      5,
				Snapshot:      map[string]int64{"b": 2},
				Allocation:    map[string]int64{"b": 5},
				Disbursements: map[string]model.Disbursement{"b": {AccountID: "b", Units: 5, Pending: true}},
				StartedAt:     base.Add(time.Minute),
			}
			So(l.SaveDistribution(ctx, older), ShouldBeNil)
			So(l.SaveDistribution(ctx, newer), ShouldBeNil)

			Convey("When loading", func() {
				evts, err := l.LoadDistributions(ctx, 0)

				Convey("Then events come back newest first with their disbursements", func() {
					So(err, ShouldBeNil)
					So(len(evts), ShouldEqual, 2)
					So(evts[0].ID, ShouldEqual, "evt-2")
					So(evts[0].Disbursements["b"].Pending, ShouldBeTrue)
					So(evts[1].Allocation, ShouldResemble, map[string]int64{"a": 10})
					So(evts[1].Disbursements["a"].Failed(), ShouldBeTrue)
					So(evts[1].StartedAt.Equal(base), ShouldBeTrue)
				})
			})

			Convey("When an event is saved again", func() {
				older.Disbursements["a"] = model.Disbursement{AccountID: "a", Units: 10, TxRef: "sig", Attempts: 4}
				So(l.SaveDistribution(ctx, older), ShouldBeNil)
				evts, err := l.LoadDistributions(ctx, 0)

				Convey("Then it is replaced rather than duplicated", func() {
					So(err, ShouldBeNil)
					So(len(evts), ShouldEqual, 2)
					So(evts[1].Disbursements["a"].TxRef, ShouldEqual, "sig")
					So(evts[1].Disbursements["a"].Failed(), ShouldBeFalse)
				})
			})

			Convey("When loading with a limit", func() {
				evts, err := l.LoadDistributions(ctx, 1)

				Convey("Then only the newest is returned", func() {
					So(err, ShouldBeNil)
					So(len(evts), ShouldEqual, 1)
					So(evts[0].ID, ShouldEqual, "evt-2")
				})
			})
		})
	}
}

func TestSQLiteLedgerReopen(t *testing.T) {
	Convey("Given a sqlite ledger that is closed and reopened", t, func() {
		ctx := context.Background()
		path := filepath.Join(t.TempDir(), "ledger.db")

		l, err := NewSQLiteLedger(ctx, path)
		So(err, ShouldBeNil)
		_, err = l.CreditSubmission(ctx, submissionAt("s1", "alice", 4, time.Now()))
		So(err, ShouldBeNil)
		So(l.SaveDistribution(ctx, model.DistributionEvent{ID: "evt", PoolSize: 1, StartedAt: time.Now()}), ShouldBeNil)
		So(l.Close(), ShouldBeNil)

		reopened, err := NewSQLiteLedger(ctx, path)
		So(err, ShouldBeNil)
		Reset(func() { _ = reopened.Close() })

		Convey("Then balances, submissions and distributions survive", func() {
			bal, err := reopened.Balance(ctx, "alice")
			So(err, ShouldBeNil)
			So(bal, ShouldEqual, 4)
			subs, err := reopened.Submissions(ctx, "alice", 0)
			So(err, ShouldBeNil)
			So(len(subs), ShouldEqual, 1)
			evts, err := reopened.LoadDistributions(ctx, 0)
			So(err, ShouldBeNil)
			So(len(evts), ShouldEqual, 1)
			So(evts[0].ID, ShouldEqual, "evt")
		})
	})
}

func TestLedgerConcurrentCreditAndDrain(t *testing.T) {
	for name, factory := range backends() {
		Convey("Given a "+name+" ledger under concurrent credits and drains", t, func() {
			ctx := context.Background()
			l := factory(t)
			Reset(func() { _ = l.Close() })

			const (
				writers = 8
				credits = 50
			)

			var (
				wg      sync.WaitGroup
				mu      sync.Mutex
				drained int64
				stop    = make(chan struct{})
				done    = make(chan struct{})
			)

			go func() {
				defer close(done)
				for {
					select {
					case <-stop:
						return
					default:
					}
					snap, err := l.Drain(ctx)
					if err != nil {
						continue
					}
					mu.Lock()
					for _, v := range snap {
						drained += v
					}
					mu.Unlock()
				}
			}()

			for w := 0; w < writers; w++ {
				wg.Add(1)
				go func(w int) {
					defer wg.Done()
					for i := 0; i < credits; i++ {
						_, _ = l.Credit(ctx, fmt.Sprintf("acct-%d", i%5), 1)
					}
				}(w)
			}
			wg.Wait()
			close(stop)
			<-done

			rest, err := l.Drain(ctx)
			So(err, ShouldBeNil)
			for _, v := range rest {
				drained += v
			}

			Convey("Then no credit is lost or counted twice", func() {
				So(drained, ShouldEqual, int64(writers*credits))
				So(l.Count(ctx), ShouldEqual, 5)
			})
		})
	}
}

func TestNewLedger(t *testing.T) {
	Convey("Given the ledger factory", t, func() {
		ctx := context.Background()

		Convey("When asking for the memory backend", func() {
			l, err := New(ctx, BackendMemory, "")
			So(err, ShouldBeNil)
			_, ok := l.(*MemoryLedger)
			So(ok, ShouldBeTrue)
			So(l.Close(), ShouldBeNil)
		})

		Convey("When asking for the sqlite backend without a path", func() {
			_, err := New(ctx, BackendSQLite, "")
			So(errors.Is(err, model.ErrInvalidArgument), ShouldBeTrue)
		})

		Convey("When asking for an unknown backend", func() {
			_, err := New(ctx, "redis", "")
			So(errors.Is(err, ErrUnknownBackend), ShouldBeTrue)
		})
	})
}
