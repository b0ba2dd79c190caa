package service_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/okian/greenpoints/internal/adapters/catalog"
	"github.com/okian/greenpoints/internal/adapters/wallet"
	service "github.com/okian/greenpoints/internal/app"
	"github.com/okian/greenpoints/internal/config"
	"github.com/okian/greenpoints/internal/domain/model"
	"github.com/okian/greenpoints/internal/domain/submission"
	"github.com/okian/greenpoints/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

func testConfig(t *testing.T) *config.Config {
	cfg := config.New()
	cfg.WalletPath = filepath.Join(t.TempDir(), "wallets.db")
	cfg.LedgerPath = filepath.Join(t.TempDir(), "ledger.db")
	cfg.PayoutWorkers = 2
	cfg.PayoutQueueSize = 64
	cfg.PoolSize = 100
	cfg.JWTSecret = "test-secret"
	return cfg
}

func testCatalog() *catalog.Static {
	return catalog.NewStatic(
		catalog.Item{Reference: "111", Name: "glass jar", Score: 45},
		catalog.Item{Reference: "222", Name: "can", Score: 99},
		catalog.Item{Reference: "333", Name: "film", Score: -30},
	)
}

func newService(t *testing.T, cfg *config.Config) *service.Service {
	return service.New(
		service.WithConfig(cfg),
		service.WithCatalog(testCatalog()),
		service.WithWalletOptions(wallet.WithBcryptCost(bcrypt.MinCost)),
	)
}

func TestService_Lifecycle(t *testing.T) {
	Convey("Given a new service", t, func() {
		svc := newService(t, testConfig(t))
		ctx := context.Background()

		Convey("When it has not been started", func() {
			_, err := svc.Signup(ctx)
			So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
			So(svc.GetStats()["started"], ShouldEqual, false)
			So(svc.Supply(), ShouldEqual, 0)
		})

		Convey("When starting and stopping", func() {
			So(svc.Start(ctx), ShouldBeNil)
			So(svc.Start(ctx), ShouldBeNil)
			So(svc.GetStats()["started"], ShouldEqual, true)
			svc.Stop()
			svc.Stop()
			So(svc.GetStats()["started"], ShouldEqual, false)
		})

		Convey("When the configuration is invalid", func() {
			cfg := testConfig(t)
			cfg.PoolSize = 0
			bad := newService(t, cfg)
			So(bad.Start(ctx), ShouldNotBeNil)
		})
	})
}

func TestService_AccrueAndDistribute(t *testing.T) {
	for _, backend := range []string{config.LedgerMemory, config.LedgerSQLite} {
		Convey("Given a started service on the "+backend+" ledger", t, func() {
			cfg := testConfig(t)
			cfg.LedgerBackend = backend
			svc := newService(t, cfg)
			ctx := context.Background()
			So(svc.Start(ctx), ShouldBeNil)
			Reset(svc.Stop)

			alice, err := svc.Signup(ctx)
			So(err, ShouldBeNil)
			bob, err := svc.Signup(ctx)
			So(err, ShouldBeNil)

			submit := func(who string, cred, item, proof string) (model.Submission, error) {
				return svc.Submit(ctx, submission.Request{
					AccountID: who, Credential: cred, ItemReference: item, Proof: []byte(proof),
				})
			}

			Convey("When accruing points", func() {
				s1, err := submit(alice.PublicKey, alice.Password, "111", "photo-1")
				So(err, ShouldBeNil)
				So(s1.AwardedUnits, ShouldEqual, 3)
				s2, err := submit(alice.PublicKey, alice.Password, "222", "photo-2")
				So(err, ShouldBeNil)
				So(s2.AwardedUnits, ShouldEqual, 5)
				So(s2.Balance, ShouldEqual, 8)
				s3, err := submit(bob.PublicKey, bob.Password, "333", "photo-3")
				So(err, ShouldBeNil)
				So(s3.AwardedUnits, ShouldEqual, 1)

				Convey("Then rejected submissions leave balances untouched", func() {
					_, err := submit(alice.PublicKey, alice.Password, "111", "photo-1")
					So(errors.Is(err, model.ErrDuplicateSubmission), ShouldBeTrue)
					_, err = submit(alice.PublicKey, "wrong", "111", "photo-9")
					So(errors.Is(err, model.ErrAuthentication), ShouldBeTrue)
					_, err = submit(alice.PublicKey, alice.Password, "999", "photo-9")
					So(errors.Is(err, model.ErrInvalidItem), ShouldBeTrue)
					_, err = submit("unknown", "pw", "111", "photo-9")
					So(errors.Is(err, model.ErrAuthentication), ShouldBeTrue)

					acct, err := svc.Account(ctx, alice.PublicKey)
					So(err, ShouldBeNil)
					So(acct.Points, ShouldEqual, 8)
				})

				Convey("Then each accepted submission is on record", func() {
					_, _ = submit(alice.PublicKey, alice.Password, "111", "photo-1")

					subs, err := svc.Submissions(ctx, alice.PublicKey, 0)
					So(err, ShouldBeNil)
					So(len(subs), ShouldEqual, 2)
					ids := []string{subs[0].ID, subs[1].ID}
					So(ids, ShouldContain, s1.ID)
					So(ids, ShouldContain, s2.ID)

					one, err := svc.Submissions(ctx, bob.PublicKey, 1)
					So(err, ShouldBeNil)
					So(len(one), ShouldEqual, 1)
					So(one[0].ItemReference, ShouldEqual, "333")
					So(one[0].Balance, ShouldEqual, 1)

					_, err = svc.Submissions(ctx, "nobody", 0)
					So(errors.Is(err, wallet.ErrNotFound), ShouldBeTrue)
				})

				Convey("Then a session token authenticates submissions", func() {
					sess, err := svc.Signin(ctx, bob.PublicKey, bob.Password)
					So(err, ShouldBeNil)
					So(sess.Token, ShouldNotBeEmpty)
					So(sess.Points, ShouldEqual, 1)

					_, err = submit(bob.PublicKey, sess.Token, "111", "photo-4")
					So(err, ShouldBeNil)
					_, err = submit(alice.PublicKey, sess.Token, "111", "photo-5")
					So(errors.Is(err, model.ErrAuthentication), ShouldBeTrue)
				})

				Convey("Then a distribution pays out the whole pool and resets points", func() {
					evt, err := svc.Distribute(ctx, 90)
					So(err, ShouldBeNil)
					So(evt.Allocated(), ShouldEqual, 90)
					So(evt.Allocation[alice.PublicKey], ShouldEqual, 80)
					So(evt.Allocation[bob.PublicKey], ShouldEqual, 10)
					So(evt.Failures(), ShouldBeEmpty)
					So(svc.Supply(), ShouldEqual, 90)

					acct, err := svc.Account(ctx, alice.PublicKey)
					So(err, ShouldBeNil)
					So(acct.Points, ShouldEqual, 0)
					So(acct.RewardBalance, ShouldEqual, 80)

					got, err := svc.Distribution(evt.ID)
					So(err, ShouldBeNil)
					So(got.ID, ShouldEqual, evt.ID)
					So(len(svc.Distributions(0)), ShouldEqual, 1)

					Convey("And the next round has nothing to pay", func() {
						_, err := svc.Distribute(ctx, 0)
						So(errors.Is(err, model.ErrNoEligibleAccounts), ShouldBeTrue)
						So(svc.Supply(), ShouldEqual, 90)
					})
				})

				Convey("Then the default pool is used when none is given", func() {
					evt, err := svc.Distribute(ctx, 0)
					So(err, ShouldBeNil)
					So(evt.PoolSize, ShouldEqual, 100)
					So(evt.Allocated(), ShouldEqual, 100)
				})
			})

			Convey("When signing in with a bad password", func() {
				_, err := svc.Signin(ctx, alice.PublicKey, "nope")
				So(errors.Is(err, wallet.ErrInvalidPassword), ShouldBeTrue)
			})

			Convey("When reading an unknown wallet", func() {
				_, err := svc.Account(ctx, "nobody")
				So(errors.Is(err, wallet.ErrNotFound), ShouldBeTrue)
			})

			Convey("When a request context is cancelled mid-distribution", func() {
				_, err := submit(alice.PublicKey, alice.Password, "111", "photo-1")
				So(err, ShouldBeNil)
				cctx, cancel := context.WithCancel(ctx)
				cancel()
				evt, err := svc.Distribute(cctx, 10)

				Convey("Then the round still completes", func() {
					So(err, ShouldBeNil)
					So(evt.Failures(), ShouldBeEmpty)
					So(svc.Supply(), ShouldEqual, 10)
				})
			})
		})
	}
}

func TestService_Scheduler(t *testing.T) {
	Convey("Given a service with a one second distribution interval", t, func() {
		cfg := testConfig(t)
		cfg.DistributionIntervalS = 1
		cfg.PoolSize = 50
		svc := newService(t, cfg)
		ctx := context.Background()
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		creds, err := svc.Signup(ctx)
		So(err, ShouldBeNil)
		_, err = svc.Submit(ctx, submission.Request{
			AccountID: creds.PublicKey, Credential: creds.Password, ItemReference: "111", Proof: []byte("p"),
		})
		So(err, ShouldBeNil)

		Convey("Then a round runs on its own", func() {
			deadline := time.Now().Add(5 * time.Second)
			for svc.Supply() == 0 && time.Now().Before(deadline) {
				time.Sleep(50 * time.Millisecond)
			}
			So(svc.Supply(), ShouldEqual, 50)
			So(len(svc.Distributions(0)), ShouldEqual, 1)
		})
	})
}

func TestService_HTTP(t *testing.T) {
	Convey("Given the service behind an HTTP server", t, func() {
		svc := newService(t, testConfig(t))
		ctx := context.Background()
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		srv := httptest.NewServer(svc.Handler())
		defer srv.Close()

		Convey("When a client signs up, submits and distributes", func() {
			resp, err := http.Post(srv.URL+"/signup", "application/json", nil)
			So(err, ShouldBeNil)
			var creds struct {
				PublicKey string `json:"pubkey"`
				Password  string `json:"password"`
			}
			So(json.NewDecoder(resp.Body).Decode(&creds), ShouldBeNil)
			_ = resp.Body.Close()
			So(resp.StatusCode, ShouldEqual, http.StatusCreated)

			body := &bytes.Buffer{}
			mw := multipart.NewWriter(body)
			_ = mw.WriteField("barcode_id", "222")
			_ = mw.WriteField("pubkey", creds.PublicKey)
			_ = mw.WriteField("password", creds.Password)
			fw, _ := mw.CreateFormFile("image", "proof.jpg")
			_, _ = fw.Write([]byte("jpeg bytes"))
			_ = mw.Close()
			resp, err = http.Post(srv.URL+"/api/validate", mw.FormDataContentType(), body)
			So(err, ShouldBeNil)
			_ = resp.Body.Close()
			So(resp.StatusCode, ShouldEqual, http.StatusOK)

			resp, err = http.Post(srv.URL+"/distribute?pool=7", "", nil)
			So(err, ShouldBeNil)
			var evt model.DistributionEvent
			So(json.NewDecoder(resp.Body).Decode(&evt), ShouldBeNil)
			_ = resp.Body.Close()

			Convey("Then the single account receives the whole pool", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusOK)
				So(evt.Allocation, ShouldResemble, map[string]int64{creds.PublicKey: 7})

				resp, err := http.Get(srv.URL + "/openapi.yaml")
				So(err, ShouldBeNil)
				_ = resp.Body.Close()
				So(resp.StatusCode, ShouldEqual, http.StatusOK)
			})
		})
	})
}

func TestService_RoundLargerThanPayoutQueue(t *testing.T) {
	Convey("Given a payout queue smaller than the number of accounts", t, func() {
		cfg := testConfig(t)
		cfg.PayoutQueueSize = 1
		cfg.PayoutWorkers = 1
		svc := newService(t, cfg)
		ctx := context.Background()
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		for i := 0; i < 6; i++ {
			creds, err := svc.Signup(ctx)
			So(err, ShouldBeNil)
			_, err = svc.Submit(ctx, submission.Request{
				AccountID: creds.PublicKey, Credential: creds.Password, ItemReference: "222", Proof: []byte{byte(i)},
			})
			So(err, ShouldBeNil)
		}

		Convey("Then every account is still paid", func() {
			evt, err := svc.Distribute(ctx, 600)
			So(err, ShouldBeNil)
			So(len(evt.Disbursements), ShouldEqual, 6)
			So(evt.Failures(), ShouldBeEmpty)
			So(svc.Supply(), ShouldEqual, 600)
		})
	})
}
