package catalog

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestStatic(t *testing.T) {
	Convey("Given a static catalog", t, func() {
		ctx := context.Background()
		c := NewStatic(Item{Reference: "123", Name: "Water", Score: 40})

		Convey("When looking up a known item", func() {
			it, err := c.Lookup(ctx, " 123 ")
			So(err, ShouldBeNil)
			So(it.Name, ShouldEqual, "Water")
			So(it.Score, ShouldEqual, 40)
		})

		Convey("When looking up an unknown item", func() {
			_, err := c.Lookup(ctx, "999")
			So(errors.Is(err, ErrUnknownItem), ShouldBeTrue)
		})

		Convey("When an item is added", func() {
			c.Put(Item{Reference: "999", Name: "Soda"})
			it, err := c.Lookup(ctx, "999")
			So(err, ShouldBeNil)
			So(it.Score, ShouldEqual, 0)
		})
	})
}

func newProductServer(hits *atomic.Int32) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/v0/product/5449000000996.json":
			_, _ = w.Write([]byte(`{"status":1,"product":{"product_name":"Cola","ecoscore_data":{"adjustments":{"packaging":{"value":-9.6}}}}}`))
		case "/api/v0/product/3017620422003.json":
			_, _ = w.Write([]byte(`{"status":1,"product":{"product_name":"Spread"}}`))
		case "/api/v0/product/1111.json":
			_, _ = w.Write([]byte(`{"status":0,"status_verbose":"product not found"}`))
		case "/api/v0/product/2222.json":
			w.WriteHeader(http.StatusBadGateway)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func TestOpenFoodFacts(t *testing.T) {
	Convey("Given an Open Food Facts client", t, func() {
		ctx := context.Background()
		var hits atomic.Int32
		srv := newProductServer(&hits)
		Reset(srv.Close)
		c := NewOpenFoodFacts(srv.URL+"/", WithUserAgent("test/1.0"))

		Convey("When the product has a packaging score", func() {
			it, err := c.Lookup(ctx, "5449000000996")

			Convey("Then the rounded score and name are returned", func() {
				So(err, ShouldBeNil)
				So(it.Name, ShouldEqual, "Cola")
				So(it.Score, ShouldEqual, -10)
				So(it.Reference, ShouldEqual, "5449000000996")
			})

			Convey("Then a second lookup is served from cache", func() {
				_, err := c.Lookup(ctx, "5449000000996")
				So(err, ShouldBeNil)
				So(hits.Load(), ShouldEqual, 1)
			})
		})

		Convey("When the product has no packaging score", func() {
			it, err := c.Lookup(ctx, "3017620422003")
			So(err, ShouldBeNil)
			So(it.Score, ShouldEqual, 0)
		})

		Convey("When the catalog reports status 0 or 404", func() {
			_, err1 := c.Lookup(ctx, "1111")
			_, err2 := c.Lookup(ctx, "4444")
			So(errors.Is(err1, ErrUnknownItem), ShouldBeTrue)
			So(errors.Is(err2, ErrUnknownItem), ShouldBeTrue)
		})

		Convey("When the catalog fails", func() {
			_, err := c.Lookup(ctx, "2222")
			So(errors.Is(err, ErrUnavailable), ShouldBeTrue)
		})

		Convey("When the barcode is malformed", func() {
			_, err := c.Lookup(ctx, "../etc/passwd")
			So(errors.Is(err, ErrUnknownItem), ShouldBeTrue)
			So(hits.Load(), ShouldEqual, 0)
		})

		Convey("When caching is disabled and lookups run concurrently", func() {
			c := NewOpenFoodFacts(srv.URL, WithCacheSize(0))
			var wg sync.WaitGroup
			for i := 0; i < 16; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, _ = c.Lookup(ctx, "5449000000996")
				}()
			}
			wg.Wait()

			Convey("Then every lookup succeeded with at most one request each", func() {
				So(hits.Load(), ShouldBeBetweenOrEqual, 1, 16)
			})
		})
	})
}

func TestOpenFoodFactsSharedLookupCancel(t *testing.T) {
	Convey("Given a slow catalog and two callers for the same barcode", t, func() {
		var hits atomic.Int32
		entered := make(chan struct{}, 1)
		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			entered <- struct{}{}
			<-release
			_, _ = w.Write([]byte(`{"status":1,"product":{"product_name":"Cola"}}`))
		}))
		Reset(srv.Close)
		c := NewOpenFoodFacts(srv.URL, WithCacheSize(0), WithTimeout(2*time.Second))

		firstCtx, cancelFirst := context.WithCancel(context.Background())
		firstErr := make(chan error, 1)
		go func() {
			_, err := c.Lookup(firstCtx, "5449000000996")
			firstErr <- err
		}()
		<-entered

		type outcome struct {
			it  Item
			err error
		}
		second := make(chan outcome, 1)
		go func() {
			it, err := c.Lookup(context.Background(), "5449000000996")
			second <- outcome{it, err}
		}()
		time.Sleep(50 * time.Millisecond)

		Convey("When the first caller gives up before the response", func() {
			cancelFirst()
			err := <-firstErr
			close(release)
			got := <-second

			Convey("Then only the first caller sees the cancellation", func() {
				So(errors.Is(err, context.Canceled), ShouldBeTrue)
				So(errors.Is(err, ErrUnavailable), ShouldBeTrue)
				So(got.err, ShouldBeNil)
				So(got.it.Name, ShouldEqual, "Cola")
				So(hits.Load(), ShouldEqual, 1)
			})
		})
	})
}
