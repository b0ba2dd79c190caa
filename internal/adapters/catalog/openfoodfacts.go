package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/okian/greenpoints/pkg/metrics"
)

const (
	defaultUserAgent = "greenpoints/1.0"
	defaultCacheSize = 4096
	defaultTimeout   = 5 * time.Second
	maxBodyBytes     = 4 << 20
)

// OpenFoodFacts queries the Open Food Facts product API. Concurrent lookups
// of the same barcode share one request and hits are cached.
type OpenFoodFacts struct {
	baseURL   string
	client    *http.Client
	userAgent string
	cache     *lru.Cache[string, Item]
	group     singleflight.Group
}

// Option configures the OpenFoodFacts client.
type Option func(*OpenFoodFacts)

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(c *http.Client) Option {
	return func(o *OpenFoodFacts) {
		if c != nil {
			o.client = c
		}
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *OpenFoodFacts) {
		if d > 0 {
			o.client.Timeout = d
		}
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(o *OpenFoodFacts) {
		if ua != "" {
			o.userAgent = ua
		}
	}
}

// WithCacheSize sets how many products are cached. 0 disables the cache.
func WithCacheSize(n int) Option {
	return func(o *OpenFoodFacts) {
		if n <= 0 {
			o.cache = nil
			return
		}
		o.cache, _ = lru.New[string, Item](n)
	}
}

// NewOpenFoodFacts returns a client for the API rooted at baseURL.
func NewOpenFoodFacts(baseURL string, opts ...Option) *OpenFoodFacts {
	o := &OpenFoodFacts{
		baseURL:   strings.TrimRight(baseURL, "/"),
		client:    &http.Client{Timeout: defaultTimeout},
		userAgent: defaultUserAgent,
	}
	o.cache, _ = lru.New[string, Item](defaultCacheSize)
	for _, opt := range opts {
		opt(o)
	}
	return o
}

type productResponse struct {
	Status  int `json:"status"`
	Product struct {
		ProductName  string `json:"product_name"`
		EcoscoreData struct {
			Adjustments struct {
				Packaging struct {
					Value *float64 `json:"value"`
				} `json:"packaging"`
			} `json:"adjustments"`
		} `json:"ecoscore_data"`
	} `json:"product"`
}

// Lookup fetches the product for barcode. Unknown products and malformed
// barcodes return ErrUnknownItem; transport failures return ErrUnavailable.
func (o *OpenFoodFacts) Lookup(ctx context.Context, barcode string) (Item, error) {
	barcode = strings.TrimSpace(barcode)
	if !validBarcode(barcode) {
		return Item{}, fmt.Errorf("barcode %q: %w", barcode, ErrUnknownItem)
	}
	if o.cache != nil {
		if it, ok := o.cache.Get(barcode); ok {
			metrics.RecordCatalogLookup("cache_hit", 0)
			return it, nil
		}
	}

	// The shared fetch serves every waiter, so it must not end with the
	// first caller's context. The client timeout bounds it instead.
	ch := o.group.DoChan(barcode, func() (interface{}, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.fetchTimeout())
		defer cancel()
		start := time.Now()
		it, err := o.fetch(fctx, barcode)
		outcome := "hit"
		switch {
		case err == nil:
		case errors.Is(err, ErrUnknownItem):
			outcome = "miss"
		default:
			outcome = "error"
		}
		metrics.RecordCatalogLookup(outcome, float64(time.Since(start).Milliseconds()))
		return it, err
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return Item{}, fmt.Errorf("%w: %w", ErrUnavailable, ctx.Err())
	}
	if res.Err != nil {
		return Item{}, res.Err
	}
	it := res.Val.(Item)
	if o.cache != nil {
		o.cache.Add(barcode, it)
	}
	return it, nil
}

func (o *OpenFoodFacts) fetchTimeout() time.Duration {
	if o.client.Timeout > 0 {
		return o.client.Timeout
	}
	return defaultTimeout
}

func (o *OpenFoodFacts) fetch(ctx context.Context, barcode string) (Item, error) {
	endpoint := fmt.Sprintf("%s/api/v0/product/%s.json", o.baseURL, url.PathEscape(barcode))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Item{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	req.Header.Set("User-Agent", o.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return Item{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return Item{}, fmt.Errorf("barcode %s: %w", barcode, ErrUnknownItem)
	case resp.StatusCode != http.StatusOK:
		return Item{}, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var body productResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&body); err != nil {
		return Item{}, fmt.Errorf("%w: decode: %w", ErrUnavailable, err)
	}
	if body.Status != 1 {
		return Item{}, fmt.Errorf("barcode %s: %w", barcode, ErrUnknownItem)
	}

	it := Item{Reference: barcode, Name: body.Product.ProductName}
	if it.Name == "" {
		it.Name = "unknown_product"
	}
	if v := body.Product.EcoscoreData.Adjustments.Packaging.Value; v != nil {
		it.Score = int(math.Round(*v))
	}
	return it, nil
}

// validBarcode accepts 1 to 32 digits.
func validBarcode(s string) bool {
	if s == "" || len(s) > 32 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
