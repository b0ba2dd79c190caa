package config_test

import (
	"testing"
	"time"

	"github.com/okian/greenpoints/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with default options", t, func() {
		cfg := config.New()

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":5000")
			convey.So(cfg.LedgerBackend, convey.ShouldEqual, config.LedgerMemory)
			convey.So(cfg.ShardCount, convey.ShouldEqual, 8)
			convey.So(cfg.PoolSize, convey.ShouldEqual, 1000)
			convey.So(cfg.DistributionInterval(), convey.ShouldEqual, 0)
			convey.So(cfg.DedupeWindow(), convey.ShouldEqual, time.Hour)
			convey.So(cfg.CatalogTimeout(), convey.ShouldEqual, 5*time.Second)
			convey.So(cfg.TokenTTL(), convey.ShouldEqual, time.Hour)
			convey.So(cfg.TrustedProxyList(), convey.ShouldBeEmpty)
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})
	})
}
