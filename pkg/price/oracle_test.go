package price

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const supraBody = `{"currentPage":1,"totalPages":1,"totalRecords":1,"pageSize":10,"instruments":[{"time":"1700000000000","timestamp":"2023-11-14","currentPrice":"612.34","24h_high":"620.00","24h_low":"600.10","24h_change":"2.5","tradingPair":"bnb_usdt"}]}`

const geckoBody = `{"binancecoin":{"usd":611.5,"usd_market_cap":94000000000,"usd_24h_vol":1500000000,"usd_24h_change":-1.2}}`

type upstream struct {
	supraStatus atomic.Int32
	geckoStatus atomic.Int32
	supraHits   int32
	geckoHits   int32
}

func newUpstream(supraStatus, geckoStatus int32) *upstream {
	u := &upstream{}
	u.supraStatus.Store(supraStatus)
	u.geckoStatus.Store(geckoStatus)
	return u
}

func (u *upstream) server(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/latest", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&u.supraHits, 1)
		assert.Equal(t, "secret", r.Header.Get("x-api-key"))
		assert.Equal(t, "bnb_usdt", r.URL.Query().Get("trading_pair"))
		if code := u.supraStatus.Load(); code != 0 {
			w.WriteHeader(int(code))
			return
		}
		_, _ = w.Write([]byte(supraBody))
	})
	mux.HandleFunc("/simple/price", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&u.geckoHits, 1)
		assert.Equal(t, "binancecoin", r.URL.Query().Get("ids"))
		if code := u.geckoStatus.Load(); code != 0 {
			w.WriteHeader(int(code))
			return
		}
		_, _ = w.Write([]byte(geckoBody))
	})
	return httptest.NewServer(mux)
}

func newTestOracle(t *testing.T, srvURL, apiKey string, ttl time.Duration) *Oracle {
	t.Helper()
	o, err := NewOracle(Config{
		SupraURL:     srvURL,
		SupraAPIKey:  apiKey,
		CoinGeckoURL: srvURL,
		CacheTTL:     ttl,
		Timeout:      2 * time.Second,
	}, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	t.Cleanup(o.Close)
	return o
}

func TestLatestFromSupra(t *testing.T) {
	up := newUpstream(0, 0)
	srv := up.server(t)
	defer srv.Close()

	q := newTestOracle(t, srv.URL, "secret", 0).Latest(context.Background())
	assert.Equal(t, SourceSupra, q.Source)
	assert.Equal(t, "612.34", q.Price.String())
	assert.Equal(t, "620", q.High24h.String())
	assert.Equal(t, "2.5", q.ChangePercent24h.String())
	assert.Equal(t, "1500000000", q.Volume24h.String())
	assert.Equal(t, int64(1700000000000), q.UpdatedAt.UnixMilli())
}

func TestLatestFallsBackToCoinGecko(t *testing.T) {
	up := newUpstream(http.StatusUnauthorized, 0)
	srv := up.server(t)
	defer srv.Close()

	q := newTestOracle(t, srv.URL, "secret", 0).Latest(context.Background())
	assert.Equal(t, SourceCoinGecko, q.Source)
	assert.Equal(t, "611.5", q.Price.String())
	assert.Equal(t, "-1.2", q.ChangePercent24h.String())
}

func TestLatestWithoutSupraKeyUsesCoinGecko(t *testing.T) {
	up := newUpstream(0, 0)
	srv := up.server(t)
	defer srv.Close()

	q := newTestOracle(t, srv.URL, "", 0).Latest(context.Background())
	assert.Equal(t, SourceCoinGecko, q.Source)
	assert.Equal(t, int32(0), atomic.LoadInt32(&up.supraHits))
}

func TestLatestSynthetic(t *testing.T) {
	up := newUpstream(http.StatusInternalServerError, http.StatusTooManyRequests)
	srv := up.server(t)
	defer srv.Close()

	q := newTestOracle(t, srv.URL, "secret", 0).Latest(context.Background())
	assert.Equal(t, SourceSynthetic, q.Source)
	assert.Equal(t, "635.5", q.Price.String())
}

func TestLatestIsCached(t *testing.T) {
	up := newUpstream(0, 0)
	srv := up.server(t)
	defer srv.Close()

	o := newTestOracle(t, srv.URL, "", time.Minute)
	first := o.Latest(context.Background())
	second := o.Latest(context.Background())

	assert.Equal(t, first.Price.String(), second.Price.String())
	assert.Equal(t, int32(1), atomic.LoadInt32(&up.geckoHits))
}

func TestSyntheticIsNotCached(t *testing.T) {
	up := newUpstream(0, http.StatusBadGateway)
	srv := up.server(t)
	defer srv.Close()

	o := newTestOracle(t, srv.URL, "", time.Minute)
	assert.Equal(t, SourceSynthetic, o.Latest(context.Background()).Source)

	up.geckoStatus.Store(0)
	assert.Equal(t, SourceCoinGecko, o.Latest(context.Background()).Source)
}

func TestNewOracleRejectsBadFallback(t *testing.T) {
	_, err := NewOracle(Config{FallbackPrice: "abc"}, nil)
	assert.Error(t, err)
}
