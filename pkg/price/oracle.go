package price

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Source names where a quote came from
type Source string

const (
	SourceSupra     Source = "supra"
	SourceCoinGecko Source = "coingecko"
	SourceSynthetic Source = "synthetic"
)

const (
	DefaultSupraURL     = "https://prod-kline-rest.supra.com"
	DefaultCoinGeckoURL = "https://api.coingecko.com/api/v3"
	DefaultTradingPair  = "bnb_usdt"
	DefaultCoinID       = "binancecoin"
	DefaultFallback     = "635.50"

	cacheKey = "latest"
)

// ErrMissingAPIKey is returned by the Supra source without a key
var ErrMissingAPIKey = errors.New("supra API key not configured")

// Quote is a point-in-time market price
type Quote struct {
	Price            decimal.Decimal `json:"price"`
	Change24h        decimal.Decimal `json:"change24h"`
	ChangePercent24h decimal.Decimal `json:"changePercent24h"`
	High24h          decimal.Decimal `json:"high24h"`
	Low24h           decimal.Decimal `json:"low24h"`
	Volume24h        decimal.Decimal `json:"volume24h"`
	MarketCap        decimal.Decimal `json:"marketCap"`
	TradingPair      string          `json:"tradingPair"`
	UpdatedAt        time.Time       `json:"updatedAt"`
	Source           Source          `json:"source"`
}

// Config configures an Oracle
type Config struct {
	SupraURL      string
	SupraAPIKey   string
	TradingPair   string
	CoinGeckoURL  string
	CoinID        string
	FallbackPrice string
	CacheTTL      time.Duration
	Timeout       time.Duration
}

// Oracle resolves the latest price through a chain of sources
type Oracle struct {
	cfg        Config
	fallback   decimal.Decimal
	httpClient *http.Client
	cache      *ristretto.Cache
	log        *zap.SugaredLogger
	now        func() time.Time
}

// NewOracle creates a price oracle
func NewOracle(cfg Config, log *zap.SugaredLogger) (*Oracle, error) {
	if cfg.SupraURL == "" {
		cfg.SupraURL = DefaultSupraURL
	}
	if cfg.CoinGeckoURL == "" {
		cfg.CoinGeckoURL = DefaultCoinGeckoURL
	}
	if cfg.TradingPair == "" {
		cfg.TradingPair = DefaultTradingPair
	}
	if cfg.CoinID == "" {
		cfg.CoinID = DefaultCoinID
	}
	if cfg.FallbackPrice == "" {
		cfg.FallbackPrice = DefaultFallback
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	fallback, err := decimal.NewFromString(cfg.FallbackPrice)
	if err != nil || !fallback.IsPositive() {
		return nil, fmt.Errorf("invalid fallback price %q", cfg.FallbackPrice)
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 100,
		MaxCost:     10,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create price cache: %w", err)
	}

	return &Oracle{
		cfg:        cfg,
		fallback:   fallback,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cache:      cache,
		log:        log,
		now:        time.Now,
	}, nil
}

// Close releases the cache
func (o *Oracle) Close() {
	o.cache.Close()
}

// Latest returns the current price, trying Supra, then CoinGecko, then the
// configured synthetic value. It never fails.
func (o *Oracle) Latest(ctx context.Context) *Quote {
	if o.cfg.CacheTTL > 0 {
		if v, ok := o.cache.Get(cacheKey); ok {
			if q, ok := v.(*Quote); ok {
				return q
			}
		}
	}

	q, err := o.fromSupra(ctx)
	if err != nil {
		o.log.Debugw("Supra price unavailable", "error", err)
		q, err = o.fromCoinGecko(ctx)
	}
	if err != nil {
		o.log.Warnw("All price sources failed, using synthetic price", "error", err, "price", o.fallback.String())
		return o.synthetic()
	}

	if o.cfg.CacheTTL > 0 {
		o.cache.SetWithTTL(cacheKey, q, 1, o.cfg.CacheTTL)
		o.cache.Wait()
	}
	return q
}

func (o *Oracle) synthetic() *Quote {
	return &Quote{
		Price:       o.fallback,
		TradingPair: o.cfg.TradingPair,
		UpdatedAt:   o.now().UTC(),
		Source:      SourceSynthetic,
	}
}

type supraResponse struct {
	Instruments []struct {
		Time         string `json:"time"`
		Timestamp    string `json:"timestamp"`
		CurrentPrice string `json:"currentPrice"`
		High24h      string `json:"24h_high"`
		Low24h       string `json:"24h_low"`
		Change24h    string `json:"24h_change"`
		TradingPair  string `json:"tradingPair"`
	} `json:"instruments"`
}

type marketData struct {
	volume    decimal.Decimal
	marketCap decimal.Decimal
}

// fromSupra reads the latest instrument and enriches it with CoinGecko volume data
func (o *Oracle) fromSupra(ctx context.Context) (*Quote, error) {
	if o.cfg.SupraAPIKey == "" {
		return nil, ErrMissingAPIKey
	}

	var (
		resp   supraResponse
		market marketData
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		u := o.cfg.SupraURL + "/latest?trading_pair=" + url.QueryEscape(o.cfg.TradingPair)
		return o.getJSON(gctx, u, map[string]string{"x-api-key": o.cfg.SupraAPIKey}, &resp)
	})
	g.Go(func() error {
		cg, err := o.coinGecko(gctx)
		if err != nil {
			o.log.Debugw("Volume and market cap unavailable", "error", err)
			return nil
		}
		market = marketData{volume: cg.volume, marketCap: cg.marketCap}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to fetch from Supra: %w", err)
	}

	if len(resp.Instruments) == 0 {
		return nil, fmt.Errorf("no price data available from Supra")
	}
	inst := resp.Instruments[0]
	if !strings.EqualFold(inst.TradingPair, o.cfg.TradingPair) {
		return nil, fmt.Errorf("expected %s but got %s", o.cfg.TradingPair, inst.TradingPair)
	}

	price, err := decimal.NewFromString(inst.CurrentPrice)
	if err != nil {
		return nil, fmt.Errorf("invalid Supra price %q: %w", inst.CurrentPrice, err)
	}
	changePct := parseDecimal(inst.Change24h)

	updated := o.now().UTC()
	if ms, err := strconv.ParseInt(inst.Time, 10, 64); err == nil {
		updated = time.UnixMilli(ms).UTC()
	}

	return &Quote{
		Price:            price,
		Change24h:        price.Mul(changePct).Div(decimal.NewFromInt(100)),
		ChangePercent24h: changePct,
		High24h:          parseDecimal(inst.High24h),
		Low24h:           parseDecimal(inst.Low24h),
		Volume24h:        market.volume,
		MarketCap:        market.marketCap,
		TradingPair:      inst.TradingPair,
		UpdatedAt:        updated,
		Source:           SourceSupra,
	}, nil
}

type coinGeckoResult struct {
	price     decimal.Decimal
	change    decimal.Decimal
	volume    decimal.Decimal
	marketCap decimal.Decimal
}

func (o *Oracle) coinGecko(ctx context.Context) (*coinGeckoResult, error) {
	q := url.Values{}
	q.Set("ids", o.cfg.CoinID)
	q.Set("vs_currencies", "usd")
	q.Set("include_24hr_vol", "true")
	q.Set("include_market_cap", "true")
	q.Set("include_24hr_change", "true")

	var resp map[string]struct {
		USD       decimal.Decimal `json:"usd"`
		Vol24h    decimal.Decimal `json:"usd_24h_vol"`
		MarketCap decimal.Decimal `json:"usd_market_cap"`
		Change24h decimal.Decimal `json:"usd_24h_change"`
	}
	if err := o.getJSON(ctx, o.cfg.CoinGeckoURL+"/simple/price?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}

	data, ok := resp[o.cfg.CoinID]
	if !ok {
		return nil, fmt.Errorf("no %s data from CoinGecko", o.cfg.CoinID)
	}

	return &coinGeckoResult{
		price:     data.USD,
		change:    data.Change24h,
		volume:    data.Vol24h,
		marketCap: data.MarketCap,
	}, nil
}

func (o *Oracle) fromCoinGecko(ctx context.Context) (*Quote, error) {
	cg, err := o.coinGecko(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch from CoinGecko: %w", err)
	}
	if !cg.price.IsPositive() {
		return nil, fmt.Errorf("CoinGecko returned no price")
	}

	return &Quote{
		Price:            cg.price,
		Change24h:        cg.price.Mul(cg.change).Div(decimal.NewFromInt(100)),
		ChangePercent24h: cg.change,
		Volume24h:        cg.volume,
		MarketCap:        cg.marketCap,
		TradingPair:      o.cfg.TradingPair,
		UpdatedAt:        o.now().UTC(),
		Source:           SourceCoinGecko,
	}, nil
}

func (o *Oracle) getJSON(ctx context.Context, u string, headers map[string]string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero
	}
	return d
}
