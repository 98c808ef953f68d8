// Package pricecache keeps the latest known price per symbol and refreshes it
// from a quote gateway once it is older than the configured TTL.
package pricecache

import (
	"context"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"trading_scheduler/metrics"
	"trading_scheduler/services/calendar"
	"trading_scheduler/services/quote"
)

const (
	DefaultTTL         = 300 * time.Second
	DefaultSuffix      = ".DE"
	DefaultConcurrency = 4
	maxSymbolPrefix    = 10
)

// Entry is one observed price. Entries are never changed after they are
// stored, a newer entry supersedes them.
type Entry struct {
	Symbol    string              `json:"symbol"`
	Price     decimal.Decimal     `json:"price"`
	Volume    *int64              `json:"volume,omitempty"`
	Bid       decimal.NullDecimal `json:"bid"`
	Ask       decimal.NullDecimal `json:"ask"`
	DayHigh   decimal.NullDecimal `json:"day_high"`
	DayLow    decimal.NullDecimal `json:"day_low"`
	Source    string              `json:"source"`
	Timestamp time.Time           `json:"timestamp"`
}

// Age returns how old the entry is at now
func (e Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.Timestamp)
}

// FetchStatus tags the outcome of a Fetch
type FetchStatus int

const (
	// Hit means a fresh stored entry was returned, no gateway call was made
	Hit FetchStatus = iota
	// Fetched means the gateway was asked and the new entry was appended
	Fetched
	// Invalid means the symbol was rejected before any lookup
	Invalid
	// Unavailable means neither a fresh entry nor a gateway quote exists
	Unavailable
)

func (s FetchStatus) String() string {
	switch s {
	case Hit:
		return "hit"
	case Fetched:
		return "fetched"
	case Invalid:
		return "invalid"
	case Unavailable:
		return "unavailable"
	}
	return "unknown"
}

// FetchResult is returned by Fetch instead of an error. Entry is set for Hit
// and Fetched. StoreErr is set when the fetched entry could not be appended;
// the entry is still returned in that case.
type FetchResult struct {
	Entry    *Entry
	Status   FetchStatus
	StoreErr error
}

// OK reports whether the result carries an entry
func (r FetchResult) OK() bool {
	return r.Entry != nil
}

// Options tunes a Cache. Zero values pick the defaults.
type Options struct {
	TTL         time.Duration
	Suffix      string
	Concurrency int
	Metrics     *metrics.Metrics
	Logger      *zap.Logger
}

// Cache serves prices from a Store and refreshes stale ones through a
// Gateway. It is safe for concurrent use.
type Cache struct {
	store       Store
	gateway     quote.Gateway
	calendar    *calendar.Calendar
	ttl         time.Duration
	suffix      string
	concurrency int
	metrics     *metrics.Metrics
	logger      *zap.Logger
	inflight    singleflight.Group
}

// New builds a Cache. The calendar is the clock of the cache, entries are
// stamped with and aged against its Now.
func New(store Store, gateway quote.Gateway, cal *calendar.Calendar, opts Options) *Cache {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Suffix == "" {
		opts.Suffix = DefaultSuffix
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Cache{
		store:       store,
		gateway:     gateway,
		calendar:    cal,
		ttl:         opts.TTL,
		suffix:      strings.ToUpper(opts.Suffix),
		concurrency: opts.Concurrency,
		metrics:     opts.Metrics,
		logger:      opts.Logger.With(zap.String("component", "pricecache")),
	}
}

// TTL returns the freshness window
func (c *Cache) TTL() time.Duration { return c.ttl }

// ValidateSymbol reports whether symbol belongs to the configured exchange:
// it must end with the suffix and have 1 to 10 characters before it.
func (c *Cache) ValidateSymbol(symbol string) bool {
	s := normalize(symbol)
	if s == "" || !strings.HasSuffix(s, c.suffix) {
		return false
	}
	n := utf8.RuneCountInString(strings.TrimSuffix(s, c.suffix))
	return n >= 1 && n <= maxSymbolPrefix
}

// Get returns the latest stored entry for symbol if it is at most TTL old.
// Store read errors are logged and count as a miss.
func (c *Cache) Get(ctx context.Context, symbol string) (*Entry, bool) {
	s := normalize(symbol)
	e, err := c.store.Latest(ctx, s)
	if err != nil {
		c.logger.Warn("store read failed", zap.String("symbol", s), zap.Error(err))
		c.metrics.ObserveLookup("store_error")
		return nil, false
	}
	if e == nil || !c.fresh(*e) {
		c.metrics.ObserveLookup("miss")
		return nil, false
	}
	c.metrics.ObserveLookup("hit")
	return e, true
}

func (c *Cache) fresh(e Entry) bool {
	return e.Age(c.calendar.Now()) <= c.ttl
}

// Fetch returns the price of symbol. With useCache a fresh stored entry is
// served without calling the gateway. Otherwise the gateway is asked once and
// the result appended to the store. Concurrent fetches of the same symbol
// share a single gateway call; a caller whose ctx ends stops waiting with
// Unavailable without cancelling the call for the others.
func (c *Cache) Fetch(ctx context.Context, symbol string, useCache bool) FetchResult {
	if !c.ValidateSymbol(symbol) {
		c.metrics.ObserveLookup("invalid")
		c.logger.Debug("invalid symbol", zap.String("symbol", symbol))
		return FetchResult{Status: Invalid}
	}
	s := normalize(symbol)
	if useCache {
		if e, ok := c.Get(ctx, s); ok {
			return FetchResult{Entry: e, Status: Hit}
		}
	}
	// The shared call must outlive the caller that started it; the gateway
	// bounds it with its own timeout.
	shared := context.WithoutCancel(ctx)
	ch := c.inflight.DoChan(s, func() (any, error) {
		return c.refresh(shared, s), nil
	})
	select {
	case r := <-ch:
		return r.Val.(FetchResult)
	case <-ctx.Done():
		c.metrics.ObserveLookup("unavailable")
		return FetchResult{Status: Unavailable}
	}
}

func (c *Cache) refresh(ctx context.Context, symbol string) FetchResult {
	q, err := c.gateway.FetchQuote(ctx, symbol)
	if err != nil {
		c.metrics.ObserveLookup("unavailable")
		c.logger.Warn("quote unavailable", zap.String("symbol", symbol), zap.Error(err))
		return FetchResult{Status: Unavailable}
	}
	e := &Entry{
		Symbol:    symbol,
		Price:     q.Price,
		Volume:    q.Volume,
		Bid:       q.Bid,
		Ask:       q.Ask,
		DayHigh:   q.DayHigh,
		DayLow:    q.DayLow,
		Source:    q.Source,
		Timestamp: c.calendar.Now(),
	}
	c.metrics.ObserveLookup("fetched")
	res := FetchResult{Entry: e, Status: Fetched}
	if err := c.store.Append(ctx, *e); err != nil {
		c.metrics.ObserveLookup("store_error")
		c.logger.Warn("store write failed", zap.String("symbol", symbol), zap.Error(err))
		res.StoreErr = err
	}
	return res
}

// FetchMany fetches every symbol independently. The returned map has one key
// per distinct input symbol; a nil value means no price is available.
func (c *Cache) FetchMany(ctx context.Context, symbols []string, useCache bool) map[string]*Entry {
	out := make(map[string]*Entry, len(symbols))
	unique := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		if _, seen := out[sym]; !seen {
			out[sym] = nil
			unique = append(unique, sym)
		}
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for _, sym := range unique {
		g.Go(func() error {
			res := c.Fetch(gctx, sym, useCache)
			mu.Lock()
			out[sym] = res.Entry
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
