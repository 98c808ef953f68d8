package quote

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

// YahooChartResponse is the subset of the v8 chart payload we read
type YahooChartResponse struct {
	Chart struct {
		Result []YahooChartResult `json:"result"`
		Error  *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

type YahooChartResult struct {
	Meta struct {
		Symbol               string   `json:"symbol"`
		Currency             string   `json:"currency"`
		RegularMarketPrice   *float64 `json:"regularMarketPrice"`
		RegularMarketDayHigh *float64 `json:"regularMarketDayHigh"`
		RegularMarketDayLow  *float64 `json:"regularMarketDayLow"`
		RegularMarketVolume  *int64   `json:"regularMarketVolume"`
		Bid                  *float64 `json:"bid"`
		Ask                  *float64 `json:"ask"`
	} `json:"meta"`
	Timestamp  []int64 `json:"timestamp"`
	Indicators struct {
		Quote []struct {
			Close  []*float64 `json:"close"`
			Volume []*int64   `json:"volume"`
		} `json:"quote"`
	} `json:"indicators"`
}

// YahooGateway reads quotes from the Yahoo Finance chart endpoint.
//
// The regular market price in the chart meta is used when present; otherwise
// the last non-null close of the intraday series is taken. There is no third
// fallback.
type YahooGateway struct {
	client *resty.Client
	name   string
}

// NewYahooGateway creates a gateway against baseURL (e.g. https://query1.finance.yahoo.com)
func NewYahooGateway(baseURL string, timeout time.Duration) *YahooGateway {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeaders(map[string]string{
			"Accept":     "application/json",
			"User-Agent": "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		})

	return &YahooGateway{client: client, name: "yahoo"}
}

// Named sets the source name recorded on the quotes
func (y *YahooGateway) Named(name string) *YahooGateway {
	y.name = name
	return y
}

func (y *YahooGateway) FetchQuote(ctx context.Context, symbol string) (Quote, error) {
	symbol = normalizeSymbol(symbol)

	var chart YahooChartResponse
	resp, err := y.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"range":    "1d",
			"interval": "1m",
		}).
		SetResult(&chart).
		Get("/v8/finance/chart/" + url.PathEscape(symbol))
	if err != nil {
		return Quote{}, fmt.Errorf("yahoo request for %s failed: %w", symbol, err)
	}
	if resp.IsError() {
		return Quote{}, fmt.Errorf("yahoo request for %s failed: status %d", symbol, resp.StatusCode())
	}
	if chart.Chart.Error != nil {
		return Quote{}, fmt.Errorf("yahoo error for %s: %s", symbol, chart.Chart.Error.Description)
	}
	if len(chart.Chart.Result) == 0 {
		return Quote{}, fmt.Errorf("%s: %w", symbol, ErrNoData)
	}

	return y.toQuote(symbol, chart.Chart.Result[0])
}

func (y *YahooGateway) toQuote(symbol string, r YahooChartResult) (Quote, error) {
	q := Quote{
		Symbol:  symbol,
		Bid:     optional(r.Meta.Bid),
		Ask:     optional(r.Meta.Ask),
		DayHigh: optional(r.Meta.RegularMarketDayHigh),
		DayLow:  optional(r.Meta.RegularMarketDayLow),
		Volume:  r.Meta.RegularMarketVolume,
		Source:  y.name,
	}

	if p := r.Meta.RegularMarketPrice; p != nil && *p > 0 {
		q.Price = decimal.NewFromFloat(*p)
		return q, nil
	}

	if len(r.Indicators.Quote) > 0 {
		closes := r.Indicators.Quote[0].Close
		for i := len(closes) - 1; i >= 0; i-- {
			if closes[i] != nil && *closes[i] > 0 {
				q.Price = decimal.NewFromFloat(*closes[i])
				return q, nil
			}
		}
	}
	return Quote{}, fmt.Errorf("%s: %w", symbol, ErrNoData)
}
