// Package quote fetches live quotes from upstream market data providers.
package quote

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrNoData is returned when the upstream answered but carried no usable price
var ErrNoData = errors.New("quote: no usable price in response")

// Quote is a single live quote. Optional fields are left invalid/nil when the
// provider does not report them.
type Quote struct {
	Symbol  string
	Price   decimal.Decimal
	Volume  *int64
	Bid     decimal.NullDecimal
	Ask     decimal.NullDecimal
	DayHigh decimal.NullDecimal
	DayLow  decimal.NullDecimal
	Source  string
}

// Gateway fetches a live quote for a symbol. Implementations enforce their own
// request timeouts.
type Gateway interface {
	FetchQuote(ctx context.Context, symbol string) (Quote, error)
}

// GatewayFunc adapts a function to the Gateway interface
type GatewayFunc func(ctx context.Context, symbol string) (Quote, error)

func (f GatewayFunc) FetchQuote(ctx context.Context, symbol string) (Quote, error) {
	return f(ctx, symbol)
}

// chain tries each gateway in order until one returns a quote
type chain struct {
	gateways []Gateway
}

// Chain returns a gateway that asks primary first and each fallback in turn.
// The errors of all attempts are joined when every gateway fails.
func Chain(primary Gateway, fallbacks ...Gateway) Gateway {
	gs := make([]Gateway, 0, 1+len(fallbacks))
	gs = append(gs, primary)
	for _, g := range fallbacks {
		if g != nil {
			gs = append(gs, g)
		}
	}
	if len(gs) == 1 {
		return primary
	}
	return &chain{gateways: gs}
}

func (c *chain) FetchQuote(ctx context.Context, symbol string) (Quote, error) {
	var errs []error
	for i, g := range c.gateways {
		q, err := g.FetchQuote(ctx, symbol)
		if err == nil {
			return q, nil
		}
		errs = append(errs, fmt.Errorf("gateway %d: %w", i, err))
		if ctx.Err() != nil {
			break
		}
	}
	return Quote{}, errors.Join(errs...)
}

func optional(v *float64) decimal.NullDecimal {
	if v == nil || *v == 0 {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(decimal.NewFromFloat(*v))
}

func normalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
