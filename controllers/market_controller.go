package controllers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"trading_scheduler/services/pricecache"
)

// QuoteCache is the part of the price cache the HTTP surface needs
type QuoteCache interface {
	ValidateSymbol(symbol string) bool
	Fetch(ctx context.Context, symbol string, useCache bool) pricecache.FetchResult
	MarketStatus(ctx context.Context) pricecache.Status
}

// MarketController serves market status and cached quotes
type MarketController struct {
	cache QuoteCache
}

// NewMarketController creates a new market controller
func NewMarketController(cache QuoteCache) *MarketController {
	return &MarketController{cache: cache}
}

// GetStatus returns the market status
// GET /api/v1/market/status
func (mc *MarketController) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": mc.cache.MarketStatus(c.Request.Context())})
}

// GetQuote returns the quote for a symbol, from cache when fresh
// GET /api/v1/market/quotes/:symbol?fresh=true
func (mc *MarketController) GetQuote(c *gin.Context) {
	symbol := c.Param("symbol")
	fresh, _ := strconv.ParseBool(c.DefaultQuery("fresh", "false"))

	res := mc.cache.Fetch(c.Request.Context(), symbol, !fresh)
	switch res.Status {
	case pricecache.Invalid:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid symbol", "symbol": symbol})
		return
	case pricecache.Unavailable:
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Quote unavailable", "symbol": symbol})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":   res.Entry,
		"source": res.Status.String(),
	})
}
