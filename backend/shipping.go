package backend

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru"
	"github.com/shopspring/decimal"
)

// Quote is a shipping price for a destination and weight.
type Quote struct {
	Price      decimal.Decimal `json:"price"`
	ZoneLabel  string          `json:"zoneLabel"`
	RangeLabel string          `json:"rangeLabel"`
}

// Quote prices shipping for country and weightGrams.
func (c *Client) Quote(ctx context.Context, country string, weightGrams int) (Quote, error) {
	q := url.Values{}
	q.Set("country", strings.ToUpper(country))
	q.Set("weight", strconv.Itoa(weightGrams))
	var quote Quote
	err := c.get(ctx, "/shipping/quote?"+q.Encode(), &quote, requestOptions{})
	return quote, err
}

// ShippingPricer prices shipping.
type ShippingPricer interface {
	Quote(ctx context.Context, country string, weightGrams int) (Quote, error)
}

// CachedPricer remembers recent quotes. Failures are never cached.
type CachedPricer struct {
	next  ShippingPricer
	cache *lru.Cache
}

// NewCachedPricer wraps next with an LRU of size entries.
func NewCachedPricer(next ShippingPricer, size int) (*CachedPricer, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("backend: quote cache: %w", err)
	}
	return &CachedPricer{next: next, cache: cache}, nil
}

// Quote returns a cached quote or asks the wrapped pricer.
func (p *CachedPricer) Quote(ctx context.Context, country string, weightGrams int) (Quote, error) {
	key := strings.ToUpper(country) + "|" + strconv.Itoa(weightGrams)
	if v, ok := p.cache.Get(key); ok {
		return v.(Quote), nil
	}
	quote, err := p.next.Quote(ctx, country, weightGrams)
	if err != nil {
		return Quote{}, err
	}
	p.cache.Add(key, quote)
	return quote, nil
}

// Len returns the number of cached quotes.
func (p *CachedPricer) Len() int {
	return p.cache.Len()
}
