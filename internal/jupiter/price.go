package jupiter

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// MaxPriceIDs is the largest id batch the price endpoint accepts.
const MaxPriceIDs = 60

// Prices fetches USD prices from the lite host. Ids missing from the
// response, or priced at zero, are absent from the result.
func (c *Client) Prices(ctx context.Context, ids []string) (map[string]float64, error) {
	return c.prices(ctx, c.priceURL, ids, false)
}

// ProPrices fetches USD prices from the authenticated host.
func (c *Client) ProPrices(ctx context.Context, ids []string) (map[string]float64, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("jupiter: pro price endpoint requires an API key")
	}
	return c.prices(ctx, c.proURL, ids, true)
}

func (c *Client) prices(ctx context.Context, host string, ids []string, auth bool) (map[string]float64, error) {
	out := make(map[string]float64, len(ids))
	for start := 0; start < len(ids); start += MaxPriceIDs {
		end := start + MaxPriceIDs
		if end > len(ids) {
			end = len(ids)
		}
		batch := ids[start:end]

		u := host + pricePath + "?ids=" + url.QueryEscape(strings.Join(batch, ","))
		body, err := c.do(ctx, http.MethodGet, u, nil, auth)
		if err != nil {
			return nil, err
		}
		entries, err := decodePriceResponseV3(body)
		if err != nil {
			return nil, fmt.Errorf("%w: price: %v", ErrDecode, err)
		}
		for _, id := range batch {
			if v := entries[id].value(); v > 0 {
				out[id] = v
			}
		}
	}
	return out, nil
}

// Price is a single-id convenience around Prices.
func (c *Client) Price(ctx context.Context, id string) (float64, bool, error) {
	m, err := c.Prices(ctx, []string{id})
	if err != nil {
		return 0, false, err
	}
	v, ok := m[id]
	return v, ok, nil
}
