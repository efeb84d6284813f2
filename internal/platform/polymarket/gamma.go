package polymarket

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/polymercado/engine/internal/platform/httpclient"
)

// GammaClient is the REST client for the Gamma API: market discovery, tags,
// and sports metadata.
type GammaClient struct {
	baseURL string
	pool    *httpclient.Client
}

// NewGammaClient creates a Gamma client on top of the shared request pool.
func NewGammaClient(baseURL string, pool *httpclient.Client) *GammaClient {
	return &GammaClient{baseURL: baseURL, pool: pool}
}

// GetEvents returns one page of active, non-closed events ordered by id
// descending (newest markets first).
func (g *GammaClient) GetEvents(ctx context.Context, limit, offset int) ([]APIEvent, error) {
	params := url.Values{}
	params.Set("active", "true")
	params.Set("closed", "false")
	params.Set("limit", strconv.Itoa(limit))
	params.Set("offset", strconv.Itoa(offset))
	params.Set("order", "id")
	params.Set("ascending", "false")

	var events []APIEvent
	if err := g.pool.GetJSON(ctx, g.baseURL, "/events", params, &events); err != nil {
		return nil, fmt.Errorf("polymarket/gamma: get events: %w", err)
	}
	return events, nil
}

// GetTags returns one page of the tag dictionary.
func (g *GammaClient) GetTags(ctx context.Context, limit, offset int) ([]APITag, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	params.Set("offset", strconv.Itoa(offset))

	var tags []APITag
	if err := g.pool.GetJSON(ctx, g.baseURL, "/tags", params, &tags); err != nil {
		return nil, fmt.Errorf("polymarket/gamma: get tags: %w", err)
	}
	return tags, nil
}

// GetSports returns the sports list, each naming its tag IDs.
func (g *GammaClient) GetSports(ctx context.Context) ([]APISport, error) {
	var sports []APISport
	if err := g.pool.GetJSON(ctx, g.baseURL, "/sports", nil, &sports); err != nil {
		return nil, fmt.Errorf("polymarket/gamma: get sports: %w", err)
	}
	return sports, nil
}
