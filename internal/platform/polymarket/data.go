package polymarket

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/polymercado/engine/internal/platform/httpclient"
)

// DataClient is the REST client for the data API: taker-trade prints, open
// interest, and wallet positions.
type DataClient struct {
	baseURL string
	pool    *httpclient.Client
}

// NewDataClient creates a data API client on top of the shared request pool.
func NewDataClient(baseURL string, pool *httpclient.Client) *DataClient {
	return &DataClient{baseURL: baseURL, pool: pool}
}

// GetTrades returns one page of taker trades above the given cash notional.
func (d *DataClient) GetTrades(ctx context.Context, takerOnly bool, filterAmount float64, limit, offset int) ([]APITrade, error) {
	params := url.Values{}
	params.Set("takerOnly", strconv.FormatBool(takerOnly))
	params.Set("filterType", "CASH")
	params.Set("filterAmount", strconv.FormatFloat(filterAmount, 'f', -1, 64))
	params.Set("limit", strconv.Itoa(limit))
	params.Set("offset", strconv.Itoa(offset))

	var trades []APITrade
	if err := d.pool.GetJSON(ctx, d.baseURL, "/trades", params, &trades); err != nil {
		return nil, fmt.Errorf("polymarket/data: get trades: %w", err)
	}
	return trades, nil
}

// GetOpenInterest returns open interest for a batch of condition IDs.
func (d *DataClient) GetOpenInterest(ctx context.Context, conditionIDs []string) ([]APIOpenInterest, error) {
	if len(conditionIDs) == 0 {
		return nil, nil
	}
	params := url.Values{}
	params.Set("market", strings.Join(conditionIDs, ","))

	var entries []APIOpenInterest
	if err := d.pool.GetJSON(ctx, d.baseURL, "/oi", params, &entries); err != nil {
		return nil, fmt.Errorf("polymarket/data: get open interest: %w", err)
	}
	return entries, nil
}

// GetPositions returns one page of a wallet's positions at or above the size
// threshold.
func (d *DataClient) GetPositions(ctx context.Context, user string, limit int, sizeThreshold float64) ([]APIPosition, error) {
	params := url.Values{}
	params.Set("user", user)
	params.Set("limit", strconv.Itoa(limit))
	params.Set("offset", "0")
	params.Set("sizeThreshold", strconv.FormatFloat(sizeThreshold, 'f', -1, 64))

	var positions []APIPosition
	if err := d.pool.GetJSON(ctx, d.baseURL, "/positions", params, &positions); err != nil {
		return nil, fmt.Errorf("polymarket/data: get positions: %w", err)
	}
	return positions, nil
}
