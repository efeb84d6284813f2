package polymarket

import (
	"context"
	"fmt"
	"net/url"

	"github.com/polymercado/engine/internal/platform/httpclient"
)

// booksBatchSize bounds the number of token IDs per POST /books request.
const booksBatchSize = 500

// ClobClient is the REST client for the CLOB public endpoints: orderbook
// snapshots and prices.
type ClobClient struct {
	baseURL string
	pool    *httpclient.Client
}

// NewClobClient creates a CLOB client on top of the shared request pool.
func NewClobClient(baseURL string, pool *httpclient.Client) *ClobClient {
	return &ClobClient{baseURL: baseURL, pool: pool}
}

// bookRequest is one entry of the POST /books payload.
type bookRequest struct {
	TokenID string `json:"token_id"`
}

// GetBooks fetches orderbook snapshots for the given token IDs, batching
// requests to the upstream limit.
func (c *ClobClient) GetBooks(ctx context.Context, tokenIDs []string) ([]APIBook, error) {
	var books []APIBook
	for start := 0; start < len(tokenIDs); start += booksBatchSize {
		end := start + booksBatchSize
		if end > len(tokenIDs) {
			end = len(tokenIDs)
		}
		payload := make([]bookRequest, 0, end-start)
		for _, id := range tokenIDs[start:end] {
			payload = append(payload, bookRequest{TokenID: id})
		}

		var batch []APIBook
		if err := c.pool.PostJSON(ctx, c.baseURL, "/books", payload, &batch); err != nil {
			return nil, fmt.Errorf("polymarket/clob: get books: %w", err)
		}
		books = append(books, batch...)
	}
	return books, nil
}

// GetBook fetches a single token's orderbook snapshot.
func (c *ClobClient) GetBook(ctx context.Context, tokenID string) (APIBook, error) {
	params := url.Values{}
	params.Set("token_id", tokenID)

	var book APIBook
	if err := c.pool.GetJSON(ctx, c.baseURL, "/book", params, &book); err != nil {
		return APIBook{}, fmt.Errorf("polymarket/clob: get book %s: %w", tokenID, err)
	}
	return book, nil
}

// GetPrice fetches the current price for one side of a token.
func (c *ClobClient) GetPrice(ctx context.Context, tokenID, side string) (float64, error) {
	params := url.Values{}
	params.Set("token_id", tokenID)
	params.Set("side", side)

	var resp struct {
		Price FlexFloat `json:"price"`
	}
	if err := c.pool.GetJSON(ctx, c.baseURL, "/price", params, &resp); err != nil {
		return 0, fmt.Errorf("polymarket/clob: get price %s/%s: %w", tokenID, side, err)
	}
	return resp.Price.Value, nil
}
