package api

import (
	"context"
	"fmt"
)

// feedAuthorizeResponse is the data section of
// GET /feed/market-data-feed/authorize.
type feedAuthorizeResponse struct {
	AuthorizedRedirectURI string `json:"authorizedRedirectUri"`
}

// AuthorizeFeed requests a signed, short-lived WebSocket URL for the
// market-data feed. The URL is single-use: call again before every
// dial, including reconnects.
func (c *Client) AuthorizeFeed(ctx context.Context) (string, error) {
	var resp feedAuthorizeResponse
	if err := c.get(ctx, "/feed/market-data-feed/authorize", nil, &resp); err != nil {
		return "", fmt.Errorf("authorize feed: %w", err)
	}
	if resp.AuthorizedRedirectURI == "" {
		return "", fmt.Errorf("authorize feed: empty redirect uri")
	}
	return resp.AuthorizedRedirectURI, nil
}
