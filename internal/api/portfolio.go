package api

import (
	"context"
	"fmt"
)

// GetProfile fetches the authenticated user's profile.
func (c *Client) GetProfile(ctx context.Context) (*Profile, error) {
	var resp Profile
	if err := c.get(ctx, "/user/profile", nil, &resp); err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return &resp, nil
}

// GetFundMargin fetches available and used margin, keyed by segment
// ("equity", "commodity").
func (c *Client) GetFundMargin(ctx context.Context) (map[string]FundMargin, error) {
	var resp map[string]FundMargin
	if err := c.get(ctx, "/user/get-funds-and-margin", nil, &resp); err != nil {
		return nil, fmt.Errorf("get fund margin: %w", err)
	}
	return resp, nil
}

// GetPositions fetches the day's open positions.
func (c *Client) GetPositions(ctx context.Context) ([]Position, error) {
	var resp []Position
	if err := c.get(ctx, "/portfolio/short-term-positions", nil, &resp); err != nil {
		return nil, fmt.Errorf("get positions: %w", err)
	}
	return resp, nil
}

// GetHoldings fetches long-term demat holdings.
func (c *Client) GetHoldings(ctx context.Context) ([]Holding, error) {
	var resp []Holding
	if err := c.get(ctx, "/portfolio/long-term-holdings", nil, &resp); err != nil {
		return nil, fmt.Errorf("get holdings: %w", err)
	}
	return resp, nil
}
