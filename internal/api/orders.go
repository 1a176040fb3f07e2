package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// PlaceOrder submits a new order and returns its id. Never retried.
func (c *Client) PlaceOrder(ctx context.Context, order PlaceOrderRequest) (*OrderRef, error) {
	var resp OrderRef
	if err := c.send(ctx, http.MethodPost, "/order/place", nil, order, &resp); err != nil {
		return nil, fmt.Errorf("place order: %w", err)
	}
	return &resp, nil
}

// ModifyOrder updates an open order's price, quantity, or type.
func (c *Client) ModifyOrder(ctx context.Context, order ModifyOrderRequest) (*OrderRef, error) {
	var resp OrderRef
	if err := c.send(ctx, http.MethodPut, "/order/modify", nil, order, &resp); err != nil {
		return nil, fmt.Errorf("modify order %s: %w", order.OrderID, err)
	}
	return &resp, nil
}

// CancelOrder cancels an open order.
func (c *Client) CancelOrder(ctx context.Context, orderID string) (*OrderRef, error) {
	query := url.Values{}
	query.Set("order_id", orderID)

	var resp OrderRef
	if err := c.send(ctx, http.MethodDelete, "/order/cancel", query, nil, &resp); err != nil {
		return nil, fmt.Errorf("cancel order %s: %w", orderID, err)
	}
	return &resp, nil
}

// GetOrders fetches the day's order book.
func (c *Client) GetOrders(ctx context.Context) ([]Order, error) {
	var resp []Order
	if err := c.get(ctx, "/order/retrieve-all", nil, &resp); err != nil {
		return nil, fmt.Errorf("get orders: %w", err)
	}
	return resp, nil
}

// GetOrderDetails fetches the latest state of one order.
func (c *Client) GetOrderDetails(ctx context.Context, orderID string) (*Order, error) {
	query := url.Values{}
	query.Set("order_id", orderID)

	var resp Order
	if err := c.get(ctx, "/order/details", query, &resp); err != nil {
		return nil, fmt.Errorf("get order details %s: %w", orderID, err)
	}
	return &resp, nil
}
