package api

import (
	"encoding/json"
	"fmt"
)

// Profile from GET /user/profile
type Profile struct {
	UserID    string   `json:"user_id"`
	UserName  string   `json:"user_name"`
	UserType  string   `json:"user_type"`
	Email     string   `json:"email"`
	Broker    string   `json:"broker"`
	Products  []string `json:"products"`
	Exchanges []string `json:"exchanges"`
	IsActive  bool     `json:"is_active"`
}

// FundMargin holds available and used margin per segment; the API
// returns one entry for equity and one for commodity.
type FundMargin struct {
	AvailableMargin float64 `json:"available_margin"`
	UsedMargin      float64 `json:"used_margin"`
	PayinAmount     float64 `json:"payin_amount"`
	SpanMargin      float64 `json:"span_margin"`
	ExposureMargin  float64 `json:"exposure_margin"`
}

// Position from GET /portfolio/short-term-positions
type Position struct {
	InstrumentToken string  `json:"instrument_token"`
	TradingSymbol   string  `json:"trading_symbol"`
	Exchange        string  `json:"exchange"`
	Product         string  `json:"product"`
	Quantity        int     `json:"quantity"`
	OvernightQty    int     `json:"overnight_quantity"`
	DayBuyQty       int     `json:"day_buy_quantity"`
	DaySellQty      int     `json:"day_sell_quantity"`
	AveragePrice    float64 `json:"average_price"`
	LastPrice       float64 `json:"last_price"`
	ClosePrice      float64 `json:"close_price"`
	PnL             float64 `json:"pnl"`
	RealisedPnL     float64 `json:"realised"`
	UnrealisedPnL   float64 `json:"unrealised"`
	Multiplier      float64 `json:"multiplier"`
	Value           float64 `json:"value"`
}

// Holding from GET /portfolio/long-term-holdings
type Holding struct {
	InstrumentToken string  `json:"instrument_token"`
	ISIN            string  `json:"isin"`
	TradingSymbol   string  `json:"trading_symbol"`
	Exchange        string  `json:"exchange"`
	CompanyName     string  `json:"company_name"`
	Quantity        int     `json:"quantity"`
	T1Quantity      int     `json:"t1_quantity"`
	AveragePrice    float64 `json:"average_price"`
	LastPrice       float64 `json:"last_price"`
	ClosePrice      float64 `json:"close_price"`
	PnL             float64 `json:"pnl"`
	DayChange       float64 `json:"day_change"`
	DayChangePct    float64 `json:"day_change_percentage"`
}

// PlaceOrderRequest is the body of POST /order/place.
type PlaceOrderRequest struct {
	InstrumentToken   string  `json:"instrument_token"`
	Quantity          int     `json:"quantity"`
	Product           string  `json:"product"`
	Validity          string  `json:"validity"`
	Price             float64 `json:"price"`
	OrderType         string  `json:"order_type"`
	TransactionType   string  `json:"transaction_type"`
	DisclosedQuantity int     `json:"disclosed_quantity"`
	TriggerPrice      float64 `json:"trigger_price"`
	IsAMO             bool    `json:"is_amo"`
	Tag               string  `json:"tag,omitempty"`
}

// ModifyOrderRequest is the body of PUT /order/modify.
type ModifyOrderRequest struct {
	OrderID           string  `json:"order_id"`
	Quantity          int     `json:"quantity,omitempty"`
	Validity          string  `json:"validity"`
	Price             float64 `json:"price"`
	OrderType         string  `json:"order_type"`
	DisclosedQuantity int     `json:"disclosed_quantity"`
	TriggerPrice      float64 `json:"trigger_price"`
}

// OrderRef identifies a placed, modified, or cancelled order.
type OrderRef struct {
	OrderID string `json:"order_id"`
}

// Order from GET /order/retrieve-all
type Order struct {
	OrderID         string  `json:"order_id"`
	ExchangeOrderID string  `json:"exchange_order_id"`
	InstrumentToken string  `json:"instrument_token"`
	TradingSymbol   string  `json:"trading_symbol"`
	Exchange        string  `json:"exchange"`
	Product         string  `json:"product"`
	OrderType       string  `json:"order_type"`
	TransactionType string  `json:"transaction_type"`
	Validity        string  `json:"validity"`
	Status          string  `json:"status"`
	StatusMessage   string  `json:"status_message"`
	Quantity        int     `json:"quantity"`
	FilledQuantity  int     `json:"filled_quantity"`
	PendingQuantity int     `json:"pending_quantity"`
	Price           float64 `json:"price"`
	AveragePrice    float64 `json:"average_price"`
	TriggerPrice    float64 `json:"trigger_price"`
	OrderTimestamp  string  `json:"order_timestamp"`
	IsAMO           bool    `json:"is_amo"`
	Tag             string  `json:"tag"`
}

// LTPQuote from GET /market-quote/ltp
type LTPQuote struct {
	LastPrice       float64 `json:"last_price"`
	InstrumentToken string  `json:"instrument_token"`
}

// OHLCQuote from GET /market-quote/ohlc
type OHLCQuote struct {
	LastPrice       float64    `json:"last_price"`
	InstrumentToken string     `json:"instrument_token"`
	OHLC            CandleOHLC `json:"ohlc"`
}

// CandleOHLC is the bar inside an OHLC quote.
type CandleOHLC struct {
	Open  float64 `json:"open"`
	High  float64 `json:"high"`
	Low   float64 `json:"low"`
	Close float64 `json:"close"`
}

// Candle is one historical bar. The API encodes it as a positional
// array: [timestamp, open, high, low, close, volume, open_interest].
type Candle struct {
	Timestamp    string
	Open         float64
	High         float64
	Low          float64
	Close        float64
	Volume       int64
	OpenInterest int64
}

func (c *Candle) UnmarshalJSON(data []byte) error {
	var raw []any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) < 7 {
		return fmt.Errorf("candle has %d fields, want 7", len(raw))
	}

	ts, ok := raw[0].(string)
	if !ok {
		return fmt.Errorf("candle timestamp is %T, want string", raw[0])
	}
	c.Timestamp = ts

	nums := make([]float64, 6)
	for i, v := range raw[1:7] {
		f, ok := v.(float64)
		if !ok {
			return fmt.Errorf("candle field %d is %T, want number", i+1, v)
		}
		nums[i] = f
	}
	c.Open, c.High, c.Low, c.Close = nums[0], nums[1], nums[2], nums[3]
	c.Volume = int64(nums[4])
	c.OpenInterest = int64(nums[5])
	return nil
}

// candlesPayload is the data section of the historical candle
// endpoints.
type candlesPayload struct {
	Candles []Candle `json:"candles"`
}
