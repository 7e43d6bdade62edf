package bybit

// Kline represents a single candlestick of linear futures market data.
type Kline struct {
	StartTime int64   `json:"startTime"`
	Open      float64 `json:"open,string"`
	High      float64 `json:"high,string"`
	Low       float64 `json:"low,string"`
	Close     float64 `json:"close,string"`
	Volume    float64 `json:"volume,string"`
	Turnover  float64 `json:"turnover,string"`
}

// Position is an open linear futures position as reported by the exchange.
type Position struct {
	Symbol        string  `json:"symbol"`
	Side          string  `json:"side"` // "Buy" or "Sell"
	Size          float64 `json:"size,string"`
	EntryPrice    float64 `json:"avgPrice,string"`
	MarkPrice     float64 `json:"markPrice,string"`
	Leverage      float64 `json:"leverage,string"`
	UnrealizedPnl float64 `json:"unrealisedPnl,string"`
	TakeProfit    float64 `json:"takeProfit,string"`
	StopLoss      float64 `json:"stopLoss,string"`
	UpdatedTime   int64   `json:"updatedTime,string"`
}

// InstrumentInfo carries the order-size constraints for a symbol.
// The exchange reports these as strings inside lotSizeFilter; the client
// parses them into floats so callers never touch raw filter payloads.
type InstrumentInfo struct {
	Symbol      string
	QtyStep     float64
	MinOrderQty float64
	MaxOrderQty float64
	MinNotional float64
	MaxLeverage float64
}

// OrderParams describes an order to be placed.
type OrderParams struct {
	Symbol      string
	Side        string // "Buy" or "Sell"
	OrderType   string // "Market" or "Limit"
	Qty         float64
	Price       float64 // limit orders only
	TakeProfit  float64
	StopLoss    float64
	ReduceOnly  bool
	OrderLinkID string
}

// OrderResult is the outcome of an order placement. RetCode 0 means the
// exchange accepted the order; any other code carries RetMsg with the reason.
type OrderResult struct {
	RetCode     int    `json:"retCode"`
	RetMsg      string `json:"retMsg"`
	OrderID     string `json:"orderId"`
	OrderLinkID string `json:"orderLinkId"`
}

// OK reports whether the exchange accepted the order.
func (r *OrderResult) OK() bool {
	return r != nil && r.RetCode == 0
}

// Margin-insufficiency return code for linear futures order placement.
const RetCodeInsufficientMargin = 110007

// Ticker holds the last traded price of a symbol.
type Ticker struct {
	Symbol    string  `json:"symbol"`
	LastPrice float64 `json:"lastPrice,string"`
}
