package bybit

// ExchangeClient is the surface the trading components depend on. The live
// REST client and the mock used in tests both satisfy it, so every consumer
// takes it via injection instead of reaching for a shared client.
type ExchangeClient interface {
	// Market data
	GetKlines(symbol, interval string, limit int) ([]Kline, error)
	GetCurrentPrice(symbol string) (float64, error)
	GetInstrumentInfo(symbol string) (*InstrumentInfo, error)

	// Account
	GetPositions() ([]Position, error)
	GetBalance() (float64, error)
	SetLeverage(symbol string, leverage float64) error

	// Trading
	PlaceOrder(params OrderParams) (*OrderResult, error)
}
