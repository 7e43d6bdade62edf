package bybit

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const (
	MainnetURL = "https://api.bybit.com"
	TestnetURL = "https://api-testnet.bybit.com"

	recvWindow = "5000"
	category   = "linear"
)

// Client talks to the Bybit v5 REST API for linear futures.
type Client struct {
	apiKey     string
	secretKey  string
	baseURL    string
	httpClient *http.Client
}

func NewClient(apiKey, secretKey string, testnet bool) *Client {
	baseURL := MainnetURL
	if testnet {
		baseURL = TestnetURL
	}
	return &Client{
		apiKey:     apiKey,
		secretKey:  secretKey,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// sign builds the v5 request signature: HMAC-SHA256 over
// timestamp + apiKey + recvWindow + payload, where payload is the query
// string for GET requests and the JSON body for POST requests.
func (c *Client) sign(timestamp, payload string) string {
	mac := hmac.New(sha256.New, []byte(c.secretKey))
	mac.Write([]byte(timestamp + c.apiKey + recvWindow + payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *Client) do(method, path string, query url.Values, body interface{}, signed bool, out interface{}) error {
	endpoint := c.baseURL + path
	payload := ""
	var reqBody io.Reader

	if query != nil {
		payload = query.Encode()
		endpoint += "?" + payload
	}
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("error encoding request body: %w", err)
		}
		payload = string(data)
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, endpoint, reqBody)
	if err != nil {
		return fmt.Errorf("error building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if signed {
		timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
		req.Header.Set("X-BAPI-API-KEY", c.apiKey)
		req.Header.Set("X-BAPI-TIMESTAMP", timestamp)
		req.Header.Set("X-BAPI-RECV-WINDOW", recvWindow)
		req.Header.Set("X-BAPI-SIGN", c.sign(timestamp, payload))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("error calling %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("error reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API error %d: %s", resp.StatusCode, string(data))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("error parsing response: %w", err)
	}
	return nil
}

type apiResponse struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

func (c *Client) get(path string, query url.Values, signed bool, result interface{}) error {
	var resp apiResponse
	if err := c.do(http.MethodGet, path, query, nil, signed, &resp); err != nil {
		return err
	}
	if resp.RetCode != 0 {
		return fmt.Errorf("exchange error %d: %s", resp.RetCode, resp.RetMsg)
	}
	return json.Unmarshal(resp.Result, result)
}

// GetKlines fetches candlesticks, oldest first. The exchange returns rows
// newest first as string arrays, so the client reverses and parses them.
func (c *Client) GetKlines(symbol, interval string, limit int) ([]Kline, error) {
	query := url.Values{}
	query.Set("category", category)
	query.Set("symbol", symbol)
	query.Set("interval", interval)
	query.Set("limit", strconv.Itoa(limit))

	var result struct {
		List [][]string `json:"list"`
	}
	if err := c.get("/v5/market/kline", query, false, &result); err != nil {
		return nil, fmt.Errorf("error fetching klines for %s: %w", symbol, err)
	}

	klines := make([]Kline, 0, len(result.List))
	for i := len(result.List) - 1; i >= 0; i-- {
		row := result.List[i]
		if len(row) < 7 {
			continue
		}
		ts, _ := strconv.ParseInt(row[0], 10, 64)
		klines = append(klines, Kline{
			StartTime: ts,
			Open:      parseFloat(row[1]),
			High:      parseFloat(row[2]),
			Low:       parseFloat(row[3]),
			Close:     parseFloat(row[4]),
			Volume:    parseFloat(row[5]),
			Turnover:  parseFloat(row[6]),
		})
	}
	return klines, nil
}

// GetCurrentPrice returns the last traded price for a symbol.
func (c *Client) GetCurrentPrice(symbol string) (float64, error) {
	query := url.Values{}
	query.Set("category", category)
	query.Set("symbol", symbol)

	var result struct {
		List []Ticker `json:"list"`
	}
	if err := c.get("/v5/market/tickers", query, false, &result); err != nil {
		return 0, fmt.Errorf("error fetching ticker for %s: %w", symbol, err)
	}
	if len(result.List) == 0 {
		return 0, fmt.Errorf("no ticker data for %s", symbol)
	}
	return result.List[0].LastPrice, nil
}

// GetInstrumentInfo returns the lot-size constraints for a symbol.
func (c *Client) GetInstrumentInfo(symbol string) (*InstrumentInfo, error) {
	query := url.Values{}
	query.Set("category", category)
	query.Set("symbol", symbol)

	var result struct {
		List []struct {
			Symbol        string `json:"symbol"`
			LotSizeFilter struct {
				QtyStep          string `json:"qtyStep"`
				MinOrderQty      string `json:"minOrderQty"`
				MaxOrderQty      string `json:"maxOrderQty"`
				MinNotionalValue string `json:"minNotionalValue"`
			} `json:"lotSizeFilter"`
			LeverageFilter struct {
				MaxLeverage string `json:"maxLeverage"`
			} `json:"leverageFilter"`
		} `json:"list"`
	}
	if err := c.get("/v5/market/instruments-info", query, false, &result); err != nil {
		return nil, fmt.Errorf("error fetching instrument info for %s: %w", symbol, err)
	}
	if len(result.List) == 0 {
		return nil, fmt.Errorf("symbol %s not found", symbol)
	}

	info := result.List[0]
	return &InstrumentInfo{
		Symbol:      info.Symbol,
		QtyStep:     parseFloat(info.LotSizeFilter.QtyStep),
		MinOrderQty: parseFloat(info.LotSizeFilter.MinOrderQty),
		MaxOrderQty: parseFloat(info.LotSizeFilter.MaxOrderQty),
		MinNotional: parseFloat(info.LotSizeFilter.MinNotionalValue),
		MaxLeverage: parseFloat(info.LeverageFilter.MaxLeverage),
	}, nil
}

// GetPositions lists all open USDT-settled linear positions.
func (c *Client) GetPositions() ([]Position, error) {
	query := url.Values{}
	query.Set("category", category)
	query.Set("settleCoin", "USDT")

	var result struct {
		List []Position `json:"list"`
	}
	if err := c.get("/v5/position/list", query, true, &result); err != nil {
		return nil, fmt.Errorf("error fetching positions: %w", err)
	}

	open := make([]Position, 0, len(result.List))
	for _, p := range result.List {
		if p.Size > 0 {
			open = append(open, p)
		}
	}
	return open, nil
}

// GetBalance returns the available USDT balance of the unified account.
func (c *Client) GetBalance() (float64, error) {
	query := url.Values{}
	query.Set("accountType", "UNIFIED")
	query.Set("coin", "USDT")

	var result struct {
		List []struct {
			TotalAvailableBalance string `json:"totalAvailableBalance"`
		} `json:"list"`
	}
	if err := c.get("/v5/account/wallet-balance", query, true, &result); err != nil {
		return 0, fmt.Errorf("error fetching balance: %w", err)
	}
	if len(result.List) == 0 {
		return 0, fmt.Errorf("no wallet balance data")
	}
	return parseFloat(result.List[0].TotalAvailableBalance), nil
}

// SetLeverage applies the same leverage to both sides of a symbol.
// The exchange answers retCode 110043 when leverage is already set; that is
// not an error for our purposes.
func (c *Client) SetLeverage(symbol string, leverage float64) error {
	body := map[string]string{
		"category":     category,
		"symbol":       symbol,
		"buyLeverage":  strconv.FormatFloat(leverage, 'f', -1, 64),
		"sellLeverage": strconv.FormatFloat(leverage, 'f', -1, 64),
	}

	var resp apiResponse
	if err := c.do(http.MethodPost, "/v5/position/set-leverage", nil, body, true, &resp); err != nil {
		return err
	}
	if resp.RetCode != 0 && resp.RetCode != 110043 {
		return fmt.Errorf("error setting leverage for %s: %d %s", symbol, resp.RetCode, resp.RetMsg)
	}
	return nil
}

// PlaceOrder submits an order. Exchange-level rejections come back inside
// the OrderResult rather than as an error, so callers can inspect RetCode
// and decide whether to retry.
func (c *Client) PlaceOrder(params OrderParams) (*OrderResult, error) {
	body := map[string]string{
		"category":  category,
		"symbol":    params.Symbol,
		"side":      params.Side,
		"orderType": params.OrderType,
		"qty":       strconv.FormatFloat(params.Qty, 'f', -1, 64),
	}
	if params.Price > 0 {
		body["price"] = strconv.FormatFloat(params.Price, 'f', -1, 64)
	}
	if params.TakeProfit > 0 {
		body["takeProfit"] = strconv.FormatFloat(params.TakeProfit, 'f', -1, 64)
	}
	if params.StopLoss > 0 {
		body["stopLoss"] = strconv.FormatFloat(params.StopLoss, 'f', -1, 64)
	}
	if params.ReduceOnly {
		body["reduceOnly"] = "true"
	}
	if params.OrderLinkID != "" {
		body["orderLinkId"] = params.OrderLinkID
	}

	var resp struct {
		RetCode int    `json:"retCode"`
		RetMsg  string `json:"retMsg"`
		Result  struct {
			OrderID     string `json:"orderId"`
			OrderLinkID string `json:"orderLinkId"`
		} `json:"result"`
	}
	if err := c.do(http.MethodPost, "/v5/order/create", nil, body, true, &resp); err != nil {
		return nil, fmt.Errorf("error placing order for %s: %w", params.Symbol, err)
	}

	return &OrderResult{
		RetCode:     resp.RetCode,
		RetMsg:      resp.RetMsg,
		OrderID:     resp.Result.OrderID,
		OrderLinkID: resp.Result.OrderLinkID,
	}, nil
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
