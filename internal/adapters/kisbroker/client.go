package kisbroker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"scalpbot/internal/domain"
	"scalpbot/internal/ports"
)

const (
	baseURLProduction = "https://openapi.koreainvestment.com:9443"
	baseURLSandbox    = "https://openapivts.koreainvestment.com:29443"

	// Tokens are refreshed this long before their reported expiry.
	tokenRefreshWindow = time.Hour

	defaultTimeout = 10 * time.Second
	maxRetries     = 3
	retryInterval  = time.Second
)

// KIS transaction IDs. The sandbox server uses the V-prefixed set.
var trIDs = map[string]string{
	"buy":     "TTTC0802U",
	"sell":    "TTTC0801U",
	"cancel":  "TTTC0803U",
	"balance": "TTTC8434R",
	"pending": "TTTC8001R",
	"price":      "FHKST01010100",
	"quote":      "FHKST01010200",
	"index":      "FHPUP02100000",
	"daily":      "FHKST01010400",
	"indexDaily": "FHKUP03500100",
	"ranking":    "FHPST01710000",
}

// Client implements ports.Broker against the Korea Investment & Securities
// Open API. In dry-run mode orders are simulated locally while market data
// still comes from the live API.
type Client struct {
	cfg        Config
	logger     ports.Logger
	httpClient *http.Client
	now        func() time.Time

	tokenMu     sync.Mutex
	token       string
	tokenExpiry time.Time

	mockMu        sync.Mutex
	mockPositions map[string]*mockHolding
}

type mockHolding struct {
	quantity int
	avgPrice float64
}

// Config holds configuration specific to the KIS broker adapter.
type Config struct {
	AppKey    string
	AppSecret string
	// AccountNo is the full account number, "XXXXXXXX-XX".
	AccountNo string
	BaseURL   string
	// IndexCode selects the reference index ("0001" KOSPI, "1001" KOSDAQ).
	IndexCode string
	DryRun    bool
	Timeout   time.Duration
	Logger    ports.Logger
}

// New creates a new KIS broker adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for KIS broker")
	}
	if !cfg.DryRun && (cfg.AppKey == "" || cfg.AppSecret == "" || cfg.AccountNo == "") {
		return nil, fmt.Errorf("app key, app secret and account number are required for live trading: %w", ports.ErrConfigurationError)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = baseURLProduction
	}
	if cfg.IndexCode == "" {
		cfg.IndexCode = "0001"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	cfg.Logger.Info(context.Background(), "KIS broker configured", map[string]interface{}{
		"baseURL": cfg.BaseURL, "dryRun": cfg.DryRun, "sandbox": isSandbox(cfg.BaseURL),
	})

	return &Client{
		cfg:           cfg,
		logger:        cfg.Logger,
		httpClient:    &http.Client{Timeout: cfg.Timeout},
		now:           time.Now,
		mockPositions: make(map[string]*mockHolding),
	}, nil
}

func isSandbox(baseURL string) bool {
	return strings.Contains(baseURL, "openapivts")
}

// trID returns the transaction ID for an operation, switching to the
// sandbox set when configured against the sandbox server.
func (c *Client) trID(op string) string {
	id := trIDs[op]
	if isSandbox(c.cfg.BaseURL) {
		switch op {
		case "buy", "sell", "cancel", "balance", "pending":
			return "V" + id[1:]
		}
	}
	return id
}

// accountParts splits "XXXXXXXX-XX" into the account number and product code.
func (c *Client) accountParts() (string, string) {
	parts := strings.SplitN(c.cfg.AccountNo, "-", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return c.cfg.AccountNo, "01"
}

// --- Token management ---

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

func (c *Client) getToken(ctx context.Context) (string, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	if c.token != "" && c.now().Before(c.tokenExpiry.Add(-tokenRefreshWindow)) {
		return c.token, nil
	}
	return c.refreshTokenLocked(ctx)
}

// invalidateToken forces a refresh on the next call after a 401/403.
func (c *Client) invalidateToken() {
	c.tokenMu.Lock()
	c.token = ""
	c.tokenMu.Unlock()
}

func (c *Client) refreshTokenLocked(ctx context.Context) (string, error) {
	const op = "kisbroker.Client.refreshToken"

	body, err := json.Marshal(map[string]string{
		"grant_type": "client_credentials",
		"appkey":     c.cfg.AppKey,
		"appsecret":  c.cfg.AppSecret,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/oauth2/tokenP", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request failed: %w: %w", ports.ErrConnectionFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("token request returned status %d: %s: %w", resp.StatusCode, string(data), ports.ErrAuthFailed)
	}

	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("token response contained no access token: %w", ports.ErrAuthFailed)
	}

	c.token = tok.AccessToken
	expiresIn := tok.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = 86400
	}
	c.tokenExpiry = c.now().Add(time.Duration(expiresIn) * time.Second)
	c.logger.Info(ctx, "KIS access token refreshed", map[string]interface{}{
		"op": op, "expiresAt": c.tokenExpiry.Format(time.RFC3339),
	})
	return c.token, nil
}

// --- Request plumbing ---

type kisResponse struct {
	RtCd    string          `json:"rt_cd"`
	Msg1    string          `json:"msg1"`
	Output  json.RawMessage `json:"output"`
	Output1 json.RawMessage `json:"output1"`
	Output2 json.RawMessage `json:"output2"`
}

// request performs one authenticated API call with retries. 401/403 force a
// token refresh, 429 waits and retries, network errors retry up to the limit.
func (c *Client) request(ctx context.Context, method, endpoint, trID string, params url.Values, body interface{}) (*kisResponse, error) {
	var out *kisResponse

	operation := func() error {
		token, err := c.getToken(ctx)
		if err != nil {
			return backoff.Permanent(err)
		}

		var reqBody io.Reader
		if body != nil {
			data, err := json.Marshal(body)
			if err != nil {
				return backoff.Permanent(fmt.Errorf("failed to encode request body: %w", err))
			}
			reqBody = bytes.NewReader(data)
		}

		reqURL := c.cfg.BaseURL + endpoint
		if len(params) > 0 {
			reqURL += "?" + params.Encode()
		}
		req, err := http.NewRequestWithContext(ctx, method, reqURL, reqBody)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to build request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("authorization", "Bearer "+token)
		req.Header.Set("appkey", c.cfg.AppKey)
		req.Header.Set("appsecret", c.cfg.AppSecret)
		req.Header.Set("tr_id", trID)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w: %w", ports.ErrConnectionFailed, err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
			var parsed kisResponse
			if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
				return backoff.Permanent(fmt.Errorf("failed to decode response: %w", err))
			}
			out = &parsed
			return nil
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			c.logger.Warn(ctx, "Token rejected, forcing refresh", map[string]interface{}{"status": resp.StatusCode})
			c.invalidateToken()
			return fmt.Errorf("request unauthorized (status %d): %w", resp.StatusCode, ports.ErrAuthFailed)
		case resp.StatusCode == http.StatusTooManyRequests:
			c.logger.Warn(ctx, "Rate limit reached, backing off", map[string]interface{}{"trID": trID})
			return fmt.Errorf("rate limited: %w", ports.ErrRateLimited)
		case resp.StatusCode >= 500:
			return fmt.Errorf("server error (status %d): %w", resp.StatusCode, ports.ErrBrokerUnavailable)
		default:
			data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return backoff.Permanent(fmt.Errorf("API error (status %d): %s: %w", resp.StatusCode, string(data), ports.ErrInvalidRequest))
		}
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(retryInterval), maxRetries),
		ctx,
	)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return out, nil
}

// --- OrderExecutor ---

// BuyMarket places a market buy order.
func (c *Client) BuyMarket(ctx context.Context, symbol string, quantity int) (*ports.OrderResult, error) {
	return c.placeOrder(ctx, symbol, quantity, domain.Buy)
}

// SellMarket places a market sell order.
func (c *Client) SellMarket(ctx context.Context, symbol string, quantity int) (*ports.OrderResult, error) {
	return c.placeOrder(ctx, symbol, quantity, domain.Sell)
}

func (c *Client) placeOrder(ctx context.Context, symbol string, quantity int, side domain.OrderSide) (*ports.OrderResult, error) {
	const op = "kisbroker.Client.placeOrder"

	if quantity <= 0 {
		return nil, fmt.Errorf("order quantity must be positive: %w", ports.ErrInvalidRequest)
	}
	if c.cfg.DryRun {
		return c.mockOrder(ctx, symbol, quantity, side)
	}

	trKey := "buy"
	if side == domain.Sell {
		trKey = "sell"
	}
	cano, prdt := c.accountParts()
	body := map[string]string{
		"CANO":         cano,
		"ACNT_PRDT_CD": prdt,
		"PDNO":         symbol,
		"ORD_DVSN":     "01", // market order
		"ORD_QTY":      strconv.Itoa(quantity),
		"ORD_UNPR":     "0",
	}

	resp, err := c.request(ctx, http.MethodPost, "/uapi/domestic-stock/v1/trading/order-cash", c.trID(trKey), nil, body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if resp.RtCd != "0" {
		c.logger.Error(ctx, ports.ErrOrderRejected, "Order rejected", map[string]interface{}{
			"op": op, "symbol": symbol, "side": string(side), "message": resp.Msg1,
		})
		return &ports.OrderResult{
			Success: false, Symbol: symbol, Side: side, Quantity: quantity,
			ErrorDetail: resp.Msg1, Timestamp: c.now(),
		}, nil
	}

	var output struct {
		ODNO string `json:"ODNO"`
	}
	if len(resp.Output) > 0 {
		if err := json.Unmarshal(resp.Output, &output); err != nil {
			c.logger.Warn(ctx, "Could not decode order output", map[string]interface{}{"op": op, "error": err.Error()})
		}
	}

	c.logger.Info(ctx, "Order placed", map[string]interface{}{
		"op": op, "symbol": symbol, "side": string(side), "quantity": quantity, "orderID": output.ODNO,
	})
	return &ports.OrderResult{
		Success: true, OrderID: output.ODNO, Symbol: symbol, Side: side,
		Quantity: quantity, Timestamp: c.now(),
	}, nil
}

// mockOrder simulates a fill at the live price, tracking holdings locally.
func (c *Client) mockOrder(ctx context.Context, symbol string, quantity int, side domain.OrderSide) (*ports.OrderResult, error) {
	const op = "kisbroker.Client.mockOrder"

	price, err := c.GetCurrentPrice(ctx, symbol)
	if err != nil || price <= 0 {
		price = 50_000
	}
	fill := float64(RoundToTick(price, RoundNearest))

	c.mockMu.Lock()
	if side == domain.Buy {
		if pos, ok := c.mockPositions[symbol]; ok {
			total := pos.avgPrice*float64(pos.quantity) + fill*float64(quantity)
			pos.quantity += quantity
			pos.avgPrice = total / float64(pos.quantity)
		} else {
			c.mockPositions[symbol] = &mockHolding{quantity: quantity, avgPrice: fill}
		}
	} else {
		if pos, ok := c.mockPositions[symbol]; ok {
			pos.quantity -= quantity
			if pos.quantity <= 0 {
				delete(c.mockPositions, symbol)
			}
		}
	}
	c.mockMu.Unlock()

	orderID := uuid.NewString()
	c.logger.Info(ctx, "Dry-run order simulated", map[string]interface{}{
		"op": op, "symbol": symbol, "side": string(side), "quantity": quantity, "price": fill, "orderID": orderID,
	})
	return &ports.OrderResult{
		Success: true, OrderID: orderID, Symbol: symbol, Side: side,
		Price: fill, Quantity: quantity, FilledQty: quantity, Timestamp: c.now(),
	}, nil
}

// CancelOrder cancels an open order.
func (c *Client) CancelOrder(ctx context.Context, orderID, symbol string, quantity int) error {
	const op = "kisbroker.Client.CancelOrder"

	if c.cfg.DryRun {
		c.logger.Info(ctx, "Dry-run cancel simulated", map[string]interface{}{"op": op, "orderID": orderID})
		return nil
	}

	cano, prdt := c.accountParts()
	body := map[string]string{
		"CANO":               cano,
		"ACNT_PRDT_CD":       prdt,
		"KRX_FWDG_ORD_ORGNO": "",
		"ORGN_ODNO":          orderID,
		"ORD_DVSN":           "00",
		"RVSE_CNCL_DVSN_CD":  "02", // cancel
		"ORD_QTY":            strconv.Itoa(quantity),
		"ORD_UNPR":           "0",
		"QTY_ALL_ORD_YN":     "Y",
	}

	resp, err := c.request(ctx, http.MethodPost, "/uapi/domestic-stock/v1/trading/order-rvsecncl", c.trID("cancel"), nil, body)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if resp.RtCd != "0" {
		return fmt.Errorf("cancel rejected for order %s (%s): %w", orderID, resp.Msg1, ports.ErrOrderNotFound)
	}
	c.logger.Info(ctx, "Order cancelled", map[string]interface{}{"op": op, "orderID": orderID, "symbol": symbol})
	return nil
}

// CancelAllPendingOrders cancels every open order and returns the count cancelled.
func (c *Client) CancelAllPendingOrders(ctx context.Context) (int, error) {
	const op = "kisbroker.Client.CancelAllPendingOrders"

	pending, err := c.GetPendingOrders(ctx)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	cancelled := 0
	for _, order := range pending {
		if err := c.CancelOrder(ctx, order.OrderID, order.Symbol, order.PendingQty); err != nil {
			c.logger.Warn(ctx, "Failed to cancel pending order", map[string]interface{}{
				"op": op, "orderID": order.OrderID, "error": err.Error(),
			})
			continue
		}
		cancelled++
	}
	return cancelled, nil
}

// --- AccountReader ---

// balanceParams builds the inquire-balance query shared by GetBalance and
// GetPositions.
func (c *Client) balanceParams() url.Values {
	cano, prdt := c.accountParts()
	params := url.Values{}
	params.Set("CANO", cano)
	params.Set("ACNT_PRDT_CD", prdt)
	params.Set("AFHR_FLPR_YN", "N")
	params.Set("OFL_YN", "")
	params.Set("INQR_DVSN", "02")
	params.Set("UNPR_DVSN", "01")
	params.Set("FUND_STTL_ICLD_YN", "N")
	params.Set("FNCG_AMT_AUTO_RDPT_YN", "N")
	params.Set("PRCS_DVSN", "00")
	params.Set("CTX_AREA_FK100", "")
	params.Set("CTX_AREA_NK100", "")
	return params
}

// GetPositions returns the current holdings of the account.
func (c *Client) GetPositions(ctx context.Context) ([]ports.BrokerPosition, error) {
	const op = "kisbroker.Client.GetPositions"

	if c.cfg.DryRun {
		c.mockMu.Lock()
		defer c.mockMu.Unlock()
		positions := make([]ports.BrokerPosition, 0, len(c.mockPositions))
		for symbol, pos := range c.mockPositions {
			positions = append(positions, ports.BrokerPosition{
				Symbol: symbol, Quantity: pos.quantity,
				AvgPrice: pos.avgPrice, CurrentPrice: pos.avgPrice,
			})
		}
		return positions, nil
	}

	resp, err := c.request(ctx, http.MethodGet, "/uapi/domestic-stock/v1/trading/inquire-balance", c.trID("balance"), c.balanceParams(), nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var items []struct {
		Pdno        string `json:"pdno"`
		PrdtName    string `json:"prdt_name"`
		HldgQty     string `json:"hldg_qty"`
		PchsAvgPric string `json:"pchs_avg_pric"`
		Prpr        string `json:"prpr"`
	}
	if len(resp.Output1) > 0 {
		if err := json.Unmarshal(resp.Output1, &items); err != nil {
			return nil, fmt.Errorf("failed to decode holdings: %w", err)
		}
	}

	positions := make([]ports.BrokerPosition, 0, len(items))
	for _, item := range items {
		qty := parseInt(item.HldgQty)
		if qty <= 0 {
			continue
		}
		positions = append(positions, ports.BrokerPosition{
			Symbol:       item.Pdno,
			Name:         item.PrdtName,
			Quantity:     qty,
			AvgPrice:     parseFloat(item.PchsAvgPric),
			CurrentPrice: parseFloat(item.Prpr),
		})
	}
	return positions, nil
}

// GetPendingOrders returns all unfilled open orders.
func (c *Client) GetPendingOrders(ctx context.Context) ([]ports.PendingOrder, error) {
	const op = "kisbroker.Client.GetPendingOrders"

	if c.cfg.DryRun {
		return nil, nil
	}

	cano, prdt := c.accountParts()
	params := url.Values{}
	params.Set("CANO", cano)
	params.Set("ACNT_PRDT_CD", prdt)
	params.Set("INQR_DVSN_1", "0")
	params.Set("INQR_DVSN_2", "0")
	params.Set("CTX_AREA_FK100", "")
	params.Set("CTX_AREA_NK100", "")

	resp, err := c.request(ctx, http.MethodGet, "/uapi/domestic-stock/v1/trading/inquire-psbl-rvsecncl", c.trID("pending"), params, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var items []struct {
		Odno         string `json:"odno"`
		Pdno         string `json:"pdno"`
		SllBuyDvsnCd string `json:"sll_buy_dvsn_cd"`
		OrdQty       string `json:"ord_qty"`
		TotCcldQty   string `json:"tot_ccld_qty"`
		PsblQty      string `json:"psbl_qty"`
		OrdUnpr      string `json:"ord_unpr"`
		OrdTmd       string `json:"ord_tmd"`
	}
	if len(resp.Output) > 0 {
		if err := json.Unmarshal(resp.Output, &items); err != nil {
			return nil, fmt.Errorf("failed to decode pending orders: %w", err)
		}
	}

	orders := make([]ports.PendingOrder, 0, len(items))
	for _, item := range items {
		pendingQty := parseInt(item.PsblQty)
		if pendingQty <= 0 {
			continue
		}
		side := domain.Sell
		if item.SllBuyDvsnCd == "02" {
			side = domain.Buy
		}
		orders = append(orders, ports.PendingOrder{
			OrderID:    item.Odno,
			Symbol:     item.Pdno,
			Side:       side,
			OrderQty:   parseInt(item.OrdQty),
			FilledQty:  parseInt(item.TotCcldQty),
			PendingQty: pendingQty,
			Price:      parseFloat(item.OrdUnpr),
			OrderTime:  parseOrderTime(item.OrdTmd, c.now()),
		})
	}
	return orders, nil
}

// GetBalance returns the cash state of the account.
func (c *Client) GetBalance(ctx context.Context) (*ports.Balance, error) {
	const op = "kisbroker.Client.GetBalance"

	if c.cfg.DryRun {
		return &ports.Balance{Cash: 5_000_000, TotalEval: 10_000_000}, nil
	}

	resp, err := c.request(ctx, http.MethodGet, "/uapi/domestic-stock/v1/trading/inquire-balance", c.trID("balance"), c.balanceParams(), nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var totals []struct {
		SctsEvluAmt     string `json:"scts_evlu_amt"`
		EvluPflsSmtlAmt string `json:"evlu_pfls_smtl_amt"`
		PrvsRcdlExccAmt string `json:"prvs_rcdl_excc_amt"`
		AsstIcdcErngRt  string `json:"asst_icdc_erng_rt"`
	}
	if len(resp.Output2) > 0 {
		if err := json.Unmarshal(resp.Output2, &totals); err != nil {
			return nil, fmt.Errorf("failed to decode balance: %w", err)
		}
	}
	if len(totals) == 0 {
		return &ports.Balance{}, nil
	}
	return &ports.Balance{
		Cash:       parseFloat(totals[0].PrvsRcdlExccAmt),
		TotalEval:  parseFloat(totals[0].SctsEvluAmt),
		TotalPNL:   parseFloat(totals[0].EvluPflsSmtlAmt),
		ProfitRate: parseFloat(totals[0].AsstIcdcErngRt),
	}, nil
}

// --- QuoteSource ---

// GetCurrentPrice returns the last traded price for a symbol.
func (c *Client) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	const op = "kisbroker.Client.GetCurrentPrice"

	params := url.Values{}
	params.Set("FID_COND_MRKT_DIV_CODE", "J")
	params.Set("FID_INPUT_ISCD", symbol)

	resp, err := c.request(ctx, http.MethodGet, "/uapi/domestic-stock/v1/quotations/inquire-price", c.trID("price"), params, nil)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	var output struct {
		StckPrpr string `json:"stck_prpr"`
	}
	if err := json.Unmarshal(resp.Output, &output); err != nil {
		return 0, fmt.Errorf("failed to decode price: %w", err)
	}
	return parseFloat(output.StckPrpr), nil
}

// GetQuote returns the current best bid/ask for a symbol.
func (c *Client) GetQuote(ctx context.Context, symbol string) (*domain.Quote, error) {
	const op = "kisbroker.Client.GetQuote"

	params := url.Values{}
	params.Set("FID_COND_MRKT_DIV_CODE", "J")
	params.Set("FID_INPUT_ISCD", symbol)

	resp, err := c.request(ctx, http.MethodGet, "/uapi/domestic-stock/v1/quotations/inquire-asking-price-exp-ccn", c.trID("quote"), params, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var output struct {
		Askp1 string `json:"askp1"`
		Bidp1 string `json:"bidp1"`
	}
	if len(resp.Output1) > 0 {
		if err := json.Unmarshal(resp.Output1, &output); err != nil {
			return nil, fmt.Errorf("failed to decode quote: %w", err)
		}
	} else if len(resp.Output) > 0 {
		if err := json.Unmarshal(resp.Output, &output); err != nil {
			return nil, fmt.Errorf("failed to decode quote: %w", err)
		}
	}

	return &domain.Quote{
		Symbol:    symbol,
		Bid:       parseFloat(output.Bidp1),
		Ask:       parseFloat(output.Askp1),
		Timestamp: c.now(),
	}, nil
}

// GetIndexChange returns the day change of the reference index in percent.
func (c *Client) GetIndexChange(ctx context.Context) (float64, error) {
	_, change, err := c.GetIndexSnapshot(ctx)
	return change, err
}

// GetIndexSnapshot returns the current level and day change of the
// reference index.
func (c *Client) GetIndexSnapshot(ctx context.Context) (float64, float64, error) {
	const op = "kisbroker.Client.GetIndexSnapshot"

	params := url.Values{}
	params.Set("FID_COND_MRKT_DIV_CODE", "U")
	params.Set("FID_INPUT_ISCD", c.cfg.IndexCode)

	resp, err := c.request(ctx, http.MethodGet, "/uapi/domestic-stock/v1/quotations/inquire-index-price", c.trID("index"), params, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("%s: %w", op, err)
	}

	var output struct {
		BstpNmixPrpr     string `json:"bstp_nmix_prpr"`
		BstpNmixPrdyCtrt string `json:"bstp_nmix_prdy_ctrt"`
	}
	if err := json.Unmarshal(resp.Output, &output); err != nil {
		return 0, 0, fmt.Errorf("failed to decode index: %w", err)
	}
	return parseFloat(output.BstpNmixPrpr), parseFloat(output.BstpNmixPrdyCtrt), nil
}

// GetIndexCandles returns daily bars for the reference index, oldest first.
func (c *Client) GetIndexCandles(ctx context.Context, days int) ([]domain.Candle, error) {
	const op = "kisbroker.Client.GetIndexCandles"

	end := c.now()
	start := end.AddDate(0, 0, -days*2) // calendar days, roughly 5 trading days a week

	params := url.Values{}
	params.Set("FID_COND_MRKT_DIV_CODE", "U")
	params.Set("FID_INPUT_ISCD", c.cfg.IndexCode)
	params.Set("FID_INPUT_DATE_1", start.Format("20060102"))
	params.Set("FID_INPUT_DATE_2", end.Format("20060102"))
	params.Set("FID_PERIOD_DIV_CODE", "D")

	resp, err := c.request(ctx, http.MethodGet, "/uapi/domestic-stock/v1/quotations/inquire-daily-indexchartprice", c.trID("indexDaily"), params, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var items []struct {
		StckBsopDate string `json:"stck_bsop_date"`
		BstpNmixOprc string `json:"bstp_nmix_oprc"`
		BstpNmixHgpr string `json:"bstp_nmix_hgpr"`
		BstpNmixLwpr string `json:"bstp_nmix_lwpr"`
		BstpNmixPrpr string `json:"bstp_nmix_prpr"`
		AcmlVol      string `json:"acml_vol"`
	}
	if err := json.Unmarshal(resp.Output2, &items); err != nil {
		return nil, fmt.Errorf("failed to decode index candles: %w", err)
	}

	candles := make([]domain.Candle, 0, len(items))
	for _, item := range items {
		close := parseFloat(item.BstpNmixPrpr)
		if close <= 0 {
			continue
		}
		candles = append(candles, domain.Candle{
			Date:   parseDate(item.StckBsopDate),
			Open:   parseFloat(item.BstpNmixOprc),
			High:   parseFloat(item.BstpNmixHgpr),
			Low:    parseFloat(item.BstpNmixLwpr),
			Close:  close,
			Volume: int64(parseInt(item.AcmlVol)),
		})
	}
	reverseCandles(candles)
	if len(candles) > days {
		candles = candles[len(candles)-days:]
	}
	return candles, nil
}

// GetDailyCandles returns recent daily bars for a symbol, oldest first.
// The API caps a single page at roughly 30 bars.
func (c *Client) GetDailyCandles(ctx context.Context, symbol string, days int) ([]domain.Candle, error) {
	const op = "kisbroker.Client.GetDailyCandles"

	params := url.Values{}
	params.Set("FID_COND_MRKT_DIV_CODE", "J")
	params.Set("FID_INPUT_ISCD", symbol)
	params.Set("FID_PERIOD_DIV_CODE", "D")
	params.Set("FID_ORG_ADJ_PRC", "0")

	resp, err := c.request(ctx, http.MethodGet, "/uapi/domestic-stock/v1/quotations/inquire-daily-price", c.trID("daily"), params, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var items []struct {
		StckBsopDate string `json:"stck_bsop_date"`
		StckOprc     string `json:"stck_oprc"`
		StckHgpr     string `json:"stck_hgpr"`
		StckLwpr     string `json:"stck_lwpr"`
		StckClpr     string `json:"stck_clpr"`
		AcmlVol      string `json:"acml_vol"`
		PrdyCtrt     string `json:"prdy_ctrt"`
	}
	if err := json.Unmarshal(resp.Output, &items); err != nil {
		return nil, fmt.Errorf("failed to decode daily candles: %w", err)
	}

	candles := make([]domain.Candle, 0, len(items))
	for _, item := range items {
		close := parseFloat(item.StckClpr)
		if close <= 0 {
			continue
		}
		candles = append(candles, domain.Candle{
			Date:      parseDate(item.StckBsopDate),
			Open:      parseFloat(item.StckOprc),
			High:      parseFloat(item.StckHgpr),
			Low:       parseFloat(item.StckLwpr),
			Close:     close,
			Volume:    int64(parseInt(item.AcmlVol)),
			ChangePct: parseFloat(item.PrdyCtrt),
		})
	}
	reverseCandles(candles)
	if len(candles) > days {
		candles = candles[len(candles)-days:]
	}
	return candles, nil
}

// GetVolumeRanking returns the top stocks by accumulated trade value.
func (c *Client) GetVolumeRanking(ctx context.Context, limit int) ([]domain.Listing, error) {
	const op = "kisbroker.Client.GetVolumeRanking"

	params := url.Values{}
	params.Set("FID_COND_MRKT_DIV_CODE", "J")
	params.Set("FID_COND_SCR_DIV_CODE", "20171")
	params.Set("FID_INPUT_ISCD", "0000")
	params.Set("FID_DIV_CLS_CODE", "0")
	params.Set("FID_BLNG_CLS_CODE", "3") // rank by accumulated trade value
	params.Set("FID_TRGT_CLS_CODE", "111111111")
	params.Set("FID_TRGT_EXLS_CLS_CODE", "0000000000")
	params.Set("FID_INPUT_PRICE_1", "")
	params.Set("FID_INPUT_PRICE_2", "")
	params.Set("FID_VOL_CNT", "")
	params.Set("FID_INPUT_DATE_1", "")

	resp, err := c.request(ctx, http.MethodGet, "/uapi/domestic-stock/v1/quotations/volume-rank", c.trID("ranking"), params, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var items []struct {
		MkscShrnIscd string `json:"mksc_shrn_iscd"`
		HtsKorIsnm   string `json:"hts_kor_isnm"`
		StckPrpr     string `json:"stck_prpr"`
		PrdyCtrt     string `json:"prdy_ctrt"`
		AcmlVol      string `json:"acml_vol"`
		AcmlTrPbmn   string `json:"acml_tr_pbmn"`
	}
	if err := json.Unmarshal(resp.Output, &items); err != nil {
		return nil, fmt.Errorf("failed to decode ranking: %w", err)
	}

	listings := make([]domain.Listing, 0, len(items))
	for _, item := range items {
		if len(item.MkscShrnIscd) != 6 {
			continue
		}
		listings = append(listings, domain.Listing{
			Symbol:     item.MkscShrnIscd,
			Name:       item.HtsKorIsnm,
			Price:      parseFloat(item.StckPrpr),
			ChangePct:  parseFloat(item.PrdyCtrt),
			Volume:     int64(parseInt(item.AcmlVol)),
			TradeValue: parseFloat(item.AcmlTrPbmn),
		})
		if limit > 0 && len(listings) >= limit {
			break
		}
	}
	return listings, nil
}

// HealthCheck reports whether the brokerage API is reachable.
func (c *Client) HealthCheck(ctx context.Context) bool {
	if c.cfg.DryRun && c.cfg.AppKey == "" {
		return true
	}
	if _, err := c.getToken(ctx); err != nil {
		c.logger.Warn(ctx, "Broker health check failed", map[string]interface{}{"error": err.Error()})
		return false
	}
	return true
}

// --- Helpers ---

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}

func parseInt(s string) int {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return v
}

// parseDate converts a "YYYYMMDD" business date.
func parseDate(yyyymmdd string) time.Time {
	t, err := time.ParseInLocation("20060102", strings.TrimSpace(yyyymmdd), time.Local)
	if err != nil {
		return time.Time{}
	}
	return t
}

func reverseCandles(candles []domain.Candle) {
	for i, j := 0, len(candles)-1; i < j; i, j = i+1, j-1 {
		candles[i], candles[j] = candles[j], candles[i]
	}
}

// parseOrderTime converts the "HHMMSS" order time into today's timestamp.
func parseOrderTime(hhmmss string, now time.Time) time.Time {
	t, err := time.Parse("150405", strings.TrimSpace(hhmmss))
	if err != nil {
		return time.Time{}
	}
	return time.Date(now.Year(), now.Month(), now.Day(), t.Hour(), t.Minute(), t.Second(), 0, now.Location())
}
