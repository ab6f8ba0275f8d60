package kisbroker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scalpbot/internal/domain"
)

type noopLogger struct{}

func (noopLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (noopLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (noopLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (noopLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func tokenHandler(tokenCalls *int32) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(tokenCalls, 1)
		writeJSON(w, map[string]interface{}{"access_token": "test-token", "expires_in": 86400})
	}
}

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := New(Config{
		AppKey:    "key",
		AppSecret: "secret",
		AccountNo: "12345678-01",
		BaseURL:   srv.URL,
		Logger:    noopLogger{},
	})
	require.NoError(t, err)
	return client, srv
}

func TestNewValidation(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorContains(t, err, "logger is required")

	_, err = New(Config{Logger: noopLogger{}})
	assert.ErrorContains(t, err, "required for live trading")

	// Dry-run does not require credentials.
	c, err := New(Config{Logger: noopLogger{}, DryRun: true})
	require.NoError(t, err)
	assert.True(t, c.HealthCheck(context.Background()))
}

func TestTokenReuse(t *testing.T) {
	var tokenCalls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/tokenP", tokenHandler(&tokenCalls))
	mux.HandleFunc("/uapi/domestic-stock/v1/quotations/inquire-price", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("authorization"))
		writeJSON(w, map[string]interface{}{"rt_cd": "0", "output": map[string]string{"stck_prpr": "71000"}})
	})

	client, _ := newTestClient(t, mux)
	ctx := context.Background()

	price, err := client.GetCurrentPrice(ctx, "005930")
	require.NoError(t, err)
	assert.Equal(t, float64(71000), price)

	_, err = client.GetCurrentPrice(ctx, "005930")
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&tokenCalls))
}

func TestTokenRefreshOnUnauthorized(t *testing.T) {
	var tokenCalls, priceCalls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/tokenP", tokenHandler(&tokenCalls))
	mux.HandleFunc("/uapi/domestic-stock/v1/quotations/inquire-price", func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&priceCalls, 1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(w, map[string]interface{}{"rt_cd": "0", "output": map[string]string{"stck_prpr": "71000"}})
	})

	client, _ := newTestClient(t, mux)

	price, err := client.GetCurrentPrice(context.Background(), "005930")
	require.NoError(t, err)
	assert.Equal(t, float64(71000), price)
	assert.Equal(t, int32(2), atomic.LoadInt32(&tokenCalls))
}

func TestRetryOnRateLimit(t *testing.T) {
	var tokenCalls, calls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/tokenP", tokenHandler(&tokenCalls))
	mux.HandleFunc("/uapi/domestic-stock/v1/quotations/inquire-price", func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		writeJSON(w, map[string]interface{}{"rt_cd": "0", "output": map[string]string{"stck_prpr": "12345"}})
	})

	client, _ := newTestClient(t, mux)

	price, err := client.GetCurrentPrice(context.Background(), "005930")
	require.NoError(t, err)
	assert.Equal(t, float64(12345), price)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestBuyMarket(t *testing.T) {
	var tokenCalls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/tokenP", tokenHandler(&tokenCalls))
	mux.HandleFunc("/uapi/domestic-stock/v1/trading/order-cash", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "TTTC0802U", r.Header.Get("tr_id"))
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "12345678", body["CANO"])
		assert.Equal(t, "01", body["ACNT_PRDT_CD"])
		assert.Equal(t, "005930", body["PDNO"])
		assert.Equal(t, "01", body["ORD_DVSN"])
		assert.Equal(t, "10", body["ORD_QTY"])
		writeJSON(w, map[string]interface{}{"rt_cd": "0", "output": map[string]string{"ODNO": "0001234567"}})
	})

	client, _ := newTestClient(t, mux)

	result, err := client.BuyMarket(context.Background(), "005930", 10)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "0001234567", result.OrderID)
	assert.Equal(t, domain.Buy, result.Side)
	assert.Equal(t, 10, result.Quantity)
}

func TestOrderRejected(t *testing.T) {
	var tokenCalls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/tokenP", tokenHandler(&tokenCalls))
	mux.HandleFunc("/uapi/domestic-stock/v1/trading/order-cash", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{"rt_cd": "1", "msg1": "insufficient deposit"})
	})

	client, _ := newTestClient(t, mux)

	result, err := client.SellMarket(context.Background(), "005930", 10)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "insufficient deposit", result.ErrorDetail)
}

func TestOrderQuantityValidation(t *testing.T) {
	client, _ := newTestClient(t, http.NewServeMux())
	_, err := client.BuyMarket(context.Background(), "005930", 0)
	assert.Error(t, err)
}

func TestGetQuote(t *testing.T) {
	var tokenCalls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/tokenP", tokenHandler(&tokenCalls))
	mux.HandleFunc("/uapi/domestic-stock/v1/quotations/inquire-asking-price-exp-ccn", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{
			"rt_cd":   "0",
			"output1": map[string]string{"askp1": "71100", "bidp1": "71000"},
		})
	})

	client, _ := newTestClient(t, mux)

	quote, err := client.GetQuote(context.Background(), "005930")
	require.NoError(t, err)
	assert.Equal(t, float64(71100), quote.Ask)
	assert.Equal(t, float64(71000), quote.Bid)
	assert.InDelta(t, 0.14, quote.SpreadPct(), 0.01)
	assert.WithinDuration(t, time.Now(), quote.Timestamp, time.Minute)
}

func TestGetIndexChange(t *testing.T) {
	var tokenCalls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/tokenP", tokenHandler(&tokenCalls))
	mux.HandleFunc("/uapi/domestic-stock/v1/quotations/inquire-index-price", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "0001", r.URL.Query().Get("FID_INPUT_ISCD"))
		writeJSON(w, map[string]interface{}{
			"rt_cd":  "0",
			"output": map[string]string{"bstp_nmix_prdy_ctrt": "-2.13"},
		})
	})

	client, _ := newTestClient(t, mux)

	change, err := client.GetIndexChange(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, -2.13, change, 1e-9)
}

func TestGetPositions(t *testing.T) {
	var tokenCalls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/tokenP", tokenHandler(&tokenCalls))
	mux.HandleFunc("/uapi/domestic-stock/v1/trading/inquire-balance", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{
			"rt_cd": "0",
			"output1": []map[string]string{
				{"pdno": "005930", "prdt_name": "Samsung Electronics", "hldg_qty": "10", "pchs_avg_pric": "71000.00", "prpr": "71500"},
				{"pdno": "000660", "prdt_name": "SK hynix", "hldg_qty": "0", "pchs_avg_pric": "0", "prpr": "0"},
			},
		})
	})

	client, _ := newTestClient(t, mux)

	positions, err := client.GetPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 1) // zero-quantity rows are dropped
	assert.Equal(t, "005930", positions[0].Symbol)
	assert.Equal(t, 10, positions[0].Quantity)
	assert.InDelta(t, 71000, positions[0].AvgPrice, 1e-9)
}

func TestDryRunOrders(t *testing.T) {
	var tokenCalls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/tokenP", tokenHandler(&tokenCalls))
	mux.HandleFunc("/uapi/domestic-stock/v1/quotations/inquire-price", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{"rt_cd": "0", "output": map[string]string{"stck_prpr": "71037"}})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client, err := New(Config{
		AppKey: "key", AppSecret: "secret", AccountNo: "12345678-01",
		BaseURL: srv.URL, DryRun: true, Logger: noopLogger{},
	})
	require.NoError(t, err)
	ctx := context.Background()

	first, err := client.BuyMarket(ctx, "005930", 10)
	require.NoError(t, err)
	assert.True(t, first.Success)
	assert.NotEmpty(t, first.OrderID)
	// Fill price is snapped to the tick grid.
	assert.Equal(t, float64(71000), first.Price)
	assert.Equal(t, 10, first.FilledQty)

	second, err := client.BuyMarket(ctx, "005930", 10)
	require.NoError(t, err)
	assert.NotEqual(t, first.OrderID, second.OrderID)

	positions, err := client.GetPositions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, 20, positions[0].Quantity)

	_, err = client.SellMarket(ctx, "005930", 20)
	require.NoError(t, err)
	positions, err = client.GetPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, positions)

	pending, err := client.GetPendingOrders(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	cancelled, err := client.CancelAllPendingOrders(ctx)
	require.NoError(t, err)
	assert.Zero(t, cancelled)
}

func TestGetDailyCandles(t *testing.T) {
	var tokenCalls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/tokenP", tokenHandler(&tokenCalls))
	mux.HandleFunc("/uapi/domestic-stock/v1/quotations/inquire-daily-price", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "FHKST01010400", r.Header.Get("tr_id"))
		assert.Equal(t, "D", r.URL.Query().Get("FID_PERIOD_DIV_CODE"))
		// The API answers newest first
		writeJSON(w, map[string]interface{}{
			"rt_cd": "0",
			"output": []map[string]string{
				{"stck_bsop_date": "20260828", "stck_oprc": "70500", "stck_hgpr": "71200", "stck_lwpr": "70300", "stck_clpr": "71000", "acml_vol": "12000000", "prdy_ctrt": "1.21"},
				{"stck_bsop_date": "20260827", "stck_oprc": "70000", "stck_hgpr": "70600", "stck_lwpr": "69800", "stck_clpr": "70150", "acml_vol": "9500000", "prdy_ctrt": "0.35"},
			},
		})
	})

	client, _ := newTestClient(t, mux)

	candles, err := client.GetDailyCandles(context.Background(), "005930", 30)
	require.NoError(t, err)
	require.Len(t, candles, 2)

	// Oldest first after the reversal
	assert.Equal(t, 70150.0, candles[0].Close)
	assert.Equal(t, 71000.0, candles[1].Close)
	assert.Equal(t, int64(12000000), candles[1].Volume)
	assert.InDelta(t, 1.21, candles[1].ChangePct, 1e-9)
	assert.Equal(t, 28, candles[1].Date.Day())
	assert.True(t, candles[1].Bullish())
}

func TestGetIndexSnapshot(t *testing.T) {
	var tokenCalls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/tokenP", tokenHandler(&tokenCalls))
	mux.HandleFunc("/uapi/domestic-stock/v1/quotations/inquire-index-price", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{
			"rt_cd":  "0",
			"output": map[string]string{"bstp_nmix_prpr": "2612.43", "bstp_nmix_prdy_ctrt": "0.42"},
		})
	})

	client, _ := newTestClient(t, mux)

	price, change, err := client.GetIndexSnapshot(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 2612.43, price, 1e-9)
	assert.InDelta(t, 0.42, change, 1e-9)
}

func TestGetIndexCandles(t *testing.T) {
	var tokenCalls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/tokenP", tokenHandler(&tokenCalls))
	mux.HandleFunc("/uapi/domestic-stock/v1/quotations/inquire-daily-indexchartprice", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "U", r.URL.Query().Get("FID_COND_MRKT_DIV_CODE"))
		assert.NotEmpty(t, r.URL.Query().Get("FID_INPUT_DATE_1"))
		writeJSON(w, map[string]interface{}{
			"rt_cd": "0",
			"output2": []map[string]string{
				{"stck_bsop_date": "20260828", "bstp_nmix_prpr": "2612.43", "acml_vol": "450000"},
				{"stck_bsop_date": "20260827", "bstp_nmix_prpr": "2601.10", "acml_vol": "430000"},
			},
		})
	})

	client, _ := newTestClient(t, mux)

	candles, err := client.GetIndexCandles(context.Background(), 30)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.InDelta(t, 2601.10, candles[0].Close, 1e-9)
	assert.InDelta(t, 2612.43, candles[1].Close, 1e-9)
}

func TestGetVolumeRanking(t *testing.T) {
	var tokenCalls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/tokenP", tokenHandler(&tokenCalls))
	mux.HandleFunc("/uapi/domestic-stock/v1/quotations/volume-rank", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "FHPST01710000", r.Header.Get("tr_id"))
		assert.Equal(t, "3", r.URL.Query().Get("FID_BLNG_CLS_CODE"))
		writeJSON(w, map[string]interface{}{
			"rt_cd": "0",
			"output": []map[string]string{
				{"mksc_shrn_iscd": "005930", "hts_kor_isnm": "삼성전자", "stck_prpr": "71000", "prdy_ctrt": "1.21", "acml_vol": "12000000", "acml_tr_pbmn": "850000000000"},
				{"mksc_shrn_iscd": "000660", "hts_kor_isnm": "SK하이닉스", "stck_prpr": "182000", "prdy_ctrt": "3.40", "acml_vol": "3000000", "acml_tr_pbmn": "540000000000"},
				{"mksc_shrn_iscd": "BAD", "hts_kor_isnm": "이상한코드", "stck_prpr": "100", "prdy_ctrt": "0", "acml_vol": "1", "acml_tr_pbmn": "1"},
			},
		})
	})

	client, _ := newTestClient(t, mux)

	listings, err := client.GetVolumeRanking(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, listings, 2)
	assert.Equal(t, "005930", listings[0].Symbol)
	assert.Equal(t, "삼성전자", listings[0].Name)
	assert.Equal(t, int64(12000000), listings[0].Volume)
	assert.InDelta(t, 8.5e11, listings[0].TradeValue, 1)
	assert.Equal(t, "000660", listings[1].Symbol)
}
