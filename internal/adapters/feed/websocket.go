package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"scalpbot/internal/domain"
	"scalpbot/internal/ports"
)

const (
	// Realtime trade-price stream.
	trPrice = "H0STCNT0"

	reconnectDelay       = 3 * time.Second
	maxReconnectAttempts = 10
	defaultWSURL         = "ws://ops.koreainvestment.com:21000"
)

// Feed implements ports.PriceFeed over the KIS realtime websocket.
// Subscriptions survive reconnects; ticks are delivered to the handler
// passed to Start from the read goroutine.
type Feed struct {
	cfg     Config
	logger  ports.Logger
	dialer  *websocket.Dialer
	httpCli *http.Client

	mu          sync.Mutex
	conn        *websocket.Conn
	subs        map[string]bool
	approvalKey string
	closed      bool
}

// Config holds configuration for the realtime feed.
type Config struct {
	// WSURL is the websocket endpoint.
	WSURL string
	// APIURL is the REST endpoint used to issue the websocket approval key.
	APIURL    string
	AppKey    string
	AppSecret string
	Logger    ports.Logger
}

// New creates a realtime feed adapter.
func New(cfg Config) (*Feed, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for realtime feed")
	}
	if cfg.WSURL == "" {
		cfg.WSURL = defaultWSURL
	}
	return &Feed{
		cfg:     cfg,
		logger:  cfg.Logger,
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		httpCli: &http.Client{Timeout: 10 * time.Second},
		subs:    make(map[string]bool),
	}, nil
}

// approvalRequest fetches the websocket approval key from the REST API.
func (f *Feed) fetchApprovalKey(ctx context.Context) (string, error) {
	body, err := json.Marshal(map[string]string{
		"grant_type": "client_credentials",
		"appkey":     f.cfg.AppKey,
		"secretkey":  f.cfg.AppSecret,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode approval request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.cfg.APIURL+"/oauth2/Approval", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build approval request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.httpCli.Do(req)
	if err != nil {
		return "", fmt.Errorf("approval request failed: %w: %w", ports.ErrConnectionFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("approval request returned status %d: %s: %w", resp.StatusCode, string(data), ports.ErrAuthFailed)
	}

	var parsed struct {
		ApprovalKey string `json:"approval_key"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to decode approval response: %w", err)
	}
	if parsed.ApprovalKey == "" {
		return "", fmt.Errorf("approval response contained no key: %w", ports.ErrAuthFailed)
	}
	return parsed.ApprovalKey, nil
}

// Subscribe registers interest in a symbol's trade-price stream.
func (f *Feed) Subscribe(ctx context.Context, symbol string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subs[symbol] {
		return nil
	}
	f.subs[symbol] = true
	if f.conn != nil {
		return f.sendSubscribeLocked(symbol, "1")
	}
	return nil
}

// Unsubscribe drops a symbol's trade-price stream.
func (f *Feed) Unsubscribe(ctx context.Context, symbol string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.subs[symbol] {
		return nil
	}
	delete(f.subs, symbol)
	if f.conn != nil {
		return f.sendSubscribeLocked(symbol, "2")
	}
	return nil
}

// sendSubscribeLocked sends a register ("1") or release ("2") request.
// Caller must hold f.mu.
func (f *Feed) sendSubscribeLocked(symbol, trType string) error {
	msg := map[string]interface{}{
		"header": map[string]string{
			"approval_key": f.approvalKey,
			"custtype":     "P",
			"tr_type":      trType,
			"content-type": "utf-8",
		},
		"body": map[string]interface{}{
			"input": map[string]string{
				"tr_id":  trPrice,
				"tr_key": symbol,
			},
		},
	}
	if err := f.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("failed to send subscription for %s: %w", symbol, err)
	}
	return nil
}

// Start connects and delivers ticks to the handler until ctx is cancelled
// or the reconnect budget is exhausted.
func (f *Feed) Start(ctx context.Context, handler ports.TickHandler) error {
	const op = "feed.Feed.Start"

	if handler == nil {
		return fmt.Errorf("tick handler is required")
	}

	key, err := f.fetchApprovalKey(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	f.mu.Lock()
	f.approvalKey = key
	f.mu.Unlock()

	connect := func() error {
		if f.isClosed() {
			return backoff.Permanent(errors.New("feed closed"))
		}
		conn, _, err := f.dialer.DialContext(ctx, f.cfg.WSURL, nil)
		if err != nil {
			f.logger.Warn(ctx, "Feed connect failed, will retry", map[string]interface{}{
				"op": op, "error": err.Error(),
			})
			return err
		}

		f.mu.Lock()
		f.conn = conn
		resubErr := f.resubscribeLocked()
		f.mu.Unlock()
		if resubErr != nil {
			conn.Close()
			return resubErr
		}

		f.logger.Info(ctx, "Realtime feed connected", map[string]interface{}{
			"op": op, "url": f.cfg.WSURL,
		})
		return f.readLoop(ctx, conn, handler)
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(reconnectDelay), maxReconnectAttempts),
		ctx,
	)
	err = backoff.Retry(connect, policy)
	if f.isClosed() || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// resubscribeLocked restores every registered symbol after a reconnect.
// Caller must hold f.mu.
func (f *Feed) resubscribeLocked() error {
	for symbol := range f.subs {
		if err := f.sendSubscribeLocked(symbol, "1"); err != nil {
			return err
		}
	}
	return nil
}

// readLoop consumes frames until the connection drops. Returning an error
// triggers a reconnect through the backoff policy.
func (f *Feed) readLoop(ctx context.Context, conn *websocket.Conn, handler ports.TickHandler) error {
	for {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			if f.isClosed() {
				return backoff.Permanent(err)
			}
			return fmt.Errorf("feed read failed: %w", err)
		}
		f.handleMessage(ctx, conn, string(message), handler)
	}
}

// handleMessage dispatches one frame. Control frames are JSON; data frames
// are pipe-delimited with caret-separated fields.
func (f *Feed) handleMessage(ctx context.Context, conn *websocket.Conn, message string, handler ports.TickHandler) {
	if strings.HasPrefix(message, "{") {
		var control struct {
			Header struct {
				TrID string `json:"tr_id"`
			} `json:"header"`
		}
		if err := json.Unmarshal([]byte(message), &control); err != nil {
			return
		}
		// The server expects ping frames echoed back verbatim.
		if control.Header.TrID == "PINGPONG" {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(message)); err != nil {
				f.logger.Debug(ctx, "Failed to answer feed ping", map[string]interface{}{"error": err.Error()})
			}
		}
		return
	}

	tick, ok := parseTick(message, time.Now())
	if !ok {
		return
	}
	handler(tick)
}

// parseTick decodes one trade-price frame:
// encrypted|trID|count|symbol^time^price^...^volume...
func parseTick(message string, now time.Time) (domain.PriceTick, bool) {
	parts := strings.Split(message, "|")
	if len(parts) < 4 || parts[1] != trPrice {
		return domain.PriceTick{}, false
	}
	fields := strings.Split(parts[3], "^")
	if len(fields) < 13 {
		return domain.PriceTick{}, false
	}

	price, err := strconv.ParseFloat(fields[2], 64)
	if err != nil || price <= 0 {
		return domain.PriceTick{}, false
	}
	volume, _ := strconv.ParseInt(fields[12], 10, 64)

	ts := now
	if t, err := time.Parse("150405", fields[1]); err == nil {
		ts = time.Date(now.Year(), now.Month(), now.Day(), t.Hour(), t.Minute(), t.Second(), 0, now.Location())
	}

	return domain.PriceTick{
		Symbol:    fields[0],
		Price:     price,
		Volume:    volume,
		Timestamp: ts,
	}, true
}

func (f *Feed) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Close tears down the connection and stops reconnecting.
func (f *Feed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	if f.conn != nil {
		return f.conn.Close()
	}
	return nil
}
