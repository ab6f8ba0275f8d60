package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
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

func TestParseTick(t *testing.T) {
	now := time.Date(2026, 8, 28, 10, 0, 0, 0, time.Local)

	frame := "0|H0STCNT0|001|005930^093015^71500^2^100^0.14^71600^71400^1^1^1^1^12345"
	tick, ok := parseTick(frame, now)
	require.True(t, ok)
	assert.Equal(t, "005930", tick.Symbol)
	assert.Equal(t, float64(71500), tick.Price)
	assert.Equal(t, int64(12345), tick.Volume)
	assert.Equal(t, 9, tick.Timestamp.Hour())
	assert.Equal(t, 30, tick.Timestamp.Minute())
}

func TestParseTickRejectsMalformed(t *testing.T) {
	now := time.Now()

	_, ok := parseTick("garbage", now)
	assert.False(t, ok)

	// Wrong TR ID.
	_, ok = parseTick("0|H0STASP0|001|005930^093015^71500", now)
	assert.False(t, ok)

	// Too few fields.
	_, ok = parseTick("0|H0STCNT0|001|005930^093015^71500", now)
	assert.False(t, ok)

	// Unparseable price.
	_, ok = parseTick("0|H0STCNT0|001|005930^093015^abc^2^100^0.14^71600^71400^1^1^1^1^12345", now)
	assert.False(t, ok)
}

func TestNewRequiresLogger(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorContains(t, err, "logger is required")
}

// testServer runs an approval endpoint plus a websocket endpoint that pushes
// the given frames to every connection.
func testServer(t *testing.T, frames []string, received chan<- string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/Approval", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"approval_key": "approved"})
	})
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, frame := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
				return
			}
		}
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if received != nil {
				received <- string(msg)
			}
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestStartDeliversTicks(t *testing.T) {
	frames := []string{
		`{"header": {"tr_id": "PINGPONG"}}`,
		"0|H0STCNT0|001|005930^093015^71500^2^100^0.14^71600^71400^1^1^1^1^12345",
	}
	received := make(chan string, 10)
	srv := testServer(t, frames, received)

	feed, err := New(Config{
		WSURL:  "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
		APIURL: srv.URL,
		Logger: noopLogger{},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ticks := make(chan domain.PriceTick, 10)
	go func() {
		feed.Start(ctx, func(tick domain.PriceTick) { ticks <- tick })
	}()

	select {
	case tick := <-ticks:
		assert.Equal(t, "005930", tick.Symbol)
		assert.Equal(t, float64(71500), tick.Price)
	case <-time.After(3 * time.Second):
		t.Fatal("no tick delivered")
	}

	// The ping frame must be echoed back.
	select {
	case msg := <-received:
		assert.Contains(t, msg, "PINGPONG")
	case <-time.After(3 * time.Second):
		t.Fatal("ping not echoed")
	}

	require.NoError(t, feed.Close())
}

func TestSubscribeSendsRegistration(t *testing.T) {
	received := make(chan string, 10)
	srv := testServer(t, nil, received)

	feed, err := New(Config{
		WSURL:  "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
		APIURL: srv.URL,
		Logger: noopLogger{},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Registered before connect; must be replayed on connect.
	require.NoError(t, feed.Subscribe(ctx, "005930"))

	go feed.Start(ctx, func(domain.PriceTick) {})

	select {
	case msg := <-received:
		assert.Contains(t, msg, "H0STCNT0")
		assert.Contains(t, msg, "005930")
		assert.Contains(t, msg, `"tr_type":"1"`)
	case <-time.After(3 * time.Second):
		t.Fatal("subscription not sent")
	}

	// Live unsubscribe goes over the wire as a release.
	require.NoError(t, feed.Unsubscribe(ctx, "005930"))
	select {
	case msg := <-received:
		assert.Contains(t, msg, `"tr_type":"2"`)
	case <-time.After(3 * time.Second):
		t.Fatal("release not sent")
	}

	require.NoError(t, feed.Close())
}
