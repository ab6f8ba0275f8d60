package logger

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("INFO"))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel("warning"))
	assert.Equal(t, zerolog.ErrorLevel, ParseLevel("Error"))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("bogus"))
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(zerolog.WarnLevel, &buf)
	ctx := context.Background()

	l.Debug(ctx, "hidden debug")
	l.Info(ctx, "hidden info")
	l.Warn(ctx, "visible warn")

	out := buf.String()
	assert.NotContains(t, out, "hidden debug")
	assert.NotContains(t, out, "hidden info")
	assert.Contains(t, out, "visible warn")
}

func TestFieldsAndError(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(zerolog.DebugLevel, &buf)
	ctx := context.Background()

	l.Info(ctx, "order placed", map[string]interface{}{"symbol": "005930", "quantity": 10})
	l.Error(ctx, errors.New("connection refused"), "broker call failed")

	out := buf.String()
	assert.Contains(t, out, "order placed")
	assert.Contains(t, out, "005930")
	assert.Contains(t, out, "\"quantity\":10")
	assert.Contains(t, out, "connection refused")
	assert.Contains(t, out, "broker call failed")
}
