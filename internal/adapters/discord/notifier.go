package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"scalpbot/internal/domain"
	"scalpbot/internal/ports"
)

// Embed colors.
const (
	colorInfo     = 0x3498DB
	colorSuccess  = 0x2ECC71
	colorWarning  = 0xF39C12
	colorError    = 0xE74C3C
	colorCritical = 0x992D22
)

// Notifier posts trade events to a Discord webhook. All sends are
// best-effort: failures are logged and swallowed so notification problems
// never block trading.
type Notifier struct {
	webhookURL string
	logger     ports.Logger
	httpClient *http.Client
}

// Config holds configuration for the Discord notifier.
type Config struct {
	WebhookURL string
	Timeout    time.Duration
	Logger     ports.Logger
}

// New creates a Discord webhook notifier. An empty webhook URL yields a
// notifier that silently drops everything, which keeps wiring simple when
// notifications are not configured.
func New(cfg Config) (*Notifier, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Discord notifier")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Notifier{
		webhookURL: cfg.WebhookURL,
		logger:     cfg.Logger,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

type embedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

type embed struct {
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	Color       int          `json:"color"`
	Fields      []embedField `json:"fields,omitempty"`
	Timestamp   string       `json:"timestamp"`
}

type webhookPayload struct {
	Embeds []embed `json:"embeds"`
}

func (n *Notifier) send(ctx context.Context, e embed) {
	const op = "discord.Notifier.send"

	if n.webhookURL == "" {
		return
	}
	e.Timestamp = time.Now().UTC().Format(time.RFC3339)

	body, err := json.Marshal(webhookPayload{Embeds: []embed{e}})
	if err != nil {
		n.logger.Warn(ctx, "Failed to encode Discord payload", map[string]interface{}{"op": op, "error": err.Error()})
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		n.logger.Warn(ctx, "Failed to build Discord request", map[string]interface{}{"op": op, "error": err.Error()})
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		n.logger.Warn(ctx, "Discord webhook call failed", map[string]interface{}{"op": op, "error": err.Error()})
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		n.logger.Warn(ctx, "Discord webhook rejected payload", map[string]interface{}{
			"op": op, "status": resp.StatusCode, "title": e.Title,
		})
	}
}

// NotifyBuy announces a filled entry.
func (n *Notifier) NotifyBuy(ctx context.Context, pos *domain.Position) {
	n.send(ctx, embed{
		Title: fmt.Sprintf("Buy | %s (%s)", pos.Name, pos.Symbol),
		Color: colorSuccess,
		Fields: []embedField{
			{Name: "Price", Value: fmt.Sprintf("%.0f", pos.EntryPrice), Inline: true},
			{Name: "Quantity", Value: fmt.Sprintf("%d", pos.Quantity), Inline: true},
			{Name: "Grade", Value: string(pos.Grade), Inline: true},
			{Name: "Score", Value: fmt.Sprintf("%.1f", pos.Score), Inline: true},
			{Name: "AI Confidence", Value: fmt.Sprintf("%.2f", pos.AIConfidence), Inline: true},
		},
	})
}

// NotifySell announces a closed trade with its realized outcome.
func (n *Notifier) NotifySell(ctx context.Context, trade *domain.Trade) {
	color := colorError
	if trade.IsWin() {
		color = colorSuccess
	}
	n.send(ctx, embed{
		Title: fmt.Sprintf("Sell | %s (%s)", trade.Name, trade.Symbol),
		Color: color,
		Fields: []embedField{
			{Name: "Entry", Value: fmt.Sprintf("%.0f", trade.EntryPrice), Inline: true},
			{Name: "Exit", Value: fmt.Sprintf("%.0f", trade.ExitPrice), Inline: true},
			{Name: "Quantity", Value: fmt.Sprintf("%d", trade.Quantity), Inline: true},
			{Name: "P&L", Value: fmt.Sprintf("%+.0f (%+.2f%%)", trade.PNL, trade.ProfitPct), Inline: true},
			{Name: "Reason", Value: string(trade.Reason), Inline: true},
		},
	})
}

// NotifyEmergency raises a critical alert.
func (n *Notifier) NotifyEmergency(ctx context.Context, detail string) {
	n.send(ctx, embed{
		Title:       "Emergency Stop",
		Description: detail,
		Color:       colorCritical,
	})
}

// NotifyModeChange announces a strategy mode switch.
func (n *Notifier) NotifyModeChange(ctx context.Context, from, to domain.TradingMode, reason string) {
	color := colorInfo
	if to == domain.ModeDefensive {
		color = colorWarning
	}
	n.send(ctx, embed{
		Title:       "Trading Mode Changed",
		Description: fmt.Sprintf("%s -> %s", from, to),
		Color:       color,
		Fields: []embedField{
			{Name: "Reason", Value: reason},
		},
	})
}

// NotifyDailyReport posts the end-of-day trading summary.
func (n *Notifier) NotifyDailyReport(ctx context.Context, summary *domain.DailySummary) {
	color := colorSuccess
	if summary.TotalPNL < 0 {
		color = colorError
	}
	fields := []embedField{
		{Name: "Trades", Value: fmt.Sprintf("%d", summary.TotalTrades), Inline: true},
		{Name: "Win Rate", Value: fmt.Sprintf("%.1f%% (%dW/%dL)", summary.WinRate(), summary.Wins, summary.Losses), Inline: true},
		{Name: "P&L", Value: fmt.Sprintf("%+.0f (%+.2f%%)", summary.TotalPNL, summary.TotalPct), Inline: true},
	}
	if summary.BestSymbol != "" {
		fields = append(fields,
			embedField{Name: "Best", Value: fmt.Sprintf("%s %+.2f%%", summary.BestSymbol, summary.BestPct), Inline: true},
			embedField{Name: "Worst", Value: fmt.Sprintf("%s %+.2f%%", summary.WorstSymbol, summary.WorstPct), Inline: true},
		)
	}
	n.send(ctx, embed{
		Title:  fmt.Sprintf("Daily Report | %s", summary.Date),
		Color:  color,
		Fields: fields,
	})
}
