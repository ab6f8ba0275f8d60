package app

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"scalpbot/config"
	"scalpbot/internal/ai"
	"scalpbot/internal/domain"
	"scalpbot/internal/execution"
	"scalpbot/internal/ports"
	"scalpbot/internal/safety"
	"scalpbot/internal/statemachine"
	"scalpbot/internal/strategy"
)

// Engine orchestrates the scan -> decide -> execute -> monitor -> close loop.
// The loop runs on a single goroutine; concurrency enters only through the
// AI worker pool, the realtime feed, and the market monitor, all of which
// communicate through channels or the lock-protected price table.
type Engine struct {
	cfg       *config.Config
	logger    ports.Logger
	machine   *statemachine.Machine
	killSw    *safety.KillSwitch
	breaker   *safety.CircuitBreaker
	positions *execution.PositionManager
	cooldowns *execution.CooldownTracker
	validator *execution.PriceValidator
	mode      *strategy.AdaptiveMode
	analyzer  *ai.Engine
	broker    ports.Broker
	universe  ports.UniverseProvider
	scorer    ports.Scorer
	feed      ports.PriceFeed
	monitor   ports.MarketMonitor
	tradeRepo ports.TradeRepository
	notifier  ports.Notifier
	now       func() time.Time

	// Lock-protected latest-price table fed by the realtime feed.
	priceMu sync.Mutex
	prices  map[string]domain.PriceTick

	// State owned by the loop goroutine.
	cycleOrders map[string]bool // symbol+intent dedup within a cycle
	consecWins  int
	consecLoss  int
	liquidated  bool
	reported    bool
}

// EngineDeps bundles the engine's collaborators.
type EngineDeps struct {
	Logger    ports.Logger
	Machine   *statemachine.Machine
	KillSw    *safety.KillSwitch
	Breaker   *safety.CircuitBreaker
	Positions *execution.PositionManager
	Cooldowns *execution.CooldownTracker
	Validator *execution.PriceValidator
	Mode      *strategy.AdaptiveMode
	Analyzer  *ai.Engine
	Broker    ports.Broker
	Universe  ports.UniverseProvider
	Scorer    ports.Scorer
	Feed      ports.PriceFeed
	Monitor   ports.MarketMonitor
	TradeRepo ports.TradeRepository
	Notifier  ports.Notifier
}

// NewEngine creates the orchestrator.
func NewEngine(cfg *config.Config, deps EngineDeps) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("missing configuration for Engine")
	}
	if deps.Logger == nil || deps.Machine == nil || deps.KillSw == nil || deps.Breaker == nil ||
		deps.Positions == nil || deps.Cooldowns == nil || deps.Validator == nil || deps.Mode == nil ||
		deps.Analyzer == nil || deps.Broker == nil || deps.Universe == nil || deps.Scorer == nil ||
		deps.Feed == nil || deps.Monitor == nil || deps.TradeRepo == nil || deps.Notifier == nil {
		return nil, fmt.Errorf("missing required dependencies for Engine")
	}
	return &Engine{
		cfg:         cfg,
		logger:      deps.Logger,
		machine:     deps.Machine,
		killSw:      deps.KillSw,
		breaker:     deps.Breaker,
		positions:   deps.Positions,
		cooldowns:   deps.Cooldowns,
		validator:   deps.Validator,
		mode:        deps.Mode,
		analyzer:    deps.Analyzer,
		broker:      deps.Broker,
		universe:    deps.Universe,
		scorer:      deps.Scorer,
		feed:        deps.Feed,
		monitor:     deps.Monitor,
		tradeRepo:   deps.TradeRepo,
		notifier:    deps.Notifier,
		now:         time.Now,
		prices:      make(map[string]domain.PriceTick),
		cycleOrders: make(map[string]bool),
	}, nil
}

// Run drives the full session lifecycle and blocks until ctx is cancelled
// or the session ends.
func (e *Engine) Run(ctx context.Context) error {
	const op = "app.Engine.Run"

	if err := e.initialize(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	scanTicker := time.NewTicker(e.cfg.ScanInterval)
	defer scanTicker.Stop()
	posTicker := time.NewTicker(e.cfg.PositionInterval)
	defer posTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return e.shutdown(context.WithoutCancel(ctx), "signal received")
		case <-posTicker.C:
			e.positionCycle(ctx)
			if e.sessionOver() {
				return e.shutdown(ctx, "session end")
			}
		case <-scanTicker.C:
			e.scanCycle(ctx)
		}
	}
}

// initialize walks IDLE -> INITIALIZING -> PRE_MARKET -> TRADING, verifying
// the broker, reconciling restored positions, and starting the feed.
func (e *Engine) initialize(ctx context.Context) error {
	if err := e.machine.TransitionTo(ctx, statemachine.StateInitializing, "startup"); err != nil {
		return err
	}
	if !e.broker.HealthCheck(ctx) {
		return fmt.Errorf("broker health check failed: %w", ports.ErrBrokerUnavailable)
	}
	if err := e.analyzer.Start(ctx); err != nil {
		return err
	}

	if err := e.machine.TransitionTo(ctx, statemachine.StatePreMarket, "broker verified"); err != nil {
		return err
	}

	// Reconcile restored positions against the account before trading.
	brokerPositions, err := e.broker.GetPositions(ctx)
	if err != nil {
		e.logger.Warn(ctx, "Could not reconcile positions with broker", map[string]interface{}{"error": err.Error()})
	} else {
		e.positions.SyncWithBroker(ctx, brokerPositions)
	}

	go func() {
		if err := e.feed.Start(ctx, e.onTick); err != nil && !errors.Is(err, context.Canceled) {
			e.logger.Error(ctx, err, "Realtime feed stopped")
		}
	}()
	for _, pos := range e.positions.All() {
		if err := e.feed.Subscribe(ctx, pos.Symbol); err != nil {
			e.logger.Warn(ctx, "Failed to subscribe restored position", map[string]interface{}{
				"symbol": pos.Symbol, "error": err.Error(),
			})
		}
	}

	return e.machine.TransitionTo(ctx, statemachine.StateTrading, "session open")
}

// onTick is called by the feed goroutine. It only touches the price table.
func (e *Engine) onTick(tick domain.PriceTick) {
	e.priceMu.Lock()
	e.prices[tick.Symbol] = tick
	e.priceMu.Unlock()
}

// latestPrice returns the freshest known price for a symbol, falling back
// to a broker quote when the feed has none.
func (e *Engine) latestPrice(ctx context.Context, symbol string) (float64, bool) {
	e.priceMu.Lock()
	tick, ok := e.prices[symbol]
	e.priceMu.Unlock()
	if ok && tick.Price > 0 {
		return tick.Price, true
	}
	price, err := e.broker.GetCurrentPrice(ctx, symbol)
	if err != nil || price <= 0 {
		return 0, false
	}
	return price, true
}

// positionCycle is the fast loop: drain AI results, evaluate positions,
// check safety, and handle end-of-day liquidation.
func (e *Engine) positionCycle(ctx context.Context) {
	e.drainAnalysis(ctx)

	state := e.machine.Current()
	if state == statemachine.StateTrading || state == statemachine.StateClosing {
		e.checkPositions(ctx)
	}

	e.evaluateSafety(ctx)

	if state == statemachine.StateTrading && e.pastTimeOfDay(e.cfg.LiquidationTime) {
		e.endOfDay(ctx)
	}
}

// scanCycle is the slow loop: refresh the universe, score candidates, and
// submit analysis requests for those passing the gates.
func (e *Engine) scanCycle(ctx context.Context) {
	const op = "app.Engine.scanCycle"

	// New cycle: previous in-flight intents are settled.
	e.cycleOrders = make(map[string]bool)

	if e.machine.Current() != statemachine.StateTrading || e.killSw.Tripped() {
		return
	}

	e.evaluateMode(ctx)

	candidates, err := e.universe.Candidates(ctx)
	if err != nil {
		e.logger.Warn(ctx, "Universe refresh failed", map[string]interface{}{"op": op, "error": err.Error()})
		return
	}

	minScore := e.mode.MinScore()
	for _, c := range candidates {
		if e.positions.Count() >= e.cfg.MaxPositions {
			break
		}
		if e.positions.Has(c.Symbol) {
			continue
		}
		if !e.cooldowns.CanBuy(c.Symbol) {
			e.logger.Debug(ctx, "Candidate cooling down", map[string]interface{}{
				"op": op, "symbol": c.Symbol, "remaining": e.cooldowns.Remaining(c.Symbol).String(),
			})
			continue
		}
		score := e.scorer.Score(c)
		if score.Total < minScore {
			continue
		}

		market := e.marketState(ctx)
		req := domain.AIRequest{
			Symbol:      c.Symbol,
			Name:        c.Name,
			Price:       c.Price,
			RuleScore:   score.Total,
			Indicators:  c.Indicators,
			Market:      market,
			SubmittedAt: e.now(),
		}
		if err := e.analyzer.Submit(ctx, req); err != nil {
			e.logger.Warn(ctx, "Analysis submit rejected", map[string]interface{}{
				"op": op, "symbol": c.Symbol, "error": err.Error(),
			})
			continue
		}
		e.logger.Info(ctx, "Candidate submitted for analysis", map[string]interface{}{
			"op": op, "symbol": c.Symbol, "score": score.Total,
		})
	}
}

// drainAnalysis consumes completed AI results without blocking and executes
// accepted buys.
func (e *Engine) drainAnalysis(ctx context.Context) {
	for _, res := range e.analyzer.Drain() {
		e.handleAnalysis(ctx, res)
	}
}

func (e *Engine) handleAnalysis(ctx context.Context, res domain.AIResult) {
	const op = "app.Engine.handleAnalysis"

	if e.machine.Current() != statemachine.StateTrading || e.killSw.Tripped() {
		return
	}
	if res.Decision != domain.DecisionBuy || res.Confidence < e.cfg.AIMinConfidence {
		e.logger.Debug(ctx, "Analysis did not clear entry bar", map[string]interface{}{
			"op": op, "symbol": res.Symbol, "decision": string(res.Decision), "confidence": res.Confidence,
		})
		return
	}
	// Results for symbols no longer of interest are discarded.
	if e.positions.Has(res.Symbol) || !e.cooldowns.CanBuy(res.Symbol) {
		return
	}
	if e.positions.Count() >= e.cfg.MaxPositions {
		return
	}
	if e.cycleOrders["BUY:"+res.Symbol] {
		return
	}

	quote, err := e.broker.GetQuote(ctx, res.Symbol)
	if err != nil {
		e.logger.Warn(ctx, "Quote fetch failed, skipping buy", map[string]interface{}{
			"op": op, "symbol": res.Symbol, "error": err.Error(),
		})
		return
	}
	if v := e.validator.Validate(res.AnalysisPrice, res.SubmittedAt, quote); !v.OK {
		e.logger.Info(ctx, "Buy rejected by price validation", map[string]interface{}{
			"op": op, "symbol": res.Symbol, "reason": string(v.Reason), "detail": v.Message,
		})
		return
	}

	qty := int(math.Floor(e.cfg.OrderBudget / quote.Ask))
	if qty <= 0 {
		e.logger.Warn(ctx, "Order budget below one share", map[string]interface{}{
			"op": op, "symbol": res.Symbol, "ask": quote.Ask,
		})
		return
	}

	e.cycleOrders["BUY:"+res.Symbol] = true
	var order *ports.OrderResult
	err = e.breaker.Execute(ctx, func(ctx context.Context) error {
		var callErr error
		order, callErr = e.broker.BuyMarket(ctx, res.Symbol, qty)
		return callErr
	})
	if err != nil || !order.Success {
		// A breaker rejection means no broker call was made, so it does
		// not count toward the failure streak.
		if !errors.Is(err, ports.ErrCircuitOpen) {
			e.killSw.RecordBrokerFailure()
		}
		if err == nil {
			err = fmt.Errorf("%s: %w", order.ErrorDetail, ports.ErrOrderRejected)
		}
		e.logger.Error(ctx, err, "Buy order failed", map[string]interface{}{
			"op": op, "symbol": res.Symbol, "quantity": qty,
		})
		return
	}
	e.killSw.RecordBrokerSuccess(ctx)

	fillPrice := order.Price
	if fillPrice <= 0 {
		fillPrice = quote.Ask
	}
	pos, err := e.positions.Add(ctx, execution.AddParams{
		Symbol:       res.Symbol,
		Name:         res.Name,
		EntryPrice:   fillPrice,
		Quantity:     qty,
		Score:        res.RuleScore,
		AIConfidence: res.Confidence,
	})
	if err != nil {
		e.logger.Error(ctx, err, "Failed to record filled position", map[string]interface{}{
			"op": op, "symbol": res.Symbol,
		})
		return
	}
	if err := e.feed.Subscribe(ctx, res.Symbol); err != nil {
		e.logger.Warn(ctx, "Feed subscribe failed", map[string]interface{}{
			"op": op, "symbol": res.Symbol, "error": err.Error(),
		})
	}
	e.notifier.NotifyBuy(ctx, pos)
	e.logger.Info(ctx, "Position entered", map[string]interface{}{
		"op": op, "symbol": res.Symbol, "price": fillPrice, "quantity": qty,
		"grade": string(pos.Grade), "confidence": res.Confidence,
	})
}

// checkPositions runs the risk evaluation for every open position against
// the freshest price.
func (e *Engine) checkPositions(ctx context.Context) {
	for _, pos := range e.positions.All() {
		price, ok := e.latestPrice(ctx, pos.Symbol)
		if !ok {
			continue
		}
		sig := e.positions.UpdatePrice(ctx, pos.Symbol, price)
		if sig.Sell {
			e.executeSell(ctx, pos.Symbol, sig.Reason, sig.Price)
		}
	}
}

// executeSell closes a position at market and propagates the outcome to
// the cooldown tracker, mode controller, and kill switch.
func (e *Engine) executeSell(ctx context.Context, symbol string, reason domain.SellReason, price float64) {
	const op = "app.Engine.executeSell"

	if e.cycleOrders["SELL:"+symbol] {
		return
	}
	pos := e.positions.Get(symbol)
	if pos == nil {
		return
	}

	e.cycleOrders["SELL:"+symbol] = true
	var order *ports.OrderResult
	err := e.breaker.Execute(ctx, func(ctx context.Context) error {
		var callErr error
		order, callErr = e.broker.SellMarket(ctx, symbol, pos.Quantity)
		return callErr
	})
	if err != nil || !order.Success {
		// Release the intent so the next position tick retries while the
		// stop condition persists.
		delete(e.cycleOrders, "SELL:"+symbol)
		if !errors.Is(err, ports.ErrCircuitOpen) {
			e.killSw.RecordBrokerFailure()
		}
		if err == nil {
			err = fmt.Errorf("%s: %w", order.ErrorDetail, ports.ErrOrderRejected)
		}
		e.logger.Error(ctx, err, "Sell order failed", map[string]interface{}{
			"op": op, "symbol": symbol, "reason": string(reason),
		})
		return
	}
	e.killSw.RecordBrokerSuccess(ctx)

	exitPrice := order.Price
	if exitPrice <= 0 {
		exitPrice = price
	}
	e.settleExit(ctx, symbol, exitPrice, reason)
}

// settleExit removes the position, records the trade, and updates every
// outcome consumer.
func (e *Engine) settleExit(ctx context.Context, symbol string, exitPrice float64, reason domain.SellReason) {
	const op = "app.Engine.settleExit"

	pos := e.positions.Remove(ctx, symbol)
	if pos == nil {
		return
	}
	profitPct := (exitPrice - pos.EntryPrice) / pos.EntryPrice * 100
	trade := &domain.Trade{
		Symbol:     symbol,
		Name:       pos.Name,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  exitPrice,
		Quantity:   pos.Quantity,
		PNL:        (exitPrice - pos.EntryPrice) * float64(pos.Quantity),
		ProfitPct:  profitPct,
		EntryTime:  pos.EntryTime,
		ExitTime:   e.now(),
		Reason:     reason,
	}
	if _, err := e.tradeRepo.CreateTrade(ctx, trade); err != nil {
		e.logger.Error(ctx, err, "Failed to persist trade", map[string]interface{}{
			"op": op, "symbol": symbol,
		})
	}

	win := trade.IsWin()
	if win {
		e.consecWins++
		e.consecLoss = 0
	} else {
		e.consecLoss++
		e.consecWins = 0
	}
	e.cooldowns.RecordExit(ctx, symbol, win, e.mode.Cooldown())
	e.mode.RecordTradeResult(win)
	e.killSw.RecordTradeResult(profitPct, win)

	if err := e.feed.Unsubscribe(ctx, symbol); err != nil {
		e.logger.Debug(ctx, "Feed unsubscribe failed", map[string]interface{}{
			"op": op, "symbol": symbol, "error": err.Error(),
		})
	}
	e.notifier.NotifySell(ctx, trade)
	e.logger.Info(ctx, "Position exited", map[string]interface{}{
		"op": op, "symbol": symbol, "reason": string(reason),
		"profitPct": profitPct, "pnl": trade.PNL,
	})
}

// evaluateSafety feeds the kill switch and reconciles local state after a
// trip's forced liquidation.
func (e *Engine) evaluateSafety(ctx context.Context) {
	if market := e.marketState(ctx); !market.UpdatedAt.IsZero() {
		e.killSw.UpdateIndex(market.IndexChangePct)
	}

	wasTripped := e.killSw.Tripped()
	if !e.killSw.Evaluate(ctx) || wasTripped {
		return
	}

	// The kill switch just tripped and liquidated through the broker.
	// Settle the local table so cooldowns and history reflect the exits.
	for _, pos := range e.positions.All() {
		exitPrice := pos.CurrentPrice
		if exitPrice <= 0 {
			exitPrice = pos.EntryPrice
		}
		e.settleExit(ctx, pos.Symbol, exitPrice, domain.SellReasonEmergency)
	}
}

// evaluateMode updates the adaptive mode from current performance.
func (e *Engine) evaluateMode(ctx context.Context) {
	status := e.killSw.Status()
	market := e.marketState(ctx)
	e.mode.Evaluate(ctx, strategy.ModeInput{
		ConsecutiveLosses: e.consecLoss,
		ConsecutiveWins:   e.consecWins,
		DailyProfitPct:    status.DailyPNLPct,
		IndexChangePct:    market.IndexChangePct,
	})
}

// endOfDay force-sells everything and moves to POST_MARKET.
func (e *Engine) endOfDay(ctx context.Context) {
	const op = "app.Engine.endOfDay"
	if e.liquidated {
		return
	}
	e.liquidated = true

	if err := e.machine.TransitionTo(ctx, statemachine.StateClosing, "end of day liquidation"); err != nil {
		e.logger.Error(ctx, err, "Failed to enter CLOSING", map[string]interface{}{"op": op})
	}
	for _, pos := range e.positions.All() {
		price, ok := e.latestPrice(ctx, pos.Symbol)
		if !ok {
			price = pos.CurrentPrice
		}
		e.executeSell(ctx, pos.Symbol, domain.SellReasonTimeLimit, price)
	}
	if err := e.machine.TransitionTo(ctx, statemachine.StatePostMarket, "liquidation complete"); err != nil {
		e.logger.Error(ctx, err, "Failed to enter POST_MARKET", map[string]interface{}{"op": op})
	}
	e.sendDailyReport(ctx)
}

func (e *Engine) sendDailyReport(ctx context.Context) {
	if e.reported {
		return
	}
	e.reported = true
	summary, err := e.tradeRepo.TodaySummary(ctx)
	if err != nil {
		e.logger.Error(ctx, err, "Failed to build daily summary")
		return
	}
	e.notifier.NotifyDailyReport(ctx, summary)
}

// sessionOver reports whether the session end time has passed while in
// POST_MARKET.
func (e *Engine) sessionOver() bool {
	return e.machine.Current() == statemachine.StatePostMarket && e.pastTimeOfDay(e.cfg.SessionEndTime)
}

// shutdown stops accepting cycles, flushes, and parks in STOPPED.
func (e *Engine) shutdown(ctx context.Context, reason string) error {
	const op = "app.Engine.shutdown"
	e.logger.Info(ctx, "Shutting down", map[string]interface{}{"op": op, "reason": reason})

	e.analyzer.Stop(ctx)
	if err := e.feed.Close(); err != nil {
		e.logger.Debug(ctx, "Feed close failed", map[string]interface{}{"op": op, "error": err.Error()})
	}
	e.sendDailyReport(ctx)

	if err := e.machine.TransitionTo(ctx, statemachine.StateStopped, reason); err != nil {
		return err
	}
	return nil
}

func (e *Engine) marketState(ctx context.Context) domain.MarketState {
	state, err := e.monitor.State(ctx)
	if err != nil || state == nil {
		return domain.MarketState{}
	}
	return *state
}

// pastTimeOfDay reports whether the current local time is at or past the
// "HH:MM" boundary.
func (e *Engine) pastTimeOfDay(hhmm string) bool {
	boundary, err := time.Parse("15:04", hhmm)
	if err != nil {
		return false
	}
	now := e.now()
	mark := time.Date(now.Year(), now.Month(), now.Day(), boundary.Hour(), boundary.Minute(), 0, 0, now.Location())
	return !now.Before(mark)
}
