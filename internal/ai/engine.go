package ai

import (
	"context"
	"fmt"
	"sync"
	"time"

	"scalpbot/internal/domain"
	"scalpbot/internal/ports"
)

// Inference is the remote model call wrapped by the pipeline.
type Inference interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// EngineConfig sizes the analysis pipeline.
type EngineConfig struct {
	// Workers is the number of concurrent inference calls.
	Workers int
	// QueueSize bounds the request channel; submits beyond it are rejected.
	QueueSize int
	// Timeout is the hard per-request inference deadline.
	Timeout time.Duration
	// MaxRequestAge skips requests that waited too long in the queue.
	MaxRequestAge time.Duration
}

// DefaultEngineConfig returns the deployed pipeline sizing.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Workers:       2,
		QueueSize:     50,
		Timeout:       10 * time.Second,
		MaxRequestAge: 30 * time.Second,
	}
}

// EngineStats are cumulative pipeline counters.
type EngineStats struct {
	Submitted int64
	Completed int64
	Timeouts  int64
	Failures  int64
	Skipped   int64
}

// Engine decouples scan-time candidate evaluation from the slow inference
// call. Workers consume a bounded request channel and publish results in
// completion order; the engine's consumer drains them non-blockingly. A
// failed or timed-out analysis becomes a HOLD result, never an error.
type Engine struct {
	cfg       EngineConfig
	logger    ports.Logger
	inference Inference
	now       func() time.Time

	requests chan domain.AIRequest
	results  chan domain.AIResult

	mu      sync.Mutex
	stats   EngineStats
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewEngine creates a stopped pipeline.
func NewEngine(cfg EngineConfig, logger ports.Logger, inference Inference) (*Engine, error) {
	if logger == nil || inference == nil {
		return nil, fmt.Errorf("missing required dependencies for Engine")
	}
	if cfg.Workers <= 0 {
		return nil, fmt.Errorf("configuration Workers must be positive")
	}
	if cfg.QueueSize <= 0 {
		return nil, fmt.Errorf("configuration QueueSize must be positive")
	}
	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("configuration Timeout must be positive")
	}
	if cfg.MaxRequestAge <= 0 {
		cfg.MaxRequestAge = 30 * time.Second
	}
	return &Engine{
		cfg:       cfg,
		logger:    logger,
		inference: inference,
		now:       time.Now,
		requests:  make(chan domain.AIRequest, cfg.QueueSize),
		// Sized so workers never block publishing while the main loop
		// polls once per cycle.
		results: make(chan domain.AIResult, cfg.QueueSize*2),
	}, nil
}

// Start launches the worker pool.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return fmt.Errorf("engine already running")
	}
	workerCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.running = true
	for i := 0; i < e.cfg.Workers; i++ {
		e.wg.Add(1)
		go e.worker(workerCtx, i)
	}
	e.logger.Info(ctx, "AI engine started", map[string]interface{}{
		"workers": e.cfg.Workers, "queueSize": e.cfg.QueueSize, "timeout": e.cfg.Timeout.String(),
	})
	return nil
}

// Stop cancels the workers and waits for them to drain.
func (e *Engine) Stop(ctx context.Context) {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	cancel := e.cancel
	e.mu.Unlock()

	cancel()
	e.wg.Wait()
	e.logger.Info(ctx, "AI engine stopped", map[string]interface{}{
		"stats": fmt.Sprintf("%+v", e.Stats()),
	})
}

// Submit queues a request. Returns ports.ErrQueueFull when the pipeline is
// saturated; the caller skips the candidate for this cycle.
func (e *Engine) Submit(ctx context.Context, req domain.AIRequest) error {
	const op = "ai.Engine.Submit"
	select {
	case e.requests <- req:
		e.mu.Lock()
		e.stats.Submitted++
		e.mu.Unlock()
		return nil
	default:
		e.logger.Warn(ctx, "AI request queue full, rejecting", map[string]interface{}{
			"op": op, "symbol": req.Symbol,
		})
		return fmt.Errorf("%s: %s: %w", op, req.Symbol, ports.ErrQueueFull)
	}
}

// Drain returns all results currently available without blocking.
func (e *Engine) Drain() []domain.AIResult {
	var out []domain.AIResult
	for {
		select {
		case res := <-e.results:
			out = append(out, res)
		default:
			return out
		}
	}
}

// Pending returns the current request backlog.
func (e *Engine) Pending() int {
	return len(e.requests)
}

// Stats returns a copy of the cumulative counters.
func (e *Engine) Stats() EngineStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

func (e *Engine) worker(ctx context.Context, id int) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-e.requests:
			if age := e.now().Sub(req.SubmittedAt); age > e.cfg.MaxRequestAge {
				e.mu.Lock()
				e.stats.Skipped++
				e.mu.Unlock()
				e.logger.Warn(ctx, "Skipping stale AI request", map[string]interface{}{
					"symbol": req.Symbol, "age": age.String(),
				})
				continue
			}
			res := e.process(ctx, req)
			select {
			case e.results <- res:
			case <-ctx.Done():
				return
			}
		}
	}
}

// process runs one inference call and always yields a result: failures and
// timeouts degrade to HOLD with zero confidence.
func (e *Engine) process(ctx context.Context, req domain.AIRequest) domain.AIResult {
	const op = "ai.Engine.process"
	start := e.now()

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	res := domain.AIResult{
		Symbol:        req.Symbol,
		Name:          req.Name,
		AnalysisPrice: req.Price,
		RuleScore:     req.RuleScore,
		SubmittedAt:   req.SubmittedAt,
	}

	text, err := e.inference.Generate(callCtx, BuildPrompt(req))
	res.Elapsed = e.now().Sub(start)
	if err != nil {
		e.mu.Lock()
		if callCtx.Err() == context.DeadlineExceeded {
			e.stats.Timeouts++
		} else {
			e.stats.Failures++
		}
		e.mu.Unlock()
		e.logger.Warn(ctx, "AI analysis failed, falling back to HOLD", map[string]interface{}{
			"op": op, "symbol": req.Symbol, "error": err.Error(),
		})
		res.Decision = domain.DecisionHold
		res.Confidence = 0
		res.Reason = fmt.Sprintf("analysis failed: %v", err)
		return res
	}

	parsed := ParseResponse(text)
	res.Decision = parsed.Decision
	res.Confidence = parsed.Confidence
	res.Reason = parsed.Reason

	e.mu.Lock()
	e.stats.Completed++
	e.mu.Unlock()
	e.logger.Debug(ctx, "AI analysis complete", map[string]interface{}{
		"op": op, "symbol": req.Symbol, "decision": string(res.Decision),
		"confidence": res.Confidence, "elapsed": res.Elapsed.String(),
	})
	return res
}
