package healthcheck

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// PublishFunc receives every periodic aggregated result.
type PublishFunc func(ctx context.Context, result *AggregatedResult) error

// EngineConfig configures an Engine.
type EngineConfig struct {
	// Interval between periodic runs (default 15s)
	Interval time.Duration
	// CheckTimeout bounds each individual check (default 5s)
	CheckTimeout time.Duration
}

// Engine runs registered checkers concurrently.
type Engine struct {
	config *EngineConfig
	logger *zap.Logger
	now    func() time.Time

	mu         sync.RWMutex
	checkers   map[string]Checker
	publishers []PublishFunc
	last       *AggregatedResult
	running    bool
}

// NewEngine creates a health check engine; a nil config uses defaults.
func NewEngine(config *EngineConfig, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := EngineConfig{}
	if config != nil {
		cfg = *config
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	if cfg.CheckTimeout <= 0 {
		cfg.CheckTimeout = 5 * time.Second
	}

	return &Engine{
		config:   &cfg,
		logger:   logger.With(zap.String("component", "healthcheck")),
		now:      time.Now,
		checkers: make(map[string]Checker),
	}
}

// Register adds checker, replacing any checker with the same name.
func (e *Engine) Register(checker Checker) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.checkers[checker.Name()] = checker
	e.logger.Debug("Registered health checker", zap.String("checker", checker.Name()))
}

// Unregister removes the checker called name.
func (e *Engine) Unregister(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.checkers, name)
}

// OnResult adds a hook called with every periodic result.
func (e *Engine) OnResult(fn PublishFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.publishers = append(e.publishers, fn)
}

// CheckAll runs every registered check concurrently and aggregates them.
func (e *Engine) CheckAll(ctx context.Context) *AggregatedResult {
	e.mu.RLock()
	checkers := make([]Checker, 0, len(e.checkers))
	for _, c := range e.checkers {
		checkers = append(checkers, c)
	}
	e.mu.RUnlock()

	results := make(map[string]*Result, len(checkers))
	var wg sync.WaitGroup
	var resultsMu sync.Mutex

	for _, checker := range checkers {
		wg.Add(1)
		go func(c Checker) {
			defer wg.Done()
			result := e.run(ctx, c)

			resultsMu.Lock()
			results[c.Name()] = result
			resultsMu.Unlock()
		}(checker)
	}
	wg.Wait()

	aggregated := &AggregatedResult{
		OverallStatus: DetermineOverallStatus(results),
		Components:    results,
		Timestamp:     e.now(),
	}

	e.mu.Lock()
	e.last = aggregated
	e.mu.Unlock()

	return aggregated
}

func (e *Engine) run(ctx context.Context, c Checker) (result *Result) {
	ctx, cancel := context.WithTimeout(ctx, e.config.CheckTimeout)
	defer cancel()

	start := e.now()
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Health checker panicked", zap.String("checker", c.Name()), zap.Any("panic", r))
			result = Unhealthy(fmt.Errorf("checker panicked: %v", r))
		}
		if result == nil {
			result = &Result{Status: StatusUnknown, Message: "checker returned no result"}
		}
		result.Component = c.Name()
		result.Timestamp = start
		result.Duration = time.Since(start)
	}()

	return c.Check(ctx)
}

// Last returns the most recent aggregated result, if any.
func (e *Engine) Last() (*AggregatedResult, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.last, e.last != nil
}

// Run checks periodically and hands each result to the OnResult hooks until
// ctx is done. A second concurrent Run returns immediately.
func (e *Engine) Run(ctx context.Context) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	e.logger.Info("Starting health check engine", zap.Duration("interval", e.config.Interval))

	ticker := time.NewTicker(e.config.Interval)
	defer ticker.Stop()

	e.report(ctx)
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Health check engine stopped")
			return
		case <-ticker.C:
			e.report(ctx)
		}
	}
}

func (e *Engine) report(ctx context.Context) {
	result := e.CheckAll(ctx)

	e.mu.RLock()
	publishers := append([]PublishFunc(nil), e.publishers...)
	e.mu.RUnlock()

	for _, publish := range publishers {
		if err := publish(ctx, result); err != nil {
			e.logger.Warn("Failed to publish health result", zap.Error(err))
		}
	}

	e.logger.Debug("Health check completed",
		zap.String("status", string(result.OverallStatus)),
		zap.Int("components", len(result.Components)))
}

// IsRunning reports whether Run is active.
func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}
