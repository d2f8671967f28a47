package predict

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"fintrack/internal/cache"
	"fintrack/internal/core"
	"fintrack/internal/log"
)

const (
	defaultTimeout  = 60 * time.Second
	cacheSize       = 64
	defaultCacheTTL = 15 * time.Minute
)

// Flow turns expense history into a validated prediction.
type Flow struct {
	gen     Generator
	cache   *cache.LRUCache[Result]
	timeout time.Duration
	logger  *log.Logger
}

type FlowOption func(*Flow)

// WithTimeout bounds a single model call. Zero disables the bound.
func WithTimeout(d time.Duration) FlowOption {
	return func(f *Flow) { f.timeout = d }
}

// WithCache replaces the result cache. Nil disables caching.
func WithCache(c *cache.LRUCache[Result]) FlowOption {
	return func(f *Flow) { f.cache = c }
}

func WithLogger(l *log.Logger) FlowOption {
	return func(f *Flow) {
		if l != nil {
			f.logger = l.WithComponent(log.ComponentPredict)
		}
	}
}

// NewFlow builds a flow around gen. A nil generator yields a flow that
// always returns ErrDisabled.
func NewFlow(gen Generator, opts ...FlowOption) *Flow {
	f := &Flow{
		gen:     gen,
		cache:   cache.NewLRUCache[Result](cacheSize, defaultCacheTTL),
		timeout: defaultTimeout,
		logger:  log.Discard().WithComponent(log.ComponentPredict),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Cache exposes the result cache so it can be registered for cleanup.
func (f *Flow) Cache() *cache.LRUCache[Result] {
	return f.cache
}

// Enabled reports whether a generator is configured.
func (f *Flow) Enabled() bool {
	return f != nil && f.gen != nil
}

// Provider names the configured generator.
func (f *Flow) Provider() string {
	if !f.Enabled() {
		return "none"
	}
	return f.gen.Name()
}

// NormalizePeriod trims p and applies the default.
func NormalizePeriod(p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" {
		return DefaultPeriod, nil
	}
	if utf8.RuneCountInString(p) > maxPeriodLength {
		return "", ErrInvalidPeriod
	}
	return p, nil
}

// Predict forecasts expenses for period from the expense entries of txs.
// Fewer than MinHistory expenses fail before the model is called.
func (f *Flow) Predict(ctx context.Context, txs []core.Transaction, period string) (Result, error) {
	if !f.Enabled() {
		return Result{}, ErrDisabled
	}
	period, err := NormalizePeriod(period)
	if err != nil {
		return Result{}, err
	}

	history := BuildHistory(txs)
	if len(history) < MinHistory {
		return Result{}, ErrInsufficientHistory
	}

	historyJSON, err := json.Marshal(history)
	if err != nil {
		return Result{}, fmt.Errorf("encode history: %w", err)
	}

	key := cacheKey(period, historyJSON)
	if f.cache != nil {
		if res, ok := f.cache.Get(key); ok {
			f.logger.Debug("Prediction served from cache", log.FieldPeriod, period)
			return res.clone(), nil
		}
	}

	prompt, err := RenderPrompt(string(historyJSON), period)
	if err != nil {
		return Result{}, fmt.Errorf("render prompt: %w", err)
	}

	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	start := time.Now()
	raw, err := f.gen.Generate(ctx, prompt)
	if err != nil {
		f.logger.ErrorContext(ctx, "Model call failed",
			log.FieldProvider, f.gen.Name(),
			log.FieldOperation, log.OpPredict,
			log.FieldError, err.Error())
		return Result{}, fmt.Errorf("%s: %w", f.gen.Name(), err)
	}

	res, err := ParseOutput(raw, period)
	if err != nil {
		f.logger.WarnContext(ctx, "Model output rejected",
			log.FieldProvider, f.gen.Name(),
			log.FieldError, err.Error())
		return Result{}, err
	}

	f.logger.InfoContext(ctx, "Prediction generated",
		log.FieldProvider, f.gen.Name(),
		log.FieldPeriod, period,
		"history", len(history),
		"predictions", len(res.PredictedExpenses),
		"warnings", len(res.Warnings),
		log.FieldDuration, time.Since(start).Milliseconds())

	if f.cache != nil && res.RawPredictions == "" {
		f.cache.Set(key, res.clone())
	}
	return res, nil
}

func cacheKey(period string, history []byte) string {
	h := sha256.New()
	h.Write([]byte(strings.ToLower(period)))
	h.Write([]byte{0})
	h.Write(history)
	return hex.EncodeToString(h.Sum(nil))
}
