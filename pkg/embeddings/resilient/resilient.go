// Package resilient decorates an embeddings.Embedder with rate limiting,
// retries with exponential backoff, a circuit breaker, and tracing.
package resilient

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/felixgeelhaar/fortify/circuitbreaker"
	"github.com/felixgeelhaar/fortify/retry"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"github.com/papercomputeco/finsight/pkg/embeddings"
	"github.com/papercomputeco/finsight/pkg/fault"
	"github.com/papercomputeco/finsight/pkg/logger"
	"github.com/papercomputeco/finsight/pkg/telemetry"
)

// Config tunes the decorator. Zero values fall back to defaults.
type Config struct {
	// MaxAttempts is the total number of tries per request. Defaults to 3.
	MaxAttempts int

	// InitialDelay is the first backoff delay. Defaults to 200ms.
	InitialDelay time.Duration

	// RequestsPerSecond throttles provider calls. Zero disables throttling.
	RequestsPerSecond float64

	// FailureThreshold is the number of consecutive failures that opens the
	// breaker. Defaults to 5.
	FailureThreshold int

	// OpenTimeout is how long the breaker stays open. Defaults to 30s.
	OpenTimeout time.Duration

	// Logger receives retry and breaker diagnostics.
	Logger *slog.Logger
}

// Embedder wraps another Embedder.
type Embedder struct {
	next    embeddings.Embedder
	info    embeddings.ModelInfo
	limiter *rate.Limiter
	retry   retry.Retry[[][]float32]
	breaker circuitbreaker.CircuitBreaker[[][]float32]
	logger  *slog.Logger
}

// New wraps next.
func New(next embeddings.Embedder, cfg Config) *Embedder {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = 200 * time.Millisecond
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), max(1, int(cfg.RequestsPerSecond)))
	}

	threshold := uint32(cfg.FailureThreshold) // #nosec G115 -- positive, checked above

	return &Embedder{
		next:    next,
		info:    next.Info(),
		limiter: limiter,
		retry: retry.New[[][]float32](retry.Config{
			MaxAttempts:        cfg.MaxAttempts,
			InitialDelay:       cfg.InitialDelay,
			BackoffPolicy:      retry.BackoffExponential,
			Multiplier:         2.0,
			NonRetryableErrors: []error{embeddings.ErrRejected, context.Canceled},
		}),
		breaker: circuitbreaker.New[[][]float32](circuitbreaker.Config{
			MaxRequests: 1,
			Interval:    cfg.OpenTimeout,
			Timeout:     cfg.OpenTimeout,
			ReadyToTrip: func(counts circuitbreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
		}),
		logger: cfg.Logger,
	}
}

// Embed converts text into a vector embedding.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.call(ctx, "embeddings.embed", 1, func(ctx context.Context) ([][]float32, error) {
		v, err := e.next.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		return [][]float32{v}, nil
	})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch converts texts into embeddings.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	return e.call(ctx, "embeddings.embed_batch", len(texts), func(ctx context.Context) ([][]float32, error) {
		return e.next.EmbedBatch(ctx, texts)
	})
}

func (e *Embedder) call(ctx context.Context, name string, n int, fn func(context.Context) ([][]float32, error)) (out [][]float32, err error) {
	ctx, span := telemetry.Start(ctx, name,
		attribute.String("embedding.provider", e.info.Provider),
		attribute.String("embedding.model", e.info.Model),
		attribute.Int("embedding.count", n),
	)
	defer func() { telemetry.End(span, err) }()

	attempt := 0
	out, err = e.breaker.Execute(ctx, func(ctx context.Context) ([][]float32, error) {
		return e.retry.Do(ctx, func(ctx context.Context) ([][]float32, error) {
			attempt++
			if attempt > 1 {
				e.logger.Debug("retrying embedding request",
					"provider", e.info.Provider,
					"attempt", attempt,
				)
			}
			if e.limiter != nil {
				if err := e.limiter.Wait(ctx); err != nil {
					return nil, err
				}
			}
			return fn(ctx)
		})
	})
	if err != nil {
		if fault.IsUnavailable(err) || fault.IsTimeout(err) {
			return nil, err
		}
		return nil, fault.Unavailable(e.info.Provider, fmt.Errorf("%w: %w", embeddings.ErrEmbedding, err))
	}
	return out, nil
}

// BreakerState reports the circuit breaker state for status output.
func (e *Embedder) BreakerState() string {
	return fmt.Sprint(e.breaker.State())
}

// Info reports the wrapped model identity.
func (e *Embedder) Info() embeddings.ModelInfo {
	return e.info
}

// Close closes the wrapped embedder.
func (e *Embedder) Close() error {
	return e.next.Close()
}

var _ embeddings.Embedder = (*Embedder)(nil)
