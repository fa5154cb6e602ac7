package embed

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/opuslawyer/lexrag/pkg/resilience"
)

// Settings describe a full embedding stack: provider, guard and cache.
type Settings struct {
	// Provider is "ollama" or "openai".
	Provider string
	BaseURL  string
	APIKey   string
	Model    string
	Timeout  time.Duration

	// Rate is calls per second; zero leaves the provider unlimited.
	Rate             float64
	Burst            int
	BreakerThreshold int
	BreakerTimeout   time.Duration

	// Cache enables the query cache when non-nil.
	Cache    KV
	CacheTTL time.Duration

	Logger *slog.Logger
}

// Build assembles cache(guard(provider)) from s. Cached vectors never take
// a limiter token.
func Build(s Settings) (Embedder, error) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	client := WithHTTPClient(&http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	})

	var provider Embedder
	switch s.Provider {
	case "", "ollama":
		provider = NewOllama(s.BaseURL, s.Model, client)
	case "openai":
		provider = NewOpenAI(s.BaseURL, s.APIKey, s.Model, client)
	default:
		return nil, fmt.Errorf("embed: unknown provider %q", s.Provider)
	}

	var limiter *resilience.Limiter
	if s.Rate > 0 {
		limiter = resilience.NewLimiter(resilience.LimiterOpts{Rate: s.Rate, Burst: s.Burst})
	}
	breaker := resilience.NewBreaker(resilience.BreakerOpts{
		FailThreshold: s.BreakerThreshold,
		Timeout:       s.BreakerTimeout,
		OnChange: func(from, to resilience.State) {
			logger.Warn("embed: breaker state changed", "provider", s.Provider, "from", from, "to", to)
		},
	})

	var e Embedder = NewGuard(provider, limiter, breaker)
	if s.Cache != nil {
		e = NewCache(e, s.Cache, s.Model, s.CacheTTL, logger)
	}
	return e, nil
}
