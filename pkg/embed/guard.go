package embed

import (
	"context"

	"github.com/opuslawyer/lexrag/pkg/resilience"
)

// Guard puts a limiter and a circuit breaker in front of an Embedder. Each
// call, single or batch, takes one limiter token.
type Guard struct {
	next    Embedder
	limiter *resilience.Limiter
	breaker *resilience.Breaker
}

// NewGuard wraps next. Either limiter or breaker may be nil.
func NewGuard(next Embedder, limiter *resilience.Limiter, breaker *resilience.Breaker) *Guard {
	return &Guard{next: next, limiter: limiter, breaker: breaker}
}

func (g *Guard) do(ctx context.Context, f func(context.Context) error) error {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	if g.breaker != nil {
		return g.breaker.Call(ctx, f)
	}
	return f(ctx)
}

// Embed calls the wrapped embedder once a token is available and the breaker is closed.
func (g *Guard) Embed(ctx context.Context, text string) ([]float32, error) {
	var vec []float32
	err := g.do(ctx, func(ctx context.Context) error {
		var err error
		vec, err = g.next.Embed(ctx, text)
		return err
	})
	return vec, err
}

// EmbedBatch is Embed for many texts.
func (g *Guard) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var vecs [][]float32
	err := g.do(ctx, func(ctx context.Context) error {
		var err error
		vecs, err = g.next.EmbedBatch(ctx, texts)
		return err
	})
	return vecs, err
}
