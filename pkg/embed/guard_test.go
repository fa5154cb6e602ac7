package embed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/opuslawyer/lexrag/pkg/resilience"
)

func TestGuardPassesThrough(t *testing.T) {
	next := &fakeEmbedder{}
	g := NewGuard(next, resilience.NewLimiter(resilience.LimiterOpts{Rate: 1000, Burst: 5}), resilience.NewBreaker(resilience.DefaultBreakerOpts))

	vec, err := g.Embed(context.Background(), "abc")
	if err != nil || vec[0] != 3 {
		t.Fatalf("Embed = %v, %v", vec, err)
	}
	vecs, err := g.EmbedBatch(context.Background(), []string{"a", "bb"})
	if err != nil || len(vecs) != 2 || vecs[1][0] != 2 {
		t.Fatalf("EmbedBatch = %v, %v", vecs, err)
	}
}

func TestGuardOpensBreaker(t *testing.T) {
	boom := errors.New("boom")
	next := &fakeEmbedder{err: boom}
	g := NewGuard(next, nil, resilience.NewBreaker(resilience.BreakerOpts{FailThreshold: 2, Timeout: time.Minute}))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := g.Embed(ctx, "q"); !errors.Is(err, boom) {
			t.Fatalf("call %d: err = %v", i, err)
		}
	}
	if _, err := g.Embed(ctx, "q"); !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if next.calls != 2 {
		t.Fatalf("embedder called %d times, want 2", next.calls)
	}
}

func TestGuardLimiterHonoursContext(t *testing.T) {
	next := &fakeEmbedder{}
	l := resilience.NewLimiter(resilience.LimiterOpts{Rate: 0.001, Burst: 1})
	g := NewGuard(next, l, nil)

	if _, err := g.Embed(context.Background(), "q"); err != nil {
		t.Fatalf("first call: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := g.Embed(ctx, "q"); !errors.Is(err, resilience.ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}
	if next.calls != 1 {
		t.Fatalf("embedder called %d times, want 1", next.calls)
	}
}
