package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/opuslawyer/lexrag/pkg/fn"
)

var errUnavailable = errors.New("qdrant unavailable")

// clockedBreaker returns a breaker whose clock only moves through advance.
func clockedBreaker(opts BreakerOpts) (b *Breaker, advance func(time.Duration)) {
	now := time.Unix(1_700_000_000, 0)
	b = NewBreaker(opts)
	b.now = func() time.Time { return now }
	return b, func(d time.Duration) { now = now.Add(d) }
}

func outcome(err error) func(context.Context) error {
	return func(context.Context) error { return err }
}

func TestBreakerTransitions(t *testing.T) {
	tests := []struct {
		name string
		// wait[i], when present, advances the clock after steps[i].
		steps []error
		wait  []time.Duration
		want  State
	}{
		{"starts closed", nil, nil, StateClosed},
		{"below threshold", []error{errUnavailable, errUnavailable}, nil, StateClosed},
		{"trips at threshold", []error{errUnavailable, errUnavailable, errUnavailable}, nil, StateOpen},
		{"success resets count", []error{errUnavailable, errUnavailable, nil, errUnavailable, errUnavailable}, nil, StateClosed},
		{
			"half-open after timeout",
			[]error{errUnavailable, errUnavailable, errUnavailable},
			[]time.Duration{0, 0, 11 * time.Second},
			StateHalfOpen,
		},
		{
			"probe success closes",
			[]error{errUnavailable, errUnavailable, errUnavailable, nil},
			[]time.Duration{0, 0, 11 * time.Second, 0},
			StateClosed,
		},
		{
			"probe failure reopens",
			[]error{errUnavailable, errUnavailable, errUnavailable, errUnavailable},
			[]time.Duration{0, 0, 11 * time.Second, 0},
			StateOpen,
		},
		{"cancellation is not a failure", []error{context.Canceled, context.Canceled, context.Canceled}, nil, StateClosed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, advance := clockedBreaker(BreakerOpts{FailThreshold: 3, Timeout: 10 * time.Second})
			for i, err := range tt.steps {
				_ = b.Call(context.Background(), outcome(err))
				if i < len(tt.wait) {
					advance(tt.wait[i])
				}
			}
			if got := b.State(); got != tt.want {
				t.Fatalf("state = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBreakerRejectsWhileOpen(t *testing.T) {
	b, _ := clockedBreaker(BreakerOpts{FailThreshold: 1, Timeout: time.Minute})
	_ = b.Call(context.Background(), outcome(errUnavailable))

	called := false
	err := b.Call(context.Background(), func(context.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) || called {
		t.Fatalf("err = %v, called = %v", err, called)
	}
}

func TestBreakerHalfOpenAdmitsLimitedProbes(t *testing.T) {
	b, advance := clockedBreaker(BreakerOpts{FailThreshold: 1, Timeout: time.Second, HalfOpenMax: 1})
	_ = b.Call(context.Background(), outcome(errUnavailable))
	advance(2 * time.Second)

	if err := b.admit(); err != nil {
		t.Fatalf("first probe rejected: %v", err)
	}
	if err := b.admit(); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("second probe err = %v, want ErrCircuitOpen", err)
	}

	// A cancelled probe frees its slot.
	b.record(context.Canceled)
	if err := b.admit(); err != nil {
		t.Fatalf("probe after cancellation rejected: %v", err)
	}
}

func TestBreakerStage(t *testing.T) {
	b := NewBreaker(BreakerOpts{FailThreshold: 2, Timeout: time.Minute})
	calls := 0
	store := BreakerStage(b, func(_ context.Context, batch []string) fn.Result[int] {
		calls++
		return fn.Err[int](errUnavailable)
	})

	for i := 0; i < 3; i++ {
		_ = store(context.Background(), []string{"chunk"})
	}
	if calls != 2 {
		t.Fatalf("stage ran %d times, want 2", calls)
	}
	if _, err := store(context.Background(), nil).Unwrap(); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
}

func TestBreakerOnChange(t *testing.T) {
	var seen []string
	b, advance := clockedBreaker(BreakerOpts{
		FailThreshold: 1,
		Timeout:       time.Second,
		OnChange: func(from, to State) {
			seen = append(seen, from.String()+">"+to.String())
		},
	})

	_ = b.Call(context.Background(), outcome(errUnavailable))
	advance(2 * time.Second)
	_ = b.Call(context.Background(), outcome(nil))

	want := []string{"closed>open", "open>half-open", "half-open>closed"}
	if len(seen) != len(want) {
		t.Fatalf("transitions = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("transition %d = %q, want %q", i, seen[i], want[i])
		}
	}
}

func TestDefaultsFillZeroOptions(t *testing.T) {
	b := NewBreaker(BreakerOpts{})
	if b.opts.FailThreshold != DefaultBreakerOpts.FailThreshold ||
		b.opts.Timeout != DefaultBreakerOpts.Timeout ||
		b.opts.HalfOpenMax != DefaultBreakerOpts.HalfOpenMax {
		t.Fatalf("opts = %+v", b.opts)
	}
}
