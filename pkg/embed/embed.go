// Package embed turns text into vectors. It ships an Ollama client, an
// OpenAI-compatible client, a Redis-backed query cache and a guard that puts
// a rate limiter and a circuit breaker in front of any of them.
package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/opuslawyer/lexrag/pkg/fn"
)

// Embedder produces one vector per input text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// DefaultTimeout bounds a single HTTP call to an embedding server.
const DefaultTimeout = 60 * time.Second

// StatusError is returned when the server answers with a non-2xx status.
type StatusError struct {
	Provider string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: status %d", e.Provider, e.Code)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Provider, e.Code, e.Body)
}

// Temporary reports whether retrying the same request may succeed.
func (e *StatusError) Temporary() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// retryable treats transport failures and 429/5xx answers as transient.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	var de *decodeError
	return !errors.As(err, &de)
}

type decodeError struct{ err error }

func (e *decodeError) Error() string { return "decode response: " + e.err.Error() }
func (e *decodeError) Unwrap() error { return e.err }

// httpOptions are shared by the HTTP providers.
type httpOptions struct {
	client *http.Client
	retry  fn.RetryOpts
}

// Option customises an HTTP provider.
type Option func(*httpOptions)

// WithHTTPClient replaces the instrumented default client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *httpOptions) { o.client = c }
}

// WithRetry replaces the default retry policy.
func WithRetry(r fn.RetryOpts) Option {
	return func(o *httpOptions) { o.retry = r }
}

func buildOptions(opts []Option) httpOptions {
	o := httpOptions{
		client: &http.Client{
			Timeout:   DefaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		retry: fn.DefaultRetry,
	}
	for _, opt := range opts {
		opt(&o)
	}
	o.retry.Retryable = retryable
	return o
}

// postJSON sends in as a JSON body and decodes a 2xx answer into out.
func postJSON(ctx context.Context, o httpOptions, provider, url string, header http.Header, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("%s: encode request: %w", provider, err)
	}
	r := fn.Retry(ctx, o.retry, func(ctx context.Context) fn.Result[struct{}] {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return fn.Err[struct{}](err)
		}
		req.Header = header.Clone()
		req.Header.Set("Content-Type", "application/json")

		resp, err := o.client.Do(req)
		if err != nil {
			return fn.Err[struct{}](err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return fn.Err[struct{}](&StatusError{Provider: provider, Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))})
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fn.Err[struct{}](&decodeError{err: err})
		}
		return fn.Ok(struct{}{})
	})
	if _, err := r.Unwrap(); err != nil {
		var se *StatusError
		if errors.As(err, &se) {
			return err
		}
		return fmt.Errorf("%s: %w", provider, err)
	}
	return nil
}
