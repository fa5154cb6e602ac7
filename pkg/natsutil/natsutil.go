// Package natsutil carries JSON payloads over NATS with OpenTelemetry trace
// context in the message headers.
package natsutil

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
)

// Publisher is satisfied by *nats.Conn.
type Publisher interface {
	PublishMsg(m *nats.Msg) error
}

// headerCarrier adapts nats.Msg headers to propagation.TextMapCarrier.
type headerCarrier nats.Msg

func (c *headerCarrier) Get(key string) string {
	if c.Header == nil {
		return ""
	}
	return c.Header.Get(key)
}

func (c *headerCarrier) Set(key, val string) {
	if c.Header == nil {
		c.Header = nats.Header{}
	}
	c.Header.Set(key, val)
}

func (c *headerCarrier) Keys() []string {
	if c.Header == nil {
		return nil
	}
	keys := make([]string, 0, len(c.Header))
	for k := range c.Header {
		keys = append(keys, k)
	}
	return keys
}

// Inject writes the trace context of ctx into msg's headers.
func Inject(ctx context.Context, msg *nats.Msg) {
	otel.GetTextMapPropagator().Inject(ctx, (*headerCarrier)(msg))
}

// ContextFrom returns a background context carrying the trace context found in msg.
func ContextFrom(msg *nats.Msg) context.Context {
	return otel.GetTextMapPropagator().Extract(context.Background(), (*headerCarrier)(msg))
}

// Encode builds a message for subject with v as its JSON body.
func Encode[T any](ctx context.Context, subject string, v T) (*nats.Msg, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("natsutil: encode %s: %w", subject, err)
	}
	msg := nats.NewMsg(subject)
	msg.Data = data
	Inject(ctx, msg)
	return msg, nil
}

// Publish sends v as JSON to subject.
func Publish[T any](ctx context.Context, pub Publisher, subject string, v T) error {
	msg, err := Encode(ctx, subject, v)
	if err != nil {
		return err
	}
	if err := pub.PublishMsg(msg); err != nil {
		return fmt.Errorf("natsutil: publish %s: %w", subject, err)
	}
	return nil
}

// Attempt reads an integer attempt counter from header key. Missing or
// malformed values count as zero.
func Attempt(msg *nats.Msg, key string) int {
	if msg.Header == nil {
		return 0
	}
	n, err := strconv.Atoi(msg.Header.Get(key))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// Subscribe decodes every message on subject into T and calls handler with
// the propagated trace context. Messages that fail to decode go to onError
// when it is set.
func Subscribe[T any](nc *nats.Conn, subject string, handler func(context.Context, T), onError func(*nats.Msg, error)) (*nats.Subscription, error) {
	return nc.Subscribe(subject, func(msg *nats.Msg) {
		var v T
		if err := json.Unmarshal(msg.Data, &v); err != nil {
			if onError != nil {
				onError(msg, err)
			}
			return
		}
		handler(ContextFrom(msg), v)
	})
}
