package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"

	"github.com/nats-io/nats.go"

	"github.com/opuslawyer/lexrag/engine/domain"
	"github.com/opuslawyer/lexrag/pkg/natsutil"
)

const (
	// Subject carries indexing requests.
	Subject = "lexrag.ingest"
	// DLQSubject receives requests that failed for good.
	DLQSubject = "lexrag.ingest.dlq"
	// RetryHeader counts how many times a request has been re-published.
	RetryHeader = "X-Retry-Count"
	// MaxRetries is the number of failed attempts before a request is dead-lettered.
	MaxRetries = 3
)

// Request asks the worker to index one document.
type Request struct {
	Document domain.RawDocument `json:"document"`
	Replace  bool               `json:"replace"`
}

// Reply answers a Request sent with a reply subject.
type Reply struct {
	Info  *domain.DocumentInfo `json:"info,omitempty"`
	Error string               `json:"error,omitempty"`
}

// DeadLetter is published to DLQSubject.
type DeadLetter struct {
	Request Request `json:"request"`
	Error   string  `json:"error"`
	Retries int     `json:"retries"`
}

type documentIndexer interface {
	IndexDocument(ctx context.Context, doc domain.RawDocument, replace bool) (domain.DocumentInfo, error)
}

// Consumer feeds NATS requests to an indexer, re-publishing failures with an
// incremented RetryHeader and dead-lettering them after MaxRetries. Retries
// always replace the source.
type Consumer struct {
	ix  documentIndexer
	pub natsutil.Publisher
	log *slog.Logger
}

// NewConsumer creates a Consumer. pub is used for retries, dead letters and replies.
func NewConsumer(ix documentIndexer, pub natsutil.Publisher, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{ix: ix, pub: pub, log: logger}
}

// Start subscribes to Subject in queue group queue so several workers share the load.
func (c *Consumer) Start(nc *nats.Conn, queue string) (*nats.Subscription, error) {
	return nc.QueueSubscribe(Subject, queue, c.Handle)
}

// Handle processes one message.
func (c *Consumer) Handle(msg *nats.Msg) {
	var req Request
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		c.log.Error("ingest: unmarshal failed", "err", err)
		c.reply(msg, Reply{Error: err.Error()})
		return
	}
	ctx := natsutil.ContextFrom(msg)
	source := req.Document.Source

	info, err := c.ix.IndexDocument(ctx, req.Document, req.Replace)
	switch {
	case err == nil:
		c.reply(msg, Reply{Info: &info})
		return
	case errors.Is(err, domain.ErrAlreadyIndexed):
		c.log.Info("ingest: already indexed", "source", source)
		c.reply(msg, Reply{Error: err.Error()})
		return
	}

	retries := natsutil.Attempt(msg, RetryHeader) + 1
	c.log.Error("ingest: pipeline failed", "source", source, "retry", retries, "err", err)

	if permanent(err) || retries >= MaxRetries {
		c.deadLetter(ctx, req, err, retries)
		c.reply(msg, Reply{Error: err.Error()})
		return
	}

	// A failed store can leave earlier batches committed; the retry replaces them.
	req.Replace = true
	data, err := json.Marshal(req)
	if err != nil {
		c.log.Error("ingest: retry marshal failed", "source", source, "err", err)
		return
	}
	retry := nats.NewMsg(Subject)
	retry.Data = data
	for k, v := range msg.Header {
		retry.Header[k] = v
	}
	retry.Header.Set(RetryHeader, strconv.Itoa(retries))
	retry.Reply = msg.Reply
	if err := c.pub.PublishMsg(retry); err != nil {
		c.log.Error("ingest: retry publish failed", "source", source, "err", err)
	}
}

func (c *Consumer) deadLetter(ctx context.Context, req Request, cause error, retries int) {
	dl := DeadLetter{Request: req, Error: cause.Error(), Retries: retries}
	if err := natsutil.Publish(ctx, c.pub, DLQSubject, dl); err != nil {
		c.log.Error("ingest: DLQ publish failed", "source", req.Document.Source, "err", err)
	}
}

func (c *Consumer) reply(msg *nats.Msg, r Reply) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(r)
	if err != nil {
		return
	}
	out := nats.NewMsg(msg.Reply)
	out.Data = data
	if err := c.pub.PublishMsg(out); err != nil {
		c.log.Warn("ingest: reply failed", "err", err)
	}
}

// permanent reports errors that another attempt cannot fix.
func permanent(err error) bool {
	var ve *domain.ValidationError
	return errors.As(err, &ve) || errors.Is(err, domain.ErrNoContent)
}
