// Command ingest-worker consumes indexing requests from NATS and runs them
// through the indexing pipeline into Qdrant (and Neo4j when configured).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"

	"github.com/opuslawyer/lexrag/engine/domain"
	"github.com/opuslawyer/lexrag/engine/ingest"
	"github.com/opuslawyer/lexrag/internal/stack"
	"github.com/opuslawyer/lexrag/pkg/config"
	"github.com/opuslawyer/lexrag/pkg/metrics"
	"github.com/opuslawyer/lexrag/pkg/natsutil"
)

type documentIndexer interface {
	IndexDocument(ctx context.Context, doc domain.RawDocument, replace bool) (domain.DocumentInfo, error)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("ingest-worker stopped", "err", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	s, err := stack.Open(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.Index.Prepare(ctx); err != nil {
		return err
	}
	log.Info("connected to Qdrant", "addr", cfg.Qdrant.Addr, "collection", s.Index.Collection())

	s.Metrics.ServeAsync(ctx, cfg.MetricsAddr, log)

	nc, err := nats.Connect(cfg.NATS.URL,
		nats.Name("lexrag-ingest-worker"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("nats disconnected", "err", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return fmt.Errorf("nats connect %s: %w", cfg.NATS.URL, err)
	}
	defer nc.Drain()

	if err := listen(nc, s.Indexer, cfg.NATS.Queue, s.Metrics, log); err != nil {
		return err
	}
	log.Info("ingest worker listening", "subject", ingest.Subject, "queue", cfg.NATS.Queue)
	<-ctx.Done()
	log.Info("ingest worker shutting down")
	return nil
}

// listen subscribes the indexing consumer and a dead-letter logger. The
// subscriptions end when nc is drained or closed.
func listen(nc *nats.Conn, ix documentIndexer, queue string, reg *metrics.Registry, log *slog.Logger) error {
	if _, err := ingest.NewConsumer(ix, nc, log).Start(nc, queue); err != nil {
		return fmt.Errorf("subscribe %s: %w", ingest.Subject, err)
	}

	dead := reg.Counter("lexrag_ingest_dead_letters_total", "Requests that exhausted their retries")
	_, err := natsutil.Subscribe(nc, ingest.DLQSubject,
		func(_ context.Context, dl ingest.DeadLetter) {
			dead.Inc()
			log.Error("ingest: dead letter", "source", dl.Request.Document.Source, "retries", dl.Retries, "err", dl.Error)
		},
		func(_ *nats.Msg, err error) {
			log.Warn("ingest: malformed dead letter", "err", err)
		},
	)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", ingest.DLQSubject, err)
	}
	return nil
}
