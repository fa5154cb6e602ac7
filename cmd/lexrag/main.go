// Command lexrag indexes statute texts into Qdrant and retrieves grounding
// material for legal questions, contract analysis and drafting.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/opuslawyer/lexrag/engine/domain"
	"github.com/opuslawyer/lexrag/engine/ingest"
	"github.com/opuslawyer/lexrag/engine/outline"
	"github.com/opuslawyer/lexrag/engine/retrieval"
	"github.com/opuslawyer/lexrag/internal/stack"
	"github.com/opuslawyer/lexrag/pkg/config"
	"github.com/opuslawyer/lexrag/pkg/natsutil"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	a := &app{connect: connect}
	err := newRootCmd(a).ExecuteContext(ctx)
	a.shutdown()
	if err != nil {
		stop()
		os.Exit(1)
	}
}

// vectorIndex is the part of the Qdrant store the commands use.
type vectorIndex interface {
	Prepare(ctx context.Context) error
	Count(ctx context.Context) (int, error)
	IsIndexed(ctx context.Context) (bool, error)
	ListDocuments(ctx context.Context) ([]domain.IndexedDocument, error)
	Clear(ctx context.Context) error
}

type outlineReader interface {
	Outline(ctx context.Context, source string) ([]outline.Entry, error)
}

// backend is what the commands run against.
type backend struct {
	index     vectorIndex
	indexer   *ingest.Indexer
	retrieval *retrieval.Service
	outline   outlineReader
	// queue dials the broker for enqueue; the returned func closes it.
	queue func() (natsutil.Publisher, func(), error)
	close func()
}

type app struct {
	cfg     *config.Config
	log     *slog.Logger
	connect func(ctx context.Context, cfg *config.Config, log *slog.Logger) (*backend, error)
	b       *backend
}

// shutdown closes the backend opened by the last command, if any.
func (a *app) shutdown() {
	if a.b != nil && a.b.close != nil {
		a.b.close()
	}
	a.b = nil
}

func connect(ctx context.Context, cfg *config.Config, log *slog.Logger) (*backend, error) {
	s, err := stack.Open(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	b := &backend{
		index:     s.Index,
		indexer:   s.Indexer,
		retrieval: s.Retrieval,
		close:     s.Close,
		queue: func() (natsutil.Publisher, func(), error) {
			nc, err := nats.Connect(cfg.NATS.URL, nats.Name("lexrag-cli"))
			if err != nil {
				return nil, nil, err
			}
			return nc, func() { nc.Drain() }, nil
		},
	}
	if s.Outline != nil {
		b.outline = s.Outline
	}
	return b, nil
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:          "lexrag",
		Short:        "Index statutes and retrieve grounding material for legal questions",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.log = slog.New(slog.NewJSONHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: cfg.SlogLevel()}))
			slog.SetDefault(a.log)

			b, err := a.connect(cmd.Context(), cfg, a.log)
			if err != nil {
				return err
			}
			a.b = b
			return nil
		},
	}
	root.AddCommand(
		newIndexCmd(a),
		newEnqueueCmd(a),
		newSearchCmd(a),
		newAskCmd(a),
		newAnalyzeCmd(a),
		newDraftCmd(a),
		newListCmd(a),
		newRemoveCmd(a),
		newClearCmd(a),
		newCountCmd(a),
		newOutlineCmd(a),
	)
	return root
}

var errNoOutline = errors.New("outline store not configured (set LEXRAG_NEO4J_URI)")
