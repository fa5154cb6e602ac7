package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/opuslawyer/lexrag/engine/domain"
	"github.com/opuslawyer/lexrag/engine/ingest"
	"github.com/opuslawyer/lexrag/engine/retrieval"
	"github.com/opuslawyer/lexrag/pkg/natsutil"
)

func newIndexCmd(a *app) *cobra.Command {
	var (
		replace bool
		ifEmpty bool
		docType string
	)
	cmd := &cobra.Command{
		Use:   "index <path>...",
		Short: "Index .txt and .json documents into the vector store",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, out := cmd.Context(), cmd.OutOrStdout()
			typ, err := parseDocType(docType)
			if err != nil {
				return err
			}
			if ifEmpty {
				populated, err := a.b.index.IsIndexed(ctx)
				if err != nil {
					return err
				}
				if populated {
					fmt.Fprintln(out, "index already populated, nothing to do")
					return nil
				}
			}
			docs, err := loadDocuments(args)
			if err != nil {
				return err
			}
			if err := a.b.index.Prepare(ctx); err != nil {
				return err
			}

			failed := 0
			for _, doc := range docs {
				if typ != "" {
					doc.Type = typ
				}
				info, err := a.b.indexer.IndexDocument(ctx, doc, replace)
				switch {
				case errors.Is(err, domain.ErrAlreadyIndexed):
					fmt.Fprintf(out, "skipped  %s (already indexed, use --replace)\n", doc.Source)
				case err != nil:
					failed++
					fmt.Fprintf(out, "failed   %s: %v\n", doc.Source, err)
				default:
					fmt.Fprintf(out, "indexed  %s  type=%s articles=%d chunks=%d hash=%s\n",
						info.Source, info.DocType, info.ArticleCount, info.ChunkCount, info.Hash)
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d documents failed", failed, len(docs))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&replace, "replace", false, "re-index sources that are already indexed")
	cmd.Flags().BoolVar(&ifEmpty, "if-empty", false, "do nothing when the index already holds chunks")
	cmd.Flags().StringVar(&docType, "type", "", "skip classification and use this document type")
	return cmd
}

func newEnqueueCmd(a *app) *cobra.Command {
	var replace bool
	cmd := &cobra.Command{
		Use:   "enqueue <path>...",
		Short: "Publish documents to the ingest worker queue",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			docs, err := loadDocuments(args)
			if err != nil {
				return err
			}
			pub, closeQueue, err := a.b.queue()
			if err != nil {
				return fmt.Errorf("connect queue: %w", err)
			}
			defer closeQueue()

			for _, doc := range docs {
				req := ingest.Request{Document: doc, Replace: replace}
				if err := natsutil.Publish(cmd.Context(), pub, ingest.Subject, req); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "queued   %s\n", doc.Source)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&replace, "replace", false, "re-index sources that are already indexed")
	return cmd
}

func newSearchCmd(a *app) *cobra.Command {
	var (
		topK   int
		source string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Run a single similarity search",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if topK <= 0 {
				topK = a.cfg.Retrieval.TopK
			}
			var filter map[string]string
			if source != "" {
				filter = map[string]string{"source": source}
			}
			hits, err := a.b.retrieval.Direct(cmd.Context(), strings.Join(args, " "), topK, filter)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, hits)
			}
			if len(hits) == 0 {
				fmt.Fprintln(out, "No results found.")
				return nil
			}
			for i, h := range hits {
				fmt.Fprintf(out, "[%d] %s | Статья %s (%.2f)\n", i+1, h.Meta.Source, h.Meta.ArticleDisplay, h.Similarity)
				fmt.Fprintf(out, "    %s\n\n", domain.Ellipsize(h.Content, a.cfg.Retrieval.PreviewLen))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "number of hits (default from config)")
	cmd.Flags().StringVar(&source, "source", "", "restrict to one source document")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output hits as JSON")
	return cmd
}

func newAskCmd(a *app) *cobra.Command {
	var (
		mode   string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Retrieve grounding material for a legal question",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := a.b.retrieval.Ground(cmd.Context(), strings.Join(args, " "), retrieval.ParseMode(mode))
			if err != nil {
				return err
			}
			return printGrounding(cmd.OutOrStdout(), g, asJSON)
		},
	}
	cmd.Flags().StringVar(&mode, "mode", string(retrieval.ModeRiskManager), "risk-manager or smalltalk")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

func newAnalyzeCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "analyze <contract-file|->",
		Short: "Retrieve the statutes relevant to a contract",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readText(args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}
			g, err := a.b.retrieval.AnalyzeContract(cmd.Context(), text)
			if err != nil {
				return err
			}
			return printGrounding(cmd.OutOrStdout(), g, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

func newDraftCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "draft <category>",
		Short: "Retrieve the statutes needed to draft a contract",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := a.b.retrieval.Draft(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			return printGrounding(cmd.OutOrStdout(), g, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

func newListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List indexed documents with their types and chunk counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			docs, err := a.b.index.ListDocuments(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(docs) == 0 {
				fmt.Fprintln(out, "No documents indexed.")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SOURCE\tTYPE\tCHUNKS")
			for _, d := range docs {
				dt := string(d.DocType)
				if dt == "" {
					dt = "-"
				}
				fmt.Fprintf(tw, "%s\t%s\t%d\n", d.Source, dt, d.ChunkCount)
			}
			return tw.Flush()
		},
	}
}

func newRemoveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <source>",
		Short: "Remove every chunk of a source document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := a.b.indexer.Remove(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if n == 0 {
				return fmt.Errorf("%s: %w", args[0], domain.ErrNotIndexed)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d chunks of %s\n", n, args[0])
			return nil
		},
	}
}

func newClearCmd(a *app) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Drop and recreate the collection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return errors.New("clear deletes every indexed chunk; pass --yes to confirm")
			}
			if err := a.b.index.Clear(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "collection cleared")
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deletion")
	return cmd
}

func newCountCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "count",
		Short: "Print the number of indexed chunks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			n, err := a.b.index.Count(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), n)
			return nil
		},
	}
}

func newOutlineCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "outline <source>",
		Short: "Print the section, chapter and article outline of a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.b.outline == nil {
				return errNoOutline
			}
			entries, err := a.b.outline.Outline(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				return fmt.Errorf("%s: %w", args[0], domain.ErrNotIndexed)
			}
			var section, chapter string
			for _, e := range entries {
				if e.Section != section {
					section, chapter = e.Section, ""
					fmt.Fprintln(out, section)
				}
				if e.Chapter != chapter {
					chapter = e.Chapter
					fmt.Fprintf(out, "  %s\n", chapter)
				}
				fmt.Fprintf(out, "    Статья %s. %s\n", e.Article, e.Title)
			}
			return nil
		},
	}
}

func printGrounding(out io.Writer, g *retrieval.Grounding, asJSON bool) error {
	if asJSON {
		return writeJSON(out, g)
	}
	fmt.Fprintln(out, g.Context)
	if len(g.Sources) == 0 {
		return nil
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Sources:")
	for i, c := range g.Sources {
		fmt.Fprintf(out, "  [%d] %s | Статья %s (%s)\n", i+1, c.Source, c.Article, c.Similarity)
	}
	return nil
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
