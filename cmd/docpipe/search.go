package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/docpipe/docpipe/internal/config"
	"github.com/docpipe/docpipe/internal/embed"
	"github.com/docpipe/docpipe/internal/vectorindex"
)

var searchCmd = &cobra.Command{
	Use:   "search QUERY...",
	Short: "Search indexed documents",
	Long: `Embed the query text and search the vector index.

Semantic mode ranks purely by vector similarity; hybrid mode blends
vector similarity with keyword matching, weighted by --alpha (1.0 is
all-vector, 0.0 all-keyword).

Examples:
  docpipe search --mode semantic "database migrations"
  docpipe search --mode hybrid --alpha 0.3 incident postmortem`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().String("mode", "semantic", "search mode: semantic or hybrid")
	searchCmd.Flags().Int("limit", 10, "maximum results")
	searchCmd.Flags().Float64("min-score", 0, "drop results scoring below this (semantic mode)")
	searchCmd.Flags().Float64("alpha", 0.5, "vector weight for hybrid mode")
	searchCmd.Flags().Bool("json", false, "print results as JSON lines")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := config.Resolve()
	if err != nil {
		return err
	}

	mode, _ := cmd.Flags().GetString("mode")
	if mode != "semantic" && mode != "hybrid" {
		return fmt.Errorf("unknown search mode %q (want semantic or hybrid)", mode)
	}
	limit, _ := cmd.Flags().GetInt("limit")
	minScore, _ := cmd.Flags().GetFloat64("min-score")
	alpha, _ := cmd.Flags().GetFloat64("alpha")

	query := strings.Join(args, " ")
	embedder := embed.NewHTTPClient(cfg.Embed.URL, cfg.Embed.Model, cfg.Embed.Timeout)
	vectors, err := embedder.Embed(ctx, []string{query})
	if err != nil {
		return fmt.Errorf("embedding query: %w", err)
	}
	if len(vectors) == 0 {
		return fmt.Errorf("embedding query: no vector returned")
	}

	client := vectorindex.NewClient(cfg.Index.URL, cfg.Index.Class, cfg.Index.Timeout, zap.NewNop())
	var results []vectorindex.Result
	if mode == "hybrid" {
		results, err = client.HybridSearch(ctx, query, vectors[0], limit, alpha, nil)
	} else {
		results, err = client.SemanticSearch(ctx, vectors[0], limit, minScore, nil)
	}
	if err != nil {
		return err
	}

	asJSON, _ := cmd.Flags().GetBool("json")
	if asJSON || !term.IsTerminal(int(os.Stdout.Fd())) {
		enc := json.NewEncoder(os.Stdout)
		for _, r := range results {
			if err := enc.Encode(r); err != nil {
				return err
			}
		}
		return nil
	}

	if len(results) == 0 {
		fmt.Println("no results")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SCORE\tID\tCONTENT")
	for _, r := range results {
		fmt.Fprintf(w, "%.3f\t%s\t%s\n", r.Score, r.ID, snippet(r.Content, 72))
	}
	return w.Flush()
}

// snippet flattens whitespace and truncates to max runes.
func snippet(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}
