package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/docpipe/docpipe/internal/lineage"
)

var lineageCmd = &cobra.Command{
	Use:   "lineage",
	Short: "Inspect lineage records from a pipeline run",
	Long: `Read lineage records exported by a pipeline run.

The pipeline keeps lineage in memory; run docpipe with --lineage-out to
write it to a JSONL file, then point these commands at that file.`,
}

var lineageShowCmd = &cobra.Command{
	Use:   "show DOC_ID",
	Short: "Print one document's lineage record",
	Args:  cobra.ExactArgs(1),
	RunE:  runLineageShow,
}

var lineageHistoryCmd = &cobra.Command{
	Use:   "history DOC_ID",
	Short: "Print one document's change history",
	Args:  cobra.ExactArgs(1),
	RunE:  runLineageHistory,
}

var lineageExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Re-emit lineage records as canonical JSONL",
	RunE:  runLineageExport,
}

func init() {
	lineageCmd.PersistentFlags().String("file", "logs/lineage.jsonl", "lineage JSONL file to read")
	lineageHistoryCmd.Flags().Int("since-version", 0, "only changes after this version")
	lineageHistoryCmd.Flags().Bool("json", false, "print as JSON")
	lineageExportCmd.Flags().String("out", "", "write to this file instead of stdout")

	lineageCmd.AddCommand(lineageShowCmd, lineageHistoryCmd, lineageExportCmd)
	rootCmd.AddCommand(lineageCmd)
}

func loadLineage(cmd *cobra.Command) (*lineage.MemoryStore, error) {
	path, _ := cmd.Flags().GetString("file")
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("lineage file: %w (run docpipe with --lineage-out to produce one)", err)
	}
	defer f.Close()

	store := lineage.NewMemoryStore()
	if _, err := store.ImportJSONL(cmd.Context(), f); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return store, nil
}

func runLineageShow(cmd *cobra.Command, args []string) error {
	store, err := loadLineage(cmd)
	if err != nil {
		return err
	}
	rec, err := store.Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return printJSON(rec)
}

func runLineageHistory(cmd *cobra.Command, args []string) error {
	store, err := loadLineage(cmd)
	if err != nil {
		return err
	}
	since, _ := cmd.Flags().GetInt("since-version")
	changes, err := store.History(cmd.Context(), args[0], since)
	if err != nil {
		return err
	}

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		return printJSON(changes)
	}
	if len(changes) == 0 {
		fmt.Println("no changes")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tKIND\tTIMESTAMP\tRELATED")
	for _, c := range changes {
		related := ""
		if len(c.RelatedIDs) > 0 {
			related = fmt.Sprintf("%v", c.RelatedIDs)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n",
			c.Version, c.Kind, c.Timestamp.Format("2006-01-02 15:04:05"), related)
	}
	return w.Flush()
}

func runLineageExport(cmd *cobra.Command, args []string) error {
	store, err := loadLineage(cmd)
	if err != nil {
		return err
	}

	var out *os.File
	if path, _ := cmd.Flags().GetString("out"); path != "" {
		out, err = os.Create(path)
		if err != nil {
			return err
		}
		defer out.Close()
	} else {
		out = os.Stdout
	}

	n, err := lineage.ExportJSONL(cmd.Context(), store, out)
	if err != nil {
		return err
	}
	if out != os.Stdout {
		fmt.Printf("exported %d records\n", n)
	}
	return nil
}
