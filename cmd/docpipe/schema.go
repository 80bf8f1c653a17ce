package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/docpipe/docpipe/internal/config"
	"github.com/docpipe/docpipe/internal/schema"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Inspect and manage document schemas",
	Long: `Work with the schema registry backing document validation.

Schemas live as JSON files under --schema-dir, one file per
(name, version). The registry loads them all at startup.`,
}

var schemaListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered schemas",
	RunE:  runSchemaList,
}

var schemaShowCmd = &cobra.Command{
	Use:   "show NAME",
	Short: "Print a schema definition",
	Args:  cobra.ExactArgs(1),
	RunE:  runSchemaShow,
}

var schemaRegisterCmd = &cobra.Command{
	Use:   "register FILE",
	Short: "Register a schema from a JSON file",
	Args:  cobra.ExactArgs(1),
	RunE:  runSchemaRegister,
}

var schemaExportCmd = &cobra.Command{
	Use:   "export NAME",
	Short: "Export the active schema version as JSON Schema",
	Args:  cobra.ExactArgs(1),
	RunE:  runSchemaExport,
}

var schemaValidateCmd = &cobra.Command{
	Use:   "validate FILE",
	Short: "Validate a JSON document against a registered schema",
	Args:  cobra.ExactArgs(1),
	RunE:  runSchemaValidate,
}

func init() {
	schemaListCmd.Flags().String("kind", "", "filter by kind: document, chunk, reference, metadata")
	schemaListCmd.Flags().Bool("all", false, "include inactive versions")
	schemaListCmd.Flags().Bool("json", false, "print as JSON")
	schemaShowCmd.Flags().String("version", "", "specific version (default: active)")
	schemaRegisterCmd.Flags().Bool("no-activate", false, "register without activating the new version")
	schemaRegisterCmd.Flags().Bool("update-deps", true, "record the schema's dependency edges")
	schemaExportCmd.Flags().String("out", "", "write to this file instead of stdout")
	schemaValidateCmd.Flags().String("schema", "", "schema name to validate against (required)")
	_ = schemaValidateCmd.MarkFlagRequired("schema")

	schemaCmd.AddCommand(schemaListCmd, schemaShowCmd, schemaRegisterCmd, schemaExportCmd, schemaValidateCmd)
	rootCmd.AddCommand(schemaCmd)
}

// openRegistry loads every schema under the configured directory.
// Subcommands run without the pipeline's cache and logging stack.
func openRegistry(ctx context.Context) (*schema.Registry, error) {
	cfg, err := config.Resolve()
	if err != nil {
		return nil, err
	}
	store, err := schema.NewFileStore(cfg.SchemaDir)
	if err != nil {
		return nil, err
	}
	return schema.NewRegistry(ctx, store, nil, 0, zap.NewNop())
}

func runSchemaList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	reg, err := openRegistry(ctx)
	if err != nil {
		return err
	}

	kind, _ := cmd.Flags().GetString("kind")
	all, _ := cmd.Flags().GetBool("all")
	metas, err := reg.List(ctx, schema.Kind(kind), all)
	if err != nil {
		return err
	}

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		return printJSON(metas)
	}
	if len(metas) == 0 {
		fmt.Println("no schemas registered")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tVERSION\tKIND\tACTIVE\tUPDATED")
	for _, m := range metas {
		fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%s\n",
			m.Name, m.Version, m.Kind, m.Active, m.UpdatedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func runSchemaShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	reg, err := openRegistry(ctx)
	if err != nil {
		return err
	}

	var version *schema.Version
	if raw, _ := cmd.Flags().GetString("version"); raw != "" {
		v, err := schema.ParseVersion(raw)
		if err != nil {
			return err
		}
		version = &v
	}
	s, err := reg.Get(ctx, args[0], version)
	if err != nil {
		return err
	}
	return printJSON(s)
}

func runSchemaRegister(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	reg, err := openRegistry(ctx)
	if err != nil {
		return err
	}

	raw, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	var s schema.Schema
	if err := json.Unmarshal(raw, &s); err != nil {
		return fmt.Errorf("parsing %s: %w", args[0], err)
	}

	noActivate, _ := cmd.Flags().GetBool("no-activate")
	updateDeps, _ := cmd.Flags().GetBool("update-deps")
	if err := reg.Register(ctx, &s, !noActivate, updateDeps); err != nil {
		return err
	}
	state := "active"
	if noActivate {
		state = "inactive"
	}
	fmt.Printf("registered %s %s (%s)\n", s.Name, s.Version, state)
	return nil
}

func runSchemaExport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	reg, err := openRegistry(ctx)
	if err != nil {
		return err
	}

	js, err := reg.ExportJSONSchema(ctx, args[0])
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(js, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')

	if out, _ := cmd.Flags().GetString("out"); out != "" {
		return os.WriteFile(out, data, 0o644)
	}
	_, err = os.Stdout.Write(data)
	return err
}

func runSchemaValidate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	reg, err := openRegistry(ctx)
	if err != nil {
		return err
	}

	raw, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parsing %s: %w", args[0], err)
	}

	name, _ := cmd.Flags().GetString("schema")
	if err := reg.Validate(ctx, doc, name); err != nil {
		return err
	}
	fmt.Printf("%s is valid against %s\n", args[0], name)
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
