package main

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime/debug"

	"github.com/spf13/cobra"
)

var (
	// Version is the current docpipe version (overridden by ldflags at build time).
	Version = "0.4.0"
	// Build can be set via ldflags at compile time.
	Build = "dev"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		commit := resolveCommit()
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			out := map[string]string{
				"version": Version,
				"build":   Build,
			}
			if commit != "" {
				out["commit"] = commit
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			_ = enc.Encode(out)
			return
		}
		if commit != "" {
			fmt.Printf("docpipe version %s (%s: %s)\n", Version, Build, commit)
			return
		}
		fmt.Printf("docpipe version %s (%s)\n", Version, Build)
	},
}

// resolveCommit pulls the vcs revision stamped into the binary, if any.
func resolveCommit() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" {
			if len(s.Value) > 12 {
				return s.Value[:12]
			}
			return s.Value
		}
	}
	return ""
}

func init() {
	versionCmd.Flags().Bool("json", false, "print version information as JSON")
	rootCmd.AddCommand(versionCmd)
}
