package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/flowforge-io/flowforge/pkg/config"
)

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [path...]",
		Short: "Validate manifest files",
		Long: `Validate CUE manifest files without touching the remote system.

This command checks:
  - CUE syntax validity
  - Schema conformance (known kinds, required fields)
  - Compute script evaluation
  - Attribute types against the kind schemas`,
		Example: `  # Validate manifests in the current directory
  flowforge validate

  # Validate a specific file
  flowforge validate ./site.cue`,
		RunE: func(cmd *cobra.Command, args []string) error {
			sources := args
			if len(sources) == 0 {
				sources = []string{"."}
			}

			parser := config.NewManifestParser()
			manifest, err := parser.Parse(cmd.Context(), sources)
			if err != nil {
				return err
			}

			problems := len(manifest.Errors)
			for _, rc := range manifest.Resources {
				if _, _, err := config.Desired(rc); err != nil {
					manifest.Errors = append(manifest.Errors, config.ValidationError{
						Path:    "resources." + rc.Name,
						Message: err.Error(),
					})
					problems++
				}
			}

			if jsonOutput {
				return json.NewEncoder(os.Stdout).Encode(manifest)
			}

			for _, e := range manifest.Errors {
				if e.File != "" {
					fmt.Fprintf(os.Stderr, "%s:%d:%d: %s\n", e.File, e.Line, e.Column, e.Message)
				} else {
					fmt.Fprintf(os.Stderr, "%s: %s\n", e.Path, e.Message)
				}
			}
			if problems > 0 {
				return fmt.Errorf("%d validation problem(s) in %d file(s)", problems, len(manifest.SourceFiles))
			}

			fmt.Printf("OK: %d resource(s) in %d file(s)\n", len(manifest.Resources), len(manifest.SourceFiles))
			return nil
		},
	}

	return cmd
}
