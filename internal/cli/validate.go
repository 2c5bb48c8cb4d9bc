package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// EntitySummary describes one compiled entity for command output.
type EntitySummary struct {
	Key        string `json:"key"`
	Title      string `json:"title,omitempty"`
	Properties int    `json:"properties"`
}

// ValidationResult holds the outcome of an entity-directory validation.
type ValidationResult struct {
	Valid     bool            `json:"valid"`
	FileCount int             `json:"fileCount"`
	Entities  []EntitySummary `json:"entities,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <entity-dir>",
		Short: "Compile entity declarations without touching a store",
		Long: `Compile CUE entity declarations and report what was found.

Checks syntax, type names, defaults, and enums without opening a
database. Faster than apply for development feedback.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
}

func runValidate(opts *RootOptions, dir string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	result, err := LoadEntities(dir)
	if err != nil {
		var loadErr *LoadError
		if errors.As(err, &loadErr) {
			_ = formatter.Error(loadErr.Code, loadErr.Message, nil)
			return NewExitError(ExitFailure, loadErr.Error())
		}
		_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return NewExitError(ExitCommandError, err.Error())
	}

	formatter.VerboseLog("Found %d CUE file(s) in %s", result.FileCount, dir)

	out := ValidationResult{Valid: true, FileCount: result.FileCount}
	for _, key := range result.Keys {
		def := result.Definitions[key]
		out.Entities = append(out.Entities, EntitySummary{
			Key:        key,
			Title:      def.Title,
			Properties: len(def.Properties),
		})
	}

	if opts.Format == "json" {
		return formatter.Success(out)
	}
	fmt.Fprintf(formatter.Writer, "✓ %d entit%s valid\n", len(out.Entities), pluralY(len(out.Entities)))
	for _, e := range out.Entities {
		fmt.Fprintf(formatter.Writer, "  %s (%d properties)\n", e.Key, e.Properties)
	}
	return nil
}

func pluralY(n int) string {
	if n == 1 {
		return "y"
	}
	return "ies"
}
