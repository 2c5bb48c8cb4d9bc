package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/patchwork/internal/audit"
	"github.com/roach88/patchwork/internal/mutation"
	"github.com/roach88/patchwork/internal/store"
)

// TraceResult holds one action's audit trail for command output.
type TraceResult struct {
	Action   mutation.Instance   `json:"action"`
	Children []mutation.Instance `json:"children,omitempty"`
	Events   []mutation.Instance `json:"events"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "trace <action-id>",
		Short: "Show the audit trail of one action",
		Long: `Print an action's audit row, the actions it cascaded into, and
every stage event recorded for it, in the order they happened.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(rootOpts, cmd, args[0], dbPath)
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "patchwork.db", "path to the SQLite database")

	return cmd
}

func runTrace(opts *RootOptions, cmd *cobra.Command, actionID, dbPath string) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	db, err := store.Open(dbPath, store.Timestamps{})
	if err != nil {
		_ = formatter.Error(ErrCodeStoreFailed, err.Error(), nil)
		return WrapExitError(ExitCommandError, "opening store", err)
	}
	defer db.Close()

	if err := db.RegisterSchema(audit.ActionSchemaKey, audit.ActionDefinition()); err != nil {
		_ = formatter.Error(ErrCodeStoreFailed, err.Error(), nil)
		return WrapExitError(ExitCommandError, "registering audit schemas", err)
	}
	if err := db.RegisterSchema(audit.EventSchemaKey, audit.EventDefinition()); err != nil {
		_ = formatter.Error(ErrCodeStoreFailed, err.Error(), nil)
		return WrapExitError(ExitCommandError, "registering audit schemas", err)
	}

	ctx := cmd.Context()

	action, err := db.FindOne(ctx, audit.ActionSchemaKey, mutation.Instance{"id": actionID}, nil)
	if err != nil {
		if store.IsNotFound(err) {
			_ = formatter.Error(ErrCodeNotFound, fmt.Sprintf("action %q not found", actionID), nil)
			return NewExitError(ExitCommandError, "action not found")
		}
		_ = formatter.Error(ErrCodeStoreFailed, err.Error(), nil)
		return WrapExitError(ExitCommandError, "reading action", err)
	}

	children, err := db.Find(ctx, audit.ActionSchemaKey, mutation.Instance{"rootParent": actionID}, nil)
	if err != nil {
		_ = formatter.Error(ErrCodeStoreFailed, err.Error(), nil)
		return WrapExitError(ExitCommandError, "reading cascaded actions", err)
	}

	events, err := db.Find(ctx, audit.EventSchemaKey, mutation.Instance{"action": actionID}, nil)
	if err != nil {
		_ = formatter.Error(ErrCodeStoreFailed, err.Error(), nil)
		return WrapExitError(ExitCommandError, "reading events", err)
	}

	if opts.Format == "json" {
		return formatter.Success(TraceResult{Action: action, Children: children, Events: events})
	}

	fmt.Fprintf(formatter.Writer, "action %v  type=%v schema=%v status=%v attempt=%v\n",
		action["id"], action["type"], action["schemaKey"], action["status"], action["attempt"])
	for _, c := range children {
		fmt.Fprintf(formatter.Writer, "  cascaded %v  trigger=%v depth=%v status=%v\n",
			c["id"], c["trigger"], c["depth"], c["status"])
	}
	fmt.Fprintf(formatter.Writer, "%d event(s):\n", len(events))
	for _, e := range events {
		marker := "ok"
		if isError, _ := e["isError"].(bool); isError {
			marker = "ERR"
		}
		line := fmt.Sprintf("  [%s] attempt=%v %v", marker, e["attempt"], e["stage"])
		if msg, ok := e["errorMessage"].(string); ok && msg != "" {
			line += " " + msg
		}
		fmt.Fprintln(formatter.Writer, line)
	}
	return nil
}
