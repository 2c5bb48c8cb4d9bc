package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/patchwork/internal/audit"
	"github.com/roach88/patchwork/internal/engine"
	"github.com/roach88/patchwork/internal/mutation"
	"github.com/roach88/patchwork/internal/schema"
	"github.com/roach88/patchwork/internal/store"
)

// Intent is the JSON shape the apply command accepts.
type Intent struct {
	Type           string            `json:"type"`
	SchemaKey      string            `json:"schemaKey"`
	InstanceID     int64             `json:"instanceId,omitempty"`
	InstanceFilter mutation.Instance `json:"instanceFilter,omitempty"`
	Data           mutation.Instance `json:"data"`
	MetaKey        string            `json:"metaKey,omitempty"`
	MetaData       mutation.Instance `json:"metaData,omitempty"`
}

// ApplyResult summarizes a committed action for command output.
type ApplyResult struct {
	ActionID string            `json:"actionId"`
	Status   string            `json:"status"`
	Attempt  int               `json:"attempt"`
	ResultID any               `json:"resultId,omitempty"`
	Result   mutation.Instance `json:"result,omitempty"`
}

// NewApplyCommand creates the apply command.
func NewApplyCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		dbPath     string
		entityDir  string
		configPath string
	)

	cmd := &cobra.Command{
		Use:   "apply <intent.json>",
		Short: "Commit one mutation intent against a store",
		Long: `Run the full pipeline for one intent read from a JSON file
(or stdin when the argument is "-"): resolve prior state, enrich,
validate, persist, cascade, and audit. The database is created on
first use.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApply(rootOpts, cmd, args[0], dbPath, entityDir, configPath)
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "patchwork.db", "path to the SQLite database")
	cmd.Flags().StringVar(&entityDir, "entities", "", "directory of CUE entity declarations (required)")
	cmd.Flags().StringVar(&configPath, "config", "", "optional engine config YAML")
	_ = cmd.MarkFlagRequired("entities")

	return cmd
}

func runApply(opts *RootOptions, cmd *cobra.Command, intentPath, dbPath, entityDir, configPath string) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	intent, err := readIntent(cmd, intentPath)
	if err != nil {
		_ = formatter.Error(ErrCodeBadIntent, err.Error(), nil)
		return WrapExitError(ExitCommandError, "reading intent", err)
	}

	loaded, err := LoadEntities(entityDir)
	if err != nil {
		var loadErr *LoadError
		if errors.As(err, &loadErr) {
			_ = formatter.Error(loadErr.Code, loadErr.Message, nil)
			return NewExitError(ExitCommandError, loadErr.Error())
		}
		_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return NewExitError(ExitCommandError, err.Error())
	}
	formatter.VerboseLog("Compiled %d entit%s from %s", len(loaded.Keys), pluralY(len(loaded.Keys)), entityDir)

	cfg := engine.DefaultConfig()
	if configPath != "" {
		cfg, err = engine.LoadConfig(configPath)
		if err != nil {
			_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
			return WrapExitError(ExitCommandError, "loading config", err)
		}
	}

	ts := store.Timestamps{CreatedAt: cfg.CreatedAt, UpdatedAt: cfg.UpdatedAt}
	db, err := store.Open(dbPath, ts)
	if err != nil {
		_ = formatter.Error(ErrCodeStoreFailed, err.Error(), nil)
		return WrapExitError(ExitCommandError, "opening store", err)
	}
	defer db.Close()

	// Audit rows must survive a pipeline rollback, so the logger gets its
	// own connection.
	auditDB, err := store.Open(dbPath, store.Timestamps{})
	if err != nil {
		_ = formatter.Error(ErrCodeStoreFailed, err.Error(), nil)
		return WrapExitError(ExitCommandError, "opening audit store", err)
	}
	defer auditDB.Close()

	logger, err := audit.NewLogger(auditDB, audit.UUIDv7Generator{})
	if err != nil {
		_ = formatter.Error(ErrCodeStoreFailed, err.Error(), nil)
		return WrapExitError(ExitCommandError, "preparing audit log", err)
	}

	eng := engine.New(cfg, db, schema.NewRegistry(), logger)
	for _, key := range loaded.Keys {
		if err := eng.RegisterSchema(key, loaded.Definitions[key]); err != nil {
			_ = formatter.Error(ErrCodeStoreFailed, err.Error(), nil)
			return WrapExitError(ExitCommandError, fmt.Sprintf("registering schema %q", key), err)
		}
	}

	a, err := eng.CommitAction(cmd.Context(), mutation.Blank{
		Type:           mutation.Type(intent.Type),
		SchemaKey:      intent.SchemaKey,
		InstanceID:     intent.InstanceID,
		InstanceFilter: intent.InstanceFilter,
		Data:           intent.Data,
		MetaKey:        intent.MetaKey,
		MetaData:       intent.MetaData,
	})
	if err != nil {
		details := any(nil)
		if a != nil {
			details = map[string]any{"actionId": a.ID, "status": string(a.Status)}
		}
		_ = formatter.Error(ErrCodeActionFailed, err.Error(), details)
		return WrapExitError(ExitFailure, "action failed", err)
	}

	result := ApplyResult{
		ActionID: a.ID,
		Status:   string(a.Status),
		Attempt:  a.Attempt,
		ResultID: a.DataResultID,
		Result:   a.DataResult,
	}
	if opts.Format == "json" {
		return formatter.Success(result)
	}
	fmt.Fprintf(formatter.Writer, "✓ action %s %s\n", result.ActionID, result.Status)
	if result.ResultID != nil {
		fmt.Fprintf(formatter.Writer, "  instance id: %v\n", result.ResultID)
	}
	return nil
}

func readIntent(cmd *cobra.Command, path string) (*Intent, error) {
	var r io.Reader
	if path == "-" {
		r = cmd.InOrStdin()
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}

	var intent Intent
	dec := json.NewDecoder(r)
	dec.UseNumber()
	if err := dec.Decode(&intent); err != nil {
		return nil, fmt.Errorf("decoding intent: %w", err)
	}
	intent.Data = normalizeNumbers(intent.Data)
	intent.InstanceFilter = normalizeNumbers(intent.InstanceFilter)
	intent.MetaData = normalizeNumbers(intent.MetaData)
	return &intent, nil
}

// normalizeNumbers settles json.Number values into int64 or float64 so
// downstream typed equality sees native numerics.
func normalizeNumbers(in mutation.Instance) mutation.Instance {
	if in == nil {
		return nil
	}
	out := make(mutation.Instance, len(in))
	for k, v := range in {
		out[k] = normalizeNumber(v)
	}
	return out
}

func normalizeNumber(v any) any {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i
		}
		if f, err := n.Float64(); err == nil {
			return f
		}
		return n.String()
	case map[string]any:
		out := make(map[string]any, len(n))
		for k, item := range n {
			out[k] = normalizeNumber(item)
		}
		return out
	case []any:
		out := make([]any, len(n))
		for i, item := range n {
			out[i] = normalizeNumber(item)
		}
		return out
	default:
		return v
	}
}
