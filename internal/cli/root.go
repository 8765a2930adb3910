// Package cli implements the csvimport command line tool.
//
//	csvimport check list.csv --map tags=Labels
//	csvimport import list.csv --separator semicolon --json
//	csvimport db migrate
package cli

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/subimport/internal/config"
	"github.com/JonMunkholm/subimport/internal/logging"
)

// ErrRowsFailed is returned by check and import when at least one row was
// not imported, so scripts can rely on the exit status.
var ErrRowsFailed = errors.New("some rows failed")

// Deps are the process-level dependencies of the command tree.
type Deps struct {
	Out        io.Writer
	Err        io.Writer
	LoadConfig func() (*config.Config, error)
}

// runtime is built once per invocation by the root command.
type runtime struct {
	deps    Deps
	cfg     *config.Config
	logger  *slog.Logger
	verbose bool
}

// NewRootCmd builds the csvimport command tree.
func NewRootCmd(deps Deps) *cobra.Command {
	if deps.Out == nil {
		deps.Out = os.Stdout
	}
	if deps.Err == nil {
		deps.Err = os.Stderr
	}
	if deps.LoadConfig == nil {
		deps.LoadConfig = config.Load
	}
	rt := &runtime{deps: deps}

	root := &cobra.Command{
		Use:           "csvimport",
		Short:         "Validate and import subscriber CSV files",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := deps.LoadConfig()
			if err != nil {
				return err
			}
			level := cfg.Logging.Level
			if rt.verbose {
				level = "debug"
			}
			rt.cfg = cfg
			rt.logger = logging.New(deps.Err, level, cfg.Logging.Format)
			return nil
		},
	}
	root.SetOut(deps.Out)
	root.SetErr(deps.Err)
	root.PersistentFlags().BoolVarP(&rt.verbose, "verbose", "v", false, "log at debug level")

	root.AddCommand(newCheckCmd(rt), newImportCmd(rt), newDBCmd(rt))
	return root
}

// Execute runs the command tree with ctx and returns the process exit code.
func Execute(ctx context.Context, deps Deps, args []string) int {
	root := NewRootCmd(deps)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		reportError(root.ErrOrStderr(), err)
		return 1
	}
	return 0
}
