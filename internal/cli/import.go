package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/subimport/internal/application"
	"github.com/JonMunkholm/subimport/internal/backend"
	"github.com/JonMunkholm/subimport/internal/core"
)

// cancelGrace bounds how long an interrupted import may take to stop.
const cancelGrace = 30 * time.Second

type importFlags struct {
	noHeader  bool
	separator string
	mappings  []string
	json      bool
}

func (f *importFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.noHeader, "no-header", false, "treat the first row as data")
	cmd.Flags().StringVar(&f.separator, "separator", "", "column separator: comma, semicolon or tab (default: detect)")
	cmd.Flags().StringArrayVar(&f.mappings, "map", nil, "map a field to a column label or 0-based index, e.g. --map email=E-mail (repeatable; empty column unmaps)")
	cmd.Flags().BoolVar(&f.json, "json", false, "print the report as JSON")
}

func (f *importFlags) parseOptions() (core.ParseOptions, error) {
	sep, err := parseSeparator(f.separator)
	if err != nil {
		return core.ParseOptions{}, err
	}
	return core.ParseOptions{NoHeader: f.noHeader, Separator: sep}, nil
}

func newCheckCmd(rt *runtime) *cobra.Command {
	var flags importFlags
	cmd := &cobra.Command{
		Use:   "check FILE",
		Short: "Parse, map and validate a file without submitting it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rt.check(cmd.Context(), args[0], flags)
		},
	}
	flags.register(cmd)
	return cmd
}

func newImportCmd(rt *runtime) *cobra.Command {
	var flags importFlags
	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Import a file into the configured backend",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rt.runImport(cmd.Context(), args[0], flags)
		},
	}
	flags.register(cmd)
	return cmd
}

// check runs a session against the log backend with a silent logger, so
// every valid row is accepted and nothing leaves the process.
func (rt *runtime) check(ctx context.Context, path string, flags importFlags) error {
	opts, err := flags.parseOptions()
	if err != nil {
		return err
	}
	syn, err := core.LoadSynonyms(rt.cfg.Import.SynonymsFile)
	if err != nil {
		return err
	}
	svcCfg := application.ServiceConfig(rt.cfg, syn)

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dryRun := backend.NewLog(slog.New(slog.NewTextHandler(io.Discard, nil)), rt.cfg.Backend.Concurrency)
	sess := core.NewSession("check", filepath.Base(path), dryRun, core.SessionOptions{
		Read:     svcCfg.Read,
		Parse:    opts,
		Synonyms: svcCfg.Synonyms,
		Rules:    svcCfg.Rules,
		Batcher:  svcCfg.Batcher,
		Logger:   rt.logger,
	})
	if err := sess.Load(ctx, f); err != nil {
		return err
	}

	choices, err := applyMappings(sess.Header(), sess.Suggestion(), flags.mappings)
	if err != nil {
		return err
	}
	if !flags.json {
		printMapping(rt.deps.Out, sess.Header(), choices)
	}

	report, err := sess.Import(ctx, choices)
	if err != nil {
		return err
	}
	return rt.finish(report, flags.json)
}

// runImport goes through the Service so the run is bounded by the same
// limiter and timeout as the HTTP server.
func (rt *runtime) runImport(ctx context.Context, path string, flags importFlags) error {
	opts, err := flags.parseOptions()
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	app, err := application.New(ctx, rt.cfg, rt.logger)
	if err != nil {
		return err
	}
	defer app.Close()
	svc := app.Service

	sess, err := svc.StartImport(ctx, filepath.Base(path), f, opts)
	if err != nil {
		return err
	}

	choices, err := applyMappings(sess.Header(), sess.Suggestion(), flags.mappings)
	if err != nil {
		sess.Cancel()
		return err
	}
	if !flags.json {
		printMapping(rt.deps.Out, sess.Header(), choices)
	}
	if err := svc.ConfirmMapping(ctx, sess.ID(), choices); err != nil {
		sess.Cancel()
		return err
	}

	report, err := svc.Report(ctx, sess.ID(), true)
	if err != nil {
		// interrupted: stop the run and report what was done
		rt.logger.Warn("interrupted, cancelling import", "session_id", sess.ID())
		sess.Cancel()
		waitCtx, cancel := context.WithTimeout(context.Background(), cancelGrace)
		defer cancel()
		if report, err = sess.Wait(waitCtx); err != nil {
			return fmt.Errorf("import did not stop: %w", err)
		}
	}
	return rt.finish(report, flags.json)
}

func (rt *runtime) finish(report *core.ImportReport, asJSON bool) error {
	var err error
	if asJSON {
		err = printReportJSON(rt.deps.Out, report)
	} else {
		err = printReport(rt.deps.Out, report)
	}
	if err != nil {
		return err
	}
	if report.Status == core.StatusCompleted && report.Failed > 0 {
		return fmt.Errorf("%w: %d of %d", ErrRowsFailed, report.Failed, report.Total)
	}
	if report.Status != core.StatusCompleted {
		return fmt.Errorf("import %s", report.Status)
	}
	return nil
}
