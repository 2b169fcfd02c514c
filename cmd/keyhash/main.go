// Package main provides the CLI entry point for the keyhash processor.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/zoobzio/capitan"

	"github.com/canectors/keyhash/internal/cli"
	"github.com/canectors/keyhash/internal/config"
	"github.com/canectors/keyhash/internal/hashing"
	"github.com/canectors/keyhash/internal/logger"
	"github.com/canectors/keyhash/internal/pathutil"
	"github.com/canectors/keyhash/internal/routing"
	"github.com/canectors/keyhash/internal/runtime"
	"github.com/canectors/keyhash/pkg/connector"
)

// Exit codes
const (
	ExitSuccess         = 0
	ExitValidationError = 1
	ExitParseError      = 2
	ExitRuntimeError    = 3
	ExitUnitsFailed     = 4
)

var (
	// Build information (set via ldflags during build)
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// exitError carries a process exit code through cobra.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit code %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func exitWith(code int, err error) error {
	return &exitError{code: code, err: err}
}

// options holds the flag values of one invocation.
type options struct {
	verbose    bool
	quiet      bool
	logFormat  string
	logFile    string
	dryRun     bool
	progress   bool
	workers    int
	successDir string
	failureDir string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// execute runs the command line and returns the process exit code.
func execute(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	cmd := newRootCmd(stdin, stdout, stderr)
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(ctx)
	logger.CloseLogFile()
	if err == nil {
		return ExitSuccess
	}

	var exitErr *exitError
	if errors.As(err, &exitErr) {
		return exitErr.code
	}
	// Usage errors reported by cobra itself.
	fmt.Fprintf(stderr, "✗ %v\n", err)
	return ExitRuntimeError
}

func newRootCmd(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "keyhash",
		Short: "keyhash - keyed hashing of record fields",
		Long: `keyhash reads records from input files, extracts the configured fields,
and writes one {hash, plaintext} record per non-empty value.

Each input file is one unit of work. It is routed to the success directory
as a new file holding the derived records, or to the failure directory
unchanged when any record fails.

Examples:
  # Validate a configuration file
  keyhash validate pipeline.yaml

  # Hash the fields of two files
  KEYHASH_SECRET=... keyhash run pipeline.yaml people.json more.json

  # Count derived records without writing anything
  keyhash run --dry-run pipeline.yaml people.json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := configureLogging(opts); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "✗ %v\n", err)
				return err
			}
			return nil
		},
	}
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable verbose output")
	root.PersistentFlags().BoolVarP(&opts.quiet, "quiet", "q", false, "Suppress non-error output")
	root.PersistentFlags().StringVar(&opts.logFormat, "log-format", "json", "Log format: json or human")
	root.PersistentFlags().StringVar(&opts.logFile, "log-file", "", "Also write JSON logs to this file")

	root.AddCommand(
		newValidateCmd(opts),
		newRunCmd(opts),
		newAlgorithmsCmd(),
		newVersionCmd(),
	)
	return root
}

func configureLogging(opts *options) error {
	format, err := logger.ParseFormat(opts.logFormat)
	if err != nil {
		return exitWith(ExitValidationError, err)
	}

	level := slog.LevelInfo
	switch {
	case opts.verbose:
		level = slog.LevelDebug
	case opts.quiet:
		level = slog.LevelError
	}

	if opts.logFile != "" {
		if err := logger.SetLogFile(opts.logFile, level, format); err != nil {
			return exitWith(ExitRuntimeError, fmt.Errorf("opening log file: %w", err))
		}
		return nil
	}
	logger.SetLevelAndFormat(level, format)
	return nil
}

func newValidateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <config-file>",
		Short: "Validate a pipeline configuration file",
		Long: `Validate a pipeline configuration file against the schema, then check
module types, the hash algorithm and every static path expression.

The hash key is not resolved, so hashKeyRef may name a variable that is
not set in this environment.

Exit codes:
  0 - Configuration is valid
  1 - Validation errors
  2 - Parse errors (unreadable file, invalid JSON/YAML syntax)`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath := args[0]
			out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()

			if !opts.quiet {
				fmt.Fprintf(out, "Validating configuration: %s\n", configPath)
			}
			pipeline, result, err := loadConfig(configPath, opts, errOut)
			if err != nil {
				return err
			}

			if !opts.quiet {
				fmt.Fprintf(out, "✓ Configuration is valid (format: %s)\n", result.Format)
				if opts.verbose {
					cli.PrintConfigSummary(out, result.Data)
					fmt.Fprintf(out, "  Properties: %d\n", len(pipeline.KeyHash.Properties))
				}
			}
			return nil
		},
	}
}

// loadConfig loads a configuration and prints its errors, mapping them to
// exit codes.
func loadConfig(path string, opts *options, errOut io.Writer) (*connector.Pipeline, *config.Result, error) {
	pipeline, result, err := config.NewLoader(nil).Load(path)
	switch {
	case err == nil:
		return pipeline, result, nil
	case errors.Is(err, config.ErrParse):
		cli.PrintParseErrors(errOut, result.ParseErrors, opts.verbose)
		return nil, nil, exitWith(ExitParseError, err)
	default:
		cli.PrintValidationErrors(errOut, result.ValidationErrors, opts.verbose, opts.quiet)
		return nil, nil, exitWith(ExitValidationError, err)
	}
}

func newRunCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <config-file> [input-file...]",
		Short: "Process input files through a pipeline",
		Long: `Process each input file as one unit of work. Without input files, standard
input is processed as a single unit named "stdin".

Relative routing directories in the configuration are resolved against the
directory of the configuration file. --success-dir and --failure-dir
override them.

Exit codes:
  0 - Every unit routed to success
  1 - Validation errors
  2 - Parse errors
  3 - Runtime errors (key resolution, module setup, routing)
  4 - At least one unit routed to failure`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd, opts, args[0], args[1:])
		},
	}

	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Run the transform and count records without writing or routing output")
	cmd.Flags().BoolVar(&opts.progress, "progress", false, "Print a line to stderr as each unit finishes")
	cmd.Flags().IntVarP(&opts.workers, "workers", "w", 0, "Units processed concurrently (overrides connector.workers)")
	cmd.Flags().StringVar(&opts.successDir, "success-dir", "", "Directory receiving successful outputs")
	cmd.Flags().StringVar(&opts.failureDir, "failure-dir", "", "Directory receiving failed inputs")
	return cmd
}

func runPipeline(cmd *cobra.Command, opts *options, configPath string, inputs []string) error {
	out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()
	startedAt := time.Now()

	pipeline, _, err := loadConfig(configPath, opts, errOut)
	if err != nil {
		return err
	}
	if err := config.NewLoader(nil).ResolveHashKey(pipeline); err != nil {
		fmt.Fprintf(errOut, "✗ %v\n", err)
		return exitWith(ExitRuntimeError, err)
	}
	applyRoutingOverrides(pipeline, configPath, opts)

	processor, err := runtime.NewProcessor(pipeline, opts.dryRun)
	if err != nil {
		fmt.Fprintf(errOut, "✗ Failed to build pipeline: %v\n", err)
		return exitWith(ExitRuntimeError, err)
	}
	defer func() {
		if closeErr := processor.Close(); closeErr != nil {
			logger.Warn("failed to close processor", slog.String("error", closeErr.Error()))
		}
	}()
	if opts.workers > 0 {
		processor.SetWorkers(opts.workers)
	}

	var router runtime.Router
	if !opts.dryRun {
		r, routerErr := routing.NewDirectoryRouter(pipeline.Routing)
		if routerErr != nil {
			fmt.Fprintf(errOut, "✗ Failed to prepare routing: %v\n", routerErr)
			return exitWith(ExitRuntimeError, routerErr)
		}
		router = r
	}

	flowFiles, err := readFlowFiles(cmd.InOrStdin(), inputs)
	if err != nil {
		fmt.Fprintf(errOut, "✗ %v\n", err)
		return exitWith(ExitRuntimeError, err)
	}

	if !opts.quiet {
		fmt.Fprintf(out, "Processing %d unit(s) with pipeline %s\n", len(flowFiles), pipeline.Name)
	}
	if opts.progress {
		stop := reportProgress(processor, errOut, len(flowFiles))
		defer stop()
	}
	outcomes, err := processor.ProcessAll(cmd.Context(), flowFiles, router)
	cli.PrintRunSummary(out, outcomes, time.Since(startedAt), cli.OutputOptions{
		Verbose: opts.verbose,
		Quiet:   opts.quiet,
		DryRun:  opts.dryRun,
	})
	if err != nil {
		fmt.Fprintf(errOut, "✗ Routing failed: %v\n", err)
		return exitWith(ExitRuntimeError, err)
	}

	if cli.Totals(outcomes).Failed > 0 {
		return exitWith(ExitUnitsFailed, nil)
	}
	return nil
}

// reportProgress prints a line per finished unit from the processor's
// lifecycle signals. The returned function detaches the reporter.
func reportProgress(processor *runtime.Processor, w io.Writer, total int) func() {
	events := capitan.New(capitan.WithSyncMode())
	processor.SetEvents(events)

	var mu sync.Mutex
	done := 0
	observer := runtime.ObserveUnits(events, func(ev runtime.UnitEvent) {
		if !ev.Finished() {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		done++
		cli.PrintUnitProgress(w, cli.UnitProgress{
			Done:     done,
			Total:    total,
			Filename: ev.Filename,
			Failed:   ev.Signal == runtime.SignalUnitFailed,
			Records:  ev.RecordCount,
			Category: ev.Category,
		})
	})
	return func() {
		observer.Close()
		events.Shutdown()
	}
}

// applyRoutingOverrides applies the directory flags and anchors relative
// routing directories at the configuration file.
func applyRoutingOverrides(pipeline *connector.Pipeline, configPath string, opts *options) {
	if pipeline.Routing == nil {
		pipeline.Routing = &connector.RoutingConfig{}
	}
	r := pipeline.Routing

	base := filepath.Dir(configPath)
	anchor := func(dir string) string {
		if dir == "" || filepath.IsAbs(dir) {
			return dir
		}
		return filepath.Join(base, dir)
	}
	r.Success = anchor(r.Success)
	r.Failure = anchor(r.Failure)

	if opts.successDir != "" {
		r.Success = opts.successDir
	}
	if opts.failureDir != "" {
		r.Failure = opts.failureDir
	}
}

// readFlowFiles turns each input file into a unit of work, or stdin when no
// file is given. Inputs sharing a base name keep it for the first one; later
// ones are named <unit id>-<name> so no routed output replaces another.
func readFlowFiles(stdin io.Reader, paths []string) ([]*connector.FlowFile, error) {
	if len(paths) == 0 {
		content, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("reading standard input: %w", err)
		}
		ff, err := runtime.NewFlowFile(content, map[string]string{connector.AttrFilename: "stdin"})
		if err != nil {
			return nil, err
		}
		return []*connector.FlowFile{ff}, nil
	}

	flowFiles := make([]*connector.FlowFile, 0, len(paths))
	seen := make(map[string]bool, len(paths))
	for _, path := range paths {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading input file: %w", err)
		}
		ff, err := runtime.NewFlowFile(content, map[string]string{
			connector.AttrFilename: filepath.Base(path),
			"path":                 filepath.Dir(path),
		})
		if err != nil {
			return nil, err
		}
		name := ff.Filename()
		if seen[name] {
			name = pathutil.PrefixedName(name, ff.ID)
			ff.Attributes[connector.AttrFilename] = name
		}
		seen[name] = true
		flowFiles = append(flowFiles, ff)
	}
	return flowFiles, nil
}

func newAlgorithmsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "algorithms",
		Short: "List supported hash algorithms",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			cli.PrintAlgorithms(cmd.OutOrStdout(), hashing.SupportedAlgorithms(), hashing.DefaultAlgorithm)
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Long:  "Print version, commit hash, and build date information.",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Version: %s\n", version)
			fmt.Fprintf(out, "Commit: %s\n", commit)
			fmt.Fprintf(out, "Build Date: %s\n", buildDate)
		},
	}
}
