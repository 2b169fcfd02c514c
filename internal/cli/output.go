package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/canectors/keyhash/pkg/connector"
)

// OutputOptions configures CLI output behavior.
type OutputOptions struct {
	Verbose bool
	Quiet   bool
	DryRun  bool
}

// RunTotals aggregates the outcomes of one run.
type RunTotals struct {
	Units     int
	Succeeded int
	Failed    int
	Records   int
}

// Totals counts outcomes by relationship and sums written records.
func Totals(outcomes []*connector.Outcome) RunTotals {
	totals := RunTotals{Units: len(outcomes)}
	for _, o := range outcomes {
		if o == nil {
			continue
		}
		if o.Relationship == connector.RelationshipSuccess {
			totals.Succeeded++
			if o.Result != nil {
				totals.Records += o.Result.RecordsProcessed
			}
		} else {
			totals.Failed++
		}
	}
	return totals
}

// PrintRunSummary displays one line per unit (verbose or failed units) and
// the run totals.
func PrintRunSummary(w io.Writer, outcomes []*connector.Outcome, duration time.Duration, opts OutputOptions) {
	for _, o := range outcomes {
		if o == nil || o.FlowFile == nil {
			continue
		}
		switch {
		case o.Relationship == connector.RelationshipFailure:
			fmt.Fprintf(w, "✗ %s: %s\n", o.FlowFile.Filename(), failureMessage(o))
		case opts.Verbose:
			fmt.Fprintf(w, "✓ %s: %s records\n", o.FlowFile.Filename(), o.FlowFile.Attributes[connector.AttrRecordCount])
		}
	}

	if opts.Quiet {
		return
	}

	totals := Totals(outcomes)
	status := "✓ Run completed"
	if totals.Failed > 0 {
		status = "⚠ Run completed with failures"
	}
	fmt.Fprintln(w, status)
	fmt.Fprintf(w, "  Units: %d (%d success, %d failure)\n", totals.Units, totals.Succeeded, totals.Failed)
	fmt.Fprintf(w, "  Records written: %d\n", totals.Records)
	if opts.Verbose {
		fmt.Fprintf(w, "  Duration: %v\n", duration.Round(time.Millisecond))
	}
	if opts.DryRun {
		fmt.Fprintln(w, "ℹ Dry-run: output discarded, nothing routed")
	}
}

// UnitProgress describes one finished unit during a run.
type UnitProgress struct {
	Done     int
	Total    int
	Filename string
	Failed   bool
	Records  int
	Category string
}

// PrintUnitProgress prints a progress line for a finished unit.
func PrintUnitProgress(w io.Writer, p UnitProgress) {
	if p.Failed {
		fmt.Fprintf(w, "[%d/%d] ✗ %s (%s)\n", p.Done, p.Total, p.Filename, p.Category)
		return
	}
	fmt.Fprintf(w, "[%d/%d] ✓ %s (%d records)\n", p.Done, p.Total, p.Filename, p.Records)
}

func failureMessage(o *connector.Outcome) string {
	if o.Result != nil && o.Result.Error != nil {
		e := o.Result.Error
		return fmt.Sprintf("[%s] %s", e.ErrorCategory, e.Message)
	}
	if o.Err != nil {
		return o.Err.Error()
	}
	return "unknown error"
}

// PrintConfigSummary prints connector name and version if available.
func PrintConfigSummary(w io.Writer, data map[string]interface{}) {
	conn, ok := data["connector"].(map[string]interface{})
	if !ok {
		return
	}
	if name, ok := conn["name"].(string); ok {
		fmt.Fprintf(w, "  Connector: %s\n", name)
	}
	if version, ok := conn["version"].(string); ok {
		fmt.Fprintf(w, "  Version: %s\n", version)
	}
}

// PrintAlgorithms lists the supported hash algorithms, marking the default.
func PrintAlgorithms(w io.Writer, names []string, defaultName string) {
	for _, name := range names {
		if name == defaultName {
			fmt.Fprintf(w, "%s (default)\n", name)
			continue
		}
		fmt.Fprintln(w, name)
	}
}
