package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/roach88/kiln/internal/cluster"
	"github.com/roach88/kiln/internal/manifest"
	"github.com/roach88/kiln/internal/planner"
	"github.com/roach88/kiln/internal/store"
)

// PlanOptions holds flags for the plan command.
type PlanOptions struct {
	*RootOptions
	Database      string
	Platforms     []string
	Units         []string
	Budget        time.Duration
	StrictOrder   bool
	Record        bool
	NoIncremental bool
	Metrics       bool
}

// PlanResult is the JSON payload of a plan.
type PlanResult struct {
	ClusterID string         `json:"cluster_id"`
	Platforms []string       `json:"platforms"`
	Build     []string       `json:"build"`
	Skip      []SkippedUnit  `json:"skip"`
	Recorded  int            `json:"recorded"`
	Dropped   []string       `json:"dropped,omitempty"`
	Slices    int            `json:"slices"`
	Metrics   []MetricSample `json:"metrics,omitempty"`
}

// SkippedUnit is a unit left out of the build and why.
type SkippedUnit struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// MetricSample is one gathered metric series.
type MetricSample struct {
	Name   string            `json:"name"`
	Labels map[string]string `json:"labels,omitempty"`
	Value  float64           `json:"value"`
}

// NewPlanCommand creates the plan command.
func NewPlanCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PlanOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "plan <manifest-dir>",
		Short: "Plan which units to build",
		Long: `Plan a build of the units declared in a CUE manifest.

The plan explores the dependency graph from the requested units (every
declared unit by default), consults the attachment database for the outcome
of prior builds, and lists the units to build in dependency order along with
the units skipped and why.

Without --db the plan runs against an empty in-memory database, so every
cookable unit is built.

Exit codes:
  0 - Plan succeeded
  1 - Plan failed (load-order cycle under --strict-order, runaway exploration)
  2 - Command error (unreadable manifest, database error)

Examples:
  kiln plan ./units
  kiln plan --db ./kiln.db --record ./units
  kiln plan --db ./kiln.db --unit Game/Hero --platform win64 ./units
  kiln plan --db ./kiln.db --budget 5ms --metrics --format json ./units`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to the attachment database (default in-memory)")
	cmd.Flags().StringArrayVar(&opts.Platforms, "platform", nil, "target platform, repeatable (default session platforms)")
	cmd.Flags().StringArrayVar(&opts.Units, "unit", nil, "unit to build, repeatable (default every declared unit)")
	cmd.Flags().DurationVar(&opts.Budget, "budget", 0, "time slice per exploration step (0 runs to completion)")
	cmd.Flags().BoolVar(&opts.StrictOrder, "strict-order", false, "fail on a load-order cycle among units to build")
	cmd.Flags().BoolVar(&opts.Record, "record", false, "record built units as successful attachments")
	cmd.Flags().BoolVar(&opts.NoIncremental, "no-incremental", false, "rebuild every unit regardless of prior builds")
	cmd.Flags().BoolVar(&opts.Metrics, "metrics", false, "report exploration metrics")

	return cmd
}

func runPlan(opts *PlanOptions, dir string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	if opts.Budget < 0 {
		return formatter.Fail(ExitCommandError, ErrCodeInvalidOption,
			fmt.Sprintf("budget must not be negative: %s", opts.Budget), nil)
	}

	m, errs := manifest.Load(dir, manifest.LoadModeFailFast)
	if len(errs) > 0 {
		return formatter.Fail(ExitCommandError, errorCode(errs[0]), errorMessage(errs[0]), nil)
	}
	formatter.VerboseLog("Loaded %d unit(s) from %s", len(m.Units), dir)

	for _, name := range opts.Units {
		if _, ok := m.Unit(name); !ok {
			slog.Warn("requested unit is not declared", "unit", name)
		}
	}

	dbPath := opts.Database
	if dbPath == "" {
		dbPath = ":memory:"
		if opts.Record {
			slog.Warn("recording into an in-memory database; attachments are discarded on exit")
		}
	}
	st, err := store.Open(dbPath)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, err.Error(), nil)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()

	planOpts := planner.Options{
		Platforms:          opts.Platforms,
		DisableIncremental: opts.NoIncremental,
		StrictOrder:        opts.StrictOrder,
		Budget:             opts.Budget,
		Record:             opts.Record,
	}
	for _, name := range opts.Units {
		planOpts.Requests = append(planOpts.Requests, cluster.Request{Name: name})
	}

	var reg *prometheus.Registry
	if opts.Metrics {
		reg = prometheus.NewRegistry()
		planOpts.ClusterOptions = append(planOpts.ClusterOptions, cluster.WithMetrics(cluster.NewMetrics(reg)))
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	out, err := planner.Run(ctx, m, st, planOpts)
	if err != nil {
		return formatter.Fail(ExitFailure, planErrorCode(err), err.Error(), nil)
	}

	result := PlanResult{
		ClusterID: out.ClusterID,
		Platforms: out.Platforms,
		Build:     out.Results.ToBuild,
		Skip:      make([]SkippedUnit, 0, len(out.Results.ToSkip)),
		Recorded:  len(out.Recorded),
		Dropped:   out.Dropped,
		Slices:    out.Slices,
	}
	for _, s := range out.Results.ToSkip {
		result.Skip = append(result.Skip, SkippedUnit{Name: s.Name, Reason: s.Reason.String()})
	}
	if reg != nil {
		result.Metrics, err = gatherMetrics(reg)
		if err != nil {
			return formatter.Fail(ExitFailure, ErrCodePlanFailed, err.Error(), nil)
		}
	}

	if formatter.JSON() {
		return formatter.Encode(CLIResponse{Status: "ok", Data: result})
	}
	writePlanText(formatter.Writer, result)
	return nil
}

// signalContext cancels on SIGINT or SIGTERM. A cancelled plan stops at
// its next step and reports the cancellation.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, stopping plan", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan)
		cancel()
	}
}

// gatherMetrics flattens counter, gauge and histogram families into
// samples. Histograms report their observation count and sum.
func gatherMetrics(reg *prometheus.Registry) ([]MetricSample, error) {
	families, err := reg.Gather()
	if err != nil {
		return nil, fmt.Errorf("gather metrics: %w", err)
	}

	var out []MetricSample
	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			var labels map[string]string
			if pairs := metric.GetLabel(); len(pairs) > 0 {
				labels = make(map[string]string, len(pairs))
				for _, lp := range pairs {
					labels[lp.GetName()] = lp.GetValue()
				}
			}
			switch {
			case metric.GetCounter() != nil:
				out = append(out, MetricSample{Name: mf.GetName(), Labels: labels, Value: metric.GetCounter().GetValue()})
			case metric.GetGauge() != nil:
				out = append(out, MetricSample{Name: mf.GetName(), Labels: labels, Value: metric.GetGauge().GetValue()})
			case metric.GetHistogram() != nil:
				h := metric.GetHistogram()
				out = append(out,
					MetricSample{Name: mf.GetName() + "_count", Labels: labels, Value: float64(h.GetSampleCount())},
					MetricSample{Name: mf.GetName() + "_sum", Labels: labels, Value: h.GetSampleSum()},
				)
			}
		}
	}
	return out, nil
}

func writePlanText(w io.Writer, r PlanResult) {
	fmt.Fprintf(w, "Plan %s (platforms: %s)\n", r.ClusterID, strings.Join(r.Platforms, ", "))

	fmt.Fprintf(w, "\nBuild (%d):\n", len(r.Build))
	for i, name := range r.Build {
		fmt.Fprintf(w, "  %d. %s\n", i+1, name)
	}

	if len(r.Skip) > 0 {
		fmt.Fprintf(w, "\nSkip (%d):\n", len(r.Skip))
		for _, s := range r.Skip {
			fmt.Fprintf(w, "  %s (%s)\n", s.Name, s.Reason)
		}
	}

	if r.Recorded > 0 {
		fmt.Fprintf(w, "\nRecorded %d attachment(s)\n", r.Recorded)
	}
	if len(r.Dropped) > 0 {
		fmt.Fprintf(w, "Dropped %d generated unit(s): %s\n", len(r.Dropped), strings.Join(r.Dropped, ", "))
	}

	if len(r.Metrics) > 0 {
		fmt.Fprintln(w, "\nMetrics:")
		for _, m := range r.Metrics {
			fmt.Fprintf(w, "  %s%s %g\n", m.Name, formatLabels(m.Labels), m.Value)
		}
	}
}

func formatLabels(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%q", k, labels[k])
	}
	return "{" + strings.Join(parts, ",") + "}"
}
