// Package commands implements CLI command handlers for sparsedb-assemble.
package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/perftools/sparsedb-core/internal/assembler"
	"github.com/perftools/sparsedb-core/internal/observability"
	"github.com/perftools/sparsedb-core/internal/simulate"
	"github.com/perftools/sparsedb-core/pkg/config"
	"github.com/perftools/sparsedb-core/pkg/rankio"
	"github.com/perftools/sparsedb-core/pkg/version"
)

// ErrNoRanks is returned when a run would simulate zero ranks.
var ErrNoRanks = errors.New("sparsedb-assemble: at least one rank is required")

// RunOptions holds the flags the run command exposes.
type RunOptions struct {
	ConfigFile string
	Manifest   string

	Ranks      int
	Threads    int
	Contexts   int
	Timepoints int
	Seed       uint64

	OutputDir string
	NoColor   bool
}

// NewRunCommand builds the "run" subcommand: a local, single-process
// simulation of an N-rank, M-thread-per-rank profiling run, assembled into
// profile.db, cct.db, and trace.db, followed by a stats report.
func NewRunCommand() *cobra.Command {
	opts := &RunOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Simulate a local multi-rank run and assemble profile.db/cct.db/trace.db",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMain(cmd.Context(), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.ConfigFile, "config", "", "path to a sparsedb config YAML file")
	flags.StringVar(&opts.Manifest, "manifest", "", "path to a JSON run manifest (overrides --ranks/--threads/--contexts/--timepoints)")
	flags.IntVar(&opts.Ranks, "ranks", 1, "number of ranks to simulate")
	flags.IntVar(&opts.Threads, "threads", 2, "threads per simulated rank")
	flags.IntVar(&opts.Contexts, "contexts", 8, "distinct contexts each simulated thread touches")
	flags.IntVar(&opts.Timepoints, "timepoints", 32, "trace samples each simulated thread emits")
	flags.Uint64Var(&opts.Seed, "seed", 1, "PRNG seed for the synthetic workload")
	flags.StringVar(&opts.OutputDir, "output", "", "output directory (overrides config)")
	flags.BoolVar(&opts.NoColor, "no-color", false, "disable colored warnings")

	return cmd
}

func runMain(ctx context.Context, opts *RunOptions) error {
	cfg, err := config.LoadConfig(opts.ConfigFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if opts.OutputDir != "" {
		cfg.Output.Directory = opts.OutputDir
	}

	if opts.Ranks > 0 {
		cfg.Collective.Ranks = opts.Ranks
	}

	color.NoColor = opts.NoColor //nolint:reassign // intentional override of library global

	workloads, err := buildWorkloads(opts)
	if err != nil {
		return err
	}

	if len(workloads) == 0 {
		return ErrNoRanks
	}

	version.InitBinaryVersion()

	providers, err := observability.Init(observability.Config{
		ServiceName:        "sparsedb-assemble",
		ServiceVersion:     version.Version,
		Mode:               observability.ModeCLI,
		LogLevel:           slog.LevelInfo,
		ShutdownTimeoutSec: 5,
	})
	if err != nil {
		return fmt.Errorf("init observability: %w", err)
	}
	defer func() { _ = providers.Shutdown(context.Background()) }()

	metrics, err := observability.NewAssemblerMetrics(providers.Meter)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	var diag *observability.DiagnosticsServer

	if cfg.Observability.MetricsEnabled {
		diag, err = observability.NewDiagnosticsServer(cfg.Observability.MetricsAddr, providers.MetricsHandler)
		if err != nil {
			providers.Logger.Warn("diagnostics server not started", "error", err)
		} else {
			defer func() { _ = diag.Close() }()

			providers.Logger.Info("diagnostics server listening", "addr", diag.Addr())
		}
	}

	if err := os.MkdirAll(cfg.Output.Directory, 0o755); err != nil { //nolint:gosec
		return fmt.Errorf("create output directory: %w", err)
	}

	files, closeFiles, err := openOutputFiles(cfg.Output.Directory)
	if err != nil {
		return err
	}
	defer closeFiles()

	start := time.Now()

	stats, err := runSimulation(ctx, cfg, workloads, files, opts.Seed, metrics, providers.Logger)
	if err != nil {
		return err
	}

	elapsed := time.Since(start)

	return printReport(cfg.Output.Directory, files, stats, elapsed)
}

func buildWorkloads(opts *RunOptions) ([]simulate.RankWorkload, error) {
	if opts.Manifest != "" {
		manifest, err := config.LoadRunManifest(opts.Manifest)
		if err != nil {
			return nil, fmt.Errorf("load run manifest: %w", err)
		}

		return simulate.FromManifest(manifest), nil
	}

	return simulate.Uniform(opts.Ranks, opts.Threads, opts.Contexts, opts.Timepoints), nil
}

type outputFiles struct {
	profile *os.File
	cct     *os.File
	trace   *os.File
}

func openOutputFiles(dir string) (outputFiles, func(), error) {
	open := func(name string) (*os.File, error) {
		f, err := os.OpenFile(filepath.Join(dir, name), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644) //nolint:gosec
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", name, err)
		}

		return f, nil
	}

	profile, err := open("profile.db")
	if err != nil {
		return outputFiles{}, nil, err
	}

	cct, err := open("cct.db")
	if err != nil {
		_ = profile.Close()

		return outputFiles{}, nil, err
	}

	trace, err := open("trace.db")
	if err != nil {
		_ = profile.Close()
		_ = cct.Close()

		return outputFiles{}, nil, err
	}

	files := outputFiles{profile: profile, cct: cct, trace: trace}

	closer := func() {
		_ = profile.Close()
		_ = cct.Close()
		_ = trace.Close()
	}

	return files, closer, nil
}

func runSimulation(
	ctx context.Context,
	cfg *config.Config,
	workloads []simulate.RankWorkload,
	files outputFiles,
	seed uint64,
	metrics *observability.AssemblerMetrics,
	logger *slog.Logger,
) ([]simulate.RankStats, error) {
	ranks := len(workloads)
	capacity := simulate.ContextCapacity(workloads)

	var cohorts []rankio.Cohort
	if ranks == 1 {
		cohorts = []rankio.Cohort{rankio.NewLocalCohort()}
	} else {
		cohorts = rankio.NewSimCohortGroup(ranks)
	}

	asmFiles := assembler.Files{Profile: files.profile, CCT: files.cct, Trace: files.trace}

	stats := make([]simulate.RankStats, ranks)
	errs := make([]error, ranks)

	var wg sync.WaitGroup

	for r := 0; r < ranks; r++ {
		wg.Add(1)

		go func(r int) {
			defer wg.Done()

			s, err := simulate.RunRank(ctx, cohorts[r], asmFiles, capacity, workloads[r],
				uint64(cfg.Output.GroupSizeCapBytes), cfg.Output.BufferSizeBytes, cfg.Collective.Workers, //nolint:gosec
				metrics, seed)
			stats[r] = s
			errs[r] = err
		}(r)
	}

	wg.Wait()

	for r, err := range errs {
		if err != nil {
			logger.Error("rank failed", "rank", r, "error", err)

			return nil, fmt.Errorf("rank %d: %w", r, err)
		}
	}

	return stats, nil
}

func printReport(dir string, files outputFiles, stats []simulate.RankStats, elapsed time.Duration) error {
	fmt.Printf("assembled %s in %s\n", dir, elapsed.Round(time.Millisecond))

	sizeOf := func(f *os.File) int64 {
		info, err := f.Stat()
		if err != nil {
			return 0
		}

		return info.Size()
	}

	sizes := table.NewWriter()
	sizes.SetOutputMirror(os.Stdout)
	sizes.AppendHeader(table.Row{"File", "Size"})
	sizes.AppendRow(table.Row{"profile.db", humanize.Bytes(uint64(sizeOf(files.profile)))}) //nolint:gosec
	sizes.AppendRow(table.Row{"cct.db", humanize.Bytes(uint64(sizeOf(files.cct)))})         //nolint:gosec
	sizes.AppendRow(table.Row{"trace.db", humanize.Bytes(uint64(sizeOf(files.trace)))})     //nolint:gosec
	sizes.Render()

	ranks := table.NewWriter()
	ranks.SetOutputMirror(os.Stdout)
	ranks.AppendHeader(table.Row{"Rank", "Threads", "Contexts touched", "Timepoints"})

	var totalTimepoints int

	for _, s := range stats {
		ranks.AppendRow(table.Row{s.Rank, s.Threads, s.ContextsTouched, s.TimepointsEmitted})
		totalTimepoints += s.TimepointsEmitted

		if s.TimepointsEmitted == 0 {
			color.New(color.FgYellow).Printf("warning: rank %d emitted no timepoints\n", s.Rank)
		}
	}

	ranks.Render()

	color.New(color.FgGreen).Printf("%d timepoints across %d rank(s)\n", totalTimepoints, len(stats))

	return nil
}
