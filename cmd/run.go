package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/fernandobusta/farm-concurrency/sim"
	"github.com/fernandobusta/farm-concurrency/sim/farm"
	"github.com/fernandobusta/farm-concurrency/sim/journal"
	"github.com/fernandobusta/farm-concurrency/sim/observe"
	"github.com/fernandobusta/farm-concurrency/sim/trace"
)

// runOptions are the output and observability switches of the run command.
type runOptions struct {
	JournalDir  string // zstd JSONL journal directory, "" disables
	DBPath      string // SQLite journal, "" disables
	ObserveAddr string // observer listen address, "" disables
	TraceLevel  string
	JSON        bool // print the summary as JSON instead of the report
}

var runOpts runOptions

// runCmd executes the simulation using the farm file and CLI overrides
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the farm simulation",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if err := runFarm(ctx, configPath, cmd.Flags(), runOpts, cmd.OutOrStdout()); err != nil {
			logrus.Fatalf("%v", err)
		}
	},
}

// runFarm loads the configuration, runs one farm and writes its report.
func runFarm(ctx context.Context, path string, fs *pflag.FlagSet, opts runOptions, out io.Writer) error {
	file, cfg, err := loadFarmConfig(path, fs)
	if err != nil {
		return err
	}
	if !trace.IsValidTraceLevel(opts.TraceLevel) {
		return fmt.Errorf("%w: unknown trace level %q", sim.ErrInvalidConfig, opts.TraceLevel)
	}

	var farmOpts []farm.Option

	var st *trace.SimulationTrace
	if trace.TraceLevel(opts.TraceLevel) == trace.TraceLevelDecisions {
		st = trace.NewSimulationTrace(trace.TraceConfig{Level: trace.TraceLevelDecisions})
		farmOpts = append(farmOpts, farm.WithRecorder(st))
	}

	var jl *journal.JSONLJournal
	if opts.JournalDir != "" {
		if jl, err = journal.NewJSONLJournal(opts.JournalDir, cfg.Clock.DayLength); err != nil {
			return err
		}
		farmOpts = append(farmOpts, farm.WithRecorder(jl))
	}

	var run *journal.RunRecorder
	if opts.DBPath != "" {
		store, err := journal.OpenStore(opts.DBPath)
		if err != nil {
			return fmt.Errorf("open journal db: %w", err)
		}
		defer store.Close()
		if run, err = store.BeginRun(ctx, journal.RunInfo{Seed: cfg.Seed, Config: file, StartedAt: time.Now()}); err != nil {
			return err
		}
		farmOpts = append(farmOpts, farm.WithRecorder(run))
	}

	var obs *observe.Server
	if opts.ObserveAddr != "" {
		farmOpts = append(farmOpts, farm.WithService("observer", func(ctx context.Context) error {
			return obs.Run(ctx)
		}))
	}

	f, err := farm.New(cfg, farmOpts...)
	if err != nil {
		return err
	}
	if opts.ObserveAddr != "" {
		if obs, err = observe.NewServer(f, f.Clock(), opts.ObserveAddr); err != nil {
			return err
		}
	}

	summary, runErr := f.Run(ctx)

	// Sinks are closed before a run error is returned.
	if jl != nil {
		if err := jl.Close(); err != nil {
			logrus.Warnf("journal: %v", err)
		}
		logrus.Infof("journal: %d events in %d files under %s", jl.Count(), len(jl.Files()), opts.JournalDir)
	}
	if run != nil {
		if err := run.Finish(context.Background(), summary); err != nil {
			logrus.Warnf("journal db: %v", err)
		}
		logrus.Infof("journal db: run %s", run.ID())
	}
	if runErr != nil {
		return runErr
	}

	if opts.JSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	}
	writeReport(out, summary)
	if st != nil {
		ts := trace.Summarize(st)
		fmt.Fprintf(out, "\ntrace: %d deliveries, %d allocations, %d stock visits, %d purchases, %d breaks\n",
			ts.Deliveries, ts.Allocations, ts.StockVisits, ts.Purchases, ts.Breaks)
	}
	if run != nil {
		fmt.Fprintf(out, "run id: %s\n", run.ID())
	}
	return nil
}

// addOverrideFlags declares the config override flags. Each also reads
// FARM_<SECTION>_<KEY> from the environment.
func addOverrideFlags(fs *pflag.FlagSet) {
	fs.Int64("seed", 0, "Seed for every random stream")
	fs.Duration("duration", 0, "Wall-clock run time (0 runs until interrupted)")
	fs.Duration("tick", 0, "Wall-clock duration of one tick")
	fs.Int64("day-length", 0, "Ticks per simulated day")
	fs.Int("fields", 0, "Number of fields")
	fs.Int("capacity", 0, "Animals per field")
	fs.Int("farmers", 0, "Number of farmers")
	fs.Int("buyers", 0, "Number of buyers")
	fs.String("allocation", "", "Depot allocation strategy (priority, random)")
	fs.String("schedule", "", "Cron schedule for deliveries on the simulated calendar")
	fs.String("arrival", "", "Delivery gap process (poisson, gamma, weibull)")
}

func init() {
	runCmd.Flags().StringVarP(&configPath, "config", "c", "", "Farm file (.yaml, .yml or .toml); defaults are used when empty")

	addOverrideFlags(runCmd.Flags())

	// Outputs
	runCmd.Flags().StringVar(&runOpts.JournalDir, "journal-dir", "", "Write a zstd JSONL journal, one file per simulated day")
	runCmd.Flags().StringVar(&runOpts.DBPath, "db", "", "Record the run into this SQLite journal")
	runCmd.Flags().StringVar(&runOpts.ObserveAddr, "observe", "", "Serve /metrics, /snapshot and /ws on this address, e.g. :9090")
	runCmd.Flags().StringVar(&runOpts.TraceLevel, "trace-level", "none", "Decision trace level (none, decisions)")
	runCmd.Flags().BoolVar(&runOpts.JSON, "json", false, "Print the final summary as JSON")

	rootCmd.AddCommand(runCmd)
}
