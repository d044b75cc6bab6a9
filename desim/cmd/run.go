package cmd

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sarchlab/desim/config"
	"github.com/sarchlab/desim/datarecording"
	"github.com/sarchlab/desim/monitoring"
	"github.com/sarchlab/desim/sim"
	"github.com/sarchlab/desim/tracing"
)

type runOptions struct {
	configFile     string
	dotEnv         string
	maxTime        string
	maxSteps       uint64
	monitor        bool
	port           int
	openBrowser    bool
	traceCSV       string
	traceDB        string
	printDecisions bool
	stats          bool
	logActivations bool
	verbose        bool
}

func newRunCommand() *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run <example>",
		Short: "Run one of the bundled examples.",
		Long: `Run one of the bundled examples. Settings come from the ` +
			`config file, then DESIM_* environment variables (a .env file is ` +
			`loaded first), then flags.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ex, found := examples[args[0]]
			if !found {
				return fmt.Errorf("unknown example %q, see desim list", args[0])
			}

			cfg, err := loadConfig(cmd, opts, ex)
			if err != nil {
				return err
			}

			return runExample(cmd, cfg, opts, ex)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.configFile, "config", "", "YAML config file")
	f.StringVar(&opts.dotEnv, "env-file", ".env", "file with DESIM_* variables")
	f.StringVar(&opts.maxTime, "max-time", "", `simulated time limit, e.g. "10 s"`)
	f.Uint64Var(&opts.maxSteps, "max-steps", 0, "activation limit")
	f.BoolVar(&opts.monitor, "monitor", false, "serve the monitoring API")
	f.IntVar(&opts.port, "port", 0, "monitoring port, random if unset")
	f.BoolVar(&opts.openBrowser, "open-browser", false, "open the monitor in a browser")
	f.StringVar(&opts.traceCSV, "trace-csv", "", "write the decision log to this CSV file")
	f.StringVar(&opts.traceDB, "trace-db", "", "write the decision log to this SQLite file")
	f.BoolVar(&opts.printDecisions, "print-decisions", false, "print the decision log after the run")
	f.BoolVar(&opts.stats, "stats", false, "print activation and firing counts after the run")
	f.BoolVar(&opts.logActivations, "log-activations", false, "log every activation to stderr")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "log kernel diagnostics at debug level")

	return cmd
}

func loadConfig(
	cmd *cobra.Command,
	opts *runOptions,
	ex example,
) (config.Config, error) {
	if err := config.LoadDotEnv(opts.dotEnv); err != nil {
		return config.Config{}, err
	}

	var (
		cfg config.Config
		err error
	)

	if opts.configFile != "" {
		cfg, err = config.Load(opts.configFile)
	} else {
		cfg, err = config.FromEnv()
	}

	if err != nil {
		return config.Config{}, err
	}

	if cfg.Name == config.Default().Name {
		cfg.Name = ex.name
	}

	if cfg.MaxTime == "" {
		cfg.MaxTime = ex.defaultMaxTime
	}

	f := cmd.Flags()
	if f.Changed("max-time") {
		cfg.MaxTime = opts.maxTime
	}

	if f.Changed("max-steps") {
		cfg.MaxSteps = opts.maxSteps
	}

	if f.Changed("monitor") {
		cfg.Monitor.Enabled = opts.monitor
	}

	if f.Changed("port") {
		cfg.Monitor.Port = opts.port
	}

	if f.Changed("open-browser") {
		cfg.Monitor.OpenBrowser = opts.openBrowser
	}

	if f.Changed("trace-csv") {
		cfg.Trace.CSV = opts.traceCSV
	}

	if f.Changed("trace-db") {
		cfg.Trace.DB = opts.traceDB
	}

	if opts.verbose {
		cfg.LogLevel = "debug"
	}

	return cfg, cfg.Validate()
}

func runExample(
	cmd *cobra.Command,
	cfg config.Config,
	opts *runOptions,
	ex example,
) error {
	out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()

	b, err := cfg.Builder(errOut)
	if err != nil {
		return err
	}

	tr, err := newTracing(cfg, opts)
	if err != nil {
		return err
	}
	defer tr.close()

	if tr.tracer != nil {
		b = b.WithHook(tr.tracer)
	}

	if opts.logActivations {
		b = b.WithHook(sim.NewActivationLogger(log.New(errOut, "", 0)))
	}

	counts := tracing.NewCountTracer()
	if opts.stats {
		b = b.WithHook(counts)
	}

	var progress *progressHook
	if cfg.Monitor.Enabled {
		progress = &progressHook{}
		b = b.WithHook(progress)
	}

	k := b.Build()

	after, err := ex.setup(k, out)
	if err != nil {
		return err
	}

	if cfg.Monitor.Enabled {
		stop, err := startMonitor(k, cfg, progress)
		if err != nil {
			return err
		}
		defer stop()
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err = k.Run(ctx)

	if after != nil {
		after()
	}

	fmt.Fprintf(errOut, "%s finished at %s after %d activations: %s\n",
		k.Name(), k.CurrentTime(), k.Steps(), k.StopReason())

	if opts.printDecisions {
		fmt.Fprint(out, tr.memory.String())
	}

	if opts.stats {
		printStats(out, counts)
	}

	return err
}

func printStats(w io.Writer, counts *tracing.CountTracer) {
	for _, n := range counts.ProcessNames() {
		fmt.Fprintf(w, "process %s: %d activations\n", n, counts.Activations(n))
	}

	for _, n := range counts.EventNames() {
		fmt.Fprintf(w, "event %s: %d fires\n", n, counts.Fires(n))
	}
}

func startMonitor(
	k *sim.Kernel,
	cfg config.Config,
	progress *progressHook,
) (func(), error) {
	m := monitoring.NewMonitor().
		WithPortNumber(cfg.Monitor.Port).
		WithBrowser(cfg.Monitor.OpenBrowser)
	m.RegisterController(k)

	if t, ok := maxTimeOf(cfg); ok {
		progress.bar = m.CreateProgressBar("simulated time (ps)", uint64(t))
	}

	if err := m.StartServer(); err != nil {
		return nil, err
	}

	return func() {
		if progress.bar != nil {
			m.CompleteProgressBar(progress.bar)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := m.StopServer(ctx); err != nil {
			log.Printf("monitoring: %v", err)
		}
	}, nil
}

func maxTimeOf(cfg config.Config) (sim.VTime, bool) {
	if cfg.MaxTime == "" {
		return 0, false
	}

	d, err := sim.ParseDuration(cfg.MaxTime)
	if err != nil {
		return 0, false
	}

	return sim.VTime(d), true
}

// progressHook reports simulated time on a monitor progress bar.
type progressHook struct {
	bar  *monitoring.ProgressBar
	last sim.VTime
}

func (h *progressHook) Func(ctx sim.HookCtx) {
	if h.bar == nil || ctx.Pos != sim.HookPosTimeAdvance {
		return
	}

	now := ctx.Item.(sim.VTime)
	h.bar.IncrementFinished(uint64(now - h.last))
	h.last = now
}

// decisionTracing owns the writers behind the decision tracer of one run.
type decisionTracing struct {
	tracer   *tracing.DecisionTracer
	memory   *tracing.MemoryLog
	csv      *tracing.CSVWriter
	recorder datarecording.DataRecorder
}

func newTracing(cfg config.Config, opts *runOptions) (*decisionTracing, error) {
	tr := &decisionTracing{memory: tracing.NewMemoryLog()}

	var writers []tracing.DecisionWriter

	if opts.printDecisions {
		writers = append(writers, tr.memory)
	}

	if cfg.Trace.CSV != "" {
		tr.csv = tracing.NewCSVWriter(cfg.Trace.CSV)
		tr.csv.Init()
		writers = append(writers, tr.csv)
	}

	if cfg.Trace.DB != "" {
		tr.recorder = datarecording.New(cfg.Trace.DB)
		writers = append(writers, tracing.NewDBWriter(tr.recorder))
	}

	if len(writers) > 0 {
		tr.tracer = tracing.NewDecisionTracer(writers...)
	}

	return tr, nil
}

func (tr *decisionTracing) close() {
	closers := []io.Closer{}
	if tr.csv != nil {
		closers = append(closers, tr.csv)
	}

	if tr.recorder != nil {
		closers = append(closers, tr.recorder)
	}

	for _, c := range closers {
		if err := c.Close(); err != nil {
			log.Printf("tracing: %v", err)
		}
	}
}
