package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattn/go-isatty"

	"arithevo/internal/config"
	"arithevo/internal/storage"
	"arithevo/pkg/arithevo"
)

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "init":
		return runInit(ctx, args[1:], out)
	case "run":
		return runRun(ctx, args[1:], out)
	case "runs":
		return runRuns(ctx, args[1:], out)
	case "history":
		return runHistory(ctx, args[1:], out)
	case "events":
		return runEvents(ctx, args[1:], out)
	case "plot":
		return runPlot(ctx, args[1:], out)
	case "export":
		return runExport(ctx, args[1:], out)
	case "config":
		return runConfig(ctx, args[1:], out)
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

// commonFlags are shared by every subcommand that touches stored runs.
type commonFlags struct {
	configPath    *string
	storeKind     *string
	dbPath        *string
	benchmarksDir *string
	exportsDir    *string
	logLevel      *string
	logFormat     *string
}

func addCommonFlags(fs *flag.FlagSet) commonFlags {
	defaults := config.Default()
	return commonFlags{
		configPath:    fs.String("config", "", "optional YAML/JSON config file"),
		storeKind:     fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite"),
		dbPath:        fs.String("db-path", defaults.Store.DBPath, "sqlite database path"),
		benchmarksDir: fs.String("benchmarks-dir", defaults.Output.BenchmarksDir, "run artifacts directory"),
		exportsDir:    fs.String("exports-dir", defaults.Output.ExportsDir, "export output directory"),
		logLevel:      fs.String("log-level", defaults.Logging.Level, "log level: debug|info|warn|error"),
		logFormat:     fs.String("log-format", defaults.Logging.Format, "log format: text|json"),
	}
}

// load reads the config file and environment, then applies explicitly set
// flags on top.
func (c commonFlags) load(set map[string]bool) (config.Config, error) {
	cfg, err := config.Load(*c.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if set["store"] {
		cfg.Store.Kind = *c.storeKind
	}
	if set["db-path"] {
		cfg.Store.DBPath = *c.dbPath
	}
	if set["benchmarks-dir"] {
		cfg.Output.BenchmarksDir = *c.benchmarksDir
	}
	if set["exports-dir"] {
		cfg.Output.ExportsDir = *c.exportsDir
	}
	if set["log-level"] {
		cfg.Logging.Level = *c.logLevel
	}
	if set["log-format"] {
		cfg.Logging.Format = *c.logFormat
	}
	return cfg, nil
}

func setFlags(fs *flag.FlagSet) map[string]bool {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})
	return set
}

func openClient(cfg config.Config) (*arithevo.Client, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	logger, err := config.NewLogger(os.Stderr, cfg.Logging)
	if err != nil {
		return nil, err
	}
	return arithevo.New(arithevo.Options{
		StoreKind:     cfg.Store.Kind,
		DBPath:        cfg.Store.DBPath,
		BenchmarksDir: cfg.Output.BenchmarksDir,
		ExportsDir:    cfg.Output.ExportsDir,
		Logger:        logger,
	})
}

func runInit(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	common := addCommonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := common.load(setFlags(fs))
	if err != nil {
		return err
	}
	client, err := openClient(cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	if err := client.Init(ctx); err != nil {
		return err
	}
	fmt.Fprintf(out, "initialized store=%s\n", cfg.Store.Kind)
	return nil
}

func runRun(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	common := addCommonFlags(fs)
	defaults := config.Default()
	episodes := fs.Int("episodes", defaults.Run.Episodes, "episode cap (0 runs until interrupted)")
	seed := fs.Int64("seed", defaults.Run.Seed, "rng seed (0 derives one from the clock)")
	learningRate := fs.Float64("learning-rate", defaults.Agent.LearningRate, "learning rate")
	discount := fs.Float64("discount", defaults.Agent.DiscountFactor, "discount factor")
	threshold := fs.Float64("mastery-threshold", defaults.Agent.MasteryThreshold, "window mean reward that must be exceeded to evolve")
	actions := fs.Int("actions", defaults.Agent.ActionCount, "number of candidate answers (0..actions-1)")
	initialTask := fs.String("initial-task", defaults.Agent.InitialTask, "initial task: addition|multiplication")
	exploreAdd := fs.Float64("explore-addition", defaults.Agent.Exploration.Addition, "exploration rate adopted on entering addition")
	exploreMul := fs.Float64("explore-multiplication", defaults.Agent.Exploration.Multiplication, "exploration rate adopted on entering multiplication")
	operandMin := fs.Int("operand-min", defaults.Run.OperandMin, "smallest sampled operand")
	operandMax := fs.Int("operand-max", defaults.Run.OperandMax, "largest sampled operand")
	window := fs.Int("window", defaults.Run.WindowSize, "mastery window size")
	historyLimit := fs.Int("history-limit", defaults.Run.HistoryLimit, "max retained rewards")
	reportEvery := fs.Int("report-every", defaults.Run.ReportEvery, "print progress every N episodes")
	noColor := fs.Bool("no-color", false, "disable coloured progress output")
	quiet := fs.Bool("quiet", false, "suppress progress output")
	plot := fs.Bool("plot", false, "render the reward chart after the run")
	jsonOut := fs.Bool("json", false, "emit the run summary as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	set := setFlags(fs)

	cfg, err := common.load(set)
	if err != nil {
		return err
	}
	if set["episodes"] {
		cfg.Run.Episodes = *episodes
	}
	if set["seed"] {
		cfg.Run.Seed = *seed
	}
	if set["learning-rate"] {
		cfg.Agent.LearningRate = *learningRate
	}
	if set["discount"] {
		cfg.Agent.DiscountFactor = *discount
	}
	if set["mastery-threshold"] {
		cfg.Agent.MasteryThreshold = *threshold
	}
	if set["actions"] {
		cfg.Agent.ActionCount = *actions
	}
	if set["initial-task"] {
		cfg.Agent.InitialTask = *initialTask
	}
	if set["explore-addition"] {
		cfg.Agent.Exploration.Addition = *exploreAdd
	}
	if set["explore-multiplication"] {
		cfg.Agent.Exploration.Multiplication = *exploreMul
	}
	if set["operand-min"] {
		cfg.Run.OperandMin = *operandMin
	}
	if set["operand-max"] {
		cfg.Run.OperandMax = *operandMax
	}
	if set["window"] {
		cfg.Run.WindowSize = *window
	}
	if set["history-limit"] {
		cfg.Run.HistoryLimit = *historyLimit
	}
	if set["report-every"] {
		cfg.Run.ReportEvery = *reportEvery
	}

	client, err := openClient(cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	req := runRequestFromConfig(cfg)
	if !*quiet && !*jsonOut {
		req.Progress = out
		req.Color = !*noColor && isTerminal(out)
	}
	summary, err := client.Run(ctx, req)
	if err != nil {
		return err
	}

	var chartPath string
	if *plot && summary.Episodes > 0 {
		plotted, err := client.Plot(context.WithoutCancel(ctx), arithevo.PlotRequest{RunID: summary.RunID, Window: cfg.Run.WindowSize})
		if err != nil {
			return err
		}
		chartPath = plotted.Path
	}

	if *jsonOut {
		return writeJSON(out, summary)
	}
	if summary.Interrupted {
		fmt.Fprintf(out, "interrupted after %d episodes\n", summary.Episodes)
	}
	fmt.Fprintf(out, "artifacts=%s\n", summary.ArtifactsDir)
	if chartPath != "" {
		fmt.Fprintf(out, "chart=%s\n", chartPath)
	}
	return nil
}

func runRequestFromConfig(cfg config.Config) arithevo.RunRequest {
	discount := cfg.Agent.DiscountFactor
	threshold := cfg.Agent.MasteryThreshold
	return arithevo.RunRequest{
		Episodes:         cfg.Run.Episodes,
		Seed:             cfg.Run.Seed,
		LearningRate:     cfg.Agent.LearningRate,
		DiscountFactor:   &discount,
		MasteryThreshold: &threshold,
		ActionCount:      cfg.Agent.ActionCount,
		InitialTask:      cfg.Agent.InitialTask,
		Exploration: map[string]float64{
			"addition":       cfg.Agent.Exploration.Addition,
			"multiplication": cfg.Agent.Exploration.Multiplication,
		},
		OperandMin:   cfg.Run.OperandMin,
		OperandMax:   cfg.Run.OperandMax,
		WindowSize:   cfg.Run.WindowSize,
		HistoryLimit: cfg.Run.HistoryLimit,
		ReportEvery:  cfg.Run.ReportEvery,
	}
}

func runRuns(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	common := addCommonFlags(fs)
	limit := fs.Int("limit", 20, "max runs to list")
	jsonOut := fs.Bool("json", false, "emit runs list as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *limit <= 0 {
		return errors.New("limit must be > 0")
	}
	client, err := loadClient(common, fs)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	runs, err := client.Runs(ctx, arithevo.RunsRequest{Limit: *limit})
	if err != nil {
		return err
	}
	if *jsonOut {
		return writeJSON(out, runs)
	}
	if len(runs) == 0 {
		fmt.Fprintln(out, "no runs found")
		return nil
	}
	for _, r := range runs {
		fmt.Fprintf(out, "run_id=%s created_at=%s seed=%d episodes=%d final_task=%s evolutions=%d correct_rate=%.4f\n",
			r.RunID, r.CreatedAtUTC, r.Seed, r.Episodes, r.FinalTask, r.Evolutions, r.CorrectRate)
	}
	return nil
}

func runHistory(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	common := addCommonFlags(fs)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "show reward history for the most recent run")
	limit := fs.Int("limit", 50, "most recent rewards to print (<=0 for all)")
	jsonOut := fs.Bool("json", false, "emit reward history as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := checkRunSelection(*runID, *latest, "history"); err != nil {
		return err
	}
	if *limit < 0 {
		*limit = 0
	}
	client, err := loadClient(common, fs)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	history, err := client.RewardHistory(ctx, arithevo.RewardHistoryRequest{
		RunID:  *runID,
		Latest: *latest,
		Limit:  *limit,
	})
	if err != nil {
		return err
	}
	if *jsonOut {
		return writeJSON(out, history)
	}
	if len(history) == 0 {
		fmt.Fprintln(out, "no reward history")
		return nil
	}
	for i, reward := range history {
		fmt.Fprintf(out, "index=%d reward=%g\n", i, reward)
	}
	return nil
}

func runEvents(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("events", flag.ContinueOnError)
	common := addCommonFlags(fs)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "show mastery events for the most recent run")
	jsonOut := fs.Bool("json", false, "emit mastery events as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := checkRunSelection(*runID, *latest, "events"); err != nil {
		return err
	}
	client, err := loadClient(common, fs)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	events, err := client.MasteryEvents(ctx, arithevo.MasteryEventsRequest{RunID: *runID, Latest: *latest})
	if err != nil {
		return err
	}
	if *jsonOut {
		return writeJSON(out, events)
	}
	if len(events) == 0 {
		fmt.Fprintln(out, "no mastery events")
		return nil
	}
	for _, e := range events {
		fmt.Fprintf(out, "episode=%d from=%s to=%s window_mean=%.3f exploration=%.2f\n",
			e.Episode, e.From, e.To, e.WindowMean, e.ExplorationRate)
	}
	return nil
}

func runPlot(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("plot", flag.ContinueOnError)
	common := addCommonFlags(fs)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "plot the most recent run")
	window := fs.Int("window", 0, "rolling average window (0 uses the run's mastery window)")
	step := fs.Int("step", 0, "episodes between plotted points (0 picks one)")
	outPath := fs.String("out", "", "chart output path (defaults to the run's artifact dir)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := checkRunSelection(*runID, *latest, "plot"); err != nil {
		return err
	}
	client, err := loadClient(common, fs)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	plotted, err := client.Plot(ctx, arithevo.PlotRequest{
		RunID:   *runID,
		Latest:  *latest,
		Window:  *window,
		Step:    *step,
		OutPath: *outPath,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "plotted run_id=%s to=%s\n", plotted.RunID, plotted.Path)
	return nil
}

func runExport(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	common := addCommonFlags(fs)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "export the most recent run from run index")
	outDir := fs.String("out", "", "export output directory (defaults to --exports-dir)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := checkRunSelection(*runID, *latest, "export"); err != nil {
		return err
	}
	client, err := loadClient(common, fs)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	exported, err := client.Export(ctx, arithevo.ExportRequest{RunID: *runID, Latest: *latest, OutDir: *outDir})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "exported run_id=%s to=%s\n", exported.RunID, exported.Directory)
	return nil
}

// runConfig prints the effective configuration, or writes it to --out.
func runConfig(_ context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	common := addCommonFlags(fs)
	outPath := fs.String("out", "", "write the configuration to this file instead of stdout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := common.load(setFlags(fs))
	if err != nil {
		return err
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}
	if *outPath == "" {
		return config.Write(out, cfg)
	}
	if err := config.WriteFile(*outPath, cfg); err != nil {
		return err
	}
	fmt.Fprintf(out, "wrote config to=%s\n", *outPath)
	return nil
}

func loadClient(common commonFlags, fs *flag.FlagSet) (*arithevo.Client, error) {
	cfg, err := common.load(setFlags(fs))
	if err != nil {
		return nil, err
	}
	return openClient(cfg)
}

func checkRunSelection(runID string, latest bool, command string) error {
	if runID != "" && latest {
		return errors.New("use either --run-id or --latest, not both")
	}
	if runID == "" && !latest {
		return fmt.Errorf("%s requires --run-id or --latest", command)
	}
	return nil
}

func writeJSON(w io.Writer, value any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: arithevoctl <init|run|runs|history|events|plot|export|config> [flags]", msg)
}
