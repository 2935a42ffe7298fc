package arithevo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"arithevo/internal/agent"
	"arithevo/internal/driver"
	"arithevo/internal/model"
	"arithevo/internal/report"
	"arithevo/internal/stats"
	"arithevo/internal/storage"
	"arithevo/internal/task"
)

const (
	defaultBenchmarksDir = "benchmarks"
	defaultExportsDir    = "exports"
	defaultDBPath        = "arithevo.db"

	// createdAtLayout is fixed width so timestamps sort lexically.
	createdAtLayout = "2006-01-02T15:04:05.000000000Z"
)

type Options struct {
	StoreKind     string
	DBPath        string
	BenchmarksDir string
	ExportsDir    string
	Logger        *slog.Logger
}

type Client struct {
	store  storage.Store
	logger *slog.Logger

	initMu      sync.Mutex
	initialized bool

	benchmarksDir string
	exportsDir    string
}

// RunRequest configures one training run. Zero values select defaults.
type RunRequest struct {
	// Episodes caps the run; <= 0 runs until ctx is done.
	Episodes int
	// Seed 0 derives a seed from the clock.
	Seed         int64
	LearningRate float64
	// DiscountFactor and MasteryThreshold use defaults when nil since zero
	// is a meaningful value for both.
	DiscountFactor   *float64
	MasteryThreshold *float64
	ActionCount      int
	InitialTask      string
	// Exploration maps task names to the rate adopted on entering that
	// task. Missing tasks use the default rate.
	Exploration  map[string]float64
	OperandMin   int
	OperandMax   int
	WindowSize   int
	HistoryLimit int

	// Progress receives console progress lines and the final summary when
	// set.
	Progress    io.Writer
	ReportEvery int
	Color       bool
}

type RunSummary struct {
	RunID           string
	ArtifactsDir    string
	Seed            int64
	Episodes        int
	Interrupted     bool
	FinalTask       string
	ExplorationRate float64
	CorrectRate     float64
	FinalWindowMean float64
	MasteryEvents   []model.MasteryEvent
}

type RunsRequest struct {
	Limit int
}

type RunItem struct {
	RunID        string
	CreatedAtUTC string
	Seed         int64
	Episodes     int
	FinalTask    string
	Evolutions   int
	CorrectRate  float64
}

type RewardHistoryRequest struct {
	RunID  string
	Latest bool
	// Limit keeps only the most recent rewards when > 0.
	Limit int
}

type MasteryEventsRequest struct {
	RunID  string
	Latest bool
}

type PlotRequest struct {
	RunID  string
	Latest bool
	Window int
	Step   int
	// OutPath defaults to reward_chart.html in the run's artifact dir.
	OutPath string
}

type PlotSummary struct {
	RunID string
	Path  string
}

type ExportRequest struct {
	RunID  string
	Latest bool
	OutDir string
}

type ExportSummary struct {
	RunID     string
	Directory string
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = storage.DefaultStoreKind()
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	benchmarksDir := opts.BenchmarksDir
	if benchmarksDir == "" {
		benchmarksDir = defaultBenchmarksDir
	}
	exportsDir := opts.ExportsDir
	if exportsDir == "" {
		exportsDir = defaultExportsDir
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}

	return &Client{
		store:         store,
		logger:        logger,
		benchmarksDir: benchmarksDir,
		exportsDir:    exportsDir,
	}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Init(ctx context.Context) error {
	c.initMu.Lock()
	defer c.initMu.Unlock()
	if c.initialized {
		return nil
	}
	if err := c.store.Init(ctx); err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	c.initialized = true
	return nil
}

// Run trains a fresh agent until the episode cap or until ctx is done, then
// persists the run's telemetry. Cancellation is not an error: the partial
// run is saved and reported with Interrupted set.
func (c *Client) Run(ctx context.Context, req RunRequest) (RunSummary, error) {
	cfg, err := agentConfig(req)
	if err != nil {
		return RunSummary{}, err
	}
	if req.OperandMin == 0 && req.OperandMax == 0 {
		req.OperandMin = driver.DefaultOperandMin
		req.OperandMax = driver.DefaultOperandMax
	}
	if req.WindowSize <= 0 {
		req.WindowSize = driver.DefaultWindowSize
	}
	if req.HistoryLimit <= 0 {
		req.HistoryLimit = driver.DefaultHistoryLimit
	}
	if req.Seed == 0 {
		req.Seed = time.Now().UnixNano()
	}
	if err := c.Init(ctx); err != nil {
		return RunSummary{}, err
	}

	rng := rand.New(rand.NewSource(req.Seed))
	learner, err := agent.New(cfg, rng)
	if err != nil {
		return RunSummary{}, err
	}
	operands, err := driver.NewUniformOperands(rng, req.OperandMin, req.OperandMax)
	if err != nil {
		return RunSummary{}, err
	}

	runID := uuid.NewString()
	logger := c.logger.With("run_id", runID)
	var observer driver.Observer
	if req.Progress != nil {
		observer = report.NewConsole(req.Progress, req.ReportEvery, req.Color)
	}
	d, err := driver.New(learner, operands, driver.Config{
		WindowSize:   req.WindowSize,
		HistoryLimit: req.HistoryLimit,
		Observer:     observer,
		Logger:       logger,
	})
	if err != nil {
		return RunSummary{}, err
	}

	logger.Info("run started",
		"seed", req.Seed,
		"episodes", req.Episodes,
		"initial_task", cfg.InitialTask.String(),
	)
	result, runErr := d.Run(ctx, req.Episodes)
	interrupted := false
	if runErr != nil {
		if !errors.Is(runErr, context.Canceled) && !errors.Is(runErr, context.DeadlineExceeded) {
			return RunSummary{}, runErr
		}
		interrupted = true
	}

	record := model.RunRecord{
		VersionedRecord:   storage.CurrentVersion(),
		ID:                runID,
		CreatedAtUTC:      time.Now().UTC().Format(createdAtLayout),
		Seed:              req.Seed,
		Episodes:          result.Episodes,
		RequestedEpisodes: max(req.Episodes, 0),
		Interrupted:       interrupted,
		InitialTask:       cfg.InitialTask.String(),
		FinalTask:         result.FinalTask.String(),
		FinalExploration:  result.ExplorationRate,
		Evolutions:        len(result.Evolutions),
		LearningRate:      cfg.LearningRate,
		DiscountFactor:    cfg.DiscountFactor,
		MasteryThreshold:  cfg.MasteryThreshold,
		ActionCount:       cfg.ActionCount,
		OperandMin:        req.OperandMin,
		OperandMax:        req.OperandMax,
		WindowSize:        req.WindowSize,
		FinalWindowMean:   result.WindowMean,
		CorrectRate:       result.CorrectRate(),
		HistoryOffset:     result.HistoryOffset,
	}
	events := masteryEvents(result.Evolutions)

	// Telemetry is saved even when ctx was cancelled mid-run.
	persistCtx := context.WithoutCancel(ctx)
	if err := c.persist(persistCtx, record, result.RewardHistory, events); err != nil {
		return RunSummary{}, err
	}
	artifactsDir, err := stats.WriteRunArtifacts(c.benchmarksDir, stats.RunArtifacts{
		Run:           record,
		RewardHistory: result.RewardHistory,
		MasteryEvents: events,
	})
	if err != nil {
		return RunSummary{}, fmt.Errorf("write run artifacts: %w", err)
	}
	if err := stats.AppendRunIndex(c.benchmarksDir, stats.RunIndexEntry{
		RunID:        record.ID,
		Seed:         record.Seed,
		Episodes:     record.Episodes,
		FinalTask:    record.FinalTask,
		Evolutions:   record.Evolutions,
		CorrectRate:  record.CorrectRate,
		CreatedAtUTC: record.CreatedAtUTC,
	}); err != nil {
		return RunSummary{}, fmt.Errorf("append run index: %w", err)
	}
	logger.Info("run finished",
		"episodes", record.Episodes,
		"interrupted", interrupted,
		"final_task", record.FinalTask,
		"evolutions", record.Evolutions,
		"correct_rate", record.CorrectRate,
	)
	if req.Progress != nil {
		report.WriteSummary(req.Progress, runID, result)
	}

	return RunSummary{
		RunID:           runID,
		ArtifactsDir:    artifactsDir,
		Seed:            record.Seed,
		Episodes:        record.Episodes,
		Interrupted:     interrupted,
		FinalTask:       record.FinalTask,
		ExplorationRate: record.FinalExploration,
		CorrectRate:     record.CorrectRate,
		FinalWindowMean: record.FinalWindowMean,
		MasteryEvents:   events,
	}, nil
}

// Runs lists runs newest first from the run index. When the index is
// missing or empty the store's own run records are listed instead.
func (c *Client) Runs(ctx context.Context, req RunsRequest) ([]RunItem, error) {
	if req.Limit <= 0 {
		req.Limit = 20
	}

	entries, err := stats.ListRunIndex(c.benchmarksDir)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		if err := c.Init(ctx); err != nil {
			return nil, err
		}
		records, err := c.store.ListRuns(ctx)
		if err != nil {
			return nil, fmt.Errorf("list runs: %w", err)
		}
		for _, r := range records {
			entries = append(entries, stats.RunIndexEntry{
				RunID:        r.ID,
				Seed:         r.Seed,
				Episodes:     r.Episodes,
				FinalTask:    r.FinalTask,
				Evolutions:   r.Evolutions,
				CorrectRate:  r.CorrectRate,
				CreatedAtUTC: r.CreatedAtUTC,
			})
		}
	}
	if len(entries) > req.Limit {
		entries = entries[:req.Limit]
	}

	out := make([]RunItem, 0, len(entries))
	for _, e := range entries {
		out = append(out, RunItem{
			RunID:        e.RunID,
			CreatedAtUTC: e.CreatedAtUTC,
			Seed:         e.Seed,
			Episodes:     e.Episodes,
			FinalTask:    e.FinalTask,
			Evolutions:   e.Evolutions,
			CorrectRate:  e.CorrectRate,
		})
	}
	return out, nil
}

// RewardHistory reads a run's retained rewards from the store, falling back
// to the run's artifacts when the store does not have it.
func (c *Client) RewardHistory(ctx context.Context, req RewardHistoryRequest) ([]float64, error) {
	if req.Limit < 0 {
		return nil, errors.New("limit must be >= 0")
	}
	runID, err := c.resolveRunID(req.RunID, req.Latest, "reward history")
	if err != nil {
		return nil, err
	}
	history, err := c.loadRewardHistory(ctx, runID)
	if err != nil {
		return nil, err
	}
	if req.Limit > 0 && len(history) > req.Limit {
		history = history[len(history)-req.Limit:]
	}
	return append([]float64(nil), history...), nil
}

func (c *Client) MasteryEvents(ctx context.Context, req MasteryEventsRequest) ([]model.MasteryEvent, error) {
	runID, err := c.resolveRunID(req.RunID, req.Latest, "mastery events")
	if err != nil {
		return nil, err
	}
	return c.loadMasteryEvents(ctx, runID)
}

// Plot renders a run's rolling-average reward chart.
func (c *Client) Plot(ctx context.Context, req PlotRequest) (PlotSummary, error) {
	runID, err := c.resolveRunID(req.RunID, req.Latest, "plot")
	if err != nil {
		return PlotSummary{}, err
	}
	record, err := c.loadRun(ctx, runID)
	if err != nil {
		return PlotSummary{}, err
	}
	history, err := c.loadRewardHistory(ctx, runID)
	if err != nil {
		return PlotSummary{}, err
	}
	events, err := c.loadMasteryEvents(ctx, runID)
	if err != nil {
		return PlotSummary{}, err
	}

	window := req.Window
	if window <= 0 {
		window = record.WindowSize
	}
	path := req.OutPath
	if path == "" {
		path = stats.ChartPath(c.benchmarksDir, runID)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return PlotSummary{}, err
	}
	f, err := os.Create(path)
	if err != nil {
		return PlotSummary{}, err
	}
	err = report.RenderRewardChart(f, history, record.HistoryOffset, events, report.ChartOptions{
		Title:  "run " + runID,
		Window: window,
		Step:   req.Step,
	})
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(path)
		return PlotSummary{}, fmt.Errorf("render reward chart: %w", err)
	}
	return PlotSummary{RunID: runID, Path: filepath.Clean(path)}, nil
}

func (c *Client) Export(_ context.Context, req ExportRequest) (ExportSummary, error) {
	if req.RunID == "" && !req.Latest {
		return ExportSummary{}, errors.New("export requires run id or latest")
	}
	if req.OutDir == "" {
		req.OutDir = c.exportsDir
	}
	runID, err := c.resolveRunID(req.RunID, req.Latest, "export")
	if err != nil {
		return ExportSummary{}, err
	}

	exportedDir, err := stats.ExportRunArtifacts(c.benchmarksDir, runID, req.OutDir)
	if err != nil {
		return ExportSummary{}, err
	}
	return ExportSummary{RunID: runID, Directory: filepath.Clean(exportedDir)}, nil
}

func (c *Client) persist(ctx context.Context, record model.RunRecord, history []float64, events []model.MasteryEvent) error {
	if err := c.store.SaveRun(ctx, record); err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	if err := c.store.SaveRewardHistory(ctx, record.ID, history); err != nil {
		return fmt.Errorf("save reward history: %w", err)
	}
	if err := c.store.SaveMasteryEvents(ctx, record.ID, events); err != nil {
		return fmt.Errorf("save mastery events: %w", err)
	}
	return nil
}

func (c *Client) resolveRunID(runID string, latest bool, op string) (string, error) {
	if runID != "" && latest {
		return "", errors.New("use either run id or latest")
	}
	if !latest {
		if runID == "" {
			return "", fmt.Errorf("%s requires run id or latest", op)
		}
		return runID, nil
	}
	entries, err := stats.ListRunIndex(c.benchmarksDir)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", errors.New("no runs available")
	}
	return entries[0].RunID, nil
}

func (c *Client) loadRun(ctx context.Context, runID string) (model.RunRecord, error) {
	if err := c.Init(ctx); err != nil {
		return model.RunRecord{}, err
	}
	record, ok, err := c.store.GetRun(ctx, runID)
	if err != nil {
		return model.RunRecord{}, err
	}
	if ok {
		return record, nil
	}
	record, ok, err = stats.ReadRunRecord(c.benchmarksDir, runID)
	if err != nil {
		return model.RunRecord{}, err
	}
	if !ok {
		return model.RunRecord{}, fmt.Errorf("run not found: %s", runID)
	}
	return record, nil
}

func (c *Client) loadRewardHistory(ctx context.Context, runID string) ([]float64, error) {
	if err := c.Init(ctx); err != nil {
		return nil, err
	}
	history, ok, err := c.store.GetRewardHistory(ctx, runID)
	if err != nil {
		return nil, err
	}
	if ok {
		return history, nil
	}
	history, ok, err = stats.ReadRewardHistory(c.benchmarksDir, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("reward history not found for run id: %s", runID)
	}
	return history, nil
}

func (c *Client) loadMasteryEvents(ctx context.Context, runID string) ([]model.MasteryEvent, error) {
	if err := c.Init(ctx); err != nil {
		return nil, err
	}
	events, ok, err := c.store.GetMasteryEvents(ctx, runID)
	if err != nil {
		return nil, err
	}
	if ok {
		return events, nil
	}
	events, ok, err = stats.ReadMasteryEvents(c.benchmarksDir, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("mastery events not found for run id: %s", runID)
	}
	return events, nil
}

func agentConfig(req RunRequest) (agent.Config, error) {
	cfg := agent.DefaultConfig()
	if req.LearningRate != 0 {
		cfg.LearningRate = req.LearningRate
	}
	if req.DiscountFactor != nil {
		cfg.DiscountFactor = *req.DiscountFactor
	}
	if req.MasteryThreshold != nil {
		cfg.MasteryThreshold = *req.MasteryThreshold
	}
	if req.ActionCount != 0 {
		cfg.ActionCount = req.ActionCount
	}
	if req.InitialTask != "" {
		initial, err := task.Parse(req.InitialTask)
		if err != nil {
			return agent.Config{}, err
		}
		cfg.InitialTask = initial
	}
	for name, rate := range req.Exploration {
		t, err := task.Parse(name)
		if err != nil {
			return agent.Config{}, fmt.Errorf("exploration: %w", err)
		}
		cfg.Exploration[t] = rate
	}
	if err := cfg.Validate(); err != nil {
		return agent.Config{}, err
	}
	return cfg, nil
}

func masteryEvents(evolutions []driver.Evolution) []model.MasteryEvent {
	events := make([]model.MasteryEvent, 0, len(evolutions))
	for _, e := range evolutions {
		events = append(events, model.MasteryEvent{
			VersionedRecord: storage.CurrentVersion(),
			Episode:         e.Episode,
			From:            e.From.String(),
			To:              e.To.String(),
			WindowMean:      e.WindowMean,
			ExplorationRate: e.ExplorationRate,
		})
	}
	return events
}
