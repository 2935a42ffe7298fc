package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"arithevo/internal/agent"
	"arithevo/internal/stats"
	"arithevo/internal/task"
)

const (
	DefaultWindowSize   = 50
	DefaultHistoryLimit = 100_000
)

type Config struct {
	// WindowSize is the number of recent rewards required before mastery
	// is checked.
	WindowSize int
	// HistoryLimit bounds the retained reward history; older rewards are
	// dropped once it is exceeded.
	HistoryLimit int
	Observer     Observer
	Logger       *slog.Logger
}

// Evolution describes a task transition triggered by mastery.
type Evolution struct {
	Episode         int
	From            task.Task
	To              task.Task
	WindowMean      float64
	ExplorationRate float64
}

// StepResult reports one interaction. Episode is the zero-based index of
// the interaction; Task is the task the action was scored against.
type StepResult struct {
	Episode   int
	A         int
	B         int
	Action    int
	Reward    float64
	Task      task.Task
	Evolution *Evolution
}

type Result struct {
	Episodes        int
	FinalTask       task.Task
	ExplorationRate float64
	Evolutions      []Evolution
	// RewardHistory holds the most recent rewards; HistoryOffset is the
	// episode index of its first element.
	RewardHistory []float64
	HistoryOffset int
	WindowMean    float64
	Attempts      map[task.Task]int
	Correct       map[task.Task]int
}

// CorrectRate is the fraction of all interactions answered correctly.
func (r Result) CorrectRate() float64 {
	attempts, correct := 0, 0
	for t, n := range r.Attempts {
		attempts += n
		correct += r.Correct[t]
	}
	if attempts == 0 {
		return 0
	}
	return float64(correct) / float64(attempts)
}

// Driver runs the interaction loop around a single agent. It owns the
// rolling reward window and is not safe for concurrent use.
type Driver struct {
	agent    *agent.Agent
	operands OperandSource
	window   *stats.RewardWindow
	observer Observer
	logger   *slog.Logger

	historyLimit  int
	episode       int
	history       []float64
	historyOffset int
	evolutions    []Evolution
	attempts      map[task.Task]int
	correct       map[task.Task]int
}

func New(a *agent.Agent, operands OperandSource, cfg Config) (*Driver, error) {
	if a == nil {
		return nil, errors.New("agent is required")
	}
	if operands == nil {
		return nil, errors.New("operand source is required")
	}
	if cfg.WindowSize < 0 {
		return nil, fmt.Errorf("window size must be >= 0, got %d", cfg.WindowSize)
	}
	if cfg.WindowSize == 0 {
		cfg.WindowSize = DefaultWindowSize
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{
		agent:        a,
		operands:     operands,
		window:       stats.NewRewardWindow(cfg.WindowSize),
		observer:     cfg.Observer,
		logger:       logger,
		historyLimit: cfg.HistoryLimit,
		attempts:     make(map[task.Task]int),
		correct:      make(map[task.Task]int),
	}, nil
}

func (d *Driver) Agent() *agent.Agent {
	return d.agent
}

// Episodes reports how many interactions have completed.
func (d *Driver) Episodes() int {
	return d.episode
}

// Step performs one interaction: sample, act, score, learn, and evolve when
// a full window demonstrates mastery.
func (d *Driver) Step(ctx context.Context) (StepResult, error) {
	if err := ctx.Err(); err != nil {
		return StepResult{}, err
	}

	a, b := d.operands.Operands()
	scored := d.agent.Task()
	action := d.agent.ChooseAction(a, b)
	reward := d.agent.Reward(a, b, action)
	d.agent.Update(a, b, action, reward, a, b)

	d.attempts[scored]++
	if reward == task.CorrectReward {
		d.correct[scored]++
	}
	d.recordHistory(reward)
	d.window.Push(reward)

	result := StepResult{
		Episode: d.episode,
		A:       a,
		B:       b,
		Action:  action,
		Reward:  reward,
		Task:    scored,
	}

	if d.window.Full() {
		values := d.window.Values()
		mastered, err := d.agent.CheckMastery(values)
		if err != nil {
			return StepResult{}, fmt.Errorf("check mastery at episode %d: %w", d.episode, err)
		}
		if mastered {
			mean, _ := stats.Avg(values)
			from, to := d.agent.Evolve()
			d.window.Clear()
			evolution := Evolution{
				Episode:         d.episode,
				From:            from,
				To:              to,
				WindowMean:      mean,
				ExplorationRate: d.agent.ExplorationRate(),
			}
			d.evolutions = append(d.evolutions, evolution)
			result.Evolution = &evolution
			d.logger.Info("task evolved",
				"episode", evolution.Episode,
				"from", from.String(),
				"to", to.String(),
				"window_mean", mean,
				"exploration_rate", evolution.ExplorationRate,
			)
		}
	}

	d.logger.Debug("step",
		"episode", d.episode,
		"task", scored.String(),
		"a", a,
		"b", b,
		"action", action,
		"reward", reward,
	)
	d.episode++

	if d.observer != nil {
		d.observer.OnStep(result)
	}
	return result, nil
}

// Run steps until episodes interactions have completed or ctx is done.
// episodes <= 0 runs until ctx is done. On cancellation the partial result
// is returned together with ctx's error.
func (d *Driver) Run(ctx context.Context, episodes int) (Result, error) {
	for i := 0; episodes <= 0 || i < episodes; i++ {
		if _, err := d.Step(ctx); err != nil {
			return d.Result(), err
		}
	}
	return d.Result(), nil
}

func (d *Driver) Result() Result {
	attempts := make(map[task.Task]int, len(d.attempts))
	for t, n := range d.attempts {
		attempts[t] = n
	}
	correct := make(map[task.Task]int, len(d.correct))
	for t, n := range d.correct {
		correct[t] = n
	}
	mean := 0.0
	if d.window.Len() > 0 {
		mean, _ = d.window.Mean()
	}
	history := d.history
	offset := d.historyOffset
	if extra := len(history) - d.historyLimit; extra > 0 {
		history = history[extra:]
		offset += extra
	}
	return Result{
		Episodes:        d.episode,
		FinalTask:       d.agent.Task(),
		ExplorationRate: d.agent.ExplorationRate(),
		Evolutions:      append([]Evolution(nil), d.evolutions...),
		RewardHistory:   append([]float64(nil), history...),
		HistoryOffset:   offset,
		WindowMean:      mean,
		Attempts:        attempts,
		Correct:         correct,
	}
}

func (d *Driver) recordHistory(reward float64) {
	d.history = append(d.history, reward)
	if len(d.history) <= 2*d.historyLimit {
		return
	}
	drop := len(d.history) - d.historyLimit
	d.history = append(d.history[:0], d.history[drop:]...)
	d.historyOffset += drop
}
