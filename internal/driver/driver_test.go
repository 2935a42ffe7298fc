package driver

import (
	"bytes"
	"context"
	"log/slog"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arithevo/internal/agent"
	"arithevo/internal/task"
)

func newGreedyAgent(t *testing.T, mutate func(*agent.Config)) *agent.Agent {
	t.Helper()
	cfg := agent.DefaultConfig()
	cfg.Exploration[task.Addition] = 0
	cfg.Exploration[task.Multiplication] = 0
	if mutate != nil {
		mutate(&cfg)
	}
	a, err := agent.New(cfg, rand.New(rand.NewSource(42)))
	require.NoError(t, err)
	return a
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func TestNewValidation(t *testing.T) {
	a := newGreedyAgent(t, nil)

	_, err := New(nil, FixedOperands{A: 1, B: 1}, Config{})
	require.Error(t, err)
	_, err = New(a, nil, Config{})
	require.Error(t, err)
	_, err = New(a, FixedOperands{A: 1, B: 1}, Config{WindowSize: -1})
	require.Error(t, err)

	d, err := New(a, FixedOperands{A: 1, B: 1}, Config{})
	require.NoError(t, err)
	assert.Equal(t, DefaultWindowSize, d.window.Cap())
	assert.Same(t, a, d.Agent())
}

func TestGreedyRunConvergesWithoutMastery(t *testing.T) {
	a := newGreedyAgent(t, func(c *agent.Config) { c.MasteryThreshold = 2 })
	d, err := New(a, FixedOperands{A: 2, B: 2}, Config{Logger: discardLogger()})
	require.NoError(t, err)

	result, err := d.Run(context.Background(), 1000)
	require.NoError(t, err)
	require.Equal(t, 1000, result.Episodes)
	require.Empty(t, result.Evolutions)
	assert.Equal(t, task.Addition, result.FinalTask)

	require.Equal(t, 4, a.BestAction(2, 2))
	best := a.Value(2, 2, 4)
	for action := 0; action < a.ActionCount(); action++ {
		if action != 4 {
			assert.Greater(t, best, a.Value(2, 2, action), "action %d", action)
		}
	}

	// Actions 0..3 are each tried once before 4 is found.
	assert.Equal(t, 996, result.Correct[task.Addition])
	assert.Equal(t, 1000, result.Attempts[task.Addition])
	assert.InDelta(t, 0.996, result.CorrectRate(), 1e-12)
}

func TestMasteryEvolvesAndClearsWindow(t *testing.T) {
	a := newGreedyAgent(t, nil)
	var seen []StepResult
	d, err := New(a, FixedOperands{A: 2, B: 2}, Config{
		Logger:   discardLogger(),
		Observer: ObserverFunc(func(r StepResult) { seen = append(seen, r) }),
	})
	require.NoError(t, err)

	result, err := d.Run(context.Background(), 200)
	require.NoError(t, err)
	require.Len(t, seen, 200)

	// Four wrong answers then 46 right ones: the first full window has mean
	// 0.912. The window then refills from empty after each evolution.
	require.Len(t, result.Evolutions, 4)
	wantTo := []task.Task{task.Multiplication, task.Addition, task.Multiplication, task.Addition}
	for i, evolution := range result.Evolutions {
		assert.Equal(t, 50*i+49, evolution.Episode)
		assert.Equal(t, wantTo[i], evolution.To)
		assert.Equal(t, wantTo[i].Next(), evolution.From)
		assert.InDelta(t, 0.912, evolution.WindowMean, 1e-9)
		assert.Zero(t, evolution.ExplorationRate)

		step := seen[evolution.Episode]
		require.NotNil(t, step.Evolution)
		assert.Equal(t, evolution, *step.Evolution)
		assert.Equal(t, evolution.From, step.Task)
	}
	assert.Equal(t, task.Addition, result.FinalTask)
	assert.Equal(t, 4, a.Evolutions())
	assert.Zero(t, result.WindowMean, "window is empty right after an evolution")
}

func TestNoMasteryCheckBeforeWindowFull(t *testing.T) {
	a := newGreedyAgent(t, nil)
	d, err := New(a, FixedOperands{A: 2, B: 2}, Config{WindowSize: 50, Logger: discardLogger()})
	require.NoError(t, err)

	result, err := d.Run(context.Background(), 49)
	require.NoError(t, err)
	assert.Empty(t, result.Evolutions)
	assert.Equal(t, task.Addition, a.Task())
	assert.InDelta(t, (45.0-0.4)/49.0, result.WindowMean, 1e-9)
}

func TestRunStopsOnCancellation(t *testing.T) {
	a := newGreedyAgent(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d, err := New(a, FixedOperands{A: 3, B: 4}, Config{
		Logger: discardLogger(),
		Observer: ObserverFunc(func(r StepResult) {
			if r.Episode == 9 {
				cancel()
			}
		}),
	})
	require.NoError(t, err)

	result, err := d.Run(ctx, 0)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 10, result.Episodes)
	assert.Equal(t, 10, d.Episodes())
	assert.Len(t, result.RewardHistory, 10)

	_, err = d.Step(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 10, d.Episodes())
}

func TestRewardHistoryIsBounded(t *testing.T) {
	a := newGreedyAgent(t, func(c *agent.Config) { c.MasteryThreshold = 2 })
	d, err := New(a, FixedOperands{A: 1, B: 1}, Config{HistoryLimit: 5, Logger: discardLogger()})
	require.NoError(t, err)

	result, err := d.Run(context.Background(), 23)
	require.NoError(t, err)
	assert.Len(t, result.RewardHistory, 5)
	assert.Equal(t, 18, result.HistoryOffset)
	for _, reward := range result.RewardHistory {
		assert.Equal(t, task.CorrectReward, reward)
	}
}

func TestStepLogsEvolution(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	a := newGreedyAgent(t, nil)
	d, err := New(a, FixedOperands{A: 2, B: 2}, Config{Logger: logger})
	require.NoError(t, err)

	_, err = d.Run(context.Background(), 50)
	require.NoError(t, err)
	out := buf.String()
	assert.Contains(t, out, "task evolved")
	assert.Contains(t, out, "to=multiplication")
	assert.Equal(t, 1, strings.Count(out, "task evolved"))
	assert.NotContains(t, out, "msg=step", "per-step logs are debug level")
}

func TestUniformOperandsStayInRange(t *testing.T) {
	source, err := NewUniformOperands(rand.New(rand.NewSource(3)), DefaultOperandMin, DefaultOperandMax)
	require.NoError(t, err)

	seen := map[int]bool{}
	for i := 0; i < 2000; i++ {
		a, b := source.Operands()
		for _, v := range []int{a, b} {
			require.GreaterOrEqual(t, v, 1)
			require.LessOrEqual(t, v, 10)
			seen[v] = true
		}
	}
	assert.Len(t, seen, 10)

	_, err = NewUniformOperands(nil, 1, 10)
	require.Error(t, err)
	_, err = NewUniformOperands(rand.New(rand.NewSource(1)), 5, 4)
	require.Error(t, err)
}

func TestSeededRunsAreReproducible(t *testing.T) {
	run := func() []float64 {
		rng := rand.New(rand.NewSource(99))
		a, err := agent.New(agent.DefaultConfig(), rng)
		require.NoError(t, err)
		operands, err := NewUniformOperands(rng, 1, 10)
		require.NoError(t, err)
		d, err := New(a, operands, Config{Logger: discardLogger()})
		require.NoError(t, err)
		result, err := d.Run(context.Background(), 500)
		require.NoError(t, err)
		return result.RewardHistory
	}
	assert.Equal(t, run(), run())
}

func TestObserversFanOut(t *testing.T) {
	var first, second int
	observers := Observers{
		ObserverFunc(func(StepResult) { first++ }),
		nil,
		ObserverFunc(func(StepResult) { second++ }),
	}
	observers.OnStep(StepResult{})
	assert.Equal(t, 1, first)
	assert.Equal(t, 1, second)
}
