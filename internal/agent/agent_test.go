package agent

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arithevo/internal/task"
)

func newTestAgent(t *testing.T, mutate func(*Config)) *Agent {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	a, err := New(cfg, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	return a
}

func greedy(cfg *Config) {
	cfg.Exploration[task.Addition] = 0
	cfg.Exploration[task.Multiplication] = 0
}

func TestNewAgentDefaults(t *testing.T) {
	a := newTestAgent(t, nil)
	assert.Equal(t, task.Addition, a.Task())
	assert.Equal(t, 0.3, a.ExplorationRate())
	assert.Equal(t, 0.9, a.MasteryThreshold())
	assert.Equal(t, 21, a.ActionCount())
	assert.Zero(t, a.Len())
	assert.Zero(t, a.Evolutions())
}

func TestNewAgentRejectsInvalidConfig(t *testing.T) {
	cases := map[string]func(*Config){
		"zero learning rate":    func(c *Config) { c.LearningRate = 0 },
		"learning rate above 1": func(c *Config) { c.LearningRate = 1.5 },
		"negative discount":     func(c *Config) { c.DiscountFactor = -0.1 },
		"no actions":            func(c *Config) { c.ActionCount = 0 },
		"bad initial task":      func(c *Config) { c.InitialTask = task.Task(9) },
		"missing exploration":   func(c *Config) { delete(c.Exploration, task.Multiplication) },
		"exploration above 1":   func(c *Config) { c.Exploration[task.Addition] = 1.2 },
		"nil exploration":       func(c *Config) { c.Exploration = nil },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(&cfg)
			_, err := New(cfg, rand.New(rand.NewSource(1)))
			require.Error(t, err)
		})
	}

	_, err := New(DefaultConfig(), nil)
	require.Error(t, err)
}

func TestFreshTableIsZeroAndGreedyPicksLowestAction(t *testing.T) {
	a := newTestAgent(t, greedy)
	for x := 1; x <= 10; x++ {
		for y := 1; y <= 10; y++ {
			require.Zero(t, a.BestValue(x, y))
			require.Equal(t, 0, a.ChooseAction(x, y))
		}
	}
	assert.Zero(t, a.Len(), "reads must not populate the table")
}

func TestGreedyTieBreakPrefersLowestIndex(t *testing.T) {
	a := newTestAgent(t, greedy)
	a.table.Set(5, 5, 9, 0.4)
	a.table.Set(5, 5, 3, 0.4)
	a.table.Set(5, 5, 15, 0.4)
	assert.Equal(t, 3, a.ChooseAction(5, 5))

	a.table.Set(5, 5, 0, -1)
	a.table.Set(5, 5, 1, -1)
	a.table.Set(6, 6, 0, -1)
	assert.Equal(t, 1, a.ChooseAction(6, 6))
}

func TestFullExplorationStaysInActionRange(t *testing.T) {
	a := newTestAgent(t, func(c *Config) { c.Exploration[task.Addition] = 1 })
	seen := map[int]bool{}
	for i := 0; i < 5000; i++ {
		action := a.ChooseAction(2, 3)
		require.GreaterOrEqual(t, action, 0)
		require.Less(t, action, 21)
		seen[action] = true
	}
	assert.Len(t, seen, 21)
}

func TestSingleUpdateStoresLearningRateTimesReward(t *testing.T) {
	a := newTestAgent(t, nil)
	reward := a.Reward(3, 4, 7)
	require.Equal(t, 1.0, reward)

	a.Update(3, 4, 7, reward, 3, 4)
	assert.InDelta(t, 0.1, a.Value(3, 4, 7), 1e-12)
	assert.Equal(t, 1, a.Len())
}

func TestUpdateReadsLookaheadBeforeWrite(t *testing.T) {
	a := newTestAgent(t, nil)
	a.table.Set(2, 2, 4, 1.0)

	// The lookahead sees the old value 1.0 of the action being updated.
	a.Update(2, 2, 4, 1.0, 2, 2)
	want := 1.0 + 0.1*(1.0+0.9*1.0-1.0)
	assert.InDelta(t, want, a.Value(2, 2, 4), 1e-12)
}

func TestUpdateUsesNextStateLookahead(t *testing.T) {
	a := newTestAgent(t, nil)
	a.table.Set(7, 8, 3, 2.0)

	a.Update(1, 1, 2, 1.0, 7, 8)
	assert.InDelta(t, 0.1*(1.0+0.9*2.0), a.Value(1, 1, 2), 1e-12)
}

func TestCheckMastery(t *testing.T) {
	a := newTestAgent(t, nil)

	allCorrect := make([]float64, 50)
	for i := range allCorrect {
		allCorrect[i] = 1.0
	}
	ok, err := a.CheckMastery(allCorrect)
	require.NoError(t, err)
	assert.True(t, ok)

	mixed := make([]float64, 0, 50)
	for i := 0; i < 45; i++ {
		mixed = append(mixed, 1.0)
	}
	for i := 0; i < 5; i++ {
		mixed = append(mixed, -0.1)
	}
	ok, err = a.CheckMastery(mixed)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = a.CheckMastery([]float64{0.9, 0.9})
	require.NoError(t, err)
	assert.False(t, ok, "mean equal to threshold is not mastery")

	ok, err = a.CheckMastery([]float64{1.0})
	require.NoError(t, err)
	assert.True(t, ok, "no minimum window size is imposed")
}

func TestCheckMasteryRejectsEmpty(t *testing.T) {
	a := newTestAgent(t, nil)
	ok, err := a.CheckMastery(nil)
	require.ErrorIs(t, err, ErrEmptyRewards)
	assert.False(t, ok)
}

func TestEvolveRoundTrip(t *testing.T) {
	a := newTestAgent(t, nil)
	populated := [][3]int{{3, 4, 7}, {2, 2, 4}, {9, 9, 18}}
	for _, key := range populated {
		a.Update(key[0], key[1], key[2], 1.0, key[0], key[1])
	}
	require.Equal(t, len(populated), a.Len())

	from, to := a.Evolve()
	assert.Equal(t, task.Addition, from)
	assert.Equal(t, task.Multiplication, to)
	assert.Equal(t, task.Multiplication, a.Task())
	assert.Equal(t, 0.5, a.ExplorationRate())
	assert.Zero(t, a.Len())
	for _, key := range populated {
		assert.Zero(t, a.BestValue(key[0], key[1]))
		assert.Zero(t, a.Value(key[0], key[1], key[2]))
	}

	a.Update(3, 4, 12, 1.0, 3, 4)
	from, to = a.Evolve()
	assert.Equal(t, task.Multiplication, from)
	assert.Equal(t, task.Addition, to)
	assert.Equal(t, task.Addition, a.Task())
	assert.Equal(t, 0.3, a.ExplorationRate())
	assert.Zero(t, a.Len())
	assert.Equal(t, 2, a.Evolutions())
}

func TestEvolveChangesRewardSemantics(t *testing.T) {
	a := newTestAgent(t, nil)
	assert.Equal(t, 1.0, a.Reward(3, 4, 7))
	a.Evolve()
	assert.Equal(t, -0.1, a.Reward(3, 4, 7))
	assert.Equal(t, 1.0, a.Reward(3, 4, 12))
}

func TestGreedyLearnerConvergesOnFixedOperands(t *testing.T) {
	a := newTestAgent(t, greedy)
	for i := 0; i < 1000; i++ {
		action := a.ChooseAction(2, 2)
		reward := a.Reward(2, 2, action)
		a.Update(2, 2, action, reward, 2, 2)
	}

	require.Equal(t, 4, a.ChooseAction(2, 2))
	best := a.Value(2, 2, 4)
	for action := 0; action < a.ActionCount(); action++ {
		if action == 4 {
			continue
		}
		assert.Greater(t, best, a.Value(2, 2, action), "action %d", action)
	}
}

func TestConfigCopiedOnConstruction(t *testing.T) {
	cfg := DefaultConfig()
	a, err := New(cfg, rand.New(rand.NewSource(1)))
	require.NoError(t, err)

	cfg.Exploration[task.Multiplication] = 0.9
	a.Evolve()
	assert.Equal(t, 0.5, a.ExplorationRate())
}
