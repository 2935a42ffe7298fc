package agent

import (
	"errors"
	"fmt"
	"maps"
	"math/rand"

	"arithevo/internal/task"
)

// ErrEmptyRewards is returned when mastery is checked against no rewards.
var ErrEmptyRewards = errors.New("invalid argument: rewards must not be empty")

// Agent is a tabular learner for two-operand arithmetic. It is not safe for
// concurrent use.
type Agent struct {
	cfg  Config
	rand *rand.Rand

	table           *ValueTable
	task            task.Task
	explorationRate float64
	evolutions      int
}

func New(cfg Config, rng *rand.Rand) (*Agent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if rng == nil {
		return nil, errors.New("random source is required")
	}
	cfg.Exploration = maps.Clone(cfg.Exploration)
	return &Agent{
		cfg:             cfg,
		rand:            rng,
		table:           NewValueTable(cfg.ActionCount),
		task:            cfg.InitialTask,
		explorationRate: cfg.Exploration[cfg.InitialTask],
	}, nil
}

func (a *Agent) Task() task.Task {
	return a.task
}

func (a *Agent) ExplorationRate() float64 {
	return a.explorationRate
}

func (a *Agent) MasteryThreshold() float64 {
	return a.cfg.MasteryThreshold
}

func (a *Agent) ActionCount() int {
	return a.cfg.ActionCount
}

// Evolutions reports how many task transitions have happened.
func (a *Agent) Evolutions() int {
	return a.evolutions
}

func (a *Agent) Value(x, y, action int) float64 {
	return a.table.Get(x, y, action)
}

func (a *Agent) BestValue(x, y int) float64 {
	return a.table.BestValue(x, y)
}

// BestAction is the greedy choice for (x, y) without exploration.
func (a *Agent) BestAction(x, y int) int {
	action, _ := a.table.BestAction(x, y)
	return action
}

// Len reports the number of populated value entries.
func (a *Agent) Len() int {
	return a.table.Len()
}

// ChooseAction is epsilon-greedy over the full action range.
func (a *Agent) ChooseAction(x, y int) int {
	if a.rand.Float64() < a.explorationRate {
		return a.rand.Intn(a.cfg.ActionCount)
	}
	return a.BestAction(x, y)
}

func (a *Agent) Reward(x, y, action int) float64 {
	return a.task.Reward(x, y, action)
}

// Update applies the one-step temporal-difference rule. The lookahead is
// read before the write so it never sees the value being replaced.
func (a *Agent) Update(x, y, action int, reward float64, nextX, nextY int) {
	old := a.table.Get(x, y, action)
	nextMax := a.table.BestValue(nextX, nextY)
	updated := old + a.cfg.LearningRate*(reward+a.cfg.DiscountFactor*nextMax-old)
	a.table.Set(x, y, action, updated)
}

// CheckMastery reports whether the mean reward strictly exceeds the mastery
// threshold. Callers decide the window size.
func (a *Agent) CheckMastery(rewards []float64) (bool, error) {
	if len(rewards) == 0 {
		return false, ErrEmptyRewards
	}
	sum := 0.0
	for _, reward := range rewards {
		sum += reward
	}
	return sum/float64(len(rewards)) > a.cfg.MasteryThreshold, nil
}

// Evolve advances to the next task, discards every learned value and adopts
// the new task's exploration rate.
func (a *Agent) Evolve() (from, to task.Task) {
	from = a.task
	to = from.Next()
	a.task = to
	a.table.Clear()
	a.explorationRate = a.cfg.Exploration[to]
	a.evolutions++
	return from, to
}

func (a *Agent) String() string {
	return fmt.Sprintf("agent(task=%s exploration=%.2f entries=%d)", a.task, a.explorationRate, a.table.Len())
}
