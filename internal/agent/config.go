package agent

import (
	"errors"
	"fmt"

	"arithevo/internal/task"
)

const (
	DefaultLearningRate     = 0.1
	DefaultDiscountFactor   = 0.9
	DefaultMasteryThreshold = 0.9
	// DefaultActionCount covers answers 0..20. Multiplication answers above
	// 20 are not representable, so multiplication mastery is generally out
	// of reach unless ActionCount is raised.
	DefaultActionCount = 21
)

type Config struct {
	LearningRate     float64
	DiscountFactor   float64
	MasteryThreshold float64
	ActionCount      int
	InitialTask      task.Task
	// Exploration is the exploration rate adopted on entering each task.
	Exploration map[task.Task]float64
}

func DefaultExploration() map[task.Task]float64 {
	return map[task.Task]float64{
		task.Addition:       0.3,
		task.Multiplication: 0.5,
	}
}

func DefaultConfig() Config {
	return Config{
		LearningRate:     DefaultLearningRate,
		DiscountFactor:   DefaultDiscountFactor,
		MasteryThreshold: DefaultMasteryThreshold,
		ActionCount:      DefaultActionCount,
		InitialTask:      task.Addition,
		Exploration:      DefaultExploration(),
	}
}

func (c Config) Validate() error {
	if c.LearningRate <= 0 || c.LearningRate > 1 {
		return fmt.Errorf("learning rate must be in (0,1], got %v", c.LearningRate)
	}
	if c.DiscountFactor < 0 || c.DiscountFactor > 1 {
		return fmt.Errorf("discount factor must be in [0,1], got %v", c.DiscountFactor)
	}
	if c.ActionCount <= 0 {
		return fmt.Errorf("action count must be > 0, got %d", c.ActionCount)
	}
	if !c.InitialTask.Valid() {
		return fmt.Errorf("invalid initial task: %s", c.InitialTask)
	}
	if c.Exploration == nil {
		return errors.New("exploration rates are required")
	}
	for _, t := range task.All() {
		rate, ok := c.Exploration[t]
		if !ok {
			return fmt.Errorf("missing exploration rate for %s", t)
		}
		if rate < 0 || rate > 1 {
			return fmt.Errorf("exploration rate for %s must be in [0,1], got %v", t, rate)
		}
	}
	return nil
}
