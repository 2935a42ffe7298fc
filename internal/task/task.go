package task

import (
	"fmt"
	"strings"
)

// Task identifies the arithmetic operation an agent is rewarded for.
type Task int

const (
	Addition Task = iota
	Multiplication
)

const (
	CorrectReward   = 1.0
	IncorrectReward = -0.1
)

type definition struct {
	name   string
	answer func(a, b int) int
	next   Task
}

var definitions = [...]definition{
	Addition: {
		name:   "addition",
		answer: func(a, b int) int { return a + b },
		next:   Multiplication,
	},
	Multiplication: {
		name:   "multiplication",
		answer: func(a, b int) int { return a * b },
		next:   Addition,
	},
}

// All returns every task in evolution order.
func All() []Task {
	return []Task{Addition, Multiplication}
}

func (t Task) Valid() bool {
	return t >= 0 && int(t) < len(definitions)
}

func (t Task) String() string {
	if !t.Valid() {
		return fmt.Sprintf("task(%d)", int(t))
	}
	return definitions[t].name
}

// Answer returns the correct result of applying t to the operands.
func (t Task) Answer(a, b int) int {
	return definitions[t].answer(a, b)
}

// Next returns the task that follows t when mastery is reached. The cycle
// has no terminal state: the hardest task wraps back to addition.
func (t Task) Next() Task {
	return definitions[t].next
}

// Reward scores action against the correct answer for (a, b). Any incorrect
// answer receives the same fixed penalty regardless of distance.
func (t Task) Reward(a, b, action int) float64 {
	if action == t.Answer(a, b) {
		return CorrectReward
	}
	return IncorrectReward
}

func Parse(name string) (Task, error) {
	normalized := strings.TrimSpace(strings.ToLower(name))
	for i, def := range definitions {
		if def.name == normalized {
			return Task(i), nil
		}
	}
	return 0, fmt.Errorf("unsupported task: %s", name)
}

func (t Task) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("invalid task: %d", int(t))
	}
	return []byte(t.String()), nil
}

func (t *Task) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
