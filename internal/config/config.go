package config

import (
	"fmt"

	"arithevo/internal/agent"
	"arithevo/internal/driver"
	"arithevo/internal/report"
	"arithevo/internal/task"
)

// Config is the root configuration for arithevo.
type Config struct {
	Agent   AgentConfig   `mapstructure:"agent" yaml:"agent"`
	Run     RunConfig     `mapstructure:"run" yaml:"run"`
	Store   StoreConfig   `mapstructure:"store" yaml:"store"`
	Output  OutputConfig  `mapstructure:"output" yaml:"output"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// AgentConfig holds the learner's hyperparameters.
type AgentConfig struct {
	LearningRate     float64           `mapstructure:"learning_rate" yaml:"learning_rate" validate:"gt=0,lte=1"`
	DiscountFactor   float64           `mapstructure:"discount_factor" yaml:"discount_factor" validate:"gte=0,lte=1"`
	MasteryThreshold float64           `mapstructure:"mastery_threshold" yaml:"mastery_threshold"`
	ActionCount      int               `mapstructure:"action_count" yaml:"action_count" validate:"min=1"`
	InitialTask      string            `mapstructure:"initial_task" yaml:"initial_task" validate:"oneof=addition multiplication"`
	Exploration      ExplorationConfig `mapstructure:"exploration" yaml:"exploration"`
}

// ExplorationConfig is the exploration rate adopted on entering each task.
type ExplorationConfig struct {
	Addition       float64 `mapstructure:"addition" yaml:"addition" validate:"gte=0,lte=1"`
	Multiplication float64 `mapstructure:"multiplication" yaml:"multiplication" validate:"gte=0,lte=1"`
}

type RunConfig struct {
	// Episodes caps a run; 0 runs until interrupted.
	Episodes int `mapstructure:"episodes" yaml:"episodes" validate:"gte=0"`
	// Seed 0 derives a seed from the clock.
	Seed         int64 `mapstructure:"seed" yaml:"seed"`
	OperandMin   int   `mapstructure:"operand_min" yaml:"operand_min" validate:"gte=0"`
	OperandMax   int   `mapstructure:"operand_max" yaml:"operand_max" validate:"gte=0"`
	WindowSize   int   `mapstructure:"window_size" yaml:"window_size" validate:"min=1"`
	ReportEvery  int   `mapstructure:"report_every" yaml:"report_every" validate:"min=1"`
	HistoryLimit int   `mapstructure:"history_limit" yaml:"history_limit" validate:"min=1"`
}

type StoreConfig struct {
	Kind   string `mapstructure:"kind" yaml:"kind" validate:"oneof=memory sqlite"`
	DBPath string `mapstructure:"db_path" yaml:"db_path"`
}

type OutputConfig struct {
	BenchmarksDir string `mapstructure:"benchmarks_dir" yaml:"benchmarks_dir" validate:"required"`
	ExportsDir    string `mapstructure:"exports_dir" yaml:"exports_dir" validate:"required"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" yaml:"format" validate:"oneof=text json"`
}

// Default returns the stock configuration.
func Default() Config {
	exploration := agent.DefaultExploration()
	return Config{
		Agent: AgentConfig{
			LearningRate:     agent.DefaultLearningRate,
			DiscountFactor:   agent.DefaultDiscountFactor,
			MasteryThreshold: agent.DefaultMasteryThreshold,
			ActionCount:      agent.DefaultActionCount,
			InitialTask:      task.Addition.String(),
			Exploration: ExplorationConfig{
				Addition:       exploration[task.Addition],
				Multiplication: exploration[task.Multiplication],
			},
		},
		Run: RunConfig{
			Episodes:     0,
			Seed:         0,
			OperandMin:   driver.DefaultOperandMin,
			OperandMax:   driver.DefaultOperandMax,
			WindowSize:   driver.DefaultWindowSize,
			ReportEvery:  report.DefaultReportEvery,
			HistoryLimit: driver.DefaultHistoryLimit,
		},
		Store: StoreConfig{
			Kind:   "memory",
			DBPath: "arithevo.db",
		},
		Output: OutputConfig{
			BenchmarksDir: "benchmarks",
			ExportsDir:    "exports",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// AgentSettings converts the agent section into an agent.Config.
func (c Config) AgentSettings() (agent.Config, error) {
	initial, err := task.Parse(c.Agent.InitialTask)
	if err != nil {
		return agent.Config{}, fmt.Errorf("agent.initial_task: %w", err)
	}
	return agent.Config{
		LearningRate:     c.Agent.LearningRate,
		DiscountFactor:   c.Agent.DiscountFactor,
		MasteryThreshold: c.Agent.MasteryThreshold,
		ActionCount:      c.Agent.ActionCount,
		InitialTask:      initial,
		Exploration: map[task.Task]float64{
			task.Addition:       c.Agent.Exploration.Addition,
			task.Multiplication: c.Agent.Exploration.Multiplication,
		},
	}, nil
}
