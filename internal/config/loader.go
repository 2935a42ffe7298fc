package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const EnvPrefix = "ARITHEVO"

// Load reads configuration from path layered over Default. An empty path
// skips the file. ARITHEVO_<SECTION>_<KEY> environment variables override
// both, e.g. ARITHEVO_RUN_EPISODES.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v, Default())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// setDefaults registers every key so environment overrides apply even when
// the file omits them.
func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("agent.learning_rate", cfg.Agent.LearningRate)
	v.SetDefault("agent.discount_factor", cfg.Agent.DiscountFactor)
	v.SetDefault("agent.mastery_threshold", cfg.Agent.MasteryThreshold)
	v.SetDefault("agent.action_count", cfg.Agent.ActionCount)
	v.SetDefault("agent.initial_task", cfg.Agent.InitialTask)
	v.SetDefault("agent.exploration.addition", cfg.Agent.Exploration.Addition)
	v.SetDefault("agent.exploration.multiplication", cfg.Agent.Exploration.Multiplication)

	v.SetDefault("run.episodes", cfg.Run.Episodes)
	v.SetDefault("run.seed", cfg.Run.Seed)
	v.SetDefault("run.operand_min", cfg.Run.OperandMin)
	v.SetDefault("run.operand_max", cfg.Run.OperandMax)
	v.SetDefault("run.window_size", cfg.Run.WindowSize)
	v.SetDefault("run.report_every", cfg.Run.ReportEvery)
	v.SetDefault("run.history_limit", cfg.Run.HistoryLimit)

	v.SetDefault("store.kind", cfg.Store.Kind)
	v.SetDefault("store.db_path", cfg.Store.DBPath)

	v.SetDefault("output.benchmarks_dir", cfg.Output.BenchmarksDir)
	v.SetDefault("output.exports_dir", cfg.Output.ExportsDir)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
}
