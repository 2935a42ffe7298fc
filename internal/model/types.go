package model

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// RunRecord summarizes one training run. Learned values are never part of
// it; only the configuration and outcome are kept.
type RunRecord struct {
	VersionedRecord
	ID                string  `json:"id"`
	CreatedAtUTC      string  `json:"created_at_utc"`
	Seed              int64   `json:"seed"`
	Episodes          int     `json:"episodes"`
	RequestedEpisodes int     `json:"requested_episodes"`
	Interrupted       bool    `json:"interrupted"`
	InitialTask       string  `json:"initial_task"`
	FinalTask         string  `json:"final_task"`
	FinalExploration  float64 `json:"final_exploration"`
	Evolutions        int     `json:"evolutions"`
	LearningRate      float64 `json:"learning_rate"`
	DiscountFactor    float64 `json:"discount_factor"`
	MasteryThreshold  float64 `json:"mastery_threshold"`
	ActionCount       int     `json:"action_count"`
	OperandMin        int     `json:"operand_min"`
	OperandMax        int     `json:"operand_max"`
	WindowSize        int     `json:"window_size"`
	FinalWindowMean   float64 `json:"final_window_mean"`
	CorrectRate       float64 `json:"correct_rate"`
	// HistoryOffset is the episode index of the first retained reward.
	HistoryOffset int `json:"history_offset"`
}

// MasteryEvent records a task transition triggered by mastery.
type MasteryEvent struct {
	VersionedRecord
	Episode         int     `json:"episode"`
	From            string  `json:"from"`
	To              string  `json:"to"`
	WindowMean      float64 `json:"window_mean"`
	ExplorationRate float64 `json:"exploration_rate"`
}
