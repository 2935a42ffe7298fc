package stats

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"arithevo/internal/model"
)

const (
	runIndexFile      = "run_index.json"
	configFile        = "config.json"
	rewardHistoryFile = "reward_history.csv"
	masteryEventsFile = "mastery_events.json"
	rewardChartFile   = "reward_chart.html"
)

type RunArtifacts struct {
	Run           model.RunRecord      `json:"run"`
	RewardHistory []float64            `json:"reward_history"`
	MasteryEvents []model.MasteryEvent `json:"mastery_events"`
}

type RunIndexEntry struct {
	RunID        string  `json:"run_id"`
	Seed         int64   `json:"seed"`
	Episodes     int     `json:"episodes"`
	FinalTask    string  `json:"final_task"`
	Evolutions   int     `json:"evolutions"`
	CorrectRate  float64 `json:"correct_rate"`
	CreatedAtUTC string  `json:"created_at_utc"`
}

func RunDir(baseDir, runID string) string {
	return filepath.Join(baseDir, runID)
}

// ChartPath is where a run's rendered reward chart lives.
func ChartPath(baseDir, runID string) string {
	return filepath.Join(baseDir, runID, rewardChartFile)
}

func WriteRunArtifacts(baseDir string, artifacts RunArtifacts) (string, error) {
	if artifacts.Run.ID == "" {
		return "", fmt.Errorf("run id is required")
	}

	runDir := RunDir(baseDir, artifacts.Run.ID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}

	if err := writeJSON(filepath.Join(runDir, configFile), artifacts.Run); err != nil {
		return "", err
	}
	if err := writeRewardHistory(filepath.Join(runDir, rewardHistoryFile), artifacts.Run.HistoryOffset, artifacts.RewardHistory); err != nil {
		return "", err
	}
	events := artifacts.MasteryEvents
	if events == nil {
		events = []model.MasteryEvent{}
	}
	if err := writeJSON(filepath.Join(runDir, masteryEventsFile), events); err != nil {
		return "", err
	}
	return runDir, nil
}

func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	index, err := readRunIndex(baseDir)
	if err != nil {
		return err
	}

	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, runIndexFile), index)
		}
	}

	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, runIndexFile), index)
}

// ListRunIndex returns index entries newest first.
func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	entries, err := readRunIndex(baseDir)
	if err != nil {
		return nil, err
	}

	type indexedEntry struct {
		entry RunIndexEntry
		idx   int
	}
	indexed := make([]indexedEntry, len(entries))
	for i := range entries {
		indexed[i] = indexedEntry{entry: entries[i], idx: i}
	}
	sort.Slice(indexed, func(i, j int) bool {
		if indexed[i].entry.CreatedAtUTC == indexed[j].entry.CreatedAtUTC {
			// Prefer later appended entries for equal timestamps.
			return indexed[i].idx > indexed[j].idx
		}
		return indexed[i].entry.CreatedAtUTC > indexed[j].entry.CreatedAtUTC
	})

	sorted := make([]RunIndexEntry, 0, len(indexed))
	for _, item := range indexed {
		sorted = append(sorted, item.entry)
	}
	return sorted, nil
}

func ReadRunRecord(baseDir, runID string) (model.RunRecord, bool, error) {
	data, err := os.ReadFile(filepath.Join(baseDir, runID, configFile))
	if err != nil {
		if os.IsNotExist(err) {
			return model.RunRecord{}, false, nil
		}
		return model.RunRecord{}, false, err
	}
	var record model.RunRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return model.RunRecord{}, false, err
	}
	return record, true, nil
}

func ReadRewardHistory(baseDir, runID string) ([]float64, bool, error) {
	file, err := os.Open(filepath.Join(baseDir, runID, rewardHistoryFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return []float64{}, true, nil
		}
		return nil, false, err
	}
	if len(header) < 2 {
		return nil, false, fmt.Errorf("reward history header must have at least 2 columns")
	}

	history := make([]float64, 0, 128)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, false, err
		}
		if len(record) < 2 {
			return nil, false, fmt.Errorf("reward history row must have at least 2 columns")
		}
		value, err := strconv.ParseFloat(record[1], 64)
		if err != nil {
			return nil, false, err
		}
		history = append(history, value)
	}
	return history, true, nil
}

func ReadMasteryEvents(baseDir, runID string) ([]model.MasteryEvent, bool, error) {
	data, err := os.ReadFile(filepath.Join(baseDir, runID, masteryEventsFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var events []model.MasteryEvent
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, false, err
	}
	return events, true, nil
}

func ExportRunArtifacts(baseDir, runID, outDir string) (string, error) {
	if runID == "" {
		return "", fmt.Errorf("run id is required")
	}

	src := RunDir(baseDir, runID)
	if _, err := os.Stat(src); err != nil {
		return "", err
	}

	dst := filepath.Join(outDir, runID)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", err
	}

	for _, file := range []string{configFile, rewardHistoryFile, masteryEventsFile} {
		if err := copyFile(filepath.Join(src, file), filepath.Join(dst, file)); err != nil {
			return "", err
		}
	}
	chartPath := filepath.Join(src, rewardChartFile)
	if _, err := os.Stat(chartPath); err == nil {
		if err := copyFile(chartPath, filepath.Join(dst, rewardChartFile)); err != nil {
			return "", err
		}
	} else if !os.IsNotExist(err) {
		return "", err
	}
	return dst, nil
}

// readRunIndex returns entries in append order.
func readRunIndex(baseDir string) ([]RunIndexEntry, error) {
	data, err := os.ReadFile(filepath.Join(baseDir, runIndexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return []RunIndexEntry{}, nil
		}
		return nil, err
	}

	var entries []RunIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func writeRewardHistory(path string, offset int, history []float64) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := writeRewardRows(file, offset, history); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}

func writeRewardRows(w io.Writer, offset int, history []float64) error {
	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"episode", "reward"}); err != nil {
		return err
	}
	for i, reward := range history {
		if err := writer.Write([]string{
			strconv.Itoa(offset + i + 1),
			strconv.FormatFloat(reward, 'f', -1, 64),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
