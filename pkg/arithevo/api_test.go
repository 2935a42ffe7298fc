package arithevo

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, base string) *Client {
	t.Helper()
	client, err := New(Options{
		StoreKind:     "memory",
		BenchmarksDir: filepath.Join(base, "benchmarks"),
		ExportsDir:    filepath.Join(base, "exports"),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = client.Close()
	})
	return client
}

func TestClientRunHistoryPlotAndExport(t *testing.T) {
	base := t.TempDir()
	client := newTestClient(t, base)
	ctx := context.Background()

	var progress bytes.Buffer
	summary, err := client.Run(ctx, RunRequest{
		Episodes:    200,
		Seed:        42,
		Progress:    &progress,
		ReportEvery: 50,
	})
	require.NoError(t, err)
	require.NotEmpty(t, summary.RunID)
	assert.Equal(t, 200, summary.Episodes)
	assert.False(t, summary.Interrupted)
	assert.Equal(t, int64(42), summary.Seed)
	assert.Contains(t, progress.String(), "Episode 0: Task = ")
	assert.Contains(t, progress.String(), "Episode 150: Task = ")
	assert.Contains(t, progress.String(), "run_id="+summary.RunID)

	runs, err := client.Runs(ctx, RunsRequest{Limit: 5})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, summary.RunID, runs[0].RunID)
	assert.Equal(t, 200, runs[0].Episodes)

	history, err := client.RewardHistory(ctx, RewardHistoryRequest{RunID: summary.RunID})
	require.NoError(t, err)
	require.Len(t, history, 200)
	correct := 0
	for _, reward := range history {
		require.Contains(t, []float64{1, -0.1}, reward)
		if reward == 1 {
			correct++
		}
	}
	assert.InDelta(t, float64(correct)/200, summary.CorrectRate, 1e-12)

	tail, err := client.RewardHistory(ctx, RewardHistoryRequest{Latest: true, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, history[190:], tail)

	events, err := client.MasteryEvents(ctx, MasteryEventsRequest{Latest: true})
	require.NoError(t, err)
	assert.Equal(t, summary.MasteryEvents, events)

	plot, err := client.Plot(ctx, PlotRequest{Latest: true})
	require.NoError(t, err)
	html, err := os.ReadFile(plot.Path)
	require.NoError(t, err)
	assert.Contains(t, string(html), "echarts")

	exported, err := client.Export(ctx, ExportRequest{Latest: true})
	require.NoError(t, err)
	assert.Equal(t, summary.RunID, exported.RunID)
	for _, file := range []string{"config.json", "reward_history.csv", "mastery_events.json", "reward_chart.html"} {
		_, err := os.Stat(filepath.Join(exported.Directory, file))
		require.NoError(t, err, file)
	}
}

// cancelAfter cancels once a progress line for the given episode is written.
type cancelAfter struct {
	marker string
	cancel context.CancelFunc
	buf    bytes.Buffer
}

func (w *cancelAfter) Write(p []byte) (int, error) {
	if strings.Contains(string(p), w.marker) {
		w.cancel()
	}
	return w.buf.Write(p)
}

func TestClientRunPersistsInterruptedRun(t *testing.T) {
	base := t.TempDir()
	client := newTestClient(t, base)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	progress := &cancelAfter{marker: "Episode 30:", cancel: cancel}
	summary, err := client.Run(ctx, RunRequest{
		Episodes:    0,
		Seed:        7,
		Progress:    progress,
		ReportEvery: 10,
	})
	require.NoError(t, err)
	assert.True(t, summary.Interrupted)
	assert.Equal(t, 31, summary.Episodes)

	history, err := client.RewardHistory(context.Background(), RewardHistoryRequest{RunID: summary.RunID})
	require.NoError(t, err)
	assert.Len(t, history, 31)
}

func TestClientReadsArtifactsFromAnotherProcess(t *testing.T) {
	base := t.TempDir()
	writer := newTestClient(t, base)
	summary, err := writer.Run(context.Background(), RunRequest{Episodes: 60, Seed: 3})
	require.NoError(t, err)

	// A fresh memory store knows nothing about the run.
	reader := newTestClient(t, base)
	history, err := reader.RewardHistory(context.Background(), RewardHistoryRequest{Latest: true})
	require.NoError(t, err)
	assert.Len(t, history, 60)

	events, err := reader.MasteryEvents(context.Background(), MasteryEventsRequest{RunID: summary.RunID})
	require.NoError(t, err)
	assert.Len(t, events, len(summary.MasteryEvents))

	_, err = reader.Plot(context.Background(), PlotRequest{RunID: summary.RunID, OutPath: filepath.Join(base, "charts", "run.html")})
	require.NoError(t, err)
}

func TestClientRunsFallsBackToStoreWithoutIndex(t *testing.T) {
	base := t.TempDir()
	client := newTestClient(t, base)
	ctx := context.Background()

	first, err := client.Run(ctx, RunRequest{Episodes: 20, Seed: 1})
	require.NoError(t, err)
	second, err := client.Run(ctx, RunRequest{Episodes: 30, Seed: 2})
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(base, "benchmarks", "run_index.json")))

	runs, err := client.Runs(ctx, RunsRequest{})
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, second.RunID, runs[0].RunID)
	assert.Equal(t, 30, runs[0].Episodes)
	assert.Equal(t, int64(2), runs[0].Seed)
	assert.Equal(t, first.RunID, runs[1].RunID)

	limited, err := client.Runs(ctx, RunsRequest{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, second.RunID, limited[0].RunID)
}

func TestClientSeededRunsAreReproducible(t *testing.T) {
	client := newTestClient(t, t.TempDir())
	ctx := context.Background()

	first, err := client.Run(ctx, RunRequest{Episodes: 300, Seed: 11})
	require.NoError(t, err)
	second, err := client.Run(ctx, RunRequest{Episodes: 300, Seed: 11})
	require.NoError(t, err)
	require.NotEqual(t, first.RunID, second.RunID)

	a, err := client.RewardHistory(ctx, RewardHistoryRequest{RunID: first.RunID})
	require.NoError(t, err)
	b, err := client.RewardHistory(ctx, RewardHistoryRequest{RunID: second.RunID})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestClientRunRejectsInvalidRequests(t *testing.T) {
	client := newTestClient(t, t.TempDir())
	ctx := context.Background()

	cases := map[string]RunRequest{
		"learning rate":    {Episodes: 1, LearningRate: 2},
		"initial task":     {Episodes: 1, InitialTask: "division"},
		"exploration task": {Episodes: 1, Exploration: map[string]float64{"division": 0.1}},
		"exploration rate": {Episodes: 1, Exploration: map[string]float64{"addition": 1.5}},
		"operand range":    {Episodes: 1, OperandMin: 5, OperandMax: 2},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := client.Run(ctx, req)
			require.Error(t, err)
		})
	}
}

func TestClientRunSelectionErrors(t *testing.T) {
	client := newTestClient(t, t.TempDir())
	ctx := context.Background()

	_, err := client.RewardHistory(ctx, RewardHistoryRequest{RunID: "x", Latest: true})
	require.Error(t, err)
	_, err = client.RewardHistory(ctx, RewardHistoryRequest{})
	require.Error(t, err)
	_, err = client.RewardHistory(ctx, RewardHistoryRequest{RunID: "x", Limit: -1})
	require.Error(t, err)
	_, err = client.MasteryEvents(ctx, MasteryEventsRequest{Latest: true})
	require.ErrorContains(t, err, "no runs available")
	_, err = client.Export(ctx, ExportRequest{})
	require.Error(t, err)
	_, err = client.Plot(ctx, PlotRequest{RunID: "missing"})
	require.ErrorContains(t, err, "run not found")
}
