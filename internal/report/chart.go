package report

import (
	"fmt"
	"io"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"arithevo/internal/model"
	"arithevo/internal/stats"
	"arithevo/internal/task"
)

type ChartOptions struct {
	Title string
	// Window is the trailing window averaged into each point.
	Window int
	// Step is the episode spacing between plotted points.
	Step int
}

// RenderRewardChart writes an HTML line chart of the rolling mean reward
// with a vertical marker at every mastery event. offset is the episode
// index of rewards[0].
func RenderRewardChart(w io.Writer, rewards []float64, offset int, events []model.MasteryEvent, o ChartOptions) error {
	if len(rewards) == 0 {
		return fmt.Errorf("no rewards to plot")
	}
	if o.Window <= 0 {
		o.Window = 50
	}
	if o.Step <= 0 {
		o.Step = chartStep(len(rewards))
	}
	if o.Title == "" {
		o.Title = "rolling mean reward"
	}

	points := stats.BuildRollingAveragePlot(rewards, o.Window, o.Step)
	labels := make([]string, 0, len(points))
	items := make([]opts.LineData, 0, len(points))
	for _, p := range points {
		labels = append(labels, strconv.Itoa(offset+p.Index))
		items = append(items, opts.LineData{Value: p.Value})
	}

	marks := make([]opts.MarkLineNameXAxisItem, 0, len(events))
	for _, event := range events {
		label, ok := nearestLabel(points, offset, event.Episode+1)
		if !ok {
			continue
		}
		marks = append(marks, opts.MarkLineNameXAxisItem{
			Name:  fmt.Sprintf("%s to %s", event.From, event.To),
			XAxis: label,
		})
	}

	subtitle := fmt.Sprintf("window=%d step=%d correct=%.1f%%",
		o.Window, o.Step, 100*stats.CorrectRate(rewards, task.CorrectReward))

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    o.Title,
			Subtitle: subtitle,
		}),
		charts.WithXAxisOpts(opts.XAxis{Name: "episode"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "reward"}),
	)
	line.SetXAxis(labels).AddSeries("mean reward", items, charts.WithMarkLineNameXAxisItemOpts(marks...))
	return line.Render(w)
}

// nearestLabel finds the first plotted point at or after episode.
func nearestLabel(points []stats.PlotPoint, offset, episode int) (string, bool) {
	for _, p := range points {
		if offset+p.Index >= episode {
			return strconv.Itoa(offset + p.Index), true
		}
	}
	return "", false
}

// chartStep keeps charts to roughly a thousand points.
func chartStep(n int) int {
	step := n / 1000
	if step < 1 {
		return 1
	}
	return step
}
