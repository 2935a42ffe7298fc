package stats

type PlotPoint struct {
	Index int     `json:"index"`
	Value float64 `json:"value"`
}

// BuildRollingAveragePlot averages rewards over a trailing window and emits
// one point every step episodes. Episodes are 1-based.
func BuildRollingAveragePlot(rewards []float64, window, step int) []PlotPoint {
	if window <= 0 {
		window = 50
	}
	if step <= 0 {
		step = 1
	}
	points := make([]PlotPoint, 0, len(rewards)/step+1)
	sum := 0.0
	for i, reward := range rewards {
		sum += reward
		if i >= window {
			sum -= rewards[i-window]
		}
		episode := i + 1
		if episode%step != 0 && episode != len(rewards) {
			continue
		}
		n := window
		if episode < window {
			n = episode
		}
		points = append(points, PlotPoint{Index: episode, Value: sum / float64(n)})
	}
	return points
}
