package report

import (
	"fmt"
	"io"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/logrusorgru/aurora"

	"arithevo/internal/driver"
	"arithevo/internal/stats"
	"arithevo/internal/task"
)

const DefaultReportEvery = 10

// Console prints periodic progress lines and task transitions. It is a
// driver.Observer. A progress line names the task the learner holds after
// the step, so the line for an evolving step shows the new task.
type Console struct {
	out         io.Writer
	au          aurora.Aurora
	reportEvery int
}

func NewConsole(out io.Writer, reportEvery int, color bool) *Console {
	if reportEvery <= 0 {
		reportEvery = DefaultReportEvery
	}
	return &Console{
		out:         out,
		au:          aurora.NewAurora(color),
		reportEvery: reportEvery,
	}
}

func (c *Console) OnStep(r driver.StepResult) {
	if r.Evolution != nil {
		fmt.Fprintln(c.out, c.au.Bold(EvolutionMessage(r.Evolution.From, r.Evolution.To)))
	}
	if r.Episode%c.reportEvery != 0 {
		return
	}
	reward := c.au.Red(r.Reward)
	if r.Reward == task.CorrectReward {
		reward = c.au.Green(r.Reward)
	}
	current := r.Task
	if r.Evolution != nil {
		current = r.Evolution.To
	}
	fmt.Fprintf(c.out, "Episode %s: Task = %s, Action = %d, Reward = %v\n",
		humanize.Comma(int64(r.Episode)), c.au.Cyan(current), r.Action, reward)
}

// EvolutionMessage describes a transition. Wrapping back to the first task
// is reported as a reset.
func EvolutionMessage(from, to task.Task) string {
	if to == task.All()[0] {
		return fmt.Sprintf("Already at max task complexity, resetting to %s...", to)
	}
	return fmt.Sprintf("Mastered %s! Evolving to %s...", from, to)
}

// WriteSummary prints the outcome of a run.
func WriteSummary(w io.Writer, runID string, result driver.Result) {
	fmt.Fprintf(w, "run_id=%s episodes=%s final_task=%s exploration=%.2f evolutions=%d correct_rate=%.4f\n",
		runID,
		humanize.Comma(int64(result.Episodes)),
		result.FinalTask,
		result.ExplorationRate,
		len(result.Evolutions),
		result.CorrectRate(),
	)

	if mean, err := stats.Avg(result.RewardHistory); err == nil {
		std, _ := stats.Std(result.RewardHistory)
		fmt.Fprintf(w, "  retained=%s reward_mean=%.4f reward_std=%.4f\n",
			humanize.Comma(int64(len(result.RewardHistory))), mean, std)
	}

	tasks := make([]task.Task, 0, len(result.Attempts))
	for t := range result.Attempts {
		tasks = append(tasks, t)
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i] < tasks[j] })
	for _, t := range tasks {
		attempts := result.Attempts[t]
		fmt.Fprintf(w, "  %s: attempts=%s correct=%s\n",
			t, humanize.Comma(int64(attempts)), humanize.Comma(int64(result.Correct[t])))
	}
	for _, evolution := range result.Evolutions {
		fmt.Fprintf(w, "  episode=%s %s -> %s window_mean=%.3f\n",
			humanize.Comma(int64(evolution.Episode)), evolution.From, evolution.To, evolution.WindowMean)
	}
}
