package stats

// RewardWindow is a bounded FIFO of the most recent rewards. Pushing into a
// full window evicts the oldest value.
type RewardWindow struct {
	values []float64
	start  int
	size   int
}

func NewRewardWindow(capacity int) *RewardWindow {
	if capacity <= 0 {
		capacity = 1
	}
	return &RewardWindow{values: make([]float64, capacity)}
}

func (w *RewardWindow) Push(reward float64) {
	capacity := len(w.values)
	if w.size < capacity {
		w.values[(w.start+w.size)%capacity] = reward
		w.size++
		return
	}
	w.values[w.start] = reward
	w.start = (w.start + 1) % capacity
}

func (w *RewardWindow) Len() int {
	return w.size
}

func (w *RewardWindow) Cap() int {
	return len(w.values)
}

func (w *RewardWindow) Full() bool {
	return w.size == len(w.values)
}

// Values returns the window contents oldest first.
func (w *RewardWindow) Values() []float64 {
	out := make([]float64, w.size)
	for i := range out {
		out[i] = w.values[(w.start+i)%len(w.values)]
	}
	return out
}

func (w *RewardWindow) Mean() (float64, error) {
	return Avg(w.Values())
}

func (w *RewardWindow) Clear() {
	w.start = 0
	w.size = 0
}
