package agent

type tableKey struct {
	a, b, action int
}

// ValueTable is a sparse state-action value map. Absent entries read as 0.
type ValueTable struct {
	actions int
	values  map[tableKey]float64
}

func NewValueTable(actions int) *ValueTable {
	return &ValueTable{
		actions: actions,
		values:  make(map[tableKey]float64),
	}
}

func (t *ValueTable) Get(a, b, action int) float64 {
	return t.values[tableKey{a: a, b: b, action: action}]
}

func (t *ValueTable) Set(a, b, action int, value float64) {
	t.values[tableKey{a: a, b: b, action: action}] = value
}

func (t *ValueTable) Clear() {
	clear(t.values)
}

func (t *ValueTable) Len() int {
	return len(t.values)
}

// BestAction scans actions left to right and keeps the first strictly
// greater value, so ties resolve to the lowest action index.
func (t *ValueTable) BestAction(a, b int) (int, float64) {
	bestAction := 0
	bestValue := t.Get(a, b, 0)
	for action := 1; action < t.actions; action++ {
		if value := t.Get(a, b, action); value > bestValue {
			bestAction = action
			bestValue = value
		}
	}
	return bestAction, bestValue
}

func (t *ValueTable) BestValue(a, b int) float64 {
	_, value := t.BestAction(a, b)
	return value
}
