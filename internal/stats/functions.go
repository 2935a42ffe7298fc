package stats

import (
	"fmt"
	"math"
)

func Avg(values []float64) (float64, error) {
	if len(values) == 0 {
		return 0, fmt.Errorf("values must not be empty")
	}
	sum := 0.0
	for _, value := range values {
		sum += value
	}
	return sum / float64(len(values)), nil
}

// Std returns population standard deviation.
func Std(values []float64) (float64, error) {
	mean, err := Avg(values)
	if err != nil {
		return 0, err
	}
	acc := 0.0
	for _, value := range values {
		diff := value - mean
		acc += diff * diff
	}
	return math.Sqrt(acc / float64(len(values))), nil
}

// CorrectRate is the fraction of rewards at or above threshold.
func CorrectRate(rewards []float64, threshold float64) float64 {
	if len(rewards) == 0 {
		return 0
	}
	correct := 0
	for _, reward := range rewards {
		if reward >= threshold {
			correct++
		}
	}
	return float64(correct) / float64(len(rewards))
}
