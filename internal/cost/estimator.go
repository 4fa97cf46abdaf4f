package cost

import (
	"maps"
	"math"
	"unicode/utf8"
)

// DefaultRate applies to task types missing from the table.
const DefaultRate = 0.015

// CharsPerToken is the heuristic used for token estimates.
const CharsPerToken = 4

// rates are USD per 1,000 input characters.
var rates = map[string]float64{
	"review":        0.015,
	"security":      0.025,
	"testing":       0.020,
	"refactor":      0.018,
	"documentation": 0.010,
	"architecture":  0.030,
	"debug":         0.020,
	"multi":         0.060,
}

type Estimator struct {
	rates map[string]float64
}

func NewEstimator() *Estimator {
	return &Estimator{rates: maps.Clone(rates)}
}

func (e *Estimator) Rate(taskType string) float64 {
	if r, ok := e.rates[taskType]; ok {
		return r
	}
	return DefaultRate
}

// Rates returns a copy of the multiplier table.
func (e *Estimator) Rates() map[string]float64 {
	return maps.Clone(e.rates)
}

// Estimate prices input for the given task type. The result is linear in the
// number of characters.
func (e *Estimator) Estimate(taskType string, input string) (float64, int) {
	chars := utf8.RuneCountInString(input)
	return float64(chars) / 1000 * e.Rate(taskType), EstimateTokens(chars)
}

func EstimateTokens(chars int) int {
	return int(math.Ceil(float64(chars) / CharsPerToken))
}
