package stats

import "math"

// ProbEpsilon bounds probabilities away from 0 and 1
const ProbEpsilon = 1e-6

// ClipProb clamps p into [ProbEpsilon, 1-ProbEpsilon]; non-finite input returns NaN
func ClipProb(p float64) float64 {
	if !IsFinite(p) {
		return math.NaN()
	}
	return Clamp(p, ProbEpsilon, 1-ProbEpsilon)
}

// Logit returns log(p/(1-p)) of the clipped probability
func Logit(p float64) float64 {
	c := ClipProb(p)
	if math.IsNaN(c) {
		return math.NaN()
	}
	return math.Log(c / (1 - c))
}

// Sigmoid is the logistic function, evaluated without overflow for large |z|
func Sigmoid(z float64) float64 {
	if z >= 0 {
		ez := math.Exp(-z)
		return 1 / (1 + ez)
	}
	ez := math.Exp(z)
	return ez / (1 + ez)
}

// Clamp bounds v into [lo, hi]
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Clamp01 bounds v into [0, 1]
func Clamp01(v float64) float64 {
	return Clamp(v, 0, 1)
}

// IsFinite reports whether v is neither NaN nor infinite
func IsFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
