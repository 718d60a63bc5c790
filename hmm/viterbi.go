package hmm

import (
	"fmt"
	"math"

	"github.com/happyhackingspace/hmmkit/matrix"
)

// Viterbi finds the most likely state path (log-domain) and its joint log
// probability log p(x, z).
func Viterbi(ll *matrix.Matrix, m *TransitionModel) ([]int, float64, error) {
	if err := checkShape(ll, m); err != nil {
		return nil, math.Inf(-1), err
	}
	T, K := ll.Rows, ll.Cols

	logTrans := make([]float64, K*K)
	for i, p := range m.trans {
		logTrans[i] = math.Log(p)
	}

	// delta[t][y] = best score ending at time t in state y
	delta := matrix.New(T, K)
	// psi[t][y] = best previous state for backtracking
	psi := make([]int, T*K)

	// t = 0
	for y := range K {
		v := ll.At(0, y)
		if err := checkLogLik(0, y, v); err != nil {
			return nil, math.Inf(-1), err
		}
		delta.Set(0, y, math.Log(m.init[y])+v)
	}
	if err := checkReachable(delta.Row(0), 0); err != nil {
		return nil, math.Inf(-1), err
	}

	// t = 1..T-1
	for t := 1; t < T; t++ {
		prev := delta.Row(t - 1)
		for y := range K {
			v := ll.At(t, y)
			if err := checkLogLik(t, y, v); err != nil {
				return nil, math.Inf(-1), err
			}
			bestScore := math.Inf(-1)
			bestPrev := 0
			for yp := range K {
				score := prev[yp] + logTrans[yp*K+y]
				if score > bestScore {
					bestScore = score
					bestPrev = yp
				}
			}
			delta.Set(t, y, bestScore+v)
			psi[t*K+y] = bestPrev
		}
		if err := checkReachable(delta.Row(t), t); err != nil {
			return nil, math.Inf(-1), err
		}
	}

	// Find best final state
	bestScore := math.Inf(-1)
	bestState := 0
	for y, v := range delta.Row(T - 1) {
		if v > bestScore {
			bestScore = v
			bestState = y
		}
	}

	// Backtrack
	path := make([]int, T)
	path[T-1] = bestState
	for t := T - 2; t >= 0; t-- {
		path[t] = psi[(t+1)*K+path[t+1]]
	}

	return path, bestScore, nil
}

func checkReachable(scores []float64, t int) error {
	for _, v := range scores {
		if !math.IsInf(v, -1) {
			return nil
		}
	}
	return fmt.Errorf("hmm: viterbi: %w", &matrix.DegenerateInputError{Row: t})
}
