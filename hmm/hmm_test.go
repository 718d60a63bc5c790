package hmm

import (
	"encoding/json"
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"gonum.org/v1/gonum/floats"

	"github.com/happyhackingspace/hmmkit/matrix"
)

func mustModel(t *testing.T, init []float64, trans [][]float64) *TransitionModel {
	t.Helper()
	m, err := NewTransitionModelFromRows(init, trans)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func mustMatrix(t *testing.T, rows [][]float64) *matrix.Matrix {
	t.Helper()
	m, err := matrix.FromRows(rows)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func randDist(r *rand.Rand, k int) []float64 {
	p := make([]float64, k)
	for i := range p {
		p[i] = 0.05 + r.Float64()
	}
	floats.Scale(1/floats.Sum(p), p)
	return p
}

func randomProblem(r *rand.Rand, T, K int) ([]float64, [][]float64, [][]float64) {
	init := randDist(r, K)
	trans := make([][]float64, K)
	for i := range trans {
		trans[i] = randDist(r, K)
	}
	ll := make([][]float64, T)
	for t := range ll {
		ll[t] = make([]float64, K)
		for k := range ll[t] {
			ll[t][k] = -5 * r.Float64()
		}
	}
	return init, trans, ll
}

// bruteForce enumerates all K^T state paths.
func bruteForce(init []float64, trans, ll [][]float64) (logZ float64, resp, xi [][]float64) {
	T, K := len(ll), len(init)
	n := 1
	for range T {
		n *= K
	}
	logp := make([]float64, n)
	paths := make([][]int, n)
	for p := range n {
		path := make([]int, T)
		code := p
		for t := range T {
			path[t] = code % K
			code /= K
		}
		s := math.Log(init[path[0]]) + ll[0][path[0]]
		for t := 1; t < T; t++ {
			s += math.Log(trans[path[t-1]][path[t]]) + ll[t][path[t]]
		}
		logp[p] = s
		paths[p] = path
	}
	logZ = floats.LogSumExp(logp)

	resp = make([][]float64, T)
	for t := range resp {
		resp[t] = make([]float64, K)
	}
	xi = make([][]float64, K)
	for i := range xi {
		xi[i] = make([]float64, K)
	}
	for p, path := range paths {
		w := math.Exp(logp[p] - logZ)
		for t, z := range path {
			resp[t][z] += w
			if t > 0 {
				xi[path[t-1]][z] += w
			}
		}
	}
	return logZ, resp, xi
}

func TestForwardBackwardMatchesBruteForce(t *testing.T) {
	r := rand.New(rand.NewPCG(7, 11))
	approx := cmpopts.EquateApprox(0, 1e-9)
	for K := 1; K <= 3; K++ {
		for T := 1; T <= 5; T++ {
			init, trans, ll := randomProblem(r, T, K)
			model := mustModel(t, init, trans)

			post, err := ForwardBackward(mustMatrix(t, ll), model, DefaultConfig())
			if err != nil {
				t.Fatalf("K=%d T=%d: %v", K, T, err)
			}
			if post.Instability != nil {
				t.Errorf("K=%d T=%d: unexpected instability: %v", K, T, post.Instability)
			}

			logZ, resp, xi := bruteForce(init, trans, ll)
			if math.Abs(post.LogMarginal-logZ) > 1e-9 {
				t.Errorf("K=%d T=%d: LogMarginal = %v, want %v", K, T, post.LogMarginal, logZ)
			}
			if diff := cmp.Diff(resp, post.Resp.ToRows(), approx); diff != "" {
				t.Errorf("K=%d T=%d: Resp mismatch (-want +got):\n%s", K, T, diff)
			}
			if diff := cmp.Diff(xi, post.TransCount.ToRows(), approx); diff != "" {
				t.Errorf("K=%d T=%d: TransCount mismatch (-want +got):\n%s", K, T, diff)
			}
		}
	}
}

func TestResponsibilitiesSumToOne(t *testing.T) {
	r := rand.New(rand.NewPCG(3, 5))
	init, trans, ll := randomProblem(r, 200, 6)
	post, err := ForwardBackward(mustMatrix(t, ll), mustModel(t, init, trans), DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	for i := range post.Resp.Rows {
		if s := floats.Sum(post.Resp.Row(i)); math.Abs(s-1) > 1e-6 {
			t.Errorf("Resp row %d sums to %v", i, s)
		}
	}
	for i, v := range post.TransCount.Data {
		if v < 0 {
			t.Errorf("TransCount[%d] = %v, want >= 0", i, v)
		}
	}
	if s := floats.Sum(post.TransCount.Data); math.Abs(s-199) > 1e-6 {
		t.Errorf("TransCount total = %v, want 199", s)
	}
}

func TestStickyAlternatingEvidence(t *testing.T) {
	init := []float64{0.5, 0.5}
	trans := [][]float64{{0.9, 0.1}, {0.1, 0.9}}
	rows := [][]float64{
		{0, -10},
		{-10, 0},
		{0, -10},
		{-10, 0},
	}
	post, err := ForwardBackward(mustMatrix(t, rows), mustModel(t, init, trans), DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	_, resp, _ := bruteForce(init, trans, rows)
	for step := range 4 {
		favored := step % 2
		p := post.Resp.At(step, favored)
		if p <= 0.8 {
			t.Errorf("step %d: P(state %d) = %v, want > 0.8", step, favored, p)
		}
		if math.Abs(p-resp[step][favored]) > 1e-9 {
			t.Errorf("step %d: P(state %d) = %v, enumeration gives %v", step, favored, p, resp[step][favored])
		}
	}
}

func TestLongSequenceStable(t *testing.T) {
	model := mustModel(t, []float64{0.6, 0.4}, [][]float64{{0.95, 0.05}, {0.2, 0.8}})
	for _, offset := range []float64{-1e4, 800} {
		rows := make([][]float64, 5000)
		for i := range rows {
			rows[i] = []float64{offset - float64(i%3), offset - float64((i+1)%2)}
		}
		post, err := ForwardBackward(mustMatrix(t, rows), model, DefaultConfig())
		if err != nil {
			t.Fatalf("offset %v: %v", offset, err)
		}
		if math.IsNaN(post.LogMarginal) || math.IsInf(post.LogMarginal, 0) {
			t.Errorf("offset %v: LogMarginal = %v, want finite", offset, post.LogMarginal)
		}
		if post.Instability != nil {
			t.Errorf("offset %v: %v", offset, post.Instability)
		}
		for i := range post.Resp.Rows {
			if s := floats.Sum(post.Resp.Row(i)); math.Abs(s-1) > 1e-6 {
				t.Fatalf("offset %v: Resp row %d sums to %v", offset, i, s)
			}
		}
	}
}

func TestForwardBackwardErrors(t *testing.T) {
	model := mustModel(t, []float64{1, 0}, [][]float64{{1, 0}, {0, 1}})
	inf := math.Inf(-1)

	tests := []struct {
		name string
		ll   *matrix.Matrix
		want error
		row  int
	}{
		{"empty", matrix.New(0, 2), matrix.ErrInvalidArgument, -1},
		{"wrong K", matrix.New(2, 3), matrix.ErrDimensionMismatch, -1},
		{"NaN", mustMatrix(t, [][]float64{{0, math.NaN()}}), matrix.ErrInvalidArgument, -1},
		{"+Inf", mustMatrix(t, [][]float64{{math.Inf(1), 0}}), matrix.ErrInvalidArgument, -1},
		{"impossible row", mustMatrix(t, [][]float64{{0, 0}, {inf, inf}}), matrix.ErrDegenerateInput, 1},
		{"unreachable state", mustMatrix(t, [][]float64{{0, inf}, {inf, 0}}), matrix.ErrDegenerateInput, 1},
	}
	for _, tt := range tests {
		_, err := ForwardBackward(tt.ll, model, DefaultConfig())
		if !errors.Is(err, tt.want) {
			t.Errorf("%s: err = %v, want %v", tt.name, err, tt.want)
			continue
		}
		if tt.row >= 0 {
			var de *matrix.DegenerateInputError
			if !errors.As(err, &de) || de.Row != tt.row {
				t.Errorf("%s: degenerate row = %v, want %d", tt.name, de, tt.row)
			}
		}
	}
}

func TestSeparatePassesMatchCombined(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	init, trans, llRows := randomProblem(r, 30, 4)
	model := mustModel(t, init, trans)
	ll := mustMatrix(t, llRows)

	fwd, err := Forward(ll, model)
	if err != nil {
		t.Fatal(err)
	}
	bwd, err := Backward(ll, model)
	if err != nil {
		t.Fatal(err)
	}
	split, err := Combine(fwd, bwd, ll, model, DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}

	cfg := DefaultConfig()
	cfg.ParallelPasses = true
	joint, err := ForwardBackward(ll, model, cfg)
	if err != nil {
		t.Fatal(err)
	}

	if split.LogMarginal != joint.LogMarginal {
		t.Errorf("LogMarginal %v vs %v", split.LogMarginal, joint.LogMarginal)
	}
	if diff := cmp.Diff(split.Resp.Data, joint.Resp.Data); diff != "" {
		t.Errorf("Resp mismatch:\n%s", diff)
	}
	if diff := cmp.Diff(split.TransCount.Data, joint.TransCount.Data); diff != "" {
		t.Errorf("TransCount mismatch:\n%s", diff)
	}
}

func TestCrossCheckReportsInstability(t *testing.T) {
	model := mustModel(t, []float64{0.5, 0.5}, [][]float64{{0.7, 0.3}, {0.4, 0.6}})
	ll := mustMatrix(t, [][]float64{{-1, -2}, {-0.5, -3}, {-2, -0.1}})

	fwd, _ := Forward(ll, model)
	bwd, _ := Backward(ll, model)
	bwd.LogScale[0] += 0.5

	post, err := Combine(fwd, bwd, ll, model, DefaultConfig())
	if err != nil {
		t.Fatalf("instability must not be fatal: %v", err)
	}
	if !errors.Is(post.Instability, matrix.ErrNumericalInstability) {
		t.Errorf("Instability = %v, want ErrNumericalInstability", post.Instability)
	}
	if post.Resp == nil || post.TransCount == nil {
		t.Error("best-effort result should still be returned")
	}

	cfg := DefaultConfig()
	cfg.CrossCheck = false
	post, _ = Combine(fwd, bwd, ll, model, cfg)
	if post.Instability != nil {
		t.Errorf("cross-check disabled, Instability = %v", post.Instability)
	}
}

func TestCombineZeroConfig(t *testing.T) {
	r := rand.New(rand.NewPCG(5, 8))
	init, trans, llRows := randomProblem(r, 25, 3)
	model := mustModel(t, init, trans)
	ll := mustMatrix(t, llRows)

	fwd, err := Forward(ll, model)
	if err != nil {
		t.Fatal(err)
	}
	bwd, err := Backward(ll, model)
	if err != nil {
		t.Fatal(err)
	}
	post, err := Combine(fwd, bwd, ll, model, Config{CrossCheck: true})
	if err != nil {
		t.Fatalf("zero tolerances rejected pass output: %v", err)
	}
	if post.Instability != nil {
		t.Errorf("unexpected instability: %v", post.Instability)
	}
	want, err := ForwardBackward(ll, model, DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want.Resp.Data, post.Resp.Data); diff != "" {
		t.Errorf("Resp mismatch (-default +zero):\n%s", diff)
	}
}

func TestCombineRejectsMismatchedMessages(t *testing.T) {
	model := mustModel(t, []float64{0.5, 0.5}, [][]float64{{0.7, 0.3}, {0.4, 0.6}})
	ll := mustMatrix(t, [][]float64{{-1, -2}, {-0.5, -3}})
	fwd, _ := Forward(ll, model)
	short := mustMatrix(t, [][]float64{{-1, -2}})
	bwd, _ := Backward(short, model)

	if _, err := Combine(fwd, bwd, ll, model, DefaultConfig()); !errors.Is(err, matrix.ErrDimensionMismatch) {
		t.Errorf("err = %v, want ErrDimensionMismatch", err)
	}
}

func TestViterbiMatchesBruteForce(t *testing.T) {
	r := rand.New(rand.NewPCG(5, 8))
	init, trans, ll := randomProblem(r, 4, 3)
	model := mustModel(t, init, trans)

	path, score, err := Viterbi(mustMatrix(t, ll), model)
	if err != nil {
		t.Fatal(err)
	}

	best := math.Inf(-1)
	var bestPath []int
	for p := range 81 {
		cand := []int{p % 3, (p / 3) % 3, (p / 9) % 3, (p / 27) % 3}
		s := math.Log(init[cand[0]]) + ll[0][cand[0]]
		for step := 1; step < 4; step++ {
			s += math.Log(trans[cand[step-1]][cand[step]]) + ll[step][cand[step]]
		}
		if s > best {
			best, bestPath = s, cand
		}
	}
	if diff := cmp.Diff(bestPath, path); diff != "" {
		t.Errorf("path mismatch (-want +got):\n%s", diff)
	}
	if math.Abs(score-best) > 1e-10 {
		t.Errorf("score = %v, want %v", score, best)
	}
}

func TestViterbiUnreachable(t *testing.T) {
	model := mustModel(t, []float64{1, 0}, [][]float64{{1, 0}, {0, 1}})
	ll := mustMatrix(t, [][]float64{{0, 0}, {math.Inf(-1), 0}})
	_, _, err := Viterbi(ll, model)
	var de *matrix.DegenerateInputError
	if !errors.As(err, &de) || de.Row != 1 {
		t.Errorf("err = %v, want degenerate row 1", err)
	}
}

func TestNewTransitionModelInvalid(t *testing.T) {
	tests := []struct {
		name  string
		init  []float64
		trans [][]float64
		want  error
	}{
		{"no states", nil, nil, matrix.ErrInvalidArgument},
		{"init sum", []float64{0.5, 0.4}, [][]float64{{1, 0}, {0, 1}}, matrix.ErrInvalidArgument},
		{"negative", []float64{1.5, -0.5}, [][]float64{{1, 0}, {0, 1}}, matrix.ErrInvalidArgument},
		{"row sum", []float64{0.5, 0.5}, [][]float64{{1, 0}, {0.5, 0.6}}, matrix.ErrInvalidArgument},
		{"shape", []float64{0.5, 0.5}, [][]float64{{1}}, matrix.ErrDimensionMismatch},
	}
	for _, tt := range tests {
		_, err := NewTransitionModelFromRows(tt.init, tt.trans)
		if !errors.Is(err, tt.want) {
			t.Errorf("%s: err = %v, want %v", tt.name, err, tt.want)
		}
	}
}

func TestModelSaveLoad(t *testing.T) {
	model := mustModel(t, []float64{0.25, 0.75}, [][]float64{{0.9, 0.1}, {0.3, 0.7}})
	data, err := json.Marshal(model)
	if err != nil {
		t.Fatal(err)
	}
	loaded, err := UnmarshalModel(data)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.NumStates() != 2 {
		t.Errorf("NumStates = %d, want 2", loaded.NumStates())
	}
	if diff := cmp.Diff(model.Trans().Data, loaded.Trans().Data); diff != "" {
		t.Errorf("Trans mismatch:\n%s", diff)
	}
	if diff := cmp.Diff(model.Init(), loaded.Init()); diff != "" {
		t.Errorf("Init mismatch:\n%s", diff)
	}

	path := t.TempDir() + "/model.json"
	if err := SaveModel(model, path); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadModel(path); err != nil {
		t.Fatal(err)
	}
}

func TestSummaryAddMerge(t *testing.T) {
	model := mustModel(t, []float64{0.5, 0.5}, [][]float64{{0.9, 0.1}, {0.1, 0.9}})
	ll := mustMatrix(t, [][]float64{{0, -5}, {-5, 0}, {0, -1}})
	post, err := ForwardBackward(ll, model, DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}

	a, b := NewSummary(2), NewSummary(2)
	if err := a.Add(post); err != nil {
		t.Fatal(err)
	}
	if err := b.Add(post); err != nil {
		t.Fatal(err)
	}
	if err := a.Merge(b); err != nil {
		t.Fatal(err)
	}
	if a.Sequences != 2 {
		t.Errorf("Sequences = %d, want 2", a.Sequences)
	}
	if s := floats.Sum(a.StateCount); math.Abs(s-6) > 1e-9 {
		t.Errorf("StateCount total = %v, want 6", s)
	}
	if s := floats.Sum(a.TransCount.Data); math.Abs(s-4) > 1e-9 {
		t.Errorf("TransCount total = %v, want 4", s)
	}
	if math.Abs(a.LogMarginal-2*post.LogMarginal) > 1e-12 {
		t.Errorf("LogMarginal = %v, want %v", a.LogMarginal, 2*post.LogMarginal)
	}
	if err := a.Merge(NewSummary(3)); !errors.Is(err, matrix.ErrDimensionMismatch) {
		t.Errorf("merge mismatched: err = %v", err)
	}
}
