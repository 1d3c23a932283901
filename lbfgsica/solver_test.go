package lbfgsica

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/fastica/go-fast-ica/signals"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		options []Option
		wantErr bool
	}{
		{
			name:    "defaults",
			options: nil,
			wantErr: false,
		},
		{
			name: "full config",
			options: []Option{
				WithMemorySize(10),
				WithMaxIterations(200),
				WithPreconditioner(H2),
				WithTolerance(1e-9),
				WithLambdaMin(0.05),
				WithLineSearchTries(8),
			},
			wantErr: false,
		},
		{
			name:    "zero memory allowed",
			options: []Option{WithMemorySize(0)},
			wantErr: false,
		},
		{
			name:    "negative memory",
			options: []Option{WithMemorySize(-1)},
			wantErr: true,
		},
		{
			name:    "zero max iterations",
			options: []Option{WithMaxIterations(0)},
			wantErr: true,
		},
		{
			name:    "unknown preconditioner",
			options: []Option{WithPreconditioner(3)},
			wantErr: true,
		},
		{
			name:    "non-positive tolerance",
			options: []Option{WithTolerance(0)},
			wantErr: true,
		},
		{
			name:    "non-positive lambda min",
			options: []Option{WithLambdaMin(-0.1)},
			wantErr: true,
		},
		{
			name:    "zero line search tries",
			options: []Option{WithLineSearchTries(0)},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.options...)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRunInputValidation(t *testing.T) {
	solver, err := New()
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	tests := []struct {
		name string
		x    *mat.Dense
	}{
		{name: "nil matrix", x: nil},
		{name: "NaN entry", x: mat.NewDense(2, 2, []float64{1, math.NaN(), 0, 1})},
		{name: "Inf entry", x: mat.NewDense(2, 2, []float64{1, 0, math.Inf(1), 1})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := solver.Run(tt.x); err == nil {
				t.Error("Run() accepted invalid input")
			}
		})
	}
}

// mixture builds a centered mixture of seeded Laplace sources together with
// the mixing matrix used.
func mixture(t *testing.T, n, samples int, seed uint64) (*mat.Dense, *mat.Dense) {
	t.Helper()
	sources := signals.Laplace(n, samples, seed)
	mixing := signals.RandomMixing(n, seed)
	observed := signals.Mix(mixing, sources)
	signals.Center(observed)
	return observed, mixing
}

func TestSeparatesLaplaceMixture(t *testing.T) {
	const (
		n       = 2
		samples = 1000
		tol     = 1e-7
	)
	observed, mixing := mixture(t, n, samples, 42)

	var losses []float64
	solver, err := New(
		WithMemorySize(7),
		WithMaxIterations(100),
		WithPreconditioner(H1),
		WithTolerance(tol),
		WithProgress(func(p Progress) { losses = append(losses, p.Loss) }),
	)
	require.NoError(t, err)

	res, err := solver.Run(observed)
	require.NoError(t, err)
	require.Equal(t, Converged, res.Status, "solver did not converge in %d iterations", res.Iterations)
	assert.Less(t, res.GradNorm, tol)
	assert.Less(t, res.Iterations, 100)

	// Y = W·X must hold at return time.
	prod := mat.NewDense(n, samples, nil)
	prod.Mul(res.W, observed)
	assert.True(t, mat.EqualApprox(prod, res.Y, 1e-8), "Y != W·X at return")

	// W stayed invertible.
	logDet, _ := mat.LogDet(res.W)
	assert.False(t, math.IsInf(logDet, 0) || math.IsNaN(logDet), "final W is singular")

	// Accepted losses are non-increasing while the primary search succeeds,
	// which it does on this well-conditioned mixture.
	for i := 1; i < len(losses); i++ {
		assert.LessOrEqual(t, losses[i], losses[i-1]+1e-10,
			"loss increased at iteration %d", i+1)
	}

	// W·A must be a scaled permutation: each row dominated by one column,
	// each column claimed exactly once.
	gain := mat.NewDense(n, n, nil)
	gain.Mul(res.W, mixing)
	claimed := make(map[int]bool)
	for i := 0; i < n; i++ {
		norm, best, bestAbs := 0.0, -1, 0.0
		for j := 0; j < n; j++ {
			v := math.Abs(gain.At(i, j))
			norm += v * v
			if v > bestAbs {
				bestAbs, best = v, j
			}
		}
		assert.Greater(t, bestAbs/math.Sqrt(norm), 0.9,
			"row %d of W·A is not dominated by a single source", i)
		assert.False(t, claimed[best], "source %d recovered twice", best)
		claimed[best] = true
	}
}

func TestConvergesWithH2(t *testing.T) {
	observed, _ := mixture(t, 2, 1000, 7)

	solver, err := New(WithPreconditioner(H2))
	require.NoError(t, err)

	res, err := solver.Run(observed)
	require.NoError(t, err)
	assert.Equal(t, Converged, res.Status)
}

// With m = 0 the optimizer degrades to preconditioned gradient descent and
// must still make progress without error.
func TestZeroMemoryDescends(t *testing.T) {
	observed, _ := mixture(t, 2, 1000, 11)

	solver, err := New(WithMemorySize(0), WithMaxIterations(50))
	require.NoError(t, err)

	initialLoss := negLogLikelihood(mat.DenseCopyOf(observed), eye(2))
	res, err := solver.Run(observed)
	require.NoError(t, err)
	assert.True(t, finite(res.Loss))
	assert.Less(t, res.Loss, initialLoss)
}

func TestDeterministicRuns(t *testing.T) {
	observed, _ := mixture(t, 3, 500, 99)

	solver, err := New()
	require.NoError(t, err)

	first, err := solver.Run(observed)
	require.NoError(t, err)
	second, err := solver.Run(observed)
	require.NoError(t, err)

	assert.Equal(t, first.Iterations, second.Iterations)
	assert.Equal(t, first.Loss, second.Loss)
	assert.True(t, mat.Equal(first.W, second.W), "repeated runs diverged")
}

func TestMemoryBoundDuringRun(t *testing.T) {
	observed, _ := mixture(t, 2, 1000, 5)

	// A tiny memory with many iterations exercises eviction; the run must
	// stay well-behaved throughout.
	solver, err := New(WithMemorySize(2), WithMaxIterations(60))
	require.NoError(t, err)

	res, err := solver.Run(observed)
	require.NoError(t, err)
	assert.True(t, finite(res.Loss))
}

func TestRunDoesNotModifyInput(t *testing.T) {
	observed, _ := mixture(t, 2, 300, 21)
	backup := mat.DenseCopyOf(observed)

	solver, err := New(WithMaxIterations(20))
	require.NoError(t, err)
	_, err = solver.Run(observed)
	require.NoError(t, err)

	assert.True(t, mat.Equal(observed, backup), "Run modified its input")
}
