// Package lbfgsica estimates an unmixing matrix that separates a multivariate
// signal into statistically independent components (ICA). The estimation
// maximizes a log-likelihood independence objective with a limited-memory
// quasi-Newton method preconditioned by closed-form Hessian approximations,
// as described in "Faster ICA by preconditioning with Hessian approximations".
//
// The parameter lives in the general linear group, so updates are relative
// (multiplicative) rather than additive: a step D maps W to (I + αD)·W and the
// source estimate Y = W·X is advanced by the same transform, never recomputed
// from scratch.
package lbfgsica

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ErrSingular reports that the unmixing matrix became (near-)singular and the
// loss evaluated to a non-finite value. The best-effort result is still
// returned alongside it.
var ErrSingular = errors.New("unmixing matrix is singular")

// Preconditioner selects which Hessian approximation preconditions the
// two-loop recursion.
type Preconditioner int

const (
	// H1 is the cheap rank-one approximation (default).
	H1 Preconditioner = 1
	// H2 is the exact block curvature, costlier per iteration but can
	// greatly accelerate convergence on hard mixtures.
	H2 Preconditioner = 2
)

// Status is the terminal state of a solver run.
type Status int

const (
	// Converged means the gradient norm dropped below the tolerance.
	Converged Status = iota
	// MaxIterReached means the iteration budget ran out first. This is a
	// normal outcome, not an error; inspect Result.GradNorm to judge the
	// final state.
	MaxIterReached
)

func (s Status) String() string {
	switch s {
	case Converged:
		return "converged"
	case MaxIterReached:
		return "max iterations reached"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Progress describes one completed iteration, delivered to the callback
// installed with WithProgress.
type Progress struct {
	Iteration int     // 1-based iteration number
	Loss      float64 // loss after the accepted update
	GradNorm  float64 // max-absolute-entry gradient norm before the update
}

// Result holds the outcome of a run. Y and W satisfy Y = W·X up to
// floating-point rounding.
//
// When Run returns an error the Result carries the best-effort state at the
// point of failure and Status is not meaningful: the run terminated neither
// by convergence nor by exhausting its budget.
type Result struct {
	Y          *mat.Dense // estimated sources, N×T
	W          *mat.Dense // estimated unmixing matrix, N×N
	Loss       float64
	GradNorm   float64
	Iterations int
	Status     Status
}

// fallbackTries is the fixed line-search budget for the plain-gradient retry
// after the quasi-Newton direction is rejected.
const fallbackTries = 3

// Solver runs the L-BFGS ICA algorithm. A Solver holds configuration only;
// concurrent Run calls on different inputs are independent.
type Solver struct {
	mem       int
	maxIter   int
	precon    Preconditioner
	tol       float64
	lambdaMin float64
	lsTries   int
	progress  func(Progress)
}

// Option configures a Solver.
type Option func(*Solver)

// WithMemorySize sets the quasi-Newton memory size m. Typical values are in
// the range 3-15; zero degrades to preconditioned gradient descent.
func WithMemorySize(m int) Option {
	return func(s *Solver) { s.mem = m }
}

// WithMaxIterations sets the iteration budget.
func WithMaxIterations(n int) Option {
	return func(s *Solver) { s.maxIter = n }
}

// WithPreconditioner selects the Hessian approximation, H1 or H2.
func WithPreconditioner(p Preconditioner) Option {
	return func(s *Solver) { s.precon = p }
}

// WithTolerance sets the stopping threshold on the max-absolute-entry norm of
// the relative gradient.
func WithTolerance(tol float64) Option {
	return func(s *Solver) { s.tol = tol }
}

// WithLambdaMin sets the eigenvalue floor used to regularize the Hessian
// approximation. Block eigenvalues below the floor are shifted up to it.
func WithLambdaMin(lambdaMin float64) Option {
	return func(s *Solver) { s.lambdaMin = lambdaMin }
}

// WithLineSearchTries sets the backtracking budget for the quasi-Newton
// direction. When exceeded, the direction is thrown away and the gradient is
// used instead.
func WithLineSearchTries(tries int) Option {
	return func(s *Solver) { s.lsTries = tries }
}

// WithProgress installs a per-iteration callback. Printing and logging are
// the caller's concern; the solver only reports numbers.
func WithProgress(fn func(Progress)) Option {
	return func(s *Solver) { s.progress = fn }
}

// New creates a Solver with the given options. Defaults: m=7, maxiter=100,
// H1 preconditioner, tol=1e-7, lambdaMin=0.01, 5 line-search tries.
func New(options ...Option) (*Solver, error) {
	s := &Solver{
		mem:       7,
		maxIter:   100,
		precon:    H1,
		tol:       1e-7,
		lambdaMin: 0.01,
		lsTries:   5,
	}
	for _, opt := range options {
		opt(s)
	}
	if s.mem < 0 {
		return nil, fmt.Errorf("memory size must be non-negative, got %d", s.mem)
	}
	if s.maxIter <= 0 {
		return nil, fmt.Errorf("max iterations must be positive, got %d", s.maxIter)
	}
	if s.precon != H1 && s.precon != H2 {
		return nil, fmt.Errorf("preconditioner must be H1 or H2, got %d", int(s.precon))
	}
	if !(s.tol > 0) {
		return nil, fmt.Errorf("tolerance must be positive, got %g", s.tol)
	}
	if !(s.lambdaMin > 0) {
		return nil, fmt.Errorf("lambda_min must be positive, got %g", s.lambdaMin)
	}
	if s.lsTries <= 0 {
		return nil, fmt.Errorf("line search tries must be positive, got %d", s.lsTries)
	}
	return s, nil
}

// Run estimates the unmixing of x, an N×T matrix of N signals over T samples.
// The input must be finite and centered (zero row means); centering is the
// caller's responsibility. The input is not modified.
//
// Run returns ErrSingular (with the best-effort Result attached) when the
// loss becomes non-finite, which signals a singular unmixing matrix or
// ill-conditioned input. Hitting the iteration budget is not an error.
func (s *Solver) Run(x *mat.Dense) (*Result, error) {
	if x == nil {
		return nil, errors.New("signal matrix must not be nil")
	}
	n, t := x.Dims()
	if n < 1 || t < 1 {
		return nil, fmt.Errorf("signal matrix must be non-empty, got %dx%d", n, t)
	}
	raw := x.RawMatrix()
	for i := 0; i < raw.Rows; i++ {
		for _, v := range raw.Data[i*raw.Stride : i*raw.Stride+raw.Cols] {
			if math.IsInf(v, 0) || math.IsNaN(v) {
				return nil, errors.New("signal matrix contains non-finite values")
			}
		}
	}

	w := eye(n)
	y := mat.DenseCopyOf(x)
	memory := newCurvatureMemory(s.mem)
	thY := mat.NewDense(n, t, nil)
	g := mat.NewDense(n, n, nil)
	gOld := mat.NewDense(n, n, nil)
	var step *mat.Dense
	curLoss := math.NaN()
	gradNorm := math.Inf(1)
	status := MaxIterReached
	iters := 0

	for it := 0; it < s.maxIter; it++ {
		score(thY, y)
		relativeGradient(g, thY, y)
		gradNorm = floats.Norm(g.RawMatrix().Data, math.Inf(1))
		if gradNorm < s.tol {
			status = Converged
			break
		}
		if it > 0 {
			gDiff := mat.NewDense(n, n, nil)
			gDiff.Sub(g, gOld)
			memory.push(step, gDiff)
		}
		gOld.Copy(g)

		dir := s.direction(g, y, thY, memory)
		if it == 0 {
			curLoss = negLogLikelihood(y, w)
			if !finite(curLoss) {
				return &Result{Y: y, W: w, Loss: curLoss, GradNorm: gradNorm, Status: status},
					fmt.Errorf("initial loss is non-finite: %w", ErrSingular)
			}
		}

		res := lineSearch(y, w, dir, curLoss, s.lsTries)
		if !res.ok {
			// The quasi-Newton direction failed; retry once along the plain
			// negative gradient and adopt whatever comes back.
			res = lineSearch(y, w, scaled(-1, g), curLoss, fallbackTries)
		}
		y, w, curLoss, step = res.y, res.w, res.loss, res.step
		iters = it + 1

		if s.progress != nil {
			s.progress(Progress{Iteration: it + 1, Loss: curLoss, GradNorm: gradNorm})
		}
		if !finite(curLoss) {
			return &Result{Y: y, W: w, Loss: curLoss, GradNorm: gradNorm, Iterations: iters, Status: status},
				ErrSingular
		}
	}

	if math.IsNaN(curLoss) {
		// Converged before the first line search ever ran.
		curLoss = negLogLikelihood(y, w)
	}
	return &Result{Y: y, W: w, Loss: curLoss, GradNorm: gradNorm, Iterations: iters, Status: status}, nil
}

func eye(n int) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}

func finite(v float64) bool {
	return !math.IsInf(v, 0) && !math.IsNaN(v)
}
