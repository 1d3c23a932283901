package lbfgsica

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// curvaturePair is one (step, gradient-difference) entry of the quasi-Newton
// memory. Both matrices are owned by the memory once pushed.
type curvaturePair struct {
	s *mat.Dense // accepted search step α·D
	y *mat.Dense // gradient difference G_new − G_old
}

// curvatureMemory is a bounded FIFO of curvature pairs. A capacity of zero is
// valid and keeps the memory permanently empty.
type curvatureMemory struct {
	pairs []curvaturePair
	cap   int
}

func newCurvatureMemory(capacity int) *curvatureMemory {
	return &curvatureMemory{cap: capacity}
}

// push appends a pair, evicting the oldest entry when the capacity is
// exceeded.
func (m *curvatureMemory) push(s, y *mat.Dense) {
	if m.cap == 0 {
		return
	}
	m.pairs = append(m.pairs, curvaturePair{s: s, y: y})
	if len(m.pairs) > m.cap {
		copy(m.pairs, m.pairs[1:])
		m.pairs[len(m.pairs)-1] = curvaturePair{}
		m.pairs = m.pairs[:len(m.pairs)-1]
	}
}

func (m *curvatureMemory) len() int { return len(m.pairs) }

// direction computes the quasi-Newton search direction by the two-loop
// recursion, with the preconditioner solve standing in for the usual scalar
// initial scaling. With empty memory this reduces to the preconditioned
// negative gradient.
//
// ρ = 1/(s·y) is recomputed per call and deliberately unguarded: pairs with
// vanishing or negative curvature are kept, matching the reference solver.
func (s *Solver) direction(g, y, thY *mat.Dense, mem *curvatureMemory) *mat.Dense {
	n, t := y.Dims()
	q := mat.DenseCopyOf(g)
	qd := q.RawMatrix().Data

	k := mem.len()
	rho := make([]float64, k)
	alpha := make([]float64, k)
	for i, p := range mem.pairs {
		rho[i] = 1 / floats.Dot(p.s.RawMatrix().Data, p.y.RawMatrix().Data)
	}
	// Backward pass, most recent pair first.
	for i := k - 1; i >= 0; i-- {
		p := mem.pairs[i]
		alpha[i] = rho[i] * floats.Dot(p.s.RawMatrix().Data, qd)
		floats.AddScaled(qd, -alpha[i], p.y.RawMatrix().Data)
	}

	psidY := mat.NewDense(n, t, nil)
	scoreDeriv(psidY, thY)
	a := mat.NewDense(n, n, nil)
	hessianApprox(a, y, psidY, s.precon)
	regularizeHessian(a, s.lambdaMin)
	z := mat.NewDense(n, n, nil)
	solveHessian(z, q, a)
	zd := z.RawMatrix().Data

	// Forward pass, oldest pair first.
	for i := 0; i < k; i++ {
		p := mem.pairs[i]
		beta := rho[i] * floats.Dot(p.y.RawMatrix().Data, zd)
		floats.AddScaled(zd, alpha[i]-beta, p.s.RawMatrix().Data)
	}

	z.Scale(-1, z)
	return z
}
