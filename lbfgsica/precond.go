package lbfgsica

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// hessianApprox builds the N×N curvature approximation `a` for the current
// sources into dst. The Hessian of the independence objective decouples into
// 2×2 blocks indexed by unordered pairs (i,j); `a` holds the block entries.
//
// H1 uses rank-one statistics, a[i,j] = mean_t ψ'(Y_i) · mean_t Y_j², with the
// per-row diagonal mean_t(Y_i²·ψ'(Y_i)) + 1. H2 is the exact block curvature
// ψ'(Y)·(Y∘Y)ᵀ/T + I, costlier by one N×T product.
func hessianApprox(dst, y, psidY *mat.Dense, precon Preconditioner) {
	n, t := y.Dims()
	switch precon {
	case H2:
		ySq := mat.NewDense(n, t, nil)
		ySq.MulElem(y, y)
		dst.Mul(psidY, ySq.T())
		dst.Scale(1/float64(t), dst)
		for i := 0; i < n; i++ {
			dst.Set(i, i, dst.At(i, i)+1)
		}
	default: // H1
		sigma2 := make([]float64, n)
		psiMean := make([]float64, n)
		diag := make([]float64, n)
		for i := 0; i < n; i++ {
			var s2, pm, d float64
			for j := 0; j < t; j++ {
				yv := y.At(i, j)
				pv := psidY.At(i, j)
				s2 += yv * yv
				pm += pv
				d += yv * yv * pv
			}
			sigma2[i] = s2 / float64(t)
			psiMean[i] = pm / float64(t)
			diag[i] = d/float64(t) + 1
		}
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				if i == j {
					dst.Set(i, i, diag[i])
				} else {
					dst.Set(i, j, psiMean[i]*sigma2[j])
				}
			}
		}
	}
}

// regularizeHessian clamps the curvature blocks so that every off-diagonal
// 2×2 block eigenvalue, e = (a_ij + a_ji + sqrt((a_ij−a_ji)² + 4))/2, is at
// least lambdaMin. The eigenvalue is symmetric in (i,j), so when it falls
// below the floor both a_ij and a_ji are raised by the same deficit
// lambdaMin − e, computed from the unmodified entries; that shifts the block
// eigenvalue to exactly lambdaMin. Diagonal entries are never modified.
func regularizeHessian(a *mat.Dense, lambdaMin float64) {
	n, _ := a.Dims()
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			aij, aji := a.At(i, j), a.At(j, i)
			d := aij - aji
			e := 0.5 * (aij + aji + math.Sqrt(d*d+4))
			if e < lambdaMin {
				a.Set(i, j, aij+lambdaMin-e)
				a.Set(j, i, aji+lambdaMin-e)
			}
		}
	}
}

// solveHessian applies the inverse of the block curvature to g, writing
// Z[i,j] = (G[i,j]·a[j,i] − G[j,i]) / (a[i,j]·a[j,i] − 1) into dst. This is
// the closed-form inverse of each 2×2 block system G_ij = a_ij·Z_ij + Z_ji.
// Diagonal entries go through the same formula; after hessianApprox their
// denominator a_ii² − 1 is generically nonzero since a_ii ≥ 1.
func solveHessian(dst, g, a *mat.Dense) {
	n, _ := g.Dims()
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			aij, aji := a.At(i, j), a.At(j, i)
			dst.Set(i, j, (g.At(i, j)*aji-g.At(j, i))/(aij*aji-1))
		}
	}
}
