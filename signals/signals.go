// Package signals generates synthetic source signals and mixtures for ICA
// experiments: super-Gaussian (Laplace) sources, random mixing matrices, and
// row centering. The solver itself never generates data; this package exists
// for demos and tests.
package signals

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Laplace returns an n×t matrix of i.i.d. samples from the unit Laplace
// distribution. The same seed always yields the same matrix.
func Laplace(n, t int, seed uint64) *mat.Dense {
	dist := distuv.Laplace{
		Mu:    0,
		Scale: 1,
		Src:   rand.NewPCG(seed, seed^0x9e3779b97f4a7c15),
	}
	data := make([]float64, n*t)
	for i := range data {
		data[i] = dist.Rand()
	}
	return mat.NewDense(n, t, data)
}

// RandomMixing returns an n×n mixing matrix with standard normal entries,
// resampled until its log-determinant is finite so the mixture is invertible.
func RandomMixing(n int, seed uint64) *mat.Dense {
	rng := rand.New(rand.NewPCG(seed, seed^0xd1342543de82ef95))
	a := mat.NewDense(n, n, nil)
	for {
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				a.Set(i, j, rng.NormFloat64())
			}
		}
		logDet, _ := mat.LogDet(a)
		if !math.IsInf(logDet, 0) && !math.IsNaN(logDet) {
			return a
		}
	}
}

// Mix applies the mixing matrix to the sources, returning X = A·S.
func Mix(a, s *mat.Dense) *mat.Dense {
	ar, _ := a.Dims()
	_, sc := s.Dims()
	x := mat.NewDense(ar, sc, nil)
	x.Mul(a, s)
	return x
}

// Center subtracts each row's mean in place so the rows have zero mean, the
// form the solver expects its input in.
func Center(x *mat.Dense) {
	n, t := x.Dims()
	for i := 0; i < n; i++ {
		mean := 0.0
		for j := 0; j < t; j++ {
			mean += x.At(i, j)
		}
		mean /= float64(t)
		for j := 0; j < t; j++ {
			x.Set(i, j, x.At(i, j)-mean)
		}
	}
}
