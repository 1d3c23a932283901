package lbfgsica

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// score computes the elementwise score function tanh(y/2) of the estimated
// sources into dst. dst must be N×T like y.
func score(dst, y *mat.Dense) {
	dst.Apply(func(_, _ int, v float64) float64 {
		return math.Tanh(v / 2)
	}, y)
}

// scoreDeriv computes the derivative of the score, ψ'(y) = (1 - tanh(y/2)²)/2,
// from the already-evaluated score matrix.
func scoreDeriv(dst, thY *mat.Dense) {
	dst.Apply(func(_, _ int, v float64) float64 {
		return (1 - v*v) / 2
	}, thY)
}

// relativeGradient computes G = thY·Yᵀ/T − I into dst, the gradient of the
// loss with respect to a multiplicative perturbation of the unmixing matrix.
func relativeGradient(dst, thY, y *mat.Dense) {
	_, t := y.Dims()
	dst.Mul(thY, y.T())
	dst.Scale(1/float64(t), dst)
	n, _ := dst.Dims()
	for i := 0; i < n; i++ {
		dst.Set(i, i, dst.At(i, i)-1)
	}
}

// negLogLikelihood evaluates the loss −log|det W| + Σ(|y| + 2·log1p(e^{−|y|}))/T.
// The entry sum is the overflow-safe form of 2·log(2·cosh(y/2)). Returns +Inf
// when W is singular.
func negLogLikelihood(y, w *mat.Dense) float64 {
	_, t := y.Dims()
	logDet, _ := mat.LogDet(w)
	if math.IsInf(logDet, -1) || math.IsNaN(logDet) {
		return math.Inf(1)
	}
	sum := 0.0
	raw := y.RawMatrix()
	for i := 0; i < raw.Rows; i++ {
		row := raw.Data[i*raw.Stride : i*raw.Stride+raw.Cols]
		for _, v := range row {
			a := math.Abs(v)
			sum += a + 2*math.Log1p(math.Exp(-a))
		}
	}
	return -logDet + sum/float64(t)
}
