package lbfgsica

import "gonum.org/v1/gonum/mat"

// lineSearchResult carries the outcome of one backtracking search. On
// failure the fields hold the last state tried (smallest step), which the
// controller may still adopt.
type lineSearchResult struct {
	ok   bool
	y    *mat.Dense // candidate sources Y + α·D·Y
	w    *mat.Dense // candidate unmixing W + α·D·W
	loss float64
	step *mat.Dense // scaled direction α·D
}

// lineSearch backtracks along the multiplicative update
// (Y, W) ← (Y + α·D·Y, W + α·D·W), the tangent-space form of
// W ← (I + αD)·W, halving α from 1 until the loss strictly decreases or the
// try budget runs out.
func lineSearch(y, w, dir *mat.Dense, curLoss float64, tries int) lineSearchResult {
	n, t := y.Dims()
	projY := mat.NewDense(n, t, nil)
	projY.Mul(dir, y)
	projW := mat.NewDense(n, n, nil)
	projW.Mul(dir, w)

	yNew := mat.NewDense(n, t, nil)
	wNew := mat.NewDense(n, n, nil)
	alpha := 1.0
	var newLoss float64
	for i := 0; i < tries; i++ {
		yNew.Scale(alpha, projY)
		yNew.Add(yNew, y)
		wNew.Scale(alpha, projW)
		wNew.Add(wNew, w)
		newLoss = negLogLikelihood(yNew, wNew)
		if newLoss < curLoss {
			return lineSearchResult{ok: true, y: yNew, w: wNew, loss: newLoss, step: scaled(alpha, dir)}
		}
		alpha /= 2
	}
	// Report the last tried state. alpha has been halved once past the last
	// try, which is the value the reference solver hands back.
	return lineSearchResult{y: yNew, w: wNew, loss: newLoss, step: scaled(alpha, dir)}
}

func scaled(f float64, m *mat.Dense) *mat.Dense {
	r, c := m.Dims()
	out := mat.NewDense(r, c, nil)
	out.Scale(f, m)
	return out
}
