package attribution

import (
	"errors"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

var errSingular = errors.New("singular regression system")

type ridgeFit struct {
	intercept float64
	coef      []float64
}

// fitRidge minimizes ||y - b0 - Xb||² + alpha·||b||² with an unpenalized
// intercept, by centring X and y and solving (XcᵀXc + alpha·I)b = Xcᵀyc
// through a Cholesky factorization.
func fitRidge(x [][]float64, y []float64, alpha float64) (ridgeFit, error) {
	n := len(y)
	if n == 0 || len(x) != n {
		return ridgeFit{}, ErrInsufficientData
	}
	p := len(x[0])

	design := mat.NewDense(n, p, nil)
	for i, row := range x {
		design.SetRow(i, row)
	}
	xMean := make([]float64, p)
	for j := range xMean {
		xMean[j] = stat.Mean(mat.Col(nil, j, design), nil)
	}
	yMean := stat.Mean(y, nil)

	centred := mat.NewDense(n, p, nil)
	centred.Apply(func(_, j int, v float64) float64 { return v - xMean[j] }, design)
	yc := mat.NewVecDense(n, nil)
	for i, v := range y {
		yc.SetVec(i, v-yMean)
	}

	gram := mat.NewSymDense(p, nil)
	gram.SymOuterK(1, centred.T())
	for j := 0; j < p; j++ {
		gram.SetSym(j, j, gram.At(j, j)+alpha)
	}
	var rhs mat.VecDense
	rhs.MulVec(centred.T(), yc)

	var chol mat.Cholesky
	if ok := chol.Factorize(gram); !ok {
		return ridgeFit{}, errSingular
	}
	var b mat.VecDense
	if err := chol.SolveVecTo(&b, &rhs); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return ridgeFit{}, err
		}
	}

	coef := make([]float64, p)
	intercept := yMean
	for j := range coef {
		coef[j] = b.AtVec(j)
		intercept -= coef[j] * xMean[j]
	}
	return ridgeFit{intercept: intercept, coef: coef}, nil
}

func (f ridgeFit) predict(row []float64) float64 {
	v := f.intercept
	for j, c := range f.coef {
		v += c * row[j]
	}
	return v
}

// rSquared is the coefficient of determination on (x, y); 0 when y is constant.
func (f ridgeFit) rSquared(x [][]float64, y []float64) float64 {
	if len(y) < 2 || stat.Variance(y, nil) == 0 {
		return 0
	}
	est := make([]float64, len(y))
	for i, row := range x {
		est[i] = f.predict(row)
	}
	return stat.RSquaredFrom(est, y, nil)
}
