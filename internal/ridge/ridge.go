// Package ridge implements closed-form multi-output ridge regression solved
// through a thin singular value decomposition.
package ridge

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"rcflight/internal/linalg"
	"rcflight/internal/model"
)

var (
	ErrUnfittedModel = errors.New("ridge regression used before fit")
	ErrShape         = errors.New("ridge regression shape mismatch")
)

// singularTolerance treats relative singular values below it as zero when no
// regularization is applied.
const singularTolerance = 1e-12

// Regression holds coeff (outputs×features) and intercept (outputs). The zero
// value is unfitted.
type Regression struct {
	alpha     float64
	coeff     *mat.Dense
	intercept []float64
}

// Fit solves min ||Y - X·coeffᵀ - intercept||² + alpha·||coeff||² for every
// column of y.
func Fit(alpha float64, x, y *mat.Dense) (*Regression, error) {
	n, p := linalg.Dims(x)
	yn, outputs := linalg.Dims(y)
	if n == 0 || p == 0 || outputs == 0 {
		return nil, fmt.Errorf("%w: empty design %dx%d or targets %dx%d", ErrShape, n, p, yn, outputs)
	}
	if n != yn {
		return nil, fmt.Errorf("%w: x has %d rows, y has %d", ErrShape, n, yn)
	}
	if alpha < 0 {
		return nil, fmt.Errorf("alpha must be non-negative, got %g", alpha)
	}

	xMean := linalg.ColumnMeans(x)
	yMean := linalg.ColumnMeans(y)
	xc := linalg.Centered(x, xMean)
	yc := linalg.Centered(y, yMean)

	var svd mat.SVD
	if ok := svd.Factorize(xc, mat.SVDThin); !ok {
		return nil, errors.New("ridge: svd factorization failed")
	}
	s := svd.Values(nil)
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	cutoff := 0.0
	if len(s) > 0 {
		cutoff = s[0] * singularTolerance
	}
	d := make([]float64, len(s))
	for i, si := range s {
		if alpha == 0 && si <= cutoff {
			continue
		}
		d[i] = si / (si*si + alpha)
	}

	// coeffᵀ = V·diag(d)·Uᵀ·Yc, features×outputs.
	var uty mat.Dense
	uty.Mul(u.T(), yc)
	for i := range d {
		row := uty.RawRowView(i)
		for j := range row {
			row[j] *= d[i]
		}
	}
	var coeffT mat.Dense
	coeffT.Mul(&v, &uty)
	coeff := mat.DenseCopyOf(coeffT.T())

	intercept := make([]float64, outputs)
	for j := 0; j < outputs; j++ {
		intercept[j] = yMean[j] - mat.Dot(mat.NewVecDense(p, xMean), coeff.RowView(j))
	}
	return &Regression{alpha: alpha, coeff: coeff, intercept: intercept}, nil
}

func (r *Regression) Fitted() bool {
	return r != nil && !linalg.IsEmpty(r.coeff)
}

func (r *Regression) Alpha() float64 {
	return r.alpha
}

// Features is the input width expected by Predict.
func (r *Regression) Features() int {
	_, c := linalg.Dims(r.coeff)
	return c
}

func (r *Regression) Outputs() int {
	return len(r.intercept)
}

// Coefficients returns a copy of the outputs×features coefficient matrix.
func (r *Regression) Coefficients() *mat.Dense {
	if !r.Fitted() {
		return &mat.Dense{}
	}
	return mat.DenseCopyOf(r.coeff)
}

func (r *Regression) Intercept() []float64 {
	return append([]float64(nil), r.intercept...)
}

// Predict returns intercept + coeff·row for every row of x.
func (r *Regression) Predict(x *mat.Dense) (*mat.Dense, error) {
	if !r.Fitted() {
		return nil, ErrUnfittedModel
	}
	n, p := linalg.Dims(x)
	if n == 0 {
		return &mat.Dense{}, nil
	}
	if p != r.Features() {
		return nil, fmt.Errorf("%w: got %d features, want %d", ErrShape, p, r.Features())
	}
	var out mat.Dense
	out.Mul(x, r.coeff.T())
	for i := 0; i < n; i++ {
		row := out.RawRowView(i)
		for j := range row {
			row[j] += r.intercept[j]
		}
	}
	return &out, nil
}

// PredictRow is Predict for a single feature row.
func (r *Regression) PredictRow(row []float64) ([]float64, error) {
	if !r.Fitted() {
		return nil, ErrUnfittedModel
	}
	out, err := r.Predict(linalg.RowMatrix(row))
	if err != nil {
		return nil, err
	}
	if out.IsEmpty() {
		return nil, fmt.Errorf("%w: empty feature row", ErrShape)
	}
	return mat.Row(nil, 0, out), nil
}

func (r *Regression) Record() model.RidgeRecord {
	if !r.Fitted() {
		return model.RidgeRecord{}
	}
	return model.RidgeRecord{
		Alpha:     r.alpha,
		Fitted:    true,
		Coeff:     linalg.ToRecord(r.coeff),
		Intercept: r.Intercept(),
	}
}

func FromRecord(rec model.RidgeRecord) (*Regression, error) {
	if !rec.Fitted {
		return &Regression{alpha: rec.Alpha}, nil
	}
	coeff, err := linalg.FromRecord(rec.Coeff)
	if err != nil {
		return nil, fmt.Errorf("ridge coefficients: %w", err)
	}
	if r, _ := linalg.Dims(coeff); r != len(rec.Intercept) || r == 0 {
		return nil, fmt.Errorf("%w: %d coefficient rows for %d intercepts", ErrShape, r, len(rec.Intercept))
	}
	return &Regression{alpha: rec.Alpha, coeff: coeff, intercept: append([]float64(nil), rec.Intercept...)}, nil
}
