package mbar

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// pinvCutoff drops singular values below this fraction of the largest.
const pinvCutoff = 1e-8

// AsymptoticCovariance computes the covariance of ln c_k for the weight
// matrix w (N x K) with per-column sample counts nk:
//
//	Theta = V S (I - S V^T N V S)^+ S V^T
//
// where w = U S V^T. Columns with nk = 0 may describe unsampled target
// states, such as the bins of a PMF.
func AsymptoticCovariance(w mat.Matrix, nk []int) (*mat.Dense, error) {
	_, k := w.Dims()
	if len(nk) != k {
		return nil, fmt.Errorf("%w: %d weight columns, %d counts", ErrShape, k, len(nk))
	}

	var svd mat.SVD
	if !svd.Factorize(w, mat.SVDThin) {
		return nil, fmt.Errorf("mbar: svd of weight matrix failed")
	}
	s := svd.Values(nil)
	var v mat.Dense
	svd.VTo(&v)
	r := len(s)

	// V^T diag(N) V
	nv := mat.NewDense(k, r, nil)
	for i := 0; i < k; i++ {
		for j := 0; j < r; j++ {
			nv.Set(i, j, float64(nk[i])*v.At(i, j))
		}
	}
	var a mat.Dense
	a.Mul(v.T(), nv)

	inner := mat.NewDense(r, r, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < r; j++ {
			val := -s[i] * a.At(i, j) * s[j]
			if i == j {
				val += 1
			}
			inner.Set(i, j, val)
		}
	}
	pinv, err := pseudoInverse(inner)
	if err != nil {
		return nil, err
	}

	vs := mat.NewDense(k, r, nil)
	for i := 0; i < k; i++ {
		for j := 0; j < r; j++ {
			vs.Set(i, j, v.At(i, j)*s[j])
		}
	}
	var tmp, theta mat.Dense
	tmp.Mul(vs, pinv)
	theta.Mul(&tmp, vs.T())
	return &theta, nil
}

func pseudoInverse(a *mat.Dense) (*mat.Dense, error) {
	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDFull) {
		return nil, fmt.Errorf("mbar: svd for pseudo-inverse failed")
	}
	s := svd.Values(nil)
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	cutoff := 0.0
	if len(s) > 0 {
		cutoff = pinvCutoff * s[0]
	}
	r, c := a.Dims()
	// V diag(1/s) U^T
	vs := mat.NewDense(c, len(s), nil)
	for i := 0; i < c; i++ {
		for j, sv := range s {
			if sv > cutoff {
				vs.Set(i, j, v.At(i, j)/sv)
			}
		}
	}
	out := mat.NewDense(c, r, nil)
	out.Mul(vs, u.Slice(0, r, 0, len(s)).T())
	return out, nil
}

// DifferenceError is sqrt(Theta_ii + Theta_jj - 2 Theta_ij), clamped at zero.
func DifferenceError(theta mat.Matrix, i, j int) float64 {
	d2 := theta.At(i, i) + theta.At(j, j) - 2*theta.At(i, j)
	if d2 < 0 {
		return 0
	}
	return math.Sqrt(d2)
}
