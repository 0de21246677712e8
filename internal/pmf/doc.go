// Package pmf estimates a one-dimensional potential of mean force from
// MBAR-reweighted samples.
//
// An [Input] pairs an MBAR solution with the pooled sample coordinates,
// their unbiased reduced energies and the bias of every sampled state. A
// [PMF] is built from one Input and then generated with one estimator:
//
//   - [PMF.GenerateHistogram]: -ln of the reweighted bin populations, with
//     asymptotic uncertainties from the MBAR covariance
//   - [PMF.GenerateKDE]: -ln of a weighted Gaussian kernel density
//   - [PMF.GenerateSpline]: a B-spline f(x) fit by minimizing a
//     divergence between the model and the reweighted or biased data
//
// Spline fits additionally support information criteria, posterior
// sampling of the spline coefficients and confidence bands:
//
//	p, _ := pmf.New(in)
//	_ = p.GenerateSpline(params)
//	_ = p.SampleParameters(ctx, mc)
//	ci, _ := p.ConfidenceIntervals(x, 2.5, 97.5, pmf.ReferenceZero)
//
// All energies are in units of kT of the target state.
package pmf
