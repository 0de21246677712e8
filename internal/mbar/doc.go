// Package mbar implements the multistate Bennett acceptance ratio estimator.
//
// Given reduced potentials u[k][n] of every pooled sample n evaluated in
// every thermodynamic state k, and the number of samples N_k drawn from
// each state, MBAR finds the dimensionless free energies f_k that satisfy
//
//	f_k = -ln sum_n exp(-u_kn) / sum_j N_j exp(f_j - u_jn)
//
// The solution is the minimum of a convex objective, which is handed to
// gonum's optimizers:
//
//	m, err := mbar.New(u, nk, mbar.DefaultOptions())
//	f := m.FreeEnergies()           // f[0] == 0
//	df, ddf, _ := m.Differences()   // f_j - f_i and its asymptotic error
//
// Reweighting to a state that was never sampled only needs its reduced
// potential on the pooled samples; see [MBAR.LogWeights].
package mbar
