package mbar

import "errors"

var (
	// ErrShape indicates u and N_k disagree on the number of states or samples.
	ErrShape = errors.New("mbar: reduced potential shape does not match sample counts")

	// ErrNoSamples indicates no state contributed any samples.
	ErrNoSamples = errors.New("mbar: no samples")

	// ErrNotConverged indicates the optimizer stopped short of the tolerance.
	ErrNotConverged = errors.New("mbar: free energies did not converge")

	// ErrUnknownMethod indicates an unsupported optimizer name.
	ErrUnknownMethod = errors.New("mbar: unknown optimization method")
)
