package pmf

import "errors"

var (
	ErrNotGenerated  = errors.New("pmf: no estimate generated")
	ErrUnknownMethod = errors.New("pmf: unknown spline weighting")
	ErrNotSpline     = errors.New("pmf: operation requires a spline estimate")
	ErrNoMCData      = errors.New("pmf: no posterior samples")
	ErrBadRange      = errors.New("pmf: invalid range")
	ErrInput         = errors.New("pmf: inconsistent input")
)
