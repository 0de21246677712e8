package experiment

import (
	"fmt"

	"github.com/san-kum/mbarpmf/internal/pmf"
)

// Method describes one way of estimating the PMF.
type Method struct {
	Name        string
	Description string
	// Style is a line style: a colour letter followed by "-" (solid) or
	// ":" (dotted).
	Style   string
	Kind    pmf.Kind
	Weights pmf.SplineWeights
}

func (m Method) IsSpline() bool { return m.Kind == pmf.KindSpline }

type Registry struct {
	methods map[string]Method
	order   []string
}

func NewRegistry() *Registry {
	r := &Registry{methods: make(map[string]Method)}

	r.add(Method{Name: "histogram", Description: "Histogram", Style: "k-", Kind: pmf.KindHistogram})
	r.add(Method{Name: "kde", Description: "Kernel density (Gaussian)", Style: "k:", Kind: pmf.KindKDE})
	r.add(Method{Name: "kl", Description: "KL divergence", Style: "g-",
		Kind: pmf.KindSpline, Weights: pmf.KLDivergence})
	r.add(Method{Name: "sumkl", Description: "Sum weighted KL divergence", Style: "m-",
		Kind: pmf.KindSpline, Weights: pmf.SumKLDivergence})
	r.add(Method{Name: "weighted", Description: "Count-weighted sum KL divergence", Style: "c-",
		Kind: pmf.KindSpline, Weights: pmf.WeightedSum})
	r.add(Method{Name: "simple", Description: "Sum KL divergence", Style: "b-",
		Kind: pmf.KindSpline, Weights: pmf.SimpleSum})

	return r
}

func (r *Registry) add(m Method) {
	r.methods[m.Name] = m
	r.order = append(r.order, m.Name)
}

func (r *Registry) Get(name string) (Method, error) {
	m, ok := r.methods[name]
	if !ok {
		return Method{}, fmt.Errorf("unknown method: %s", name)
	}
	return m, nil
}

// List returns the method names in registration order.
func (r *Registry) List() []string {
	return append([]string(nil), r.order...)
}
