package policy

// EqualWeight assigns 1/N to each of the N tracked assets, ignoring the
// returns history entirely. Deterministic; its only failure mode is an
// empty asset set.
type EqualWeight struct{}

// NewEqualWeight creates the equal-weight policy.
func NewEqualWeight() *EqualWeight {
	return &EqualWeight{}
}

func (p *EqualWeight) Name() string { return "equal_weight" }

// Optimize returns weights of exactly 1/N per asset.
func (p *EqualWeight) Optimize(returns ReturnSet, current map[string]float64) (map[string]float64, error) {
	if err := validateUniverse(returns, false); err != nil {
		return nil, err
	}

	w := 1.0 / float64(len(returns.Symbols))
	out := make(map[string]float64, len(returns.Symbols))
	for _, sym := range returns.Symbols {
		out[sym] = w
	}
	return out, nil
}
