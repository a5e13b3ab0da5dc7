package claim

import "math/rand/v2"

// AmountProvider decides how much a successful claim is worth.
type AmountProvider interface {
	Amount(rewardKey string) int64
}

// Fixed always yields the same amount.
type Fixed int64

func (f Fixed) Amount(string) int64 { return int64(f) }

// Range yields a uniformly random amount in [Min, Max].
type Range struct {
	Min, Max int64
}

func (r Range) Amount(string) int64 {
	if r.Max <= r.Min {
		return r.Min
	}
	return r.Min + rand.Int64N(r.Max-r.Min+1)
}

// PerKey dispatches on the reward key, falling back to Default.
type PerKey struct {
	Providers map[string]AmountProvider
	Default   AmountProvider
}

func (p PerKey) Amount(rewardKey string) int64 {
	if ap, ok := p.Providers[rewardKey]; ok {
		return ap.Amount(rewardKey)
	}
	if p.Default != nil {
		return p.Default.Amount(rewardKey)
	}
	return 0
}
