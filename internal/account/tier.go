package account

import "strconv"

// Tier selects the run parameters for an account. Known tiers map to a
// fixed review-loop count and a daily fixed-income rate; any other value is
// treated as a literal iteration count for operators who want to override.
type Tier string

const (
	TierE1 Tier = "E1"
	TierE2 Tier = "E2"
	TierE3 Tier = "E3"

	defaultIterations = 30
)

// Iterations returns the review-loop target for the tier.
func (t Tier) Iterations() int {
	switch normalizeTier(t) {
	case TierE1:
		return 15
	case TierE2:
		return 30
	case TierE3:
		return 60
	}
	if n, err := strconv.Atoi(string(t)); err == nil && n > 0 {
		return n
	}
	return defaultIterations
}

// DailyRate returns the fixed income per day for the tier, in the target
// service's currency. Unknown tiers earn the E2 rate.
func (t Tier) DailyRate() float64 {
	switch normalizeTier(t) {
	case TierE1:
		return 15000
	case TierE2:
		return 30000
	case TierE3:
		return 60000
	}
	return 30000
}

func normalizeTier(t Tier) Tier {
	switch t {
	case "E1", "e1":
		return TierE1
	case "E2", "e2", "":
		return TierE2
	case "E3", "e3":
		return TierE3
	}
	return t
}
