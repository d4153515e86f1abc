package ranking

type Tier string

const (
	TierBronze   Tier = "bronze"
	TierSilver   Tier = "silver"
	TierGold     Tier = "gold"
	TierPlatinum Tier = "platinum"
	TierDiamond  Tier = "diamond"
)

// TierFor maps lifetime XP to a tier. Thresholds are lower bounds of the
// next tier, so 499 is still bronze and 500 is silver.
func TierFor(totalXP int64) Tier {
	switch {
	case totalXP < 500:
		return TierBronze
	case totalXP < 2000:
		return TierSilver
	case totalXP < 5000:
		return TierGold
	case totalXP < 10000:
		return TierPlatinum
	default:
		return TierDiamond
	}
}
