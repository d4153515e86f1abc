package ranking

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTierFor(t *testing.T) {
	cases := []struct {
		totalXP int64
		want    Tier
	}{
		{0, TierBronze},
		{499, TierBronze},
		{500, TierSilver},
		{1999, TierSilver},
		{2000, TierGold},
		{4999, TierGold},
		{5000, TierPlatinum},
		{9999, TierPlatinum},
		{10000, TierDiamond},
		{1000000, TierDiamond},
	}

	for _, tc := range cases {
		require.Equal(t, tc.want, TierFor(tc.totalXP), "total_xp=%d", tc.totalXP)
	}
}
