package plans

import "testing"

func TestAllowancesForTierTable(t *testing.T) {
	cases := []struct {
		tier   Tier
		expect Allowances
	}{
		{TierTrial, Allowances{Text: Unlimited, Image: 10, PDF: 8, Speech: 5, Video: 2}},
		{TierMonthly, Allowances{Text: Unlimited, Image: 50, PDF: 40, Speech: 30, Video: 10}},
		{TierYearly, Allowances{Text: Unlimited, Image: 100, PDF: 80, Speech: 60, Video: 20}},
	}
	for _, tc := range cases {
		got := AllowancesFor(tc.tier)
		if got != tc.expect {
			t.Fatalf("tier %s: expected %+v, got %+v", tc.tier, tc.expect, got)
		}
	}
}

func TestAllowancesForUnknownTierFallsBackToTrial(t *testing.T) {
	if got := AllowancesFor(Tier("enterprise")); got != AllowancesFor(TierTrial) {
		t.Fatalf("unknown tier should map to trial allowances, got %+v", got)
	}
}

func TestTierOf(t *testing.T) {
	ids := PriceIDs{Monthly: "price_monthly", Yearly: "price_yearly"}

	if got := TierOf("", ids); got != TierTrial {
		t.Fatalf("empty price id: expected trial, got %s", got)
	}
	if got := TierOf("price_monthly", ids); got != TierMonthly {
		t.Fatalf("monthly price id: expected monthly, got %s", got)
	}
	if got := TierOf("price_yearly", ids); got != TierYearly {
		t.Fatalf("yearly price id: expected yearly, got %s", got)
	}
	if got := TierOf("price_unknown", ids); got != TierTrial {
		t.Fatalf("unknown price id: expected trial, got %s", got)
	}
	if got := TierOf("  price_monthly  ", ids); got != TierMonthly {
		t.Fatalf("padded price id: expected monthly, got %s", got)
	}
}
