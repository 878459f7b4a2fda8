// Package plans is the single source of truth for subscription tiers and the
// daily allowance vector each tier grants. Both the quota reset path and the
// billing webhook consume this table, so the numbers live nowhere else.
package plans

import "strings"

// Tier is a named subscription level.
type Tier string

// Known subscription tiers.
const (
	// TierTrial is the free tier every account starts on.
	TierTrial Tier = "trial"
	// TierMonthly is the paid monthly subscription.
	TierMonthly Tier = "monthly"
	// TierYearly is the paid yearly subscription.
	TierYearly Tier = "yearly"
)

// Unlimited is the allowance sentinel meaning no daily cap.
const Unlimited = -1

// Allowances is the per-day cap for each resource type.
type Allowances struct {
	Text   int `json:"text"`
	Image  int `json:"image"`
	PDF    int `json:"pdf"`
	Speech int `json:"speech"`
	Video  int `json:"video"`
}

// allowanceTable maps each tier to its daily allowance vector.
var allowanceTable = map[Tier]Allowances{
	TierTrial:   {Text: Unlimited, Image: 10, PDF: 8, Speech: 5, Video: 2},
	TierMonthly: {Text: Unlimited, Image: 50, PDF: 40, Speech: 30, Video: 10},
	TierYearly:  {Text: Unlimited, Image: 100, PDF: 80, Speech: 60, Video: 20},
}

// PriceIDs holds the billing provider price identifiers for the paid tiers.
type PriceIDs struct {
	Monthly string
	Yearly  string
}

// TierOf resolves a billing price ID to a tier. Unknown or empty price IDs
// fall back to the trial tier, matching how a lapsed subscription behaves.
func TierOf(priceID string, ids PriceIDs) Tier {
	id := strings.TrimSpace(priceID)
	if id == "" {
		return TierTrial
	}
	switch id {
	case ids.Monthly:
		return TierMonthly
	case ids.Yearly:
		return TierYearly
	}
	return TierTrial
}

// AllowancesFor returns the daily allowance vector for a tier.
func AllowancesFor(tier Tier) Allowances {
	if a, ok := allowanceTable[tier]; ok {
		return a
	}
	return allowanceTable[TierTrial]
}
