// Package trust computes reliability and freshness scores.
//
// reliability = tier score discounted by source health.
// freshness   = 0.5^(days/30), clamped to [0.1, 1.0].
// trust       = reliability × freshness, clamped to [MinTrust, 1.0], computed
//               on read and never stored.
package trust

import (
	"math"
	"time"
)

// Freshness curve.
const (
	HalfLifeDays   = 30.0
	FreshnessFloor = 0.1
	FreshnessMax   = 1.0
	DefaultTier    = 0.4

	// MinTrust is the lowest trust score: a community source at the
	// freshness floor. Health discounts never push a score below it.
	MinTrust = 0.04
)

// TierScores maps source tier to base reliability.
var TierScores = map[int]float64{
	1: 1.0, // official government
	2: 0.8, // established nonprofit
	3: 0.6, // state / county
	4: 0.4, // community
}

// healthMultiplier discounts reliability for unhealthy sources.
var healthMultiplier = map[string]float64{
	"degraded": 0.9,
	"failing":  0.7,
}

// Reliability returns the tier score, discounted by source health.
// Unknown tiers score DefaultTier; unknown or empty health is undiscounted.
func Reliability(tier int, health string) float64 {
	score, ok := TierScores[tier]
	if !ok {
		score = DefaultTier
	}
	if m, ok := healthMultiplier[health]; ok {
		score *= m
	}
	return score
}

// Freshness decays with a 30-day half-life from the reference time: the last
// verification when set, otherwise creation.
func Freshness(created time.Time, lastVerified *time.Time, now time.Time) float64 {
	ref := created
	if lastVerified != nil {
		ref = *lastVerified
	}
	days := now.Sub(ref).Hours() / 24
	return FreshnessAfter(days)
}

// FreshnessAfter is the decay curve for an age in days.
func FreshnessAfter(days float64) float64 {
	if days < 0 {
		days = 0
	}
	return clamp(math.Pow(0.5, days/HalfLifeDays), FreshnessFloor, FreshnessMax)
}

// Score is reliability × freshness, clamped to [MinTrust, 1.0].
func Score(reliability, freshness float64) float64 {
	return clamp(reliability*freshness, MinTrust, 1.0)
}

// Verified is the state MarkVerified produces.
type Verified struct {
	At        time.Time
	Freshness float64
}

// MarkVerified resets freshness to the ceiling. It is the only upward reset;
// freshness otherwise only decays through the scheduled rescoring.
func MarkVerified(now time.Time) Verified {
	return Verified{At: now, Freshness: FreshnessMax}
}

// riskyFields need human review before a change takes effect.
var riskyFields = map[string]bool{
	"phone":        true,
	"website":      true,
	"address":      true,
	"eligibility":  true,
	"how_to_apply": true,
	"cost":         true,
}

// IsRiskyField reports whether a change to field must be reviewed.
func IsRiskyField(field string) bool { return riskyFields[field] }

// RiskyFields lists the risky field names in a stable order.
func RiskyFields() []string {
	return []string{"phone", "website", "address", "eligibility", "how_to_apply", "cost"}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
