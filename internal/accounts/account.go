// Package accounts holds the per-user account records and the entitlement
// rules that spend and top up their token balance.
package accounts

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Tier is the subscription level of an account.
type Tier string

const (
	TierFree    Tier = "free"
	TierBasic   Tier = "basic"
	TierPremium Tier = "premium"
)

const (
	// DefaultTokens is the free-trial balance granted on first access.
	DefaultTokens int64 = 3
	// BasicTopUp is added to the balance on every upgrade to basic.
	BasicTopUp int64 = 10
	// UnlimitedTokens is the balance stored for premium accounts. Premium
	// accounts never spend it; Unlimited() is derived from the tier.
	UnlimitedTokens int64 = 9999
)

var ErrUnknownTier = errors.New("unknown tier")

// ParseTier maps a user-supplied tier name onto the closed set of tiers.
func ParseTier(s string) (Tier, error) {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownTier, s)
	}
	return t, nil
}

func (t Tier) Valid() bool {
	switch t {
	case TierFree, TierBasic, TierPremium:
		return true
	default:
		return false
	}
}

func (t Tier) String() string { return string(t) }

// Account is the record kept for one user identifier.
type Account struct {
	Identifier string    `json:"identifier"`
	Tier       Tier      `json:"tier"`
	Tokens     int64     `json:"tokens"`
	JoinedAt   time.Time `json:"joined_at"`
}

// NewAccount returns the default free-trial record for id.
func NewAccount(id string, now time.Time) Account {
	return Account{
		Identifier: id,
		Tier:       TierFree,
		Tokens:     DefaultTokens,
		JoinedAt:   now,
	}
}

func (a Account) Unlimited() bool { return a.Tier == TierPremium }

// DisplayTokens renders the balance the way it is shown to users.
func (a Account) DisplayTokens() string {
	if a.Unlimited() {
		return "unlimited"
	}
	return strconv.FormatInt(a.Tokens, 10)
}

// Feature names an action gated by tier or token balance.
type Feature string

const (
	FeatureStrategyReport Feature = "strategy_report"
	FeatureResumeRewrite  Feature = "resume_rewrite"
	FeatureJobHunter      Feature = "job_hunter"
)

var AllFeatures = []Feature{FeatureStrategyReport, FeatureResumeRewrite, FeatureJobHunter}

// Allows reports whether the account may currently perform f.
func (a Account) Allows(f Feature) bool {
	switch f {
	case FeatureStrategyReport:
		return a.Unlimited() || a.Tokens > 0
	case FeatureResumeRewrite:
		return a.Tier == TierPremium
	case FeatureJobHunter:
		return true
	default:
		return false
	}
}

// Entitlements returns the Allows result for every known feature.
func (a Account) Entitlements() map[Feature]bool {
	out := make(map[Feature]bool, len(AllFeatures))
	for _, f := range AllFeatures {
		out[f] = a.Allows(f)
	}
	return out
}
