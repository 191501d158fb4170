package main

import (
	"strings"
	"time"

	"github.com/muhammadolammi/careerpivot/internal/accounts"
	"github.com/muhammadolammi/careerpivot/internal/live"
)

type R2Config struct {
	AccountID string `yaml:"account_id"`
	Bucket    string `yaml:"bucket"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

func (c R2Config) enabled() bool {
	return c.AccountID != "" && c.Bucket != "" && c.AccessKey != "" && c.SecretKey != ""
}

func (c R2Config) partial() bool {
	set := 0
	for _, v := range []string{c.AccountID, c.Bucket, c.AccessKey, c.SecretKey} {
		if v != "" {
			set++
		}
	}
	return set > 0 && set < 4
}

// AppConfig carries the dependencies shared by the HTTP handlers.
type AppConfig struct {
	Accounts       *accounts.Service
	Live           *live.Hub
	Analyzer       Analyzer
	Archive        ObjectStore // nil when R2 is not configured
	AccessCode     string
	MaxUploadBytes int64
	StartedAt      time.Time

	accessKey []byte
	limiter   *ipRateLimiter
}

type AccountView struct {
	accounts.Account
	Plan          string                    `json:"plan"`
	TokensDisplay string                    `json:"tokens_display"`
	Unlimited     bool                      `json:"unlimited"`
	Banner        string                    `json:"banner"`
	Entitlements  map[accounts.Feature]bool `json:"entitlements"`
}

func newAccountView(acct accounts.Account) AccountView {
	return AccountView{
		Account:       acct,
		Plan:          strings.ToUpper(acct.Tier.String()),
		TokensDisplay: acct.DisplayTokens(),
		Unlimited:     acct.Unlimited(),
		Banner:        bannerFor(acct.Tier),
		Entitlements:  acct.Entitlements(),
	}
}

func bannerFor(tier accounts.Tier) string {
	switch tier {
	case accounts.TierPremium:
		return "✨ Premium Access Unlocked"
	case accounts.TierBasic:
		return "✅ Basic Access Active (Upgrade for Resume Rewrite)"
	case accounts.TierFree:
		return "🆓 Free Trial Mode (3 Tokens)"
	default:
		return ""
	}
}

type Plan struct {
	Tier     accounts.Tier `json:"tier"`
	PriceUSD int           `json:"price_usd"`
	Includes []string      `json:"includes"`
}

var plans = []Plan{
	{Tier: accounts.TierFree, PriceUSD: 0, Includes: []string{"3 trial tokens", "Strategy report (1 token each)", "Job hunter"}},
	{Tier: accounts.TierBasic, PriceUSD: 29, Includes: []string{"+10 tokens per purchase", "Strategy report (1 token each)", "Job hunter"}},
	{Tier: accounts.TierPremium, PriceUSD: 49, Includes: premiumUnlocks},
}

var premiumUnlocks = []string{
	"✍️ Full AI Resume Rewrite",
	"🔄 Unlimited Revisions",
	"📥 Word Doc Download",
}

type StrategyResponse struct {
	Message string      `json:"message"`
	Report  string      `json:"report"`
	HTML    string      `json:"html,omitempty"`
	Account AccountView `json:"account"`
}

type RewriteResponse struct {
	Rewrite string `json:"rewrite"`
}

type JobSearchResponse struct {
	Role string `json:"role"`
	URL  string `json:"url"`
}
