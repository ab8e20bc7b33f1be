package kiroapi

import (
	"math"
	"strings"
	"time"

	"github.com/KilimcininKorOglu/kiro-account-manager/internal/store"
)

const (
	creditResourceType = "CREDIT"
	quotaStatusActive  = "ACTIVE"

	dayMillis = 86_400_000
)

// Subscription type names derived from the title.
const (
	SubscriptionEnterprise = "Enterprise"
	SubscriptionTeams      = "Teams"
	SubscriptionPro        = "Pro"
	SubscriptionFree       = "Free"
)

// ClassifySubscription maps a subscription title to a plan type by
// case-insensitive substring match. Precedence is fixed:
// Enterprise > Teams > Pro > Free.
func ClassifySubscription(title string) string {
	upper := strings.ToUpper(title)
	switch {
	case strings.Contains(upper, "ENTERPRISE"):
		return SubscriptionEnterprise
	case strings.Contains(upper, "TEAMS"):
		return SubscriptionTeams
	case strings.Contains(upper, "PRO"):
		return SubscriptionPro
	default:
		return SubscriptionFree
	}
}

// DaysUntil returns ceil((resetMillis - now) / 1 day), floored at zero.
func DaysUntil(resetMillis, nowMillis int64) int {
	if resetMillis <= nowMillis {
		return 0
	}
	return int(math.Ceil(float64(resetMillis-nowMillis) / float64(dayMillis)))
}

// AggregateUsage reduces the credit-type breakdown entry into a single
// {current, limit} pair: base quota plus the trial quota when ACTIVE plus each
// ACTIVE bonus. Expired quotas are excluded entirely. Returns nil when the
// response has no credit breakdown.
func AggregateUsage(resp *UsageLimitsResponse) *store.Usage {
	var entry *UsageBreakdown
	for i := range resp.UsageBreakdownList {
		if resp.UsageBreakdownList[i].ResourceType == creditResourceType {
			entry = &resp.UsageBreakdownList[i]
			break
		}
	}
	if entry == nil {
		return nil
	}

	usage := &store.Usage{
		BaseCurrent:    entry.CurrentUsage,
		BaseLimit:      entry.UsageLimit,
		Current:        entry.CurrentUsage,
		Limit:          entry.UsageLimit,
		NextResetDate:  resp.NextDateReset,
		ResourceDetail: entry.ResourceDetail,
		LastUpdated:    time.Now().UnixMilli(),
	}

	if trial := entry.FreeTrialInfo; trial != nil {
		usage.FreeTrialCurrent = trial.CurrentUsage
		usage.FreeTrialLimit = trial.UsageLimit
		usage.FreeTrialExpiry = trial.ExpiryDate
		if trial.Status == quotaStatusActive {
			usage.Current += trial.CurrentUsage
			usage.Limit += trial.UsageLimit
		}
	}

	for _, bonus := range entry.Bonuses {
		usage.Bonuses = append(usage.Bonuses, store.Bonus{
			Status:  bonus.Status,
			Current: bonus.CurrentUsage,
			Limit:   bonus.UsageLimit,
			Expiry:  bonus.ExpiryDate,
		})
		if bonus.Status == quotaStatusActive {
			usage.Current += bonus.CurrentUsage
			usage.Limit += bonus.UsageLimit
		}
	}

	if usage.Limit > 0 {
		usage.PercentUsed = math.Round(usage.Current/usage.Limit*10000) / 100
	}
	return usage
}

// BuildSubscription derives the persisted subscription record from the raw
// response. Returns nil when the response carries no subscription info.
func BuildSubscription(resp *UsageLimitsResponse) *store.Subscription {
	info := resp.SubscriptionInfo
	if info == nil {
		return nil
	}
	return &store.Subscription{
		Type:              ClassifySubscription(info.SubscriptionTitle),
		Title:             info.SubscriptionTitle,
		RawType:           info.Type,
		DaysRemaining:     DaysUntil(resp.NextDateReset, time.Now().UnixMilli()),
		UpgradeCapability: info.UpgradeCapability,
		OverageCapability: info.OverageCapability,
		ManagementTarget:  info.ManagementTarget,
	}
}
