package store

import "time"

// AuthMethod selects which provider adapter can refresh a credential.
type AuthMethod string

const (
	AuthMethodIdC    AuthMethod = "idc"
	AuthMethodSocial AuthMethod = "social"
)

// Provider identifies the identity provider behind a credential.
type Provider string

const (
	ProviderBuilderID Provider = "builderId"
	ProviderGithub    Provider = "github"
	ProviderGoogle    Provider = "google"
)

// Status is the account health as of the last refresh/check.
type Status string

const (
	StatusActive  Status = "active"
	StatusError   Status = "error"
	StatusExpired Status = "expired"
)

// Credentials holds the OAuth tokens and client registration for one account.
// AccessToken and ExpiresAt mutate on every successful refresh; ClientID and
// ClientSecret are only present for IdC credentials.
type Credentials struct {
	AccessToken  string     `json:"accessToken"`
	RefreshToken string     `json:"refreshToken"`
	ClientID     string     `json:"clientId,omitempty"`
	ClientSecret string     `json:"clientSecret,omitempty"`
	Region       string     `json:"region"`
	ExpiresAt    int64      `json:"expiresAt"` // epoch milliseconds
	AuthMethod   AuthMethod `json:"authMethod"`
	Provider     Provider   `json:"provider"`
}

// Expired reports whether the access token is past its expiry.
func (c Credentials) Expired() bool {
	return c.ExpiresAt > 0 && time.Now().UnixMilli() >= c.ExpiresAt
}

// Subscription describes the plan attached to an account.
type Subscription struct {
	Type              string `json:"type"`
	Title             string `json:"title"`
	RawType           string `json:"rawType,omitempty"`
	DaysRemaining     int    `json:"daysRemaining,omitempty"`
	ExpiresAt         int64  `json:"expiresAt,omitempty"`
	UpgradeCapability string `json:"upgradeCapability,omitempty"`
	OverageCapability string `json:"overageCapability,omitempty"`
	ManagementTarget  string `json:"managementTarget,omitempty"`
}

// Bonus is a time-limited extra quota grant on top of the base quota.
type Bonus struct {
	Status  string  `json:"status"`
	Current float64 `json:"current"`
	Limit   float64 `json:"limit"`
	Expiry  int64   `json:"expiry,omitempty"`
}

// Usage is the aggregated credit usage for an account.
type Usage struct {
	Current          float64 `json:"current"`
	Limit            float64 `json:"limit"`
	PercentUsed      float64 `json:"percentUsed"`
	LastUpdated      int64   `json:"lastUpdated"`
	BaseCurrent      float64 `json:"baseCurrent"`
	BaseLimit        float64 `json:"baseLimit"`
	FreeTrialCurrent float64 `json:"freeTrialCurrent,omitempty"`
	FreeTrialLimit   float64 `json:"freeTrialLimit,omitempty"`
	FreeTrialExpiry  int64   `json:"freeTrialExpiry,omitempty"`
	Bonuses          []Bonus `json:"bonuses,omitempty"`
	NextResetDate    int64   `json:"nextResetDate,omitempty"`
	ResourceDetail   string  `json:"resourceDetail,omitempty"`
}

// Account is one managed Kiro identity.
type Account struct {
	ID           string        `json:"id"`
	Email        string        `json:"email"`
	UserID       string        `json:"userId"`
	Credentials  Credentials   `json:"credentials"`
	Subscription *Subscription `json:"subscription,omitempty"`
	Usage        *Usage        `json:"usage,omitempty"`
	Status       Status        `json:"status"`
	LastError    string        `json:"lastError,omitempty"`
	GroupID      string        `json:"groupId,omitempty"`
	Tags         []string      `json:"tags,omitempty"`
	CreatedAt    int64         `json:"createdAt"`
	UpdatedAt    int64         `json:"updatedAt"`
}

// HasTag reports whether the account carries the given tag id.
func (a *Account) HasTag(tagID string) bool {
	for _, id := range a.Tags {
		if id == tagID {
			return true
		}
	}
	return false
}

// Group is a named, colored partition of accounts (many-to-one).
type Group struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

// Tag is a named, colored label on accounts (many-to-many).
type Tag struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

// Settings holds global, persisted preferences.
type Settings struct {
	AutoRefreshIntervalMin int    `json:"autoRefreshIntervalMin"`
	AutoRefreshConcurrency int    `json:"autoRefreshConcurrency"`
	ProxyURL               string `json:"proxyUrl,omitempty"`
	ActiveAccountID        string `json:"activeAccountId,omitempty"`
}

// Snapshot is the root aggregate held in memory and persisted as one document.
type Snapshot struct {
	Version  int
	Accounts map[string]*Account
	Groups   map[string]*Group
	Tags     map[string]*Tag
	Settings Settings
}

// FindByIdentity returns the account matching (email, userId), if any.
func (s *Snapshot) FindByIdentity(email, userID string) *Account {
	for _, a := range s.Accounts {
		if a.Email == email && a.UserID == userID {
			return a
		}
	}
	return nil
}
