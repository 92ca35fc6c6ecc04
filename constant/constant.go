package constant

type SessionStatus string

const (
	SessionStatusActive SessionStatus = "ACTIVE"
	SessionStatusEnded  SessionStatus = "ENDED"
)

type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

type Category string

const (
	CategoryNeutral       Category = "neutral"
	CategoryControversial Category = "controversial"
	CategoryViral         Category = "viral"
	CategoryHateful       Category = "hateful"
)

type Virality string

const (
	ViralityLow    Virality = "low"
	ViralityMedium Virality = "medium"
	ViralityHigh   Virality = "high"
)

type RiskTier string

const (
	RiskTierLow    RiskTier = "low"
	RiskTierMedium RiskTier = "medium"
	RiskTierHigh   RiskTier = "high"
)

type AlertStatus string

const (
	AlertStatusPending     AlertStatus = "pending"
	AlertStatusReviewed    AlertStatus = "reviewed"
	AlertStatusActionTaken AlertStatus = "action_taken"
	AlertStatusDismissed   AlertStatus = "dismissed"
)

func (s AlertStatus) Valid() bool {
	switch s {
	case AlertStatusPending, AlertStatusReviewed, AlertStatusActionTaken, AlertStatusDismissed:
		return true
	}
	return false
}

type AccountStatus string

const (
	AccountStatusLive    AccountStatus = "live"
	AccountStatusActive  AccountStatus = "active"
	AccountStatusOffline AccountStatus = "offline"
)

const (
	DefaultSessionTitle = "Live detected"

	GroupLives      = "lives"
	GroupModeration = "moderation"
)

type Environment string

const (
	EnvironmentProduction Environment = "production"
	EnvironmentStaging    Environment = "staging"
	EnvironmentDevelop    Environment = "develop"
)

func (e Environment) String() string {
	return string(e)
}
