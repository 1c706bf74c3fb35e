package entitlement

// Capability represents a gated client action enabled by a tier.
type Capability string

const (
	CapabilityAnnotate       Capability = "annotate"
	CapabilityExportCSV      Capability = "export_csv"
	CapabilitySettingsAccess Capability = "settings_access"
	CapabilityMailingList    Capability = "mailing_list"
	CapabilityTelegramAlerts Capability = "telegram_alerts"
)

// Resource represents a countable per-account resource limited by tier.
type Resource string

const (
	// ResourceBins is the number of inventory bins an account may label.
	ResourceBins Resource = "bins"
)

// Unlimited indicates no limit for a resource (-1 for SQL compatibility).
const Unlimited int64 = -1

// Money represents a monetary amount in the smallest currency unit.
// $19.99 USD is Amount: 1999, Currency: "USD".
type Money struct {
	Amount   int64  `json:"amount" yaml:"amount"`
	Currency string `json:"currency" yaml:"currency"`
}

// AccountStatus represents the lifecycle state of an account's subscription.
type AccountStatus string

const (
	StatusActive           AccountStatus = "active"
	StatusPendingDowngrade AccountStatus = "pending_downgrade"
	StatusCancelled        AccountStatus = "cancelled"
)

// statusTransitions encodes the legal status changes. Cancelled is terminal;
// pending_downgrade can only be re-entered after returning to active.
var statusTransitions = map[AccountStatus][]AccountStatus{
	StatusActive:           {StatusActive, StatusPendingDowngrade, StatusCancelled},
	StatusPendingDowngrade: {StatusActive, StatusCancelled},
	StatusCancelled:        {},
}

func canChangeStatus(from, to AccountStatus) bool {
	for _, allowed := range statusTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// TransitionReason records why a tier transition was applied.
type TransitionReason string

const (
	ReasonRegistration TransitionReason = "registration"
	ReasonUpgrade      TransitionReason = "upgrade"
	ReasonDowngrade    TransitionReason = "downgrade"
	ReasonCancel       TransitionReason = "cancel"
)
