package types

// Retrieval tiers accepted by the cold storage backend.
const (
	TierExpedited = "Expedited"
	TierStandard  = "Standard"
	TierBulk      = "Bulk"
)

const (
	MessageTypeAcknowledgement = "acknowledgement"
	MessageTypeAvailability    = "availability"
)

// EmailMessage is the queue payload exchanged between the upkeep scheduler
// and the notification dispatcher.
type EmailMessage struct {
	Type     string `json:"type"`
	UserID   string `json:"user_id"`
	BundleID string `json:"bundle_id,omitempty"`
}
