package external

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrRestoreInProgress reports that the backend already has a restore
	// running for the object. Callers treat it as a success path.
	ErrRestoreInProgress = errors.New("restore already in progress")
	// ErrTierUnavailable reports that the requested retrieval tier was
	// rejected by the backend and the object should be retried at the
	// fallback tier.
	ErrTierUnavailable = errors.New("retrieval tier unavailable")
)

type RestoreStatus int

const (
	StatusArchived   RestoreStatus = 0
	StatusRetrieving RestoreStatus = 1
	StatusAvailable  RestoreStatus = 2
)

// RestoreState is the archival state of one object as reported by the cold
// storage backend. ExpirationDate is set only for available objects.
type RestoreState struct {
	Status         RestoreStatus
	ExpirationDate *time.Time
}

// StorageClient issues restore requests and reports archival status for
// single objects in cold storage.
type StorageClient interface {
	Restore(ctx context.Context, objectKey, tier string, retentionDays int) error
	GetRestoreState(ctx context.Context, objectKey string) (*RestoreState, error)
}

type QueueMessage struct {
	Body          string
	ReceiptHandle string
}

// QueueClient is the at-least-once notification queue. Received messages must
// be deleted explicitly after successful processing.
type QueueClient interface {
	SendMessage(ctx context.Context, body string) error
	ReceiveMessage(ctx context.Context) (*QueueMessage, error)
	DeleteMessage(ctx context.Context, receiptHandle string) error
}

type MailClient interface {
	SendEmail(ctx context.Context, toAddress, subject, htmlBody string) error
}
