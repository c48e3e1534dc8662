package restorer

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/asfadmin/grfn-distribution/config"
	"github.com/asfadmin/grfn-distribution/db"
	"github.com/asfadmin/grfn-distribution/external"
	"github.com/asfadmin/grfn-distribution/logging"
	"github.com/asfadmin/grfn-distribution/metrics"
)

// RestorePolicy decides which retrieval tier an object is requested at and
// keeps restore calls idempotent against the object ledger.
type RestorePolicy struct {
	dao     db.RestoreDao
	storage external.StorageClient
	config  *config.RestoreConfig
}

func NewRestorePolicy(dao db.RestoreDao, storage external.StorageClient, cfg *config.RestoreConfig) *RestorePolicy {
	return &RestorePolicy{
		dao:     dao,
		storage: storage,
		config:  cfg,
	}
}

// RequestRestore issues a restore call for an archived object. Calling it on
// an object that is already retrieving or available is a no-op. A rejected
// expedited tier is retried at the default tier before giving up; any other
// backend error leaves the object archived for the next upkeep cycle.
func (p *RestorePolicy) RequestRestore(ctx context.Context, objectKey, tier, bundleId string) error {
	object, err := p.dao.GetObject(objectKey)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			logging.Logger.Warningf("restore requested for unknown object, object_key=%s", objectKey)
			return nil
		}
		return err
	}
	if object.RequestStatus != db.Archived {
		return nil
	}

	err = p.storage.Restore(ctx, objectKey, tier, p.config.RetentionDays)
	if errors.Is(err, external.ErrTierUnavailable) && tier != p.config.GetDefaultTier() {
		logging.Logger.Infof("tier %s unavailable, falling back, object_key=%s, tier=%s", tier, objectKey, p.config.GetDefaultTier())
		tier = p.config.GetDefaultTier()
		err = p.storage.Restore(ctx, objectKey, tier, p.config.RetentionDays)
	}
	if err != nil && !errors.Is(err, external.ErrRestoreInProgress) {
		return err
	}

	logging.Logger.Infof("restoring object, object_key=%s, tier=%s", objectKey, tier)
	metrics.RestoreRequestsCounter.WithLabelValues(tier).Inc()
	return p.dao.MarkObjectRetrieving(objectKey, tier, bundleId)
}

// PollObject refreshes one in-flight object from the cold storage backend and
// records the expiration date once the restored copy becomes readable.
func (p *RestorePolicy) PollObject(ctx context.Context, objectKey string) error {
	state, err := p.storage.GetRestoreState(ctx, objectKey)
	if err != nil {
		return err
	}
	if state.Status != external.StatusAvailable {
		return nil
	}
	expirationDate := state.ExpirationDate
	if expirationDate == nil {
		fallback := time.Now().UTC().Add(time.Duration(p.config.RetentionDays) * 24 * time.Hour)
		expirationDate = &fallback
	}
	logging.Logger.Infof("object is now available, object_key=%s, expiration_date=%s", objectKey, expirationDate)
	return p.dao.MarkObjectAvailable(objectKey, *expirationDate)
}
