package restorer

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/asfadmin/grfn-distribution/config"
	"github.com/asfadmin/grfn-distribution/db"
	"github.com/asfadmin/grfn-distribution/external"
	"github.com/asfadmin/grfn-distribution/logging"
	"github.com/asfadmin/grfn-distribution/metrics"
	"github.com/asfadmin/grfn-distribution/types"
	"github.com/asfadmin/grfn-distribution/util"
)

// minStepBudget is the wall-clock room a pass must have left to start
// another step; with less the pass defers the remaining work to the next run.
const minStepBudget = 5 * time.Second

// UpkeepScheduler is the periodic control loop. Each pass advances archived
// objects into restore, polls in-flight restores, and closes bundles whose
// objects are all available. Every mutation is idempotent, so overlapping
// passes are tolerated without locking.
type UpkeepScheduler struct {
	dao    db.RestoreDao
	policy *RestorePolicy
	queue  external.QueueClient
	config *config.RestoreConfig
}

func NewUpkeepScheduler(dao db.RestoreDao, storage external.StorageClient, queue external.QueueClient, cfg *config.RestoreConfig) *UpkeepScheduler {
	return &UpkeepScheduler{
		dao:    dao,
		policy: NewRestorePolicy(dao, storage, cfg),
		queue:  queue,
		config: cfg,
	}
}

func (s *UpkeepScheduler) StartLoop() {
	interval := s.config.UpkeepIntervalInSeconds
	if interval <= 0 {
		interval = config.DefaultUpkeepIntervalInSeconds
	}
	upkeepTicker := time.NewTicker(time.Duration(interval) * time.Second)
	for range upkeepTicker.C {
		ctx := context.Background()
		cancel := func() {}
		if s.config.TimeBudgetInSeconds > 0 {
			ctx, cancel = context.WithTimeout(ctx, time.Duration(s.config.TimeBudgetInSeconds)*time.Second)
		}
		if err := s.RunOnce(ctx); err != nil {
			logging.Logger.Errorf("upkeep pass failed, err=%s", err.Error())
		}
		cancel()
	}
}

// RunOnce performs a single upkeep pass over a snapshot of the ledgers.
// State changed by a concurrent pass is picked up on the next cycle.
func (s *UpkeepScheduler) RunOnce(ctx context.Context) error {
	steps := []struct {
		name string
		run  func(ctx context.Context) error
	}{
		{"advance archived objects", s.processArchivedObjects},
		{"poll retrieving objects", s.processRetrievingObjects},
		{"reconcile open bundles", s.processOpenBundles},
	}
	for _, step := range steps {
		if budgetExhausted(ctx) {
			logging.Logger.Infof("time budget exhausted, deferring %q to the next run", step.name)
			return nil
		}
		if err := step.run(ctx); err != nil {
			return err
		}
	}
	return nil
}

func budgetExhausted(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		return false
	}
	return time.Until(deadline) < minStepBudget
}

// processArchivedObjects issues restore requests for every archived object,
// spending the per-bundle expedited cap on the first objects of each bundle.
func (s *UpkeepScheduler) processArchivedObjects(ctx context.Context) error {
	objects, err := s.dao.GetObjectsByStatus(db.Archived)
	if err != nil {
		return err
	}
	metrics.ArchivedObjectsGauge.Set(float64(len(objects)))

	expeditedByBundle := make(map[string]int)
	for _, batch := range util.ChunkSlice(objects, s.config.GetRestoreBatchSize()) {
		if budgetExhausted(ctx) {
			logging.Logger.Info("time budget exhausted, deferring remaining restore requests to the next run")
			return nil
		}
		for _, object := range batch {
			tier := s.config.GetDefaultTier()
			expeditedByBundle[object.BundleId]++
			if expeditedByBundle[object.BundleId] <= s.config.MaxExpeditedRequestsPerBundle {
				tier = types.TierExpedited
			}
			if err := s.policy.RequestRestore(ctx, object.ObjectKey, tier, object.BundleId); err != nil {
				logging.Logger.Errorf("failed to request restore, object_key=%s, err=%s", object.ObjectKey, err.Error())
			}
		}
	}
	return nil
}

// processRetrievingObjects polls every in-flight object and records the ones
// that became available.
func (s *UpkeepScheduler) processRetrievingObjects(ctx context.Context) error {
	objects, err := s.dao.GetObjectsByStatus(db.Retrieving)
	if err != nil {
		return err
	}
	metrics.RetrievingObjectsGauge.Set(float64(len(objects)))

	for _, batch := range util.ChunkSlice(objects, s.config.GetPollBatchSize()) {
		if budgetExhausted(ctx) {
			logging.Logger.Info("time budget exhausted, deferring remaining polls to the next run")
			return nil
		}
		for _, object := range batch {
			if err := s.policy.PollObject(ctx, object.ObjectKey); err != nil {
				logging.Logger.Errorf("failed to poll object, object_key=%s, err=%s", object.ObjectKey, err.Error())
			}
		}
	}
	return nil
}

// processOpenBundles closes every complete bundle and emits one availability
// notification per closed bundle.
func (s *UpkeepScheduler) processOpenBundles(ctx context.Context) error {
	bundles, err := s.dao.GetOpenBundles()
	if err != nil {
		return err
	}
	metrics.OpenBundlesGauge.Set(float64(len(bundles)))

	for _, bundle := range bundles {
		if budgetExhausted(ctx) {
			logging.Logger.Info("time budget exhausted, deferring remaining bundles to the next run")
			return nil
		}
		complete, err := s.bundleComplete(bundle)
		if err != nil {
			logging.Logger.Errorf("failed to evaluate bundle, bundle_id=%s, err=%s", bundle.BundleId, err.Error())
			continue
		}
		if !complete {
			continue
		}
		closed, err := s.dao.CloseBundle(bundle.BundleId, time.Now().UTC())
		if err != nil {
			logging.Logger.Errorf("failed to close bundle, bundle_id=%s, err=%s", bundle.BundleId, err.Error())
			continue
		}
		if !closed {
			// a concurrent pass won the close and sent the notification
			continue
		}
		metrics.ClosedBundlesCounter.Inc()
		logging.Logger.Infof("closed bundle, bundle_id=%s, user_id=%s", bundle.BundleId, bundle.UserId)
		if err := s.sendAvailabilityMessage(ctx, bundle); err != nil {
			logging.Logger.Errorf("failed to send availability message, bundle_id=%s, err=%s", bundle.BundleId, err.Error())
		}
	}
	return nil
}

// bundleComplete reports whether every object of the bundle is available.
// Members whose restored copy has lapsed are reset to archived on the way, so
// the bundle re-enters the restore path instead of closing over stale data.
func (s *UpkeepScheduler) bundleComplete(bundle *db.Bundle) (bool, error) {
	members, err := s.dao.GetBundleObjects(bundle.BundleId)
	if err != nil {
		return false, err
	}
	if len(members) == 0 {
		return false, nil
	}

	expired := false
	for _, member := range members {
		object, err := s.dao.GetObject(member.ObjectKey)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				logging.Logger.Warningf("bundle references unknown object, bundle_id=%s, object_key=%s", bundle.BundleId, member.ObjectKey)
				return false, nil
			}
			return false, err
		}
		if object.RequestStatus != db.Available {
			return false, nil
		}
		if object.ExpirationDate != nil && object.ExpirationDate.Before(time.Now().UTC()) {
			logging.Logger.Infof("restored copy expired, resetting object, object_key=%s", object.ObjectKey)
			if err := s.dao.ResetObjectToArchived(object.ObjectKey); err != nil {
				return false, err
			}
			expired = true
		}
	}
	if expired {
		return false, nil
	}

	count, err := s.dao.CountUnavailableObjects(bundle.BundleId)
	if err != nil {
		return false, err
	}
	return count == 0, nil
}

func (s *UpkeepScheduler) sendAvailabilityMessage(ctx context.Context, bundle *db.Bundle) error {
	payload, err := json.Marshal(types.EmailMessage{
		Type:     types.MessageTypeAvailability,
		UserID:   bundle.UserId,
		BundleID: bundle.BundleId,
	})
	if err != nil {
		return err
	}
	return s.queue.SendMessage(ctx, string(payload))
}
