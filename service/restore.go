package service

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/asfadmin/grfn-distribution/cache"
	"github.com/asfadmin/grfn-distribution/config"
	"github.com/asfadmin/grfn-distribution/db"
	"github.com/asfadmin/grfn-distribution/external"
	"github.com/asfadmin/grfn-distribution/logging"
	"github.com/asfadmin/grfn-distribution/types"
)

// ObjectStatus is one row of a user's restore status display.
type ObjectStatus struct {
	ObjectKey      string     `json:"object_key"`
	RequestDate    time.Time  `json:"request_date"`
	Available      bool       `json:"available"`
	ExpirationDate *time.Time `json:"expiration_date,omitempty"`
}

type Restore interface {
	GetStatus(userId string) ([]*ObjectStatus, error)
	RequestObject(ctx context.Context, objectKey, userId string) (bool, error)
	GetSubscription(userId string) (bool, error)
	UpdateSubscription(userId string, subscribed bool) error
}

type RestoreService struct {
	dao          db.RestoreDao
	storage      external.StorageClient
	queue        external.QueueClient
	cacheService cache.Cache
	config       *config.Config
}

func NewRestoreService(dao db.RestoreDao, storage external.StorageClient, queue external.QueueClient, cacheService cache.Cache, cfg *config.Config) Restore {
	return &RestoreService{
		dao:          dao,
		storage:      storage,
		queue:        queue,
		cacheService: cacheService,
		config:       cfg,
	}
}

// GetStatus lists the objects the user requested within the retention window
// across all of their bundles, newest request first.
func (s *RestoreService) GetStatus(userId string) ([]*ObjectStatus, error) {
	cutoffDate := time.Now().UTC().AddDate(0, 0, -s.retentionWindowInDays())
	bundles, err := s.dao.GetBundlesForUser(userId, cutoffDate)
	if err != nil {
		return nil, err
	}

	status := make([]*ObjectStatus, 0)
	for _, bundle := range bundles {
		members, err := s.dao.GetBundleObjectsSince(bundle.BundleId, cutoffDate)
		if err != nil {
			return nil, err
		}
		for _, member := range members {
			entry, err := s.lookupObject(member.ObjectKey)
			if err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					logging.Logger.Warningf("bundle references unknown object, bundle_id=%s, object_key=%s", bundle.BundleId, member.ObjectKey)
					continue
				}
				return nil, err
			}
			entry.RequestDate = member.RequestDate
			status = append(status, entry)
		}
	}
	sort.Slice(status, func(i, j int) bool {
		return status[i].RequestDate.After(status[j].RequestDate)
	})
	return status, nil
}

// lookupObject resolves one object's availability, serving still-valid
// available entries from the cache.
func (s *RestoreService) lookupObject(objectKey string) (*ObjectStatus, error) {
	if cached, found := s.cacheService.Get(objectKey); found {
		entry := cached.(*ObjectStatus)
		if entry.ExpirationDate != nil && entry.ExpirationDate.After(time.Now().UTC()) {
			copied := *entry
			return &copied, nil
		}
		s.cacheService.Remove(objectKey)
	}

	object, err := s.dao.GetObject(objectKey)
	if err != nil {
		return nil, err
	}
	entry := &ObjectStatus{
		ObjectKey:      object.ObjectKey,
		Available:      object.RequestStatus == db.Available,
		ExpirationDate: object.ExpirationDate,
	}
	if entry.Available && entry.ExpirationDate != nil {
		cached := *entry
		s.cacheService.Set(objectKey, &cached)
	}
	return entry, nil
}

// RequestObject logs the user's interest in an object on a download attempt.
// When the object is cold it joins the user's open bundle (opening one if
// needed) and a fresh object ledger entry is created; the call never blocks
// on restore completion.
func (s *RestoreService) RequestObject(ctx context.Context, objectKey, userId string) (bool, error) {
	state, err := s.storage.GetRestoreState(ctx, objectKey)
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok && (aerr.Code() == "NotFound" || aerr.Code() == "NoSuchKey") {
			return false, ErrObjectNotFound.Enrich(objectKey)
		}
		return false, err
	}
	if state.Status == external.StatusAvailable {
		return true, nil
	}

	bundle, err := s.getOrOpenBundle(userId)
	if err != nil {
		return false, err
	}
	if err = s.dao.AddObjectToBundle(bundle.BundleId, objectKey, time.Now().UTC()); err != nil {
		return false, err
	}
	// no-op when a shared entry already exists for the key
	err = s.dao.CreateObject(&db.Object{
		ObjectKey:     objectKey,
		RequestStatus: db.Archived,
		BundleId:      bundle.BundleId,
	})
	if err != nil {
		return false, err
	}

	if err = s.sendAcknowledgementMessage(ctx, userId); err != nil {
		// the notification is best-effort, the request itself succeeded
		logging.Logger.Errorf("failed to send acknowledgement message, user_id=%s, err=%s", userId, err.Error())
	}
	return false, nil
}

func (s *RestoreService) getOrOpenBundle(userId string) (*db.Bundle, error) {
	bundle, err := s.dao.GetOpenBundle(userId)
	if err == nil {
		return bundle, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	bundle = &db.Bundle{
		BundleId: uuid.New().String(),
		UserId:   userId,
		Status:   db.Open,
		OpenDate: time.Now().UTC(),
	}
	if err = s.dao.CreateBundle(bundle); err != nil {
		return nil, err
	}
	// re-read in case a concurrent request opened the bundle first
	return s.dao.GetOpenBundle(userId)
}

func (s *RestoreService) sendAcknowledgementMessage(ctx context.Context, userId string) error {
	payload, err := json.Marshal(types.EmailMessage{
		Type:   types.MessageTypeAcknowledgement,
		UserID: userId,
	})
	if err != nil {
		return err
	}
	return s.queue.SendMessage(ctx, string(payload))
}

// GetSubscription reports the user's email preference, defaulting to
// subscribed for users without a stored profile.
func (s *RestoreService) GetSubscription(userId string) (bool, error) {
	user, err := s.dao.GetUser(userId)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return true, nil
		}
		return false, err
	}
	return user.SubscribedToEmails, nil
}

func (s *RestoreService) UpdateSubscription(userId string, subscribed bool) error {
	return s.dao.UpsertUserSubscription(userId, "", subscribed)
}

func (s *RestoreService) retentionWindowInDays() int {
	if s.config.NotifierConfig.StatusRetentionWindowInDays > 0 {
		return s.config.NotifierConfig.StatusRetentionWindowInDays
	}
	return config.DefaultRetentionWindowInDays
}
