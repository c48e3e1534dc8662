package restorer

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/asfadmin/grfn-distribution/db"
	"github.com/asfadmin/grfn-distribution/types"
)

func openBundle(t *testing.T, dao db.RestoreDao, bundleId, userId string) {
	t.Helper()
	require.NoError(t, dao.CreateBundle(&db.Bundle{
		BundleId: bundleId,
		UserId:   userId,
		Status:   db.Open,
		OpenDate: time.Now().UTC(),
	}))
}

func addBundleObject(t *testing.T, dao db.RestoreDao, bundleId, objectKey string) {
	t.Helper()
	require.NoError(t, dao.AddObjectToBundle(bundleId, objectKey, time.Now().UTC()))
	require.NoError(t, dao.CreateObject(&db.Object{
		ObjectKey:     objectKey,
		RequestStatus: db.Archived,
		BundleId:      bundleId,
	}))
}

func TestExpeditedCapPerBundle(t *testing.T) {
	dao := newTestDao(t)
	storage := newFakeStorage()
	queue := &fakeQueue{}
	scheduler := NewUpkeepScheduler(dao, storage, queue, newTestRestoreConfig())

	openBundle(t, dao, "b1", "user-1")
	addBundleObject(t, dao, "b1", "first.zip")
	addBundleObject(t, dao, "b1", "second.zip")
	addBundleObject(t, dao, "b1", "third.zip")

	require.NoError(t, scheduler.RunOnce(context.Background()))

	require.Len(t, storage.restoreCalls, 3)
	require.Equal(t, types.TierExpedited, storage.restoreCalls[0].tier)
	require.Equal(t, types.TierExpedited, storage.restoreCalls[1].tier)
	require.Equal(t, types.TierStandard, storage.restoreCalls[2].tier)
}

func TestExpeditedCapIsPerBundleNotGlobal(t *testing.T) {
	dao := newTestDao(t)
	storage := newFakeStorage()
	queue := &fakeQueue{}
	scheduler := NewUpkeepScheduler(dao, storage, queue, newTestRestoreConfig())

	openBundle(t, dao, "b1", "user-1")
	openBundle(t, dao, "b2", "user-2")
	addBundleObject(t, dao, "b1", "b1-first.zip")
	addBundleObject(t, dao, "b1", "b1-second.zip")
	addBundleObject(t, dao, "b1", "b1-third.zip")
	addBundleObject(t, dao, "b2", "b2-first.zip")

	require.NoError(t, scheduler.RunOnce(context.Background()))

	tiersByKey := make(map[string]string)
	for _, call := range storage.restoreCalls {
		tiersByKey[call.objectKey] = call.tier
	}
	require.Equal(t, types.TierStandard, tiersByKey["b1-third.zip"])
	require.Equal(t, types.TierExpedited, tiersByKey["b2-first.zip"])
}

func TestUpkeepEndToEnd(t *testing.T) {
	dao := newTestDao(t)
	storage := newFakeStorage()
	queue := &fakeQueue{}
	scheduler := NewUpkeepScheduler(dao, storage, queue, newTestRestoreConfig())

	openBundle(t, dao, "b1", "user-1")
	addBundleObject(t, dao, "b1", "granule-a.zip")
	addBundleObject(t, dao, "b1", "granule-b.zip")

	// first cycle: both objects enter restore
	storage.setRetrieving("granule-a.zip")
	storage.setRetrieving("granule-b.zip")
	require.NoError(t, scheduler.RunOnce(context.Background()))
	for _, objectKey := range []string{"granule-a.zip", "granule-b.zip"} {
		object, err := dao.GetObject(objectKey)
		require.NoError(t, err)
		require.Equal(t, db.Retrieving, object.RequestStatus)
	}
	require.Empty(t, queue.sent)

	// second cycle: only A completes, the bundle stays open
	expiration := time.Now().UTC().Add(7 * 24 * time.Hour)
	storage.setAvailable("granule-a.zip", expiration)
	require.NoError(t, scheduler.RunOnce(context.Background()))
	object, err := dao.GetObject("granule-a.zip")
	require.NoError(t, err)
	require.Equal(t, db.Available, object.RequestStatus)
	bundle, err := dao.GetBundle("b1")
	require.NoError(t, err)
	require.Equal(t, db.Open, bundle.Status)
	require.Empty(t, queue.sent)

	// third cycle: B completes, the bundle closes with one notification
	storage.setAvailable("granule-b.zip", expiration)
	require.NoError(t, scheduler.RunOnce(context.Background()))
	bundle, err = dao.GetBundle("b1")
	require.NoError(t, err)
	require.Equal(t, db.Closed, bundle.Status)
	require.Len(t, queue.sent, 1)

	var message types.EmailMessage
	require.NoError(t, json.Unmarshal([]byte(queue.sent[0]), &message))
	require.Equal(t, types.MessageTypeAvailability, message.Type)
	require.Equal(t, "user-1", message.UserID)
	require.Equal(t, "b1", message.BundleID)

	// further cycles do not re-notify
	require.NoError(t, scheduler.RunOnce(context.Background()))
	require.Len(t, queue.sent, 1)
}

func TestEmptyBundleNeverCloses(t *testing.T) {
	dao := newTestDao(t)
	storage := newFakeStorage()
	queue := &fakeQueue{}
	scheduler := NewUpkeepScheduler(dao, storage, queue, newTestRestoreConfig())

	openBundle(t, dao, "b1", "user-1")
	require.NoError(t, scheduler.RunOnce(context.Background()))

	bundle, err := dao.GetBundle("b1")
	require.NoError(t, err)
	require.Equal(t, db.Open, bundle.Status)
	require.Empty(t, queue.sent)
}

func TestLateJoiningObjectDelaysClosure(t *testing.T) {
	dao := newTestDao(t)
	storage := newFakeStorage()
	queue := &fakeQueue{}
	scheduler := NewUpkeepScheduler(dao, storage, queue, newTestRestoreConfig())

	openBundle(t, dao, "b1", "user-1")
	addBundleObject(t, dao, "b1", "granule-a.zip")
	require.NoError(t, dao.MarkObjectRetrieving("granule-a.zip", types.TierExpedited, "b1"))
	require.NoError(t, dao.MarkObjectAvailable("granule-a.zip", time.Now().UTC().Add(24*time.Hour)))

	// a second object joins the otherwise-complete bundle before reconciliation
	addBundleObject(t, dao, "b1", "granule-b.zip")
	storage.setRetrieving("granule-b.zip")
	require.NoError(t, scheduler.RunOnce(context.Background()))

	bundle, err := dao.GetBundle("b1")
	require.NoError(t, err)
	require.Equal(t, db.Open, bundle.Status)
	require.Empty(t, queue.sent)

	// once the late object lands, the next pass closes the bundle
	storage.setAvailable("granule-b.zip", time.Now().UTC().Add(24*time.Hour))
	require.NoError(t, scheduler.RunOnce(context.Background()))
	bundle, err = dao.GetBundle("b1")
	require.NoError(t, err)
	require.Equal(t, db.Closed, bundle.Status)
	require.Len(t, queue.sent, 1)
}

func TestExpiredMemberResetsToArchived(t *testing.T) {
	dao := newTestDao(t)
	storage := newFakeStorage()
	queue := &fakeQueue{}
	scheduler := NewUpkeepScheduler(dao, storage, queue, newTestRestoreConfig())

	openBundle(t, dao, "b1", "user-1")
	addBundleObject(t, dao, "b1", "granule-a.zip")
	require.NoError(t, dao.MarkObjectRetrieving("granule-a.zip", types.TierExpedited, "b1"))
	require.NoError(t, dao.MarkObjectAvailable("granule-a.zip", time.Now().UTC().Add(-time.Hour)))

	require.NoError(t, scheduler.RunOnce(context.Background()))

	object, err := dao.GetObject("granule-a.zip")
	require.NoError(t, err)
	require.Equal(t, db.Archived, object.RequestStatus)
	bundle, err := dao.GetBundle("b1")
	require.NoError(t, err)
	require.Equal(t, db.Open, bundle.Status)
	require.Empty(t, queue.sent)
}
