package notifier

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/asfadmin/grfn-distribution/config"
	"github.com/asfadmin/grfn-distribution/db"
	"github.com/asfadmin/grfn-distribution/external"
)

func newTestDao(t *testing.T) db.RestoreDao {
	gormDB, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := gormDB.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	db.AutoMigrateDB(gormDB)
	return db.NewRestoreSvcDB(gormDB)
}

func newTestNotifierConfig() *config.NotifierConfig {
	return &config.NotifierConfig{
		QueueName:            "email-queue",
		FromEmailAddress:     "noreply@example.com",
		DownloadPath:         "https://example.com/door/download/%s",
		UnsubscribeURL:       "https://example.com/door/userprofile",
		AckCooldownInMinutes: 60,
	}
}

type fakeQueue struct {
	messages []*external.QueueMessage
	deleted  []string
	sent     []string
}

func (f *fakeQueue) SendMessage(_ context.Context, body string) error {
	f.sent = append(f.sent, body)
	return nil
}

func (f *fakeQueue) ReceiveMessage(_ context.Context) (*external.QueueMessage, error) {
	if len(f.messages) == 0 {
		return nil, nil
	}
	message := f.messages[0]
	f.messages = f.messages[1:]
	return message, nil
}

func (f *fakeQueue) DeleteMessage(_ context.Context, receiptHandle string) error {
	f.deleted = append(f.deleted, receiptHandle)
	return nil
}

type sentEmail struct {
	to      string
	subject string
	body    string
}

type fakeMailer struct {
	sent    []sentEmail
	sendErr error
}

func (f *fakeMailer) SendEmail(_ context.Context, toAddress, subject, htmlBody string) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, sentEmail{to: toAddress, subject: subject, body: htmlBody})
	return nil
}

func newDispatcherForTest(t *testing.T) (*Dispatcher, db.RestoreDao, *fakeQueue, *fakeMailer) {
	dao := newTestDao(t)
	queue := &fakeQueue{}
	mailer := &fakeMailer{}
	dispatcher := NewDispatcher(dao, queue, mailer, NewTemplateRenderer(), newTestNotifierConfig())
	return dispatcher, dao, queue, mailer
}

func ackMessage(userId string) *external.QueueMessage {
	return &external.QueueMessage{
		Body:          fmt.Sprintf(`{"type": "acknowledgement", "user_id": %q}`, userId),
		ReceiptHandle: "receipt-ack",
	}
}

func availabilityMessage(userId, bundleId string) *external.QueueMessage {
	return &external.QueueMessage{
		Body:          fmt.Sprintf(`{"type": "availability", "user_id": %q, "bundle_id": %q}`, userId, bundleId),
		ReceiptHandle: "receipt-avail",
	}
}

func createUser(t *testing.T, dao db.RestoreDao, userId string, lastAck *time.Time) {
	t.Helper()
	require.NoError(t, dao.UpsertUserSubscription(userId, userId+"@example.com", true))
	if lastAck != nil {
		require.NoError(t, dao.UpdateLastAcknowledgement(userId, *lastAck))
	}
}

func TestAcknowledgementWithinCooldownIsDropped(t *testing.T) {
	dispatcher, dao, queue, mailer := newDispatcherForTest(t)
	lastAck := time.Now().UTC().Add(-30 * time.Minute)
	createUser(t, dao, "user-1", &lastAck)
	queue.messages = append(queue.messages, ackMessage("user-1"))

	require.NoError(t, dispatcher.DrainQueue(context.Background()))

	require.Empty(t, mailer.sent)
	require.Equal(t, []string{"receipt-ack"}, queue.deleted)
	user, err := dao.GetUser("user-1")
	require.NoError(t, err)
	require.WithinDuration(t, lastAck, *user.LastAcknowledgement, time.Second)
}

func TestAcknowledgementAfterCooldownIsSent(t *testing.T) {
	dispatcher, dao, queue, mailer := newDispatcherForTest(t)
	lastAck := time.Now().UTC().Add(-90 * time.Minute)
	createUser(t, dao, "user-1", &lastAck)
	queue.messages = append(queue.messages, ackMessage("user-1"))

	require.NoError(t, dispatcher.DrainQueue(context.Background()))

	require.Len(t, mailer.sent, 1)
	require.Equal(t, "user-1@example.com", mailer.sent[0].to)
	require.Equal(t, []string{"receipt-ack"}, queue.deleted)
	user, err := dao.GetUser("user-1")
	require.NoError(t, err)
	require.WithinDuration(t, time.Now().UTC(), *user.LastAcknowledgement, time.Minute)
}

func TestFirstAcknowledgementIsSent(t *testing.T) {
	dispatcher, dao, queue, mailer := newDispatcherForTest(t)
	createUser(t, dao, "user-1", nil)
	queue.messages = append(queue.messages, ackMessage("user-1"))

	require.NoError(t, dispatcher.DrainQueue(context.Background()))

	require.Len(t, mailer.sent, 1)
	user, err := dao.GetUser("user-1")
	require.NoError(t, err)
	require.NotNil(t, user.LastAcknowledgement)
}

func TestAvailabilityIsExemptFromCooldown(t *testing.T) {
	dispatcher, dao, queue, mailer := newDispatcherForTest(t)
	lastAck := time.Now().UTC().Add(-time.Minute)
	createUser(t, dao, "user-1", &lastAck)
	require.NoError(t, dao.AddObjectToBundle("b1", "granule-a.zip", time.Now().UTC()))
	require.NoError(t, dao.CreateObject(&db.Object{ObjectKey: "granule-a.zip", RequestStatus: db.Available, BundleId: "b1"}))
	queue.messages = append(queue.messages, availabilityMessage("user-1", "b1"))

	require.NoError(t, dispatcher.DrainQueue(context.Background()))

	require.Len(t, mailer.sent, 1)
	require.Contains(t, mailer.sent[0].body, "https://example.com/door/download/granule-a.zip")
	require.Equal(t, []string{"receipt-avail"}, queue.deleted)
}

func TestUnsubscribedUserIsDroppedBeforeRendering(t *testing.T) {
	dispatcher, dao, queue, mailer := newDispatcherForTest(t)
	require.NoError(t, dao.UpsertUserSubscription("user-1", "user-1@example.com", false))
	queue.messages = append(queue.messages, ackMessage("user-1"))

	require.NoError(t, dispatcher.DrainQueue(context.Background()))

	require.Empty(t, mailer.sent)
	require.Equal(t, []string{"receipt-ack"}, queue.deleted)
	user, err := dao.GetUser("user-1")
	require.NoError(t, err)
	require.Nil(t, user.LastAcknowledgement)
}

func TestSendFailureLeavesMessageUnacknowledged(t *testing.T) {
	dispatcher, dao, queue, mailer := newDispatcherForTest(t)
	mailer.sendErr = errors.New("smtp unavailable")
	createUser(t, dao, "user-1", nil)
	queue.messages = append(queue.messages, ackMessage("user-1"))

	require.NoError(t, dispatcher.DrainQueue(context.Background()))

	require.Empty(t, queue.deleted)
	user, err := dao.GetUser("user-1")
	require.NoError(t, err)
	require.Nil(t, user.LastAcknowledgement)
}

func TestMalformedMessageIsDropped(t *testing.T) {
	dispatcher, _, queue, mailer := newDispatcherForTest(t)
	queue.messages = append(queue.messages, &external.QueueMessage{
		Body:          "not json",
		ReceiptHandle: "receipt-bad",
	})

	require.NoError(t, dispatcher.DrainQueue(context.Background()))

	require.Empty(t, mailer.sent)
	require.Equal(t, []string{"receipt-bad"}, queue.deleted)
}

func TestUnknownUserMessageIsDropped(t *testing.T) {
	dispatcher, _, queue, mailer := newDispatcherForTest(t)
	queue.messages = append(queue.messages, ackMessage("ghost"))

	require.NoError(t, dispatcher.DrainQueue(context.Background()))

	require.Empty(t, mailer.sent)
	require.Equal(t, []string{"receipt-ack"}, queue.deleted)
}

func TestAvailabilityEmailListsInProgressObjects(t *testing.T) {
	dispatcher, dao, queue, mailer := newDispatcherForTest(t)
	createUser(t, dao, "user-1", nil)
	now := time.Now().UTC()
	require.NoError(t, dao.AddObjectToBundle("b1", "done.zip", now))
	require.NoError(t, dao.AddObjectToBundle("b1", "pending.zip", now))
	require.NoError(t, dao.CreateObject(&db.Object{ObjectKey: "done.zip", RequestStatus: db.Available, BundleId: "b1"}))
	require.NoError(t, dao.CreateObject(&db.Object{ObjectKey: "pending.zip", RequestStatus: db.Retrieving, BundleId: "b1"}))
	queue.messages = append(queue.messages, availabilityMessage("user-1", "b1"))

	require.NoError(t, dispatcher.DrainQueue(context.Background()))

	require.Len(t, mailer.sent, 1)
	require.Contains(t, mailer.sent[0].body, "done.zip")
	require.Contains(t, mailer.sent[0].body, "pending.zip")
	require.Contains(t, mailer.sent[0].body, "Unsubscribe")
}
