package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/asfadmin/grfn-distribution/config"
	"github.com/asfadmin/grfn-distribution/db"
	"github.com/asfadmin/grfn-distribution/external"
	"github.com/asfadmin/grfn-distribution/logging"
	"github.com/asfadmin/grfn-distribution/metrics"
	"github.com/asfadmin/grfn-distribution/types"
)

const (
	outcomeSent      = "sent"
	outcomeDropped   = "dropped"
	outcomeMalformed = "malformed"

	// minReceiveBudget is the wall-clock room a drain pass must have left to
	// issue another receive call.
	minReceiveBudget = 5 * time.Second
)

// Dispatcher consumes notification messages from the queue and delivers them
// by email, throttling acknowledgements per user. Messages are deleted only
// after successful processing; any failure leaves the message for the
// queue's own redelivery.
type Dispatcher struct {
	dao      db.RestoreDao
	queue    external.QueueClient
	mailer   external.MailClient
	renderer Renderer
	config   *config.NotifierConfig
}

func NewDispatcher(dao db.RestoreDao, queue external.QueueClient, mailer external.MailClient, renderer Renderer, cfg *config.NotifierConfig) *Dispatcher {
	return &Dispatcher{
		dao:      dao,
		queue:    queue,
		mailer:   mailer,
		renderer: renderer,
		config:   cfg,
	}
}

func (d *Dispatcher) StartLoop() {
	interval := d.config.DispatchIntervalInSeconds
	if interval <= 0 {
		interval = 1
	}
	dispatchTicker := time.NewTicker(time.Duration(interval) * time.Second)
	for range dispatchTicker.C {
		ctx := context.Background()
		cancel := func() {}
		if d.config.TimeBudgetInSeconds > 0 {
			ctx, cancel = context.WithTimeout(ctx, time.Duration(d.config.TimeBudgetInSeconds)*time.Second)
		}
		if err := d.DrainQueue(ctx); err != nil {
			logging.Logger.Errorf("queue drain failed, err=%s", err.Error())
		}
		cancel()
	}
}

// DrainQueue runs the receive-process-acknowledge loop until the queue is
// empty or the wall-clock budget no longer covers another receive.
func (d *Dispatcher) DrainQueue(ctx context.Context) error {
	for {
		if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < minReceiveBudget {
			logging.Logger.Info("time budget exhausted, deferring remaining messages to the next run")
			return nil
		}
		message, err := d.queue.ReceiveMessage(ctx)
		if err != nil {
			return err
		}
		if message == nil {
			return nil
		}
		if err := d.ProcessMessage(ctx, message); err != nil {
			// leave the message un-acknowledged for redelivery
			logging.Logger.Errorf("failed to process message, err=%s", err.Error())
		}
	}
}

func (d *Dispatcher) ProcessMessage(ctx context.Context, message *external.QueueMessage) error {
	var email types.EmailMessage
	if err := json.Unmarshal([]byte(message.Body), &email); err != nil {
		logging.Logger.Warningf("could not parse message body %q, dropping", message.Body)
		metrics.NotificationsCounter.WithLabelValues("unknown", outcomeMalformed).Inc()
		return d.queue.DeleteMessage(ctx, message.ReceiptHandle)
	}

	user, err := d.dao.GetUser(email.UserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			logging.Logger.Warningf("message for unknown user, user_id=%s, dropping", email.UserID)
			metrics.NotificationsCounter.WithLabelValues(email.Type, outcomeMalformed).Inc()
			return d.queue.DeleteMessage(ctx, message.ReceiptHandle)
		}
		return err
	}
	if !user.SubscribedToEmails {
		metrics.NotificationsCounter.WithLabelValues(email.Type, outcomeDropped).Inc()
		return d.queue.DeleteMessage(ctx, message.ReceiptHandle)
	}

	switch email.Type {
	case types.MessageTypeAcknowledgement:
		return d.processAcknowledgement(ctx, user, message)
	case types.MessageTypeAvailability:
		return d.processAvailability(ctx, user, email.BundleID, message)
	default:
		logging.Logger.Warningf("unknown message type %q, dropping", email.Type)
		metrics.NotificationsCounter.WithLabelValues(email.Type, outcomeMalformed).Inc()
		return d.queue.DeleteMessage(ctx, message.ReceiptHandle)
	}
}

// processAcknowledgement sends at most one acknowledgement per user per
// cooldown window. Messages inside the window are dropped, not retried, and
// the acknowledgement timestamp is left untouched.
func (d *Dispatcher) processAcknowledgement(ctx context.Context, user *db.User, message *external.QueueMessage) error {
	cooldown := time.Duration(d.config.AckCooldownInMinutes) * time.Minute
	if cooldown <= 0 {
		cooldown = time.Duration(config.DefaultAckCooldownInMinutes) * time.Minute
	}
	if user.LastAcknowledgement != nil && time.Since(*user.LastAcknowledgement) < cooldown {
		metrics.NotificationsCounter.WithLabelValues(types.MessageTypeAcknowledgement, outcomeDropped).Inc()
		return d.queue.DeleteMessage(ctx, message.ReceiptHandle)
	}

	subject, body, err := d.renderer.RenderAcknowledgement(&AcknowledgementEmail{
		UnsubscribeURL: d.config.UnsubscribeURL,
	})
	if err != nil {
		return err
	}
	if err = d.mailer.SendEmail(ctx, user.EmailAddress, subject, body); err != nil {
		return err
	}
	if err = d.dao.UpdateLastAcknowledgement(user.UserId, time.Now().UTC()); err != nil {
		return err
	}
	metrics.NotificationsCounter.WithLabelValues(types.MessageTypeAcknowledgement, outcomeSent).Inc()
	logging.Logger.Infof("sent acknowledgement, user_id=%s", user.UserId)
	return d.queue.DeleteMessage(ctx, message.ReceiptHandle)
}

// processAvailability delivers the once-per-bundle completion email. It is
// exempt from the acknowledgement cooldown.
func (d *Dispatcher) processAvailability(ctx context.Context, user *db.User, bundleId string, message *external.QueueMessage) error {
	data, err := d.buildAvailabilityEmail(bundleId)
	if err != nil {
		return err
	}
	subject, body, err := d.renderer.RenderAvailability(data)
	if err != nil {
		return err
	}
	if err = d.mailer.SendEmail(ctx, user.EmailAddress, subject, body); err != nil {
		return err
	}
	metrics.NotificationsCounter.WithLabelValues(types.MessageTypeAvailability, outcomeSent).Inc()
	logging.Logger.Infof("sent availability notification, user_id=%s, bundle_id=%s", user.UserId, bundleId)
	return d.queue.DeleteMessage(ctx, message.ReceiptHandle)
}

func (d *Dispatcher) buildAvailabilityEmail(bundleId string) (*AvailabilityEmail, error) {
	members, err := d.dao.GetBundleObjects(bundleId)
	if err != nil {
		return nil, err
	}
	data := &AvailabilityEmail{
		UnsubscribeURL: d.config.UnsubscribeURL,
	}
	for _, member := range members {
		object, err := d.dao.GetObject(member.ObjectKey)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				logging.Logger.Warningf("bundle references unknown object, bundle_id=%s, object_key=%s", bundleId, member.ObjectKey)
				continue
			}
			return nil, err
		}
		if object.RequestStatus == db.Available {
			data.Available = append(data.Available, ObjectLink{
				ObjectKey: object.ObjectKey,
				URL:       fmt.Sprintf(d.config.DownloadPath, object.ObjectKey),
			})
		} else {
			data.InProgress = append(data.InProgress, object.ObjectKey)
		}
	}
	return data, nil
}
