package notifier

import (
	"fmt"
	"runtime/debug"
	"time"

	"github.com/subtally/subtally/internal/models"
	"github.com/subtally/subtally/pkg/logger"
)

const (
	// sweepLockName is the app lock guarding the reminder sweep so only one
	// instance sends reminders in HA mode.
	sweepLockName = "reminder-sweep"
)

// TelegramSender delivers a message to a linked telegram chat.
type TelegramSender interface {
	SendNotification(chatID, message string) error
}

// EmailSender delivers a message to an email address.
type EmailSender interface {
	SendNotification(to, message string) error
}

// Notifier periodically sweeps for subscriptions whose next billing date
// falls inside the reminder window and delivers a renewal reminder over
// the owner's configured channels.
type Notifier struct {
	logger *logger.Logger
	repo   models.Repository

	telegram TelegramSender
	email    EmailSender

	instanceID string
	interval   time.Duration
	window     time.Duration

	stop chan struct{}
	done chan struct{}
}

func NewNotifier(repo models.Repository, telegram TelegramSender, email EmailSender, instanceID string, interval, window time.Duration, logger *logger.Logger) *Notifier {
	return &Notifier{
		logger:     logger,
		repo:       repo,
		telegram:   telegram,
		email:      email,
		instanceID: instanceID,
		interval:   interval,
		window:     window,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start runs the sweep loop in a goroutine until Stop is called.
func (n *Notifier) Start() {
	go func() {
		defer close(n.done)

		ticker := time.NewTicker(n.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				n.Sweep(time.Now())
			case <-n.stop:
				return
			}
		}
	}()
}

// Stop halts the sweep loop and waits for a running sweep to finish.
func (n *Notifier) Stop() {
	close(n.stop)
	<-n.done
}

// Sweep sends reminders for every due subscription. The sweep is skipped
// when another instance holds the sweep lock.
func (n *Notifier) Sweep(now time.Time) {
	ttl := int64(n.interval.Seconds())
	acquired, err := n.repo.AcquireLock(sweepLockName, n.instanceID, ttl)
	if err != nil {
		n.logger.Error("Failed to acquire sweep lock ", "error ", err)
		return
	}
	if !acquired {
		n.logger.Debug("Sweep lock held by another instance, skipping")
		return
	}
	defer func() {
		if err := n.repo.ReleaseLock(sweepLockName, n.instanceID); err != nil {
			n.logger.Error("Failed to release sweep lock ", "error ", err)
		}
	}()

	due, err := n.repo.ListDueReminders(now.Unix(), now.Add(n.window).Unix())
	if err != nil {
		n.logger.Error("Failed to list due reminders ", "error ", err)
		return
	}

	for _, sub := range due {
		n.remind(sub)
	}
}

func (n *Notifier) remind(sub *models.Subscription) {
	profile, err := n.repo.GetNotificationProfile(sub.OwnerID)
	if err != nil {
		n.logger.Error("Failed to get notification profile ", "owner ", sub.OwnerID, " error ", err)
		return
	}

	message := ReminderMessage(sub)
	delivered := false

	if n.telegram != nil && profile.TelegramChatID != "" {
		chatID := profile.TelegramChatID
		n.safeCall(func() {
			if err := n.telegram.SendNotification(chatID, message); err != nil {
				n.logger.Error("Failed to send telegram reminder ", "owner ", sub.OwnerID, " error ", err)
				return
			}
			delivered = true
		}, "telegramReminder")
	}
	if n.email != nil && profile.Email != "" {
		email := profile.Email
		n.safeCall(func() {
			if err := n.email.SendNotification(email, message); err != nil {
				n.logger.Error("Failed to send email reminder ", "owner ", sub.OwnerID, " error ", err)
				return
			}
			delivered = true
		}, "emailReminder")
	}

	// A failed or unconfigured delivery leaves the row due so the next
	// sweep retries.
	if !delivered {
		n.logger.Debug("Reminder not delivered ", "owner ", sub.OwnerID)
		return
	}

	if err := n.repo.MarkReminded(sub.ID, sub.NextBillingAt); err != nil {
		n.logger.Error("Failed to mark subscription reminded ", "id ", sub.ID, " error ", err)
	}
}

// safeCall runs a function with panic recovery (synchronous, no goroutine spawning)
func (n *Notifier) safeCall(fn func(), context string) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error("Function panicked",
				"context", context,
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()
	fn()
}

// ReminderMessage renders the reminder text for one subscription.
func ReminderMessage(sub *models.Subscription) string {
	when := time.Unix(sub.NextBillingAt, 0).UTC().Format("2 Jan 2006")
	return fmt.Sprintf("Upcoming renewal: %s bills %.2f %s (%s) on %s",
		sub.Name, sub.Cost, sub.Currency, models.NormalizeCycle(sub.BillingCycle), when)
}
