package models

type Repository interface {
	// FetchAll returns every subscription belonging to the owner, ordered by
	// creation time descending (newest first).
	FetchAll(ownerID string) ([]*Subscription, error)
	// Insert stores a new subscription, assigning its identifier, and
	// returns the stored row.
	Insert(sub *Subscription) (*Subscription, error)
	// Update applies a partial column patch to the owner's subscription and
	// returns the updated row.
	Update(id, ownerID string, fields map[string]interface{}) (*Subscription, error)
	// Delete removes the owner's subscription.
	Delete(id, ownerID string) error

	GetNotificationProfile(ownerID string) (*NotificationProfile, error)
	UpsertNotificationProfile(profile *NotificationProfile) error
	SetTelegramChatID(username, chatID string) error
	GetProfileByTelegramUsername(username string) (*NotificationProfile, error)

	// ListDueReminders returns active subscriptions whose next billing falls
	// in (now, until] and which have not been reminded for that date yet.
	ListDueReminders(now, until int64) ([]*Subscription, error)
	// MarkReminded records that a reminder was sent for the given billing date.
	MarkReminded(id string, billingAt int64) error

	// AcquireLock takes the named app lock for ttlSeconds. Returns false if
	// another instance holds a live lock.
	AcquireLock(name, instanceID string, ttlSeconds int64) (bool, error)
	ReleaseLock(name, instanceID string) error

	Close() error
}
