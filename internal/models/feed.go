package models

// FeedSubscription is one live attachment to the change feed. Unsubscribe
// stops delivery and closes the event channel; it is safe to call more
// than once.
type FeedSubscription interface {
	Unsubscribe()
}

// ChangeFeed delivers row-level change events filtered to one owner.
type ChangeFeed interface {
	Subscribe(ownerID string) (FeedSubscription, <-chan ChangeEvent, error)
}

// ChangePublisher is the producing side of the change feed. The repository
// publishes an event after every committed write.
type ChangePublisher interface {
	Publish(event ChangeEvent)
}
