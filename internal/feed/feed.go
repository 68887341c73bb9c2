package feed

import (
	"fmt"
	"sync"

	"github.com/subtally/subtally/internal/models"
	"github.com/subtally/subtally/pkg/logger"
)

const (
	// ChangeChannelBuffer is the buffer size of a subscriber's event channel.
	// Sized to absorb a burst of writes while the consumer is rendering.
	ChangeChannelBuffer = 32
)

// Broker is an in-process change feed. The repository publishes a change
// event after every committed write; subscribers receive only the events
// of the owner they subscribed for.
type Broker struct {
	logger *logger.Logger

	mu     sync.RWMutex
	nextID int
	subs   map[string]map[int]*subscription
}

type subscription struct {
	broker  *Broker
	ownerID string
	id      int
	ch      chan models.ChangeEvent
	once    sync.Once
}

// Unsubscribe detaches the subscription from the broker and closes its
// channel. Events published after Unsubscribe returns are not delivered.
func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		s.broker.remove(s)
		close(s.ch)
	})
}

// NewBroker creates an empty change feed broker.
func NewBroker(logger *logger.Logger) *Broker {
	return &Broker{
		logger: logger,
		subs:   make(map[string]map[int]*subscription),
	}
}

// Subscribe attaches a new subscriber for the given owner and returns the
// subscription handle together with its receive channel.
func (b *Broker) Subscribe(ownerID string) (models.FeedSubscription, <-chan models.ChangeEvent, error) {
	if ownerID == "" {
		return nil, nil, fmt.Errorf("cannot subscribe without an owner")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &subscription{
		broker:  b,
		ownerID: ownerID,
		id:      b.nextID,
		ch:      make(chan models.ChangeEvent, ChangeChannelBuffer),
	}

	owned := b.subs[ownerID]
	if owned == nil {
		owned = make(map[int]*subscription)
		b.subs[ownerID] = owned
	}
	owned[sub.id] = sub

	return sub, sub.ch, nil
}

// Publish delivers the event to every subscriber of the event's owner.
// A subscriber whose buffer is full has the event dropped.
func (b *Broker) Publish(event models.ChangeEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs[event.OwnerID] {
		select {
		case sub.ch <- event:
		default:
			b.logger.Warn("Dropping change event for slow subscriber ", "owner ", event.OwnerID, " kind ", event.Kind.String())
		}
	}
}

func (b *Broker) remove(sub *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	owned := b.subs[sub.ownerID]
	if owned == nil {
		return
	}
	delete(owned, sub.id)
	if len(owned) == 0 {
		delete(b.subs, sub.ownerID)
	}
}
