package store

import (
	"fmt"
	"sync"
	"time"

	"github.com/subtally/subtally/internal/auth"
	"github.com/subtally/subtally/internal/models"
	"github.com/subtally/subtally/pkg/logger"
)

// SubscriptionStore maintains a client-local mirror of one user's
// subscription rows. It is populated wholesale by Load and mutated
// incrementally by change-feed events; direct mutating operations go to
// the repository only and reach local state via the feed echo.
type SubscriptionStore struct {
	logger *logger.Logger
	repo   models.Repository
	feed   models.ChangeFeed
	authp  auth.Provider

	// onChange is invoked after every applied change or reload so the
	// presentation layer can re-render.
	onChange func()

	mu            sync.RWMutex
	subscriptions []*models.Subscription
	showInactive  bool
	feedSub       models.FeedSubscription
	closed        bool
}

// NewSubscriptionStore creates a store bound to one auth session.
func NewSubscriptionStore(repo models.Repository, feed models.ChangeFeed, authp auth.Provider, logger *logger.Logger) *SubscriptionStore {
	return &SubscriptionStore{
		logger: logger,
		repo:   repo,
		feed:   feed,
		authp:  authp,
	}
}

// SetOnChange registers the re-render hook. Pass nil to clear it.
func (s *SubscriptionStore) SetOnChange(fn func()) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// Load replaces the local collection with the full ordered fetch for the
// current identity. On failure the previous state is retained.
func (s *SubscriptionStore) Load() error {
	user := s.authp.CurrentUser()
	if user == nil {
		return models.ErrNotAuthenticated
	}

	subs, err := s.repo.FetchAll(user.ID)
	if err != nil {
		s.logger.Error("Failed to load subscriptions ", "owner ", user.ID, " error ", err)
		return fmt.Errorf("failed to load subscriptions: %s", err)
	}

	s.mu.Lock()
	s.subscriptions = subs
	s.mu.Unlock()

	s.notifyChanged()
	return nil
}

// Watch attaches the store to the change feed for the current identity.
// An existing feed subscription is released first so that at most one is
// live per store.
func (s *SubscriptionStore) Watch() error {
	user := s.authp.CurrentUser()
	if user == nil {
		return models.ErrNotAuthenticated
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("store is closed")
	}
	// Release the previous subscription to prevent duplicate delivery.
	if s.feedSub != nil {
		s.feedSub.Unsubscribe()
		s.feedSub = nil
	}
	sub, events, err := s.feed.Subscribe(user.ID)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to subscribe to change feed: %s", err)
	}
	s.feedSub = sub
	s.mu.Unlock()

	go s.consume(events)
	return nil
}

// consume applies feed events one at a time, in arrival order.
func (s *SubscriptionStore) consume(events <-chan models.ChangeEvent) {
	for event := range events {
		s.ApplyChange(event)
	}
}

// Close releases the feed subscription and stops further event
// application. The store's last state remains readable.
func (s *SubscriptionStore) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.feedSub != nil {
		s.feedSub.Unsubscribe()
		s.feedSub = nil
	}
	s.mu.Unlock()
}

// ApplyChange reconciles one change event into the local collection.
//
// Insert events prepend the new record; an insert whose identifier is
// already present replaces the existing entry in place, so event
// redelivery cannot introduce duplicates. Update events replace in place
// and are dropped when the identifier is unknown. Delete events remove
// every matching entry and are a no-op when none match.
func (s *SubscriptionStore) ApplyChange(event models.ChangeEvent) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}

	switch event.Kind {
	case models.ChangeInsert:
		if event.Record == nil {
			s.mu.Unlock()
			return
		}
		if i := s.indexOf(event.Record.ID); i >= 0 {
			s.subscriptions[i] = event.Record
		} else {
			s.subscriptions = append([]*models.Subscription{event.Record}, s.subscriptions...)
		}
	case models.ChangeUpdate:
		if event.Record == nil {
			s.mu.Unlock()
			return
		}
		if i := s.indexOf(event.Record.ID); i >= 0 {
			s.subscriptions[i] = event.Record
		}
	case models.ChangeDelete:
		kept := s.subscriptions[:0]
		for _, sub := range s.subscriptions {
			if sub.ID != event.ID {
				kept = append(kept, sub)
			}
		}
		s.subscriptions = kept
	default:
		s.logger.Warn("Ignoring change event of unknown kind ", "kind ", event.Kind)
	}
	s.mu.Unlock()

	s.notifyChanged()
}

// indexOf returns the position of the identifier, or -1. Caller holds the lock.
func (s *SubscriptionStore) indexOf(id string) int {
	for i, sub := range s.subscriptions {
		if sub.ID == id {
			return i
		}
	}
	return -1
}

// Subscriptions returns a snapshot of the full collection.
func (s *SubscriptionStore) Subscriptions() []*models.Subscription {
	s.mu.RLock()
	defer s.mu.RUnlock()

	subs := make([]*models.Subscription, len(s.subscriptions))
	copy(subs, s.subscriptions)
	return subs
}

// DisplaySet returns the subset eligible for rendering: the full
// collection when showInactive is set, active records otherwise.
func (s *SubscriptionStore) DisplaySet() []*models.Subscription {
	s.mu.RLock()
	defer s.mu.RUnlock()

	subs := make([]*models.Subscription, 0, len(s.subscriptions))
	for _, sub := range s.subscriptions {
		if s.showInactive || sub.Active {
			subs = append(subs, sub)
		}
	}
	return subs
}

// ToggleShowInactive flips the display toggle and returns the new value.
// The toggle affects only the display set, never totals or backend state.
func (s *SubscriptionStore) ToggleShowInactive() bool {
	s.mu.Lock()
	s.showInactive = !s.showInactive
	val := s.showInactive
	s.mu.Unlock()

	s.notifyChanged()
	return val
}

// ShowInactive reports the current display toggle.
func (s *SubscriptionStore) ShowInactive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.showInactive
}

// ActiveCount returns the number of active subscriptions.
func (s *SubscriptionStore) ActiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, sub := range s.subscriptions {
		if sub.Active {
			count++
		}
	}
	return count
}

// Totals sums monthly and yearly cost equivalents over active
// subscriptions only.
func (s *SubscriptionStore) Totals() Totals {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var t Totals
	for _, sub := range s.subscriptions {
		if !sub.Active {
			continue
		}
		t.Monthly += MonthlyCost(sub.Cost, sub.BillingCycle)
		t.Yearly += YearlyCost(sub.Cost, sub.BillingCycle)
	}
	return t
}

// TotalsIn sums the active subscriptions' cost equivalents converted into
// a single base currency. Records whose currency has no known rate make
// the whole computation fail rather than silently skewing the sum.
func (s *SubscriptionStore) TotalsIn(conv Converter) (Totals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var t Totals
	for _, sub := range s.subscriptions {
		if !sub.Active {
			continue
		}
		monthly, err := conv.Convert(MonthlyCost(sub.Cost, sub.BillingCycle), sub.Currency)
		if err != nil {
			return Totals{}, fmt.Errorf("failed to convert %s: %s", sub.Name, err)
		}
		yearly, err := conv.Convert(YearlyCost(sub.Cost, sub.BillingCycle), sub.Currency)
		if err != nil {
			return Totals{}, fmt.Errorf("failed to convert %s: %s", sub.Name, err)
		}
		t.Monthly += monthly
		t.Yearly += yearly
	}
	return t, nil
}

// Create stamps ownership and timestamps and submits the subscription to
// the repository. Local state is not touched; the feed echo inserts it.
func (s *SubscriptionStore) Create(sub *models.Subscription) (*models.Subscription, error) {
	user := s.authp.CurrentUser()
	if user == nil {
		return nil, models.ErrNotAuthenticated
	}

	now := time.Now().Unix()
	sub.OwnerID = user.ID
	sub.CreatedAt = now
	sub.UpdatedAt = now

	stored, err := s.repo.Insert(sub)
	if err != nil {
		return nil, fmt.Errorf("failed to create subscription: %s", err)
	}
	return stored, nil
}

// Update submits a partial column patch, stamping a fresh update
// timestamp.
func (s *SubscriptionStore) Update(id string, fields map[string]interface{}) (*models.Subscription, error) {
	user := s.authp.CurrentUser()
	if user == nil {
		return nil, models.ErrNotAuthenticated
	}

	patch := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		patch[k] = v
	}
	patch["updated_at"] = time.Now().Unix()

	updated, err := s.repo.Update(id, user.ID, patch)
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Remove deletes the subscription from the repository.
func (s *SubscriptionStore) Remove(id string) error {
	user := s.authp.CurrentUser()
	if user == nil {
		return models.ErrNotAuthenticated
	}

	return s.repo.Delete(id, user.ID)
}

// ToggleActive inverts the active flag of a locally known subscription.
func (s *SubscriptionStore) ToggleActive(id string) (*models.Subscription, error) {
	s.mu.RLock()
	i := s.indexOf(id)
	var active bool
	if i >= 0 {
		active = s.subscriptions[i].Active
	}
	s.mu.RUnlock()

	if i < 0 {
		return nil, models.ErrNotFound
	}

	return s.Update(id, map[string]interface{}{"active": !active})
}

func (s *SubscriptionStore) notifyChanged() {
	s.mu.RLock()
	fn := s.onChange
	s.mu.RUnlock()

	if fn != nil {
		fn()
	}
}
