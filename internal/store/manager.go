package store

import (
	"sync"

	"github.com/subtally/subtally/internal/auth"
	"github.com/subtally/subtally/internal/models"
	"github.com/subtally/subtally/pkg/logger"
)

// Manager hands out one SubscriptionStore per identity and tears stores
// down when their session ends or switches to a different user.
type Manager struct {
	logger *logger.Logger
	repo   models.Repository
	feed   models.ChangeFeed

	mu     sync.Mutex
	stores map[string]*SubscriptionStore
}

func NewManager(repo models.Repository, feed models.ChangeFeed, logger *logger.Logger) *Manager {
	return &Manager{
		logger: logger,
		repo:   repo,
		feed:   feed,
		stores: make(map[string]*SubscriptionStore),
	}
}

// Open returns the store for the session's identity, creating, loading and
// attaching it to the change feed on first use. A goroutine watches the
// session and releases the store on sign-out or identity switch.
func (m *Manager) Open(session *auth.Session) (*SubscriptionStore, error) {
	user := session.CurrentUser()
	if user == nil {
		return nil, models.ErrNotAuthenticated
	}

	m.mu.Lock()
	if s, ok := m.stores[user.ID]; ok {
		m.mu.Unlock()
		return s, nil
	}
	m.mu.Unlock()

	// Initialize outside the lock; only a loaded, watching store is
	// published.
	s := NewSubscriptionStore(m.repo, m.feed, session, m.logger)
	if err := s.Load(); err != nil {
		return nil, err
	}
	if err := s.Watch(); err != nil {
		s.Close()
		return nil, err
	}

	m.mu.Lock()
	if existing, ok := m.stores[user.ID]; ok {
		m.mu.Unlock()
		s.Close()
		return existing, nil
	}
	m.stores[user.ID] = s
	m.mu.Unlock()

	go m.watchSession(session, user.ID)
	return s, nil
}

// StoreFor returns the live store for an identity, or nil.
func (m *Manager) StoreFor(userID string) *SubscriptionStore {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stores[userID]
}

// Release closes and forgets the store of the given identity.
func (m *Manager) Release(userID string) {
	m.mu.Lock()
	s, ok := m.stores[userID]
	if ok {
		delete(m.stores, userID)
	}
	m.mu.Unlock()

	if ok {
		s.Close()
		m.logger.Debug("Released subscription store ", "owner ", userID)
	}
}

// Close releases every store.
func (m *Manager) Close() {
	m.mu.Lock()
	stores := m.stores
	m.stores = make(map[string]*SubscriptionStore)
	m.mu.Unlock()

	for _, s := range stores {
		s.Close()
	}
}

// watchSession releases the identity's store as soon as the session no
// longer belongs to it.
func (m *Manager) watchSession(session *auth.Session, userID string) {
	for ident := range session.Changes() {
		if ident == nil || ident.ID != userID {
			m.Release(userID)
			return
		}
	}
	m.Release(userID)
}
