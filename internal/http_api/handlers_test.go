package http_api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/subtally/subtally/internal/auth"
	"github.com/subtally/subtally/internal/feed"
	"github.com/subtally/subtally/internal/models"
	"github.com/subtally/subtally/internal/store"
	"github.com/subtally/subtally/pkg/logger"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

// fakeRepo backs the API with an in-memory subscription table and echoes
// committed writes onto the change feed like the real repository does.
type fakeRepo struct {
	publisher models.ChangePublisher

	mu       sync.Mutex
	subs     []*models.Subscription
	profiles map[string]*models.NotificationProfile
}

func newAPIFakeRepo(publisher models.ChangePublisher) *fakeRepo {
	return &fakeRepo{
		publisher: publisher,
		profiles:  make(map[string]*models.NotificationProfile),
	}
}

func (r *fakeRepo) seed(sub *models.Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = append([]*models.Subscription{sub}, r.subs...)
}

func (r *fakeRepo) FetchAll(ownerID string) ([]*models.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Subscription
	for _, sub := range r.subs {
		if sub.OwnerID == ownerID {
			copied := *sub
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *fakeRepo) Insert(sub *models.Subscription) (*models.Subscription, error) {
	r.mu.Lock()
	stored := *sub
	stored.ID = uuid.NewString()
	r.subs = append([]*models.Subscription{&stored}, r.subs...)
	r.mu.Unlock()

	r.publisher.Publish(models.InsertEvent(&stored))
	result := stored
	return &result, nil
}

func (r *fakeRepo) Update(id, ownerID string, fields map[string]interface{}) (*models.Subscription, error) {
	r.mu.Lock()
	var stored *models.Subscription
	for _, sub := range r.subs {
		if sub.ID == id && sub.OwnerID == ownerID {
			stored = sub
			break
		}
	}
	if stored == nil {
		r.mu.Unlock()
		return nil, models.ErrNotFound
	}
	for column, value := range fields {
		switch column {
		case "name":
			stored.Name = value.(string)
		case "cost":
			stored.Cost = value.(float64)
		case "currency":
			stored.Currency = value.(string)
		case "billing_cycle":
			stored.BillingCycle = value.(string)
		case "active":
			stored.Active = value.(bool)
		case "category":
			stored.Category = value.(string)
		case "description":
			stored.Description = value.(string)
		case "next_billing_at":
			stored.NextBillingAt = value.(int64)
		case "updated_at":
			stored.UpdatedAt = value.(int64)
		}
	}
	updated := *stored
	r.mu.Unlock()

	r.publisher.Publish(models.UpdateEvent(&updated))
	return &updated, nil
}

func (r *fakeRepo) Delete(id, ownerID string) error {
	r.mu.Lock()
	kept := r.subs[:0]
	found := false
	for _, sub := range r.subs {
		if sub.ID == id && sub.OwnerID == ownerID {
			found = true
			continue
		}
		kept = append(kept, sub)
	}
	r.subs = kept
	r.mu.Unlock()

	if !found {
		return models.ErrNotFound
	}
	r.publisher.Publish(models.DeleteEvent(ownerID, id))
	return nil
}

func (r *fakeRepo) GetNotificationProfile(ownerID string) (*models.NotificationProfile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	profile, ok := r.profiles[ownerID]
	if !ok {
		return nil, models.ErrNotFound
	}
	return profile, nil
}

func (r *fakeRepo) UpsertNotificationProfile(profile *models.NotificationProfile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles[profile.OwnerID] = profile
	return nil
}

func (r *fakeRepo) SetTelegramChatID(username, chatID string) error { return nil }
func (r *fakeRepo) GetProfileByTelegramUsername(username string) (*models.NotificationProfile, error) {
	return nil, models.ErrNotFound
}
func (r *fakeRepo) ListDueReminders(now, until int64) ([]*models.Subscription, error) {
	return nil, nil
}
func (r *fakeRepo) MarkReminded(id string, billingAt int64) error { return nil }
func (r *fakeRepo) AcquireLock(name, instanceID string, ttlSeconds int64) (bool, error) {
	return true, nil
}
func (r *fakeRepo) ReleaseLock(name, instanceID string) error { return nil }
func (r *fakeRepo) Close() error                              { return nil }

type testAPI struct {
	server  *HTTPServer
	repo    *fakeRepo
	manager *store.Manager
	token   string
	owner   string
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := logger.NewNopLogger()
	broker := feed.NewBroker(log)
	repo := newAPIFakeRepo(broker)
	manager := store.NewManager(repo, broker, log)
	t.Cleanup(manager.Close)

	server := NewHTTPServer(manager, repo, nil, testSecret, 0, log)

	owner := "user-1"
	token, err := auth.IssueToken(&auth.Identity{ID: owner, Email: "user@example.com"}, testSecret, time.Hour)
	require.NoError(t, err)

	return &testAPI{server: server, repo: repo, manager: manager, token: token, owner: owner}
}

func (a *testAPI) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.token)

	w := httptest.NewRecorder()
	a.server.router.ServeHTTP(w, req)
	return w
}

// waitForCollection polls the owner's store until it holds the expected
// number of subscriptions, since feed echoes apply asynchronously.
func (a *testAPI) waitForCollection(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		st := a.manager.StoreFor(a.owner)
		return st != nil && len(st.Subscriptions()) == n
	}, 2*time.Second, 5*time.Millisecond)
}

func TestRequestsRequireToken(t *testing.T) {
	api := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/subscriptions", nil)
	w := httptest.NewRecorder()
	api.server.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/subscriptions", nil)
	req.Header.Set("Authorization", "Bearer not.a.token")
	w = httptest.NewRecorder()
	api.server.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreateAndListSubscription(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(t, http.MethodPost, "/api/v1/subscriptions", gin.H{
		"name":          "Netflix",
		"cost":          15.49,
		"currency":      "usd",
		"billing_cycle": "Monthly",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var created struct {
		Success      bool                 `json:"success"`
		Subscription *models.Subscription `json:"subscription"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	require.True(t, created.Success)
	require.NotEmpty(t, created.Subscription.ID)
	require.Equal(t, "USD", created.Subscription.Currency)
	require.Equal(t, models.CycleMonthly, created.Subscription.BillingCycle)
	require.True(t, created.Subscription.Active)

	api.waitForCollection(t, 1)

	w = api.do(t, http.MethodGet, "/api/v1/subscriptions", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var listed struct {
		Subscriptions []*models.Subscription `json:"subscriptions"`
		ShowInactive  bool                   `json:"show_inactive"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listed))
	require.Len(t, listed.Subscriptions, 1)
	require.Equal(t, "Netflix", listed.Subscriptions[0].Name)
	require.False(t, listed.ShowInactive)
}

func TestCreateRejectsInvalidInput(t *testing.T) {
	api := newTestAPI(t)

	tests := []struct {
		name string
		body gin.H
	}{
		{name: "missing name", body: gin.H{"cost": 1.0, "currency": "USD", "billing_cycle": "monthly"}},
		{name: "bad currency", body: gin.H{"name": "x", "cost": 1.0, "currency": "USDT", "billing_cycle": "monthly"}},
		{name: "bad cycle", body: gin.H{"name": "x", "cost": 1.0, "currency": "USD", "billing_cycle": "fortnightly"}},
		{name: "negative cost", body: gin.H{"name": "x", "cost": -1.0, "currency": "USD", "billing_cycle": "monthly"}},
	}

	for i, test := range tests {
		w := api.do(t, http.MethodPost, "/api/v1/subscriptions", test.body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("did not get expected status for test no. %d (%s), \ngot: %d, \nwant: %d", i, test.name, w.Code, http.StatusBadRequest)
		}
	}
}

func TestUpdateSubscription(t *testing.T) {
	api := newTestAPI(t)
	api.repo.seed(&models.Subscription{
		ID: "sub-1", OwnerID: api.owner, Name: "Netflix", Cost: 15.49,
		Currency: "USD", BillingCycle: models.CycleMonthly, Active: true,
	})

	w := api.do(t, http.MethodPut, "/api/v1/subscriptions/sub-1", gin.H{"cost": 17.99})
	require.Equal(t, http.StatusOK, w.Code)

	var updated struct {
		Subscription *models.Subscription `json:"subscription"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &updated))
	require.InDelta(t, 17.99, updated.Subscription.Cost, 1e-9)
}

func TestUpdateUnknownSubscription(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(t, http.MethodPut, "/api/v1/subscriptions/missing", gin.H{"cost": 1.0})
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestUpdateRequiresFields(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(t, http.MethodPut, "/api/v1/subscriptions/sub-1", gin.H{})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeleteSubscription(t *testing.T) {
	api := newTestAPI(t)
	api.repo.seed(&models.Subscription{
		ID: "sub-1", OwnerID: api.owner, Name: "Netflix", Active: true,
	})

	w := api.do(t, http.MethodDelete, "/api/v1/subscriptions/sub-1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	api.waitForCollection(t, 0)

	w = api.do(t, http.MethodDelete, "/api/v1/subscriptions/sub-1", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestToggleSubscription(t *testing.T) {
	api := newTestAPI(t)
	api.repo.seed(&models.Subscription{
		ID: "sub-1", OwnerID: api.owner, Name: "Netflix", Active: true,
	})

	w := api.do(t, http.MethodPost, "/api/v1/subscriptions/sub-1/toggle", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var toggled struct {
		Subscription *models.Subscription `json:"subscription"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &toggled))
	require.False(t, toggled.Subscription.Active)
}

func TestSummary(t *testing.T) {
	api := newTestAPI(t)
	api.repo.seed(&models.Subscription{
		ID: "sub-1", OwnerID: api.owner, Name: "Spotify", Cost: 12,
		Currency: "USD", BillingCycle: models.CycleYearly, Active: true,
	})
	api.repo.seed(&models.Subscription{
		ID: "sub-2", OwnerID: api.owner, Name: "Gym", Cost: 999,
		Currency: "USD", BillingCycle: models.CycleMonthly, Active: false,
	})

	w := api.do(t, http.MethodGet, "/api/v1/summary", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp SummaryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.ActiveCount)
	require.InDelta(t, 1.0, resp.TotalMonthly, 1e-9)
	require.InDelta(t, 12.0, resp.TotalYearly, 1e-9)
	require.Nil(t, resp.ConvertedMonthly)
}

func TestToggleDisplay(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(t, http.MethodPost, "/api/v1/display/toggle", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		ShowInactive bool `json:"show_inactive"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.True(t, resp.ShowInactive)

	w = api.do(t, http.MethodPost, "/api/v1/display/toggle", nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.False(t, resp.ShowInactive)
}

func TestUpsertProfile(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(t, http.MethodPut, "/api/v1/profile", gin.H{"email": "user@example.com"})
	require.Equal(t, http.StatusOK, w.Code)

	profile, err := api.repo.GetNotificationProfile(api.owner)
	require.NoError(t, err)
	require.Equal(t, "user@example.com", profile.Email)

	w = api.do(t, http.MethodPut, "/api/v1/profile", gin.H{})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

// TestUpsertProfileKeepsChatLink verifies editing the profile does not
// destroy a captured telegram chat link unless the username changed.
func TestUpsertProfileKeepsChatLink(t *testing.T) {
	api := newTestAPI(t)
	require.NoError(t, api.repo.UpsertNotificationProfile(&models.NotificationProfile{
		OwnerID:          api.owner,
		TelegramUsername: "alice",
		TelegramChatID:   "chat-42",
	}))

	w := api.do(t, http.MethodPut, "/api/v1/profile", gin.H{
		"telegram_username": "alice",
		"email":             "user@example.com",
	})
	require.Equal(t, http.StatusOK, w.Code)

	profile, err := api.repo.GetNotificationProfile(api.owner)
	require.NoError(t, err)
	require.Equal(t, "chat-42", profile.TelegramChatID)
	require.Equal(t, "user@example.com", profile.Email)

	w = api.do(t, http.MethodPut, "/api/v1/profile", gin.H{"telegram_username": "bob"})
	require.Equal(t, http.StatusOK, w.Code)

	profile, err = api.repo.GetNotificationProfile(api.owner)
	require.NoError(t, err)
	require.Empty(t, profile.TelegramChatID, "a new username must be linked again")
}

func TestLogoutTearsDownStore(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(t, http.MethodGet, "/api/v1/subscriptions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, api.manager.StoreFor(api.owner))

	w = api.do(t, http.MethodDelete, "/api/v1/session", nil)
	require.Equal(t, http.StatusOK, w.Code)

	require.Eventually(t, func() bool {
		return api.manager.StoreFor(api.owner) == nil
	}, 2*time.Second, 5*time.Millisecond)
}
