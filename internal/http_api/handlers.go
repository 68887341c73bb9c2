package http_api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/subtally/subtally/internal/models"
	"github.com/subtally/subtally/pkg/validation"
)

// CreateSubscriptionRequest represents the JSON body for creating a subscription
type CreateSubscriptionRequest struct {
	Name          string  `json:"name" binding:"required"`
	Cost          float64 `json:"cost" binding:"gte=0"`
	Currency      string  `json:"currency" binding:"required"`
	BillingCycle  string  `json:"billing_cycle" binding:"required"`
	Category      string  `json:"category"`
	Description   string  `json:"description"`
	NextBillingAt int64   `json:"next_billing_at"`
}

// UpdateSubscriptionRequest represents the JSON body for a partial update.
// Only the fields present in the request are patched.
type UpdateSubscriptionRequest struct {
	Name          *string  `json:"name"`
	Cost          *float64 `json:"cost" binding:"omitempty,gte=0"`
	Currency      *string  `json:"currency"`
	BillingCycle  *string  `json:"billing_cycle"`
	Active        *bool    `json:"active"`
	Category      *string  `json:"category"`
	Description   *string  `json:"description"`
	NextBillingAt *int64   `json:"next_billing_at"`
}

// ProfileRequest represents the JSON body for the notification profile
type ProfileRequest struct {
	TelegramUsername string `json:"telegram_username"`
	Email            string `json:"email" binding:"omitempty,email"`
}

// SummaryResponse represents the derived cost aggregates
type SummaryResponse struct {
	ActiveCount  int     `json:"active_count"`
	TotalMonthly float64 `json:"total_monthly"`
	TotalYearly  float64 `json:"total_yearly"`
	// Converted totals are present only when a base currency conversion was
	// requested and available.
	BaseCurrency     string   `json:"base_currency,omitempty"`
	ConvertedMonthly *float64 `json:"converted_monthly,omitempty"`
	ConvertedYearly  *float64 `json:"converted_yearly,omitempty"`
}

// listSubscriptions is a handler for GET /subscriptions.
// It returns the display set of the caller's store.
func (s *HTTPServer) listSubscriptions(c *gin.Context) {
	st, err := s.storeFor(identity(c))
	if err != nil {
		s.logger.Error("Failed to open store ", "error ", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load subscriptions"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"subscriptions": st.DisplaySet(),
		"show_inactive": st.ShowInactive(),
	})
}

// createSubscription is a handler for POST /subscriptions.
func (s *HTTPServer) createSubscription(c *gin.Context) {
	var req CreateSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.logger.Debug("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid request body: " + err.Error(),
		})
		return
	}

	currency, err := validation.ValidateAndNormalizeCurrency(req.Currency)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	if err := validation.ValidateCycle(req.BillingCycle); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	st, err := s.storeFor(identity(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to open store"})
		return
	}

	sub, err := st.Create(&models.Subscription{
		Name:          req.Name,
		Cost:          req.Cost,
		Currency:      currency,
		BillingCycle:  models.NormalizeCycle(req.BillingCycle),
		Active:        true,
		Category:      req.Category,
		Description:   req.Description,
		NextBillingAt: req.NextBillingAt,
	})
	if err != nil {
		s.logger.Error("Failed to create subscription ", "error ", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to create subscription"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"success": true, "subscription": sub})
}

// updateSubscription is a handler for PUT /subscriptions/:id.
func (s *HTTPServer) updateSubscription(c *gin.Context) {
	var req UpdateSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.logger.Debug("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid request body: " + err.Error(),
		})
		return
	}

	fields := make(map[string]interface{})
	if req.Name != nil {
		fields["name"] = *req.Name
	}
	if req.Cost != nil {
		fields["cost"] = *req.Cost
	}
	if req.Currency != nil {
		currency, err := validation.ValidateAndNormalizeCurrency(*req.Currency)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
			return
		}
		fields["currency"] = currency
	}
	if req.BillingCycle != nil {
		if err := validation.ValidateCycle(*req.BillingCycle); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
			return
		}
		fields["billing_cycle"] = models.NormalizeCycle(*req.BillingCycle)
	}
	if req.Active != nil {
		fields["active"] = *req.Active
	}
	if req.Category != nil {
		fields["category"] = *req.Category
	}
	if req.Description != nil {
		fields["description"] = *req.Description
	}
	if req.NextBillingAt != nil {
		fields["next_billing_at"] = *req.NextBillingAt
	}
	if len(fields) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "no fields to update"})
		return
	}

	st, err := s.storeFor(identity(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to open store"})
		return
	}

	sub, err := st.Update(c.Param("id"), fields)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "subscription not found"})
			return
		}
		s.logger.Error("Failed to update subscription ", "error ", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to update subscription"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "subscription": sub})
}

// deleteSubscription is a handler for DELETE /subscriptions/:id.
func (s *HTTPServer) deleteSubscription(c *gin.Context) {
	st, err := s.storeFor(identity(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to open store"})
		return
	}

	if err := st.Remove(c.Param("id")); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "subscription not found"})
			return
		}
		s.logger.Error("Failed to delete subscription ", "error ", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to delete subscription"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// toggleSubscription is a handler for POST /subscriptions/:id/toggle.
// It inverts the active flag of a locally known subscription.
func (s *HTTPServer) toggleSubscription(c *gin.Context) {
	st, err := s.storeFor(identity(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to open store"})
		return
	}

	sub, err := st.ToggleActive(c.Param("id"))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "subscription not found"})
			return
		}
		s.logger.Error("Failed to toggle subscription ", "error ", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to toggle subscription"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "subscription": sub})
}

// summary is a handler for GET /summary. Totals cover active
// subscriptions only, regardless of the display toggle. When ?convert=true
// and a rate service is configured, totals converted into the base
// currency are included.
func (s *HTTPServer) summary(c *gin.Context) {
	st, err := s.storeFor(identity(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to open store"})
		return
	}

	totals := st.Totals()
	resp := SummaryResponse{
		ActiveCount:  st.ActiveCount(),
		TotalMonthly: totals.Monthly,
		TotalYearly:  totals.Yearly,
	}

	if c.Query("convert") == "true" && s.rates != nil {
		converted, err := st.TotalsIn(s.rates)
		if err != nil {
			s.logger.Warn("Failed to convert totals ", "error ", err)
		} else {
			resp.BaseCurrency = s.rates.Base()
			resp.ConvertedMonthly = &converted.Monthly
			resp.ConvertedYearly = &converted.Yearly
		}
	}

	c.JSON(http.StatusOK, resp)
}

// toggleDisplay is a handler for POST /display/toggle. It flips whether
// inactive subscriptions appear in the display set.
func (s *HTTPServer) toggleDisplay(c *gin.Context) {
	st, err := s.storeFor(identity(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to open store"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"show_inactive": st.ToggleShowInactive()})
}

// upsertProfile is a handler for PUT /profile.
func (s *HTTPServer) upsertProfile(c *gin.Context) {
	var req ProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.logger.Debug("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid request body: " + err.Error(),
		})
		return
	}

	// Require at least one notification method
	if req.TelegramUsername == "" && req.Email == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "At least one notification method (telegram or email) is required",
		})
		return
	}

	ident := identity(c)
	profile := &models.NotificationProfile{
		OwnerID:          ident.ID,
		TelegramUsername: req.TelegramUsername,
		Email:            req.Email,
	}

	// Keep the captured chat link as long as the telegram username is
	// unchanged. A new username has to be linked via /start again.
	current, err := s.repo.GetNotificationProfile(ident.ID)
	switch {
	case err == nil:
		if current.TelegramUsername == req.TelegramUsername {
			profile.TelegramChatID = current.TelegramChatID
		}
	case !errors.Is(err, models.ErrNotFound):
		s.logger.Error("Failed to read notification profile ", "error ", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to save profile"})
		return
	}

	if err := s.repo.UpsertNotificationProfile(profile); err != nil {
		s.logger.Error("Failed to upsert notification profile ", "error ", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to save profile"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// logout is a handler for DELETE /session. It tears down the caller's
// store and feed subscription.
func (s *HTTPServer) logout(c *gin.Context) {
	s.endSession(identity(c))
	c.JSON(http.StatusOK, gin.H{"success": true})
}
