package models

import "strings"

// Billing cycles recognised by cost normalization. Records may carry any
// string; unrecognised cycles are treated as monthly.
const (
	CycleMonthly = "monthly"
	CycleYearly  = "yearly"
	CycleWeekly  = "weekly"
	CycleOther   = "other"
)

// NormalizeCycle lowercases a billing cycle for comparison.
func NormalizeCycle(cycle string) string {
	return strings.ToLower(strings.TrimSpace(cycle))
}

// Subscription represents one tracked subscription row.
type Subscription struct {
	// ID is the unique identifier for the subscription, assigned by the
	// repository at insert time. Never generated by callers.
	ID string `json:"id" gorm:"column:id;primaryKey"`
	// OwnerID is the identity of the user the subscription belongs to.
	OwnerID string `json:"owner_id" gorm:"column:owner_id;index;not null"`
	// Name is the display name of the subscription (e.g. "Netflix").
	Name string `json:"name" gorm:"column:name;not null"`
	// Cost is the amount charged per billing cycle.
	Cost float64 `json:"cost" gorm:"column:cost"`
	// Currency is the ISO 4217 code of the cost.
	Currency string `json:"currency" gorm:"column:currency"`
	// BillingCycle is the recurrence period: monthly, yearly, weekly or other.
	BillingCycle string `json:"billing_cycle" gorm:"column:billing_cycle"`
	// Active indicates whether the subscription is currently in use.
	// Inactive subscriptions are kept but excluded from totals.
	Active bool `json:"active" gorm:"column:active;default:true"`
	// Category is an optional grouping label.
	Category string `json:"category" gorm:"column:category"`
	// Description is optional free text.
	Description string `json:"description" gorm:"column:description"`
	// NextBillingAt is the Unix timestamp of the next charge. Zero means unset.
	NextBillingAt int64 `json:"next_billing_at" gorm:"column:next_billing_at;index"`
	// RemindedFor is the NextBillingAt value a renewal reminder was last
	// sent for. Zero means no reminder has been sent.
	RemindedFor int64 `json:"reminded_for" gorm:"column:reminded_for"`
	// CreatedAt is the Unix timestamp when the subscription was created.
	CreatedAt int64 `json:"created_at" gorm:"column:created_at;index"`
	// UpdatedAt is the Unix timestamp of the last modification.
	UpdatedAt int64 `json:"updated_at" gorm:"column:updated_at"`
}

// NotificationProfile holds the contact points renewal reminders are
// delivered to for one owner.
type NotificationProfile struct {
	// OwnerID is the identity of the user the profile belongs to.
	OwnerID string `json:"owner_id" gorm:"column:owner_id;primaryKey"`
	// TelegramUsername is the username reminders are addressed to. The chat
	// ID is captured when the user messages the bot.
	TelegramUsername string `json:"telegram_username" gorm:"column:telegram_username;index"`
	// TelegramChatID is the chat the bot delivers to. Empty until captured.
	TelegramChatID string `json:"telegram_chat_id" gorm:"column:telegram_chat_id"`
	// Email is the address reminders are mailed to.
	Email string `json:"email" gorm:"column:email"`
}
