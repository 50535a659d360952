package model

import (
	"time"
)

// DeviceToken is a registered push-notification target.
type DeviceToken struct {
	UserID    string    `json:"user_id"`
	Token     string    `json:"token"`
	Platform  string    `json:"platform"`
	BundleID  string    `json:"bundle_id,omitempty"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
}

// RegisterTokenRequest registers or re-enables a device token.
type RegisterTokenRequest struct {
	Token    string `json:"token"`
	Platform string `json:"platform,omitempty"`
	BundleID string `json:"bundle_id,omitempty"`
}

// UnregisterTokenRequest disables a device token by value.
type UnregisterTokenRequest struct {
	Token string `json:"token"`
}

// CheckinPreference holds a user's daily check-in settings. Hour and
// Minute are nil when the user has not chosen a time; the scheduler
// falls back to its default.
type CheckinPreference struct {
	UserID       string `json:"user_id"`
	Enabled      bool   `json:"enabled"`
	Hour         *int   `json:"hour,omitempty"`
	Minute       *int   `json:"minute,omitempty"`
	Timezone     string `json:"timezone,omitempty"`
	LastSentDate string `json:"-"`
}

// SetCheckinRequest updates daily check-in settings.
type SetCheckinRequest struct {
	Enabled  bool   `json:"enabled"`
	Hour     *int   `json:"hour,omitempty"`
	Minute   *int   `json:"minute,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}
