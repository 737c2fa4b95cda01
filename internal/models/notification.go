package models

import (
	"time"
)

// Notification channels.
const (
	ChannelEmail    = "email"
	ChannelWebhook  = "webhook"
	ChannelTelegram = "telegram"
)

// Notification types.
const (
	TypeAlert    = "alert"
	TypeResolved = "resolved"
)

// Notification is a dispatch request handed to a transport provider.
type Notification struct {
	ID            string       `json:"id"`
	CreatedAt     time.Time    `json:"createdAt"`
	Type          string       `json:"type"`
	Channel       string       `json:"channel"`
	Recipients    []string     `json:"recipients,omitempty"`
	WebhookURL    string       `json:"-"`
	ChatID        int64        `json:"-"`
	Subject       string       `json:"subject"`
	Body          string       `json:"body"`
	RuleID        string       `json:"ruleId"`
	EnvironmentID string       `json:"environmentId"`
	ElementID     string       `json:"elementId"`
	Event         StateChanged `json:"event"`
}
