package models

import "time"

// IgnoreCondition is a sparse filter; empty fields match anything.
type IgnoreCondition struct {
	AlertName    string `json:"alertName,omitempty" yaml:"alertName"`
	ComponentID  string `json:"componentId,omitempty" yaml:"componentId"`
	CheckID      string `json:"checkId,omitempty" yaml:"checkId"`
	Description  string `json:"description,omitempty" yaml:"description"`
	CustomField1 string `json:"customField1,omitempty" yaml:"customField1"`
	CustomField2 string `json:"customField2,omitempty" yaml:"customField2"`
	CustomField3 string `json:"customField3,omitempty" yaml:"customField3"`
	CustomField4 string `json:"customField4,omitempty" yaml:"customField4"`
	CustomField5 string `json:"customField5,omitempty" yaml:"customField5"`
	State        string `json:"state,omitempty" yaml:"state"`
}

// AlertIgnoreRule suppresses matching transitions until it expires.
type AlertIgnoreRule struct {
	EnvironmentSubscriptionID string          `json:"environmentSubscriptionId" yaml:"environmentSubscriptionId"`
	Name                      string          `json:"name" yaml:"name"`
	CreationDate              time.Time       `json:"creationDate" yaml:"creationDate"`
	ExpirationDate            time.Time       `json:"expirationDate" yaml:"expirationDate"`
	IgnoreCondition           IgnoreCondition `json:"ignoreCondition" yaml:"ignoreCondition"`
}

// IsActive reports whether the rule has not expired at now.
func (r AlertIgnoreRule) IsActive(now time.Time) bool {
	return now.Before(r.ExpirationDate)
}

// NotificationRule decides which state changes are sent to whom.
type NotificationRule struct {
	ID                          string     `json:"id" yaml:"id"`
	EnvironmentSubscriptionID   string     `json:"environmentSubscriptionId" yaml:"environmentSubscriptionId"`
	Levels                      []NodeKind `json:"levels" yaml:"levels"`
	States                      []State    `json:"states" yaml:"states"`
	EmailAddresses              string     `json:"emailAddresses" yaml:"emailAddresses"`
	WebhookURL                  string     `json:"webhookUrl,omitempty" yaml:"webhookUrl"`
	TelegramChatID              int64      `json:"telegramChatId,omitempty" yaml:"telegramChatId"`
	IsActive                    bool       `json:"isActive" yaml:"isActive"`
	NotificationIntervalSeconds int        `json:"notificationIntervalSeconds" yaml:"notificationIntervalSeconds"`
}

// HasLevel reports whether the rule covers nodes of kind k.
func (r NotificationRule) HasLevel(k NodeKind) bool {
	for _, l := range r.Levels {
		if l == k {
			return true
		}
	}
	return false
}

// HasState reports whether the rule covers state s.
func (r NotificationRule) HasState(s State) bool {
	for _, st := range r.States {
		if st == s {
			return true
		}
	}
	return false
}

// Interval returns the debounce interval of the rule.
func (r NotificationRule) Interval() time.Duration {
	return time.Duration(r.NotificationIntervalSeconds) * time.Second
}

// StateIncreaseRule escalates a check that stays non-Ok for TriggerTimeSeconds.
type StateIncreaseRule struct {
	ID                        string `json:"id" yaml:"id"`
	EnvironmentSubscriptionID string `json:"environmentSubscriptionId" yaml:"environmentSubscriptionId"`
	CheckID                   string `json:"checkId" yaml:"checkId"`
	ComponentID               string `json:"componentId" yaml:"componentId"`
	AlertName                 string `json:"alertName,omitempty" yaml:"alertName"`
	TriggerTimeSeconds        int    `json:"triggerTimeSeconds" yaml:"triggerTimeSeconds"`
	IsActive                  bool   `json:"isActive" yaml:"isActive"`
}

// TriggerTime returns the dwell time after which the rule escalates.
func (r StateIncreaseRule) TriggerTime() time.Duration {
	return time.Duration(r.TriggerTimeSeconds) * time.Second
}
