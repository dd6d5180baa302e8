package model

import "time"

// ConsentRecord is the current-state projection of one consent id.
type ConsentRecord struct {
	ID             uint64     `json:"id"`
	Patient        string     `json:"patient"`
	Provider       string     `json:"provider"`
	DataTypes      []string   `json:"data_types"`
	Purposes       []string   `json:"purposes"`
	Timestamp      time.Time  `json:"timestamp"`
	ExpirationTime *time.Time `json:"expiration_time,omitempty"`
	IsActive       bool       `json:"is_active"`
	IsExpired      bool       `json:"is_expired"`
}

// ExpiredAt reports whether the record has an expiration time at or before now.
func (c *ConsentRecord) ExpiredAt(now time.Time) bool {
	return IsExpired(c.ExpirationTime, now)
}

// Current reports whether the record is active and not expired.
func (c *ConsentRecord) Current() bool {
	return c.IsActive && !c.IsExpired
}

// ConsentStatus answers "does patient P consent to provider R for data type D now?".
type ConsentStatus struct {
	HasConsent     bool       `json:"has_consent"`
	ConsentID      *uint64    `json:"consent_id"`
	IsExpired      bool       `json:"is_expired"`
	ExpirationTime *time.Time `json:"expiration_time"`
}

// IsExpired reports whether an optional expiration time is set and strictly
// in the past. A consent expiring exactly at now is still in force.
func IsExpired(exp *time.Time, now time.Time) bool {
	return exp != nil && exp.Before(now)
}
