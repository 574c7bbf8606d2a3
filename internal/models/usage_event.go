package models

import "time"

// Represents one tool invocation
type UsageEvent struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	Tool           string    `gorm:"index;size:64" json:"tool"`
	UID            string    `gorm:"index:idx_usage_uid_ts;size:128" json:"uid"`
	Timestamp      time.Time `gorm:"index:idx_usage_uid_ts" json:"timestamp"`
	Date           string    `gorm:"index;size:10" json:"date"`
	Success        bool      `json:"success"`
	ErrorCode      string    `gorm:"size:64" json:"error_code,omitempty"`
	TokensUsed     int       `json:"tokens_used"`
	ResponseTimeMs int       `json:"response_time_ms"`
	Retries        int       `json:"retries"`
	Fallback       bool      `json:"fallback"`
}

func (UsageEvent) TableName() string {
	return "usage_events"
}
