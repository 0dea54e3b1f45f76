package models

import (
	"time"
)

// RunStateID is the primary key of the singleton scheduler run state row
const RunStateID = 1

// GlobalConfigID is the primary key of the singleton global config row
const GlobalConfigID = 1

// SchedulerRunState is the durable run lock and daily counter
type SchedulerRunState struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	IsRunning      bool       `gorm:"default:false" json:"is_running"`
	LockOwner      string     `gorm:"size:64" json:"lock_owner"`
	LockedAt       *time.Time `json:"locked_at"`
	LeaseExpiresAt *time.Time `json:"lease_expires_at"`
	UploadsToday   int        `gorm:"default:0" json:"uploads_today"`
	CounterDate    string     `gorm:"size:10" json:"counter_date"` // YYYY-MM-DD in scheduler timezone
	LastRunAt      *time.Time `json:"last_run_at"`
	CurrentStatus  string     `json:"current_status"`
	Version        int64      `gorm:"default:0" json:"version"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// UploadsOn returns the counter value for the given local date.
// A counter stamped with an older date has rolled over and counts as zero.
func (s *SchedulerRunState) UploadsOn(date string) int {
	if s.CounterDate != date {
		return 0
	}
	return s.UploadsToday
}

// GlobalConfig holds the live scheduling defaults, editable at runtime
type GlobalConfig struct {
	ID                        uint        `gorm:"primaryKey" json:"id"`
	AutomationEnabled         bool        `json:"automation_enabled"`
	SchedulerTimezone         string      `gorm:"size:64;default:'UTC'" json:"scheduler_timezone"`
	DefaultSlotTimes          StringSlice `gorm:"type:json" json:"default_slot_times"`
	DefaultVisibility         Visibility  `gorm:"size:20;default:'public'" json:"default_visibility"`
	DefaultUploadsPerDay      int         `json:"default_uploads_per_day"`
	UnlistedPublishDelayHours int         `json:"unlisted_publish_delay_hours"`
	AIEnhancementEnabled      bool        `json:"ai_enhancement_enabled"`
	UpdatedAt                 time.Time   `gorm:"autoUpdateTime" json:"updated_at"`
}
