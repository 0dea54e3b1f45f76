package models

import (
	"time"
)

// Mapping is a configured source -> destination route with its own schedule
type Mapping struct {
	ID                uint        `gorm:"primaryKey" json:"id"`
	Name              string      `gorm:"size:255" json:"name"`
	SourceChannelID   string      `gorm:"index" json:"source_channel_id"`
	SourceChannelURL  string      `gorm:"index" json:"source_channel_url"`
	TargetChannelID   string      `gorm:"not null" json:"target_channel_id"`
	IsActive          bool        `gorm:"index" json:"is_active"`
	UploadsPerDay     int         `json:"uploads_per_day"`
	SlotTimes         StringSlice `gorm:"type:json" json:"slot_times"` // ordered HH:MM
	DefaultVisibility *Visibility `gorm:"size:20" json:"default_visibility"`
	AIEnabled         *bool       `json:"ai_enabled"`
	PublishDelayHours *int        `json:"publish_delay_hours"`
	LastFetchedAt     *time.Time  `json:"last_fetched_at"`
	CreatedAt         time.Time   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time   `gorm:"autoUpdateTime" json:"updated_at"`
}

// SourceIdentities returns the non-empty identities (id, url) this mapping owns
func (m *Mapping) SourceIdentities() []string {
	ids := make([]string, 0, 2)
	if m.SourceChannelID != "" {
		ids = append(ids, m.SourceChannelID)
	}
	if m.SourceChannelURL != "" && m.SourceChannelURL != m.SourceChannelID {
		ids = append(ids, m.SourceChannelURL)
	}
	return ids
}

// UploadBehavior is the resolved per-item upload configuration
type UploadBehavior struct {
	Visibility        Visibility
	AIEnabled         bool
	PublishDelayHours int
}

// ResolveBehavior applies mapping overrides on top of the global config.
// A nil mapping (global pool) uses the global values unchanged.
func ResolveBehavior(m *Mapping, g *GlobalConfig) UploadBehavior {
	b := UploadBehavior{
		Visibility:        g.DefaultVisibility,
		AIEnabled:         g.AIEnhancementEnabled,
		PublishDelayHours: g.UnlistedPublishDelayHours,
	}
	if m == nil {
		return b
	}
	if m.DefaultVisibility != nil && m.DefaultVisibility.Valid() {
		b.Visibility = *m.DefaultVisibility
	}
	if m.AIEnabled != nil {
		b.AIEnabled = *m.AIEnabled
	}
	if m.PublishDelayHours != nil {
		b.PublishDelayHours = *m.PublishDelayHours
	}
	if !b.Visibility.Valid() {
		b.Visibility = VisibilityPublic
	}
	return b
}
