package models

import "time"

// Activity actions
const (
	ActionClaim    = "claim"
	ActionDownload = "download"
	ActionValidate = "validate"
	ActionEnhance  = "enhance"
	ActionUpload   = "upload"
	ActionPublish  = "publish"
	ActionRetry    = "retry"
	ActionCleanup  = "cleanup"
)

// ActivityLog is an append-only record of pipeline transitions
type ActivityLog struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	ContentItemID *uint     `gorm:"index" json:"content_item_id"`
	MappingID     *uint     `gorm:"index" json:"mapping_id"`
	Action        string    `gorm:"size:32" json:"action"`
	Status        string    `gorm:"size:20" json:"status"`
	Message       string    `gorm:"type:text" json:"message"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}
