package models

import (
	"errors"
	"fmt"
	"time"
)

// ContentStatus represents the pipeline state of a content item
type ContentStatus string

const (
	ContentStatusPending    ContentStatus = "Pending"
	ContentStatusDownloaded ContentStatus = "Downloaded"
	ContentStatusUploading  ContentStatus = "Uploading"
	ContentStatusUploaded   ContentStatus = "Uploaded"
	ContentStatusFailed     ContentStatus = "Failed"
)

// ErrorKind classifies the failure recorded on an item
type ErrorKind string

const (
	ErrorKindNone          ErrorKind = ""
	ErrorKindTransient     ErrorKind = "transient"
	ErrorKindConfiguration ErrorKind = "configuration"
	ErrorKindValidation    ErrorKind = "validation"
)

// ErrInvalidTransition is returned for status changes outside the pipeline state machine
var ErrInvalidTransition = errors.New("invalid status transition")

// transitions lists every allowed edge. Failed -> Pending is the retry edge.
var transitions = map[ContentStatus][]ContentStatus{
	ContentStatusPending:    {ContentStatusDownloaded, ContentStatusFailed},
	ContentStatusDownloaded: {ContentStatusUploading, ContentStatusFailed},
	ContentStatusUploading:  {ContentStatusUploaded, ContentStatusFailed},
	ContentStatusFailed:     {ContentStatusPending},
}

// ContentItem is one short-form video tracked through the upload pipeline
type ContentItem struct {
	ID                 uint          `gorm:"primaryKey" json:"id"`
	VideoID            string        `gorm:"column:video_id;size:64;not null;uniqueIndex:ux_video_mapping,priority:1" json:"video_id"`
	VideoURL           string        `gorm:"column:video_url;not null" json:"video_url"`
	Title              string        `gorm:"size:500" json:"title"`
	Description        string        `gorm:"type:text" json:"description"`
	Tags               StringSlice   `gorm:"type:json" json:"tags"`
	ThumbnailURL       string        `json:"thumbnail_url"`
	Duration           int           `json:"duration"` // seconds, as reported by the source
	Status             ContentStatus `gorm:"size:20;index;default:'Pending'" json:"status"`
	MappingID          *uint         `gorm:"index;uniqueIndex:ux_video_mapping,priority:2" json:"mapping_id"` // nil: global pool
	SourceChannel      string        `gorm:"column:source_channel;index" json:"source_channel"`
	TargetChannel      string        `gorm:"column:target_channel" json:"target_channel"`
	Visibility         Visibility    `gorm:"size:20" json:"visibility"`
	ScheduledPublishAt *time.Time    `gorm:"column:scheduled_date;index" json:"scheduled_date"`
	UploadedAt         *time.Time    `gorm:"column:uploaded_date;index" json:"uploaded_date"`
	TargetVideoID      string        `gorm:"column:target_video_id" json:"target_video_id"`
	RetryCount         int           `gorm:"default:0" json:"retry_count"`
	ErrorMessage       string        `gorm:"column:error_log;type:text" json:"error_log"`
	ErrorKind          ErrorKind     `gorm:"size:20" json:"error_kind"`
	CreatedAt          time.Time     `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt          time.Time     `gorm:"autoUpdateTime" json:"updated_at"`
}

// CanTransition reports whether the item may move to the given status
func (c *ContentItem) CanTransition(to ContentStatus) bool {
	for _, next := range transitions[c.Status] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition moves the item to the given status, rejecting edges outside the state machine
func (c *ContentItem) Transition(to ContentStatus) error {
	if !c.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.Status, to)
	}
	c.Status = to
	return nil
}

// Fail marks the item as failed with the given error kind and message
func (c *ContentItem) Fail(kind ErrorKind, msg string) error {
	if err := c.Transition(ContentStatusFailed); err != nil {
		return err
	}
	c.ErrorKind = kind
	c.ErrorMessage = msg
	return nil
}

// IsTerminal returns true for Uploaded and Failed items
func (c *ContentItem) IsTerminal() bool {
	return c.Status == ContentStatusUploaded || c.Status == ContentStatusFailed
}

// AwaitingPublish returns true if the item is uploaded and waiting for its public flip
func (c *ContentItem) AwaitingPublish() bool {
	return c.Status == ContentStatusUploaded && c.ScheduledPublishAt != nil && c.TargetVideoID != ""
}

// ContentDraft is an ingested item before it is persisted
type ContentDraft struct {
	VideoID       string
	VideoURL      string
	Title         string
	Description   string
	Tags          []string
	ThumbnailURL  string
	Duration      int
	SourceChannel string
	PublishedAt   time.Time
}
