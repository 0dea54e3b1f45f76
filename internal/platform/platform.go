// Package platform defines the contracts between the pipeline and its
// external collaborators: media download and probing, AI enhancement,
// destination upload and visibility changes, and channel credentials.
package platform

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/oauth2"

	"github.com/shorts-relay/internal/models"
)

// ErrNotConnected is returned when a destination channel has no usable credential
var ErrNotConnected = errors.New("channel not connected")

// NotConnectedError names the channel that needs to be reconnected
func NotConnectedError(channelID string) error {
	return fmt.Errorf("%w: %s", ErrNotConnected, channelID)
}

// ValidationError is returned when downloaded media is not a valid short
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid media: " + e.Reason
}

// Credential authorizes calls against one destination channel
type Credential struct {
	ChannelID string
	Token     *oauth2.Token
}

// MediaInfo describes an inspected media file
type MediaInfo struct {
	Width    int
	Height   int
	Duration float64 // seconds
}

// Vertical reports whether the media is taller than it is wide
func (m MediaInfo) Vertical() bool {
	return m.Height > m.Width
}

// Enhancement is AI-rewritten metadata
type Enhancement struct {
	Title       string
	Description string
	Hashtags    []string
}

// UploadRequest is everything the uploader needs to publish one file
type UploadRequest struct {
	FilePath    string
	Title       string
	Description string
	Tags        []string
	Visibility  models.Visibility
}

// Downloader fetches source media to a local file
type Downloader interface {
	Download(ctx context.Context, url, id string) (string, error)
}

// Validator inspects a local file. A rejected file yields a *ValidationError.
type Validator interface {
	Validate(ctx context.Context, path string) (MediaInfo, error)
}

// Enhancer rewrites metadata. Failures are non-fatal to the pipeline.
type Enhancer interface {
	Enhance(ctx context.Context, title, description string, tags []string) (*Enhancement, error)
}

// Uploader publishes a local file to a destination channel and returns its external id
type Uploader interface {
	Upload(ctx context.Context, req UploadRequest, cred *Credential) (string, error)
}

// VisibilityUpdater changes the visibility of an uploaded video
type VisibilityUpdater interface {
	UpdateVisibility(ctx context.Context, externalID string, visibility models.Visibility, cred *Credential) error
}

// CredentialResolver returns the credential of a destination channel, or an
// error wrapping ErrNotConnected when the channel must be reconnected by a human
type CredentialResolver interface {
	Resolve(ctx context.Context, channelID string) (*Credential, error)
}

// UploadTracker is notified about successful uploads. Failures are logged only.
type UploadTracker interface {
	TrackUpload(ctx context.Context, item *models.ContentItem) error
}
