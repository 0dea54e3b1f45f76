// Package youtube uploads shorts to destination channels and manages their OAuth tokens.
package youtube

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/oauth2"
	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"

	"github.com/shorts-relay/internal/config"
	"github.com/shorts-relay/internal/models"
	"github.com/shorts-relay/internal/platform"
	"github.com/shorts-relay/pkg/logger"
	"github.com/shorts-relay/pkg/ratelimit"
)

// DefaultCategoryID is "People & Blogs"
const DefaultCategoryID = "22"

// fallbackTitle is used when the source item has no title
const fallbackTitle = "#shorts"

// Client talks to the YouTube Data API
type Client struct {
	categoryID  string
	rateLimiter *ratelimit.MultiLimiter
	serviceOpts []option.ClientOption
	log         *logger.Logger
}

// NewClient creates a new YouTube client. Extra options are passed to every
// API service, which lets tests point it at a local endpoint.
func NewClient(cfg config.GoogleConfig, limiter *ratelimit.MultiLimiter, log *logger.Logger, opts ...option.ClientOption) *Client {
	category := cfg.CategoryID
	if category == "" {
		category = DefaultCategoryID
	}
	return &Client{
		categoryID:  category,
		rateLimiter: limiter,
		serviceOpts: opts,
		log:         log.WithComponent("youtube"),
	}
}

func newService(ctx context.Context, cred *platform.Credential, opts ...option.ClientOption) (*yt.Service, error) {
	opts = append([]option.ClientOption{option.WithTokenSource(oauth2.StaticTokenSource(cred.Token))}, opts...)
	svc, err := yt.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create youtube service: %w", err)
	}
	return svc, nil
}

func (c *Client) wait(ctx context.Context) error {
	if c.rateLimiter == nil {
		return nil
	}
	if err := c.rateLimiter.Wait(ctx, ratelimit.LimiterYouTube); err != nil {
		return fmt.Errorf("rate limit error: %w", err)
	}
	return nil
}

// Upload inserts the file as a new video on the credential's channel
func (c *Client) Upload(ctx context.Context, req platform.UploadRequest, cred *platform.Credential) (string, error) {
	if err := c.wait(ctx); err != nil {
		return "", err
	}

	f, err := os.Open(req.FilePath)
	if err != nil {
		return "", fmt.Errorf("failed to open media: %w", err)
	}
	defer f.Close()

	svc, err := newService(ctx, cred, c.serviceOpts...)
	if err != nil {
		return "", err
	}

	title := req.Title
	if title == "" {
		title = fallbackTitle
	}
	visibility := req.Visibility
	if !visibility.Valid() {
		visibility = models.VisibilityPublic
	}

	video := &yt.Video{
		Snippet: &yt.VideoSnippet{
			Title:       title,
			Description: req.Description,
			Tags:        req.Tags,
			CategoryId:  c.categoryID,
		},
		Status: &yt.VideoStatus{
			PrivacyStatus:           string(visibility),
			SelfDeclaredMadeForKids: false,
			ForceSendFields:         []string{"SelfDeclaredMadeForKids"},
		},
	}

	c.log.Info().
		Str("channel_id", cred.ChannelID).
		Str("title", title).
		Str("visibility", string(visibility)).
		Msg("Uploading video")

	resp, err := svc.Videos.Insert([]string{"snippet", "status"}, video).Media(f).Context(ctx).Do()
	if err != nil {
		c.log.Error().Err(err).Str("channel_id", cred.ChannelID).Msg("Video upload failed")
		return "", fmt.Errorf("videos.insert failed: %w", err)
	}

	c.log.Info().Str("video_id", resp.Id).Msg("Video uploaded")
	return resp.Id, nil
}

// UpdateVisibility changes the privacy status of an uploaded video
func (c *Client) UpdateVisibility(ctx context.Context, externalID string, visibility models.Visibility, cred *platform.Credential) error {
	if err := c.wait(ctx); err != nil {
		return err
	}

	svc, err := newService(ctx, cred, c.serviceOpts...)
	if err != nil {
		return err
	}

	// videos.update replaces the whole status part, so restate the declaration made at upload
	video := &yt.Video{
		Id: externalID,
		Status: &yt.VideoStatus{
			PrivacyStatus:           string(visibility),
			SelfDeclaredMadeForKids: false,
			ForceSendFields:         []string{"SelfDeclaredMadeForKids"},
		},
	}
	if _, err := svc.Videos.Update([]string{"status"}, video).Context(ctx).Do(); err != nil {
		return fmt.Errorf("videos.update failed: %w", err)
	}

	c.log.Info().
		Str("video_id", externalID).
		Str("visibility", string(visibility)).
		Msg("Visibility updated")
	return nil
}
