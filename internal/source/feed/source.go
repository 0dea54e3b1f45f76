package feed

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	ext "github.com/mmcdole/gofeed/extensions"

	"github.com/shorts-relay/internal/config"
	"github.com/shorts-relay/internal/models"
	"github.com/shorts-relay/internal/source"
	"github.com/shorts-relay/pkg/logger"
	"github.com/shorts-relay/pkg/ratelimit"
)

// Source implements ChannelSource over YouTube channel Atom feeds
type Source struct {
	baseURL  string
	maxItems int
	maxAge   time.Duration
	parser   *gofeed.Parser
	limiter  *ratelimit.MultiLimiter
	log      *logger.Logger
}

// New creates a channel feed source
func New(cfg config.SourcesConfig, limiter *ratelimit.MultiLimiter, log *logger.Logger) *Source {
	return &Source{
		baseURL:  cfg.FeedBaseURL,
		maxItems: cfg.MaxPerFetch,
		maxAge:   30 * 24 * time.Hour,
		parser:   gofeed.NewParser(),
		limiter:  limiter,
		log:      log.WithComponent("source"),
	}
}

// Name returns the source name
func (s *Source) Name() string {
	return "youtube-feed"
}

// FeedURL returns the feed URL of a channel identity. Full http(s) URLs are used as is.
func (s *Source) FeedURL(channel string) (string, error) {
	if strings.HasPrefix(channel, "http://") || strings.HasPrefix(channel, "https://") {
		if strings.Contains(channel, "/feeds/") {
			return channel, nil
		}
		return "", fmt.Errorf("channel %s is not a feed URL or channel id", channel)
	}
	if channel == "" {
		return "", fmt.Errorf("empty channel")
	}
	return s.baseURL + "?channel_id=" + url.QueryEscape(channel), nil
}

// Fetch retrieves the channel's recent videos as drafts
func (s *Source) Fetch(ctx context.Context, channel string) ([]*models.ContentDraft, error) {
	feedURL, err := s.FeedURL(channel)
	if err != nil {
		return nil, err
	}
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx, ratelimit.LimiterFeed); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	s.log.Debug().Str("url", feedURL).Msg("Fetching channel feed")

	feed, err := s.parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed for %s: %w", channel, err)
	}

	drafts := make([]*models.ContentDraft, 0, len(feed.Items))
	for _, item := range feed.Items {
		if s.maxItems > 0 && len(drafts) >= s.maxItems {
			break
		}

		videoID := extensionValue(item.Extensions, "yt", "videoId")
		if videoID == "" {
			continue
		}

		publishedAt := time.Now()
		if item.PublishedParsed != nil {
			publishedAt = *item.PublishedParsed
			if s.maxAge > 0 && time.Since(publishedAt) > s.maxAge {
				continue
			}
		}

		description := item.Description
		thumbnail := ""
		if group := mediaGroup(item.Extensions); group != nil {
			if d := childValue(group, "description"); d != "" {
				description = d
			}
			if thumbs := group.Children["thumbnail"]; len(thumbs) > 0 {
				thumbnail = thumbs[0].Attrs["url"]
			}
		}

		drafts = append(drafts, &models.ContentDraft{
			VideoID:       videoID,
			VideoURL:      source.ShortsURL(videoID),
			Title:         source.CleanText(item.Title),
			Description:   strings.TrimSpace(description),
			Tags:          item.Categories,
			ThumbnailURL:  thumbnail,
			SourceChannel: channel,
			PublishedAt:   publishedAt,
		})
	}

	s.log.Info().
		Int("count", len(drafts)).
		Str("channel", channel).
		Msg("Fetched channel feed")

	return drafts, nil
}

func extensionValue(exts ext.Extensions, ns, name string) string {
	if exts == nil {
		return ""
	}
	values := exts[ns][name]
	if len(values) == 0 {
		return ""
	}
	return strings.TrimSpace(values[0].Value)
}

func mediaGroup(exts ext.Extensions) *ext.Extension {
	if exts == nil {
		return nil
	}
	groups := exts["media"]["group"]
	if len(groups) == 0 {
		return nil
	}
	return &groups[0]
}

func childValue(e *ext.Extension, name string) string {
	children := e.Children[name]
	if len(children) == 0 {
		return ""
	}
	return children[0].Value
}
