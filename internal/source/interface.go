package source

import (
	"context"
	"strings"

	"github.com/shorts-relay/internal/models"
)

// ChannelSource lists recent videos of a source channel
type ChannelSource interface {
	// Name returns the unique name of this source
	Name() string

	// Fetch retrieves drafts for one channel identity (channel id or feed URL)
	Fetch(ctx context.Context, channel string) ([]*models.ContentDraft, error)
}

// ShortsURL returns the canonical shorts URL of a video id
func ShortsURL(videoID string) string {
	return "https://www.youtube.com/shorts/" + videoID
}

// Manager fans fetches for many channels out to one source
type Manager struct {
	source ChannelSource
}

// NewManager creates a new source manager
func NewManager(source ChannelSource) *Manager {
	return &Manager{source: source}
}

// Source returns the underlying channel source
func (m *Manager) Source() ChannelSource {
	return m.source
}

// FetchResult is the outcome of fetching one channel
type FetchResult struct {
	Channel string
	Drafts  []*models.ContentDraft
	Err     error
}

// FetchAll fetches all channels concurrently. Results keep the order of channels.
func (m *Manager) FetchAll(ctx context.Context, channels []string) []FetchResult {
	type indexed struct {
		i int
		r FetchResult
	}

	results := make(chan indexed, len(channels))

	for i, ch := range channels {
		go func(i int, ch string) {
			drafts, err := m.source.Fetch(ctx, ch)
			results <- indexed{i: i, r: FetchResult{Channel: ch, Drafts: drafts, Err: err}}
		}(i, ch)
	}

	out := make([]FetchResult, len(channels))
	for range channels {
		r := <-results
		out[r.i] = r.r
	}
	return out
}

// CleanText removes HTML tags and extra whitespace
func CleanText(text string) string {
	text = strings.ReplaceAll(text, "<br>", " ")
	text = strings.ReplaceAll(text, "<br/>", " ")
	text = strings.ReplaceAll(text, "<br />", " ")
	text = strings.ReplaceAll(text, "</p>", " ")
	text = strings.ReplaceAll(text, "<p>", "")

	var result strings.Builder
	inTag := false
	for _, r := range text {
		if r == '<' {
			inTag = true
		} else if r == '>' {
			inTag = false
		} else if !inTag {
			result.WriteRune(r)
		}
	}

	return strings.TrimSpace(strings.Join(strings.Fields(result.String()), " "))
}
