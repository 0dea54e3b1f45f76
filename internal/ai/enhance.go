package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/shorts-relay/internal/platform"
)

// YouTube metadata limits
const (
	MaxTitleLength       = 100
	MaxDescriptionLength = 5000
	MaxHashtags          = 15
)

// ShortsTag is always present in the enhanced hashtags
const ShortsTag = "shorts"

// stripMarkdownCodeBlock removes markdown code block delimiters from AI responses
func stripMarkdownCodeBlock(response string) string {
	response = strings.TrimSpace(response)

	startIdx := strings.Index(response, "{")
	if startIdx == -1 {
		return response
	}
	endIdx := strings.LastIndex(response, "}")
	if endIdx == -1 || endIdx < startIdx {
		return response
	}
	return response[startIdx : endIdx+1]
}

type enhanceResponse struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Hashtags    []string `json:"hashtags"`
}

// Enhance rewrites title, description and hashtags of a short
func (c *Client) Enhance(ctx context.Context, title, description string, tags []string) (*platform.Enhancement, error) {
	userPrompt := fmt.Sprintf(EnhanceUserPrompt, title, description, strings.Join(tags, ", "))

	response, err := c.completeJSON(ctx, EnhanceSystemPrompt, userPrompt)
	if err != nil {
		return nil, err
	}

	var parsed enhanceResponse
	if err := json.Unmarshal([]byte(stripMarkdownCodeBlock(response)), &parsed); err != nil {
		c.log.Error().
			Err(err).
			Str("response", response).
			Msg("Failed to parse enhancement response")
		return nil, fmt.Errorf("failed to parse enhancement response: %w", err)
	}

	enh := postProcessEnhancement(parsed)
	if enh.Title == "" {
		return nil, fmt.Errorf("enhancement returned an empty title")
	}

	c.log.Debug().
		Str("title", enh.Title).
		Int("hashtags", len(enh.Hashtags)).
		Msg("Enhanced metadata")

	return enh, nil
}

// postProcessEnhancement enforces the platform limits on generated metadata
func postProcessEnhancement(r enhanceResponse) *platform.Enhancement {
	hashtags := normalizeHashtags(r.Hashtags)

	description := strings.TrimSpace(r.Description)
	if line := hashtagLine(hashtags); line != "" && !strings.Contains(description, "#"+ShortsTag) {
		if description != "" {
			description += "\n\n"
		}
		description += line
	}

	return &platform.Enhancement{
		Title:       truncate(strings.TrimSpace(r.Title), MaxTitleLength),
		Description: truncate(description, MaxDescriptionLength),
		Hashtags:    hashtags,
	}
}

// normalizeHashtags lowercases, strips # and spaces, dedupes and caps the list.
// The shorts tag is always first.
func normalizeHashtags(raw []string) []string {
	out := []string{ShortsTag}
	seen := map[string]bool{ShortsTag: true}
	for _, tag := range raw {
		tag = strings.ToLower(strings.TrimLeft(strings.TrimSpace(tag), "#"))
		tag = strings.Map(func(r rune) rune {
			if unicode.IsSpace(r) {
				return -1
			}
			return r
		}, tag)
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
		if len(out) == MaxHashtags {
			break
		}
	}
	return out
}

func hashtagLine(tags []string) string {
	parts := make([]string, 0, len(tags))
	for _, t := range tags {
		parts = append(parts, "#"+t)
	}
	return strings.Join(parts, " ")
}

// truncate cuts s to at most n runes
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:n]))
}
