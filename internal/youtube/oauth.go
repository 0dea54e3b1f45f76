package youtube

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	yt "google.golang.org/api/youtube/v3"

	"github.com/shorts-relay/internal/config"
	"github.com/shorts-relay/internal/models"
	"github.com/shorts-relay/internal/platform"
	"github.com/shorts-relay/internal/storage"
	"github.com/shorts-relay/pkg/logger"
)

// DefaultScopes are requested when the config names none
var DefaultScopes = []string{yt.YoutubeUploadScope, yt.YoutubeScope}

// TokenStore persists per-channel tokens
type TokenStore interface {
	SaveChannelToken(ctx context.Context, token *models.ChannelToken) error
	GetChannelToken(ctx context.Context, channelID string) (*models.ChannelToken, error)
	DeleteChannelToken(ctx context.Context, channelID string) error
}

// ChannelLookup returns the channel id a freshly issued token belongs to
type ChannelLookup func(ctx context.Context, token *oauth2.Token) (string, error)

// OAuthManager handles the Google OAuth 2.0 flow for destination channels
type OAuthManager struct {
	config *oauth2.Config
	store  TokenStore
	lookup ChannelLookup
	log    *logger.Logger

	// serializes refreshes so a rotated refresh token is never lost
	mu sync.Mutex
}

// OAuthOption configures an OAuthManager
type OAuthOption func(*OAuthManager)

// WithEndpoint overrides the Google OAuth endpoint
func WithEndpoint(endpoint oauth2.Endpoint) OAuthOption {
	return func(m *OAuthManager) { m.config.Endpoint = endpoint }
}

// WithChannelLookup overrides how a new token is mapped to its channel
func WithChannelLookup(lookup ChannelLookup) OAuthOption {
	return func(m *OAuthManager) { m.lookup = lookup }
}

// NewOAuthManager creates a new OAuth manager
func NewOAuthManager(cfg config.GoogleConfig, store TokenStore, log *logger.Logger, opts ...OAuthOption) *OAuthManager {
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}
	m := &OAuthManager{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       scopes,
			Endpoint:     google.Endpoint,
		},
		store: store,
		log:   log.WithComponent("oauth"),
	}
	m.lookup = m.mineChannel
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// GenerateState creates a random state for OAuth CSRF protection
func GenerateState() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

// GetAuthURL returns the OAuth authorization URL. Consent is forced so Google
// always returns a refresh token.
func (m *OAuthManager) GetAuthURL(state string) string {
	return m.config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// ExchangeCode exchanges the authorization code and stores the token under its channel
func (m *OAuthManager) ExchangeCode(ctx context.Context, code string) (*models.ChannelToken, error) {
	m.log.Info().Msg("Exchanging authorization code for token")

	token, err := m.config.Exchange(ctx, code)
	if err != nil {
		m.log.Error().Err(err).Msg("Failed to exchange code")
		return nil, fmt.Errorf("failed to exchange code: %w", err)
	}

	channelID, err := m.lookup(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("failed to identify channel: %w", err)
	}

	ct := &models.ChannelToken{ChannelID: channelID}
	ct.FromOAuth2Token(token)
	if scope, ok := token.Extra("scope").(string); ok {
		ct.Scope = scope
	}
	if err := m.store.SaveChannelToken(ctx, ct); err != nil {
		return nil, fmt.Errorf("failed to save token: %w", err)
	}

	m.log.Info().
		Str("channel_id", channelID).
		Time("expires_at", token.Expiry).
		Msg("Channel connected")
	return ct, nil
}

// Resolve returns a usable credential for the channel, refreshing it if needed.
// A missing token or a failed refresh wraps platform.ErrNotConnected.
func (m *OAuthManager) Resolve(ctx context.Context, channelID string) (*platform.Credential, error) {
	if channelID == "" {
		return nil, platform.NotConnectedError("<none>")
	}

	token, err := m.store.GetChannelToken(ctx, channelID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, platform.NotConnectedError(channelID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load token for %s: %w", channelID, err)
	}

	if token.NeedsRefresh() {
		token, err = m.refresh(ctx, channelID)
		if err != nil {
			return nil, err
		}
	}

	return &platform.Credential{ChannelID: channelID, Token: token.ToOAuth2Token()}, nil
}

func (m *OAuthManager) refresh(ctx context.Context, channelID string) (*models.ChannelToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// another caller may have refreshed while we waited
	token, err := m.store.GetChannelToken(ctx, channelID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload token for %s: %w", channelID, err)
	}
	if !token.NeedsRefresh() {
		return token, nil
	}
	if token.RefreshToken == "" {
		return nil, fmt.Errorf("%w: no refresh token", platform.NotConnectedError(channelID))
	}

	log := m.log.With().Str("channel_id", channelID).Logger()
	log.Info().Msg("Token expiring soon, refreshing")

	newToken, err := m.config.TokenSource(ctx, token.ToOAuth2Token()).Token()
	if err != nil {
		log.Error().Err(err).Msg("Failed to refresh token")
		return nil, fmt.Errorf("%w: refresh failed: %v", platform.NotConnectedError(channelID), err)
	}

	token.FromOAuth2Token(newToken)
	if err := m.store.SaveChannelToken(ctx, token); err != nil {
		log.Warn().Err(err).Msg("Failed to save refreshed token")
	}

	log.Info().Time("expires_at", newToken.Expiry).Msg("Token refreshed successfully")
	return token, nil
}

// TokenStatus reports whether the channel has a token and when it expires
func (m *OAuthManager) TokenStatus(ctx context.Context, channelID string) (bool, time.Time, error) {
	token, err := m.store.GetChannelToken(ctx, channelID)
	if errors.Is(err, storage.ErrNotFound) {
		return false, time.Time{}, nil
	}
	if err != nil {
		return false, time.Time{}, err
	}
	return !token.IsExpired() || token.RefreshToken != "", token.ExpiresAt, nil
}

// Disconnect removes the channel's token
func (m *OAuthManager) Disconnect(ctx context.Context, channelID string) error {
	return m.store.DeleteChannelToken(ctx, channelID)
}

func (m *OAuthManager) mineChannel(ctx context.Context, token *oauth2.Token) (string, error) {
	svc, err := newService(ctx, &platform.Credential{Token: token})
	if err != nil {
		return "", err
	}
	resp, err := svc.Channels.List([]string{"id"}).Mine(true).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("channels.list failed: %w", err)
	}
	if len(resp.Items) == 0 {
		return "", fmt.Errorf("token has no YouTube channel")
	}
	return resp.Items[0].Id, nil
}

// StartOAuthServer starts a temporary HTTP server for the OAuth callback and
// returns the connected channel token. authURL is called with the URL to open.
func (m *OAuthManager) StartOAuthServer(ctx context.Context, port int, authURL func(string)) (*models.ChannelToken, error) {
	state, err := GenerateState()
	if err != nil {
		return nil, err
	}

	codeChan := make(chan string, 1)
	errChan := make(chan error, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("state") != state {
			errChan <- fmt.Errorf("state mismatch")
			http.Error(w, "State mismatch", http.StatusBadRequest)
			return
		}
		if errMsg := r.URL.Query().Get("error"); errMsg != "" {
			errChan <- fmt.Errorf("oauth error: %s", errMsg)
			http.Error(w, errMsg, http.StatusBadRequest)
			return
		}
		code := r.URL.Query().Get("code")
		if code == "" {
			errChan <- fmt.Errorf("no code in callback")
			http.Error(w, "No code", http.StatusBadRequest)
			return
		}

		codeChan <- code
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body style="font-family: sans-serif; text-align: center; padding: 50px;">
<h1>Channel connected</h1><p>You can close this window and return to the terminal.</p>
</body></html>`)
	})

	server := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	url := m.GetAuthURL(state)
	if authURL != nil {
		authURL(url)
	}
	m.log.Info().Int("port", port).Msg("OAuth server started, waiting for callback")

	select {
	case code := <-codeChan:
		return m.ExchangeCode(ctx, code)
	case err := <-errChan:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
