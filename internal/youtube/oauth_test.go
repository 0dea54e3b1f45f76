package youtube

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/shorts-relay/internal/config"
	"github.com/shorts-relay/internal/models"
	"github.com/shorts-relay/internal/platform"
	"github.com/shorts-relay/internal/storage/sqlite"
	"github.com/shorts-relay/pkg/logger"
)

func tokenServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		w.Header().Set("Content-Type", "application/json")
		switch r.Form.Get("grant_type") {
		case "refresh_token":
			if r.Form.Get("refresh_token") == "revoked" {
				w.WriteHeader(http.StatusBadRequest)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"access_token": "fresh", "token_type": "Bearer", "expires_in": 3600,
			})
		case "authorization_code":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"access_token": "first", "refresh_token": "r1", "token_type": "Bearer",
				"expires_in": 3600, "scope": uploadScope,
			})
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

const uploadScope = "https://www.googleapis.com/auth/youtube.upload"

func newManager(t *testing.T) (*OAuthManager, *sqlite.Repository) {
	t.Helper()
	repo, err := sqlite.New(filepath.Join(t.TempDir(), "relay.db"))
	require.NoError(t, err)
	require.NoError(t, repo.Migrate())
	t.Cleanup(func() { _ = repo.Close() })

	srv := tokenServer(t)
	m := NewOAuthManager(
		config.GoogleConfig{ClientID: "client", ClientSecret: "secret", RedirectURI: "http://localhost:8085/callback"},
		repo,
		logger.Nop(),
		WithEndpoint(oauth2.Endpoint{AuthURL: srv.URL + "/auth", TokenURL: srv.URL + "/token", AuthStyle: oauth2.AuthStyleInParams}),
		WithChannelLookup(func(_ context.Context, token *oauth2.Token) (string, error) {
			assert.Equal(t, "first", token.AccessToken)
			return "UCnew", nil
		}),
	)
	return m, repo
}

func saveToken(t *testing.T, repo *sqlite.Repository, channelID, refresh string, expires time.Time) {
	t.Helper()
	require.NoError(t, repo.SaveChannelToken(context.Background(), &models.ChannelToken{
		ChannelID:    channelID,
		AccessToken:  "stored",
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresAt:    expires,
	}))
}

func TestResolveUnknownChannelIsNotConnected(t *testing.T) {
	m, _ := newManager(t)
	_, err := m.Resolve(context.Background(), "UCmissing")
	require.ErrorIs(t, err, platform.ErrNotConnected)
	assert.Contains(t, err.Error(), "UCmissing")

	_, err = m.Resolve(context.Background(), "")
	assert.ErrorIs(t, err, platform.ErrNotConnected)
}

func TestResolveValidToken(t *testing.T) {
	m, repo := newManager(t)
	saveToken(t, repo, "UC1", "r1", time.Now().Add(time.Hour))

	cred, err := m.Resolve(context.Background(), "UC1")
	require.NoError(t, err)
	assert.Equal(t, "UC1", cred.ChannelID)
	assert.Equal(t, "stored", cred.Token.AccessToken)
}

func TestResolveRefreshesExpiringToken(t *testing.T) {
	ctx := context.Background()
	m, repo := newManager(t)
	saveToken(t, repo, "UC1", "r1", time.Now().Add(time.Minute))

	cred, err := m.Resolve(ctx, "UC1")
	require.NoError(t, err)
	assert.Equal(t, "fresh", cred.Token.AccessToken)

	stored, err := repo.GetChannelToken(ctx, "UC1")
	require.NoError(t, err)
	assert.Equal(t, "fresh", stored.AccessToken)
	assert.Equal(t, "r1", stored.RefreshToken)
	assert.True(t, stored.ExpiresAt.After(time.Now().Add(30*time.Minute)))
}

func TestResolveUnrefreshableTokenIsNotConnected(t *testing.T) {
	m, repo := newManager(t)
	saveToken(t, repo, "UCrevoked", "revoked", time.Now().Add(-time.Hour))
	saveToken(t, repo, "UCnorefresh", "", time.Now().Add(-time.Hour))

	_, err := m.Resolve(context.Background(), "UCrevoked")
	assert.ErrorIs(t, err, platform.ErrNotConnected)

	_, err = m.Resolve(context.Background(), "UCnorefresh")
	assert.ErrorIs(t, err, platform.ErrNotConnected)
}

func TestExchangeCodeStoresChannelToken(t *testing.T) {
	ctx := context.Background()
	m, repo := newManager(t)

	ct, err := m.ExchangeCode(ctx, "code-123")
	require.NoError(t, err)
	assert.Equal(t, "UCnew", ct.ChannelID)
	assert.Equal(t, uploadScope, ct.Scope)

	stored, err := repo.GetChannelToken(ctx, "UCnew")
	require.NoError(t, err)
	assert.Equal(t, "first", stored.AccessToken)
	assert.Equal(t, "r1", stored.RefreshToken)

	connected, _, err := m.TokenStatus(ctx, "UCnew")
	require.NoError(t, err)
	assert.True(t, connected)

	require.NoError(t, m.Disconnect(ctx, "UCnew"))
	connected, _, err = m.TokenStatus(ctx, "UCnew")
	require.NoError(t, err)
	assert.False(t, connected)
}

func TestAuthURLRequestsOfflineConsent(t *testing.T) {
	m, _ := newManager(t)
	url := m.GetAuthURL("state-1")
	assert.Contains(t, url, "access_type=offline")
	assert.Contains(t, url, "prompt=consent")
	assert.Contains(t, url, "state=state-1")
}
