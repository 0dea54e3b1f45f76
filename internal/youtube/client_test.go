package youtube

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"google.golang.org/api/option"

	"github.com/shorts-relay/internal/config"
	"github.com/shorts-relay/internal/models"
	"github.com/shorts-relay/internal/platform"
	"github.com/shorts-relay/pkg/logger"
)

type apiRecorder struct {
	mu       sync.Mutex
	methods  []string
	parts    []string
	auth     []string
	statuses []string
	forKids  []*bool
}

func apiServer(t *testing.T, rec *apiRecorder) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/videos") {
			http.NotFound(w, r)
			return
		}
		rec.mu.Lock()
		rec.methods = append(rec.methods, r.Method)
		rec.parts = append(rec.parts, r.URL.Query().Get("part"))
		rec.auth = append(rec.auth, r.Header.Get("Authorization"))
		rec.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		switch r.Method {
		case http.MethodPost:
			_ = json.NewEncoder(w).Encode(map[string]string{"id": "yt-new"})
		case http.MethodPut:
			var v struct {
				ID     string `json:"id"`
				Status struct {
					PrivacyStatus           string `json:"privacyStatus"`
					SelfDeclaredMadeForKids *bool  `json:"selfDeclaredMadeForKids"`
				} `json:"status"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&v))
			rec.mu.Lock()
			rec.statuses = append(rec.statuses, v.ID+":"+v.Status.PrivacyStatus)
			rec.forKids = append(rec.forKids, v.Status.SelfDeclaredMadeForKids)
			rec.mu.Unlock()
			_ = json.NewEncoder(w).Encode(map[string]string{"id": v.ID})
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testCredential() *platform.Credential {
	return &platform.Credential{ChannelID: "UCdest", Token: &oauth2.Token{AccessToken: "tok", TokenType: "Bearer"}}
}

func TestUploadInsertsVideo(t *testing.T) {
	rec := &apiRecorder{}
	srv := apiServer(t, rec)
	client := NewClient(config.GoogleConfig{}, nil, logger.Nop(), option.WithEndpoint(srv.URL+"/"))

	path := filepath.Join(t.TempDir(), "clip.mp4")
	require.NoError(t, os.WriteFile(path, []byte("not really a video"), 0o600))

	id, err := client.Upload(context.Background(), platform.UploadRequest{
		FilePath:   path,
		Title:      "Ten minute pasta",
		Tags:       []string{"shorts"},
		Visibility: models.VisibilityUnlisted,
	}, testCredential())
	require.NoError(t, err)
	assert.Equal(t, "yt-new", id)

	require.Len(t, rec.methods, 1)
	assert.Equal(t, http.MethodPost, rec.methods[0])
	assert.Contains(t, rec.parts[0], "snippet")
	assert.Contains(t, rec.parts[0], "status")
	assert.Equal(t, "Bearer tok", rec.auth[0])
}

func TestUploadMissingFile(t *testing.T) {
	client := NewClient(config.GoogleConfig{}, nil, logger.Nop())
	_, err := client.Upload(context.Background(), platform.UploadRequest{FilePath: filepath.Join(t.TempDir(), "gone.mp4")}, testCredential())
	assert.ErrorContains(t, err, "failed to open media")
}

func TestUpdateVisibility(t *testing.T) {
	rec := &apiRecorder{}
	srv := apiServer(t, rec)
	client := NewClient(config.GoogleConfig{}, nil, logger.Nop(), option.WithEndpoint(srv.URL+"/"))

	require.NoError(t, client.UpdateVisibility(context.Background(), "yt-1", models.VisibilityPublic, testCredential()))
	assert.Equal(t, []string{http.MethodPut}, rec.methods)
	assert.Equal(t, []string{"status"}, rec.parts)
	assert.Equal(t, []string{"yt-1:public"}, rec.statuses)

	// the update must not drop the made-for-kids declaration
	require.Len(t, rec.forKids, 1)
	require.NotNil(t, rec.forKids[0])
	assert.False(t, *rec.forKids[0])
}
