package tracker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/shorts-relay/internal/config"
	"github.com/shorts-relay/internal/models"
	"github.com/shorts-relay/pkg/logger"
)

// fakeSheets is a tiny in-memory stand-in for the Sheets values API
type fakeSheets struct {
	mu     sync.Mutex
	titles []string
	rows   [][]interface{}
}

// startRow returns the 1-indexed first row of an A1 range like "Uploads!A5" or "Uploads!A:A"
func startRow(rng string) (int, bool) {
	cell := rng[strings.Index(rng, "!")+1:]
	cell = strings.SplitN(cell, ":", 2)[0]
	digits := strings.TrimLeftFunc(cell, unicode.IsLetter)
	if digits == "" {
		return 1, strings.HasSuffix(rng, ":A")
	}
	n, _ := strconv.Atoi(digits)
	return n, strings.HasSuffix(rng, ":A")
}

func (f *fakeSheets) set(row int, values []interface{}) {
	for len(f.rows) < row {
		f.rows = append(f.rows, nil)
	}
	f.rows[row-1] = values
}

func (f *fakeSheets) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")

	rest := strings.TrimPrefix(r.URL.Path, "/v4/spreadsheets/sheet-1")
	switch {
	case rest == "" && r.Method == http.MethodGet:
		var list []map[string]any
		for _, title := range f.titles {
			list = append(list, map[string]any{"properties": map[string]any{"title": title}})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"spreadsheetId": "sheet-1", "sheets": list})

	case rest == ":batchUpdate":
		var req struct {
			Requests []struct {
				AddSheet struct {
					Properties struct {
						Title string `json:"title"`
					} `json:"properties"`
				} `json:"addSheet"`
			} `json:"requests"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		for _, rq := range req.Requests {
			f.titles = append(f.titles, rq.AddSheet.Properties.Title)
		}
		_, _ = w.Write([]byte(`{"spreadsheetId":"sheet-1"}`))

	case rest == "/values:batchUpdate":
		var req struct {
			Data []struct {
				Range  string          `json:"range"`
				Values [][]interface{} `json:"values"`
			} `json:"data"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		for _, d := range req.Data {
			row, _ := startRow(d.Range)
			f.set(row, d.Values[0])
		}
		_, _ = w.Write([]byte(`{"spreadsheetId":"sheet-1"}`))

	case strings.HasPrefix(rest, "/values/") && strings.HasSuffix(rest, ":append"):
		var vr struct {
			Values [][]interface{} `json:"values"`
		}
		_ = json.NewDecoder(r.Body).Decode(&vr)
		f.rows = append(f.rows, vr.Values...)
		_, _ = w.Write([]byte(`{"spreadsheetId":"sheet-1"}`))

	case strings.HasPrefix(rest, "/values/") && r.Method == http.MethodPut:
		var vr struct {
			Values [][]interface{} `json:"values"`
		}
		_ = json.NewDecoder(r.Body).Decode(&vr)
		row, _ := startRow(strings.TrimPrefix(rest, "/values/"))
		f.set(row, vr.Values[0])
		_, _ = w.Write([]byte(`{"spreadsheetId":"sheet-1"}`))

	case strings.HasPrefix(rest, "/values/") && r.Method == http.MethodGet:
		rng := strings.TrimPrefix(rest, "/values/")
		row, firstColumnOnly := startRow(rng)
		var out [][]interface{}
		for i := row - 1; i < len(f.rows); i++ {
			if firstColumnOnly {
				if len(f.rows[i]) > 0 {
					out = append(out, f.rows[i][:1])
				} else {
					out = append(out, []interface{}{})
				}
				continue
			}
			out = append(out, f.rows[i])
		}
		if strings.Contains(rng, "A1:") && len(out) > 1 {
			out = out[:1]
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"range": rng, "values": out})

	default:
		http.NotFound(w, r)
	}
}

func newTracker(t *testing.T) (*SheetsTracker, *fakeSheets) {
	t.Helper()
	fake := &fakeSheets{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	tr, err := NewSheetsTracker(
		config.TrackerConfig{Enabled: true, SpreadsheetID: "sheet-1"},
		nil,
		logger.Nop(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithoutAuthentication(),
	)
	require.NoError(t, err)
	tr.now = func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) }
	return tr, fake
}

func uploadedItem(id uint, vis models.Visibility) *models.ContentItem {
	at := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	mappingID := uint(2)
	return &models.ContentItem{
		ID:            id,
		VideoID:       "src" + strconv.Itoa(int(id)),
		SourceChannel: "UC1",
		MappingID:     &mappingID,
		Title:         "pasta",
		Status:        models.ContentStatusUploaded,
		TargetChannel: "UCdest",
		TargetVideoID: "yt" + strconv.Itoa(int(id)),
		Visibility:    vis,
		UploadedAt:    &at,
	}
}

func TestDisabledTrackerIsNil(t *testing.T) {
	tr, err := NewSheetsTracker(config.TrackerConfig{}, nil, logger.Nop())
	require.NoError(t, err)
	assert.Nil(t, tr)
	assert.NoError(t, tr.TrackUpload(context.Background(), uploadedItem(1, models.VisibilityPublic)))

	_, err = NewSheetsTracker(config.TrackerConfig{Enabled: true}, nil, logger.Nop())
	assert.Error(t, err)
}

func TestTrackUploadAppendsThenUpdates(t *testing.T) {
	ctx := context.Background()
	tr, fake := newTracker(t)
	require.NoError(t, tr.InitializeSheet(ctx))
	assert.Equal(t, []string{DefaultSheetName}, fake.titles)
	require.Len(t, fake.rows, 1)
	assert.Equal(t, "Item ID", fake.rows[0][0])

	item := uploadedItem(7, models.VisibilityUnlisted)
	require.NoError(t, tr.TrackUpload(ctx, item))
	require.Len(t, fake.rows, 2)

	item.Visibility = models.VisibilityPublic
	require.NoError(t, tr.TrackUpload(ctx, item))
	require.Len(t, fake.rows, 2)

	uploads, err := tr.GetAllUploads(ctx)
	require.NoError(t, err)
	require.Len(t, uploads, 1)
	assert.Equal(t, uint(7), uploads[0].ItemID)
	assert.Equal(t, "public", uploads[0].Visibility)
	assert.Equal(t, "2", uploads[0].MappingID)
	assert.Equal(t, "https://www.youtube.com/shorts/yt7", uploads[0].TargetURL)
	assert.True(t, uploads[0].UploadedAt.Equal(*item.UploadedAt))
}

func TestSyncUploads(t *testing.T) {
	ctx := context.Background()
	tr, fake := newTracker(t)
	require.NoError(t, tr.InitializeSheet(ctx))
	require.NoError(t, tr.TrackUpload(ctx, uploadedItem(1, models.VisibilityUnlisted)))

	added, updated, err := tr.SyncUploads(ctx, []*models.ContentItem{
		uploadedItem(1, models.VisibilityPublic),
		uploadedItem(2, models.VisibilityPublic),
		uploadedItem(3, models.VisibilityPrivate),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, added)
	assert.Equal(t, 1, updated)
	assert.Len(t, fake.rows, 4)

	uploads, err := tr.GetAllUploads(ctx)
	require.NoError(t, err)
	require.Len(t, uploads, 3)
	assert.Equal(t, "public", uploads[0].Visibility)
}
