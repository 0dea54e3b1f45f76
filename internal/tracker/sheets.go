// Package tracker mirrors uploaded items into a Google Sheet.
package tracker

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/shorts-relay/internal/config"
	"github.com/shorts-relay/internal/models"
	"github.com/shorts-relay/pkg/logger"
	"github.com/shorts-relay/pkg/ratelimit"
)

// SheetColumns defines the column headers of the uploads sheet
var SheetColumns = []string{
	"Item ID",
	"Video ID",
	"Source Channel",
	"Mapping ID",
	"Title",
	"Target Channel",
	"Target Video ID",
	"Target URL",
	"Visibility",
	"Uploaded At",
	"Publish At",
	"Status",
	"Error",
	"Updated At",
}

// lastColumn is the letter of the last header column
const lastColumn = "N"

// DefaultSheetName is used when the config names no sheet
const DefaultSheetName = "Uploads"

// TrackedUpload is one row of the uploads sheet
type TrackedUpload struct {
	ItemID        uint
	VideoID       string
	SourceChannel string
	MappingID     string
	Title         string
	TargetChannel string
	TargetVideoID string
	TargetURL     string
	Visibility    string
	UploadedAt    time.Time
	PublishAt     time.Time
	Status        string
	Error         string
	UpdatedAt     time.Time
}

// SheetsTracker handles Google Sheets integration for upload tracking
type SheetsTracker struct {
	service       *sheets.Service
	spreadsheetID string
	sheetName     string
	rateLimiter   *ratelimit.MultiLimiter
	now           func() time.Time
	log           *logger.Logger
}

// NewSheetsTracker creates a new Google Sheets tracker. It returns nil when tracking is disabled.
// Extra client options are appended after the credentials.
func NewSheetsTracker(cfg config.TrackerConfig, limiter *ratelimit.MultiLimiter, log *logger.Logger, opts ...option.ClientOption) (*SheetsTracker, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.SpreadsheetID == "" {
		return nil, fmt.Errorf("tracker.spreadsheet_id is required when tracking is enabled")
	}

	var clientOpts []option.ClientOption
	switch {
	case cfg.ServiceAccountJSON != "":
		clientOpts = append(clientOpts, option.WithCredentialsJSON([]byte(cfg.ServiceAccountJSON)))
	case cfg.CredentialsFile != "":
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
	case len(opts) == 0:
		return nil, fmt.Errorf("no Google credentials provided: set credentials_file or service_account_json")
	}
	clientOpts = append(clientOpts, opts...)

	srv, err := sheets.NewService(context.Background(), clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}

	sheetName := cfg.SheetName
	if sheetName == "" {
		sheetName = DefaultSheetName
	}

	return &SheetsTracker{
		service:       srv,
		spreadsheetID: cfg.SpreadsheetID,
		sheetName:     sheetName,
		rateLimiter:   limiter,
		now:           time.Now,
		log:           log.WithComponent("tracker"),
	}, nil
}

func (t *SheetsTracker) wait(ctx context.Context) error {
	if t.rateLimiter == nil {
		return nil
	}
	return t.rateLimiter.Wait(ctx, ratelimit.LimiterSheets)
}

// InitializeSheet creates the sheet and headers if they don't exist
func (t *SheetsTracker) InitializeSheet(ctx context.Context) error {
	if err := t.ensureSheetExists(ctx); err != nil {
		return err
	}

	readRange := fmt.Sprintf("%s!A1:%s1", t.sheetName, lastColumn)
	resp, err := t.service.Spreadsheets.Values.Get(t.spreadsheetID, readRange).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to read sheet: %w", err)
	}
	if len(resp.Values) == 0 {
		t.log.Info().Msg("Initializing sheet with headers")
		return t.writeHeaders(ctx)
	}
	return nil
}

func (t *SheetsTracker) ensureSheetExists(ctx context.Context) error {
	spreadsheet, err := t.service.Spreadsheets.Get(t.spreadsheetID).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to get spreadsheet: %w", err)
	}
	for _, sheet := range spreadsheet.Sheets {
		if sheet.Properties != nil && sheet.Properties.Title == t.sheetName {
			return nil
		}
	}

	t.log.Info().Str("sheet", t.sheetName).Msg("Creating new sheet")
	req := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{
			{
				AddSheet: &sheets.AddSheetRequest{
					Properties: &sheets.SheetProperties{Title: t.sheetName},
				},
			},
		},
	}
	if _, err := t.service.Spreadsheets.BatchUpdate(t.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}
	return nil
}

func (t *SheetsTracker) writeHeaders(ctx context.Context) error {
	headerRow := make([]interface{}, 0, len(SheetColumns))
	for _, col := range SheetColumns {
		headerRow = append(headerRow, col)
	}

	writeRange := fmt.Sprintf("%s!A1", t.sheetName)
	_, err := t.service.Spreadsheets.Values.Update(t.spreadsheetID, writeRange, &sheets.ValueRange{
		Values: [][]interface{}{headerRow},
	}).ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to write headers: %w", err)
	}
	return nil
}

// TrackUpload writes the item's row, updating it in place if it is already tracked
func (t *SheetsTracker) TrackUpload(ctx context.Context, item *models.ContentItem) error {
	if t == nil {
		return nil
	}
	if err := t.wait(ctx); err != nil {
		return err
	}

	rows, err := t.existingRows(ctx)
	if err != nil {
		return err
	}

	row := t.buildRow(item)
	if rowNum, ok := rows[item.ID]; ok {
		writeRange := fmt.Sprintf("%s!A%d", t.sheetName, rowNum)
		_, err := t.service.Spreadsheets.Values.Update(t.spreadsheetID, writeRange, &sheets.ValueRange{
			Values: [][]interface{}{row},
		}).ValueInputOption("RAW").Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("failed to update row %d: %w", rowNum, err)
		}
		t.log.Debug().Uint("item_id", item.ID).Int("row", rowNum).Msg("Updated tracked upload")
		return nil
	}

	if err := t.appendRows(ctx, [][]interface{}{row}); err != nil {
		return err
	}
	t.log.Info().Uint("item_id", item.ID).Str("video_id", item.TargetVideoID).Msg("Tracked new upload")
	return nil
}

// SyncUploads writes all items, appending new rows in one call and rewriting known ones
func (t *SheetsTracker) SyncUploads(ctx context.Context, items []*models.ContentItem) (int, int, error) {
	if err := t.InitializeSheet(ctx); err != nil {
		return 0, 0, err
	}
	rows, err := t.existingRows(ctx)
	if err != nil {
		return 0, 0, err
	}

	var newRows [][]interface{}
	var updates []*sheets.ValueRange
	for _, item := range items {
		row := t.buildRow(item)
		if rowNum, ok := rows[item.ID]; ok {
			updates = append(updates, &sheets.ValueRange{
				Range:  fmt.Sprintf("%s!A%d", t.sheetName, rowNum),
				Values: [][]interface{}{row},
			})
			continue
		}
		newRows = append(newRows, row)
	}

	if len(newRows) > 0 {
		if err := t.appendRows(ctx, newRows); err != nil {
			return 0, 0, err
		}
	}
	if len(updates) > 0 {
		_, err := t.service.Spreadsheets.Values.BatchUpdate(t.spreadsheetID, &sheets.BatchUpdateValuesRequest{
			ValueInputOption: "RAW",
			Data:             updates,
		}).Context(ctx).Do()
		if err != nil {
			return len(newRows), 0, fmt.Errorf("failed to batch update rows: %w", err)
		}
	}

	t.log.Info().Int("added", len(newRows)).Int("updated", len(updates)).Msg("Uploads synced to sheet")
	return len(newRows), len(updates), nil
}

// GetAllUploads reads every tracked upload from the sheet
func (t *SheetsTracker) GetAllUploads(ctx context.Context) ([]*TrackedUpload, error) {
	readRange := fmt.Sprintf("%s!A2:%s", t.sheetName, lastColumn)
	resp, err := t.service.Spreadsheets.Values.Get(t.spreadsheetID, readRange).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to read uploads: %w", err)
	}

	var uploads []*TrackedUpload
	for _, row := range resp.Values {
		if u := parseRow(row); u != nil {
			uploads = append(uploads, u)
		}
	}
	return uploads, nil
}

// existingRows maps tracked item IDs to their 1-indexed row numbers
func (t *SheetsTracker) existingRows(ctx context.Context) (map[uint]int, error) {
	readRange := fmt.Sprintf("%s!A:A", t.sheetName)
	resp, err := t.service.Spreadsheets.Values.Get(t.spreadsheetID, readRange).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to read item IDs: %w", err)
	}

	rows := make(map[uint]int, len(resp.Values))
	for i, row := range resp.Values {
		if len(row) == 0 {
			continue
		}
		id, err := strconv.ParseUint(fmt.Sprintf("%v", row[0]), 10, 64)
		if err != nil {
			continue // header
		}
		rows[uint(id)] = i + 1
	}
	return rows, nil
}

func (t *SheetsTracker) appendRows(ctx context.Context, rows [][]interface{}) error {
	appendRange := fmt.Sprintf("%s!A:%s", t.sheetName, lastColumn)
	_, err := t.service.Spreadsheets.Values.Append(t.spreadsheetID, appendRange, &sheets.ValueRange{
		Values: rows,
	}).ValueInputOption("RAW").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to append rows: %w", err)
	}
	return nil
}

func (t *SheetsTracker) buildRow(item *models.ContentItem) []interface{} {
	mappingID := ""
	if item.MappingID != nil {
		mappingID = strconv.FormatUint(uint64(*item.MappingID), 10)
	}
	targetURL := ""
	if item.TargetVideoID != "" {
		targetURL = "https://www.youtube.com/shorts/" + item.TargetVideoID
	}
	return []interface{}{
		item.ID,
		item.VideoID,
		item.SourceChannel,
		mappingID,
		item.Title,
		item.TargetChannel,
		item.TargetVideoID,
		targetURL,
		string(item.Visibility),
		formatTime(item.UploadedAt),
		formatTime(item.ScheduledPublishAt),
		string(item.Status),
		item.ErrorMessage,
		t.now().UTC().Format(time.RFC3339),
	}
}

// parseRow parses a sheet row into a TrackedUpload
func parseRow(row []interface{}) *TrackedUpload {
	if len(row) == 0 {
		return nil
	}
	get := func(i int) string {
		if i < len(row) {
			return fmt.Sprintf("%v", row[i])
		}
		return ""
	}
	getTime := func(i int) time.Time {
		ts, _ := time.Parse(time.RFC3339, get(i))
		return ts
	}

	id, err := strconv.ParseUint(get(0), 10, 64)
	if err != nil {
		return nil
	}
	return &TrackedUpload{
		ItemID:        uint(id),
		VideoID:       get(1),
		SourceChannel: get(2),
		MappingID:     get(3),
		Title:         get(4),
		TargetChannel: get(5),
		TargetVideoID: get(6),
		TargetURL:     get(7),
		Visibility:    get(8),
		UploadedAt:    getTime(9),
		PublishAt:     getTime(10),
		Status:        get(11),
		Error:         get(12),
		UpdatedAt:     getTime(13),
	}
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
