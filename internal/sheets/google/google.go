package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"expensetracker/internal/core"
	"expensetracker/internal/ports"
)

var _ ports.SnapshotWriter = (*Mirror)(nil)

// Mirror keeps one tab per user holding that user's full transaction list.
type Mirror struct {
	svc           *gsheet.Service
	spreadsheetID string
	prefix        string
}

// NewMirror wraps an existing Sheets service.
func NewMirror(svc *gsheet.Service, spreadsheetID, prefix string) *Mirror {
	return &Mirror{svc: svc, spreadsheetID: spreadsheetID, prefix: prefix}
}

// NewFromEnv creates a mirror using service account credentials.
// Uses GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS.
func NewFromEnv(ctx context.Context, spreadsheetID, prefix string) (*Mirror, error) {
	if strings.TrimSpace(spreadsheetID) == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}

	creds, err := serviceAccountCredentials()
	if err != nil {
		return nil, err
	}

	svc, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(creds),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}

	slog.InfoContext(ctx, "Google Sheets service created", "spreadsheet_id", spreadsheetID)
	return NewMirror(svc, spreadsheetID, prefix), nil
}

func serviceAccountCredentials() ([]byte, error) {
	if inline := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON")); inline != "" {
		return []byte(inline), nil
	}
	path := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_FILE"))
	if path == "" {
		path = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}
	if path == "" {
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read service account file: %w", err)
	}
	return data, nil
}

// WriteSnapshot replaces the user's tab with a header row plus txs.
func (m *Mirror) WriteSnapshot(ctx context.Context, userID string, txs []core.Transaction) error {
	if m.svc == nil {
		return errors.New("sheets service not initialized")
	}
	title := m.SheetTitle(userID)

	if err := m.ensureSheet(ctx, title); err != nil {
		return err
	}

	_, err := m.svc.Spreadsheets.Values.Clear(m.spreadsheetID, quoteSheet(title), &gsheet.ClearValuesRequest{}).
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("clear sheet %q: %w", title, err)
	}

	vr := &gsheet.ValueRange{Values: snapshotValues(txs)}
	_, err = m.svc.Spreadsheets.Values.Update(m.spreadsheetID, quoteSheet(title)+"!A1", vr).
		ValueInputOption("RAW").
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("write sheet %q: %w", title, err)
	}

	slog.InfoContext(ctx, "Mirrored transaction snapshot",
		"user_id", userID,
		"sheet", title,
		"rows", len(txs))
	return nil
}

func (m *Mirror) ensureSheet(ctx context.Context, title string) error {
	ss, err := m.svc.Spreadsheets.Get(m.spreadsheetID).Fields("sheets.properties.title").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("read spreadsheet: %w", err)
	}
	for _, sh := range ss.Sheets {
		if sh.Properties != nil && sh.Properties.Title == title {
			return nil
		}
	}

	req := &gsheet.BatchUpdateSpreadsheetRequest{
		Requests: []*gsheet.Request{{
			AddSheet: &gsheet.AddSheetRequest{
				Properties: &gsheet.SheetProperties{Title: title},
			},
		}},
	}
	if _, err := m.svc.Spreadsheets.BatchUpdate(m.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("add sheet %q: %w", title, err)
	}
	slog.InfoContext(ctx, "Created mirror sheet", "sheet", title)
	return nil
}

// SheetTitle is the tab name used for userID.
func (m *Mirror) SheetTitle(userID string) string {
	return m.prefix + userID
}
