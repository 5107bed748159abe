package google

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"expensetracker/internal/core"
)

// fakeSheets records the calls the mirror makes against the Sheets REST API.
type fakeSheets struct {
	mu      sync.Mutex
	titles  []string
	calls   []string
	added   []string
	written [][]interface{}
}

func (f *fakeSheets) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")

	path := r.URL.Path
	switch {
	case r.Method == http.MethodGet && strings.HasSuffix(path, "/spreadsheets/sid"):
		f.calls = append(f.calls, "get")
		sheets := make([]map[string]any, 0, len(f.titles))
		for _, t := range f.titles {
			sheets = append(sheets, map[string]any{"properties": map[string]any{"title": t}})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"spreadsheetId": "sid", "sheets": sheets})
	case r.Method == http.MethodPost && strings.HasSuffix(path, ":batchUpdate"):
		f.calls = append(f.calls, "add")
		var req gsheet.BatchUpdateSpreadsheetRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		for _, rq := range req.Requests {
			if rq.AddSheet != nil {
				f.added = append(f.added, rq.AddSheet.Properties.Title)
				f.titles = append(f.titles, rq.AddSheet.Properties.Title)
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"spreadsheetId": "sid"})
	case r.Method == http.MethodPost && strings.HasSuffix(path, ":clear"):
		f.calls = append(f.calls, "clear")
		_ = json.NewEncoder(w).Encode(map[string]any{"spreadsheetId": "sid"})
	case r.Method == http.MethodPut && strings.Contains(path, "/values/"):
		f.calls = append(f.calls, "update")
		var vr gsheet.ValueRange
		_ = json.NewDecoder(r.Body).Decode(&vr)
		f.written = vr.Values
		_ = json.NewEncoder(w).Encode(map[string]any{"spreadsheetId": "sid"})
	default:
		http.Error(w, `{"error":{"code":404,"message":"unexpected call"}}`, http.StatusNotFound)
	}
}

func newTestMirror(t *testing.T, fake *fakeSheets) *Mirror {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	svc, err := gsheet.NewService(context.Background(),
		goption.WithEndpoint(srv.URL+"/"),
		goption.WithoutAuthentication())
	if err != nil {
		t.Fatalf("create service: %v", err)
	}
	return NewMirror(svc, "sid", "tx-")
}

func TestMirror_WriteSnapshotCreatesSheet(t *testing.T) {
	fake := &fakeSheets{}
	m := newTestMirror(t, fake)

	txs := []core.Transaction{
		{Date: "2024-01-02", Type: core.Expense, Category: "Food", Description: "lunch", Amount: 12.5},
	}
	if err := m.WriteSnapshot(context.Background(), "u1", txs); err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}

	want := []string{"get", "add", "clear", "update"}
	if strings.Join(fake.calls, ",") != strings.Join(want, ",") {
		t.Fatalf("calls = %v, want %v", fake.calls, want)
	}
	if len(fake.added) != 1 || fake.added[0] != "tx-u1" {
		t.Fatalf("added sheets = %v", fake.added)
	}
	if len(fake.written) != 2 {
		t.Fatalf("expected header + 1 row, got %v", fake.written)
	}
	if fake.written[0][0] != "Date" || fake.written[1][2] != "Food" || fake.written[1][4] != 12.5 {
		t.Fatalf("unexpected values: %v", fake.written)
	}
}

func TestMirror_WriteSnapshotReusesExistingSheet(t *testing.T) {
	fake := &fakeSheets{titles: []string{"tx-u1"}}
	m := newTestMirror(t, fake)

	if err := m.WriteSnapshot(context.Background(), "u1", nil); err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}
	if len(fake.added) != 0 {
		t.Fatalf("expected no new sheet, got %v", fake.added)
	}
	if len(fake.written) != 1 {
		t.Fatalf("expected only the header row, got %v", fake.written)
	}
}

func TestQuoteSheet(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"tx-u1", "'tx-u1'"},
		{"it's", "'it''s'"},
	}
	for _, tt := range tests {
		if got := quoteSheet(tt.in); got != tt.want {
			t.Errorf("quoteSheet(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestWriteSnapshotWithoutService(t *testing.T) {
	m := NewMirror(nil, "sid", "tx-")
	if err := m.WriteSnapshot(context.Background(), "u1", nil); err == nil {
		t.Fatal("expected error without service")
	}
}
