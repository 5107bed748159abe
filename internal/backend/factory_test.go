package backend

import (
	"context"
	"path/filepath"
	"testing"

	"expensetracker/internal/config"
	"expensetracker/internal/core"
)

func TestFromAppConfig(t *testing.T) {
	tests := []struct {
		name    string
		backend string
		want    BackendType
		wantErr bool
	}{
		{"memory", "memory", MemoryBackend, false},
		{"sqlite", "sqlite", SQLiteBackend, false},
		{"sheets is gone", "sheets", "", true},
		{"empty", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FromAppConfig(&config.Config{DataBackend: tt.backend, SQLiteDBPath: "x.db"})
			if (err != nil) != tt.wantErr {
				t.Fatalf("FromAppConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got.Type != tt.want {
				t.Errorf("Type = %q, want %q", got.Type, tt.want)
			}
		})
	}

	if _, err := FromAppConfig(nil); err == nil {
		t.Error("expected error for nil config")
	}
}

func TestConfigValidate(t *testing.T) {
	if err := (Config{Type: SQLiteBackend}).Validate(); err == nil {
		t.Error("sqlite without a path must be rejected")
	}
	if err := (Config{Type: MemoryBackend}).Validate(); err != nil {
		t.Errorf("memory backend: %v", err)
	}
}

func TestCreateBackend(t *testing.T) {
	ctx := context.Background()
	f := NewFactory(nil)

	configs := []Config{
		{Type: MemoryBackend},
		{Type: SQLiteBackend, SQLiteDBPath: filepath.Join(t.TempDir(), "tracker.db")},
	}
	for _, cfg := range configs {
		t.Run(cfg.Type.String(), func(t *testing.T) {
			res, err := f.CreateBackend(ctx, cfg)
			if err != nil {
				t.Fatalf("CreateBackend() error = %v", err)
			}
			defer res.Cleanup()

			if err := res.Ping(ctx); err != nil {
				t.Fatalf("Ping() error = %v", err)
			}

			in := core.TransactionInput{Amount: 5, Description: "Tea", Category: "Food", Type: core.Expense, Date: "2024-02-01"}
			if _, err := res.Store.Create(ctx, "u1", in); err != nil {
				t.Fatalf("Create() error = %v", err)
			}
			txs, err := res.Store.List(ctx, "u1")
			if err != nil || len(txs) != 1 {
				t.Fatalf("List() = %v, %v", txs, err)
			}
		})
	}
}

func TestGetBackendTypeStrings(t *testing.T) {
	got := GetBackendTypeStrings()
	if len(got) != 2 || got[0] != "sqlite" || got[1] != "memory" {
		t.Errorf("GetBackendTypeStrings() = %v", got)
	}
}
