package storage

import (
	"context"
	"path/filepath"
	"testing"

	"emerald_exchange/internal/domain"
)

func TestYAMLStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "account_stats.yml")
	s := NewYAMLStore(path)
	ctx := context.Background()

	if err := s.Init(ctx); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if err := s.IncrementConverted(ctx, "acct-1", "steve", 64); err != nil {
		t.Fatalf("IncrementConverted failed: %v", err)
	}
	if err := s.IncrementConverted(ctx, "acct-1", "steve", 36); err != nil {
		t.Fatalf("IncrementConverted failed: %v", err)
	}
	if err := s.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Reopen from disk.
	reopened := NewYAMLStore(path)
	if err := reopened.Init(ctx); err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	stats, err := reopened.AccountStats(ctx, "acct-1")
	if err != nil {
		t.Fatalf("AccountStats failed: %v", err)
	}
	if stats == nil || stats.TotalConverted != 100 {
		t.Errorf("Expected total 100 after reload, got %+v", stats)
	}
	if stats.Name != "steve" {
		t.Errorf("Expected name steve, got %s", stats.Name)
	}
}

func TestYAMLStore_MissingAccount(t *testing.T) {
	s := NewYAMLStore(filepath.Join(t.TempDir(), "stats.yml"))
	ctx := context.Background()
	if err := s.Init(ctx); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	stats, err := s.AccountStats(ctx, "nobody")
	if err != nil {
		t.Fatalf("Expected no error for missing account, got %v", err)
	}
	if stats != nil {
		t.Errorf("Expected nil stats for missing account, got %+v", stats)
	}
	total, err := s.TotalConverted(ctx, "nobody")
	if err != nil || total != 0 {
		t.Errorf("Expected zero total for missing account, got %d (%v)", total, err)
	}
}

func TestYAMLStore_All(t *testing.T) {
	s := NewYAMLStore(filepath.Join(t.TempDir(), "stats.yml"))
	ctx := context.Background()
	if err := s.Init(ctx); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	s.IncrementConverted(ctx, "b", "bob", 10)
	s.IncrementConverted(ctx, "a", "amy", 20)

	all := s.All()
	if len(all) != 2 {
		t.Fatalf("Expected 2 rows, got %d", len(all))
	}
	if all[0].ID != "a" || all[1].ID != "b" {
		t.Errorf("Expected stable ID ordering, got %s, %s", all[0].ID, all[1].ID)
	}
}

func TestYAMLStore_SaveOverwrites(t *testing.T) {
	s := NewYAMLStore(filepath.Join(t.TempDir(), "stats.yml"))
	ctx := context.Background()
	if err := s.Init(ctx); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	s.IncrementConverted(ctx, "acct-1", "steve", 64)
	if err := s.SaveAccountStats(ctx, &domain.AccountStats{ID: "acct-1", Name: "steve", TotalConverted: 5}); err != nil {
		t.Fatalf("SaveAccountStats failed: %v", err)
	}

	total, _ := s.TotalConverted(ctx, "acct-1")
	if total != 5 {
		t.Errorf("Expected save to overwrite total, got %d", total)
	}
}
