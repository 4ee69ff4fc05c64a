package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/wark-project/wark/internal/cost"
)

func TestLoadDefaults(t *testing.T) {
	os.Unsetenv("PORT")
	os.Unsetenv("WARK_CACHE_DIR")
	os.Unsetenv("WARK_JUDGE_CONCURRENCY")

	cfg := Load()
	if cfg.Port != "33000" {
		t.Fatalf("expected default port 33000, got %s", cfg.Port)
	}
	if cfg.CacheDir != "http-cache" {
		t.Fatalf("expected default cache dir, got %s", cfg.CacheDir)
	}
	if cfg.JudgeConcurrent != 8 {
		t.Fatalf("expected default judge concurrency 8, got %d", cfg.JudgeConcurrent)
	}
}

func TestLoadCostTableNoOverride(t *testing.T) {
	tbl, err := LoadCostTable("")
	if err != nil {
		t.Fatalf("LoadCostTable: %v", err)
	}
	if tbl.Penalty() != cost.DefaultPenalty {
		t.Fatalf("expected default penalty, got %d", tbl.Penalty())
	}
}

func TestLoadCostTableWithOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "costs.yaml")
	content := []byte("penalty: 42\noverrides:\n  - op: 106\n    cost: 7\n") // op 106 == 0x6A == i32.add
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write override file: %v", err)
	}

	tbl, err := LoadCostTable(path)
	if err != nil {
		t.Fatalf("LoadCostTable: %v", err)
	}
	if tbl.Penalty() != 42 {
		t.Fatalf("expected overridden penalty 42, got %d", tbl.Penalty())
	}
	price, ok := tbl.Cost(cost.OpSingle(0x6A))
	if !ok || price != 7 {
		t.Fatalf("expected overridden price 7 for i32.add, got %d, %v", price, ok)
	}
}
