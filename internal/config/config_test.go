package config

import (
	"os"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.ReinvestmentPercent.String() != "70" {
		t.Fatalf("expected default reinvestment percent 70, got %s", cfg.ReinvestmentPercent.String())
	}
	if !cfg.MockPersistence() {
		t.Fatalf("expected mock persistence with no supabase credentials set")
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("SUPABASE_URL", "https://example.supabase.co")
	t.Setenv("SUPABASE_SERVICE_ROLE_KEY", "test-key")
	t.Setenv("REINVESTMENT_PERCENT", "60")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MockPersistence() {
		t.Fatalf("expected durable persistence once supabase credentials are set")
	}
	if cfg.ReinvestmentPercent.String() != "60" {
		t.Fatalf("expected overridden reinvestment percent 60, got %s", cfg.ReinvestmentPercent.String())
	}

	os.Unsetenv("SUPABASE_URL")
	os.Unsetenv("SUPABASE_SERVICE_ROLE_KEY")
	os.Unsetenv("REINVESTMENT_PERCENT")
}
