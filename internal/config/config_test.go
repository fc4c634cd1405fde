package config

import "testing"

func TestLoadFallsBackToDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	def := Default()
	if cfg.DefaultSessionDurationMS != def.DefaultSessionDurationMS {
		t.Fatalf("DefaultSessionDurationMS = %d, want default %d", cfg.DefaultSessionDurationMS, def.DefaultSessionDurationMS)
	}
}

func TestLoadHonorsEnvOverride(t *testing.T) {
	t.Setenv("ENGINE_SESSION_DURATION_MS", "5000")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DefaultSessionDurationMS != 5000 {
		t.Fatalf("DefaultSessionDurationMS = %d, want 5000", cfg.DefaultSessionDurationMS)
	}
}

func TestLoadHonorsLegacyCacheAlias(t *testing.T) {
	t.Setenv("CACHE_MAX_BYTES", "128")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxCacheEntries != 128 {
		t.Fatalf("MaxCacheEntries = %d, want 128 via legacy alias", cfg.MaxCacheEntries)
	}
}

func TestLoadRejectsNonPositiveSessionDuration(t *testing.T) {
	t.Setenv("ENGINE_SESSION_DURATION_MS", "0")
	if _, err := Load(); err == nil {
		t.Fatalf("expected an error for a non-positive session duration")
	}
}

func TestLoadRejectsNonPositiveCacheSize(t *testing.T) {
	t.Setenv("ENGINE_CACHE_MAX_ENTRIES", "0")
	if _, err := Load(); err == nil {
		t.Fatalf("expected an error for a non-positive cache size")
	}
}
