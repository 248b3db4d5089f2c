package config

import (
	"testing"
	"time"
)

func TestLoadIngestServiceConfig_Defaults(t *testing.T) {
	t.Setenv("INGEST_API_KEY", "secret")

	cfg, err := LoadIngestServiceConfig()
	if err != nil {
		t.Fatalf("LoadIngestServiceConfig() error = %v", err)
	}

	if cfg.ListenAddr != ":8080" {
		t.Errorf("expected ListenAddr :8080, got %s", cfg.ListenAddr)
	}
	if cfg.ServicePort != 8080 {
		t.Errorf("expected ServicePort 8080, got %d", cfg.ServicePort)
	}
	if cfg.RateLimitCapacity != 100 || cfg.RateLimitRefillTokens != 100 || cfg.RateLimitRefillInterval != time.Second {
		t.Errorf("unexpected rate limit defaults: %d/%d/%v", cfg.RateLimitCapacity, cfg.RateLimitRefillTokens, cfg.RateLimitRefillInterval)
	}
	if cfg.MaxDrinkAmount != 1000 {
		t.Errorf("expected MaxDrinkAmount 1000, got %d", cfg.MaxDrinkAmount)
	}
	if cfg.Partitions != 8 {
		t.Errorf("expected 8 partitions, got %d", cfg.Partitions)
	}
	if len(cfg.RedisAddrs) != 1 || cfg.RedisAddrs[0] != "localhost:6379" {
		t.Errorf("unexpected RedisAddrs %v", cfg.RedisAddrs)
	}
}

func TestLoadIngestServiceConfig_RequiresAPIKey(t *testing.T) {
	t.Setenv("INGEST_API_KEY", "")

	if _, err := LoadIngestServiceConfig(); err == nil {
		t.Fatal("expected error when INGEST_API_KEY is empty")
	}
}

func TestLoadIngestServiceConfig_ParsesRedisAddrs(t *testing.T) {
	t.Setenv("INGEST_API_KEY", "secret")
	t.Setenv("REDIS_ADDRS", "redis-0:6379, redis-1:6379")

	cfg, err := LoadIngestServiceConfig()
	if err != nil {
		t.Fatalf("LoadIngestServiceConfig() error = %v", err)
	}
	want := []string{"redis-0:6379", "redis-1:6379"}
	if len(cfg.RedisAddrs) != len(want) {
		t.Fatalf("expected %d addrs, got %v", len(want), cfg.RedisAddrs)
	}
	for i := range want {
		if cfg.RedisAddrs[i] != want[i] {
			t.Errorf("addr %d: expected %s, got %s", i, want[i], cfg.RedisAddrs[i])
		}
	}
}

func TestLoadProjectorServiceConfig_RejectsShortLease(t *testing.T) {
	t.Setenv("PROJECTOR_REBALANCE_INTERVAL", "10s")
	t.Setenv("PROJECTOR_LEASE_TTL", "15s")

	if _, err := LoadProjectorServiceConfig(); err == nil {
		t.Fatal("expected error for lease shorter than two rebalance intervals")
	}
}

func TestLoadProjectorServiceConfig_Defaults(t *testing.T) {
	cfg, err := LoadProjectorServiceConfig()
	if err != nil {
		t.Fatalf("LoadProjectorServiceConfig() error = %v", err)
	}
	if cfg.ServicePort != 8082 {
		t.Errorf("expected ServicePort 8082, got %d", cfg.ServicePort)
	}
	if !cfg.ArchiveEnabled {
		t.Error("expected archive to be enabled by default")
	}
	if cfg.ReplayFromStart {
		t.Error("expected replay to be disabled by default")
	}
}

func TestLoadQueryServiceConfig_InvalidLimits(t *testing.T) {
	t.Setenv("LEADERBOARD_DEFAULT_LIMIT", "50")
	t.Setenv("LEADERBOARD_MAX_LIMIT", "20")

	if _, err := LoadQueryServiceConfig(); err == nil {
		t.Fatal("expected error when default limit exceeds max limit")
	}
}

func TestLoadQueryServiceConfig_InvalidDuration(t *testing.T) {
	t.Setenv("QUERY_REQUEST_TIMEOUT", "soon")

	if _, err := LoadQueryServiceConfig(); err == nil {
		t.Fatal("expected error for malformed duration")
	}
}

func TestExtractPort(t *testing.T) {
	tests := []struct {
		addr    string
		want    int
		wantErr bool
	}{
		{":8083", 8083, false},
		{"0.0.0.0:9000", 9000, false},
		{"localhost", 0, true},
		{":http", 0, true},
	}
	for _, tt := range tests {
		got, err := extractPort(tt.addr)
		if (err != nil) != tt.wantErr {
			t.Errorf("extractPort(%q) error = %v, wantErr %v", tt.addr, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("extractPort(%q) = %d, want %d", tt.addr, got, tt.want)
		}
	}
}
