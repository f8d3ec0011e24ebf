package cfg

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("REDIS_URL", "")
	t.Setenv("STORE_BACKEND", "")
	t.Setenv("MAX_BODY_BYTES", "")
	t.Setenv("TEST_MODE", "")

	c, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if c.StoreBackend != BackendMemory {
		t.Errorf("StoreBackend = %q, want memory", c.StoreBackend)
	}
	if c.MaxBodyBytes != 2_000_000 {
		t.Errorf("MaxBodyBytes = %d, want 2000000", c.MaxBodyBytes)
	}
	if c.TestMode {
		t.Error("TestMode should default to false")
	}
	if err := Validate(c); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadRedisURLSelectsRedis(t *testing.T) {
	t.Setenv("STORE_BACKEND", "")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("REDIS_TIMEOUT", "250ms")

	c, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if c.StoreBackend != BackendRedis {
		t.Errorf("StoreBackend = %q, want redis", c.StoreBackend)
	}
	if c.RedisTimeout != 250*time.Millisecond {
		t.Errorf("RedisTimeout = %v, want 250ms", c.RedisTimeout)
	}
}

func TestLoadExplicitBackendWins(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("STORE_BACKEND", "SQLite")

	c, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if c.StoreBackend != BackendSQLite {
		t.Errorf("StoreBackend = %q, want sqlite", c.StoreBackend)
	}
}

func TestLoadRejectsBadNumbers(t *testing.T) {
	t.Setenv("MAX_BODY_BYTES", "lots")
	if _, err := Load(); err == nil {
		t.Error("expected error for non-numeric MAX_BODY_BYTES")
	}
}

func TestTestModeFlag(t *testing.T) {
	t.Setenv("TEST_MODE", "1")
	c, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !c.TestMode {
		t.Error("TEST_MODE=1 should enable test mode")
	}
}

func validCfg() *Cfg {
	return &Cfg{
		Port:            "3000",
		StoreBackend:    BackendMemory,
		MemoryMaxPastes: 100,
		RedisKeyPrefix:  "paste:",
		DatabasePath:    "x.db",
		DBMaxOpenConns:  1,
		BoltPath:        "x.bolt",
		MaxBodyBytes:    1024,
		BackendTimeout:  time.Second,
		ContextTimeout:  2 * time.Second,
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Cfg)
		wantErr bool
	}{
		{"valid", func(c *Cfg) {}, false},
		{"bad port", func(c *Cfg) { c.Port = "http" }, true},
		{"unknown backend", func(c *Cfg) { c.StoreBackend = "etcd" }, true},
		{"redis without url", func(c *Cfg) { c.StoreBackend = BackendRedis }, true},
		{"redis bad scheme", func(c *Cfg) {
			c.StoreBackend = BackendRedis
			c.RedisURL = "http://localhost"
		}, true},
		{"rediss without tls", func(c *Cfg) {
			c.StoreBackend = BackendRedis
			c.RedisURL = "rediss://localhost:6380"
		}, true},
		{"redis ok", func(c *Cfg) {
			c.StoreBackend = BackendRedis
			c.RedisURL = "redis://localhost:6379"
		}, false},
		{"sqlite without path", func(c *Cfg) {
			c.StoreBackend = BackendSQLite
			c.DatabasePath = ""
		}, true},
		{"bolt ok", func(c *Cfg) { c.StoreBackend = BackendBolt }, false},
		{"zero body limit", func(c *Cfg) { c.MaxBodyBytes = 0 }, true},
		{"request timeout shorter than backend", func(c *Cfg) { c.ContextTimeout = time.Millisecond }, true},
		{"bad base url", func(c *Cfg) { c.PublicBaseURL = "example.com" }, true},
		{"production needs metrics auth", func(c *Cfg) { c.Environment = "production" }, true},
		{"production forbids test mode", func(c *Cfg) {
			c.Environment = "production"
			c.MetricsUser = "u"
			c.MetricsPass = NewSecret("p")
			c.TestMode = true
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validCfg()
			tt.mutate(c)
			err := Validate(c)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSecretRedacted(t *testing.T) {
	s := NewSecret("hunter2")
	if s.String() != "***REDACTED***" {
		t.Errorf("String() leaked secret: %s", s.String())
	}
	s.Wipe()
	if s.Value() == "hunter2" {
		t.Error("Wipe did not clear the secret")
	}
}
