package config

import "testing"

func TestApplyDefaults(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()

	if cfg.Server.Port != 6399 {
		t.Errorf("expected default port 6399, got %d", cfg.Server.Port)
	}
	if cfg.Cursor.ReadSize != 1000 {
		t.Errorf("expected default read size 1000, got %d", cfg.Cursor.ReadSize)
	}
	if cfg.Cursor.MaxIdleMs != 300000 {
		t.Errorf("expected default max idle 300000, got %d", cfg.Cursor.MaxIdleMs)
	}
	if cfg.Cursor.PerIndexCap != 128 {
		t.Errorf("expected default per-index cap 128, got %d", cfg.Cursor.PerIndexCap)
	}
}

func TestValidate_PortClash(t *testing.T) {
	cfg := Config{
		Server: ServerConfig{Port: 7000, MetricsPort: 7000},
	}
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when command and metrics ports clash")
	}
}

func TestValidate_PortRange(t *testing.T) {
	cfg := Config{
		Server: ServerConfig{Port: 70000},
	}
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for out-of-range port")
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("TDX_TEST_PORT", "7001")

	out := string(expandEnvVars([]byte("port: ${TDX_TEST_PORT}\nother: ${TDX_UNSET:-42}")))
	expected := "port: 7001\nother: 42"
	if out != expected {
		t.Errorf("unexpected expansion:\ngot:  %q\nwant: %q", out, expected)
	}
}
