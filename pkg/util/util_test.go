package util

import "testing"

func TestClampInt(t *testing.T) {
	tests := []struct {
		name       string
		v, lo, hi  int
		want       int
	}{
		{"below", -5, 0, 10, 0},
		{"above", 50, 0, 10, 10},
		{"inside", 5, 0, 10, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClampInt(tt.v, tt.lo, tt.hi); got != tt.want {
				t.Errorf("ClampInt(%d, %d, %d) = %d, want %d", tt.v, tt.lo, tt.hi, got, tt.want)
			}
		})
	}
}

func TestEnvInt(t *testing.T) {
	t.Setenv("UTIL_TEST_INT", "42")
	if got := EnvInt("UTIL_TEST_INT", 1, 0); got != 42 {
		t.Errorf("EnvInt = %d, want 42", got)
	}
	t.Setenv("UTIL_TEST_INT", "not-a-number")
	if got := EnvInt("UTIL_TEST_INT", 7, 0); got != 7 {
		t.Errorf("EnvInt invalid = %d, want default 7", got)
	}
	t.Setenv("UTIL_TEST_INT", "-3")
	if got := EnvInt("UTIL_TEST_INT", 7, 0); got != 0 {
		t.Errorf("EnvInt below min = %d, want 0", got)
	}
}

func TestLoadFromEnv(t *testing.T) {
	type cfg struct {
		Name    string `env:"UTIL_TEST_NAME" default:"fallback"`
		Count   int    `env:"UTIL_TEST_COUNT" default:"3" min:"1"`
		Enabled bool   `env:"UTIL_TEST_ENABLED" default:"true"`
	}
	t.Setenv("UTIL_TEST_NAME", "gateway")
	t.Setenv("UTIL_TEST_COUNT", "")
	t.Setenv("UTIL_TEST_ENABLED", "off")

	var c cfg
	LoadFromEnv(&c)
	if c.Name != "gateway" {
		t.Errorf("Name = %q, want gateway", c.Name)
	}
	if c.Count != 3 {
		t.Errorf("Count = %d, want default 3", c.Count)
	}
	if c.Enabled {
		t.Error("Enabled = true, want false from 'off'")
	}
}
