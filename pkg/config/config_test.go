package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestResolveEnvPath(t *testing.T) {
	t.Setenv(EnvFileVar, "from-var.env")

	cases := []struct {
		args []string
		want string
	}{
		{args: []string{"-env", "a.env"}, want: "a.env"},
		{args: []string{"--env=b.env"}, want: "b.env"},
		{args: []string{"serve", "-env=c.env", "--debug"}, want: "c.env"},
		{args: []string{"--", "-env", "ignored.env"}, want: "from-var.env"},
		{args: []string{"--environment", "x"}, want: "from-var.env"},
		{args: nil, want: "from-var.env"},
	}
	for _, tc := range cases {
		if got := resolveEnvPath(tc.args); got != tc.want {
			t.Fatalf("resolveEnvPath(%v) = %q, want %q", tc.args, got, tc.want)
		}
	}
}

type sampleConfig struct {
	Addr        string        `split_words:"true" default:":8000"`
	Timeout     time.Duration `split_words:"true" default:"30s"`
	MaxAttempts int           `split_words:"true" required:"true"`
}

func TestNewReadsEnvFileWithoutOverridingEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	content := "CFGTEST_MAX_ATTEMPTS=5\nCFGTEST_TIMEOUT=2s\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	t.Setenv(EnvFileVar, path)
	t.Setenv("CFGTEST_TIMEOUT", "7s")
	t.Cleanup(func() { os.Unsetenv("CFGTEST_MAX_ATTEMPTS") })

	cfg, err := New[sampleConfig]("CFGTEST")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if cfg.MaxAttempts != 5 {
		t.Fatalf("MaxAttempts = %d, want 5 from file", cfg.MaxAttempts)
	}
	if cfg.Timeout != 7*time.Second {
		t.Fatalf("Timeout = %v, want environment value 7s", cfg.Timeout)
	}
	if cfg.Addr != ":8000" {
		t.Fatalf("Addr = %q, want default", cfg.Addr)
	}
}

func TestNewMissingRequired(t *testing.T) {
	t.Setenv(EnvFileVar, "")

	if _, err := New[sampleConfig]("CFGMISSING"); err == nil {
		t.Fatal("New() error = nil, want missing required value")
	}
}

func TestNewMissingEnvFile(t *testing.T) {
	t.Setenv(EnvFileVar, filepath.Join(t.TempDir(), "absent.env"))

	if _, err := New[sampleConfig]("CFGTEST"); err == nil {
		t.Fatal("New() error = nil, want env file error")
	}
}
