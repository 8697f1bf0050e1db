package confloader

import (
	"os"
	"path/filepath"
	"testing"
)

type testConfig struct {
	Job struct {
		Parallelism  int    `koanf:"parallelism"`
		PollInterval string `koanf:"poll_interval"`
	} `koanf:"job"`
	Snapshot struct {
		Dir string `koanf:"dir"`
	} `koanf:"snapshot"`
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "streamvet.yaml")
	yaml := "job:\n  parallelism: 4\n  poll_interval: 20ms\nsnapshot:\n  dir: /tmp/sv\n"
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	var cfg testConfig
	l := NewLoader(WithConfigFile(path))
	if err := l.Load(&cfg); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Job.Parallelism != 4 {
		t.Fatalf("parallelism = %d, want 4", cfg.Job.Parallelism)
	}
	if cfg.Snapshot.Dir != "/tmp/sv" {
		t.Fatalf("snapshot dir = %q, want /tmp/sv", cfg.Snapshot.Dir)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "streamvet.yaml")
	if err := os.WriteFile(path, []byte("job:\n  parallelism: 2\n"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	t.Setenv("STREAMVET_JOB_PARALLELISM", "8")

	var cfg testConfig
	l := NewLoader(WithConfigFile(path))
	if err := l.Load(&cfg); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Job.Parallelism != 8 {
		t.Fatalf("parallelism = %d, want 8 (env should win)", cfg.Job.Parallelism)
	}
}

func TestLoadMap(t *testing.T) {
	l := NewLoader()
	if err := l.LoadMap(map[string]any{"job.parallelism": 3}); err != nil {
		t.Fatalf("LoadMap: %v", err)
	}
	if got := l.GetInt("job.parallelism"); got != 3 {
		t.Fatalf("GetInt = %d, want 3", got)
	}
}

func TestLoadMissingFile(t *testing.T) {
	var cfg testConfig
	l := NewLoader(WithConfigFile("/nonexistent/streamvet.yaml"))
	if err := l.Load(&cfg); err == nil {
		t.Fatal("Load of missing file should fail")
	}
}
