package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaultsWhenNoConfigFilesExist(t *testing.T) {
	dir := t.TempDir()

	cfg, sources, err := Load(dir, "", Config{}, false, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Dir != ".poseidon" {
		t.Fatalf("dir = %q, want .poseidon", cfg.Dir)
	}
	if sources.Project != "" || sources.Global != "" {
		t.Fatalf("sources = %+v, want both empty", sources)
	}
}

func TestLoadProjectConfigOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, filepath.Join(dir, FileName), `{"dir": "mygraph", "pool_frames": 2048}`)

	cfg, sources, err := Load(dir, "", Config{}, false, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Dir != "mygraph" {
		t.Fatalf("dir = %q, want mygraph", cfg.Dir)
	}
	if cfg.PoolFrames != 2048 {
		t.Fatalf("pool frames = %d, want 2048", cfg.PoolFrames)
	}
	if sources.Project == "" {
		t.Fatal("sources.Project should be set once a project config loads")
	}
}

func TestLoadCLIOverrideWinsOverProjectConfig(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, filepath.Join(dir, FileName), `{"dir": "mygraph"}`)

	cfg, _, err := Load(dir, "", Config{Dir: "override"}, true, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Dir != "override" {
		t.Fatalf("dir = %q, want override", cfg.Dir)
	}
}

func TestLoadExplicitConfigPathMustExist(t *testing.T) {
	dir := t.TempDir()

	_, _, err := Load(dir, "missing.json", Config{}, false, nil)
	if !errors.Is(err, ErrConfigFileNotFound) {
		t.Fatalf("load err = %v, want ErrConfigFileNotFound", err)
	}
}

func TestLoadRejectsExplicitlyEmptyDir(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, filepath.Join(dir, FileName), `{"dir": ""}`)

	_, _, err := Load(dir, "", Config{}, false, nil)
	if !errors.Is(err, ErrConfigInvalid) {
		t.Fatalf("load err = %v, want ErrConfigInvalid", err)
	}
}

func TestLoadAcceptsJSONCComments(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, filepath.Join(dir, FileName), "{\n  // a comment\n  \"dir\": \"commented\",\n}")

	cfg, _, err := Load(dir, "", Config{}, false, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Dir != "commented" {
		t.Fatalf("dir = %q, want commented", cfg.Dir)
	}
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()

	cfg := DefaultConfig()
	cfg.Dir = "roundtrip"
	cfg.PageSize = 8192

	if err := Save(dir, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, _, err := Load(dir, "", Config{}, false, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Dir != "roundtrip" || loaded.PageSize != 8192 {
		t.Fatalf("loaded = %+v, want dir=roundtrip page_size=8192", loaded)
	}
}

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config %s: %v", path, err)
	}
}
