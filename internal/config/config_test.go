package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/thyrook/boardsight/internal/classifier"
	"github.com/thyrook/boardsight/internal/engine"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg == nil {
		t.Fatal("DefaultConfig returned nil")
	}

	if cfg.AppName != "boardsight" {
		t.Errorf("Expected AppName 'boardsight', got %s", cfg.AppName)
	}

	if cfg.Version == "" {
		t.Error("Version not set")
	}

	if !cfg.Position.SwapColorsOnFlip {
		t.Error("Expected colors to be swapped on flip by default")
	}

	if cfg.Engine.MultiPV != 3 {
		t.Errorf("Expected MultiPV 3, got %d", cfg.Engine.MultiPV)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config failed validation: %v", err)
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name      string
		modifyFn  func(*Config)
		expectErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"even blur kernel", func(c *Config) { c.Localizer.BlurKernel = 4 }, true},
		{"zero patch size", func(c *Config) { c.Sampler.PatchSize = 0 }, true},
		{"unknown backend", func(c *Config) { c.Classifier.Backend = "oracle" }, true},
		{"remote without url", func(c *Config) { c.Classifier.Backend = classifier.BackendRemote }, true},
		{"remote with url", func(c *Config) {
			c.Classifier.Backend = classifier.BackendRemote
			c.Classifier.RemoteURL = "http://127.0.0.1:9000"
		}, false},
		{"cache without size", func(c *Config) { c.Classifier.CacheSize = 0 }, true},
		{"no cache", func(c *Config) {
			c.Classifier.CachePath = ""
			c.Classifier.CacheSize = 0
		}, false},
		{"margin above one", func(c *Config) { c.Orientation.MinMargin = 1.5 }, true},
		{"bad orientation mode", func(c *Config) { c.Orientation.Mode = "sideways" }, true},
		{"forced black", func(c *Config) { c.Orientation.Mode = "black" }, false},
		{"missing engine", func(c *Config) { c.Engine.Path = "" }, true},
		{"unknown preset", func(c *Config) { c.Engine.Preset = "grandmaster" }, true},
		{"elo too low", func(c *Config) { c.Engine.Elo = 500 }, true},
		{"custom elo", func(c *Config) { c.Engine.Elo = 2000 }, false},
		{"depth too deep", func(c *Config) { c.Engine.Depth = 40 }, true},
		{"zero threads", func(c *Config) { c.Engine.Threads = 0 }, true},
		{"multipv too high", func(c *Config) { c.Engine.MultiPV = 50 }, true},
		{"zero timeout", func(c *Config) { c.Engine.TimeoutMs = 0 }, true},
		{"redis without ttl", func(c *Config) {
			c.Cache.RedisAddr = "localhost:6379"
			c.Cache.TTLSeconds = 0
		}, true},
		{"negative interval", func(c *Config) { c.Loop.IntervalMs = -1 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modifyFn(cfg)
			err := cfg.Validate()
			if tt.expectErr && err == nil {
				t.Error("Expected validation error, got nil")
			}
			if !tt.expectErr && err != nil {
				t.Errorf("Expected no error, got %v", err)
			}
		})
	}
}

func TestConfigSaveLoad(t *testing.T) {
	for _, name := range []string{"config.json", "config.yaml"} {
		t.Run(name, func(t *testing.T) {
			configPath := filepath.Join(t.TempDir(), name)

			cfg := DefaultConfig()
			cfg.AppName = "TestApp"
			cfg.Engine.Preset = "expert"
			cfg.Capture.Region = Region{X: 10, Y: 20, Width: 640, Height: 640}

			if err := cfg.Save(configPath); err != nil {
				t.Fatalf("Failed to save config: %v", err)
			}

			if _, err := os.Stat(configPath); os.IsNotExist(err) {
				t.Fatal("Config file was not created")
			}

			loaded, err := Load(configPath)
			if err != nil {
				t.Fatalf("Failed to load config: %v", err)
			}

			if loaded.AppName != "TestApp" {
				t.Errorf("Expected AppName 'TestApp', got %s", loaded.AppName)
			}
			if loaded.Engine.Preset != "expert" {
				t.Errorf("Expected preset 'expert', got %s", loaded.Engine.Preset)
			}
			if loaded.Capture.Region != cfg.Capture.Region {
				t.Errorf("Expected region %+v, got %+v", cfg.Capture.Region, loaded.Capture.Region)
			}
		})
	}
}

func TestLoadPartialYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "partial.yml")
	data := []byte("engine:\n  path: /usr/games/stockfish\n  elo: 1800\nloop:\n  interval_ms: 500\n")
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Engine.Path != "/usr/games/stockfish" {
		t.Errorf("Expected engine path to be loaded, got %s", cfg.Engine.Path)
	}
	if cfg.Engine.MultiPV != 3 {
		t.Errorf("Expected default MultiPV 3 to survive, got %d", cfg.Engine.MultiPV)
	}
	if cfg.Interval() != 500*time.Millisecond {
		t.Errorf("Expected interval 500ms, got %v", cfg.Interval())
	}

	st, err := cfg.Strength()
	if err != nil {
		t.Fatalf("Strength failed: %v", err)
	}
	if st.Elo != 1800 || st.SkillLevel != 8 || st.Depth != engine.DefaultDepth {
		t.Errorf("Unexpected strength %+v", st)
	}
}

func TestLoadInvalid(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "broken.json")
	if err := os.WriteFile(configPath, []byte("{not json"), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	if _, err := Load(configPath); err == nil {
		t.Error("Expected parse error")
	}
}

func TestLoadOrDefault(t *testing.T) {
	cfg := LoadOrDefault("nonexistent.json")
	if cfg == nil {
		t.Fatal("LoadOrDefault returned nil")
	}

	if cfg.AppName != "boardsight" {
		t.Error("LoadOrDefault did not return default config")
	}

	configPath := filepath.Join(t.TempDir(), "config.json")

	testCfg := DefaultConfig()
	testCfg.AppName = "CustomName"
	if err := testCfg.Save(configPath); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}

	loaded := LoadOrDefault(configPath)
	if loaded.AppName != "CustomName" {
		t.Error("LoadOrDefault did not load existing config")
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("BOARDSIGHT_ENGINE_PATH", " /opt/stockfish ")
	t.Setenv("BOARDSIGHT_LOG_LEVEL", "debug")
	t.Setenv("BOARDSIGHT_REDIS_ADDR", "")

	cfg := DefaultConfig()
	cfg.Cache.RedisAddr = "keep:6379"
	cfg.ApplyEnv()

	if cfg.Engine.Path != "/opt/stockfish" {
		t.Errorf("Expected engine path '/opt/stockfish', got %q", cfg.Engine.Path)
	}
	if cfg.Interface.LogLevel != "debug" {
		t.Errorf("Expected log level 'debug', got %q", cfg.Interface.LogLevel)
	}
	if cfg.Cache.RedisAddr != "keep:6379" {
		t.Errorf("Expected empty env to keep redis addr, got %q", cfg.Cache.RedisAddr)
	}
}

func TestEnsureDirectories(t *testing.T) {
	tmpDir := t.TempDir()

	cfg := DefaultConfig()
	cfg.Interface.LogPath = filepath.Join(tmpDir, "logs", "test.log")
	cfg.Interface.AnnotateDir = filepath.Join(tmpDir, "annotated")
	cfg.Classifier.CachePath = filepath.Join(tmpDir, "data", "labels.db")

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("Failed to ensure directories: %v", err)
	}

	dirs := []string{
		filepath.Join(tmpDir, "logs"),
		filepath.Join(tmpDir, "annotated"),
		filepath.Join(tmpDir, "data"),
	}

	for _, dir := range dirs {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			t.Errorf("Directory was not created: %s", dir)
		}
	}
}

func TestDerivedSettings(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Capture.Region = Region{X: 5, Y: 6, Width: 700, Height: 710}
	cfg.Engine.MoveTimeMs = 250

	v := cfg.Vision()
	if v.CaptureRegion.Width != 700 || v.CaptureRegion.Y != 6 {
		t.Errorf("Unexpected capture region %+v", v.CaptureRegion)
	}
	if v.PatchSize != cfg.Sampler.PatchSize {
		t.Errorf("Expected patch size %d, got %d", cfg.Sampler.PatchSize, v.PatchSize)
	}

	ec := cfg.EngineClient()
	if ec.MoveTime != 250*time.Millisecond {
		t.Errorf("Expected movetime 250ms, got %v", ec.MoveTime)
	}
	if ec.Timeout != 15*time.Second {
		t.Errorf("Expected timeout 15s, got %v", ec.Timeout)
	}
	if cfg.CacheTTL() != time.Hour {
		t.Errorf("Expected ttl 1h, got %v", cfg.CacheTTL())
	}
}
