package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/thyrook/boardsight/internal/board"
	"github.com/thyrook/boardsight/internal/classifier"
	"github.com/thyrook/boardsight/internal/engine"
	"github.com/thyrook/boardsight/internal/vision"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	AppName     string            `json:"app_name" yaml:"app_name"`
	Version     string            `json:"version" yaml:"version"`
	Capture     CaptureConfig     `json:"capture" yaml:"capture"`
	Localizer   LocalizerConfig   `json:"localizer" yaml:"localizer"`
	Sampler     SamplerConfig     `json:"sampler" yaml:"sampler"`
	Classifier  ClassifierConfig  `json:"classifier" yaml:"classifier"`
	Orientation OrientationConfig `json:"orientation" yaml:"orientation"`
	Position    PositionConfig    `json:"position" yaml:"position"`
	Engine      EngineConfig      `json:"engine" yaml:"engine"`
	Cache       CacheConfig       `json:"cache" yaml:"cache"`
	Remote      RemoteConfig      `json:"remote" yaml:"remote"`
	Interface   InterfaceConfig   `json:"interface" yaml:"interface"`
	Loop        LoopConfig        `json:"loop" yaml:"loop"`
}

// CaptureConfig selects what to capture. A zero-sized region means the
// whole display.
type CaptureConfig struct {
	Region  Region `json:"region" yaml:"region"`
	Display int    `json:"display" yaml:"display"`
}

// Region defines a screen capture area
type Region struct {
	X      int `json:"x" yaml:"x"`
	Y      int `json:"y" yaml:"y"`
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

// LocalizerConfig tunes board detection
type LocalizerConfig struct {
	BlurKernel      int     `json:"blur_kernel" yaml:"blur_kernel"`
	CannyLow        float32 `json:"canny_low" yaml:"canny_low"`
	CannyHigh       float32 `json:"canny_high" yaml:"canny_high"`
	MinAreaFraction float64 `json:"min_area_fraction" yaml:"min_area_fraction"`
	MinScore        float64 `json:"min_score" yaml:"min_score"`
	ScoreSize       int     `json:"score_size" yaml:"score_size"`
}

// SamplerConfig tunes cell classification
type SamplerConfig struct {
	PatchSize     int     `json:"patch_size" yaml:"patch_size"`
	ConfidenceMin float64 `json:"confidence_min" yaml:"confidence_min"`
	Workers       int     `json:"workers" yaml:"workers"`
}

// ClassifierConfig selects and configures the patch classifier
type ClassifierConfig struct {
	Backend     string `json:"backend" yaml:"backend"`
	TemplateDir string `json:"template_dir" yaml:"template_dir"`
	ModelPath   string `json:"model_path" yaml:"model_path"`
	HiddenSize  int    `json:"hidden_size" yaml:"hidden_size"`
	RemoteURL   string `json:"remote_url" yaml:"remote_url"`
	TimeoutMs   int    `json:"timeout_ms" yaml:"timeout_ms"`
	// CachePath enables the on-disk label cache when set.
	CachePath string `json:"cache_path" yaml:"cache_path"`
	CacheSize int    `json:"cache_size" yaml:"cache_size"`
}

type OrientationConfig struct {
	MinMargin float64 `json:"min_margin" yaml:"min_margin"`
	// Mode is the override the session starts with: auto, white or black.
	Mode string `json:"mode" yaml:"mode"`
}

type PositionConfig struct {
	SwapColorsOnFlip bool `json:"swap_colors_on_flip" yaml:"swap_colors_on_flip"`
}

// EngineConfig contains UCI engine settings
type EngineConfig struct {
	Path          string   `json:"path" yaml:"path"`
	Args          []string `json:"args,omitempty" yaml:"args,omitempty"`
	Preset        string   `json:"preset" yaml:"preset"`
	Elo           int      `json:"elo" yaml:"elo"`
	Depth         int      `json:"depth" yaml:"depth"`
	MoveTimeMs    int      `json:"movetime_ms" yaml:"movetime_ms"`
	Threads       int      `json:"threads" yaml:"threads"`
	HashMB        int      `json:"hash_mb" yaml:"hash_mb"`
	MultiPV       int      `json:"multipv" yaml:"multipv"`
	LimitStrength bool     `json:"limit_strength" yaml:"limit_strength"`
	TimeoutMs     int      `json:"timeout_ms" yaml:"timeout_ms"`
}

// CacheConfig points at the redis analysis cache. An empty address
// disables it.
type CacheConfig struct {
	RedisAddr  string `json:"redis_addr" yaml:"redis_addr"`
	TTLSeconds int    `json:"ttl_seconds" yaml:"ttl_seconds"`
}

type RemoteConfig struct {
	// Listen enables the websocket endpoint when set, e.g. "127.0.0.1:8765".
	Listen string `json:"listen" yaml:"listen"`
}

// InterfaceConfig contains console and logging settings
type InterfaceConfig struct {
	LogLevel    string `json:"log_level" yaml:"log_level"`
	LogPath     string `json:"log_path" yaml:"log_path"`
	AnnotateDir string `json:"annotate_dir" yaml:"annotate_dir"`
	Quiet       bool   `json:"quiet" yaml:"quiet"`
}

type LoopConfig struct {
	// IntervalMs > 0 runs cycles continuously.
	IntervalMs     int `json:"interval_ms" yaml:"interval_ms"`
	CaptureRetries int `json:"capture_retries" yaml:"capture_retries"`
	HistorySize    int `json:"history_size" yaml:"history_size"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	v := vision.DefaultConfig()
	return &Config{
		AppName: "boardsight",
		Version: "0.3.0",
		Localizer: LocalizerConfig{
			BlurKernel:      v.BlurKernel,
			CannyLow:        v.CannyLow,
			CannyHigh:       v.CannyHigh,
			MinAreaFraction: v.MinAreaFraction,
			MinScore:        v.MinScore,
			ScoreSize:       v.ScoreSize,
		},
		Sampler: SamplerConfig{
			PatchSize:     v.PatchSize,
			ConfidenceMin: v.ConfidenceMin,
			Workers:       min(runtime.NumCPU(), 8),
		},
		Classifier: ClassifierConfig{
			Backend:     classifier.BackendTemplate,
			TemplateDir: "data/templates",
			ModelPath:   "data/models/patch_net.gob",
			HiddenSize:  128,
			TimeoutMs:   2000,
			CachePath:   "data/labels.db",
			CacheSize:   100000,
		},
		Orientation: OrientationConfig{
			MinMargin: board.DefaultMinMargin,
			Mode:      "auto",
		},
		Position: PositionConfig{SwapColorsOnFlip: true},
		Engine: EngineConfig{
			Path:      "stockfish",
			Preset:    "default",
			Depth:     engine.DefaultDepth,
			Threads:   1,
			HashMB:    64,
			MultiPV:   3,
			TimeoutMs: 15000,
		},
		Cache: CacheConfig{TTLSeconds: 3600},
		Interface: InterfaceConfig{
			LogLevel:    "info",
			LogPath:     "logs/boardsight.log",
			AnnotateDir: "data/annotated",
		},
		Loop: LoopConfig{
			CaptureRetries: 3,
			HistorySize:    32,
		},
	}
}

// Load reads a JSON or YAML configuration file, chosen by extension.
// Missing fields keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if isYAML(path) {
		err = yaml.Unmarshal(data, cfg)
	} else {
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault loads path, falling back to defaults if it cannot be read.
func LoadOrDefault(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		return DefaultConfig()
	}
	return cfg
}

// Save writes the configuration to a file
func (c *Config) Save(path string) error {
	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// ApplyEnv overrides selected fields from the environment.
func (c *Config) ApplyEnv() {
	if v := strings.TrimSpace(os.Getenv("BOARDSIGHT_ENGINE_PATH")); v != "" {
		c.Engine.Path = v
	}
	if v := strings.TrimSpace(os.Getenv("BOARDSIGHT_LOG_LEVEL")); v != "" {
		c.Interface.LogLevel = v
	}
	if v := strings.TrimSpace(os.Getenv("BOARDSIGHT_REDIS_ADDR")); v != "" {
		c.Cache.RedisAddr = v
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := c.Vision().Validate(); err != nil {
		return err
	}

	switch c.Classifier.Backend {
	case classifier.BackendTemplate:
		if c.Classifier.TemplateDir == "" {
			return fmt.Errorf("template backend needs template_dir")
		}
	case classifier.BackendNet:
		if c.Classifier.ModelPath == "" {
			return fmt.Errorf("net backend needs model_path")
		}
	case classifier.BackendRemote:
		if c.Classifier.RemoteURL == "" {
			return fmt.Errorf("remote backend needs remote_url")
		}
	default:
		return fmt.Errorf("unknown classifier backend %q", c.Classifier.Backend)
	}
	if c.Classifier.CachePath != "" && c.Classifier.CacheSize <= 0 {
		return fmt.Errorf("invalid classifier cache size: %d", c.Classifier.CacheSize)
	}

	if c.Orientation.MinMargin < 0 || c.Orientation.MinMargin > 1 {
		return fmt.Errorf("invalid orientation margin: %f (must be 0-1)", c.Orientation.MinMargin)
	}
	if _, err := board.ParseOverrideMode(c.Orientation.Mode); err != nil {
		return err
	}

	if c.Engine.Path == "" {
		return fmt.Errorf("engine path is required")
	}
	if _, err := c.Strength(); err != nil {
		return err
	}
	if c.Engine.Threads < 1 || c.Engine.Threads > 64 {
		return fmt.Errorf("invalid engine threads: %d (must be 1-64)", c.Engine.Threads)
	}
	if c.Engine.HashMB < 1 {
		return fmt.Errorf("invalid engine hash: %d", c.Engine.HashMB)
	}
	if c.Engine.MultiPV < 1 || c.Engine.MultiPV > 10 {
		return fmt.Errorf("invalid multipv: %d (must be 1-10)", c.Engine.MultiPV)
	}
	if c.Engine.MoveTimeMs < 0 || c.Engine.TimeoutMs <= 0 {
		return fmt.Errorf("invalid engine timing: movetime %dms, timeout %dms", c.Engine.MoveTimeMs, c.Engine.TimeoutMs)
	}

	if c.Cache.RedisAddr != "" && c.Cache.TTLSeconds <= 0 {
		return fmt.Errorf("invalid cache ttl: %d", c.Cache.TTLSeconds)
	}
	if c.Loop.IntervalMs < 0 || c.Loop.CaptureRetries < 1 || c.Loop.HistorySize < 1 {
		return fmt.Errorf("invalid loop settings")
	}
	return nil
}

// EnsureDirectories creates the parent directories of every configured
// output path.
func (c *Config) EnsureDirectories() error {
	dirs := []string{}
	if c.Interface.LogPath != "" {
		dirs = append(dirs, filepath.Dir(c.Interface.LogPath))
	}
	if c.Interface.AnnotateDir != "" {
		dirs = append(dirs, c.Interface.AnnotateDir)
	}
	if c.Classifier.CachePath != "" {
		dirs = append(dirs, filepath.Dir(c.Classifier.CachePath))
	}
	if c.Classifier.Backend == classifier.BackendNet && c.Classifier.ModelPath != "" {
		dirs = append(dirs, filepath.Dir(c.Classifier.ModelPath))
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// Vision builds the capture, localizer and sampler settings.
func (c *Config) Vision() *vision.Config {
	return &vision.Config{
		CaptureRegion: vision.CaptureRegion{
			X:      c.Capture.Region.X,
			Y:      c.Capture.Region.Y,
			Width:  c.Capture.Region.Width,
			Height: c.Capture.Region.Height,
		},
		Display:         c.Capture.Display,
		BlurKernel:      c.Localizer.BlurKernel,
		CannyLow:        c.Localizer.CannyLow,
		CannyHigh:       c.Localizer.CannyHigh,
		MinAreaFraction: c.Localizer.MinAreaFraction,
		MinScore:        c.Localizer.MinScore,
		ScoreSize:       c.Localizer.ScoreSize,
		PatchSize:       c.Sampler.PatchSize,
		ConfidenceMin:   c.Sampler.ConfidenceMin,
		Workers:         c.Sampler.Workers,
	}
}

// Strength resolves the configured preset or elo.
func (c *Config) Strength() (engine.Strength, error) {
	if c.Engine.Elo > 0 {
		st, err := engine.CustomElo(c.Engine.Elo)
		if err != nil {
			return engine.Strength{}, err
		}
		if c.Engine.Depth != 0 {
			st.Depth = c.Engine.Depth
		}
		return st, st.Validate()
	}
	return engine.ParseStrength(c.Engine.Preset, c.Engine.Depth)
}

// EngineClient builds the analysis client settings.
func (c *Config) EngineClient() engine.Config {
	return engine.Config{
		Threads:       c.Engine.Threads,
		HashMB:        c.Engine.HashMB,
		MultiPV:       c.Engine.MultiPV,
		LimitStrength: c.Engine.LimitStrength,
		MoveTime:      time.Duration(c.Engine.MoveTimeMs) * time.Millisecond,
		Timeout:       time.Duration(c.Engine.TimeoutMs) * time.Millisecond,
	}
}

func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}

// ClassifierOptions builds the patch classifier settings.
func (c *Config) ClassifierOptions() classifier.Options {
	return classifier.Options{
		Backend:     c.Classifier.Backend,
		TemplateDir: c.Classifier.TemplateDir,
		ModelPath:   c.Classifier.ModelPath,
		HiddenSize:  c.Classifier.HiddenSize,
		RemoteURL:   c.Classifier.RemoteURL,
		Timeout:     time.Duration(c.Classifier.TimeoutMs) * time.Millisecond,
		CachePath:   c.Classifier.CachePath,
		CacheSize:   c.Classifier.CacheSize,
	}
}

func (c *Config) Interval() time.Duration {
	return time.Duration(c.Loop.IntervalMs) * time.Millisecond
}
