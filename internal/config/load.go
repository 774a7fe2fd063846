package config

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/google/renameio/v2"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

// Load reads and validates the config file at path. A missing file yields
// the defaults; a malformed or invalid file is an error.
func Load(path string) (Config, error) {
	var cfg Config

	// Defaults go in first so file values override them. An explicit zero
	// in the file must reach validation, not be re-defaulted away.
	if err := defaults.Set(&cfg); err != nil {
		return Config{}, fmt.Errorf("apply config defaults: %w", err)
	}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// defaults only
	case err != nil:
		return Config{}, fmt.Errorf("read config %q: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %q: %w", path, err)
		}
	}

	cfg.overrideFromEnv()

	if err := validate.Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	if err := cfg.checkCommands(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Save writes cfg to path atomically.
func Save(path string, cfg Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := renameio.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config %q: %w", path, err)
	}
	return nil
}

// overrideFromEnv applies VAANI_* environment overrides on top of file values.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv("VAANI_ACTIVE_MODE"); v != "" {
		c.ActiveMode = v
	}
	if v := os.Getenv("VAANI_STT_MODEL"); v != "" {
		c.STTModel = v
	}
	if v := os.Getenv("VAANI_LLM_MODEL"); v != "" {
		c.LLMModel = v
	}
	if v := os.Getenv("VAANI_MICROPHONE_DEVICE"); v != "" {
		c.MicrophoneDevice = v
	}
}

// checkCommands validates that every configured command string parses to argv.
func (c Config) checkCommands() error {
	for name, raw := range map[string]string{
		"clipboard_copy_cmd":  c.ClipboardCopyCmd,
		"clipboard_read_cmd":  c.ClipboardReadCmd,
		"paste_keystroke_cmd": c.PasteKeystrokeCmd,
	} {
		argv, err := parseArgv(raw)
		if err != nil {
			return fmt.Errorf("config %s: %w", name, err)
		}
		if len(argv) == 0 {
			return fmt.Errorf("config %s: command is empty", name)
		}
	}
	return nil
}

// Source serves the current config and reloads it from disk only when the
// file was modified since the last check. Checks happen at defined
// checkpoints (start-of-action), never via filesystem watchers.
type Source struct {
	path   string
	logger *slog.Logger

	mu      sync.Mutex
	modTime time.Time
	cfg     Config
}

// NewSource loads the initial config and records the file's mtime.
func NewSource(path string, logger *slog.Logger) (*Source, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	s := &Source{path: path, logger: logger, cfg: cfg}
	if info, statErr := os.Stat(path); statErr == nil {
		s.modTime = info.ModTime()
	}
	return s, nil
}

// Path returns the config file path backing this source.
func (s *Source) Path() string { return s.path }

// Config returns the current config snapshot.
func (s *Source) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// ReloadIfChanged re-reads the file when its mtime moved since the last
// check. It returns the active config and whether a reload happened. A
// failed reload keeps the previous config.
func (s *Source) ReloadIfChanged() (Config, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, err := os.Stat(s.path)
	if err != nil {
		return s.cfg, false
	}
	if info.ModTime().Equal(s.modTime) {
		return s.cfg, false
	}
	s.modTime = info.ModTime()

	cfg, err := Load(s.path)
	if err != nil {
		if s.logger != nil {
			s.logger.Error("config reload failed; keeping previous config", "error", err.Error())
		}
		return s.cfg, false
	}

	s.cfg = cfg
	if s.logger != nil {
		s.logger.Info("config reloaded from disk", "path", s.path)
	}
	return s.cfg, true
}
