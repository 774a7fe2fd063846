// Package config resolves, parses, validates, and hot-reloads vaani configuration.
package config

// Config is the fully materialized runtime configuration used by vaani,
// loaded from ~/.vaani/config.yaml.
type Config struct {
	// Hotkey is the push-to-talk combo a desktop keybind maps to the CLI.
	Hotkey string `yaml:"hotkey" default:"alt"`

	MicrophoneDevice    string  `yaml:"microphone_device" default:"default"`
	SampleRate          int     `yaml:"sample_rate" default:"16000" validate:"gt=0"`
	VADThreshold        float64 `yaml:"vad_threshold" default:"0.05" validate:"gte=0,lte=1"`
	MaxRecordingSeconds int     `yaml:"max_recording_seconds" default:"600" validate:"gt=0"`

	STTModel string `yaml:"stt_model" default:"whisper-1"`
	LLMModel string `yaml:"llm_model" default:"claude-haiku-4-5-20251001"`

	// ActiveMode selects the enhancement prompt under prompts/modes.
	ActiveMode string `yaml:"active_mode" default:"professional" validate:"oneof=cleanup professional casual bullets"`

	// Nil means enabled; an explicit false in the file disables.
	SoundsEnabled        *bool `yaml:"sounds_enabled"`
	NotificationsEnabled *bool `yaml:"notifications_enabled"`

	PasteRestoreDelayMS   int `yaml:"paste_restore_delay_ms" default:"100" validate:"gte=0"`
	PrewarmTimeoutSeconds int `yaml:"prewarm_timeout_seconds" default:"120" validate:"gt=0"`

	ClipboardCopyCmd  string `yaml:"clipboard_copy_cmd" default:"wl-copy --trim-newline"`
	ClipboardReadCmd  string `yaml:"clipboard_read_cmd" default:"wl-paste --no-newline"`
	PasteKeystrokeCmd string `yaml:"paste_keystroke_cmd" default:"wtype -M ctrl -P v -p v -m ctrl"`

	STTBaseURL string `yaml:"stt_base_url" default:"https://api.openai.com/v1"`
	LLMBaseURL string `yaml:"llm_base_url" default:"https://api.anthropic.com/v1"`
}

// SoundsOn reports whether audio cues are enabled (default true).
func (c Config) SoundsOn() bool {
	return c.SoundsEnabled == nil || *c.SoundsEnabled
}

// NotificationsOn reports whether desktop notifications are enabled (default true).
func (c Config) NotificationsOn() bool {
	return c.NotificationsEnabled == nil || *c.NotificationsEnabled
}

// CopyArgv returns the parsed clipboard-write command. Load validates the
// raw string, so parse failures here are impossible for loaded configs.
func (c Config) CopyArgv() []string { return mustParseArgv(c.ClipboardCopyCmd) }

// ReadArgv returns the parsed clipboard-read command.
func (c Config) ReadArgv() []string { return mustParseArgv(c.ClipboardReadCmd) }

// PasteArgv returns the parsed paste-keystroke command.
func (c Config) PasteArgv() []string { return mustParseArgv(c.PasteKeystrokeCmd) }
