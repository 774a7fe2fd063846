// Package doctor runs runtime readiness diagnostics for config, keys,
// tools, and audio.
package doctor

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/ankushbhardwxj/vaani/internal/audio"
	"github.com/ankushbhardwxj/vaani/internal/config"
)

// Check is one doctor assertion result.
type Check struct {
	Name    string
	Pass    bool
	Message string
}

// Report is the full doctor output contract.
type Report struct {
	Checks []Check
}

// OK returns true when all checks pass.
func (r Report) OK() bool {
	for _, check := range r.Checks {
		if !check.Pass {
			return false
		}
	}
	return true
}

// String renders the report as user-facing text output.
func (r Report) String() string {
	var b strings.Builder
	for _, check := range r.Checks {
		status := "OK"
		if !check.Pass {
			status = "FAIL"
		}
		b.WriteString(fmt.Sprintf("[%s] %s: %s\n", status, check.Name, check.Message))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Run executes environment, config, and runtime checks.
func Run(cfgPath string, cfg config.Config) Report {
	checks := []Check{{
		Name:    "config",
		Pass:    true,
		Message: fmt.Sprintf("loaded %q", cfgPath),
	}}

	checks = append(checks, checkKey("openai.key", config.OpenAIKey))
	checks = append(checks, checkKey("anthropic.key", config.AnthropicKey))

	checks = append(checks, checkCommand(cfg.CopyArgv(), "clipboard_copy_cmd"))
	checks = append(checks, checkCommand(cfg.ReadArgv(), "clipboard_read_cmd"))
	checks = append(checks, checkCommand(cfg.PasteArgv(), "paste_keystroke_cmd"))
	checks = append(checks, checkBinary("busctl", "desktop notifications need busctl"))

	checks = append(checks, checkAudio(cfg))
	checks = append(checks, checkPendingArtifact())

	return Report{Checks: checks}
}

// checkKey validates that an API key resolves.
func checkKey(name string, resolve func() (string, error)) Check {
	if _, err := resolve(); err != nil {
		return Check{Name: name, Pass: false, Message: err.Error()}
	}
	return Check{Name: name, Pass: true, Message: "key is set"}
}

// checkCommand validates that argv contains a runnable command.
func checkCommand(argv []string, name string) Check {
	if len(argv) == 0 {
		return Check{Name: name, Pass: false, Message: "command is empty"}
	}
	return checkBinary(argv[0], fmt.Sprintf("%s command is available", name))
}

// checkBinary validates that a binary exists in PATH.
func checkBinary(bin string, okMsg string) Check {
	path, err := exec.LookPath(bin)
	if err != nil {
		return Check{Name: bin, Pass: false, Message: fmt.Sprintf("binary not found in PATH: %s", bin)}
	}
	return Check{Name: bin, Pass: true, Message: fmt.Sprintf("found at %s (%s)", path, okMsg)}
}

// checkAudio lists input sources and confirms the configured device is
// visible or that a default fallback exists.
func checkAudio(cfg config.Config) Check {
	devices, err := audio.ListDevices()
	if err != nil {
		return Check{Name: "audio.device", Pass: false, Message: err.Error()}
	}
	if len(devices) == 0 {
		return Check{Name: "audio.device", Pass: false, Message: "no input sources found"}
	}

	device := strings.TrimSpace(cfg.MicrophoneDevice)
	if device == "" || strings.EqualFold(device, "default") {
		for _, d := range devices {
			if d.Default {
				return Check{Name: "audio.device", Pass: true, Message: fmt.Sprintf("default source %q", d.ID)}
			}
		}
		return Check{Name: "audio.device", Pass: true, Message: fmt.Sprintf("%d input sources found", len(devices))}
	}

	for _, d := range devices {
		if d.ID == device {
			return Check{Name: "audio.device", Pass: true, Message: fmt.Sprintf("configured source %q found", device)}
		}
	}
	return Check{
		Name:    "audio.device",
		Pass:    true,
		Message: fmt.Sprintf("configured source %q not found; default will be used", device),
	}
}

// checkPendingArtifact reports whether a leftover recording survives a
// previous crash. That is informational, not a failure.
func checkPendingArtifact() Check {
	path, err := config.PendingRecordingPath()
	if err != nil {
		return Check{Name: "pending.recording", Pass: false, Message: err.Error()}
	}
	if _, err := os.Stat(path); err == nil {
		return Check{
			Name:    "pending.recording",
			Pass:    true,
			Message: fmt.Sprintf("leftover recording at %q from an interrupted session", path),
		}
	}
	return Check{Name: "pending.recording", Pass: true, Message: "no leftover recording"}
}
