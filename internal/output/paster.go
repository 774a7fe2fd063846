// Package output pastes enhanced text at the cursor while preserving the
// user's clipboard.
package output

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/ankushbhardwxj/vaani/internal/config"
)

// clipboardSettleDelay gives the clipboard manager time to pick up the new
// contents before the paste keystroke fires.
const clipboardSettleDelay = 50 * time.Millisecond

// commandRunner executes argv with input on stdin and returns stdout.
type commandRunner func(ctx context.Context, argv []string, input string) (string, error)

// Paster dispatches paste-at-cursor through configured clipboard and
// keystroke commands: save clipboard, copy text, send the paste shortcut,
// restore the clipboard after the configured delay.
type Paster struct {
	cfgFn  func() config.Config
	logger *slog.Logger

	run   commandRunner
	sleep func(time.Duration)
}

// NewPaster returns a paster reading live config through cfgFn.
func NewPaster(cfgFn func() config.Config, logger *slog.Logger) *Paster {
	return &Paster{
		cfgFn:  cfgFn,
		logger: logger,
		run:    runCommand,
		sleep:  time.Sleep,
	}
}

// Paste writes text to the clipboard, dispatches the paste keystroke, and
// restores the previous clipboard after restoreDelay. Clipboard read and
// restore are best-effort; copy and keystroke failures propagate.
func (p *Paster) Paste(ctx context.Context, text string, restoreDelay time.Duration) error {
	if text == "" {
		return nil
	}
	cfg := p.cfgFn()

	original, readErr := p.runBounded(ctx, cfg.ReadArgv(), "")
	if readErr != nil {
		p.logWarn("read clipboard failed; skipping restore", readErr)
	}

	if _, err := p.runBounded(ctx, cfg.CopyArgv(), text); err != nil {
		return fmt.Errorf("set clipboard: %w", err)
	}
	p.sleep(clipboardSettleDelay)

	if _, err := p.runBounded(ctx, cfg.PasteArgv(), ""); err != nil {
		return fmt.Errorf("dispatch paste keystroke: %w", err)
	}
	p.sleep(restoreDelay)

	if readErr == nil {
		if _, err := p.runBounded(ctx, cfg.CopyArgv(), original); err != nil {
			p.logWarn("restore clipboard failed", err)
		}
	}

	if p.logger != nil {
		p.logger.Info("text pasted at cursor", "chars", len(text))
	}
	return nil
}

func (p *Paster) runBounded(ctx context.Context, argv []string, input string) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return p.run(runCtx, argv, input)
}

func (p *Paster) logWarn(message string, err error) {
	if p.logger == nil || err == nil {
		return
	}
	p.logger.Warn(message, "error", err.Error())
}

// runCommand executes argv, feeding input to stdin and capturing stdout.
func runCommand(ctx context.Context, argv []string, input string) (string, error) {
	if len(argv) == 0 {
		return "", fmt.Errorf("command argv cannot be empty")
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdin = strings.NewReader(input)

	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("run %s: %w", argv[0], err)
	}
	return stdout.String(), nil
}
