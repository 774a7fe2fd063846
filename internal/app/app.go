// Package app wires configuration, logging, and collaborators into the
// vaani command-line entrypoints.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/ankushbhardwxj/vaani/internal/audio"
	"github.com/ankushbhardwxj/vaani/internal/cli"
	"github.com/ankushbhardwxj/vaani/internal/config"
	"github.com/ankushbhardwxj/vaani/internal/doctor"
	"github.com/ankushbhardwxj/vaani/internal/enhance"
	"github.com/ankushbhardwxj/vaani/internal/history"
	"github.com/ankushbhardwxj/vaani/internal/ipc"
	"github.com/ankushbhardwxj/vaani/internal/logging"
	"github.com/ankushbhardwxj/vaani/internal/notify"
	"github.com/ankushbhardwxj/vaani/internal/output"
	"github.com/ankushbhardwxj/vaani/internal/session"
	"github.com/ankushbhardwxj/vaani/internal/state"
	"github.com/ankushbhardwxj/vaani/internal/transcribe"
	"github.com/ankushbhardwxj/vaani/internal/version"
)

const forwardTimeout = 220 * time.Millisecond

type Runner struct {
	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger
}

func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	r := Runner{Stdout: stdout, Stderr: stderr}
	return r.Execute(ctx, args)
}

func (r Runner) Execute(ctx context.Context, args []string) int {
	parsed, err := cli.Parse(args)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n\n", err)
		fmt.Fprint(r.Stderr, cli.HelpText("vaani"))
		return 2
	}

	if parsed.ShowHelp {
		fmt.Fprint(r.Stdout, cli.HelpText("vaani"))
		return 0
	}

	if parsed.Command == cli.CommandVersion {
		fmt.Fprintln(r.Stdout, version.String())
		return 0
	}

	logRuntime, err := logging.New()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: setup logging: %v\n", err)
		return 1
	}
	defer func() { _ = logRuntime.Close() }()

	logger := r.Logger
	if logger == nil {
		logger = logRuntime.Logger
	}

	configPath := parsed.ConfigPath
	if configPath == "" {
		configPath, err = config.File()
		if err != nil {
			fmt.Fprintf(r.Stderr, "error: %v\n", err)
			return 1
		}
	}

	source, err := config.NewSource(configPath, logger)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		logger.Error("load config failed", "error", err.Error())
		return 1
	}

	logger.Info("command start",
		"command", parsed.Command,
		"config", source.Path(),
		"log", logRuntime.Path,
	)

	switch parsed.Command {
	case cli.CommandDoctor:
		report := doctor.Run(source.Path(), source.Config())
		fmt.Fprintln(r.Stdout, report.String())
		if report.OK() {
			return 0
		}
		return 1
	case cli.CommandDevices:
		return r.commandDevices()
	case cli.CommandStatus:
		return r.commandStatus(ctx)
	case cli.CommandHistory:
		return r.commandHistory(ctx, logger)
	case cli.CommandStop:
		return r.forwardOrFail(ctx, ipc.CommandStop)
	case cli.CommandCancel:
		return r.forwardOrFail(ctx, ipc.CommandCancel)
	case cli.CommandToggle:
		return r.forwardOrFail(ctx, ipc.CommandToggle)
	case cli.CommandStart:
		return r.commandStart(ctx, source, logger)
	default:
		fmt.Fprintf(r.Stderr, "error: unsupported command %q\n", parsed.Command)
		return 2
	}
}

// commandStart runs the dictation daemon until context cancellation.
func (r Runner) commandStart(ctx context.Context, source *config.Source, logger *slog.Logger) int {
	dir, err := config.Dir()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if err := config.EnsureDirs(); err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	socketPath, err := ipc.RuntimeSocketPath(dir)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	listener, err := ipc.Acquire(ctx, socketPath, 180*time.Millisecond, 8, nil)
	if err != nil {
		if errors.Is(err, ipc.ErrAlreadyRunning) {
			fmt.Fprintln(r.Stderr, "error: vaani is already running")
			return 1
		}
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() {
		_ = listener.Close()
		_ = os.Remove(socketPath)
	}()

	pendingPath, err := config.PendingRecordingPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	var historyStore session.History
	if key, keyErr := config.HistoryKey(); keyErr != nil {
		logger.Error("history disabled: no encryption key", "error", keyErr.Error())
	} else {
		store, openErr := history.Open(filepath.Join(dir, "history.db"), key, logger)
		if openErr != nil {
			logger.Error("history disabled: open failed", "error", openErr.Error())
		} else {
			defer func() { _ = store.Close() }()
			historyStore = historyAdapter{store: store}
		}
	}

	cfg := source.Config()
	controller := session.NewController(session.Deps{
		Logger:  logger,
		Machine: state.NewMachine(logger),
		Source:  source,
		NewRecorder: func(cfg config.Config) (session.Recorder, error) {
			return audio.NewRecorder(cfg.MicrophoneDevice, cfg.SampleRate, logger)
		},
		Processor:      audio.NewProcessor(logger),
		Transcriber:    transcribe.NewClient(cfg.STTBaseURL, config.OpenAIKey, logger),
		Enhancer:       enhance.NewClient(cfg.LLMBaseURL, config.AnthropicKey, filepath.Join(dir, "prompts"), logger),
		Paster:         output.NewPaster(source.Config, logger),
		History:        historyStore,
		Notifier:       notify.NewDesktop(filepath.Join(dir, "sounds"), logger),
		PendingPath:    pendingPath,
		PrewarmTimeout: time.Duration(cfg.PrewarmTimeoutSeconds) * time.Second,
	})
	go controller.Prewarm()

	logger.Info("daemon started", "socket", socketPath)
	fmt.Fprintln(r.Stdout, "vaani is running; bind a hotkey to 'vaani toggle'")

	serveErr := ipc.Serve(ctx, listener, controller)
	controller.Shutdown()
	logger.Info("daemon stopped")

	if serveErr != nil {
		fmt.Fprintf(r.Stderr, "error: ipc server failed: %v\n", serveErr)
		return 1
	}
	return 0
}

// historyAdapter binds the history store to the session contract.
type historyAdapter struct {
	store *history.Store
}

func (h historyAdapter) Add(ctx context.Context, entry session.Entry) (string, error) {
	return h.store.Add(ctx, history.Record{
		Mode:         entry.Mode,
		AudioSeconds: entry.AudioSeconds,
		RawText:      entry.RawText,
		EnhancedText: entry.EnhancedText,
	})
}

func (r Runner) commandDevices() int {
	devices, err := audio.ListDevices()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if len(devices) == 0 {
		fmt.Fprintln(r.Stdout, "no audio devices found")
		return 1
	}

	for _, device := range devices {
		defaultMark := " "
		if device.Default {
			defaultMark = "*"
		}
		muted := "no"
		if device.Muted {
			muted = "yes"
		}
		fmt.Fprintf(r.Stdout, "%s id=%s | description=%q | muted=%s\n",
			defaultMark, device.ID, device.Description, muted)
	}

	return 0
}

func (r Runner) commandStatus(ctx context.Context) int {
	socketPath, err := r.socketPath()
	if err != nil {
		fmt.Fprintln(r.Stdout, "idle")
		return 0
	}

	resp, handled, err := tryForward(ctx, socketPath, ipc.CommandStatus)
	if handled {
		if err != nil {
			fmt.Fprintf(r.Stderr, "error: %v\n", err)
			return 1
		}
		if resp.State == "" {
			resp.State = "idle"
		}
		fmt.Fprintln(r.Stdout, resp.State)
		return 0
	}

	fmt.Fprintln(r.Stdout, "idle")
	return 0
}

func (r Runner) commandHistory(ctx context.Context, logger *slog.Logger) int {
	dir, err := config.Dir()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	key, err := config.HistoryKey()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	store, err := history.Open(filepath.Join(dir, "history.db"), key, logger)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() { _ = store.Close() }()

	records, err := store.Recent(ctx, 10)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if len(records) == 0 {
		fmt.Fprintln(r.Stdout, "no dictations recorded")
		return 0
	}

	for _, record := range records {
		fmt.Fprintf(r.Stdout, "%s  [%s]  %s\n",
			record.CreatedAt.Local().Format("2006-01-02 15:04"),
			record.Mode,
			record.EnhancedText,
		)
	}
	return 0
}

func (r Runner) forwardOrFail(ctx context.Context, command ipc.Command) int {
	socketPath, err := r.socketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	resp, handled, err := tryForward(ctx, socketPath, command)
	if !handled {
		fmt.Fprintln(r.Stderr, "error: no active vaani session (run 'vaani start')")
		return 1
	}
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if resp.Message != "" {
		fmt.Fprintln(r.Stdout, resp.Message)
	}
	return 0
}

func (r Runner) socketPath() (string, error) {
	dir, err := config.Dir()
	if err != nil {
		dir = ""
	}
	return ipc.RuntimeSocketPath(dir)
}

func tryForward(ctx context.Context, socketPath string, command ipc.Command) (ipc.Response, bool, error) {
	resp, err := ipc.Send(ctx, socketPath, ipc.Request{Command: command}, forwardTimeout)
	if err == nil {
		if resp.OK {
			return resp, true, nil
		}
		return resp, true, errors.New(resp.Error)
	}

	if isSocketMissing(err) || isConnectionRefused(err) {
		return ipc.Response{}, false, nil
	}

	return ipc.Response{}, true, fmt.Errorf("forward command %q: %w", command, err)
}

func isSocketMissing(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, os.ErrNotExist) ||
		strings.Contains(err.Error(), "no such file or directory")
}

func isConnectionRefused(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, syscall.ECONNREFUSED)
}
