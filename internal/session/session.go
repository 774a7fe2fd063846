// Package session orchestrates the dictation lifecycle: recording,
// background processing, and the side effects around both.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/renameio/v2"

	"github.com/ankushbhardwxj/vaani/internal/audio"
	"github.com/ankushbhardwxj/vaani/internal/config"
	"github.com/ankushbhardwxj/vaani/internal/ipc"
	"github.com/ankushbhardwxj/vaani/internal/state"
)

const (
	// DefaultPrewarmTimeout bounds how long a start request waits for the
	// first recorder initialization to finish.
	DefaultPrewarmTimeout = 120 * time.Second

	// junkTranscriptChars is the minimum transcript length worth enhancing.
	junkTranscriptChars = 3

	// noticeLimit caps error notification bodies.
	noticeLimit = 100
)

var (
	ErrNotReady     = errors.New("models still loading")
	ErrBusy         = errors.New("previous recording still processing")
	ErrNotRecording = errors.New("not recording")
)

// Recorder captures microphone samples between Start and Stop.
type Recorder interface {
	Start() error
	Stop() []int16
	Cancel()
	Close()
}

// RecorderFactory builds a recorder for the given config. The controller
// calls it lazily and rebuilds the recorder when the device or sample
// rate changes.
type RecorderFactory func(cfg config.Config) (Recorder, error)

// Processor turns raw samples into an encoded clip, or nil when the
// clip contains no speech.
type Processor interface {
	Process(samples []int16, sampleRate int, vadThreshold float64) []byte
}

// Transcriber converts an encoded clip to raw text.
type Transcriber interface {
	Transcribe(ctx context.Context, wav []byte, model string) (string, error)
}

// Enhancer rewrites raw text for the active mode.
type Enhancer interface {
	Enhance(ctx context.Context, text string, mode string, model string) (string, error)
}

// Paster delivers text at the cursor.
type Paster interface {
	Paste(ctx context.Context, text string, restoreDelay time.Duration) error
}

// Entry is one completed dictation.
type Entry struct {
	RawText      string
	EnhancedText string
	Mode         string
	AudioSeconds float64
}

// History records completed dictations. Failures never fail the
// pipeline; text has already been pasted by the time Add runs.
type History interface {
	Add(ctx context.Context, entry Entry) (string, error)
}

// Notifier surfaces lifecycle changes and user-facing notices.
type Notifier interface {
	StateChanged(next state.State)
	Notify(title string, message string)
	PlaySound(name string)
}

type noopNotifier struct{}

func (noopNotifier) StateChanged(state.State) {}
func (noopNotifier) Notify(string, string)    {}
func (noopNotifier) PlaySound(string)         {}

// Deps wires the controller's collaborators. Machine and Notifier may
// be nil; PrewarmTimeout defaults when zero or negative.
type Deps struct {
	Logger      *slog.Logger
	Machine     *state.Machine
	Source      *config.Source
	NewRecorder RecorderFactory
	Processor   Processor
	Transcriber Transcriber
	Enhancer    Enhancer
	Paster      Paster
	History     History
	Notifier    Notifier

	PendingPath    string
	PrewarmTimeout time.Duration
}

// Controller owns the recording lifecycle. Start, stop, cancel, and
// toggle serialize through actionMu; the processing pipeline runs on
// its own goroutine and always returns the machine to idle.
type Controller struct {
	logger  *slog.Logger
	machine *state.Machine
	source  *config.Source

	newRecorder RecorderFactory
	processor   Processor
	transcriber Transcriber
	enhancer    Enhancer
	paster      Paster
	history     History
	notifier    Notifier

	pendingPath    string
	prewarmTimeout time.Duration

	prewarmed   chan struct{}
	prewarmOnce sync.Once

	actionMu sync.Mutex

	mu           sync.Mutex
	recorder     Recorder
	recorderDev  string
	recorderRate int
	autoStop     *time.Timer

	pipelineWG sync.WaitGroup
}

// NewController constructs a controller in the idle state.
func NewController(deps Deps) *Controller {
	machine := deps.Machine
	if machine == nil {
		machine = state.NewMachine(deps.Logger)
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = noopNotifier{}
	}
	timeout := deps.PrewarmTimeout
	if timeout <= 0 {
		timeout = DefaultPrewarmTimeout
	}

	return &Controller{
		logger:         deps.Logger,
		machine:        machine,
		source:         deps.Source,
		newRecorder:    deps.NewRecorder,
		processor:      deps.Processor,
		transcriber:    deps.Transcriber,
		enhancer:       deps.Enhancer,
		paster:         deps.Paster,
		history:        deps.History,
		notifier:       notifier,
		pendingPath:    deps.PendingPath,
		prewarmTimeout: timeout,
		prewarmed:      make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (c *Controller) State() state.State { return c.machine.Current() }

// Prewarm initializes the recorder ahead of the first start request and
// then opens the gate. The gate opens even when initialization fails;
// the next start retries through the factory and reports the error.
func (c *Controller) Prewarm() {
	defer c.prewarmOnce.Do(func() { close(c.prewarmed) })

	cfg := c.source.Config()
	if _, err := c.recorderFor(cfg); err != nil {
		c.logError("recorder prewarm failed; first recording will retry", err)
		return
	}
	c.logInfo("recorder prewarmed")
}

// StartRecording moves idle to recording and begins capture. It refuses
// while the prewarm gate is closed or while a previous recording is
// still processing.
func (c *Controller) StartRecording() error {
	select {
	case <-c.prewarmed:
	case <-time.After(c.prewarmTimeout):
		c.notify("Vaani", "Models are still loading, please wait...")
		return ErrNotReady
	}

	c.actionMu.Lock()
	defer c.actionMu.Unlock()

	cfg, _ := c.source.ReloadIfChanged()

	if !c.machine.Transition(state.Recording) {
		if c.machine.IsProcessing() {
			c.notify("Vaani", "Still processing previous recording...")
			return ErrBusy
		}
		return ErrNotRecording
	}

	recorder, err := c.recorderFor(cfg)
	if err == nil {
		err = recorder.Start()
	}
	if err != nil {
		c.machine.Transition(state.Idle)
		c.notify("Vaani Error", truncateNotice(err.Error()))
		return fmt.Errorf("start recording: %w", err)
	}

	c.stateChanged(state.Recording)
	if cfg.SoundsOn() {
		c.notifier.PlaySound("record_start")
	}
	c.armAutoStop(time.Duration(cfg.MaxRecordingSeconds) * time.Second)
	return nil
}

// StopRecording ends capture and hands the samples to the background
// pipeline. Exactly one caller wins when stop requests race; the rest
// get ErrNotRecording.
func (c *Controller) StopRecording() error {
	c.actionMu.Lock()
	defer c.actionMu.Unlock()
	return c.stopLocked()
}

func (c *Controller) stopLocked() error {
	if !c.machine.Transition(state.Processing) {
		return ErrNotRecording
	}
	c.disarmAutoStop()

	c.mu.Lock()
	recorder := c.recorder
	c.mu.Unlock()

	var samples []int16
	if recorder != nil {
		samples = recorder.Stop()
	}

	cfg := c.source.Config()
	if cfg.SoundsOn() {
		c.notifier.PlaySound("record_stop")
	}
	c.stateChanged(state.Processing)

	c.pipelineWG.Add(1)
	go func() {
		defer c.pipelineWG.Done()
		c.processAudio(samples, cfg)
	}()
	return nil
}

// CancelRecording discards the current capture without processing it.
// Cancel only applies while recording; the pipeline, once started,
// always runs to completion.
func (c *Controller) CancelRecording() error {
	c.actionMu.Lock()
	defer c.actionMu.Unlock()

	if !c.machine.IsRecording() {
		return ErrNotRecording
	}
	c.disarmAutoStop()

	c.mu.Lock()
	recorder := c.recorder
	c.mu.Unlock()
	if recorder != nil {
		recorder.Cancel()
	}

	c.machine.Transition(state.Idle)
	c.stateChanged(state.Idle)
	if c.source.Config().SoundsOn() {
		c.notifier.PlaySound("cancel")
	}
	c.logInfo("recording cancelled")
	return nil
}

// ToggleRecording stops when recording and starts when idle. While a
// previous recording is still processing, toggle is ignored outright:
// the hotkey bounces off silently instead of raising a busy notice.
func (c *Controller) ToggleRecording() error {
	if c.machine.IsRecording() {
		return c.StopRecording()
	}
	if c.machine.IsProcessing() {
		return nil
	}
	return c.StartRecording()
}

// Handle serves IPC commands.
func (c *Controller) Handle(_ context.Context, req ipc.Request) ipc.Response {
	var err error
	switch req.Command {
	case ipc.CommandStatus:
		return ipc.Response{OK: true, State: string(c.State()), Message: "status"}
	case ipc.CommandStart:
		err = c.StartRecording()
	case ipc.CommandStop:
		err = c.StopRecording()
	case ipc.CommandCancel:
		err = c.CancelRecording()
	case ipc.CommandToggle:
		err = c.ToggleRecording()
	default:
		return ipc.Response{OK: false, State: string(c.State()), Error: fmt.Sprintf("unknown command: %s", req.Command)}
	}

	if err != nil {
		return ipc.Response{OK: false, State: string(c.State()), Error: err.Error()}
	}
	return ipc.Response{OK: true, State: string(c.State()), Message: string(req.Command) + " accepted"}
}

// Shutdown cancels any active capture, waits for the pipeline to drain,
// and releases the recorder.
func (c *Controller) Shutdown() {
	_ = c.CancelRecording()
	c.pipelineWG.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.disarmAutoStopLocked()
	if c.recorder != nil {
		c.recorder.Close()
		c.recorder = nil
	}
}

// recorderFor returns the cached recorder, rebuilding it when the
// configured device or sample rate changed since it was created.
func (c *Controller) recorderFor(cfg config.Config) (Recorder, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.recorder != nil {
		if c.recorderDev == cfg.MicrophoneDevice && c.recorderRate == cfg.SampleRate {
			return c.recorder, nil
		}
		c.recorder.Close()
		c.recorder = nil
		c.logInfo("recorder reset after audio config change")
	}

	recorder, err := c.newRecorder(cfg)
	if err != nil {
		return nil, fmt.Errorf("initialize recorder: %w", err)
	}
	c.recorder = recorder
	c.recorderDev = cfg.MicrophoneDevice
	c.recorderRate = cfg.SampleRate
	return recorder, nil
}

func (c *Controller) armAutoStop(limit time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disarmAutoStopLocked()
	c.autoStop = time.AfterFunc(limit, func() {
		if !c.machine.IsRecording() {
			return
		}
		c.notify("Vaani", "Max recording length reached")
		if err := c.StopRecording(); err != nil && !errors.Is(err, ErrNotRecording) {
			c.logError("auto-stop failed", err)
		}
	})
}

func (c *Controller) disarmAutoStop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disarmAutoStopLocked()
}

func (c *Controller) disarmAutoStopLocked() {
	if c.autoStop != nil {
		c.autoStop.Stop()
		c.autoStop = nil
	}
}

// processAudio runs the pipeline and unconditionally returns the
// machine to idle, surviving both errors and panics.
func (c *Controller) processAudio(samples []int16, cfg config.Config) {
	defer func() {
		if r := recover(); r != nil {
			c.logError("pipeline panicked", fmt.Errorf("%v", r))
			c.notify("Vaani Error", truncateNotice(fmt.Sprint(r)))
		}
		c.machine.Transition(state.Idle)
		c.stateChanged(state.Idle)
	}()

	if err := c.runPipeline(context.Background(), samples, cfg); err != nil {
		c.logError("pipeline failed", err)
		c.notify("Vaani Error", truncateNotice(err.Error()))
	}
}

func (c *Controller) runPipeline(ctx context.Context, samples []int16, cfg config.Config) error {
	started := time.Now()
	audioSeconds := float64(len(samples)) / float64(cfg.SampleRate)

	// Crash-recovery artifact: the raw capture goes to disk before any
	// processing so a crash anywhere downstream leaves it recoverable.
	// Overwritten per attempt, removed only after end-to-end success.
	if err := c.persistPending(audio.EncodeWAV(samples, cfg.SampleRate)); err != nil {
		c.logError("persist pending recording failed", err)
	}

	wav := c.processor.Process(samples, cfg.SampleRate, cfg.VADThreshold)
	if wav == nil {
		c.notify("Vaani", "No speech detected")
		return nil
	}

	raw, err := c.transcriber.Transcribe(ctx, wav, cfg.STTModel)
	if err != nil {
		return fmt.Errorf("transcribe: %w", err)
	}
	if len(strings.TrimSpace(raw)) < junkTranscriptChars {
		c.notify("Vaani", "Could not transcribe audio")
		return nil
	}

	enhanced, err := c.enhancer.Enhance(ctx, raw, cfg.ActiveMode, cfg.LLMModel)
	if err != nil {
		return fmt.Errorf("enhance: %w", err)
	}

	restoreDelay := time.Duration(cfg.PasteRestoreDelayMS) * time.Millisecond
	if err := c.paster.Paste(ctx, enhanced, restoreDelay); err != nil {
		return fmt.Errorf("paste: %w", err)
	}

	if c.history != nil {
		entry := Entry{
			RawText:      raw,
			EnhancedText: enhanced,
			Mode:         cfg.ActiveMode,
			AudioSeconds: audioSeconds,
		}
		if _, err := c.history.Add(ctx, entry); err != nil {
			c.logError("history write failed", err)
		}
	}

	c.removePending()
	if cfg.SoundsOn() {
		c.notifier.PlaySound("complete")
	}
	if c.logger != nil {
		c.logger.Info("dictation complete",
			"mode", cfg.ActiveMode,
			"audio_seconds", audioSeconds,
			"raw_chars", len(raw),
			"enhanced_chars", len(enhanced),
			"duration_ms", time.Since(started).Milliseconds(),
		)
	}
	return nil
}

func (c *Controller) persistPending(wav []byte) error {
	if c.pendingPath == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(c.pendingPath), 0o700); err != nil {
		return err
	}
	return renameio.WriteFile(c.pendingPath, wav, 0o600)
}

func (c *Controller) removePending() {
	if c.pendingPath == "" {
		return
	}
	if err := os.Remove(c.pendingPath); err != nil && !os.IsNotExist(err) {
		c.logError("remove pending recording failed", err)
	}
}

func truncateNotice(message string) string {
	if len(message) <= noticeLimit {
		return message
	}
	return message[:noticeLimit-3] + "..."
}

// notify shows a transient notice unless notifications are disabled.
func (c *Controller) notify(title string, message string) {
	if !c.source.Config().NotificationsOn() {
		return
	}
	c.notifier.Notify(title, message)
}

// stateChanged updates the state indicator unless notifications are
// disabled. Idle always propagates so a stale indicator gets dismissed.
func (c *Controller) stateChanged(next state.State) {
	if next != state.Idle && !c.source.Config().NotificationsOn() {
		return
	}
	c.notifier.StateChanged(next)
}

func (c *Controller) logInfo(message string) {
	if c.logger != nil {
		c.logger.Info(message)
	}
}

func (c *Controller) logError(message string, err error) {
	if c.logger != nil {
		c.logger.Error(message, "error", err.Error())
	}
}
