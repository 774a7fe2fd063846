package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ankushbhardwxj/vaani/internal/audio"
	"github.com/ankushbhardwxj/vaani/internal/config"
	"github.com/ankushbhardwxj/vaani/internal/ipc"
	"github.com/ankushbhardwxj/vaani/internal/state"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeRecorder struct {
	mu        sync.Mutex
	startErr  error
	samples   []int16
	recording bool

	starts  int
	stops   int
	cancels int
	closes  int
}

func (f *fakeRecorder) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	if f.startErr != nil {
		return f.startErr
	}
	f.recording = true
	return nil
}

func (f *fakeRecorder) Stop() []int16 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	if !f.recording {
		return nil
	}
	f.recording = false
	return f.samples
}

func (f *fakeRecorder) Cancel() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels++
	f.recording = false
}

func (f *fakeRecorder) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
}

type fakeFactory struct {
	mu       sync.Mutex
	recorder *fakeRecorder
	err      error
	calls    int
	configs  []config.Config
}

func (f *fakeFactory) build(cfg config.Config) (Recorder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.configs = append(f.configs, cfg)
	if f.err != nil {
		return nil, f.err
	}
	return f.recorder, nil
}

type fakeProcessor struct {
	out      []byte
	panicMsg string
}

func (f *fakeProcessor) Process([]int16, int, float64) []byte {
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	return f.out
}

type fakeTranscriber struct {
	mu    sync.Mutex
	text  string
	err   error
	calls int
}

func (f *fakeTranscriber) Transcribe(context.Context, []byte, string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.text, f.err
}

func (f *fakeTranscriber) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeEnhancer struct {
	mu    sync.Mutex
	text  string
	err   error
	panic bool
	calls int
}

func (f *fakeEnhancer) Enhance(_ context.Context, _ string, _ string, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.panic {
		panic("enhancer exploded")
	}
	return f.text, f.err
}

func (f *fakeEnhancer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakePaster struct {
	mu     sync.Mutex
	err    error
	pasted []string
}

func (f *fakePaster) Paste(_ context.Context, text string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.pasted = append(f.pasted, text)
	return nil
}

func (f *fakePaster) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.pasted...)
}

type fakeHistory struct {
	mu      sync.Mutex
	err     error
	entries []Entry
}

func (f *fakeHistory) Add(_ context.Context, entry Entry) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.entries = append(f.entries, entry)
	return "id", nil
}

type fakeNotifier struct {
	mu      sync.Mutex
	notices []string
	sounds  []string
	states  []state.State
}

func (f *fakeNotifier) StateChanged(next state.State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, next)
}

func (f *fakeNotifier) Notify(title string, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notices = append(f.notices, title+": "+message)
}

func (f *fakeNotifier) PlaySound(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sounds = append(f.sounds, name)
}

func (f *fakeNotifier) noticeCount(substr string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, n := range f.notices {
		if strings.Contains(n, substr) {
			count++
		}
	}
	return count
}

func (f *fakeNotifier) stateList() []state.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]state.State(nil), f.states...)
}

func (f *fakeNotifier) soundList() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sounds...)
}

type fixture struct {
	ctl         *Controller
	source      *config.Source
	recorder    *fakeRecorder
	factory     *fakeFactory
	transcriber *fakeTranscriber
	enhancer    *fakeEnhancer
	paster      *fakePaster
	history     *fakeHistory
	notifier    *fakeNotifier
	configPath  string
	pendingPath string
}

func newFixture(t *testing.T, configYAML string) *fixture {
	t.Helper()

	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	if configYAML != "" {
		require.NoError(t, os.WriteFile(configPath, []byte(configYAML), 0o600))
	}
	source, err := config.NewSource(configPath, nil)
	require.NoError(t, err)

	f := &fixture{
		source:      source,
		recorder:    &fakeRecorder{samples: []int16{100, -200, 300, -400}},
		transcriber: &fakeTranscriber{text: "hello world raw"},
		enhancer:    &fakeEnhancer{text: "Hello, world!"},
		paster:      &fakePaster{},
		history:     &fakeHistory{},
		notifier:    &fakeNotifier{},
		configPath:  configPath,
		pendingPath: filepath.Join(dir, "pending", "last_recording.wav"),
	}
	f.factory = &fakeFactory{recorder: f.recorder}

	f.ctl = NewController(Deps{
		Machine:        state.NewMachine(nil),
		Source:         source,
		NewRecorder:    f.factory.build,
		Processor:      &fakeProcessor{out: []byte("RIFFfake")},
		Transcriber:    f.transcriber,
		Enhancer:       f.enhancer,
		Paster:         f.paster,
		History:        f.history,
		Notifier:       f.notifier,
		PendingPath:    f.pendingPath,
		PrewarmTimeout: 5 * time.Second,
	})
	t.Cleanup(f.ctl.Shutdown)
	return f
}

func (f *fixture) startAndStop(t *testing.T) {
	t.Helper()
	f.ctl.Prewarm()
	require.NoError(t, f.ctl.StartRecording())
	require.NoError(t, f.ctl.StopRecording())
	f.ctl.pipelineWG.Wait()
}

func TestFullPipelineSuccess(t *testing.T) {
	f := newFixture(t, "")
	f.startAndStop(t)

	require.Equal(t, state.Idle, f.ctl.State())
	require.Equal(t, []string{"Hello, world!"}, f.paster.texts())

	require.Len(t, f.history.entries, 1)
	require.Equal(t, "hello world raw", f.history.entries[0].RawText)
	require.Equal(t, "Hello, world!", f.history.entries[0].EnhancedText)
	require.Equal(t, "professional", f.history.entries[0].Mode)
	require.InDelta(t, 4.0/16000.0, f.history.entries[0].AudioSeconds, 1e-9)

	require.Equal(t, []string{"record_start", "record_stop", "complete"}, f.notifier.soundList())
	require.Zero(t, f.notifier.noticeCount("Error"))

	_, err := os.Stat(f.pendingPath)
	require.True(t, os.IsNotExist(err), "pending artifact must be removed after success")
}

func TestNoSpeechDetectedNoticeOnce(t *testing.T) {
	f := newFixture(t, "")
	f.ctl.processor = &fakeProcessor{out: nil}
	f.startAndStop(t)

	require.Equal(t, state.Idle, f.ctl.State())
	require.Equal(t, 1, f.notifier.noticeCount("No speech detected"))
	require.Zero(t, f.transcriber.callCount())
	require.Empty(t, f.paster.texts())

	// a "no speech" verdict may be wrong; the capture stays recoverable
	require.FileExists(t, f.pendingPath)
}

func TestJunkTranscriptionStopsBeforeEnhancer(t *testing.T) {
	f := newFixture(t, "")
	f.transcriber.text = "  hi "
	f.startAndStop(t)

	require.Equal(t, state.Idle, f.ctl.State())
	require.Equal(t, 1, f.notifier.noticeCount("Could not transcribe audio"))
	require.Zero(t, f.enhancer.callCount())
	require.Empty(t, f.paster.texts())

	// the run did not complete end to end, so the capture is kept
	require.FileExists(t, f.pendingPath)
}

func TestTranscriberErrorSurfacesNotice(t *testing.T) {
	f := newFixture(t, "")
	f.transcriber.err = errors.New("provider unavailable")
	f.startAndStop(t)

	require.Equal(t, state.Idle, f.ctl.State())
	require.Equal(t, 1, f.notifier.noticeCount("Vaani Error"))
	require.Equal(t, 1, f.notifier.noticeCount("provider unavailable"))
	require.Empty(t, f.paster.texts())
}

func TestErrorNoticeTruncated(t *testing.T) {
	f := newFixture(t, "")
	f.transcriber.err = errors.New(strings.Repeat("x", 500))
	f.startAndStop(t)

	f.notifier.mu.Lock()
	defer f.notifier.mu.Unlock()
	found := false
	for _, n := range f.notifier.notices {
		if strings.HasPrefix(n, "Vaani Error: ") {
			found = true
			require.LessOrEqual(t, len(strings.TrimPrefix(n, "Vaani Error: ")), noticeLimit)
		}
	}
	require.True(t, found)
}

func TestPrewarmTimeoutRefusesStart(t *testing.T) {
	f := newFixture(t, "")
	f.ctl.prewarmTimeout = 100 * time.Millisecond

	err := f.ctl.StartRecording()
	require.ErrorIs(t, err, ErrNotReady)
	require.Equal(t, state.Idle, f.ctl.State())
	require.Equal(t, 1, f.notifier.noticeCount("still loading"))
	require.Zero(t, f.recorder.starts)
}

func TestPrewarmFailureStillOpensGate(t *testing.T) {
	f := newFixture(t, "")
	f.factory.err = errors.New("pulse server down")
	f.ctl.Prewarm()

	select {
	case <-f.ctl.prewarmed:
	default:
		t.Fatal("prewarm gate must open even when initialization fails")
	}

	f.factory.mu.Lock()
	f.factory.err = nil
	f.factory.mu.Unlock()

	require.NoError(t, f.ctl.StartRecording())
	require.Equal(t, state.Recording, f.ctl.State())
}

func TestConcurrentStartsExactlyOneWins(t *testing.T) {
	f := newFixture(t, "")
	f.ctl.Prewarm()

	const n = 10
	var ready, done sync.WaitGroup
	gate := make(chan struct{})
	results := make([]error, n)

	for i := 0; i < n; i++ {
		ready.Add(1)
		done.Add(1)
		go func(i int) {
			defer done.Done()
			ready.Done()
			<-gate
			results[i] = f.ctl.StartRecording()
		}(i)
	}
	ready.Wait()
	close(gate)
	done.Wait()

	wins := 0
	for _, err := range results {
		if err == nil {
			wins++
		}
	}
	require.Equal(t, 1, wins)
	require.Equal(t, 1, f.recorder.starts)
	require.Equal(t, state.Recording, f.ctl.State())
}

func TestConcurrentStopsRunPipelineOnce(t *testing.T) {
	f := newFixture(t, "")
	f.ctl.Prewarm()
	require.NoError(t, f.ctl.StartRecording())

	const n = 10
	var done sync.WaitGroup
	gate := make(chan struct{})
	results := make([]error, n)

	for i := 0; i < n; i++ {
		done.Add(1)
		go func(i int) {
			defer done.Done()
			<-gate
			results[i] = f.ctl.StopRecording()
		}(i)
	}
	close(gate)
	done.Wait()
	f.ctl.pipelineWG.Wait()

	wins := 0
	for _, err := range results {
		if err == nil {
			wins++
		}
	}
	require.Equal(t, 1, wins)
	require.Equal(t, 1, f.transcriber.callCount())
	require.Len(t, f.paster.texts(), 1)
	require.Equal(t, state.Idle, f.ctl.State())
}

func TestCancelDiscardsRecording(t *testing.T) {
	f := newFixture(t, "")
	f.ctl.Prewarm()
	require.NoError(t, f.ctl.StartRecording())
	require.NoError(t, f.ctl.CancelRecording())

	require.Equal(t, state.Idle, f.ctl.State())
	require.Equal(t, 1, f.recorder.cancels)
	require.Zero(t, f.transcriber.callCount())
	require.Contains(t, f.notifier.soundList(), "cancel")
}

func TestCancelWhenIdleIsRejected(t *testing.T) {
	f := newFixture(t, "")
	require.ErrorIs(t, f.ctl.CancelRecording(), ErrNotRecording)
}

func TestStopWhenIdleIsRejected(t *testing.T) {
	f := newFixture(t, "")
	require.ErrorIs(t, f.ctl.StopRecording(), ErrNotRecording)
	require.Zero(t, f.transcriber.callCount())
}

func TestToggleStartsThenStops(t *testing.T) {
	f := newFixture(t, "")
	f.ctl.Prewarm()

	require.NoError(t, f.ctl.ToggleRecording())
	require.Equal(t, state.Recording, f.ctl.State())

	require.NoError(t, f.ctl.ToggleRecording())
	f.ctl.pipelineWG.Wait()
	require.Equal(t, state.Idle, f.ctl.State())
	require.Len(t, f.paster.texts(), 1)
}

func TestStartWhileProcessingNotifies(t *testing.T) {
	f := newFixture(t, "")
	f.ctl.Prewarm()

	block := make(chan struct{})
	f.ctl.paster = pasteFunc(func(context.Context, string, time.Duration) error {
		<-block
		return nil
	})

	require.NoError(t, f.ctl.StartRecording())
	require.NoError(t, f.ctl.StopRecording())

	err := f.ctl.StartRecording()
	require.ErrorIs(t, err, ErrBusy)
	require.Equal(t, 1, f.notifier.noticeCount("Still processing previous recording"))

	close(block)
	f.ctl.pipelineWG.Wait()
	require.Equal(t, state.Idle, f.ctl.State())
}

func TestToggleWhileProcessingIsIgnored(t *testing.T) {
	f := newFixture(t, "")
	f.ctl.Prewarm()

	block := make(chan struct{})
	f.ctl.paster = pasteFunc(func(context.Context, string, time.Duration) error {
		<-block
		return nil
	})

	require.NoError(t, f.ctl.StartRecording())
	require.NoError(t, f.ctl.StopRecording())

	require.NoError(t, f.ctl.ToggleRecording())
	require.Equal(t, state.Processing, f.ctl.State())
	require.Zero(t, f.notifier.noticeCount("Still processing previous recording"))
	require.Equal(t, 1, f.recorder.starts)

	close(block)
	f.ctl.pipelineWG.Wait()
	require.Equal(t, state.Idle, f.ctl.State())
}

type pasteFunc func(ctx context.Context, text string, restoreDelay time.Duration) error

func (f pasteFunc) Paste(ctx context.Context, text string, restoreDelay time.Duration) error {
	return f(ctx, text, restoreDelay)
}

func TestHistoryFailureDoesNotFailPipeline(t *testing.T) {
	f := newFixture(t, "")
	f.history.err = errors.New("database locked")
	f.startAndStop(t)

	require.Equal(t, state.Idle, f.ctl.State())
	require.Equal(t, []string{"Hello, world!"}, f.paster.texts())
	require.Zero(t, f.notifier.noticeCount("Error"))
	require.Contains(t, f.notifier.soundList(), "complete")
}

func TestPasteFailureKeepsPendingArtifact(t *testing.T) {
	f := newFixture(t, "")
	f.paster.err = errors.New("wtype not found")
	f.startAndStop(t)

	require.Equal(t, state.Idle, f.ctl.State())
	require.Equal(t, 1, f.notifier.noticeCount("Vaani Error"))
	require.Empty(t, f.history.entries)

	_, err := os.Stat(f.pendingPath)
	require.NoError(t, err, "pending artifact must survive a failed pipeline")
}

func TestPipelinePanicRestoresIdle(t *testing.T) {
	f := newFixture(t, "")
	f.enhancer.panic = true
	f.startAndStop(t)

	require.Equal(t, state.Idle, f.ctl.State())
	require.Equal(t, 1, f.notifier.noticeCount("enhancer exploded"))
}

func TestProcessorPanicKeepsRawCapture(t *testing.T) {
	f := newFixture(t, "")
	f.ctl.processor = &fakeProcessor{panicMsg: "vad exploded"}
	f.startAndStop(t)

	require.Equal(t, state.Idle, f.ctl.State())
	require.Equal(t, 1, f.notifier.noticeCount("vad exploded"))

	// the raw clip hit disk before processing started
	data, err := os.ReadFile(f.pendingPath)
	require.NoError(t, err)
	require.Equal(t, audio.EncodeWAV(f.recorder.samples, 16000), data)
}

func TestRecorderStartFailureUnwindsToIdle(t *testing.T) {
	f := newFixture(t, "")
	f.recorder.startErr = errors.New("stream refused")
	f.ctl.Prewarm()

	err := f.ctl.StartRecording()
	require.Error(t, err)
	require.Equal(t, state.Idle, f.ctl.State())
	require.Equal(t, 1, f.notifier.noticeCount("stream refused"))

	// the machine is free again for the next attempt
	f.recorder.mu.Lock()
	f.recorder.startErr = nil
	f.recorder.mu.Unlock()
	require.NoError(t, f.ctl.StartRecording())
}

func TestAutoStopAtMaxRecordingLength(t *testing.T) {
	f := newFixture(t, "max_recording_seconds: 1\n")
	f.ctl.Prewarm()
	require.NoError(t, f.ctl.StartRecording())

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) && f.ctl.State() != state.Idle {
		time.Sleep(10 * time.Millisecond)
	}
	f.ctl.pipelineWG.Wait()

	require.Equal(t, state.Idle, f.ctl.State())
	require.Equal(t, 1, f.notifier.noticeCount("Max recording length reached"))
	require.Len(t, f.paster.texts(), 1)
}

func TestSoundsDisabledSuppressesCues(t *testing.T) {
	f := newFixture(t, "sounds_enabled: false\n")
	f.startAndStop(t)

	require.Equal(t, state.Idle, f.ctl.State())
	require.Empty(t, f.notifier.soundList())
}

func TestNotificationsDisabledSuppressesNotices(t *testing.T) {
	f := newFixture(t, "notifications_enabled: false\n")
	f.ctl.processor = &fakeProcessor{out: nil}
	f.startAndStop(t)

	require.Equal(t, state.Idle, f.ctl.State())
	require.Zero(t, f.notifier.noticeCount("No speech detected"))
	require.NotEmpty(t, f.notifier.soundList())
	for _, s := range f.notifier.stateList() {
		require.Equal(t, state.Idle, s)
	}
}

func TestConfigReloadRebuildsRecorder(t *testing.T) {
	f := newFixture(t, "microphone_device: mic-a\n")
	f.ctl.Prewarm()
	require.Equal(t, 1, f.factory.calls)

	require.NoError(t, os.WriteFile(f.configPath, []byte("microphone_device: mic-b\n"), 0o600))
	info, err := os.Stat(f.configPath)
	require.NoError(t, err)
	require.NoError(t, os.Chtimes(f.configPath, info.ModTime().Add(2*time.Second), info.ModTime().Add(2*time.Second)))

	require.NoError(t, f.ctl.StartRecording())
	require.NoError(t, f.ctl.StopRecording())
	f.ctl.pipelineWG.Wait()

	require.Equal(t, 2, f.factory.calls)
	require.Equal(t, "mic-b", f.factory.configs[1].MicrophoneDevice)
	require.Equal(t, 1, f.recorder.closes)
}

func TestConfigReloadKeepsRecorderWhenAudioUnchanged(t *testing.T) {
	f := newFixture(t, "active_mode: professional\n")
	f.ctl.Prewarm()

	require.NoError(t, os.WriteFile(f.configPath, []byte("active_mode: casual\n"), 0o600))
	info, err := os.Stat(f.configPath)
	require.NoError(t, err)
	require.NoError(t, os.Chtimes(f.configPath, info.ModTime().Add(2*time.Second), info.ModTime().Add(2*time.Second)))

	require.NoError(t, f.ctl.StartRecording())
	require.NoError(t, f.ctl.StopRecording())
	f.ctl.pipelineWG.Wait()

	require.Equal(t, 1, f.factory.calls)
	require.Equal(t, "casual", f.history.entries[0].Mode)
}

func TestHandleCommands(t *testing.T) {
	f := newFixture(t, "")
	f.ctl.Prewarm()
	ctx := context.Background()

	resp := f.ctl.Handle(ctx, ipc.Request{Command: ipc.CommandStatus})
	require.True(t, resp.OK)
	require.Equal(t, "idle", resp.State)

	resp = f.ctl.Handle(ctx, ipc.Request{Command: ipc.CommandToggle})
	require.True(t, resp.OK)
	require.Equal(t, "recording", resp.State)

	resp = f.ctl.Handle(ctx, ipc.Request{Command: ipc.CommandCancel})
	require.True(t, resp.OK)
	require.Equal(t, "idle", resp.State)

	resp = f.ctl.Handle(ctx, ipc.Request{Command: ipc.CommandStop})
	require.False(t, resp.OK)
	require.Equal(t, ErrNotRecording.Error(), resp.Error)

	resp = f.ctl.Handle(ctx, ipc.Request{Command: "bogus"})
	require.False(t, resp.OK)
	require.Contains(t, resp.Error, "unknown command")
}

func TestTruncateNotice(t *testing.T) {
	require.Equal(t, "short", truncateNotice("short"))
	long := truncateNotice(strings.Repeat("a", 300))
	require.Len(t, long, noticeLimit)
	require.True(t, strings.HasSuffix(long, "..."))
	require.Equal(t, fmt.Sprintf("%s...", strings.Repeat("a", noticeLimit-3)), long)
}
