// Package notify surfaces lifecycle state and notices on the desktop and
// plays audio cues for recording events.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ankushbhardwxj/vaani/internal/state"
)

const (
	appName = "vaani"

	// stateTimeoutMS keeps the state notification up until it is
	// replaced or dismissed.
	stateTimeoutMS = 300000

	// noticeTimeoutMS is how long transient notices stay visible.
	noticeTimeoutMS = 4000
)

// Desktop shows freedesktop notifications over DBus and plays cue tones
// through Pulse. The state notification is replaceable so recording and
// processing swap in place instead of stacking.
type Desktop struct {
	logger   *slog.Logger
	soundDir string

	mu      sync.Mutex
	stateID uint32

	soundMu sync.Mutex
}

// NewDesktop returns a desktop notifier. soundDir points at user cue
// overrides; it may be empty.
func NewDesktop(soundDir string, logger *slog.Logger) *Desktop {
	return &Desktop{logger: logger, soundDir: soundDir}
}

// StateChanged updates the persistent state notification. Idle dismisses
// it; recording and processing replace it in place.
func (d *Desktop) StateChanged(next state.State) {
	switch next {
	case state.Recording:
		d.showState("Recording...")
	case state.Processing:
		d.showState("Processing...")
	case state.Idle:
		d.dismissState()
	}
}

// Notify shows a transient notice. Notices stand alone and never replace
// the state notification.
func (d *Desktop) Notify(title string, message string) {
	d.run(func(ctx context.Context) error {
		_, err := desktopNotify(ctx, appName, 0, title, message, noticeTimeoutMS)
		return err
	})
}

// PlaySound plays the named cue asynchronously. Unknown names are
// ignored; playback failures only log.
func (d *Desktop) PlaySound(name string) {
	samples := cueSamples(name)
	override := cueOverridePath(d.soundDir, name)
	if samples == nil && override == "" {
		return
	}
	go func() {
		d.soundMu.Lock()
		defer d.soundMu.Unlock()
		if err := emitCue(samples, override); err != nil {
			d.log("audio cue failed", err)
		}
	}()
}

func (d *Desktop) showState(summary string) {
	d.run(func(ctx context.Context) error {
		d.mu.Lock()
		replaceID := d.stateID
		d.mu.Unlock()

		id, err := desktopNotify(ctx, appName, replaceID, summary, "", stateTimeoutMS)
		if err != nil {
			return err
		}

		d.mu.Lock()
		d.stateID = id
		d.mu.Unlock()
		return nil
	})
}

func (d *Desktop) dismissState() {
	d.run(func(ctx context.Context) error {
		d.mu.Lock()
		id := d.stateID
		d.stateID = 0
		d.mu.Unlock()

		if id == 0 {
			return nil
		}
		return desktopDismiss(ctx, id)
	})
}

// run executes a notification operation with a bounded timeout.
func (d *Desktop) run(fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 400*time.Millisecond)
	defer cancel()
	if err := fn(ctx); err != nil {
		d.log("notification dispatch failed", err)
	}
}

func (d *Desktop) log(message string, err error) {
	if d.logger == nil || err == nil {
		return
	}
	d.logger.Debug(message, "error", err.Error())
}
