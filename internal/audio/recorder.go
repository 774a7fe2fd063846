// Package audio handles microphone capture and post-capture processing.
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/jfreymuth/pulse"
	pulseproto "github.com/jfreymuth/pulse/proto"
)

// Device describes one Pulse input source.
type Device struct {
	ID          string
	Description string
	Default     bool
	Muted       bool
}

// ListDevices returns available Pulse input sources.
func ListDevices() ([]Device, error) {
	client, err := newPulseClient()
	if err != nil {
		return nil, err
	}
	defer client.Close()

	defaultSource, err := client.DefaultSource()
	if err != nil {
		return nil, fmt.Errorf("read default source: %w", err)
	}
	defaultID := defaultSource.ID()

	var infos pulseproto.GetSourceInfoListReply
	if err := client.RawRequest(&pulseproto.GetSourceInfoList{}, &infos); err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}

	devices := make([]Device, 0, len(infos))
	for _, info := range infos {
		if info == nil {
			continue
		}
		devices = append(devices, Device{
			ID:          info.SourceName,
			Description: info.Device,
			Default:     info.SourceName == defaultID,
			Muted:       info.Mute,
		})
	}
	return devices, nil
}

// Recorder captures mono 16-bit PCM from one Pulse source into a growing
// sample buffer. The capture callback only appends; conversion to text
// happens downstream after Stop.
type Recorder struct {
	logger     *slog.Logger
	sampleRate int

	client *pulse.Client
	source *pulse.Source

	mu        sync.Mutex
	stream    *pulse.RecordStream
	samples   []int16
	recording bool
}

// NewRecorder connects to Pulse and resolves the configured device. The
// connection is held for the recorder's lifetime so Start stays cheap;
// this is the heavy handle the prewarm gate waits for.
func NewRecorder(device string, sampleRate int, logger *slog.Logger) (*Recorder, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", sampleRate)
	}

	client, err := newPulseClient()
	if err != nil {
		return nil, err
	}

	source, err := resolveSource(client, device, logger)
	if err != nil {
		client.Close()
		return nil, err
	}

	return &Recorder{
		logger:     logger,
		sampleRate: sampleRate,
		client:     client,
		source:     source,
	}, nil
}

// Start begins capture into a fresh buffer. It must only be called when
// the recorder is stopped, cancelled, or never started.
func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.recording {
		return errors.New("recorder already started")
	}

	r.samples = r.samples[:0]
	writer := pulse.NewWriter(writerFunc(r.onPCM), pulseproto.FormatInt16LE)
	stream, err := r.client.NewRecord(
		writer,
		pulse.RecordSource(r.source),
		pulse.RecordMono,
		pulse.RecordSampleRate(r.sampleRate),
		pulse.RecordMediaName("vaani dictation"),
	)
	if err != nil {
		return fmt.Errorf("create pulse record stream: %w", err)
	}

	r.stream = stream
	r.recording = true
	stream.Start()

	if r.logger != nil {
		r.logger.Info("recording started", "source", r.source.ID(), "sample_rate", r.sampleRate)
	}
	return nil
}

// Stop halts capture and returns the captured samples. Calling Stop when
// not recording returns an empty buffer.
func (r *Recorder) Stop() []int16 {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.haltLocked()
	out := make([]int16, len(r.samples))
	copy(out, r.samples)
	r.samples = r.samples[:0]

	if r.logger != nil {
		r.logger.Info("recording stopped", "samples", len(out))
	}
	return out
}

// Cancel halts capture and discards the buffer.
func (r *Recorder) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.haltLocked()
	r.samples = r.samples[:0]

	if r.logger != nil {
		r.logger.Info("recording cancelled")
	}
}

// Close releases the Pulse connection.
func (r *Recorder) Close() {
	r.mu.Lock()
	r.haltLocked()
	r.mu.Unlock()
	r.client.Close()
}

// SampleRate returns the capture sample rate.
func (r *Recorder) SampleRate() int { return r.sampleRate }

func (r *Recorder) haltLocked() {
	if !r.recording {
		return
	}
	r.recording = false
	if r.stream != nil {
		r.stream.Stop()
		r.stream.Close()
		r.stream = nil
	}
}

// onPCM receives raw little-endian frames from Pulse; it only appends.
func (r *Recorder) onPCM(buffer []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.recording {
		return len(buffer), nil
	}
	for i := 0; i+1 < len(buffer); i += 2 {
		r.samples = append(r.samples, int16(binary.LittleEndian.Uint16(buffer[i:])))
	}
	return len(buffer), nil
}

func newPulseClient() (*pulse.Client, error) {
	client, err := pulse.NewClient(
		pulse.ClientApplicationName("vaani"),
		pulse.ClientApplicationIconName("audio-input-microphone"),
	)
	if err != nil {
		return nil, fmt.Errorf("connect pulse server: %w", err)
	}
	return client, nil
}

// resolveSource picks the configured source, falling back to the default
// source with a warning when the configured one is missing.
func resolveSource(client *pulse.Client, device string, logger *slog.Logger) (*pulse.Source, error) {
	device = strings.TrimSpace(device)
	if device == "" || strings.EqualFold(device, "default") {
		source, err := client.DefaultSource()
		if err != nil {
			return nil, fmt.Errorf("resolve default source: %w", err)
		}
		return source, nil
	}

	source, err := client.SourceByID(device)
	if err == nil {
		return source, nil
	}

	if logger != nil {
		logger.Warn("configured microphone not found; using default source", "device", device)
	}
	source, derr := client.DefaultSource()
	if derr != nil {
		return nil, fmt.Errorf("resolve source %q: %w", device, err)
	}
	return source, nil
}

// writerFunc adapts a function to io.Writer for pulse.NewWriter.
type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(b []byte) (int, error) {
	return f(b)
}
