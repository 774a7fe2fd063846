package audio

import (
	"log/slog"
	"math"
)

const (
	// targetDBFS is the RMS level gain normalization aims for; it lifts
	// whisper-level audio before speech detection runs.
	targetDBFS = -20.0

	// vadWindow is the analysis window in samples.
	vadWindow = 512

	fullScale = 32768.0
)

// Processor runs the post-capture audio pipeline: gain normalization,
// silence trimming, and WAV encoding.
type Processor struct {
	logger *slog.Logger
}

// NewProcessor returns a processor logging through logger.
func NewProcessor(logger *slog.Logger) *Processor {
	return &Processor{logger: logger}
}

// Process normalizes gain, trims silence, and encodes the result as a
// 16-bit PCM WAV. It returns nil when no speech is detected.
func (p *Processor) Process(samples []int16, sampleRate int, vadThreshold float64) []byte {
	normalized := NormalizeGain(samples)
	trimmed := TrimSilence(normalized, vadThreshold)
	if len(trimmed) == 0 {
		if p.logger != nil {
			p.logger.Info("no speech detected by vad")
		}
		return nil
	}

	if p.logger != nil && sampleRate > 0 {
		p.logger.Info("audio processed",
			"input_secs", float64(len(samples))/float64(sampleRate),
			"speech_secs", float64(len(trimmed))/float64(sampleRate),
		)
	}
	return EncodeWAV(trimmed, sampleRate)
}

// NormalizeGain applies RMS gain normalization toward targetDBFS, clipping
// at full scale to prevent distortion. Essentially-silent audio is
// returned unchanged.
func NormalizeGain(samples []int16) []int16 {
	if len(samples) == 0 {
		return samples
	}

	rms := rmsLevel(samples)
	if rms < 1e-10 {
		return samples
	}

	currentDBFS := 20 * math.Log10(rms)
	gain := math.Pow(10, (targetDBFS-currentDBFS)/20)

	normalized := make([]int16, len(samples))
	for i, s := range samples {
		scaled := float64(s) * gain
		switch {
		case scaled > fullScale-1:
			normalized[i] = math.MaxInt16
		case scaled < -fullScale:
			normalized[i] = math.MinInt16
		default:
			normalized[i] = int16(scaled)
		}
	}
	return normalized
}

// TrimSilence drops non-speech regions using windowed energy scoring. A
// window whose score reaches threshold marks speech; one window of leading
// context and two of trailing context are kept, with overlapping regions
// merged. An all-silence input yields an empty slice.
func TrimSilence(samples []int16, threshold float64) []int16 {
	if len(samples) == 0 {
		return samples
	}

	type region struct{ start, end int }
	var regions []region

	for i := 0; i+vadWindow <= len(samples); i += vadWindow {
		if speechScore(samples[i:i+vadWindow]) < threshold {
			continue
		}
		start := max(0, i-vadWindow)
		end := min(len(samples), i+2*vadWindow)
		if n := len(regions); n > 0 && start <= regions[n-1].end {
			if end > regions[n-1].end {
				regions[n-1].end = end
			}
			continue
		}
		regions = append(regions, region{start: start, end: end})
	}

	if len(regions) == 0 {
		return nil
	}

	total := 0
	for _, r := range regions {
		total += r.end - r.start
	}
	trimmed := make([]int16, 0, total)
	for _, r := range regions {
		trimmed = append(trimmed, samples[r.start:r.end]...)
	}
	return trimmed
}

// speechScore maps window RMS to a 0..1 score scaled so normal speech
// lands around 0.5-0.8.
func speechScore(window []int16) float64 {
	return math.Min(rmsLevel(window)*12, 1.0)
}

// rmsLevel computes RMS on samples normalized to -1..1.
func rmsLevel(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s) / fullScale
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}
