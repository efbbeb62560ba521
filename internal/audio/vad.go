package audio

import (
	"github.com/podcaststudio/realtime-engine/internal/pcm"
)

// VADConfig holds configuration for voice activity detection.
type VADConfig struct {
	EnergyThreshold float64 // RMS energy threshold for speech detection
	SilenceFrames   int     // Consecutive silence frames marking end of speech
	FrameSamples    int     // Samples per analysis frame (480 = 20ms at 24kHz)
}

// DefaultVADConfig returns a default VAD configuration for 24kHz capture.
func DefaultVADConfig() VADConfig {
	return VADConfig{
		EnergyThreshold: 500.0,
		SilenceFrames:   25, // 500ms of silence (25 frames * 20ms)
		FrameSamples:    480,
	}
}

// VADDetector performs energy-based voice activity detection over the host
// capture stream. It drives the local turn-detection strategy.
type VADDetector struct {
	config         VADConfig
	silenceCounter int
	isSpeaking     bool
	pending        []int16
}

// NewVADDetector creates a detector with the given configuration.
func NewVADDetector(config VADConfig) *VADDetector {
	if config.FrameSamples <= 0 {
		config = DefaultVADConfig()
	}
	return &VADDetector{config: config}
}

// ProcessFrame analyses one frame of samples.
// Returns: (isSpeaking, speechStarted, speechEnded).
func (v *VADDetector) ProcessFrame(samples []int16) (bool, bool, bool) {
	rms := pcm.RMS(samples)
	frameHasSpeech := rms > v.config.EnergyThreshold

	var speechStarted, speechEnded bool

	if frameHasSpeech {
		v.silenceCounter = 0
		if !v.isSpeaking {
			speechStarted = true
			v.isSpeaking = true
		}
	} else {
		v.silenceCounter++
		if v.isSpeaking && v.silenceCounter >= v.config.SilenceFrames {
			speechEnded = true
			v.isSpeaking = false
			v.silenceCounter = 0
		}
	}

	return v.isSpeaking, speechStarted, speechEnded
}

// ProcessBytes splits a PCM16LE capture chunk into analysis frames and
// reports whether a speech boundary was crossed anywhere in the chunk.
// Partial frames are carried over to the next call.
func (v *VADDetector) ProcessBytes(chunk []byte) (speechStarted, speechEnded bool) {
	v.pending = append(v.pending, pcm.BytesToInt16(chunk)...)
	for len(v.pending) >= v.config.FrameSamples {
		frame := v.pending[:v.config.FrameSamples]
		v.pending = v.pending[v.config.FrameSamples:]
		_, started, ended := v.ProcessFrame(frame)
		speechStarted = speechStarted || started
		speechEnded = speechEnded || ended
	}
	return speechStarted, speechEnded
}

// Reset clears the detector state.
func (v *VADDetector) Reset() {
	v.silenceCounter = 0
	v.isSpeaking = false
	v.pending = nil
}

// IsSpeaking reports whether speech is currently detected.
func (v *VADDetector) IsSpeaking() bool {
	return v.isSpeaking
}
