package audio

import (
	"testing"

	"github.com/podcaststudio/realtime-engine/internal/pcm"
)

func loudFrame(n int) []int16 {
	frame := make([]int16, n)
	for i := range frame {
		frame[i] = 5000
	}
	return frame
}

func quietFrame(n int) []int16 {
	return make([]int16, n)
}

func TestVADDetector_SpeechStartAndEnd(t *testing.T) {
	detector := NewVADDetector(VADConfig{
		EnergyThreshold: 500.0,
		SilenceFrames:   3,
		FrameSamples:    160,
	})

	speaking, started, ended := detector.ProcessFrame(loudFrame(160))
	if !speaking || !started || ended {
		t.Errorf("Expected speech start on loud frame, got speaking=%v started=%v ended=%v", speaking, started, ended)
	}

	// A second loud frame does not re-signal a start.
	_, started, _ = detector.ProcessFrame(loudFrame(160))
	if started {
		t.Error("Expected no duplicate speech-started signal")
	}

	// Silence below the hysteresis threshold keeps the speaking state.
	for i := 0; i < 2; i++ {
		speaking, _, ended = detector.ProcessFrame(quietFrame(160))
		if !speaking || ended {
			t.Fatalf("Expected speech to survive %d silence frames", i+1)
		}
	}

	// The third consecutive silence frame ends the turn.
	speaking, _, ended = detector.ProcessFrame(quietFrame(160))
	if speaking || !ended {
		t.Errorf("Expected speech end after silence run, got speaking=%v ended=%v", speaking, ended)
	}
}

func TestVADDetector_SpeechResetsOnNoise(t *testing.T) {
	detector := NewVADDetector(VADConfig{
		EnergyThreshold: 500.0,
		SilenceFrames:   2,
		FrameSamples:    160,
	})

	detector.ProcessFrame(loudFrame(160))
	detector.ProcessFrame(quietFrame(160))
	// Speech resumes before the silence run completes.
	detector.ProcessFrame(loudFrame(160))
	_, _, ended := detector.ProcessFrame(quietFrame(160))
	if ended {
		t.Error("Expected silence counter reset by resumed speech")
	}
}

func TestVADDetector_ProcessBytes(t *testing.T) {
	detector := NewVADDetector(VADConfig{
		EnergyThreshold: 500.0,
		SilenceFrames:   2,
		FrameSamples:    160,
	})

	started, ended := detector.ProcessBytes(pcm.Int16ToBytes(loudFrame(320)))
	if !started || ended {
		t.Errorf("Expected speech start from byte chunk, got started=%v ended=%v", started, ended)
	}

	started, ended = detector.ProcessBytes(pcm.Int16ToBytes(quietFrame(320)))
	if started || !ended {
		t.Errorf("Expected speech end from silent chunk, got started=%v ended=%v", started, ended)
	}
}

func TestVADDetector_ProcessBytesCarriesPartialFrames(t *testing.T) {
	detector := NewVADDetector(VADConfig{
		EnergyThreshold: 500.0,
		SilenceFrames:   2,
		FrameSamples:    160,
	})

	// 100 samples: below one frame, nothing happens yet.
	started, _ := detector.ProcessBytes(pcm.Int16ToBytes(loudFrame(100)))
	if started {
		t.Error("Expected no boundary before a full frame accumulated")
	}

	// The carried samples plus these complete a frame.
	started, _ = detector.ProcessBytes(pcm.Int16ToBytes(loudFrame(60)))
	if !started {
		t.Error("Expected speech start once carried frame completed")
	}
}

func TestVADDetector_Reset(t *testing.T) {
	detector := NewVADDetector(DefaultVADConfig())
	detector.ProcessFrame(loudFrame(480))
	detector.Reset()
	if detector.IsSpeaking() {
		t.Error("Expected not speaking after reset")
	}
}
