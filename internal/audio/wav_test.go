package audio

import (
	"encoding/binary"
	"testing"

	"github.com/podcaststudio/realtime-engine/internal/pcm"
)

func TestEncodeWAV_HeaderInvariants(t *testing.T) {
	samples := make([]int16, 2400) // 100ms at 24kHz
	for i := range samples {
		samples[i] = int16(i % 100)
	}
	payload := pcm.Int16ToBytes(samples)

	data, err := EncodeWAV(payload, 24000)
	if err != nil {
		t.Fatalf("EncodeWAV() failed: %v", err)
	}

	if len(data) != 44+len(payload) {
		t.Errorf("Expected %d bytes total, got %d", 44+len(payload), len(data))
	}
	if string(data[0:4]) != "RIFF" {
		t.Error("Missing RIFF magic")
	}
	if string(data[8:12]) != "WAVE" {
		t.Error("Missing WAVE magic")
	}
	if format := binary.LittleEndian.Uint16(data[20:22]); format != 1 {
		t.Errorf("Expected PCM format tag 1, got %d", format)
	}
	if channels := binary.LittleEndian.Uint16(data[22:24]); channels != 1 {
		t.Errorf("Expected 1 channel, got %d", channels)
	}
	if rate := binary.LittleEndian.Uint32(data[24:28]); rate != 24000 {
		t.Errorf("Expected sample rate 24000, got %d", rate)
	}
	// For N 16-bit samples the data chunk length must be exactly 2N.
	if dataSize := binary.LittleEndian.Uint32(data[40:44]); dataSize != uint32(len(samples)*2) {
		t.Errorf("Expected data size %d, got %d", len(samples)*2, dataSize)
	}
}

func TestEncodeWAV_RoundTrip(t *testing.T) {
	payload := pcm.Int16ToBytes([]int16{0, 100, -100, 32767, -32768})

	data, err := EncodeWAV(payload, 16000)
	if err != nil {
		t.Fatalf("EncodeWAV() failed: %v", err)
	}

	decoded, rate, err := DecodeWAV(data)
	if err != nil {
		t.Fatalf("DecodeWAV() failed: %v", err)
	}
	if rate != 16000 {
		t.Errorf("Expected sample rate 16000, got %d", rate)
	}
	if len(decoded) != len(payload) {
		t.Fatalf("Expected %d payload bytes, got %d", len(payload), len(decoded))
	}
	for i := range payload {
		if decoded[i] != payload[i] {
			t.Fatalf("Payload mismatch at byte %d", i)
		}
	}
}

func TestEncodeWAV_Errors(t *testing.T) {
	if _, err := EncodeWAV(nil, 24000); err == nil {
		t.Error("Expected error for empty payload")
	}
	if _, err := EncodeWAV([]byte{1, 2, 3}, 24000); err == nil {
		t.Error("Expected error for odd-length payload")
	}
	if _, err := EncodeWAV([]byte{1, 2}, 0); err == nil {
		t.Error("Expected error for invalid sample rate")
	}
}

func TestWAVDuration(t *testing.T) {
	// 24000 samples at 24kHz must report exactly one second.
	payload := make([]byte, 48000)
	data, err := EncodeWAV(payload, 24000)
	if err != nil {
		t.Fatalf("EncodeWAV() failed: %v", err)
	}

	duration, err := WAVDuration(data)
	if err != nil {
		t.Fatalf("WAVDuration() failed: %v", err)
	}
	if duration != 1.0 {
		t.Errorf("Expected duration 1.0s, got %f", duration)
	}
}

func TestDecodeWAV_Invalid(t *testing.T) {
	if _, _, err := DecodeWAV([]byte("too short")); err == nil {
		t.Error("Expected error for truncated data")
	}

	data, _ := EncodeWAV(make([]byte, 100), 8000)
	data[0] = 'X'
	if _, _, err := DecodeWAV(data); err == nil {
		t.Error("Expected error for corrupted RIFF magic")
	}
}
