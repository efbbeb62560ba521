package archive

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/podcaststudio/realtime-engine/internal/recorder"
	"github.com/podcaststudio/realtime-engine/internal/transcript"
)

func readArchive(t *testing.T, data []byte) map[string][]byte {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("Archive is not a valid ZIP: %v", err)
	}
	out := make(map[string][]byte)
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("Failed to open %s: %v", f.Name, err)
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatalf("Failed to read %s: %v", f.Name, err)
		}
		out[f.Name] = content
	}
	return out
}

func sampleConversation() *recorder.StoredConversation {
	start := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	aiStart := start.Add(65 * time.Second)
	return &recorder.StoredConversation{
		Version:   recorder.StoredConversationVersion,
		CreatedAt: start,
		PaperContext: &recorder.PaperContext{
			ID:    "1706.03762",
			Title: "Attention Is All You Need",
		},
		Transcript: []transcript.Entry{
			{ID: "e1", Speaker: transcript.SpeakerHost, Text: "What problem does this solve?", Status: transcript.StatusFinal, StartedAt: start, UpdatedAt: start},
			{ID: "e2", Speaker: transcript.SpeakerAI, Text: "It removes recurrence from sequence models.", Status: transcript.StatusFinal, StartedAt: aiStart, UpdatedAt: aiStart},
		},
		Audio: recorder.AudioTracks{
			Host: &recorder.EncodedTrack{Format: "wav", SampleRate: 24000, Channels: 1, Payload: []byte("RIFF-host"), DurationSeconds: 1},
			AI:   &recorder.EncodedTrack{Format: "wav", SampleRate: 24000, Channels: 1, Payload: []byte("RIFF-ai"), DurationSeconds: 2},
		},
		DurationSeconds: 120,
	}
}

func TestExport_ContainsAllEntries(t *testing.T) {
	data, err := Export(sampleConversation())
	if err != nil {
		t.Fatalf("Export() failed: %v", err)
	}

	files := readArchive(t, data)
	for _, name := range []string{HostTrackName, AITrackName, TranscriptName, MetadataName} {
		if _, ok := files[name]; !ok {
			t.Errorf("Archive missing entry %s", name)
		}
	}

	if string(files[HostTrackName]) != "RIFF-host" {
		t.Errorf("Host track corrupted: %q", files[HostTrackName])
	}
	if string(files[AITrackName]) != "RIFF-ai" {
		t.Errorf("AI track corrupted: %q", files[AITrackName])
	}

	var meta struct {
		Version         int      `json:"version"`
		DurationSeconds float64  `json:"duration_seconds"`
		TranscriptLines int      `json:"transcript_lines"`
		Tracks          []string `json:"tracks"`
	}
	if err := json.Unmarshal(files[MetadataName], &meta); err != nil {
		t.Fatalf("Metadata is not valid JSON: %v", err)
	}
	if meta.Version != recorder.StoredConversationVersion || meta.DurationSeconds != 120 {
		t.Errorf("Unexpected metadata: %+v", meta)
	}
	if meta.TranscriptLines != 2 || len(meta.Tracks) != 2 {
		t.Errorf("Unexpected metadata counts: %+v", meta)
	}
}

func TestExport_OmitsMissingTracks(t *testing.T) {
	conv := sampleConversation()
	conv.Audio.Host = nil

	data, err := Export(conv)
	if err != nil {
		t.Fatalf("Export() failed: %v", err)
	}

	files := readArchive(t, data)
	if _, ok := files[HostTrackName]; ok {
		t.Error("Expected no host.wav for silent host track")
	}
	if _, ok := files[AITrackName]; !ok {
		t.Error("Expected ai.wav to remain present")
	}
}

func TestExport_NilConversation(t *testing.T) {
	if _, err := Export(nil); err == nil {
		t.Error("Expected error for nil conversation")
	}
}

func TestFormatTranscript(t *testing.T) {
	conv := sampleConversation()
	text := FormatTranscript(conv.Transcript)

	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("Expected 2 transcript lines, got %d: %q", len(lines), text)
	}
	if lines[0] != "[00:00] Host: What problem does this solve?" {
		t.Errorf("Unexpected first line: %q", lines[0])
	}
	if lines[1] != "[01:05] AI: It removes recurrence from sequence models." {
		t.Errorf("Unexpected second line: %q", lines[1])
	}
}

func TestFormatTranscript_Empty(t *testing.T) {
	if got := FormatTranscript(nil); got != "(no transcript)\n" {
		t.Errorf("Unexpected empty transcript rendering: %q", got)
	}
}
