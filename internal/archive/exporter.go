// Package archive exports a stored conversation as a downloadable ZIP
// bundle containing the audio tracks, a readable transcript, and session
// metadata.
package archive

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/podcaststudio/realtime-engine/internal/recorder"
	"github.com/podcaststudio/realtime-engine/internal/transcript"
)

// Entry names inside the exported bundle.
const (
	HostTrackName  = "host.wav"
	AITrackName    = "ai.wav"
	TranscriptName = "transcript.txt"
	MetadataName   = "metadata.json"
)

type metadata struct {
	Version         int                    `json:"version"`
	CreatedAt       time.Time              `json:"created_at"`
	DurationSeconds float64                `json:"duration_seconds"`
	Paper           *recorder.PaperContext `json:"paper,omitempty"`
	TranscriptLines int                    `json:"transcript_lines"`
	Tracks          []string               `json:"tracks"`
}

// Export bundles the conversation into a ZIP archive. WAV payloads are
// already compressed-resistant PCM, so entries use Store rather than
// Deflate to keep export fast.
func Export(conv *recorder.StoredConversation) ([]byte, error) {
	if conv == nil {
		return nil, fmt.Errorf("cannot export nil conversation")
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	tracks := make([]string, 0, 2)
	if conv.Audio.Host != nil {
		if err := writeEntry(zw, HostTrackName, conv.Audio.Host.Payload); err != nil {
			return nil, err
		}
		tracks = append(tracks, HostTrackName)
	}
	if conv.Audio.AI != nil {
		if err := writeEntry(zw, AITrackName, conv.Audio.AI.Payload); err != nil {
			return nil, err
		}
		tracks = append(tracks, AITrackName)
	}

	if err := writeEntry(zw, TranscriptName, []byte(FormatTranscript(conv.Transcript))); err != nil {
		return nil, err
	}

	meta, err := json.MarshalIndent(metadata{
		Version:         conv.Version,
		CreatedAt:       conv.CreatedAt,
		DurationSeconds: conv.DurationSeconds,
		Paper:           conv.PaperContext,
		TranscriptLines: len(conv.Transcript),
		Tracks:          tracks,
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}
	if err := writeEntry(zw, MetadataName, meta); err != nil {
		return nil, err
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize archive: %w", err)
	}
	return buf.Bytes(), nil
}

func writeEntry(zw *zip.Writer, name string, payload []byte) error {
	w, err := zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   zip.Store,
		Modified: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to create archive entry %s: %w", name, err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("failed to write archive entry %s: %w", name, err)
	}
	return nil
}

// FormatTranscript renders the transcript as timestamped, speaker-labeled
// plain text, one line per finalized or in-flight entry.
func FormatTranscript(entries []transcript.Entry) string {
	if len(entries) == 0 {
		return "(no transcript)\n"
	}

	var b bytes.Buffer
	origin := entries[0].StartedAt
	for _, e := range entries {
		offset := e.StartedAt.Sub(origin)
		if offset < 0 {
			offset = 0
		}
		fmt.Fprintf(&b, "[%s] %s: %s\n", formatOffset(offset), speakerLabel(e.Speaker), e.Text)
	}
	return b.String()
}

func speakerLabel(sp transcript.Speaker) string {
	switch sp {
	case transcript.SpeakerHost:
		return "Host"
	case transcript.SpeakerAI:
		return "AI"
	default:
		return string(sp)
	}
}

func formatOffset(d time.Duration) string {
	total := int(d.Seconds())
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}
