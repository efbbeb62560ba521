package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the conversation engine service
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// Voice provider configuration
	ProviderAPIKey    string `envconfig:"PROVIDER_API_KEY" required:"true"`
	ProviderBaseURL   string `envconfig:"PROVIDER_BASE_URL" default:"https://api.voice-provider.example"`
	ProviderSignalURL string `envconfig:"PROVIDER_SIGNAL_URL" default:""` // realtime transport only
	ProviderModel     string `envconfig:"PROVIDER_MODEL" default:"realtime-1"`
	ProviderVoice     string `envconfig:"PROVIDER_VOICE" default:"alloy"`

	// Transport selects how captured audio reaches the remote session:
	// "append" (batched HTTP) or "realtime" (negotiated media channel)
	Transport string `envconfig:"TRANSPORT" default:"append"`

	// TurnDetection selects the speech-boundary source: "server" or "local"
	TurnDetection string `envconfig:"TURN_DETECTION" default:"server"`

	// TranscriptAuthority selects which transcription source owns the host
	// transcript: "server" or "local"
	TranscriptAuthority string `envconfig:"TRANSCRIPT_AUTHORITY" default:"server"`

	// Deepgram configuration, used when TranscriptAuthority is "local"
	DeepgramAPIKey   string `envconfig:"DEEPGRAM_API_KEY" default:""`
	DeepgramModel    string `envconfig:"DEEPGRAM_MODEL" default:"nova-2"`
	DeepgramLanguage string `envconfig:"DEEPGRAM_LANGUAGE" default:"en"`

	// Audio configuration
	CaptureSampleRate  int     `envconfig:"CAPTURE_SAMPLE_RATE" default:"24000"`  // Hz, host microphone path
	PlaybackSampleRate int     `envconfig:"PLAYBACK_SAMPLE_RATE" default:"24000"` // Hz, remote session output
	CaptureBatchBytes  int     `envconfig:"CAPTURE_BATCH_BYTES" default:"5760"`   // ~120ms at 24kHz PCM16
	CaptureFlushMs     int     `envconfig:"CAPTURE_FLUSH_MS" default:"150"`       // Partial-batch flush interval
	MaxRetainedChunks  int     `envconfig:"MAX_RETAINED_CHUNKS" default:"500000"` // Recording memory cap per track
	VADEnergyThreshold float64 `envconfig:"VAD_ENERGY_THRESHOLD" default:"500.0"` // RMS threshold for local detection
	VADSilenceFrames   int     `envconfig:"VAD_SILENCE_FRAMES" default:"25"`      // Silence frames marking speech end

	// Transcript reveal configuration
	AIRevealTickMs   int `envconfig:"AI_REVEAL_TICK_MS" default:"35"`   // Token release cadence for AI text
	HostRevealTickMs int `envconfig:"HOST_REVEAL_TICK_MS" default:"25"` // Used only if host reveal is paced

	// Transmission configuration
	AppendIntervalMs int `envconfig:"APPEND_INTERVAL_MS" default:"50"` // Batched transport upload cadence

	// Resilience configuration
	ReconnectMaxAttempts int `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"5"`  // Push-stream reconnection attempts
	ReconnectBackoff     int `envconfig:"RECONNECT_BACKOFF" default:"1000"`    // Initial backoff in milliseconds
	ReconnectMaxBackoff  int `envconfig:"RECONNECT_MAX_BACKOFF" default:"30"`  // Backoff ceiling in seconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks required fields and cross-field consistency. A missing
// credential is fatal to start, never silently degraded.
func (c *Config) Validate() error {
	if c.ProviderAPIKey == "" {
		return fmt.Errorf("PROVIDER_API_KEY is required")
	}

	switch c.Transport {
	case "append":
	case "realtime":
		if c.ProviderSignalURL == "" {
			return fmt.Errorf("PROVIDER_SIGNAL_URL is required when TRANSPORT=realtime")
		}
	default:
		return fmt.Errorf("TRANSPORT must be \"append\" or \"realtime\", got %q", c.Transport)
	}

	if c.TurnDetection != "server" && c.TurnDetection != "local" {
		return fmt.Errorf("TURN_DETECTION must be \"server\" or \"local\", got %q", c.TurnDetection)
	}

	switch c.TranscriptAuthority {
	case "server":
	case "local":
		if c.DeepgramAPIKey == "" {
			return fmt.Errorf("DEEPGRAM_API_KEY is required when TRANSCRIPT_AUTHORITY=local")
		}
	default:
		return fmt.Errorf("TRANSCRIPT_AUTHORITY must be \"server\" or \"local\", got %q", c.TranscriptAuthority)
	}

	if c.CaptureSampleRate <= 0 || c.PlaybackSampleRate <= 0 {
		return fmt.Errorf("sample rates must be positive")
	}

	return nil
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
