package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr string

	// CORS
	CORSAllowedOrigins map[string]struct{} // empty => disabled

	// Live WebSocket relay (/ws).
	LiveMaxAudioFrameBytes  int
	LiveMaxJSONMessageBytes int64
	LiveOutboundQueueSize   int
	LiveDedupeWindow        time.Duration
	LiveWSPingInterval      time.Duration
	LiveWSWriteTimeout      time.Duration
	LiveWSReadTimeout       time.Duration

	// Upstream provider endpoints. Overridable so tests can point the
	// relay at a local server.
	AssemblyAIBaseURL string
	MurfBaseURL       string

	// STT stream parameters.
	STTSampleRate  int
	STTFormatTurns bool

	// LLM generation.
	LLMModel string

	// TTS voice defaults.
	TTSVoiceID string
	TTSStyle   string

	// Persisted per-user API keys.
	KeystorePath string
	MasterKey    string

	// Operational defaults
	ReadHeaderTimeout   time.Duration
	ReadTimeout         time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                    envOr("VOICECHAT_ADDR", ":8000"),
		CORSAllowedOrigins:      make(map[string]struct{}),
		LiveMaxAudioFrameBytes:  envIntOr("VOICECHAT_LIVE_MAX_AUDIO_FRAME_BYTES", 64*1024),
		LiveMaxJSONMessageBytes: envInt64Or("VOICECHAT_LIVE_MAX_JSON_MESSAGE_BYTES", 64*1024),
		LiveOutboundQueueSize:   envIntOr("VOICECHAT_LIVE_OUTBOUND_QUEUE_SIZE", 256),
		LiveDedupeWindow:        envDurationOr("VOICECHAT_LIVE_DEDUPE_WINDOW", 2*time.Second),
		LiveWSPingInterval:      envDurationOr("VOICECHAT_LIVE_WS_PING_INTERVAL", 20*time.Second),
		LiveWSWriteTimeout:      envDurationOr("VOICECHAT_LIVE_WS_WRITE_TIMEOUT", 5*time.Second),
		LiveWSReadTimeout:       envDurationOr("VOICECHAT_LIVE_WS_READ_TIMEOUT", 0),
		AssemblyAIBaseURL:       envOr("VOICECHAT_ASSEMBLYAI_BASE_URL", "wss://streaming.assemblyai.com"),
		MurfBaseURL:             envOr("VOICECHAT_MURF_BASE_URL", "wss://api.murf.ai"),
		STTSampleRate:           envIntOr("VOICECHAT_STT_SAMPLE_RATE", 16000),
		STTFormatTurns:          envBoolOr("VOICECHAT_STT_FORMAT_TURNS", true),
		LLMModel:                envOr("VOICECHAT_LLM_MODEL", "gemini-2.5-flash"),
		TTSVoiceID:              envOr("VOICECHAT_TTS_VOICE_ID", "en-US-amara"),
		TTSStyle:                envOr("VOICECHAT_TTS_STYLE", "Conversational"),
		KeystorePath:            envOr("VOICECHAT_KEYSTORE_PATH", "user_keys.json"),
		MasterKey:               os.Getenv("VOICECHAT_MASTER_KEY"),
		ReadHeaderTimeout:       envDurationOr("VOICECHAT_READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:             envDurationOr("VOICECHAT_READ_TIMEOUT", 30*time.Second),
		ShutdownGracePeriod:     envDurationOr("VOICECHAT_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	for _, origin := range splitCSV(os.Getenv("VOICECHAT_CORS_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	if cfg.LiveMaxAudioFrameBytes <= 0 {
		return Config{}, fmt.Errorf("VOICECHAT_LIVE_MAX_AUDIO_FRAME_BYTES must be > 0")
	}
	if cfg.LiveMaxJSONMessageBytes <= 0 {
		return Config{}, fmt.Errorf("VOICECHAT_LIVE_MAX_JSON_MESSAGE_BYTES must be > 0")
	}
	if cfg.LiveOutboundQueueSize <= 0 {
		return Config{}, fmt.Errorf("VOICECHAT_LIVE_OUTBOUND_QUEUE_SIZE must be > 0")
	}
	if cfg.LiveDedupeWindow <= 0 {
		return Config{}, fmt.Errorf("VOICECHAT_LIVE_DEDUPE_WINDOW must be > 0")
	}
	if cfg.LiveWSPingInterval <= 0 {
		return Config{}, fmt.Errorf("VOICECHAT_LIVE_WS_PING_INTERVAL must be > 0")
	}
	if cfg.LiveWSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICECHAT_LIVE_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.LiveWSReadTimeout < 0 {
		return Config{}, fmt.Errorf("VOICECHAT_LIVE_WS_READ_TIMEOUT must be >= 0")
	}
	if cfg.STTSampleRate <= 0 {
		return Config{}, fmt.Errorf("VOICECHAT_STT_SAMPLE_RATE must be > 0")
	}
	if strings.TrimSpace(cfg.AssemblyAIBaseURL) == "" {
		return Config{}, fmt.Errorf("VOICECHAT_ASSEMBLYAI_BASE_URL must not be empty")
	}
	if strings.TrimSpace(cfg.MurfBaseURL) == "" {
		return Config{}, fmt.Errorf("VOICECHAT_MURF_BASE_URL must not be empty")
	}
	if strings.TrimSpace(cfg.LLMModel) == "" {
		return Config{}, fmt.Errorf("VOICECHAT_LLM_MODEL must not be empty")
	}
	if strings.TrimSpace(cfg.KeystorePath) == "" {
		return Config{}, fmt.Errorf("VOICECHAT_KEYSTORE_PATH must not be empty")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICECHAT_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ReadTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICECHAT_READ_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("VOICECHAT_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	return cfg, nil
}

func splitCSV(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}
