package profile

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Profile is the configuration to start main server.
type Profile struct {
	// Mode can be "prod" or "dev" or "demo"
	Mode string
	// Addr is the binding address for server
	Addr string
	// Port is the binding port for server
	Port int
	// Version is the current version of server
	Version string

	// Upstream speech/chat configuration (OpenAI compatible)
	OpenAIAPIKey       string  // PARROTALK_OPENAI_API_KEY (legacy: OPENAI_API_KEY)
	OpenAIBaseURL      string  // PARROTALK_OPENAI_BASE_URL (default: https://api.openai.com/v1)
	TranscribeModel    string  // PARROTALK_TRANSCRIBE_MODEL (default: whisper-1)
	TranscribeLanguage string  // PARROTALK_TRANSCRIBE_LANGUAGE (default: en)
	ChatModel          string  // PARROTALK_CHAT_MODEL (default: gpt-4o-mini)
	ChatTemperature    float32 // PARROTALK_CHAT_TEMPERATURE (default: 0.8)
	ChatMaxTokens      int     // PARROTALK_CHAT_MAX_TOKENS (default: 150)
	SpeechModel        string  // PARROTALK_SPEECH_MODEL (default: tts-1)
	SpeechVoice        string  // PARROTALK_SPEECH_VOICE (default: alloy)

	// Unit prices used for usage accounting, in USD
	WhisperUSDPerMin   float64 // OPENAI_WHISPER_USD_PER_MIN (default: 0.006)
	TTSUSDPer1KChars   float64 // OPENAI_TTS_USD_PER_1K_CHARS (default: 0.015)
	ChatInputUSDPer1K  float64 // OPENAI_GPT4O_MINI_INPUT_USD_PER_1K (default: 0.00015)
	ChatOutputUSDPer1K float64 // OPENAI_GPT4O_MINI_OUTPUT_USD_PER_1K (default: 0.0006)

	// Turn limits
	MaxAudioBytes          int64         // PARROTALK_MAX_AUDIO_BYTES (default: 25 MiB)
	ValidateAudioSignature bool          // PARROTALK_VALIDATE_AUDIO_SIGNATURE (default: true)
	HistoryLimit           int           // PARROTALK_HISTORY_LIMIT (default: 20 non-system messages)
	SessionIdleTTL         time.Duration // PARROTALK_SESSION_IDLE_TTL (default: 1h)
	MaxConcurrentTurns     int64         // PARROTALK_MAX_CONCURRENT_TURNS (default: 16)

	// Admission control
	UserRequestsPerMinute int     // PARROTALK_USER_RPM (default: 10)
	IPRequestsPerMinute   int     // PARROTALK_IP_RPM (default: 20)
	HourlyBudgetUSD       float64 // PARROTALK_HOURLY_BUDGET_USD (default: 10)
	EstimatedTurnCostUSD  float64 // PARROTALK_ESTIMATED_TURN_COST_USD (default: 0.01)
	ThrottleRPS           float64 // PARROTALK_THROTTLE_RPS (default: 10)
	ThrottleBurst         int     // PARROTALK_THROTTLE_BURST (default: 20)

	// Driver is the conversation store driver (supabase, postgres, sqlite or none)
	Driver string
	// DSN points to the postgres or sqlite database
	DSN string

	SupabaseURL       string // PARROTALK_SUPABASE_URL (legacy: SUPABASE_DB_URL, PUBLIC_SUPABASE_URL)
	SupabaseKey       string // PARROTALK_SUPABASE_KEY (legacy: SUPABASE_DB_PUBLIC_KEY, PUBLIC_SUPABASE_ANON_KEY)
	SupabaseJWTSecret string // PARROTALK_SUPABASE_JWT_SECRET

	// Redis backs shared rate/budget and session state when set
	RedisAddr     string // PARROTALK_REDIS_ADDR
	RedisPassword string // PARROTALK_REDIS_PASSWORD
	RedisDB       int    // PARROTALK_REDIS_DB
	RedisPrefix   string // PARROTALK_REDIS_PREFIX (default: parrotalk:)
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// IsRedisEnabled returns true when a Redis address is configured.
func (p *Profile) IsRedisEnabled() bool {
	return p.RedisAddr != ""
}

// FromEnv loads configuration from environment variables.
// Supports PARROTALK_* (new) and the variable names used by the web app (legacy).
func (p *Profile) FromEnv() {
	// Skips empty values to allow defaults to take effect
	getEnvWithDefault := func(newKey, legacyKey, defaultValue string) string {
		if val := os.Getenv(newKey); val != "" {
			return val
		}
		if legacyKey != "" {
			if val := os.Getenv(legacyKey); val != "" {
				return val
			}
		}
		return defaultValue
	}

	getFloatEnv := func(newKey, legacyKey string, defaultValue float64) float64 {
		raw := getEnvWithDefault(newKey, legacyKey, "")
		if raw == "" {
			return defaultValue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			slog.Warn("ignoring malformed float env", slog.String("key", newKey), slog.String("value", raw))
			return defaultValue
		}
		return v
	}

	getIntEnv := func(newKey string, defaultValue int64) int64 {
		raw := os.Getenv(newKey)
		if raw == "" {
			return defaultValue
		}
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			slog.Warn("ignoring malformed int env", slog.String("key", newKey), slog.String("value", raw))
			return defaultValue
		}
		return v
	}

	getBoolEnv := func(newKey string, defaultValue bool) bool {
		raw := os.Getenv(newKey)
		if raw == "" {
			return defaultValue
		}
		return strings.EqualFold(raw, "true") || raw == "1"
	}

	getDurationEnv := func(newKey string, defaultValue time.Duration) time.Duration {
		raw := os.Getenv(newKey)
		if raw == "" {
			return defaultValue
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			slog.Warn("ignoring malformed duration env", slog.String("key", newKey), slog.String("value", raw))
			return defaultValue
		}
		return d
	}

	p.OpenAIAPIKey = getEnvWithDefault("PARROTALK_OPENAI_API_KEY", "OPENAI_API_KEY", "")
	p.OpenAIBaseURL = getEnvWithDefault("PARROTALK_OPENAI_BASE_URL", "OPENAI_BASE_URL", "https://api.openai.com/v1")
	p.TranscribeModel = getEnvWithDefault("PARROTALK_TRANSCRIBE_MODEL", "", "whisper-1")
	p.TranscribeLanguage = getEnvWithDefault("PARROTALK_TRANSCRIBE_LANGUAGE", "", "en")
	p.ChatModel = getEnvWithDefault("PARROTALK_CHAT_MODEL", "", "gpt-4o-mini")
	p.ChatTemperature = float32(getFloatEnv("PARROTALK_CHAT_TEMPERATURE", "", 0.8))
	p.ChatMaxTokens = int(getIntEnv("PARROTALK_CHAT_MAX_TOKENS", 150))
	p.SpeechModel = getEnvWithDefault("PARROTALK_SPEECH_MODEL", "", "tts-1")
	p.SpeechVoice = getEnvWithDefault("PARROTALK_SPEECH_VOICE", "", "alloy")

	p.WhisperUSDPerMin = getFloatEnv("PARROTALK_WHISPER_USD_PER_MIN", "OPENAI_WHISPER_USD_PER_MIN", 0.006)
	p.TTSUSDPer1KChars = getFloatEnv("PARROTALK_TTS_USD_PER_1K_CHARS", "OPENAI_TTS_USD_PER_1K_CHARS", 0.015)
	p.ChatInputUSDPer1K = getFloatEnv("PARROTALK_CHAT_INPUT_USD_PER_1K", "OPENAI_GPT4O_MINI_INPUT_USD_PER_1K", 0.00015)
	p.ChatOutputUSDPer1K = getFloatEnv("PARROTALK_CHAT_OUTPUT_USD_PER_1K", "OPENAI_GPT4O_MINI_OUTPUT_USD_PER_1K", 0.0006)

	p.MaxAudioBytes = getIntEnv("PARROTALK_MAX_AUDIO_BYTES", 25*1024*1024)
	p.ValidateAudioSignature = getBoolEnv("PARROTALK_VALIDATE_AUDIO_SIGNATURE", true)
	p.HistoryLimit = int(getIntEnv("PARROTALK_HISTORY_LIMIT", 20))
	p.SessionIdleTTL = getDurationEnv("PARROTALK_SESSION_IDLE_TTL", time.Hour)
	p.MaxConcurrentTurns = getIntEnv("PARROTALK_MAX_CONCURRENT_TURNS", 16)

	p.UserRequestsPerMinute = int(getIntEnv("PARROTALK_USER_RPM", 10))
	p.IPRequestsPerMinute = int(getIntEnv("PARROTALK_IP_RPM", 20))
	p.HourlyBudgetUSD = getFloatEnv("PARROTALK_HOURLY_BUDGET_USD", "", 10)
	p.EstimatedTurnCostUSD = getFloatEnv("PARROTALK_ESTIMATED_TURN_COST_USD", "", 0.01)
	p.ThrottleRPS = getFloatEnv("PARROTALK_THROTTLE_RPS", "", 10)
	p.ThrottleBurst = int(getIntEnv("PARROTALK_THROTTLE_BURST", 20))

	p.SupabaseURL = getEnvWithDefault("PARROTALK_SUPABASE_URL", "SUPABASE_DB_URL", os.Getenv("PUBLIC_SUPABASE_URL"))
	p.SupabaseKey = getEnvWithDefault("PARROTALK_SUPABASE_KEY", "SUPABASE_DB_PUBLIC_KEY", os.Getenv("PUBLIC_SUPABASE_ANON_KEY"))
	p.SupabaseJWTSecret = getEnvWithDefault("PARROTALK_SUPABASE_JWT_SECRET", "SUPABASE_JWT_SECRET", "")

	p.RedisAddr = getEnvWithDefault("PARROTALK_REDIS_ADDR", "", "")
	p.RedisPassword = getEnvWithDefault("PARROTALK_REDIS_PASSWORD", "", "")
	p.RedisDB = int(getIntEnv("PARROTALK_REDIS_DB", 0))
	p.RedisPrefix = getEnvWithDefault("PARROTALK_REDIS_PREFIX", "", "parrotalk:")
}

func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}
	if p.Port <= 0 {
		p.Port = 8081
	}

	if p.OpenAIAPIKey == "" {
		return errors.New("server misconfiguration: OpenAI API key is missing")
	}

	if p.MaxAudioBytes <= 0 {
		p.MaxAudioBytes = 25 * 1024 * 1024
	}
	if p.HistoryLimit <= 0 {
		p.HistoryLimit = 20
	}
	if p.MaxConcurrentTurns <= 0 {
		p.MaxConcurrentTurns = 16
	}
	if p.UserRequestsPerMinute <= 0 {
		p.UserRequestsPerMinute = 10
	}
	if p.IPRequestsPerMinute <= 0 {
		p.IPRequestsPerMinute = 20
	}
	if p.HourlyBudgetUSD <= 0 {
		p.HourlyBudgetUSD = 10
	}
	if p.EstimatedTurnCostUSD < 0 {
		p.EstimatedTurnCostUSD = 0
	}

	switch p.Driver {
	case "", "none":
		p.Driver = "none"
		if p.SupabaseURL != "" && p.SupabaseKey != "" {
			p.Driver = "supabase"
		}
	case "supabase":
		if p.SupabaseURL == "" || p.SupabaseKey == "" {
			return errors.New("supabase driver requires a URL and an API key")
		}
	case "postgres", "sqlite":
		if p.DSN == "" {
			return errors.Errorf("%s driver requires a DSN", p.Driver)
		}
	default:
		return errors.Errorf("unknown store driver %q", p.Driver)
	}

	return nil
}
