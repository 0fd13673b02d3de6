package profile

import (
	"testing"
	"time"
)

var profileEnvVars = []string{
	"PARROTALK_OPENAI_API_KEY", "OPENAI_API_KEY",
	"PARROTALK_OPENAI_BASE_URL", "OPENAI_BASE_URL",
	"PARROTALK_CHAT_MODEL", "PARROTALK_CHAT_TEMPERATURE", "PARROTALK_CHAT_MAX_TOKENS",
	"PARROTALK_WHISPER_USD_PER_MIN", "OPENAI_WHISPER_USD_PER_MIN",
	"PARROTALK_TTS_USD_PER_1K_CHARS", "OPENAI_TTS_USD_PER_1K_CHARS",
	"PARROTALK_HISTORY_LIMIT", "PARROTALK_SESSION_IDLE_TTL",
	"PARROTALK_SUPABASE_URL", "SUPABASE_DB_URL", "PUBLIC_SUPABASE_URL",
	"PARROTALK_SUPABASE_KEY", "SUPABASE_DB_PUBLIC_KEY", "PUBLIC_SUPABASE_ANON_KEY",
	"PARROTALK_REDIS_ADDR", "PARROTALK_VALIDATE_AUDIO_SIGNATURE",
}

// clearProfileEnv blanks every variable FromEnv reads so defaults apply.
func clearProfileEnv(t *testing.T) {
	t.Helper()
	for _, key := range profileEnvVars {
		t.Setenv(key, "")
	}
}

func TestProfileDefaults(t *testing.T) {
	clearProfileEnv(t)

	p := &Profile{}
	p.FromEnv()

	tests := []struct {
		name     string
		expected any
		actual   any
	}{
		{"OpenAIBaseURL default", "https://api.openai.com/v1", p.OpenAIBaseURL},
		{"TranscribeModel default", "whisper-1", p.TranscribeModel},
		{"ChatModel default", "gpt-4o-mini", p.ChatModel},
		{"ChatTemperature default", float32(0.8), p.ChatTemperature},
		{"ChatMaxTokens default", 150, p.ChatMaxTokens},
		{"SpeechVoice default", "alloy", p.SpeechVoice},
		{"WhisperUSDPerMin default", 0.006, p.WhisperUSDPerMin},
		{"TTSUSDPer1KChars default", 0.015, p.TTSUSDPer1KChars},
		{"MaxAudioBytes default", int64(25 * 1024 * 1024), p.MaxAudioBytes},
		{"HistoryLimit default", 20, p.HistoryLimit},
		{"SessionIdleTTL default", time.Hour, p.SessionIdleTTL},
		{"ValidateAudioSignature default", true, p.ValidateAudioSignature},
		{"UserRequestsPerMinute default", 10, p.UserRequestsPerMinute},
		{"HourlyBudgetUSD default", 10.0, p.HourlyBudgetUSD},
		{"RedisPrefix default", "parrotalk:", p.RedisPrefix},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.actual != tt.expected {
				t.Errorf("%s: expected %v, got %v", tt.name, tt.expected, tt.actual)
			}
		})
	}
}

func TestProfileFromEnv(t *testing.T) {
	tests := []struct {
		name     string
		envVar   string
		envValue string
		field    func(*Profile) any
		expected any
	}{
		{
			name:     "legacy OPENAI_API_KEY",
			envVar:   "OPENAI_API_KEY",
			envValue: "sk-legacy",
			field:    func(p *Profile) any { return p.OpenAIAPIKey },
			expected: "sk-legacy",
		},
		{
			name:     "PARROTALK_OPENAI_API_KEY",
			envVar:   "PARROTALK_OPENAI_API_KEY",
			envValue: "sk-new",
			field:    func(p *Profile) any { return p.OpenAIAPIKey },
			expected: "sk-new",
		},
		{
			name:     "legacy whisper price",
			envVar:   "OPENAI_WHISPER_USD_PER_MIN",
			envValue: "0.01",
			field:    func(p *Profile) any { return p.WhisperUSDPerMin },
			expected: 0.01,
		},
		{
			name:     "malformed float falls back",
			envVar:   "PARROTALK_TTS_USD_PER_1K_CHARS",
			envValue: "cheap",
			field:    func(p *Profile) any { return p.TTSUSDPer1KChars },
			expected: 0.015,
		},
		{
			name:     "history limit",
			envVar:   "PARROTALK_HISTORY_LIMIT",
			envValue: "6",
			field:    func(p *Profile) any { return p.HistoryLimit },
			expected: 6,
		},
		{
			name:     "idle ttl",
			envVar:   "PARROTALK_SESSION_IDLE_TTL",
			envValue: "15m",
			field:    func(p *Profile) any { return p.SessionIdleTTL },
			expected: 15 * time.Minute,
		},
		{
			name:     "signature validation off",
			envVar:   "PARROTALK_VALIDATE_AUDIO_SIGNATURE",
			envValue: "false",
			field:    func(p *Profile) any { return p.ValidateAudioSignature },
			expected: false,
		},
		{
			name:     "public supabase url fallback",
			envVar:   "PUBLIC_SUPABASE_URL",
			envValue: "https://demo.supabase.co",
			field:    func(p *Profile) any { return p.SupabaseURL },
			expected: "https://demo.supabase.co",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearProfileEnv(t)
			t.Setenv(tt.envVar, tt.envValue)

			p := &Profile{}
			p.FromEnv()

			if got := tt.field(p); got != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestProfileValidate(t *testing.T) {
	t.Run("missing api key", func(t *testing.T) {
		p := &Profile{}
		if err := p.Validate(); err == nil {
			t.Error("expected error for missing api key")
		}
	})

	t.Run("defaults applied", func(t *testing.T) {
		p := &Profile{Mode: "weird", OpenAIAPIKey: "sk"}
		if err := p.Validate(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if p.Mode != "demo" {
			t.Errorf("expected demo mode, got %s", p.Mode)
		}
		if p.Driver != "none" {
			t.Errorf("expected none driver, got %s", p.Driver)
		}
		if p.HistoryLimit != 20 {
			t.Errorf("expected history limit 20, got %d", p.HistoryLimit)
		}
	})

	t.Run("supabase inferred", func(t *testing.T) {
		p := &Profile{OpenAIAPIKey: "sk", SupabaseURL: "https://x.supabase.co", SupabaseKey: "anon"}
		if err := p.Validate(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if p.Driver != "supabase" {
			t.Errorf("expected supabase driver, got %s", p.Driver)
		}
	})

	t.Run("postgres without dsn", func(t *testing.T) {
		p := &Profile{OpenAIAPIKey: "sk", Driver: "postgres"}
		if err := p.Validate(); err == nil {
			t.Error("expected error for missing dsn")
		}
	})

	t.Run("unknown driver", func(t *testing.T) {
		p := &Profile{OpenAIAPIKey: "sk", Driver: "mysql"}
		if err := p.Validate(); err == nil {
			t.Error("expected error for unknown driver")
		}
	})
}
