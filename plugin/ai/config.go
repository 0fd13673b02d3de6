package ai

import (
	"errors"

	"github.com/hrygo/parrotalk/internal/profile"
)

// Config represents upstream AI configuration.
type Config struct {
	APIKey  string
	BaseURL string
	// MaxRetries is the number of attempts per upstream call. 1 disables retries.
	MaxRetries int

	Transcription TranscriptionConfig
	LLM           LLMConfig
	Speech        SpeechConfig
}

// TranscriptionConfig represents speech-to-text configuration.
type TranscriptionConfig struct {
	Model    string // whisper-1
	Language string // en
}

// LLMConfig represents chat completion configuration.
type LLMConfig struct {
	Model       string  // gpt-4o-mini
	MaxTokens   int     // default: 150
	Temperature float32 // default: 0.8
}

// SpeechConfig represents text-to-speech configuration.
type SpeechConfig struct {
	Model  string // tts-1
	Voice  string // alloy
	Format string // mp3
}

// NewConfigFromProfile creates AI config from profile.
func NewConfigFromProfile(p *profile.Profile) *Config {
	cfg := &Config{
		APIKey:     p.OpenAIAPIKey,
		BaseURL:    p.OpenAIBaseURL,
		MaxRetries: 1,
		Transcription: TranscriptionConfig{
			Model:    p.TranscribeModel,
			Language: p.TranscribeLanguage,
		},
		LLM: LLMConfig{
			Model:       p.ChatModel,
			MaxTokens:   p.ChatMaxTokens,
			Temperature: p.ChatTemperature,
		},
		Speech: SpeechConfig{
			Model:  p.SpeechModel,
			Voice:  p.SpeechVoice,
			Format: "mp3",
		},
	}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Transcription.Model == "" {
		c.Transcription.Model = "whisper-1"
	}
	if c.LLM.Model == "" {
		c.LLM.Model = "gpt-4o-mini"
	}
	if c.LLM.MaxTokens <= 0 {
		c.LLM.MaxTokens = 150
	}
	if c.Speech.Model == "" {
		c.Speech.Model = "tts-1"
	}
	if c.Speech.Voice == "" {
		c.Speech.Voice = "alloy"
	}
	if c.Speech.Format == "" {
		c.Speech.Format = "mp3"
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 1
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return errors.New("API key is required")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return errors.New("LLM temperature must be within [0, 2]")
	}
	return nil
}
