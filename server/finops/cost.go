package finops

import (
	"math"

	"github.com/hrygo/parrotalk/internal/profile"
)

// Rates holds upstream unit prices in USD.
type Rates struct {
	WhisperPerMinute float64
	TTSPer1KChars    float64
	ChatInputPer1K   float64
	ChatOutputPer1K  float64
}

// DefaultRates returns the list prices for whisper-1, tts-1 and gpt-4o-mini.
func DefaultRates() Rates {
	return Rates{
		WhisperPerMinute: 0.006,
		TTSPer1KChars:    0.015,
		ChatInputPer1K:   0.00015,
		ChatOutputPer1K:  0.0006,
	}
}

// RatesFromProfile reads unit prices from the server profile.
func RatesFromProfile(p *profile.Profile) Rates {
	return Rates{
		WhisperPerMinute: p.WhisperUSDPerMin,
		TTSPer1KChars:    p.TTSUSDPer1KChars,
		ChatInputPer1K:   p.ChatInputUSDPer1K,
		ChatOutputPer1K:  p.ChatOutputUSDPer1K,
	}
}

// TurnUsage is the metered consumption of one conversation turn.
type TurnUsage struct {
	AudioInputSeconds  float64 `json:"audioInputSeconds"`
	AudioOutputSeconds float64 `json:"audioOutputSeconds"`
	TranscriptionChars int     `json:"transcriptionChars"`
	TTSChars           int     `json:"ttsChars"`
	PromptTokens       int     `json:"promptTokens"`
	CompletionTokens   int     `json:"completionTokens"`
	TotalTokens        int     `json:"totalTokens"`
	EstimatedCostUSD   float64 `json:"estimatedCostUsd"`
}

// CostBreakdown splits a turn cost by upstream stage.
type CostBreakdown struct {
	Transcription float64
	Chat          float64
	Speech        float64
	Total         float64
}

// EstimateTranscriptionCost prices audio by duration.
func (r Rates) EstimateTranscriptionCost(seconds float64) float64 {
	if seconds <= 0 {
		return 0
	}
	return seconds / 60.0 * r.WhisperPerMinute
}

// EstimateChatCost prices a completion by prompt and completion tokens.
func (r Rates) EstimateChatCost(promptTokens, completionTokens int) float64 {
	return float64(promptTokens)/1000.0*r.ChatInputPer1K + float64(completionTokens)/1000.0*r.ChatOutputPer1K
}

// EstimateSpeechCost prices synthesized speech by input characters.
func (r Rates) EstimateSpeechCost(chars int) float64 {
	return float64(chars) / 1000.0 * r.TTSPer1KChars
}

// Breakdown computes the per-stage cost of a turn. Total is rounded to 6 decimals.
func (r Rates) Breakdown(u TurnUsage) CostBreakdown {
	b := CostBreakdown{
		Transcription: r.EstimateTranscriptionCost(u.AudioInputSeconds),
		Chat:          r.EstimateChatCost(u.PromptTokens, u.CompletionTokens),
		Speech:        r.EstimateSpeechCost(u.TTSChars),
	}
	b.Total = RoundUSD(b.Transcription + b.Chat + b.Speech)
	return b
}

// Price fills EstimatedCostUSD and TotalTokens on u and returns it.
func (r Rates) Price(u TurnUsage) TurnUsage {
	if u.TotalTokens == 0 {
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
	}
	u.EstimatedCostUSD = r.Breakdown(u).Total
	return u
}

// RoundUSD rounds to micro-dollar precision.
func RoundUSD(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
