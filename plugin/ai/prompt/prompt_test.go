package prompt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuild_Defaults(t *testing.T) {
	got := Default()

	assert.Contains(t, got, "You are "+Defaults.Role+".")
	assert.Contains(t, got, "- "+Defaults.ResponseLength+" per turn maximum")
	assert.Contains(t, got, Defaults.Topics)
	assert.Contains(t, got, "4. Feedback: "+Defaults.CorrectionStyle)
	assert.NotContains(t, got, "{{")
}

func TestBuild_CallerOverridesPreset(t *testing.T) {
	got := Build(Options{Preset: "Business", Topics: "quarterly planning"})

	assert.Contains(t, got, Presets["business"].Role)
	assert.Contains(t, got, "quarterly planning")
	assert.NotContains(t, got, Presets["business"].Topics)
}

func TestMerge(t *testing.T) {
	tests := []struct {
		name     string
		in       Options
		expected Options
	}{
		{
			name:     "empty uses defaults",
			in:       Options{},
			expected: Defaults,
		},
		{
			name: "unknown preset ignored",
			in:   Options{Preset: "pirate", Role: " a pirate "},
			expected: Options{
				Preset:          "pirate",
				Role:            "a pirate",
				Personality:     Defaults.Personality,
				ResponseLength:  Defaults.ResponseLength,
				Topics:          Defaults.Topics,
				CorrectionStyle: Defaults.CorrectionStyle,
				Difficulty:      Defaults.Difficulty,
			},
		},
		{
			name: "preset fills everything",
			in:   Options{Preset: "casual"},
			expected: func() Options {
				o := Presets["casual"]
				o.Preset = "casual"
				return o
			}(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.in.Merge())
		})
	}
}

func TestParse(t *testing.T) {
	o, err := Parse("")
	require.NoError(t, err)
	assert.True(t, o.IsZero())

	o, err = Parse(`{"role":"coach","difficulty":"hard","unknown":1}`)
	require.NoError(t, err)
	assert.Equal(t, "coach", o.Role)
	assert.Equal(t, "hard", o.Difficulty)

	_, err = Parse(`{"role":`)
	assert.Error(t, err)
}
