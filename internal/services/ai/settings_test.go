package ai

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettingsDefaults(t *testing.T) {
	s := NewSettings()

	// Harm categories start permissive; /settings tightens them.
	safety := s.Safety()
	assert.False(t, safety.Harassment)
	assert.False(t, safety.Hate)
	assert.False(t, safety.SexuallyExplicit)
	assert.False(t, safety.DangerousContent)

	gen := s.Generation()
	assert.InDelta(t, 0.9, gen.Temperature, 1e-9)
	assert.InDelta(t, 0.95, gen.TopP, 1e-9)
	assert.Equal(t, 40, gen.TopK)
	assert.Equal(t, 2048, gen.MaxOutputTokens)

	assert.InDelta(t, 0.9, s.GroqTemperature(), 1e-9)
}

func TestSettingsSetSafety(t *testing.T) {
	s := NewSettings()

	detail, err := s.Set("safety.harassment", "block")
	require.NoError(t, err)
	assert.Contains(t, detail, "harassment")
	assert.True(t, s.Safety().Harassment)

	detail, err = s.Set("safety.harassment", "allow_more")
	require.NoError(t, err)
	assert.Contains(t, detail, "harassment")
	assert.False(t, s.Safety().Harassment)

	_, err = s.Set("safety.harassment", "maybe")
	assert.Error(t, err)

	_, err = s.Set("safety.unknown", "block")
	assert.Error(t, err)
}

func TestSettingsSetGeneration(t *testing.T) {
	s := NewSettings()

	_, err := s.Set("config.temperature", "0.7")
	require.NoError(t, err)
	assert.InDelta(t, 0.7, s.Generation().Temperature, 1e-9)

	_, err = s.Set("config.maxOutputTokens", "1024")
	require.NoError(t, err)
	assert.Equal(t, 1024, s.Generation().MaxOutputTokens)

	_, err = s.Set("config.temperature", "hot")
	assert.Error(t, err)
}

func TestSettingsSetGroqTemperature(t *testing.T) {
	s := NewSettings()

	for _, path := range []string{"groq.temperature", "groq.temp"} {
		_, err := s.Set(path, "0.5")
		require.NoError(t, err)
		assert.InDelta(t, 0.5, s.GroqTemperature(), 1e-9)
	}

	_, err := s.Set("groq.temp", "2.5")
	assert.Error(t, err)
	_, err = s.Set("groq.temp", "-1")
	assert.Error(t, err)
}

func TestSettingsUnknownPath(t *testing.T) {
	s := NewSettings()
	_, err := s.Set("volume", "11")
	assert.Error(t, err)
}

func TestSettingsDescribe(t *testing.T) {
	s := NewSettings()
	text := s.Describe()
	assert.Contains(t, text, "harassment")
	assert.Contains(t, text, "temperature")
}
