package ai

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// SafetySettings are the Gemini harm-category toggles. True means the
// stricter BLOCK_MEDIUM_AND_ABOVE threshold.
type SafetySettings struct {
	Harassment       bool
	Hate             bool
	SexuallyExplicit bool
	DangerousContent bool
}

// GenerationConfig are the Gemini sampling parameters.
type GenerationConfig struct {
	Temperature     float64
	TopP            float64
	TopK            int
	MaxOutputTokens int
}

// Settings holds the tunable generation parameters shared by the providers,
// mutated at runtime through the /settings command. Reads take a snapshot so
// in-flight requests see a consistent view.
type Settings struct {
	mu         sync.RWMutex
	safety     SafetySettings
	generation GenerationConfig
	groqTemp   float64
}

// NewSettings returns settings with the stock defaults.
func NewSettings() *Settings {
	return &Settings{
		safety: SafetySettings{},
		generation: GenerationConfig{
			Temperature:     0.9,
			TopP:            0.95,
			TopK:            40,
			MaxOutputTokens: 2048,
		},
		groqTemp: 0.9,
	}
}

func (s *Settings) Safety() SafetySettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.safety
}

func (s *Settings) Generation() GenerationConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

func (s *Settings) GroqTemperature() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.groqTemp
}

// Describe renders the current settings for the /settings overview.
func (s *Settings) Describe() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var b strings.Builder
	b.WriteString("Safety (Gemini):\n")
	for _, row := range []struct {
		name  string
		block bool
	}{
		{"harassment", s.safety.Harassment},
		{"hate", s.safety.Hate},
		{"sexuallyExplicit", s.safety.SexuallyExplicit},
		{"dangerousContent", s.safety.DangerousContent},
	} {
		mode := "allow_more"
		if row.block {
			mode = "block"
		}
		fmt.Fprintf(&b, "  %s: %s\n", row.name, mode)
	}
	b.WriteString("Generation (Gemini):\n")
	fmt.Fprintf(&b, "  temperature: %g\n", s.generation.Temperature)
	fmt.Fprintf(&b, "  topP: %g\n", s.generation.TopP)
	fmt.Fprintf(&b, "  topK: %d\n", s.generation.TopK)
	fmt.Fprintf(&b, "  maxOutputTokens: %d\n", s.generation.MaxOutputTokens)
	fmt.Fprintf(&b, "Groq temperature: %g\n", s.groqTemp)
	b.WriteString("\nExamples:\n  /settings safety.harassment block\n  /settings config.temperature 0.7\n  /settings groq.temperature 0.8")
	return b.String()
}

// Set applies a dotted-path assignment and returns a confirmation string.
func (s *Settings) Set(path, value string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	value = strings.ToLower(strings.TrimSpace(value))

	switch {
	case strings.HasPrefix(path, "safety."):
		field := strings.TrimPrefix(path, "safety.")
		block := value == "block"
		if value != "block" && value != "allow_more" {
			return "", fmt.Errorf("safety value must be block or allow_more")
		}
		switch field {
		case "harassment":
			s.safety.Harassment = block
		case "hate":
			s.safety.Hate = block
		case "sexuallyexplicit", "sexuallyExplicit":
			s.safety.SexuallyExplicit = block
		case "dangerouscontent", "dangerousContent":
			s.safety.DangerousContent = block
		default:
			return "", fmt.Errorf("unknown safety field: %s", field)
		}
		return fmt.Sprintf("Gemini safety %s = %s", field, strings.ToUpper(value)), nil

	case strings.HasPrefix(path, "config."):
		field := strings.TrimPrefix(path, "config.")
		num, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return "", fmt.Errorf("value for %s must be numeric", field)
		}
		switch field {
		case "temperature":
			s.generation.Temperature = num
		case "topp", "topP":
			s.generation.TopP = num
		case "topk", "topK":
			s.generation.TopK = int(num)
		case "maxoutputtokens", "maxOutputTokens":
			s.generation.MaxOutputTokens = int(num)
		default:
			return "", fmt.Errorf("unknown generation field: %s", field)
		}
		return fmt.Sprintf("Gemini config %s = %g", field, num), nil

	case path == "groq.temperature" || path == "groq.temp":
		num, err := strconv.ParseFloat(value, 64)
		if err != nil || num < 0 || num > 2 {
			return "", fmt.Errorf("groq temperature must be between 0 and 2")
		}
		s.groqTemp = num
		return fmt.Sprintf("Groq temperature = %g", num), nil
	}

	return "", fmt.Errorf("unknown settings path: %s", path)
}
