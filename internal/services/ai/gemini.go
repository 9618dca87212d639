package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Rozen29/WhaTel-AI/internal/config"
	"github.com/Rozen29/WhaTel-AI/internal/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// GeminiProvider talks to Google's generateContent endpoint. Roles differ
// from the stored conversation format: assistant maps to "model" and the
// system turn is sent as a user turn.
type GeminiProvider struct {
	name         string
	apiKey       string
	baseURL      string
	textModels   []Model
	visionModels []Model
	settings     *Settings
	httpClient   *http.Client
	logger       *logrus.Logger

	mu        sync.RWMutex
	textIdx   int
	visionIdx int
}

func NewGeminiProvider(cfg config.ProviderConfig, settings *Settings, logger *logrus.Logger) *GeminiProvider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultGeminiBaseURL
	}
	return &GeminiProvider{
		name:         cfg.Name,
		apiKey:       cfg.APIKey,
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		textModels:   newModels(cfg.TextModels),
		visionModels: newModels(cfg.VisionModels),
		settings:     settings,
		httpClient:   &http.Client{Timeout: 120 * time.Second},
		logger:       logger,
	}
}

func (p *GeminiProvider) Name() string    { return p.name }
func (p *GeminiProvider) Available() bool { return p.apiKey != "" }

func (p *GeminiProvider) TextModels() []Model   { return p.textModels }
func (p *GeminiProvider) VisionModels() []Model { return p.visionModels }

func (p *GeminiProvider) CurrentTextModel() Model {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.textModels[p.textIdx]
}

func (p *GeminiProvider) CurrentVisionModel() (Model, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if len(p.visionModels) == 0 {
		return Model{}, false
	}
	return p.visionModels[p.visionIdx], true
}

func (p *GeminiProvider) SelectTextModel(idx int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if idx < 0 || idx >= len(p.textModels) {
		return fmt.Errorf("text model index out of range: %d", idx)
	}
	p.textIdx = idx
	return nil
}

func (p *GeminiProvider) SelectVisionModel(idx int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if idx < 0 || idx >= len(p.visionModels) {
		return fmt.Errorf("vision model index out of range: %d", idx)
	}
	p.visionIdx = idx
	return nil
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inline_data,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiSafetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

type geminiGenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	TopP            float64 `json:"topP"`
	TopK            int     `json:"topK"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type geminiRequest struct {
	Contents         []geminiContent        `json:"contents"`
	SafetySettings   []geminiSafetySetting  `json:"safety_settings"`
	GenerationConfig geminiGenerationConfig `json:"generation_config"`
}

func (p *GeminiProvider) AskText(ctx context.Context, turns []models.Turn) (string, error) {
	if !p.Available() {
		return "", ErrNoCredential
	}

	contents := make([]geminiContent, 0, len(turns))
	for _, t := range turns {
		if strings.TrimSpace(t.Content) == "" {
			continue
		}
		role := t.Role
		switch role {
		case models.RoleAssistant:
			role = "model"
		case models.RoleSystem:
			role = "user"
		}
		contents = append(contents, geminiContent{Role: role, Parts: []geminiPart{{Text: t.Content}}})
	}

	return p.send(ctx, p.CurrentTextModel().Name, geminiRequest{
		Contents:         contents,
		SafetySettings:   p.safetySettings(),
		GenerationConfig: p.generationConfig(),
	})
}

func (p *GeminiProvider) AskVision(ctx context.Context, prompt string, imageJPEG []byte) (string, error) {
	if !p.Available() {
		return "", ErrNoCredential
	}
	model, ok := p.CurrentVisionModel()
	if !ok {
		return "", ErrNoVisionModel
	}

	contents := []geminiContent{{
		Parts: []geminiPart{
			{Text: prompt},
			{InlineData: &geminiInlineData{
				MimeType: "image/jpeg",
				Data:     base64.StdEncoding.EncodeToString(imageJPEG),
			}},
		},
	}}

	return p.send(ctx, model.Name, geminiRequest{
		Contents:         contents,
		SafetySettings:   p.safetySettings(),
		GenerationConfig: p.generationConfig(),
	})
}

func (p *GeminiProvider) safetySettings() []geminiSafetySetting {
	s := p.settings.Safety()
	threshold := func(block bool) string {
		if block {
			return "BLOCK_MEDIUM_AND_ABOVE"
		}
		return "BLOCK_ONLY_HIGH"
	}
	return []geminiSafetySetting{
		{Category: "HARM_CATEGORY_HARASSMENT", Threshold: threshold(s.Harassment)},
		{Category: "HARM_CATEGORY_HATE_SPEECH", Threshold: threshold(s.Hate)},
		{Category: "HARM_CATEGORY_SEXUALLY_EXPLICIT", Threshold: threshold(s.SexuallyExplicit)},
		{Category: "HARM_CATEGORY_DANGEROUS_CONTENT", Threshold: threshold(s.DangerousContent)},
	}
}

func (p *GeminiProvider) generationConfig() geminiGenerationConfig {
	g := p.settings.Generation()
	return geminiGenerationConfig{
		Temperature:     g.Temperature,
		TopP:            g.TopP,
		TopK:            g.TopK,
		MaxOutputTokens: g.MaxOutputTokens,
	}
}

func (p *GeminiProvider) send(ctx context.Context, modelName string, reqBody geminiRequest) (string, error) {
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	requestID := uuid.NewString()
	reqCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", p.baseURL, modelName, p.apiKey)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	p.logger.WithFields(logrus.Fields{
		"provider":   p.name,
		"model":      modelName,
		"request_id": requestID,
	}).Debug("Sending provider request")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
		PromptFeedback struct {
			BlockReason string `json:"blockReason"`
		} `json:"promptFeedback"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}

	if len(result.Candidates) > 0 && len(result.Candidates[0].Content.Parts) > 0 {
		return result.Candidates[0].Content.Parts[0].Text, nil
	}
	if result.PromptFeedback.BlockReason != "" {
		return "", &ContentBlockedError{Provider: p.name, Reason: result.PromptFeedback.BlockReason}
	}

	p.logger.WithFields(logrus.Fields{
		"provider":   p.name,
		"request_id": requestID,
	}).Error("Provider returned no candidates")
	return "", ErrEmptyResponse
}
