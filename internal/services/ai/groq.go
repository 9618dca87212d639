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

const defaultGroqBaseURL = "https://api.groq.com/openai/v1"

// GroqProvider talks to Groq's OpenAI-compatible chat completions endpoint.
type GroqProvider struct {
	name         string
	apiKey       string
	baseURL      string
	textModels   []Model
	visionModels []Model
	settings     *Settings
	httpClient   *http.Client
	logger       *logrus.Logger

	mu          sync.RWMutex
	textIdx     int
	visionIdx   int
}

func NewGroqProvider(cfg config.ProviderConfig, settings *Settings, logger *logrus.Logger) *GroqProvider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultGroqBaseURL
	}
	return &GroqProvider{
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

func (p *GroqProvider) Name() string    { return p.name }
func (p *GroqProvider) Available() bool { return p.apiKey != "" }

func (p *GroqProvider) TextModels() []Model   { return p.textModels }
func (p *GroqProvider) VisionModels() []Model { return p.visionModels }

func (p *GroqProvider) CurrentTextModel() Model {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.textModels[p.textIdx]
}

func (p *GroqProvider) CurrentVisionModel() (Model, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if len(p.visionModels) == 0 {
		return Model{}, false
	}
	return p.visionModels[p.visionIdx], true
}

func (p *GroqProvider) SelectTextModel(idx int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if idx < 0 || idx >= len(p.textModels) {
		return fmt.Errorf("text model index out of range: %d", idx)
	}
	p.textIdx = idx
	return nil
}

func (p *GroqProvider) SelectVisionModel(idx int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if idx < 0 || idx >= len(p.visionModels) {
		return fmt.Errorf("vision model index out of range: %d", idx)
	}
	p.visionIdx = idx
	return nil
}

type groqMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

type groqRequest struct {
	Model       string        `json:"model"`
	Messages    []groqMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

func (p *GroqProvider) AskText(ctx context.Context, turns []models.Turn) (string, error) {
	if !p.Available() {
		return "", ErrNoCredential
	}

	messages := make([]groqMessage, 0, len(turns))
	for _, t := range turns {
		if strings.TrimSpace(t.Content) == "" {
			continue
		}
		messages = append(messages, groqMessage{Role: t.Role, Content: t.Content})
	}

	req := groqRequest{
		Model:       p.CurrentTextModel().Name,
		Messages:    messages,
		Temperature: p.settings.GroqTemperature(),
		MaxTokens:   p.settings.Generation().MaxOutputTokens,
	}
	return p.send(ctx, req)
}

func (p *GroqProvider) AskVision(ctx context.Context, prompt string, imageJPEG []byte) (string, error) {
	if !p.Available() {
		return "", ErrNoCredential
	}
	model, ok := p.CurrentVisionModel()
	if !ok {
		return "", ErrNoVisionModel
	}

	dataURL := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(imageJPEG)
	content := []map[string]interface{}{
		{"type": "text", "text": prompt},
		{"type": "image_url", "image_url": map[string]string{"url": dataURL}},
	}

	req := groqRequest{
		Model:       model.Name,
		Messages:    []groqMessage{{Role: models.RoleUser, Content: content}},
		Temperature: p.settings.GroqTemperature(),
		MaxTokens:   p.settings.Generation().MaxOutputTokens,
	}
	return p.send(ctx, req)
}

func (p *GroqProvider) send(ctx context.Context, reqBody groqRequest) (string, error) {
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	requestID := uuid.NewString()
	reqCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	url := p.baseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	p.logger.WithFields(logrus.Fields{
		"provider":   p.name,
		"model":      reqBody.Model,
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
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}

	if result.Error.Message != "" {
		return "", fmt.Errorf("provider error: %s", result.Error.Message)
	}
	if len(result.Choices) == 0 || result.Choices[0].Message.Content == "" {
		p.logger.WithFields(logrus.Fields{
			"provider":   p.name,
			"request_id": requestID,
		}).Error("Provider returned no choices")
		return "", ErrEmptyResponse
	}

	return result.Choices[0].Message.Content, nil
}
