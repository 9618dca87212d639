package handlers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// ChatbotToggle is the runtime on/off switch for automatic AI replies.
// Commands keep working while it is off.
type ChatbotToggle struct {
	enabled atomic.Bool
}

func NewChatbotToggle(enabled bool) *ChatbotToggle {
	t := &ChatbotToggle{}
	t.enabled.Store(enabled)
	return t
}

func (t *ChatbotToggle) Enabled() bool  { return t.enabled.Load() }
func (t *ChatbotToggle) Set(state bool) { t.enabled.Store(state) }

var fileClient = &http.Client{Timeout: 30 * time.Second}

// downloadTelegramFile fetches the content of a file previously uploaded to
// Telegram, by file ID.
func downloadTelegramFile(ctx context.Context, bot *tgbotapi.BotAPI, fileID string) ([]byte, error) {
	file, err := bot.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return nil, fmt.Errorf("failed to resolve file: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, file.Link(bot.Token), nil)
	if err != nil {
		return nil, err
	}
	resp, err := fileClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("file download returned status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// largestPhoto picks the highest-resolution variant Telegram offers.
func largestPhoto(sizes []tgbotapi.PhotoSize) (tgbotapi.PhotoSize, bool) {
	if len(sizes) == 0 {
		return tgbotapi.PhotoSize{}, false
	}
	return sizes[len(sizes)-1], true
}
