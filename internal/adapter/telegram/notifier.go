package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Notifier posts operator alerts to a Telegram chat via the bot API.
type Notifier struct {
	token   string
	chatID  string
	client  *http.Client
	baseURL string
}

func NewNotifier(token, chatID string) *Notifier {
	return &Notifier{
		token:   token,
		chatID:  chatID,
		client:  &http.Client{Timeout: 10 * time.Second},
		baseURL: "https://api.telegram.org",
	}
}

func (n *Notifier) SetBaseURL(url string) {
	n.baseURL = url
}

// Enabled reports whether a bot token and chat are configured; alerts are
// best effort and a missing config just disables them.
func (n *Notifier) Enabled() bool {
	return n.token != "" && n.chatID != ""
}

func (n *Notifier) Notify(ctx context.Context, message string) error {
	if !n.Enabled() {
		return nil
	}

	payload, _ := json.Marshal(map[string]string{
		"chat_id": n.chatID,
		"text":    message,
	})

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram api error: %d", resp.StatusCode)
	}
	return nil
}
