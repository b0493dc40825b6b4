// internal/pkg/notify/chat.go
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Chat services reject long messages; keep a margin below Discord's 2000.
const maxChatLength = 1900

// Discord API structures
type discordMessage struct {
	Content         string                 `json:"content"`
	AllowedMentions discordAllowedMentions `json:"allowed_mentions"`
}

type discordAllowedMentions struct {
	Parse []string `json:"parse"`
}

// Slack API structures
type slackMessage struct {
	Text string `json:"text"`
}

// ChatWebhook posts a one-line message to an incoming-webhook URL
type ChatWebhook struct {
	name   string
	url    string
	client *http.Client
	encode func(text string) interface{}
}

// NewDiscordWebhook creates a Discord incoming-webhook notifier
func NewDiscordWebhook(url string, client *http.Client) *ChatWebhook {
	return &ChatWebhook{
		name:   "discord",
		url:    url,
		client: defaultClient(client),
		encode: func(text string) interface{} {
			return discordMessage{
				Content:         text,
				AllowedMentions: discordAllowedMentions{Parse: []string{}},
			}
		},
	}
}

// NewSlackWebhook creates a Slack incoming-webhook notifier
func NewSlackWebhook(url string, client *http.Client) *ChatWebhook {
	return &ChatWebhook{
		name:   "slack",
		url:    url,
		client: defaultClient(client),
		encode: func(text string) interface{} {
			return slackMessage{Text: text}
		},
	}
}

func defaultClient(client *http.Client) *http.Client {
	if client != nil {
		return client
	}
	return &http.Client{Timeout: 10 * time.Second}
}

// Name returns the target name used in logs
func (w *ChatWebhook) Name() string {
	return w.name
}

// Notify sends the rendered event text
func (w *ChatWebhook) Notify(ctx context.Context, evt Event) error {
	body, err := json.Marshal(w.encode(truncate(Text(evt), maxChatLength)))
	if err != nil {
		return fmt.Errorf("failed to marshal %s message: %w", w.name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", w.name, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call %s webhook: %w", w.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s webhook returned status %d", w.name, resp.StatusCode)
	}

	return nil
}
