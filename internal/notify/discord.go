package notify

import (
	"context"
	"fmt"
	"net/http"
)

// DiscordSender delivers notifications to a Discord webhook.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{webhookURL: webhookURL, client: newHTTPClient()}
}

// Send posts the title in bold followed by the message. Discord answers
// 204 No Content on success.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	payload := map[string]string{"content": fmt.Sprintf("**%s**\n%s", title, message)}
	if err := postJSON(ctx, d.client, d.webhookURL, payload); err != nil {
		return fmt.Errorf("discord: %w", err)
	}
	return nil
}

func (d *DiscordSender) Name() string { return "discord" }
