package telegram

import (
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"
)

const (
	RunModeWebhook  = "webhook"
	RunModeLongpoll = "longpoll"
)

// WebhookOptions declares how Telegram reaches the bot.
type WebhookOptions struct {
	URL         string
	SecretToken string
}

// PollerOptions configures BuildPoller and BuildWebhook.
type PollerOptions struct {
	RunMode                string
	LongPollTimeoutSeconds int
	AllowedUpdates         []string
	Webhook                WebhookOptions
}

// BuildPoller returns the long poller used outside webhook mode. Webhook updates
// arrive through the HTTP server and are fed to the bot directly.
func BuildPoller(opts PollerOptions) tele.Poller {
	timeoutSec := opts.LongPollTimeoutSeconds
	if timeoutSec <= 0 {
		timeoutSec = 10
	}
	return &tele.LongPoller{
		Timeout:        time.Duration(timeoutSec) * time.Second,
		AllowedUpdates: opts.AllowedUpdates,
	}
}

// BuildWebhook describes the webhook registration sent to Telegram.
func BuildWebhook(opts PollerOptions) *tele.Webhook {
	return &tele.Webhook{
		SecretToken:    strings.TrimSpace(opts.Webhook.SecretToken),
		AllowedUpdates: opts.AllowedUpdates,
		Endpoint:       &tele.WebhookEndpoint{PublicURL: strings.TrimSpace(opts.Webhook.URL)},
	}
}

func isWebhookMode(mode string) bool {
	return strings.EqualFold(strings.TrimSpace(mode), RunModeWebhook)
}
