package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		webhookUpdatesTotal,
		telegramCommandsTotal,
		telegramRateLimited,
		telegramSendRetries,
	)
}

var (
	webhookUpdatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_updates_total",
			Help:      "Inbound webhook requests, by status.",
		},
		[]string{"status"},
	)

	telegramCommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "telegram_commands_total",
			Help:      "Counts incoming commands from users.",
		},
		[]string{"command"},
	)

	telegramRateLimited = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "telegram_rate_limited_total",
			Help:      "Updates dropped by the rate limiter.",
		},
	)

	telegramSendRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "telegram_send_retries_total",
			Help:      "Retried Bot API calls, by action.",
		},
		[]string{"action"},
	)
)

// IncWebhookUpdate counts an inbound webhook request.
func IncWebhookUpdate(status string) {
	webhookUpdatesTotal.WithLabelValues(norm(status)).Inc()
}

// IncTelegramCommand counts a command; plain text is reported as "text".
func IncTelegramCommand(command string) {
	telegramCommandsTotal.WithLabelValues(norm(command)).Inc()
}

func IncRateLimited() {
	telegramRateLimited.Inc()
}

func IncSendRetry(action string) {
	telegramSendRetries.WithLabelValues(norm(action)).Inc()
}
