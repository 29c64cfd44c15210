package logger

import "strings"

func normalizeLevel(level string) string {
	switch strings.ToLower(level) {
	case "", "info":
		return "INFO"
	case "warn", "warning":
		return "WARN"
	default:
		return strings.ToUpper(level)
	}
}

// normalizeStatus lower-cases status; ok is false for values outside the vocabulary.
func normalizeStatus(status string) (string, bool) {
	status = strings.ToLower(strings.TrimSpace(status))
	switch status {
	case "":
		return "", false
	case "ok", "fail", "skip", "retry", "rate_limited", "cancelled", "denied":
		return status, true
	default:
		return status, false
	}
}

// normalizeOutcome accepts handler results and conversation terminal outcomes only.
func normalizeOutcome(outcome string) (string, bool) {
	outcome = strings.ToLower(strings.TrimSpace(outcome))
	switch outcome {
	case "ok", "fail", "rate_limited",
		"completed", "aborted", "cancelled", "timeout":
		return outcome, true
	default:
		return "", false
	}
}

// defaultKeyOrder puts the routing keys first, then correlation ids, then the
// conversation and transport details. Unlisted keys follow alphabetically.
var defaultKeyOrder = []string{
	"ts", "level", "component", "event", "status",
	"rid", "rid_full", "ts_unix_nano", "update_id", "user_id", "chat_id", "chat_type",
	"handler", "command", "text_len",
	"state", "from_state", "to_state", "phone", "op", "result", "outcome",
	"duration_ms", "attempts", "backoff_ms", "retryable",
	"mode", "listen", "public_url", "method", "path", "http_status",
	"err", "err_code", "cause",
}
