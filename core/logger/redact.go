package logger

import (
	"regexp"
	"strings"
)

const redacted = "[redacted]"

// secretKeys never reach the output: login codes, 2FA passwords and raw message text.
var secretKeys = map[string]struct{}{
	"code":     {},
	"password": {},
	"text":     {},
	"payload":  {},
	"token":    {},
	"api_hash": {},
}

var botTokenRe = regexp.MustCompile(`bot[0-9]+:[A-Za-z0-9_-]+`)

// redact masks phone numbers, blanks secret keys and scrubs bot tokens from
// any string value, such as an error that quotes a Bot API URL.
func redact(rec record) {
	for k, v := range rec {
		if _, secret := secretKeys[leafKey(k)]; secret {
			rec[k] = redacted
			continue
		}
		s, ok := v.(string)
		if !ok {
			continue
		}
		if leafKey(k) == "phone" && s != "" && !strings.Contains(s, "*") {
			rec[k] = MaskPhone(s)
			continue
		}
		if strings.Contains(s, "bot") {
			rec[k] = botTokenRe.ReplaceAllString(s, "bot<redacted>")
		}
	}
}

func leafKey(k string) string {
	if i := strings.LastIndexByte(k, '.'); i >= 0 {
		return k[i+1:]
	}
	return k
}
