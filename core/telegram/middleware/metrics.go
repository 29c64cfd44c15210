package middleware

import (
	"github.com/m3rciful/sessiongen/internal/metrics"

	tele "gopkg.in/telebot.v4"
)

// CommandMetricsMiddleware counts commands seen on message updates. Commands
// outside known are reported as "other" to keep label cardinality bounded.
func CommandMetricsMiddleware(known []string) tele.MiddlewareFunc {
	set := make(map[string]struct{}, len(known))
	for _, k := range known {
		set[commandOf(k)] = struct{}{}
	}
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			if upd := c.Update(); upd.Message != nil {
				if cmd := commandOf(c.Text()); cmd != "" {
					if _, ok := set[cmd]; !ok {
						cmd = "other"
					}
					metrics.IncTelegramCommand(cmd)
				}
			}
			return next(c)
		}
	}
}
