package router

import (
	"strings"

	tg "github.com/m3rciful/sessiongen/core/telegram"

	tele "gopkg.in/telebot.v4"
)

// TextOptions controls fallback behaviour for text updates.
type TextOptions struct {
	// UnknownText runs when the registry has no text fallback.
	UnknownText tele.HandlerFunc
}

// TextRoutes routes every text message that no command endpoint claimed.
// Command aliases resolve to their command; everything else, including unknown
// commands, goes to the registry's text fallback.
func TextRoutes(reg *tg.Registry, opts TextOptions) []tg.Route {
	handler := func(c tele.Context) error {
		text := strings.TrimSpace(c.Text())

		if reg != nil && strings.HasPrefix(text, "/") {
			name := strings.Fields(text)[0]
			if i := strings.IndexByte(name, '@'); i > 0 {
				name = name[:i]
			}
			if key, cmd, ok := reg.LookupCommand(strings.ToLower(name)); ok && cmd.Handler != nil {
				return run(c, normalizeHandlerName(key), cmd.Handler)
			}
		}

		if reg != nil {
			if fb := reg.TextFallback(); fb != nil {
				return run(c, "text", fb)
			}
		}

		if opts.UnknownText != nil {
			return run(c, "unknown_text", opts.UnknownText)
		}

		skip(c, "unknown_text")
		return nil
	}

	return []tg.Route{
		{Endpoint: tele.OnText, Handler: handler},
	}
}
