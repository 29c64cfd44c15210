package router

import (
	"sort"

	tg "github.com/m3rciful/sessiongen/core/telegram"

	tele "gopkg.in/telebot.v4"
)

// CommandRoutes gives every registered command its own endpoint, in name order.
// Aliases have no endpoint of their own; TextRoutes resolves them.
func CommandRoutes(reg *tg.Registry) []tg.Route {
	if reg == nil {
		return nil
	}
	keys := make([]string, 0, len(reg.Commands()))
	for k := range reg.Commands() {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	routes := make([]tg.Route, 0, len(keys))
	for _, key := range keys {
		name, h := normalizeHandlerName(key), reg.Commands()[key].Handler
		routes = append(routes, tg.Route{
			Endpoint: key,
			Handler:  func(c tele.Context) error { return run(c, name, h) },
		})
	}
	return routes
}
