package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/m3rciful/sessiongen/core/logger"
	"github.com/m3rciful/sessiongen/core/telegram/commands"

	tele "gopkg.in/telebot.v4"
)

var (
	ErrInvalidCommand   = errors.New("telegram: invalid command")
	ErrDuplicateCommand = errors.New("telegram: duplicate command")
)

// Registry maps slash commands, and their aliases, to handlers. Plain text
// goes to the text fallback.
type Registry struct {
	commands     map[string]commands.Command
	aliases      map[string]string // "/alias" -> "/command"
	textFallback tele.HandlerFunc
}

func NewRegistry() *Registry {
	return &Registry{
		commands: make(map[string]commands.Command),
		aliases:  make(map[string]string),
	}
}

func slash(name string) string {
	if strings.HasPrefix(name, "/") {
		return name
	}
	return "/" + name
}

// RegisterCommand adds name, which must start with "/", together with its aliases.
func (r *Registry) RegisterCommand(name string, cmd commands.Command) error {
	switch {
	case cmd.Handler == nil || cmd.Description == "":
		return fmt.Errorf("%w %q: handler and description are required", ErrInvalidCommand, name)
	case len(name) < 2 || name[0] != '/':
		return fmt.Errorf("%w %q: name must start with /", ErrInvalidCommand, name)
	}
	if _, taken := r.LookupKey(name); taken {
		return fmt.Errorf("%w %q", ErrDuplicateCommand, name)
	}
	for _, a := range cmd.Aliases {
		if _, taken := r.LookupKey(a); taken || slash(a) == name {
			return fmt.Errorf("%w alias %q", ErrDuplicateCommand, a)
		}
	}

	r.commands[name] = cmd
	for _, a := range cmd.Aliases {
		r.aliases[slash(a)] = name
	}
	logger.LogEvent(context.Background(), logger.TWire, slog.LevelDebug, "register.command",
		slog.String("command", name),
		slog.Int("aliases", len(cmd.Aliases)),
	)
	return nil
}

// LookupKey resolves a command or alias, with or without the slash, to its command key.
func (r *Registry) LookupKey(name string) (string, bool) {
	name = slash(name)
	if _, ok := r.commands[name]; ok {
		return name, true
	}
	key, ok := r.aliases[name]
	return key, ok
}

// LookupCommand is LookupKey plus the command itself.
func (r *Registry) LookupCommand(name string) (string, commands.Command, bool) {
	key, ok := r.LookupKey(name)
	if !ok {
		return "", commands.Command{}, false
	}
	return key, r.commands[key], true
}

// ListCommands returns the menu entries sorted by name.
func (r *Registry) ListCommands(visibleOnly bool) []tele.Command {
	list := make([]tele.Command, 0, len(r.commands))
	for key, cmd := range r.commands {
		if visibleOnly && cmd.Hidden {
			continue
		}
		list = append(list, tele.Command{Text: key[1:], Description: cmd.Description})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Text < list[j].Text })
	return list
}

func (r *Registry) Commands() map[string]commands.Command { return r.commands }

// Names lists every command key and alias, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.commands)+len(r.aliases))
	for key := range r.commands {
		names = append(names, key)
	}
	for alias := range r.aliases {
		names = append(names, alias)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) SetTextFallback(h tele.HandlerFunc) { r.textFallback = h }

func (r *Registry) TextFallback() tele.HandlerFunc { return r.textFallback }

// CommandSetter is the part of *tele.Bot that publishes the command menu.
type CommandSetter interface {
	SetCommands(opts ...interface{}) error
}

// InitBotCommands publishes the visible commands. A failure only costs the
// menu, so it is logged and not returned.
func InitBotCommands(bot CommandSetter, reg *Registry) {
	list := reg.ListCommands(true)
	if err := bot.SetCommands(list); err != nil {
		logger.LogEvent(context.Background(), logger.TWire, slog.LevelError, "register.commands.set_failed",
			slog.Any("err", err),
		)
		return
	}
	logger.LogEvent(context.Background(), logger.TWire, slog.LevelInfo, "register.commands.set",
		slog.Int("count", len(list)),
	)
}
