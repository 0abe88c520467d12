package router

import (
	"context"
	"fmt"
	"strings"

	"opsbot/internal/config"
	"opsbot/internal/domain"
)

// handlerFunc serves one command invocation.
type handlerFunc func(ctx context.Context, req *request) error

type trigger struct {
	match   string // lowercased
	command string
	handler handlerFunc
}

// registry is built once in New and only read afterwards, so concurrent
// handlings share it without locking.
type registry struct {
	commands map[string]handlerFunc
	triggers []trigger
}

func newRegistry(handlers map[string]handlerFunc, triggers []config.TriggerConfig) (*registry, error) {
	reg := &registry{commands: make(map[string]handlerFunc, len(handlers))}
	for _, name := range domain.Commands {
		h, ok := handlers[name]
		if !ok {
			return nil, fmt.Errorf("no handler for command /%s", name)
		}
		reg.commands[name] = h
	}

	for i, t := range triggers {
		match := strings.ToLower(strings.TrimSpace(t.Match))
		if match == "" {
			return nil, fmt.Errorf("trigger %d: empty match", i)
		}
		name := strings.TrimPrefix(strings.TrimSpace(t.Command), domain.CommandPrefix)
		h, ok := reg.commands[name]
		if !ok {
			return nil, fmt.Errorf("trigger %q: unknown command %q", t.Match, t.Command)
		}
		reg.triggers = append(reg.triggers, trigger{match: match, command: name, handler: h})
	}
	return reg, nil
}

func (r *registry) lookup(name string) (handlerFunc, bool) {
	h, ok := r.commands[name]
	return h, ok
}

// matching returns every trigger contained in text, in registration order.
func (r *registry) matching(text string) []trigger {
	lower := strings.ToLower(strings.TrimSpace(text))
	var out []trigger
	for _, t := range r.triggers {
		if strings.Contains(lower, t.match) {
			out = append(out, t)
		}
	}
	return out
}

// commandToken extracts the command name from the first word of a message:
// "/logs@opsbot now" yields "logs". It reports false when text does not
// start with the command prefix.
func commandToken(text string) (string, bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], domain.CommandPrefix) {
		return "", false
	}
	token := strings.TrimPrefix(fields[0], domain.CommandPrefix)
	if at := strings.IndexByte(token, '@'); at >= 0 {
		token = token[:at]
	}
	return token, true
}
