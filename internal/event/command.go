package event

import (
	"strings"

	"game-framework/internal/handler"

	"go.uber.org/zap"
)

const DefaultCommandPrefix = "/"

type CommandHandler func(args []string)

// CommandTable routes console commands by exact name. A leading prefix on the
// typed command is stripped before lookup.
type CommandTable struct {
	prefix   string
	handlers *handler.Registry[string, []CommandHandler]
	logger   *zap.Logger
}

func NewCommandTable(prefix string, logger *zap.Logger) *CommandTable {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CommandTable{
		prefix:   prefix,
		handlers: handler.NewRegistry[string, []CommandHandler](),
		logger:   logger,
	}
}

// Add appends h to the handlers of name. Several handlers may share a name.
func (t *CommandTable) Add(name string, h CommandHandler) {
	name = t.strip(name)
	t.handlers.Update(name, func(cur []CommandHandler, _ bool) []CommandHandler {
		return append(cur, h)
	})
}

// Dispatch runs every handler of name and reports whether any existed.
func (t *CommandTable) Dispatch(name string, args ...string) bool {
	name = t.strip(name)
	hs, ok := t.handlers.Get(name)
	if !ok || len(hs) == 0 {
		t.logger.Debug("unknown console command", zap.String("command", name))
		return false
	}
	for _, h := range hs {
		h(args)
	}
	return true
}

// Commands lists known command names in registration order.
func (t *CommandTable) Commands() []string {
	return t.handlers.Keys()
}

func (t *CommandTable) strip(name string) string {
	if t.prefix != "" {
		name = strings.TrimPrefix(name, t.prefix)
	}
	return name
}

// listener adapts the table to the consoleCommand channel, whose arguments
// are the command name followed by its arguments.
func (t *CommandTable) listener(args ...any) {
	if len(args) == 0 {
		return
	}
	name, ok := args[0].(string)
	if !ok {
		return
	}
	t.Dispatch(name, toStrings(args[1:])...)
}
