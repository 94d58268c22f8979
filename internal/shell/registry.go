package shell

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// CommandContext holds the state available to command handlers.
type CommandContext struct {
	Ctx     context.Context
	Session *Session
	Out     io.Writer
	Args    []string
}

// CommandHandler runs one command. Returns true if the shell should exit.
type CommandHandler func(ctx CommandContext) bool

// Command describes a registered shell command.
type Command struct {
	Usage   string // full usage for help (e.g., "get <key>"); defaults to command name
	Help    string
	MinArgs int
	Handler CommandHandler
}

// CommandRegistry maps command names to handlers and produces dynamic help.
// It is safe for concurrent use. Once frozen, no new commands can be
// registered.
type CommandRegistry struct {
	mu       sync.RWMutex
	commands map[string]Command
	order    []string // insertion order for stable help output
	frozen   bool
}

// NewCommandRegistry creates an empty registry.
func NewCommandRegistry() *CommandRegistry {
	return &CommandRegistry{
		commands: make(map[string]Command),
	}
}

// Register adds a command. Registering the same name twice overwrites the
// previous entry. Panics if cmd.Handler is nil or if the registry is frozen.
func (r *CommandRegistry) Register(name string, cmd Command) {
	if cmd.Handler == nil {
		panic("shell: Register called with nil handler for " + name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		panic("shell: Register called on frozen registry for " + name)
	}
	if _, exists := r.commands[name]; !exists {
		r.order = append(r.order, name)
	}
	r.commands[name] = cmd
}

// Freeze prevents further command registration.
func (r *CommandRegistry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Names returns the registered command names in registration order.
func (r *CommandRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Dispatch parses a command line and runs it. Returns true if the shell
// should exit.
func (r *CommandRegistry) Dispatch(ctx context.Context, line string, session *Session, out io.Writer) bool {
	return r.Exec(ctx, strings.Fields(line), session, out)
}

// Exec runs an already split command line.
func (r *CommandRegistry) Exec(ctx context.Context, args []string, session *Session, out io.Writer) bool {
	if session != nil {
		session.failed = false
	}
	if len(args) == 0 {
		return false
	}
	name := strings.ToLower(args[0])

	r.mu.RLock()
	cmd, ok := r.commands[name]
	r.mu.RUnlock()

	if !ok {
		_, _ = fmt.Fprintf(out, "Unknown command: %s (try help)\n", args[0])
		session.markFailed()
		return false
	}
	if len(args)-1 < cmd.MinArgs {
		usage := cmd.Usage
		if usage == "" {
			usage = name
		}
		_, _ = fmt.Fprintf(out, "Usage: %s\n", usage)
		session.markFailed()
		return false
	}

	return cmd.Handler(CommandContext{
		Ctx:     ctx,
		Session: session,
		Out:     out,
		Args:    args[1:],
	})
}

// HelpText returns a formatted help string listing all registered commands
// in registration order.
func (r *CommandRegistry) HelpText() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var b strings.Builder
	b.WriteString("Commands:\n")
	for _, name := range r.order {
		cmd := r.commands[name]
		display := name
		if cmd.Usage != "" {
			display = cmd.Usage
		}
		_, _ = fmt.Fprintf(&b, "  %-28s %s\n", display, cmd.Help)
	}
	return b.String()
}
