package shell

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"nestkv/internal/logging"
	"nestkv/internal/storage"
)

var logger = logging.For("shell")

// Shell runs commands against one session.
type Shell struct {
	commands *CommandRegistry
	session  *Session
}

// New creates a shell positioned on s with every builtin registered.
func New(db *storage.DB, s *storage.Storage) *Shell {
	reg := NewCommandRegistry()
	reg.RegisterBuiltins()
	reg.Freeze()
	return &Shell{commands: reg, session: NewSession(db, s)}
}

// NewRemote creates a shell for users on another host. It has no commands
// touching the local filesystem.
func NewRemote(db *storage.DB, s *storage.Storage) *Shell {
	reg := NewCommandRegistry()
	reg.RegisterRemoteBuiltins()
	reg.Freeze()
	return &Shell{commands: reg, session: NewSession(db, s)}
}

// Session returns the shell's session.
func (sh *Shell) Session() *Session { return sh.session }

// Commands returns the command registry.
func (sh *Shell) Commands() *CommandRegistry { return sh.commands }

// Exec runs a single command given as separate arguments. It returns
// whether the shell should exit; Session().Failed reports whether the
// command printed an error.
func (sh *Shell) Exec(ctx context.Context, args []string, out io.Writer) bool {
	return sh.commands.Exec(ctx, args, sh.session, out)
}

// Close releases the session.
func (sh *Shell) Close() {
	sh.session.Close()
}

// Run reads commands from in until EOF, quit or ctx is done. When in is a
// terminal it is switched to raw mode and driven through term.Terminal for
// line editing and history.
func (sh *Shell) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return sh.runTerminal(ctx, f, out)
	}
	return sh.runLines(ctx, in, out)
}

type readWriter struct {
	io.Reader
	io.Writer
}

func (sh *Shell) runTerminal(ctx context.Context, in *os.File, out io.Writer) error {
	fd := int(in.Fd())
	state, err := term.MakeRaw(fd)
	if err != nil {
		return fmt.Errorf("raw mode: %w", err)
	}
	defer func() {
		if err := term.Restore(fd, state); err != nil {
			logger.Warn("restore terminal", "err", err)
		}
	}()
	return sh.Serve(ctx, readWriter{in, out})
}

// Serve drives an interactive session over rw, which is expected to already
// behave like a raw terminal (a local tty in raw mode or an SSH channel with
// a pty). Notifications from watch are written to the same terminal.
func (sh *Shell) Serve(ctx context.Context, rw io.ReadWriter) error {
	terminal := term.NewTerminal(rw, sh.session.Prompt())
	_, _ = fmt.Fprintln(terminal, "nestkv shell. Type help for commands.")
	for ctx.Err() == nil {
		line, err := terminal.ReadLine()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if sh.commands.Dispatch(ctx, line, sh.session, terminal) {
			return nil
		}
		terminal.SetPrompt(sh.session.Prompt())
	}
	return nil
}

func (sh *Shell) runLines(ctx context.Context, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	for ctx.Err() == nil && scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if sh.commands.Dispatch(ctx, line, sh.session, out) {
			return nil
		}
	}
	return scanner.Err()
}
