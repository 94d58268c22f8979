// Package ssh serves the nestkv shell to remote users over SSH. Every
// session gets its own shell positioned on the server's root handle and
// shares the underlying database with all other sessions.
package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"

	gossh "golang.org/x/crypto/ssh"

	"nestkv/internal/hostkey"
	"nestkv/internal/logging"
	"nestkv/internal/shell"
	"nestkv/internal/storage"
)

var sshlog = logging.For("ssh")

// Server is an SSH server that exposes a nestkv shell to connected users.
type Server struct {
	addr     string
	db       *storage.DB
	root     *storage.Storage
	authKeys []gossh.PublicKey
	config   *gossh.ServerConfig
	listener net.Listener

	mu       sync.Mutex
	conns    map[net.Conn]struct{}
	sessions sync.WaitGroup
}

// NewServer creates an SSH server. authKeysPath points to an authorized_keys
// file in OpenSSH format. If the file doesn't exist, the server starts but
// rejects all connections.
func NewServer(addr string, key *hostkey.HostKey, db *storage.DB, root *storage.Storage, authKeysPath string) *Server {
	s := &Server{
		addr:  addr,
		db:    db,
		root:  root,
		conns: make(map[net.Conn]struct{}),
	}

	s.authKeys = loadAuthorizedKeys(authKeysPath)
	if len(s.authKeys) == 0 {
		sshlog.Warn("no authorized keys loaded", "path", authKeysPath)
	}

	s.config = &gossh.ServerConfig{
		PublicKeyCallback: s.publicKeyCallback,
	}
	s.config.AddHostKey(key.Signer)
	return s
}

// Listen binds the server socket. Call Serve to start accepting connections.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.addr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	return nil
}

// Addr returns the listener's address. Useful when listening on :0.
func (s *Server) Addr() string {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return ""
	}
	return ln.Addr().String()
}

// Serve accepts SSH connections until ctx is cancelled. Call Listen first.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return errors.New("Serve called before Listen")
	}

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil // clean shutdown
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			sshlog.Warn("accept error", "err", err)
			continue
		}

		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		go s.handleConnection(ctx, conn)
	}
}

// Start is a convenience that calls Listen + Serve.
func (s *Server) Start(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Stop closes the listener and all active connections, then waits for the
// running shells to release their watches.
func (s *Server) Stop() {
	s.mu.Lock()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.mu.Unlock()
	s.sessions.Wait()
}

func (s *Server) removeConn(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

func (s *Server) publicKeyCallback(meta gossh.ConnMetadata, key gossh.PublicKey) (*gossh.Permissions, error) {
	keyBytes := key.Marshal()
	for _, authorized := range s.authKeys {
		if bytes.Equal(keyBytes, authorized.Marshal()) {
			return &gossh.Permissions{}, nil
		}
	}
	return nil, fmt.Errorf("unknown public key for %s", meta.User())
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer func() { _ = conn.Close() }()
	defer s.removeConn(conn)

	sshConn, chans, reqs, err := gossh.NewServerConn(conn, s.config)
	if err != nil {
		sshlog.Warn("handshake failed", "remote", conn.RemoteAddr(), "err", err)
		return
	}
	defer func() { _ = sshConn.Close() }()

	sshlog.Info("client connected", "remote", conn.RemoteAddr(), "user", sshConn.User())
	go gossh.DiscardRequests(reqs)

	for newChan := range chans {
		if newChan.ChannelType() != "session" {
			_ = newChan.Reject(gossh.UnknownChannelType, "unsupported channel type")
			continue
		}
		channel, requests, err := newChan.Accept()
		if err != nil {
			sshlog.Warn("channel accept error", "err", err)
			continue
		}
		s.sessions.Add(1)
		go func() {
			defer s.sessions.Done()
			s.handleSession(ctx, channel, requests, sshConn.User())
		}()
	}
}

func (s *Server) handleSession(ctx context.Context, ch gossh.Channel, reqs <-chan *gossh.Request, user string) {
	defer func() { _ = ch.Close() }()

	// Wait for shell or exec before starting. pty-req is accepted but the
	// terminal dimensions are ignored.
	for req := range reqs {
		switch req.Type {
		case "pty-req":
			if req.WantReply {
				_ = req.Reply(true, nil)
			}
		case "shell":
			if req.WantReply {
				_ = req.Reply(true, nil)
			}
			go drain(reqs)
			s.runShell(ctx, ch, user)
			return
		case "exec":
			if req.WantReply {
				_ = req.Reply(true, nil)
			}
			go drain(reqs)
			s.runExec(ctx, ch, req.Payload)
			return
		default:
			if req.WantReply {
				_ = req.Reply(false, nil)
			}
		}
	}
}

func drain(reqs <-chan *gossh.Request) {
	for req := range reqs {
		if req.WantReply {
			_ = req.Reply(false, nil)
		}
	}
}

func (s *Server) runShell(ctx context.Context, ch gossh.Channel, user string) {
	sh := shell.NewRemote(s.db, s.root)
	defer sh.Close()
	if err := sh.Serve(ctx, ch); err != nil {
		sshlog.Debug("session ended", "user", user, "err", err)
	}
	sendExitStatus(ch, 0)
}

// runExec runs the command line carried by an exec request, as in
// `ssh host get foo`. The exit status is 1 when the command printed an
// error.
func (s *Server) runExec(ctx context.Context, ch gossh.Channel, payload []byte) {
	var msg struct{ Command string }
	if err := gossh.Unmarshal(payload, &msg); err != nil {
		_, _ = fmt.Fprintf(ch.Stderr(), "bad exec request: %v\n", err)
		sendExitStatus(ch, 2)
		return
	}
	sh := shell.NewRemote(s.db, s.root)
	defer sh.Close()
	sh.Commands().Dispatch(ctx, msg.Command, sh.Session(), ch)
	if sh.Session().Failed() {
		sendExitStatus(ch, 1)
		return
	}
	sendExitStatus(ch, 0)
}

func sendExitStatus(ch gossh.Channel, code uint32) {
	status := struct{ Status uint32 }{code}
	_, _ = ch.SendRequest("exit-status", false, gossh.Marshal(&status))
}

func loadAuthorizedKeys(path string) []gossh.PublicKey {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}

	var keys []gossh.PublicKey
	for len(data) > 0 {
		key, _, _, rest, err := gossh.ParseAuthorizedKey(data)
		if err != nil {
			break
		}
		keys = append(keys, key)
		data = rest
	}
	return keys
}
