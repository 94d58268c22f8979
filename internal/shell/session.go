// Package shell implements the nestkv command interpreter used by the CLI,
// both for one-shot invocations and for the interactive prompt.
package shell

import (
	"fmt"

	"nestkv/internal/notify"
	"nestkv/internal/storage"
)

// Session is the mutable state of one shell: the storage handle commands
// act on and the watches they registered.
type Session struct {
	db      *storage.DB
	current *storage.Storage
	watches []*notify.Subscription
	failed  bool
}

// NewSession starts a session positioned on s.
func NewSession(db *storage.DB, s *storage.Storage) *Session {
	return &Session{db: db, current: s}
}

// Storage returns the current handle.
func (s *Session) Storage() *storage.Storage { return s.current }

// DB returns the database the session works on.
func (s *Session) DB() *storage.DB { return s.db }

// Prompt returns the interactive prompt for the current handle.
func (s *Session) Prompt() string {
	return fmt.Sprintf("nestkv %s> ", s.current)
}

// Failed reports whether the last command printed an error.
func (s *Session) Failed() bool { return s.failed }

func (s *Session) markFailed() {
	if s != nil {
		s.failed = true
	}
}

func (s *Session) watch(sub *notify.Subscription) {
	s.watches = append(s.watches, sub)
}

// Unwatch cancels every watch and returns how many were active.
func (s *Session) Unwatch() int {
	n := len(s.watches)
	for _, sub := range s.watches {
		sub.Cancel()
	}
	s.watches = nil
	return n
}

// Close releases the session's subscriptions.
func (s *Session) Close() {
	s.Unwatch()
}
