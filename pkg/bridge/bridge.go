// Package bridge relays outbound send requests from synchronous
// callers (HTTP handlers, webhooks) into the owning session's event
// loop and marshals the result back, bounded by a timeout.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/copperline/chatvault/pkg/session"
)

// ErrNotReady means the target session exists but is not Connected.
// Returned immediately, never after blocking.
var ErrNotReady = errors.New("session not ready")

// ErrTimeout means the session loop did not complete the send within
// the bridge's bounded wait.
var ErrTimeout = errors.New("send timed out")

// RejectedError wraps a send failure reported by the remote network.
// The bridge never retries; retry policy belongs to the caller.
type RejectedError struct {
	Role string
	Err  error
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("send rejected by %s: %v", e.Role, e.Err)
}

func (e *RejectedError) Unwrap() error { return e.Err }

// Bridge is the only cross-domain handoff into session loops. It is
// safe for concurrent use; requests for different sessions never block
// each other because each session owns its own request queue.
type Bridge struct {
	sup     *session.Supervisor
	timeout time.Duration
}

func New(sup *session.Supervisor, timeout time.Duration) *Bridge {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Bridge{sup: sup, timeout: timeout}
}

// SendDirect sends text to a single target through the session owning
// the given role.
func (b *Bridge) SendDirect(ctx context.Context, role, targetID, text string) error {
	return b.relay(ctx, role, func(ctx context.Context, s *session.Session) error {
		return s.SendDirect(ctx, targetID, text)
	})
}

// Broadcast sends text to all of the session's recipients.
func (b *Bridge) Broadcast(ctx context.Context, role, text string) error {
	return b.relay(ctx, role, func(ctx context.Context, s *session.Session) error {
		return s.Broadcast(ctx, text)
	})
}

func (b *Bridge) relay(ctx context.Context, role string, op func(context.Context, *session.Session) error) error {
	s, ok := b.sup.Session(role)
	if !ok {
		return fmt.Errorf("%w: %q", session.ErrUnknownRole, role)
	}
	if s.State() != session.StateConnected {
		return fmt.Errorf("%w: session %q is %s", ErrNotReady, role, s.State())
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	err := op(ctx, s)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: session %q after %s", ErrTimeout, role, b.timeout)
	case errors.Is(err, session.ErrNotConnected):
		return fmt.Errorf("%w: %v", ErrNotReady, err)
	case errors.Is(err, context.Canceled):
		return err
	default:
		return &RejectedError{Role: role, Err: err}
	}
}
