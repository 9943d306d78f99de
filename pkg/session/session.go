// Package session supervises long-lived authenticated connections to
// remote messaging networks. Each session owns one event loop that
// receives inbound events sequentially and services outbound send
// requests marshaled in from other goroutines.
package session

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/copperline/chatvault/pkg/normalize"
)

// ErrAuthentication marks a credential rejection. It is fatal for the
// session: no retry, terminal Stopped state. Transports wrap their
// auth failures with this sentinel.
var ErrAuthentication = errors.New("authentication rejected")

// State is the session lifecycle state.
type State int32

const (
	StateCreated State = iota
	StateAuthenticating
	StateConnected
	StateReconnecting
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateAuthenticating:
		return "authenticating"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Transport is one persistent connection to a remote network. Connect
// performs the authenticated handshake; Receive blocks until the next
// inbound event or a transport failure. Implementations wrap
// credential rejections with ErrAuthentication so the supervisor can
// tell fatal from transient.
type Transport interface {
	Platform() string
	Connect(ctx context.Context) error
	Receive(ctx context.Context) (normalize.RawEvent, error)
	SendDirect(ctx context.Context, targetID, text string) error
	Broadcast(ctx context.Context, text string) error
	Close() error
}

// sendRequest is marshaled into the owning session loop. ctx is the
// requester's context; the loop uses it to bound the network call so
// an abandoned request cannot occupy the loop past its deadline.
type sendRequest struct {
	ctx       context.Context
	broadcast bool
	target    string
	text      string
	done      chan error
}

// Session pairs a role with its transport and owning loop handle.
type Session struct {
	role      string
	transport Transport
	state     atomic.Int32
	sendq     chan sendRequest
}

func newSession(role string, t Transport) *Session {
	return &Session{
		role:      role,
		transport: t,
		sendq:     make(chan sendRequest, 16),
	}
}

func (s *Session) Role() string     { return s.role }
func (s *Session) Platform() string { return s.transport.Platform() }

func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
}

// submit hands a send request to the session loop. It blocks only
// until the request is queued or ctx expires; the loop delivers the
// network result on req.done.
func (s *Session) submit(ctx context.Context, req sendRequest) error {
	select {
	case s.sendq <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendDirect marshals a direct send into the session loop and waits
// for its result. ctx bounds both the enqueue and the wait.
func (s *Session) SendDirect(ctx context.Context, targetID, text string) error {
	return s.roundTrip(ctx, sendRequest{target: targetID, text: text, done: make(chan error, 1)})
}

// Broadcast marshals a broadcast into the session loop and waits for
// its result.
func (s *Session) Broadcast(ctx context.Context, text string) error {
	return s.roundTrip(ctx, sendRequest{broadcast: true, text: text, done: make(chan error, 1)})
}

func (s *Session) roundTrip(ctx context.Context, req sendRequest) error {
	req.ctx = ctx
	if err := s.submit(ctx, req); err != nil {
		return err
	}
	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
