package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/copperline/chatvault/pkg/logger"
	"github.com/copperline/chatvault/pkg/normalize"
)

// ErrUnknownRole is returned when no session is registered for a role.
var ErrUnknownRole = errors.New("unknown session role")

// ErrNotConnected is returned for send requests that reach a session
// which is not in the Connected state.
var ErrNotConnected = errors.New("session not connected")

// Handler processes one inbound event. Handler errors are contained at
// the event level: the loop logs them and moves to the next event.
type Handler func(ctx context.Context, ev normalize.RawEvent) error

// Supervisor owns every Session and runs one event loop per session.
// Sessions are independent: a fatal failure in one never stops the
// others, and no session loop ever blocks on another.
type Supervisor struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	handler  Handler
	wg       sync.WaitGroup

	// reconnect backoff bounds; overridable in tests
	backoffBase time.Duration
	backoffMax  time.Duration
}

func NewSupervisor(handler Handler) *Supervisor {
	return &Supervisor{
		sessions:    make(map[string]*Session),
		handler:     handler,
		backoffBase: time.Second,
		backoffMax:  30 * time.Second,
	}
}

// Register adds a session for a role. Roles are unique.
func (sv *Supervisor) Register(role string, t Transport) (*Session, error) {
	sv.mu.Lock()
	defer sv.mu.Unlock()

	if _, exists := sv.sessions[role]; exists {
		return nil, fmt.Errorf("session role %q already registered", role)
	}
	s := newSession(role, t)
	sv.sessions[role] = s
	return s, nil
}

// Session returns the session registered for the role.
func (sv *Supervisor) Session(role string) (*Session, bool) {
	sv.mu.RLock()
	defer sv.mu.RUnlock()
	s, ok := sv.sessions[role]
	return s, ok
}

// Roles lists registered roles.
func (sv *Supervisor) Roles() []string {
	sv.mu.RLock()
	defer sv.mu.RUnlock()
	out := make([]string, 0, len(sv.sessions))
	for role := range sv.sessions {
		out = append(out, role)
	}
	return out
}

// States reports the lifecycle state of every session.
func (sv *Supervisor) States() map[string]State {
	sv.mu.RLock()
	defer sv.mu.RUnlock()
	out := make(map[string]State, len(sv.sessions))
	for role, s := range sv.sessions {
		out[role] = s.State()
	}
	return out
}

// StartAll launches one loop goroutine per registered session and
// returns immediately.
func (sv *Supervisor) StartAll(ctx context.Context) {
	sv.mu.RLock()
	defer sv.mu.RUnlock()
	for _, s := range sv.sessions {
		sv.wg.Add(1)
		go func(s *Session) {
			defer sv.wg.Done()
			sv.run(ctx, s)
		}(s)
	}
}

// Wait blocks until every session loop has exited.
func (sv *Supervisor) Wait() {
	sv.wg.Wait()
}

type received struct {
	ev  normalize.RawEvent
	err error
}

// run drives one session through its lifecycle until ctx is cancelled
// or authentication is rejected.
func (sv *Supervisor) run(ctx context.Context, s *Session) {
	defer func() {
		s.setState(StateStopped)
		if err := s.transport.Close(); err != nil {
			logger.WarnCF("session", "transport close failed", map[string]any{
				"role": s.role, "error": err.Error(),
			})
		}
		logger.InfoCF("session", "session stopped", map[string]any{"role": s.role})
	}()

	backoff := sv.backoffBase
	for {
		s.setState(StateAuthenticating)
		if err := s.transport.Connect(ctx); err != nil {
			if errors.Is(err, ErrAuthentication) {
				// Fatal: surface and stop this session only.
				logger.ErrorCF("session", "authentication rejected", map[string]any{
					"role": s.role, "platform": s.Platform(), "error": err.Error(),
				})
				return
			}
			if ctx.Err() != nil {
				return
			}
			s.setState(StateReconnecting)
			logger.WarnCF("session", "connect failed, retrying", map[string]any{
				"role": s.role, "backoff": backoff.String(), "error": err.Error(),
			})
			if !sv.sleepServingNotReady(ctx, s, backoff) {
				return
			}
			if backoff *= 2; backoff > sv.backoffMax {
				backoff = sv.backoffMax
			}
			continue
		}

		backoff = sv.backoffBase
		s.setState(StateConnected)
		logger.InfoCF("session", "connected", map[string]any{
			"role": s.role, "platform": s.Platform(),
		})

		if !sv.serve(ctx, s) {
			return
		}
		// Transport-level disconnect: events lost during the gap are
		// not recoverable; reconnect with the same credentials.
		s.setState(StateReconnecting)
		_ = s.transport.Close()
		if !sv.sleepServingNotReady(ctx, s, backoff) {
			return
		}
	}
}

// serve runs the Connected event loop. Returns false on shutdown,
// true when the transport dropped and a reconnect should follow.
func (sv *Supervisor) serve(ctx context.Context, s *Session) bool {
	rctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events := make(chan received)
	go func() {
		for {
			ev, err := s.transport.Receive(rctx)
			select {
			case events <- received{ev: ev, err: err}:
			case <-rctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return false

		case req := <-s.sendq:
			req.done <- sv.dispatch(ctx, s, req)

		case item := <-events:
			if item.err != nil {
				if ctx.Err() != nil {
					return false
				}
				logger.WarnCF("session", "transport dropped", map[string]any{
					"role": s.role, "error": item.err.Error(),
				})
				return true
			}
			// Per-event isolation: a bad event never kills the loop.
			if err := sv.handler(ctx, item.ev); err != nil {
				logger.ErrorCF("session", "event handling failed", map[string]any{
					"role": s.role, "platform": s.Platform(), "error": err.Error(),
				})
			}
		}
	}
}

// dispatch executes a send request inside the owning loop. The network
// call runs under the requester's context so a caller that gave up
// releases the loop, while loop shutdown still cancels it.
func (sv *Supervisor) dispatch(ctx context.Context, s *Session, req sendRequest) error {
	sctx, cancel := context.WithCancel(req.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if req.broadcast {
		return s.transport.Broadcast(sctx, req.text)
	}
	return s.transport.SendDirect(sctx, req.target, req.text)
}

// sleepServingNotReady waits out a reconnect backoff while failing any
// queued send requests fast instead of letting them ride the timeout.
func (sv *Supervisor) sleepServingNotReady(ctx context.Context, s *Session, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case req := <-s.sendq:
			req.done <- fmt.Errorf("session %q: %w", s.role, ErrNotConnected)
		case <-timer.C:
			return true
		}
	}
}
