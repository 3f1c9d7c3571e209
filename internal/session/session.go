// Package session owns the connection lifecycle: dialing, the login
// handshake, the read loop, heartbeats, and automatic reconnection with
// exponential backoff.
package session

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jefrnc/das-bridge/internal/config"
	"github.com/jefrnc/das-bridge/internal/dispatch"
	"github.com/jefrnc/das-bridge/internal/errors"
	"github.com/jefrnc/das-bridge/internal/protocol"
)

// State is the session lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateAuthenticating
	StateReady
	StateDegraded
	StateReconnecting
	StateClosed
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateReady:
		return "ready"
	case StateDegraded:
		return "degraded"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// EventHandler receives every inbound event, in arrival order, before the
// dispatcher gets a chance to correlate it.
type EventHandler func(ev protocol.Event)

// StateHandler is notified on every state transition.
type StateHandler func(st State)

// ReadyHook runs after each successful login, with reconnect reporting
// whether this is a recovery of a previously established session. The
// engine uses it to resubscribe market data and refresh snapshots.
type ReadyHook func(ctx context.Context, reconnect bool) error

// Session drives one logical connection to the terminal across any number
// of physical TCP connections.
type Session struct {
	cfg   config.ConnectionConfig
	creds config.Credentials
	log   zerolog.Logger
	disp  *dispatch.Dispatcher

	mu           sync.Mutex
	state        State
	transport    *Transport
	lastActivity time.Time
	closed       bool
	cancel       context.CancelFunc
	wg           sync.WaitGroup

	onEvent   EventHandler
	onState   StateHandler
	readyHook ReadyHook
}

// New creates a session. Handlers must be installed before Connect.
func New(cfg config.ConnectionConfig, creds config.Credentials, disp *dispatch.Dispatcher, logger zerolog.Logger) *Session {
	return &Session{
		cfg:   cfg,
		creds: creds,
		disp:  disp,
		log:   logger.With().Str("component", "session").Logger(),
		state: StateDisconnected,
	}
}

// SetEventHandler installs the inbound event handler.
func (s *Session) SetEventHandler(h EventHandler) { s.onEvent = h }

// SetStateHandler installs the state transition handler.
func (s *Session) SetStateHandler(h StateHandler) { s.onState = h }

// SetReadyHook installs the post-login hook.
func (s *Session) SetReadyHook(h ReadyHook) { s.readyHook = h }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connect establishes the first connection and logs in. On success it
// starts the supervisor goroutine that keeps the session alive until Close.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateDisconnected {
		s.mu.Unlock()
		return errors.ErrAlreadyConnected
	}
	s.closed = false
	s.mu.Unlock()

	connDone, err := s.connectOnce(ctx, false)
	if err != nil {
		s.setState(StateDisconnected)
		return err
	}

	superCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go s.supervise(superCtx, connDone)
	return nil
}

// Close tears the session down and stops reconnecting.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cancel := s.cancel
	t := s.transport
	s.mu.Unlock()

	if t != nil {
		// Best effort; the terminal drops the connection either way.
		_ = t.WriteLine(protocol.CmdQuit)
		_ = t.Close()
	}
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	s.disp.Reset()
	s.setState(StateClosed)
	return nil
}

// connectOnce dials, authenticates and arms the read loop for one physical
// connection. It returns a channel closed when the read loop exits.
func (s *Session) connectOnce(ctx context.Context, reconnect bool) (<-chan struct{}, error) {
	s.setState(StateConnecting)

	t, err := Dial(ctx, s.cfg)
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("addr", t.RemoteAddr()).Bool("reconnect", reconnect).Msg("connected")

	s.mu.Lock()
	s.transport = t
	s.lastActivity = time.Now()
	s.mu.Unlock()
	s.disp.Bind(t)

	done := make(chan struct{})
	s.wg.Add(1)
	go s.readLoop(t, done)

	s.setState(StateAuthenticating)
	if err := s.login(ctx); err != nil {
		_ = t.Close()
		<-done
		s.disp.Reset()
		return nil, err
	}

	if s.cfg.WatchMode {
		if err := t.WriteLine(protocol.BuildWatch(s.creds.Account)); err != nil {
			_ = t.Close()
			<-done
			s.disp.Reset()
			return nil, err
		}
	}

	if s.readyHook != nil {
		if err := s.readyHook(ctx, reconnect); err != nil {
			s.log.Warn().Err(err).Msg("ready hook failed")
		}
	}

	s.setState(StateReady)

	hbDone := make(chan struct{})
	s.wg.Add(1)
	go s.heartbeat(t, done, hbDone)

	return done, nil
}

// login issues the LOGIN command and waits for the terminal's verdict.
func (s *Session) login(ctx context.Context) error {
	ev, err := s.disp.Submit(ctx, dispatch.Command{
		Kind:    dispatch.KindLogin,
		Text:    protocol.BuildLogin(s.creds.Username, s.creds.Password, s.creds.Account),
		Timeout: s.cfg.CommandTimeout,
		Match: func(ev protocol.Event) bool {
			switch e := ev.(type) {
			case protocol.PlainReply:
				return strings.HasPrefix(strings.ToUpper(e.Text), "LOGIN")
			case protocol.ErrorReply:
				return e.Severity == protocol.PrefixError
			}
			return false
		},
	})
	if err != nil {
		return errors.Wrap(err, "login")
	}

	switch e := ev.(type) {
	case protocol.PlainReply:
		if strings.HasPrefix(strings.ToUpper(e.Text), protocol.LoginSuccess) {
			s.log.Info().Str("account", s.creds.Account).Msg("authenticated")
			return nil
		}
		return fmt.Errorf("%w: %s", errors.ErrAuthFailed, e.Text)
	case protocol.ErrorReply:
		return fmt.Errorf("%w: %s", errors.ErrAuthFailed, e.Message)
	}
	return errors.ErrAuthFailed
}

// readLoop consumes lines until the connection dies. Every parsed event
// goes to the state handler first, then to the dispatcher, so trackers see
// fills and positions even when a pending command consumes the same event.
func (s *Session) readLoop(t *Transport, done chan struct{}) {
	defer s.wg.Done()
	defer close(done)

	for {
		line, err := t.ReadLine()
		if err != nil {
			s.log.Debug().Err(err).Msg("read loop ended")
			return
		}
		if line == "" {
			continue
		}

		s.mu.Lock()
		s.lastActivity = time.Now()
		s.mu.Unlock()

		ev := protocol.Parse(line)
		if s.onEvent != nil {
			s.onEvent(ev)
		}
		s.disp.Deliver(ev)
	}
}

// heartbeat keeps the connection warm and detects silent peers. A missed
// echo degrades the session and forces the read loop to fail, which hands
// control to the supervisor.
func (s *Session) heartbeat(t *Transport, connDone <-chan struct{}, hbDone chan struct{}) {
	defer s.wg.Done()
	defer close(hbDone)

	interval := s.cfg.HeartbeatInterval
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	seq := 0
	for {
		select {
		case <-connDone:
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		idle := time.Since(s.lastActivity)
		s.mu.Unlock()
		if idle < interval {
			continue
		}

		seq++
		token := fmt.Sprintf("ping %d", seq)
		ctx, cancel := context.WithTimeout(context.Background(), interval)
		_, err := s.disp.Submit(ctx, dispatch.Command{
			Kind:    dispatch.KindEcho,
			Text:    protocol.CmdEcho + " " + token,
			Timeout: interval,
			Match: func(ev protocol.Event) bool {
				reply, ok := ev.(protocol.PlainReply)
				return ok && strings.Contains(reply.Text, token)
			},
		})
		cancel()
		if err != nil {
			if errors.Is(err, errors.ErrConnectionLost) {
				return
			}
			s.log.Warn().Err(err).Msg("heartbeat missed, closing connection")
			s.setState(StateDegraded)
			_ = t.Close()
			return
		}
	}
}

// supervise watches the active connection and reconnects with exponential
// backoff and jitter when it drops. It gives up after MaxReconnects
// consecutive failures.
func (s *Session) supervise(ctx context.Context, connDone <-chan struct{}) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-connDone:
		}

		s.mu.Lock()
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return
		}

		// In-flight commands fail now; they are never replayed.
		s.disp.Reset()
		s.setState(StateReconnecting)
		s.log.Warn().Msg("connection lost, reconnecting")

		var err error
		reconnected := false
		for attempt := 1; s.cfg.MaxReconnects <= 0 || attempt <= s.cfg.MaxReconnects; attempt++ {
			delay := backoffDelay(s.cfg.ReconnectBaseDelay, s.cfg.ReconnectMaxDelay, attempt)
			s.log.Info().Int("attempt", attempt).Dur("delay", delay).Msg("reconnect scheduled")

			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}

			connDone, err = s.connectOnce(ctx, true)
			if err == nil {
				reconnected = true
				break
			}
			s.disp.Reset()
			if errors.Is(err, errors.ErrAuthFailed) {
				// Rejected credentials will not improve on retry.
				s.log.Error().Err(err).Msg("login rejected during reconnect")
				break
			}
			s.log.Warn().Err(err).Int("attempt", attempt).Msg("reconnect failed")
		}

		if !reconnected {
			s.log.Error().Err(err).Msg("giving up on reconnection")
			s.setState(StateDisconnected)
			return
		}
	}
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	if s.state == st {
		s.mu.Unlock()
		return
	}
	s.state = st
	handler := s.onState
	s.mu.Unlock()

	s.log.Debug().Str("state", st.String()).Msg("state changed")
	if handler != nil {
		handler(st)
	}
}

// backoffDelay computes the delay before the given attempt: exponential
// from base, capped at max, with ±20% jitter.
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = 5 * time.Second
	}
	if max <= 0 {
		max = 60 * time.Second
	}
	delay := base
	for i := 1; i < attempt && delay < max; i++ {
		delay *= 2
	}
	if delay > max {
		delay = max
	}
	jitter := time.Duration(rand.Int63n(int64(delay)/5+1)) - delay/10
	return delay + jitter
}
