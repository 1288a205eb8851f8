// Package connection tracks the per-provider connection lifecycle and decides
// when to retry.
//
// A Machine is owned by the tick goroutine. Network goroutines never call it;
// they report success and loss through the message queue, and the pipeline
// translates those markers into HandleConnected / HandleFailure calls.
package connection

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/live-ingest/event"
)

// State is the connection state of one provider.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

var (
	ErrEmptyCredentials = errors.New("credentials are empty")
	ErrNotDisconnected  = errors.New("connect requested while not disconnected")
)

// Credentials identify what to connect to. Channel is the TikTok username or
// the YouTube video id.
type Credentials struct {
	Channel string
}

// Empty reports whether no usable channel was given.
func (c Credentials) Empty() bool { return strings.TrimSpace(c.Channel) == "" }

// Transport is the contract both provider adapters satisfy. Start launches the
// connect sequence in the background and returns immediately; Stop cancels it
// and closes any open connection. Both are called from the tick goroutine.
type Transport interface {
	Start(creds Credentials) error
	Stop()
}

// Session is the lifecycle record of one connect request.
type Session struct {
	ID              string
	Provider        event.Provider
	State           State
	Attempt         int
	NextRetry       time.Time
	LastError       string
	ConnectingSince time.Time
	Credentials     Credentials
}

// Snapshot is the read-only JSON view of a Session.
type Snapshot struct {
	SessionID string    `json:"session_id,omitempty"`
	Provider  string    `json:"provider"`
	State     string    `json:"state"`
	Channel   string    `json:"channel,omitempty"`
	Attempt   int       `json:"attempt"`
	NextRetry time.Time `json:"next_retry,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}

// Notice is returned when a transition must be surfaced to the consumer.
type Notice struct {
	Message  string
	Class    ErrorClass
	Terminal bool
}

// Machine is the connection state machine for one provider.
type Machine struct {
	policy       Policy
	transport    Transport
	session      Session
	onTransition func(from, to State)
}

// NewMachine returns a Machine in Disconnected.
func NewMachine(provider event.Provider, transport Transport, policy Policy) *Machine {
	return &Machine{
		policy:    policy,
		transport: transport,
		session:   Session{Provider: provider},
	}
}

// OnTransition registers a hook called after every state change.
func (m *Machine) OnTransition(fn func(from, to State)) { m.onTransition = fn }

// State returns the current state.
func (m *Machine) State() State { return m.session.State }

// Session returns a copy of the current session.
func (m *Machine) Session() Session { return m.session }

// Snapshot returns the JSON view of the session.
func (m *Machine) Snapshot() Snapshot {
	s := m.session
	return Snapshot{
		SessionID: s.ID,
		Provider:  string(s.Provider),
		State:     s.State.String(),
		Channel:   s.Credentials.Channel,
		Attempt:   s.Attempt,
		NextRetry: s.NextRetry,
		LastError: s.LastError,
	}
}

// RequestConnect starts a new session. It fails fast, without a transition,
// on empty credentials or when a session is already active.
func (m *Machine) RequestConnect(creds Credentials, now time.Time) error {
	if creds.Empty() {
		return ErrEmptyCredentials
	}
	if m.session.State != Disconnected {
		return fmt.Errorf("%w (state %s)", ErrNotDisconnected, m.session.State)
	}
	m.session = Session{
		ID:          uuid.NewString(),
		Provider:    m.session.Provider,
		Credentials: Credentials{Channel: strings.TrimSpace(creds.Channel)},
	}
	m.enterConnecting(now)
	if err := m.transport.Start(m.session.Credentials); err != nil {
		m.transport.Stop()
		m.session.LastError = err.Error()
		m.transition(Disconnected)
		return fmt.Errorf("start %s transport: %w", m.session.Provider, err)
	}
	return nil
}

// Disconnect is the explicit user disconnect: valid from any state, stops the
// transport and resets the session.
func (m *Machine) Disconnect() {
	m.transport.Stop()
	provider := m.session.Provider
	from := m.session.State
	m.session = Session{Provider: provider}
	m.notify(from, Disconnected)
}

// End settles the session in Disconnected without retrying, keeping reason as
// the last error. Used when the provider reports the stream is over.
func (m *Machine) End(reason string) {
	if m.session.State == Disconnected {
		return
	}
	m.transport.Stop()
	m.session.Attempt = 0
	m.session.NextRetry = time.Time{}
	m.session.LastError = reason
	m.transition(Disconnected)
}

// HandleConnected applies a provider acknowledgement. It resets the attempt
// counter and clears the last error. Late acknowledgements for a session that
// is no longer connecting are ignored.
func (m *Machine) HandleConnected() bool {
	if m.session.State != Connecting {
		return false
	}
	m.session.Attempt = 0
	m.session.LastError = ""
	m.session.NextRetry = time.Time{}
	m.transition(Connected)
	return true
}

// HandleFailure applies a transport loss observed while Connecting or
// Connected. Failures in any other state are stale and ignored (nil Notice).
func (m *Machine) HandleFailure(err error, now time.Time) *Notice {
	if m.session.State != Connecting && m.session.State != Connected {
		return nil
	}
	m.transport.Stop()
	class := Classify(err)
	msg := "connection lost"
	if err != nil {
		msg = err.Error()
	}
	m.session.LastError = msg

	if !class.Retryable() {
		m.session.NextRetry = time.Time{}
		m.transition(Disconnected)
		return &Notice{Message: msg, Class: class, Terminal: true}
	}

	m.session.Attempt++
	if m.policy.Exhausted(m.session.Attempt) {
		m.session.LastError = fmt.Sprintf("giving up after %d attempts: %s", m.policy.MaxAttempts, msg)
		m.session.NextRetry = time.Time{}
		m.transition(Disconnected)
		return &Notice{Message: m.session.LastError, Class: class, Terminal: true}
	}
	m.session.NextRetry = now.Add(m.policy.Delay(m.session.Attempt))
	m.transition(Reconnecting)
	slog.Info("reconnect scheduled",
		slog.String("provider", string(m.session.Provider)),
		slog.Int("attempt", m.session.Attempt),
		slog.Time("next_retry", m.session.NextRetry),
		slog.String("class", class.String()),
		slog.String("component", "connection"))
	return &Notice{Message: msg, Class: class}
}

// Tick runs the timers: due reconnects and the Connecting watchdog.
func (m *Machine) Tick(now time.Time) *Notice {
	switch m.session.State {
	case Reconnecting:
		if now.Before(m.session.NextRetry) {
			return nil
		}
		m.enterConnecting(now)
		if err := m.transport.Start(m.session.Credentials); err != nil {
			return m.HandleFailure(err, now)
		}
	case Connecting:
		if m.policy.ConnectTimeout > 0 && now.Sub(m.session.ConnectingSince) > m.policy.ConnectTimeout {
			m.transport.Stop()
			m.session.LastError = fmt.Sprintf("connect timed out after %s", m.policy.ConnectTimeout)
			m.session.NextRetry = time.Time{}
			m.transition(Disconnected)
			return &Notice{Message: m.session.LastError, Class: ClassTransient, Terminal: true}
		}
	}
	return nil
}

func (m *Machine) enterConnecting(now time.Time) {
	m.session.ConnectingSince = now
	m.session.NextRetry = time.Time{}
	m.transition(Connecting)
}

func (m *Machine) transition(to State) {
	from := m.session.State
	m.session.State = to
	m.notify(from, to)
}

func (m *Machine) notify(from, to State) {
	if from == to {
		return
	}
	slog.Debug("connection state change",
		slog.String("provider", string(m.session.Provider)),
		slog.String("from", from.String()),
		slog.String("to", to.String()),
		slog.String("component", "connection"))
	if m.onTransition != nil {
		m.onTransition(from, to)
	}
}
