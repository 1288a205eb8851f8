package connection

import (
	"errors"
	"testing"
	"time"

	"github.com/onnwee/live-ingest/event"
)

type fakeTransport struct {
	starts   int
	stops    int
	startErr error
	lastCh   string
}

func (f *fakeTransport) Start(c Credentials) error {
	f.starts++
	f.lastCh = c.Channel
	return f.startErr
}

func (f *fakeTransport) Stop() { f.stops++ }

func testPolicy() Policy {
	return Policy{BaseDelay: 5 * time.Second, MaxDelay: 30 * time.Second, MaxAttempts: 3, ConnectTimeout: 30 * time.Second}
}

func TestRequestConnectValidation(t *testing.T) {
	ft := &fakeTransport{}
	m := NewMachine(event.ProviderTikTok, ft, testPolicy())
	now := time.Unix(0, 0)

	if err := m.RequestConnect(Credentials{Channel: "  "}, now); !errors.Is(err, ErrEmptyCredentials) {
		t.Fatalf("expected ErrEmptyCredentials, got %v", err)
	}
	if m.State() != Disconnected || ft.starts != 0 {
		t.Fatalf("empty credentials must not transition (state=%s starts=%d)", m.State(), ft.starts)
	}

	if err := m.RequestConnect(Credentials{Channel: "streamer"}, now); err != nil {
		t.Fatalf("RequestConnect: %v", err)
	}
	if m.State() != Connecting || ft.starts != 1 || ft.lastCh != "streamer" {
		t.Fatalf("state=%s starts=%d channel=%q", m.State(), ft.starts, ft.lastCh)
	}
	if m.Session().ID == "" {
		t.Errorf("session id not assigned")
	}

	if err := m.RequestConnect(Credentials{Channel: "other"}, now); !errors.Is(err, ErrNotDisconnected) {
		t.Fatalf("expected ErrNotDisconnected, got %v", err)
	}
}

func TestRequestConnectStartError(t *testing.T) {
	ft := &fakeTransport{startErr: errors.New("bad config")}
	m := NewMachine(event.ProviderYouTube, ft, testPolicy())
	if err := m.RequestConnect(Credentials{Channel: "vid"}, time.Now()); err == nil {
		t.Fatalf("expected error")
	}
	if m.State() != Disconnected || m.Session().LastError != "bad config" {
		t.Fatalf("state=%s lastErr=%q", m.State(), m.Session().LastError)
	}
}

func TestFailureSchedulesLinearBackoff(t *testing.T) {
	ft := &fakeTransport{}
	m := NewMachine(event.ProviderTikTok, ft, testPolicy())
	t0 := time.Unix(1000, 0)
	_ = m.RequestConnect(Credentials{Channel: "s"}, t0)

	n := m.HandleFailure(errors.New("connection refused"), t0)
	if n == nil || n.Terminal {
		t.Fatalf("first failure should be non-terminal, got %+v", n)
	}
	if m.State() != Reconnecting || m.Session().Attempt != 1 {
		t.Fatalf("state=%s attempt=%d", m.State(), m.Session().Attempt)
	}
	if got := m.Session().NextRetry.Sub(t0); got != 5*time.Second {
		t.Fatalf("first delay = %s, want 5s", got)
	}

	// Not yet due.
	if m.Tick(t0.Add(4*time.Second)); m.State() != Reconnecting {
		t.Fatalf("retried early")
	}
	m.Tick(t0.Add(5 * time.Second))
	if m.State() != Connecting || ft.starts != 2 {
		t.Fatalf("state=%s starts=%d after due tick", m.State(), ft.starts)
	}

	t1 := t0.Add(6 * time.Second)
	m.HandleFailure(errors.New("read timeout"), t1)
	if got := m.Session().NextRetry.Sub(t1); got != 10*time.Second {
		t.Fatalf("second delay = %s, want 10s", got)
	}
}

func TestAttemptCapSettlesDisconnected(t *testing.T) {
	ft := &fakeTransport{}
	p := testPolicy()
	m := NewMachine(event.ProviderTikTok, ft, p)
	now := time.Unix(0, 0)
	_ = m.RequestConnect(Credentials{Channel: "s"}, now)

	var last *Notice
	for i := 0; i < 10; i++ {
		if m.State() == Disconnected {
			break
		}
		last = m.HandleFailure(errors.New("connection refused"), now)
		now = now.Add(time.Minute)
		m.Tick(now)
	}
	if m.State() != Disconnected {
		t.Fatalf("state = %s, want disconnected", m.State())
	}
	if last == nil || !last.Terminal {
		t.Fatalf("expected terminal notice, got %+v", last)
	}
	if ft.starts != p.MaxAttempts+1 {
		t.Fatalf("transport started %d times, want %d", ft.starts, p.MaxAttempts+1)
	}

	// Stays put until an explicit request.
	for i := 0; i < 5; i++ {
		now = now.Add(time.Minute)
		m.Tick(now)
	}
	if m.State() != Disconnected || ft.starts != p.MaxAttempts+1 {
		t.Fatalf("machine moved without request: state=%s starts=%d", m.State(), ft.starts)
	}
	if err := m.RequestConnect(Credentials{Channel: "s"}, now); err != nil {
		t.Fatalf("explicit reconnect: %v", err)
	}
	if m.Session().Attempt != 0 {
		t.Errorf("new session should reset attempts")
	}
}

func TestConnectedAckResetsAttempts(t *testing.T) {
	m := NewMachine(event.ProviderTikTok, &fakeTransport{}, testPolicy())
	now := time.Unix(0, 0)
	_ = m.RequestConnect(Credentials{Channel: "s"}, now)
	m.HandleFailure(errors.New("reset by peer"), now)
	m.Tick(now.Add(time.Minute))
	if !m.HandleConnected() {
		t.Fatalf("ack ignored")
	}
	s := m.Session()
	if s.State != Connected || s.Attempt != 0 || s.LastError != "" {
		t.Fatalf("session after ack = %+v", s)
	}
	if m.HandleConnected() {
		t.Errorf("duplicate ack should be ignored")
	}
}

func TestNonRetryableFailureIsTerminal(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"quota", Classified(ClassQuota, errors.New("quotaExceeded"))},
		{"auth", errors.New("oauth2: 401 unauthorized")},
		{"fatal", Classified(ClassFatal, errors.New("no live chat for video"))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMachine(event.ProviderYouTube, &fakeTransport{}, testPolicy())
			now := time.Unix(0, 0)
			_ = m.RequestConnect(Credentials{Channel: "v"}, now)
			m.HandleConnected()
			n := m.HandleFailure(tt.err, now)
			if n == nil || !n.Terminal {
				t.Fatalf("expected terminal notice, got %+v", n)
			}
			if m.State() != Disconnected || m.Session().LastError == "" {
				t.Fatalf("state=%s lastErr=%q", m.State(), m.Session().LastError)
			}
		})
	}
}

func TestStaleFailureIgnored(t *testing.T) {
	ft := &fakeTransport{}
	m := NewMachine(event.ProviderTikTok, ft, testPolicy())
	if n := m.HandleFailure(errors.New("late"), time.Now()); n != nil {
		t.Fatalf("failure while disconnected should be ignored")
	}
	_ = m.RequestConnect(Credentials{Channel: "s"}, time.Now())
	m.HandleFailure(errors.New("x"), time.Now())
	attempt := m.Session().Attempt
	if n := m.HandleFailure(errors.New("duplicate"), time.Now()); n != nil || m.Session().Attempt != attempt {
		t.Fatalf("failure while reconnecting must not count")
	}
}

func TestWatchdogResetsStuckConnecting(t *testing.T) {
	ft := &fakeTransport{}
	m := NewMachine(event.ProviderTikTok, ft, testPolicy())
	t0 := time.Unix(0, 0)
	_ = m.RequestConnect(Credentials{Channel: "s"}, t0)
	if n := m.Tick(t0.Add(30 * time.Second)); n != nil {
		t.Fatalf("watchdog fired at the boundary")
	}
	n := m.Tick(t0.Add(31 * time.Second))
	if n == nil || m.State() != Disconnected {
		t.Fatalf("watchdog did not fire: state=%s", m.State())
	}
	if ft.stops == 0 {
		t.Errorf("transport not stopped by watchdog")
	}
}

func TestDisconnectFromAnyState(t *testing.T) {
	var transitions []string
	ft := &fakeTransport{}
	m := NewMachine(event.ProviderTikTok, ft, testPolicy())
	m.OnTransition(func(from, to State) { transitions = append(transitions, from.String()+">"+to.String()) })
	_ = m.RequestConnect(Credentials{Channel: "s"}, time.Now())
	m.HandleConnected()
	m.Disconnect()
	if m.State() != Disconnected || m.Session().Credentials.Channel != "" {
		t.Fatalf("session not reset: %+v", m.Session())
	}
	want := []string{"disconnected>connecting", "connecting>connected", "connected>disconnected"}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Fatalf("transitions = %v, want %v", transitions, want)
		}
	}
}

func TestPolicyDelay(t *testing.T) {
	p := DefaultPolicy()
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 5 * time.Second},
		{1, 5 * time.Second},
		{2, 10 * time.Second},
		{6, 30 * time.Second},
		{100, 30 * time.Second},
	}
	for _, tt := range tests {
		if got := p.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %s, want %s", tt.attempt, got, tt.want)
		}
	}
	if err := p.Validate(); err != nil {
		t.Errorf("default policy invalid: %v", err)
	}
	if err := (Policy{BaseDelay: time.Second, MaxDelay: time.Millisecond, ConnectTimeout: time.Second}).Validate(); err == nil {
		t.Errorf("expected max<base to be rejected")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorClass
	}{
		{errors.New("dial tcp 127.0.0.1:21213: connect: connection refused"), ClassTransient},
		{errors.New("googleapi: Error 403: quotaExceeded"), ClassQuota},
		{errors.New("HTTP 429 Too Many Requests"), ClassQuota},
		{errors.New("oauth2: cannot fetch token: 400 invalid_grant"), ClassAuth},
		{errors.New("invalid character 'x' looking for beginning of value"), ClassMalformed},
		{errors.New("googleapi: Error 404: video not found"), ClassFatal},
		{Classified(ClassBroker, errors.New("broker unreachable")), ClassBroker},
		{errors.New("something odd"), ClassTransient},
		{errors.New("status 401 from api"), ClassAuth},
		{errors.New("HTTP/1.1 404"), ClassFatal},
		{errors.New("dial tcp 127.0.0.1:4040: i/o timeout"), ClassTransient},
		{errors.New("read tcp [::1]:54010->[::1]:4011: connection reset by peer"), ClassTransient},
		{errors.New("message 14042 dropped"), ClassTransient},
		{errors.New("session 401a9c closed"), ClassTransient},
		{errors.New("broker on :404 closed the socket"), ClassTransient},
	}
	for _, tt := range tests {
		if got := Classify(tt.err); got != tt.want {
			t.Errorf("Classify(%q) = %s, want %s", tt.err, got, tt.want)
		}
	}
	if ParseClass("quota") != ClassQuota || ParseClass("nope") != ClassTransient {
		t.Errorf("ParseClass mismatch")
	}
}
