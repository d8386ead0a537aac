package testutil

import (
	"context"
	"sync"

	"github.com/lcrostarosa/safetrack/internal/domain"
	apperrors "github.com/lcrostarosa/safetrack/internal/errors"
)

// FakePermission is a PermissionOracle whose answers are set by the test.
type FakePermission struct {
	mu        sync.Mutex
	granted   bool
	onRequest bool
	err       error
	checks    int
	requests  int
}

// NewFakePermission returns an oracle that reports granted.
func NewFakePermission(granted bool) *FakePermission {
	return &FakePermission{granted: granted, onRequest: granted}
}

// Set changes the current answer. Requests answer the same value.
func (p *FakePermission) Set(granted bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.granted = granted
	p.onRequest = granted
}

// GrantOnRequest makes a request flip the permission to granted.
func (p *FakePermission) GrantOnRequest() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onRequest = true
}

// Fail makes every call return err.
func (p *FakePermission) Fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func (p *FakePermission) HasForegroundPermission(ctx context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.checks++
	return p.granted, p.err
}

func (p *FakePermission) RequestForegroundPermission(ctx context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests++
	if p.err != nil {
		return false, p.err
	}
	p.granted = p.onRequest
	return p.granted, nil
}

// Requests returns how many times permission was requested.
func (p *FakePermission) Requests() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests
}

// FakeLocator is a LocationProvider that replays fixes. When the queue is
// exhausted the last fix repeats.
type FakeLocator struct {
	mu    sync.Mutex
	fixes []domain.Fix
	next  int
	err   error
	calls int
	gate  chan struct{}
	enter chan struct{}
}

// NewFakeLocator creates a provider that returns fixes in order.
func NewFakeLocator(fixes ...domain.Fix) *FakeLocator {
	if len(fixes) == 0 {
		fixes = []domain.Fix{{Latitude: 52.52, Longitude: 13.405}}
	}
	return &FakeLocator{fixes: fixes}
}

// Fail makes CurrentFix return err until Fail(nil).
func (l *FakeLocator) Fail(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.err = err
}

// Block makes CurrentFix wait until Release. Entered receives one value each
// time a call starts waiting.
func (l *FakeLocator) Block() (entered <-chan struct{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.gate = make(chan struct{})
	l.enter = make(chan struct{}, 16)
	return l.enter
}

// Release unblocks every waiting and future CurrentFix call.
func (l *FakeLocator) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.gate != nil {
		close(l.gate)
		l.gate = nil
	}
}

func (l *FakeLocator) CurrentFix(ctx context.Context) (domain.Fix, error) {
	l.mu.Lock()
	l.calls++
	gate, enter := l.gate, l.enter
	l.mu.Unlock()

	if gate != nil {
		enter <- struct{}{}
		select {
		case <-gate:
		case <-ctx.Done():
			return domain.Fix{}, apperrors.Unavailable(ctx.Err())
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return domain.Fix{}, apperrors.Unavailable(l.err)
	}
	fix := l.fixes[l.next]
	if l.next < len(l.fixes)-1 {
		l.next++
	}
	return fix, nil
}

// Calls returns how many fixes were requested.
func (l *FakeLocator) Calls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

// SentMessage is one recorded Send call.
type SentMessage struct {
	Contact string
	Message string
}

// FakeMessenger records every message and fails for chosen contacts.
type FakeMessenger struct {
	mu      sync.Mutex
	sent    []SentMessage
	failFor map[string]error
	gate    chan struct{}
	enter   chan struct{}
}

// NewFakeMessenger creates a messenger that accepts everything.
func NewFakeMessenger() *FakeMessenger {
	return &FakeMessenger{failFor: make(map[string]error)}
}

// FailFor makes sends to contact fail with err.
func (m *FakeMessenger) FailFor(contact string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failFor[contact] = err
}

// Block makes Send wait until Release. Entered receives one value each time
// a call starts waiting.
func (m *FakeMessenger) Block() (entered <-chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gate = make(chan struct{})
	m.enter = make(chan struct{}, 16)
	return m.enter
}

// Release unblocks every waiting and future Send call.
func (m *FakeMessenger) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gate != nil {
		close(m.gate)
		m.gate = nil
	}
}

func (m *FakeMessenger) Send(ctx context.Context, contact, message string) error {
	m.mu.Lock()
	gate, enter := m.gate, m.enter
	m.mu.Unlock()

	if gate != nil {
		enter <- struct{}{}
		select {
		case <-gate:
		case <-ctx.Done():
			return apperrors.Delivery(contact, ctx.Err())
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, SentMessage{Contact: contact, Message: message})
	if err, ok := m.failFor[contact]; ok {
		return apperrors.Delivery(contact, err)
	}
	return nil
}

// Sent returns a copy of every recorded call, failed ones included.
func (m *FakeMessenger) Sent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentMessage, len(m.sent))
	copy(out, m.sent)
	return out
}

// Reset forgets recorded calls.
func (m *FakeMessenger) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = nil
}
