package transport

import (
	"context"
	"fmt"
	"sync"
)

// FakeClient is a scriptable Client for tests. Tests push events with
// Emit* and inspect Sent for outbound traffic.
type FakeClient struct {
	mu          sync.Mutex
	state       State
	initErr     error
	sendErr     []error
	Sent        []FakeSend
	initCount   int
	destroyed   bool
	loggedOut   bool
	nextMsgID   int
	lifecycleCh chan LifecycleEvent
	inboundCh   chan InboundMessage
	acksCh      chan DeliveryAck
}

// FakeSend records one SendMessage call.
type FakeSend struct {
	To   string
	Body string
}

// NewFakeClient creates a fake in the disconnected state.
func NewFakeClient() *FakeClient {
	return &FakeClient{
		state:       StateDisconnected,
		lifecycleCh: make(chan LifecycleEvent, 32),
		inboundCh:   make(chan InboundMessage, 32),
		acksCh:      make(chan DeliveryAck, 32),
	}
}

// FailInitWith makes the next Initialize return err.
func (f *FakeClient) FailInitWith(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initErr = err
}

// FailSendsWith queues errors returned by subsequent SendMessage calls,
// one per call, before sends start succeeding again.
func (f *FakeClient) FailSendsWith(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendErr = append(f.sendErr, errs...)
}

// SetState forces the provider-side state.
func (f *FakeClient) SetState(s State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = s
}

func (f *FakeClient) Initialize(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initCount++
	if f.initErr != nil {
		err := f.initErr
		f.initErr = nil
		return err
	}
	f.state = StateConnecting
	return nil
}

func (f *FakeClient) SendMessage(_ context.Context, to, body string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sendErr) > 0 {
		err := f.sendErr[0]
		f.sendErr = f.sendErr[1:]
		if err != nil {
			return "", err
		}
	}
	f.nextMsgID++
	f.Sent = append(f.Sent, FakeSend{To: to, Body: body})
	return fmt.Sprintf("FAKE-%d", f.nextMsgID), nil
}

func (f *FakeClient) GetState(context.Context) (State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state, nil
}

func (f *FakeClient) Logout(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loggedOut = true
	f.state = StateDisconnected
	return nil
}

func (f *FakeClient) Destroy() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroyed = true
	f.state = StateDisconnected
	return nil
}

func (f *FakeClient) Lifecycle() <-chan LifecycleEvent { return f.lifecycleCh }
func (f *FakeClient) Inbound() <-chan InboundMessage   { return f.inboundCh }
func (f *FakeClient) Acks() <-chan DeliveryAck         { return f.acksCh }

// EmitLifecycle pushes a lifecycle event as the provider would.
func (f *FakeClient) EmitLifecycle(e LifecycleEvent) {
	if e.Kind == LifecycleReady {
		f.SetState(StateConnected)
	}
	f.lifecycleCh <- e
}

// EmitInbound pushes an inbound message.
func (f *FakeClient) EmitInbound(m InboundMessage) { f.inboundCh <- m }

// EmitAck pushes a delivery acknowledgement.
func (f *FakeClient) EmitAck(a DeliveryAck) { f.acksCh <- a }

// InitCount reports how many times Initialize ran.
func (f *FakeClient) InitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.initCount
}

// Destroyed reports whether Destroy was called.
func (f *FakeClient) Destroyed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.destroyed
}

// LoggedOut reports whether Logout was called.
func (f *FakeClient) LoggedOut() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loggedOut
}

// SentCount reports how many messages went out.
func (f *FakeClient) SentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Sent)
}
