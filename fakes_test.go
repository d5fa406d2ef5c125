package main

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// fakeSession 依位址回傳預設值或錯誤的設備會話
type fakeSession struct {
	mu     sync.Mutex
	values map[uint16][]uint16
	errs   map[uint16]error
	reads  []RegisterSpec
	closed atomic.Bool
}

func (s *fakeSession) ReadInputRegisters(address, quantity uint16) ([]uint16, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reads = append(s.reads, RegisterSpec{Address: address, Count: quantity})
	if err, ok := s.errs[address]; ok {
		return nil, err
	}
	if v, ok := s.values[address]; ok {
		return v, nil
	}
	return make([]uint16, quantity), nil
}

func (s *fakeSession) Close() error {
	s.closed.Store(true)
	return nil
}

func (s *fakeSession) Reads() []RegisterSpec {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RegisterSpec, len(s.reads))
	copy(out, s.reads)
	return out
}

// fakeDialer 回傳固定會話或錯誤
type fakeDialer struct {
	session *fakeSession
	err     error
	dials   atomic.Int32
}

func (d *fakeDialer) Dial(ctx context.Context) (RegisterSession, error) {
	d.dials.Add(1)
	if d.err != nil {
		return nil, d.err
	}
	return d.session, nil
}

// fakeSource 依序回傳預設結果的硬體來源
type fakeSource struct {
	mu      sync.Mutex
	results []func(ctx context.Context) (Report, error)
	calls   int
}

func (s *fakeSource) TryReadAll(ctx context.Context, catalog Catalog) (Report, error) {
	s.mu.Lock()
	i := s.calls
	s.calls++
	s.mu.Unlock()

	if i >= len(s.results) {
		return Report{}, &HardwareError{Kind: FailureConnect, Err: errors.New("no device")}
	}
	return s.results[i](ctx)
}

// fakeClock 手動推進的時鐘，每次建立計時器時通知 armed
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
	armed  chan time.Duration
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{
		now:   start,
		armed: make(chan time.Duration, 64),
	}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) NewTimer(d time.Duration) Timer {
	c.mu.Lock()
	t := &fakeTimer{
		ch:       make(chan time.Time, 1),
		deadline: c.now.Add(d),
	}
	c.timers = append(c.timers, t)
	c.mu.Unlock()

	c.armed <- d
	return t
}

// Advance 推進時間並觸發到期的計時器
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
	pending := c.timers[:0]
	for _, t := range c.timers {
		if t.stopped.Load() {
			continue
		}
		if !t.deadline.After(c.now) {
			t.ch <- c.now
			continue
		}
		pending = append(pending, t)
	}
	c.timers = pending
}

// Deadlines 尚未觸發的計時器到期時間
func (c *fakeClock) Deadlines() []time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []time.Time
	for _, t := range c.timers {
		if !t.stopped.Load() {
			out = append(out, t.deadline)
		}
	}
	return out
}

type fakeTimer struct {
	ch       chan time.Time
	deadline time.Time
	stopped  atomic.Bool
}

func (t *fakeTimer) C() <-chan time.Time { return t.ch }

func (t *fakeTimer) Stop() bool { return !t.stopped.Swap(true) }

// fakeConn 記錄傳送內容的後端連線
type fakeConn struct {
	sent     chan string
	incoming chan Message
	done     chan struct{}

	closeOnce sync.Once
	sendErr   atomic.Value
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		sent:     make(chan string, 64),
		incoming: make(chan Message, 16),
		done:     make(chan struct{}),
	}
}

func (c *fakeConn) Send(payload []byte) error {
	if err, ok := c.sendErr.Load().(error); ok && err != nil {
		return err
	}
	c.sent <- string(payload)
	return nil
}

func (c *fakeConn) Incoming() <-chan Message { return c.incoming }

func (c *fakeConn) Done() <-chan struct{} { return c.done }

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

func (c *fakeConn) failSends(err error) {
	c.sendErr.Store(err)
}
