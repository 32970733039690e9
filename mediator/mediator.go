// Package mediator implements the C-MOVE/C-STORE rendezvous: the Store-SCP
// receives unsolicited C-STORE sub-operations on a separate inbound
// association and must hand each one to the HTTP handler that issued the
// triggering C-MOVE-RQ. Correlation is by topic (originator AET, optional
// message ID); delivery falls back from the exact topic to the
// AET-only topic so peers that omit MoveOriginatorMessageID still work,
// at the cost of requiring Sequential mode (a permits=1 semaphore) for
// that AET to keep the fallback topic unambiguous.
package mediator

import (
	"context"
	"fmt"
	"sync"

	dicomerrors "github.com/dicomweb-dimse/bridge/errors"
)

// Topic identifies a single C-MOVE rendezvous. MessageID of 0 means "not
// known" and always resolves through the AET-only fallback topic.
type Topic struct {
	Originator string
	MessageID  uint16
}

func (t Topic) fallback() Topic { return Topic{Originator: t.Originator} }

func (t Topic) String() string {
	if t.MessageID == 0 {
		return fmt.Sprintf("%s/*", t.Originator)
	}
	return fmt.Sprintf("%s/%d", t.Originator, t.MessageID)
}

// Item is one event delivered through a subscription: either a received
// DICOM object (Pending) or the terminal Completed marker for the C-MOVE
// that owns the topic.
type Item struct {
	Done    bool
	SOPUID  string
	Data    []byte
	Warning bool
}

type subscription struct {
	ch     chan Item
	closed chan struct{}
	once   sync.Once
}

// Mediator is safe for concurrent use. Readers (Publish) take the read
// lock; subscribe/unsubscribe take the write lock.
type Mediator struct {
	mu    sync.RWMutex
	subs  map[Topic]*subscription
	seqMu sync.Mutex
	seq   map[string]chan struct{} // AET -> permits=1 semaphore, Sequential mode
}

// New creates an empty Mediator.
func New() *Mediator {
	return &Mediator{
		subs: make(map[Topic]*subscription),
		seq:  make(map[string]chan struct{}),
	}
}

// EnableSequential registers aet as Sequential: AcquireSequential will
// block concurrent C-MOVEs to the same AET behind a permits=1 semaphore.
// Required for any AET that relies on the (AET, None) fallback topic,
// since without it two concurrent C-MOVEs to the same peer cannot be told
// apart when MoveOriginatorMessageID is absent.
func (m *Mediator) EnableSequential(aet string) {
	m.seqMu.Lock()
	defer m.seqMu.Unlock()
	if _, ok := m.seq[aet]; !ok {
		ch := make(chan struct{}, 1)
		ch <- struct{}{}
		m.seq[aet] = ch
	}
}

// AcquireSequential blocks until aet's Sequential permit is available, or
// ctx is done. If aet was never registered with EnableSequential, it
// returns immediately (Concurrent mode, the default).
func (m *Mediator) AcquireSequential(ctx context.Context, aet string) (release func(), err error) {
	m.seqMu.Lock()
	ch, ok := m.seq[aet]
	m.seqMu.Unlock()
	if !ok {
		return func() {}, nil
	}
	select {
	case <-ch:
		return func() { ch <- struct{}{} }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Subscribe registers a callback channel for topic and returns it along
// with an Unsubscribe func. The returned channel has capacity 1; the
// caller should drain it promptly so Publish does not block other
// sub-operations on the same Store-SCP connection.
func (m *Mediator) Subscribe(topic Topic) (<-chan Item, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := &subscription{ch: make(chan Item, 1), closed: make(chan struct{})}
	m.subs[topic] = s
	return s.ch, func() { m.unsubscribe(topic, s) }
}

func (m *Mediator) unsubscribe(topic Topic, s *subscription) {
	m.mu.Lock()
	if cur, ok := m.subs[topic]; ok && cur == s {
		delete(m.subs, topic)
	}
	m.mu.Unlock()

	s.once.Do(func() { close(s.closed) })
}

// Publish delivers item to the subscriber for topic, falling back to the
// AET-only topic when the exact one has no subscriber. Returns a
// MediatorError wrapping ChannelClosed (subscriber unsubscribed mid-
// delivery, e.g. the HTTP client disconnected) or MissingCallback (no
// subscriber at all, not even the fallback).
func (m *Mediator) Publish(ctx context.Context, topic Topic, item Item) error {
	m.mu.RLock()
	s, ok := m.subs[topic]
	if !ok && topic.MessageID != 0 {
		s, ok = m.subs[topic.fallback()]
	}
	m.mu.RUnlock()

	if !ok {
		return dicomerrors.NewMediatorMissingCallbackError(topic.String())
	}

	select {
	case s.ch <- item:
		return nil
	case <-s.closed:
		return dicomerrors.NewMediatorChannelClosedError(topic.String())
	case <-ctx.Done():
		return ctx.Err()
	}
}
