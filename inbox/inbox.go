// Package inbox suspends a conversation until its participant writes the
// next message, or until a deadline passes.
//
// The router delivers every direct message it sees; a message is only
// kept if a Box is open for its (author, channel) pair.
package inbox

import (
	"context"
	"errors"
	"sync"
	"time"

	"gatekeeper/clock"
)

var (
	ErrTimeout = errors.New("inbox: wait expired")
	ErrBusy    = errors.New("inbox: conversation already awaited")
	ErrClosed  = errors.New("inbox: box closed")
)

const boxCapacity = 8

type Message struct {
	AuthorID   string
	ChannelID  string
	Content    string
	ReceivedAt time.Time
}

type key struct {
	author  string
	channel string
}

type Inbox struct {
	clock clock.Clock

	mu    sync.Mutex
	boxes map[key]*Box
}

func New(clk clock.Clock) *Inbox {
	return &Inbox{clock: clk, boxes: make(map[key]*Box)}
}

// Open registers a box for messages written by authorID in channelID.
func (in *Inbox) Open(authorID, channelID string) (*Box, error) {
	k := key{author: authorID, channel: channelID}

	in.mu.Lock()
	defer in.mu.Unlock()
	if _, ok := in.boxes[k]; ok {
		return nil, ErrBusy
	}
	b := &Box{
		inbox:    in,
		key:      k,
		messages: make(chan Message, boxCapacity),
		done:     make(chan struct{}),
	}
	in.boxes[k] = b
	return b, nil
}

// Deliver hands a message to the box waiting on it. It reports false when
// nobody is waiting or the box is full.
func (in *Inbox) Deliver(authorID, channelID, content string) bool {
	msg := Message{
		AuthorID:   authorID,
		ChannelID:  channelID,
		Content:    content,
		ReceivedAt: in.clock.Now(),
	}

	in.mu.Lock()
	defer in.mu.Unlock()
	b, ok := in.boxes[key{author: authorID, channel: channelID}]
	if !ok {
		return false
	}
	select {
	case b.messages <- msg:
		return true
	default:
		return false
	}
}

// Waiting reports whether a box is open for the pair.
func (in *Inbox) Waiting(authorID, channelID string) bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	_, ok := in.boxes[key{author: authorID, channel: channelID}]
	return ok
}

type Box struct {
	inbox    *Inbox
	key      key
	messages chan Message
	done     chan struct{}
	once     sync.Once
}

// Next waits for the next message, at most timeout from now.
//
// When the deadline and a message race, the message wins only if it was
// received at or before the deadline.
func (b *Box) Next(ctx context.Context, timeout time.Duration) (Message, error) {
	deadline := b.inbox.clock.Now().Add(timeout)
	expired := make(chan struct{})
	timer := b.inbox.clock.AfterFunc(timeout, func() { close(expired) })
	defer timer.Stop()

	select {
	case msg := <-b.messages:
		return msg, nil
	case <-expired:
		select {
		case msg := <-b.messages:
			if !msg.ReceivedAt.After(deadline) {
				return msg, nil
			}
		default:
		}
		return Message{}, ErrTimeout
	case <-b.done:
		return Message{}, ErrClosed
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

// Close unregisters the box. Messages delivered afterwards are dropped.
func (b *Box) Close() {
	b.once.Do(func() {
		b.inbox.mu.Lock()
		if b.inbox.boxes[b.key] == b {
			delete(b.inbox.boxes, b.key)
		}
		b.inbox.mu.Unlock()
		close(b.done)
	})
}
