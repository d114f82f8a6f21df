package mq

import (
	"context"
	"strconv"
	"sync"
)

// MemoryBroker is an in-process Producer and Consumer for development and tests.
// Messages published before a subscriber exists are dropped.
type MemoryBroker struct {
	mu   sync.RWMutex
	subs map[string][]chan *Message
	seq  int64
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{subs: make(map[string][]chan *Message)}
}

func (b *MemoryBroker) Publish(ctx context.Context, topic string, key string, payload []byte) error {
	b.mu.Lock()
	b.seq++
	id := strconv.FormatInt(b.seq, 10)
	subs := append([]chan *Message(nil), b.subs[topic]...)
	b.mu.Unlock()

	for _, ch := range subs {
		msg := &Message{ID: id, Topic: topic, Key: key, Payload: append([]byte(nil), payload...)}
		select {
		case ch <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (b *MemoryBroker) Subscribe(ctx context.Context, topic string, handler func(msg *Message) error) error {
	ch := make(chan *Message, 64)
	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], ch)
	b.mu.Unlock()

	defer b.unsubscribe(topic, ch)
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-ch:
			_ = handler(msg)
		}
	}
}

// Subscribers reports the number of live subscriptions on topic.
func (b *MemoryBroker) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}

func (b *MemoryBroker) unsubscribe(topic string, ch chan *Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.subs[topic]
	for i, c := range list {
		if c == ch {
			b.subs[topic] = append(list[:i], list[i+1:]...)
			break
		}
	}
}

func (b *MemoryBroker) Close() error {
	return nil
}
