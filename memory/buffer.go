package memory

import (
	"context"
	"sync"
	"time"

	"github.com/bigf625oot/Tiga-sub000/rag"
)

// Buffer keeps chat messages per session in process memory. A positive
// window caps how many messages each session retains.
type Buffer struct {
	mu       sync.RWMutex
	sessions map[string][]*rag.ChatMessage
	window   int
}

var _ rag.MessageStore = (*Buffer)(nil)

func NewBufferMemory() *Buffer {
	return &Buffer{sessions: make(map[string][]*rag.ChatMessage)}
}

func NewBufferWindowMemory(window int) *Buffer {
	b := NewBufferMemory()
	b.window = window
	return b
}

func (c *Buffer) Append(ctx context.Context, msg *rag.ChatMessage) error {
	m := *msg
	if m.CreatedAt == 0 {
		m.CreatedAt = time.Now().Unix()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	msgs := append(c.sessions[m.SessionId], &m)
	if c.window > 0 && len(msgs) > c.window {
		msgs = msgs[len(msgs)-c.window:]
	}
	c.sessions[m.SessionId] = msgs
	return nil
}

// History returns up to limit most recent messages, oldest first.
func (c *Buffer) History(ctx context.Context, sessionId string, limit int) ([]*rag.ChatMessage, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	msgs := c.sessions[sessionId]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]*rag.ChatMessage, len(msgs))
	for i, m := range msgs {
		cp := *m
		out[i] = &cp
	}
	return out, nil
}

func (c *Buffer) Clear(ctx context.Context, sessionId string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, sessionId)
	return nil
}
