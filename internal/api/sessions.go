package api

import (
	"sync"

	"github.com/zkgate/zkgate-core/internal/zk"
)

// SessionPool holds one session per terminal address. Sessions are
// created lazily on first use and live until Remove or CloseAll; the
// session itself serialises device access, so the pool only guards the
// map.
type SessionPool struct {
	mu       sync.Mutex
	sessions map[string]*zk.Session
	factory  SessionFactory
}

// NewSessionPool creates an empty pool.
func NewSessionPool(factory SessionFactory) *SessionPool {
	return &SessionPool{
		sessions: make(map[string]*zk.Session),
		factory:  factory,
	}
}

// GetOrCreate returns the session for addr, creating it if needed.
func (p *SessionPool) GetOrCreate(addr zk.DeviceAddress) *zk.Session {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := addr.String()
	if sess, ok := p.sessions[key]; ok {
		return sess
	}
	sess := p.factory(addr)
	p.sessions[key] = sess
	return sess
}

// Get returns the session for addr if one exists.
func (p *SessionPool) Get(addr zk.DeviceAddress) (*zk.Session, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	sess, ok := p.sessions[addr.String()]
	return sess, ok
}

// Remove closes and discards the session for addr. No-op if absent.
func (p *SessionPool) Remove(addr zk.DeviceAddress) {
	p.mu.Lock()
	sess, ok := p.sessions[addr.String()]
	delete(p.sessions, addr.String())
	p.mu.Unlock()

	if ok {
		sess.Close()
	}
}

// Addresses returns the addresses of currently connected sessions.
func (p *SessionPool) Addresses() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]string, 0, len(p.sessions))
	for key, sess := range p.sessions {
		if sess.IsConnected() {
			out = append(out, key)
		}
	}
	return out
}

// CloseAll disconnects every pooled session.
func (p *SessionPool) CloseAll() {
	p.mu.Lock()
	sessions := make([]*zk.Session, 0, len(p.sessions))
	for _, sess := range p.sessions {
		sessions = append(sessions, sess)
	}
	p.sessions = make(map[string]*zk.Session)
	p.mu.Unlock()

	for _, sess := range sessions {
		sess.Close()
	}
}
