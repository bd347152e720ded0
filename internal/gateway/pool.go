// Package gateway ties the credential cache, upstream broker sessions, and
// downstream client sessions together behind a minimal HTTP surface for
// health and metrics.
package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"brokergateway/internal/gwerrors"
	"brokergateway/internal/upstream"
)

// PoolConfig bounds how many upstream sessions one user may hold open at
// once and how the pool reclaims idle or unhealthy ones.
type PoolConfig struct {
	MaxPerUser       int
	IdleTimeout      time.Duration
	HealthInterval   time.Duration
	FailureThreshold int
	CircuitTimeout   time.Duration
}

// DefaultPoolConfig returns sensible defaults; callers normally override
// MaxPerUser from pkg/config.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxPerUser:       5,
		IdleTimeout:      30 * time.Minute,
		HealthInterval:   5 * time.Minute,
		FailureThreshold: 3,
		CircuitTimeout:   5 * time.Minute,
	}
}

type pooledSession struct {
	sess         *upstream.Session
	events       chan upstream.Event
	userID       string
	connectionID string
	createdAt    time.Time
	lastUsed     time.Time
	healthyAt    time.Time
	failures     int
}

// Pool caches upstream.Session instances per downstream connection id,
// capping how many any one user can hold concurrently and evicting the
// least-recently-used one rather than rejecting outright when at the cap.
type Pool struct {
	mu       sync.RWMutex
	sessions map[string]*pooledSession // connectionID -> session
	byUser   map[string][]string       // userID -> connectionIDs, oldest first
	lruOrder []string

	cfg    PoolConfig
	upCfg  upstream.Config

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewPool constructs a Pool. upCfg is forwarded to every upstream.Session
// it dials.
func NewPool(cfg PoolConfig, upCfg upstream.Config) *Pool {
	return &Pool{
		sessions: make(map[string]*pooledSession),
		byUser:   make(map[string][]string),
		cfg:      cfg,
		upCfg:    upCfg,
		stopCh:   make(chan struct{}),
	}
}

// Start launches background idle-cleanup and health-check loops.
func (p *Pool) Start(ctx context.Context) {
	p.wg.Add(2)

	go func() {
		defer p.wg.Done()
		interval := p.cfg.IdleTimeout / 2
		if interval <= 0 {
			interval = 15 * time.Minute
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-p.stopCh:
				return
			case <-ticker.C:
				p.cleanupIdle()
			}
		}
	}()

	go func() {
		defer p.wg.Done()
		interval := p.cfg.HealthInterval
		if interval <= 0 {
			interval = 5 * time.Minute
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-p.stopCh:
				return
			case <-ticker.C:
				p.healthCheckAll()
			}
		}
	}()
}

// Stop drains every cached session, disconnecting its upstream connection.
func (p *Pool) Stop() {
	close(p.stopCh)
	p.wg.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	for id, ps := range p.sessions {
		ps.sess.Disconnect()
		close(ps.events)
		delete(p.sessions, id)
	}
	p.byUser = make(map[string][]string)
	p.lruOrder = nil
}

// Acquire returns the cached session for connectionID, or dials and
// authenticates a new one. At the per-user cap, the user's
// least-recently-used session is evicted to make room.
func (p *Pool) Acquire(ctx context.Context, userID, connectionID string, id upstream.Identity) (*upstream.Session, <-chan upstream.Event, error) {
	p.mu.RLock()
	if ps, ok := p.sessions[connectionID]; ok {
		if ps.userID != userID {
			p.mu.RUnlock()
			return nil, nil, gwerrors.ErrSessionNotFound
		}
		if ps.failures >= p.cfg.FailureThreshold && time.Since(ps.healthyAt) < p.cfg.CircuitTimeout {
			p.mu.RUnlock()
			return nil, nil, fmt.Errorf("upstream session circuit open: %w", gwerrors.ErrUpstreamNotBound)
		}
		p.mu.RUnlock()
		p.touchLRU(connectionID)
		return ps.sess, ps.events, nil
	}
	p.mu.RUnlock()

	return p.create(ctx, userID, connectionID, id)
}

func (p *Pool) create(ctx context.Context, userID, connectionID string, id upstream.Identity) (*upstream.Session, <-chan upstream.Event, error) {
	p.mu.Lock()
	if ps, ok := p.sessions[connectionID]; ok {
		p.mu.Unlock()
		p.touchLRU(connectionID)
		return ps.sess, ps.events, nil
	}

	if len(p.byUser[userID]) >= p.cfg.MaxPerUser {
		if !p.evictOldestForUserLocked(userID) {
			p.mu.Unlock()
			return nil, nil, gwerrors.ErrConnectionCapped
		}
	}
	p.mu.Unlock()

	events := make(chan upstream.Event, 64)
	sess := upstream.NewSession(p.upCfg, events)
	if err := sess.Connect(ctx, id); err != nil {
		close(events)
		return nil, nil, fmt.Errorf("connect upstream: %w", err)
	}

	now := time.Now()
	ps := &pooledSession{
		sess:         sess,
		events:       events,
		userID:       userID,
		connectionID: connectionID,
		createdAt:    now,
		lastUsed:     now,
		healthyAt:    now,
	}

	p.mu.Lock()
	p.sessions[connectionID] = ps
	p.byUser[userID] = append(p.byUser[userID], connectionID)
	p.lruOrder = append(p.lruOrder, connectionID)
	p.mu.Unlock()

	return sess, events, nil
}

// Release disconnects and evicts the session for connectionID, if any.
func (p *Pool) Release(connectionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removeLocked(connectionID)
}

// RecordFailure increments the failure counter that drives the circuit
// breaker for one session.
func (p *Pool) RecordFailure(connectionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ps, ok := p.sessions[connectionID]; ok {
		ps.failures++
	}
}

// RecordSuccess clears the failure counter for one session.
func (p *Pool) RecordSuccess(connectionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ps, ok := p.sessions[connectionID]; ok {
		ps.failures = 0
		ps.healthyAt = time.Now()
	}
}

// Stats reports current pool occupancy, for the metrics endpoint.
type Stats struct {
	TotalSessions int
	ByUser        map[string]int
	UnhealthyCount int
}

func (p *Pool) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	stats := Stats{TotalSessions: len(p.sessions), ByUser: make(map[string]int)}
	for userID, ids := range p.byUser {
		stats.ByUser[userID] = len(ids)
	}
	for _, ps := range p.sessions {
		if ps.failures >= p.cfg.FailureThreshold {
			stats.UnhealthyCount++
		}
	}
	return stats
}

func (p *Pool) touchLRU(connectionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ps, ok := p.sessions[connectionID]; ok {
		ps.lastUsed = time.Now()
	}
	for i, id := range p.lruOrder {
		if id == connectionID {
			p.lruOrder = append(p.lruOrder[:i], p.lruOrder[i+1:]...)
			p.lruOrder = append(p.lruOrder, connectionID)
			break
		}
	}
}

// removeLocked disconnects and forgets connectionID. Caller holds p.mu.
func (p *Pool) removeLocked(connectionID string) {
	ps, ok := p.sessions[connectionID]
	if !ok {
		return
	}
	ps.sess.Disconnect()
	close(ps.events)
	delete(p.sessions, connectionID)

	ids := p.byUser[ps.userID]
	for i, id := range ids {
		if id == connectionID {
			p.byUser[ps.userID] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(p.byUser[ps.userID]) == 0 {
		delete(p.byUser, ps.userID)
	}

	for i, id := range p.lruOrder {
		if id == connectionID {
			p.lruOrder = append(p.lruOrder[:i], p.lruOrder[i+1:]...)
			break
		}
	}
}

// evictOldestForUserLocked evicts the least-recently-used session
// belonging to userID. Caller holds p.mu.
func (p *Pool) evictOldestForUserLocked(userID string) bool {
	for _, id := range p.lruOrder {
		if ps, ok := p.sessions[id]; ok && ps.userID == userID {
			p.removeLocked(id)
			return true
		}
	}
	return false
}

func (p *Pool) cleanupIdle() {
	p.mu.Lock()
	var toRemove []string
	now := time.Now()
	for id, ps := range p.sessions {
		if now.Sub(ps.lastUsed) > p.cfg.IdleTimeout {
			toRemove = append(toRemove, id)
		}
	}
	for _, id := range toRemove {
		p.removeLocked(id)
	}
	p.mu.Unlock()
}

func (p *Pool) healthCheckAll() {
	p.mu.RLock()
	ids := make([]string, 0, len(p.sessions))
	for id := range p.sessions {
		ids = append(ids, id)
	}
	p.mu.RUnlock()

	for _, id := range ids {
		p.mu.RLock()
		ps, ok := p.sessions[id]
		p.mu.RUnlock()
		if !ok {
			continue
		}
		if ps.sess.IsAuthenticated() {
			p.RecordSuccess(id)
		} else {
			p.RecordFailure(id)
		}
	}
}
