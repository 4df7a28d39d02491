package cache

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/thegunfirm/Mag-Lock-sub003/internal/domain/fulfillment"
)

type claim struct {
	token     string
	expiresAt time.Time
}

// InMemoryClaimStore implements fulfillment.ClaimStore with a map.
// Claims are only exclusive within one process.
type InMemoryClaimStore struct {
	mu        sync.Mutex
	claims    map[string]claim
	now       func() time.Time
	stopChan  chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewInMemoryClaimStore creates a store and starts its expiry sweeper
func NewInMemoryClaimStore() *InMemoryClaimStore {
	s := &InMemoryClaimStore{
		claims:   make(map[string]claim),
		now:      time.Now,
		stopChan: make(chan struct{}),
	}
	s.wg.Add(1)
	go s.cleanupLoop()
	return s
}

// Claim takes key for ttl unless a live claim exists
func (s *InMemoryClaimStore) Claim(_ context.Context, key string, ttl time.Duration) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if c, exists := s.claims[key]; exists && now.Before(c.expiresAt) {
		return "", false, nil
	}
	token := uuid.NewString()
	s.claims[key] = claim{token: token, expiresAt: now.Add(ttl)}
	return token, true, nil
}

// Release frees key if token still owns it
func (s *InMemoryClaimStore) Release(_ context.Context, key, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, exists := s.claims[key]; exists && c.token == token {
		delete(s.claims, key)
	}
	return nil
}

// Close stops the sweeper. Safe to call multiple times.
func (s *InMemoryClaimStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopChan)
		s.wg.Wait()
	})
	return nil
}

func (s *InMemoryClaimStore) cleanupLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

func (s *InMemoryClaimStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for key, c := range s.claims {
		if !now.Before(c.expiresAt) {
			delete(s.claims, key)
		}
	}
}

// Size returns the number of claims held, expired ones included until swept
func (s *InMemoryClaimStore) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.claims)
}

var _ fulfillment.ClaimStore = (*InMemoryClaimStore)(nil)
