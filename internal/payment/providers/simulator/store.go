package simulator

import (
	"sync"

	"github.com/dmehra2102/payment-aggregator/internal/payment/domain"
)

type store struct {
	mu       sync.RWMutex
	payments map[string]*domain.PaymentResponse
}

func newStore() *store {
	return &store{payments: make(map[string]*domain.PaymentResponse)}
}

func (s *store) put(p domain.PaymentResponse) {
	c := p.Clone()
	s.mu.Lock()
	s.payments[p.ID] = &c
	s.mu.Unlock()
}

func (s *store) get(id string) (domain.PaymentResponse, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.payments[id]
	if !ok {
		return domain.PaymentResponse{}, false
	}
	return p.Clone(), true
}

func (s *store) update(id string, fn func(p *domain.PaymentResponse)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok {
		return false
	}
	fn(p)
	return true
}
