// Package memory holds process-local ledger and session stores, used when no
// Postgres URL is configured and in tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/dmehra2102/payment-aggregator/internal/payment/domain"
)

type Ledger struct {
	mu       sync.RWMutex
	payments map[string]domain.PaymentResponse
	sessions map[string]domain.SessionEntry
}

func NewLedger() *Ledger {
	return &Ledger{
		payments: make(map[string]domain.PaymentResponse),
		sessions: make(map[string]domain.SessionEntry),
	}
}

func (l *Ledger) FindByID(_ context.Context, id string) (domain.PaymentResponse, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.payments[id]
	if !ok {
		return domain.PaymentResponse{}, domain.ErrNotFound
	}
	return p.Clone(), nil
}

func (l *Ledger) FindAll(_ context.Context) ([]domain.PaymentResponse, error) {
	l.mu.RLock()
	out := make([]domain.PaymentResponse, 0, len(l.payments))
	for _, p := range l.payments {
		out = append(out, p.Clone())
	}
	l.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Upsert inserts a new record or overwrites a pending one. Terminal records
// are frozen.
func (l *Ledger) Upsert(_ context.Context, p domain.PaymentResponse) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if prev, ok := l.payments[p.ID]; ok && prev.IsTerminal() {
		return nil
	}
	l.payments[p.ID] = p.Clone()
	return nil
}

func (l *Ledger) FindSession(_ context.Context, paymentID string) (domain.SessionEntry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.sessions[paymentID]
	if !ok {
		return domain.SessionEntry{}, domain.ErrNotFound
	}
	return e, nil
}

func (l *Ledger) UpsertSession(_ context.Context, e domain.SessionEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if prev, ok := l.sessions[e.PaymentID]; ok && !prev.CreatedAt.IsZero() {
		e.CreatedAt = prev.CreatedAt
	}
	l.sessions[e.PaymentID] = e
	return nil
}
