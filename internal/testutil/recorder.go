package testutil

import (
	"context"
	"sync"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
)

// Recorder captures dispatched events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []domain.TransactionEvent
	audits []domain.AuditRecord
}

func (r *Recorder) Dispatch(_ context.Context, evts []domain.TransactionEvent, rec *domain.AuditRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evts...)
	if rec != nil {
		r.audits = append(r.audits, *rec)
	}
}

func (r *Recorder) Events() []domain.TransactionEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.TransactionEvent(nil), r.events...)
}

func (r *Recorder) Audits() []domain.AuditRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.AuditRecord(nil), r.audits...)
}

// LastAudit returns the most recent audit record, or nil.
func (r *Recorder) LastAudit() *domain.AuditRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.audits) == 0 {
		return nil
	}
	a := r.audits[len(r.audits)-1]
	return &a
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
	r.audits = nil
}
