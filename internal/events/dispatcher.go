package events

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
	"github.com/josh-kwaku/wallet-ledger/internal/logging"
)

type TransactionSink interface {
	PublishTransactions(ctx context.Context, evts []domain.TransactionEvent) error
}

type AuditPublisher interface {
	PublishAudit(ctx context.Context, rec domain.AuditRecord) error
}

// Dispatcher fans events out to every configured sink. It runs after the
// ledger has committed and never reports failure to the caller.
type Dispatcher struct {
	sinks   []TransactionSink
	audit   []AuditPublisher
	timeout time.Duration
}

func NewDispatcher(timeout time.Duration) *Dispatcher {
	return &Dispatcher{timeout: timeout}
}

func (d *Dispatcher) AddTransactionSink(s TransactionSink) *Dispatcher {
	d.sinks = append(d.sinks, s)
	return d
}

func (d *Dispatcher) AddAuditPublisher(p AuditPublisher) *Dispatcher {
	d.audit = append(d.audit, p)
	return d
}

// Dispatch delivers evts and rec concurrently under a context detached from
// ctx's cancellation and bounded by the dispatcher timeout.
func (d *Dispatcher) Dispatch(ctx context.Context, evts []domain.TransactionEvent, rec *domain.AuditRecord) {
	if d == nil {
		return
	}
	log := logging.FromContext(ctx)

	ctx = context.WithoutCancel(ctx)
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	var g errgroup.Group
	if len(evts) > 0 {
		for _, s := range d.sinks {
			g.Go(func() error {
				if err := s.PublishTransactions(ctx, evts); err != nil {
					log.Warn("transaction event publish failed", "events", len(evts), "error", err)
				}
				return nil
			})
		}
	}
	if rec != nil {
		for _, p := range d.audit {
			g.Go(func() error {
				if err := p.PublishAudit(ctx, *rec); err != nil {
					log.Warn("audit publish failed", "action", rec.Action, "error", err)
				}
				return nil
			})
		}
	}
	_ = g.Wait()
}
