package settlement

import (
	"context"
	"log/slog"
	"time"

	"github.com/balcao-pos/api/internal/cashledger"
	"github.com/balcao-pos/api/internal/database"
)

const (
	defaultInterval  = 30 * time.Second
	defaultBatchSize = 50
)

// Reconciler retries settlements whose cash post did not complete: billed
// orders with a pending outbox row. Posting is idempotent per order, so a
// retry racing the original post is harmless.
type Reconciler struct {
	orch     *Orchestrator
	interval time.Duration
	batch    int32
}

func NewReconciler(orch *Orchestrator) *Reconciler {
	return &Reconciler{orch: orch, interval: defaultInterval, batch: defaultBatchSize}
}

// Run processes pending rows on a fixed interval until the context is
// cancelled. Meant to be started as a goroutine next to the HTTP server.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Reconciler) sweep(ctx context.Context) {
	pending, err := r.orch.store.ListPendingOutbox(ctx, r.batch)
	if err != nil {
		slog.Error("outbox sweep failed", "error", err)
		return
	}
	for _, row := range pending {
		if err := r.retry(ctx, row); err != nil {
			slog.Warn("outbox retry failed",
				"order_id", row.OrderID, "attempts", row.Attempts+1, "error", err)
			if err := r.orch.store.BumpOutboxAttempts(ctx, row.OrderID); err != nil {
				slog.Error("bump outbox attempts failed", "order_id", row.OrderID, "error", err)
			}
			continue
		}
		slog.Info("outbox settlement posted", "order_id", row.OrderID)
	}
}

func (r *Reconciler) retry(ctx context.Context, row database.SettlementOutbox) error {
	payments, err := r.orch.store.ListPaymentsByOrder(ctx, row.OrderID)
	if err != nil {
		return err
	}
	return r.orch.post(ctx, row.SessionID, row.OrderID, paymentRowsToLedger(payments), row.Description)
}

func paymentRowsToLedger(rows []database.Payment) []cashledger.Payment {
	out := make([]cashledger.Payment, len(rows))
	for i, p := range rows {
		out[i] = cashledger.Payment{Method: p.Method, Amount: database.NumericToDecimal(p.Amount)}
	}
	return out
}
