package metrics

import (
	"context"
	"log"
	"time"
)

// StatusCounter is the slice of a repository the gauge collector needs.
type StatusCounter interface {
	CountByStatus(ctx context.Context) (map[string]int64, error)
}

// StartDBCollectors polls the payment and outbox repositories and exports the
// per-status row counts as gauges.
func StartDBCollectors(ctx context.Context, payments, outbox StatusCounter, interval time.Duration, logger *log.Logger) {
	if payments == nil && outbox == nil {
		return
	}
	if logger == nil {
		logger = log.Default()
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}

	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()

		updateDBGauges(ctx, payments, outbox, logger)
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				updateDBGauges(ctx, payments, outbox, logger)
			}
		}
	}()
}

func updateDBGauges(ctx context.Context, payments, outbox StatusCounter, logger *log.Logger) {
	if payments != nil {
		counts, err := payments.CountByStatus(ctx)
		if err != nil {
			logger.Printf("metrics payment counts: %v", err)
		} else {
			for status, cnt := range counts {
				SetPaymentStatusCount(status, cnt)
			}
		}
	}

	if outbox != nil {
		counts, err := outbox.CountByStatus(ctx)
		if err != nil {
			logger.Printf("metrics outbox counts: %v", err)
			return
		}
		var pending int64
		for status, cnt := range counts {
			SetOutboxStatusCount(status, cnt)
			if status == "pending" {
				pending = cnt
			}
		}
		SetOutboxPendingCount(pending)
	}
}
