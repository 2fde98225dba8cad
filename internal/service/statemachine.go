package service

import "payment_processing/internal/models"

// Pure transition logic for the payment lifecycle:
//
//	Pending -> Processing -> {Processed | Failed}
//	Processed -> Refunded
//
// Failed and Refunded are terminal. These functions depend on nothing but the
// status strings, so handlers stay the only place that touches store or bus.

// processNextStatus maps the gateway outcome for a fresh payment.
func processNextStatus(gatewaySuccess bool) string {
	if gatewaySuccess {
		return models.StatusProcessed
	}
	return models.StatusFailed
}

// replaySuccess reconstructs the outcome of the original process command from
// the stored status, so a duplicate delivery re-announces what actually
// happened rather than a blanket success.
func replaySuccess(status string) bool {
	return status != models.StatusFailed
}

// compensateNext returns the status a compensation command moves the payment
// to, and whether the row changes at all. Only a processed payment has
// anything to undo; every other state compensates as a no-op so the saga's
// rollback path is never blocked.
func compensateNext(current string) (next string, changed bool) {
	if current == models.StatusProcessed {
		return models.StatusRefunded, true
	}
	return current, false
}
