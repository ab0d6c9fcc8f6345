package inventory

import "context"

// StockListener receives stock change notifications, e.g. to invalidate caches.
type StockListener interface {
	HandleStockChanged(ctx context.Context, evt StockChangedEvent) error
}

// WarningRecorder counts non-fatal ledger warnings.
type WarningRecorder interface {
	RecordUnderAllocation(source string, count int)
}
