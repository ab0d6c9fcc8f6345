package inventory

import "time"

// StockChangedEvent is emitted after a committed change to product stock.
type StockChangedEvent struct {
	Source     string
	ProductIDs []int64
	At         time.Time
}
