package engine

import "fenrir/internal/common"

// OrderBookIterator walks every resting order in a book in a fixed,
// implementation-defined order: sells ascending (best ask first, i.e. the
// order the book would fill first against an incoming buy), then buys
// descending (best bid first). Within a level, orders are visited in FIFO
// (price-time) order.
type OrderBookIterator struct {
	levels []*PriceLevel
	li     int
	oi     int
}

func newOrderBookIterator(book *OrderBook) *OrderBookIterator {
	var levels []*PriceLevel
	book.Asks.Scan(func(lvl *PriceLevel) bool {
		levels = append(levels, lvl)
		return true
	})
	book.Bids.Reverse(func(lvl *PriceLevel) bool {
		levels = append(levels, lvl)
		return true
	})
	return &OrderBookIterator{levels: levels}
}

// Next advances the iterator and returns the next resting order, or nil
// once every level has been exhausted.
func (it *OrderBookIterator) Next() *common.Order {
	for it.li < len(it.levels) {
		lvl := it.levels[it.li]
		if it.oi < len(lvl.Orders) {
			o := lvl.Orders[it.oi]
			it.oi++
			return o
		}
		it.li++
		it.oi = 0
	}
	return nil
}
