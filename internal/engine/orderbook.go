package engine

import (
	"math"

	"github.com/tidwall/btree"

	"fenrir/internal/common"
)

// PriceLevels keeps a side's active levels in one sorted structure:
// tidwall/btree gives O(log n) lookup by price and an ordered traversal,
// so no separate price vector and price->level map are needed.
type PriceLevels = btree.BTreeG[*PriceLevel]

// OrderBook matches one instrument on one venue. Both sides are kept
// sorted ascending by price; the bid side's best is its maximum, the ask
// side's best is its minimum.
type OrderBook struct {
	Instrument common.Instrument
	Exchange   common.ExchangeType

	Bids *PriceLevels
	Asks *PriceLevels

	collector *Collector
	clock     Clock
}

func NewOrderBook(instrument common.Instrument, exchange common.ExchangeType, clock Clock) *OrderBook {
	if clock == nil {
		clock = SystemClock{}
	}
	less := func(a, b *PriceLevel) bool { return a.Price < b.Price }
	return &OrderBook{
		Instrument: instrument,
		Exchange:   exchange,
		Bids:       btree.NewBTreeG(less),
		Asks:       btree.NewBTreeG(less),
		collector:  NewCollector(nil),
		clock:      clock,
	}
}

func (book *OrderBook) SetSink(sink common.Sink) {
	book.collector.SetSink(sink)
}

func (book *OrderBook) sides(side common.Side) (own, opposite *PriceLevels) {
	if side == common.Buy {
		return book.Bids, book.Asks
	}
	return book.Asks, book.Bids
}

// effectivePrice is the price used to test whether order crosses the book.
// A NONE-flagged market order has no protective limit, so it's treated as
// willing to trade at any price: +inf for a buy, -inf for a sell.
func effectivePrice(order *common.Order) float64 {
	if order.OrderType == common.MarketOrder && order.Flag == common.NoFlag {
		if order.Side == common.Buy {
			return math.Inf(1)
		}
		return math.Inf(-1)
	}
	return order.Price
}

func crosses(side common.Side, orderPrice, levelPrice float64) bool {
	if side == common.Buy {
		return orderPrice >= levelPrice
	}
	return orderPrice <= levelPrice
}

// topLevel returns the best level on tree, skipping the first `skip`
// entries from the best end. skip is the number of levels the current
// sweep has already exhausted but not yet physically removed — the sorted
// sequence can't be mutated mid-sweep without losing the ability to revert
// a rejected AON/FOK taker.
func topLevel(tree *PriceLevels, bestIsMax bool, skip int) (*PriceLevel, bool) {
	var result *PriceLevel
	found := false
	seen := 0
	visit := func(item *PriceLevel) bool {
		if seen == skip {
			result, found = item, true
			return false
		}
		seen++
		return true
	}
	if bestIsMax {
		tree.Reverse(visit)
	} else {
		tree.Scan(visit)
	}
	return result, found
}

// Add submits a new order. It crosses the opposite side first, then —
// depending on remaining volume and the order's flag — either commits
// (publishing events and resting any residual) or reverts (atomically
// cancelling the taker with no visible partial effect).
func (book *OrderBook) Add(order *common.Order) error {
	defer book.collector.Clear()

	if order.OrderType == common.StopOrder {
		level := book.levelHolding(order.StopTargetID)
		if level == nil {
			return common.ErrInvalidStopTarget
		}
		level.StopOrders = append(level.StopOrders, order)
		return nil
	}

	originalFilled := order.Filled
	own, opposite := book.sides(order.Side)
	orderPrice := effectivePrice(order)
	bestIsMax := order.Side == common.Sell // opposite of a buy is asks (best=min); opposite of a sell is bids (best=max)

	var secondaries []*common.Order

	top, ok := topLevel(opposite, bestIsMax, book.collector.ClearedCount())
	for ok && crosses(order.Side, orderPrice, top.Price) {
		residual, err := top.Cross(order, &secondaries)
		if err != nil {
			return err
		}
		if residual != nil {
			book.collector.ClearLevel(top)
			top, ok = topLevel(opposite, bestIsMax, book.collector.ClearedCount())
			continue
		}
		if top.Size() == 0 {
			book.collector.ClearLevel(top)
		}
		break
	}

	if order.Filled < order.Volume {
		return book.handleResidual(order, own, opposite, secondaries, originalFilled)
	}

	book.pruneCleared(opposite)
	book.collector.Commit()
	book.triggerSecondaries(order, secondaries)
	return nil
}

func (book *OrderBook) handleResidual(order *common.Order, own, opposite *PriceLevels, secondaries []*common.Order, originalFilled float64) error {
	if order.OrderType == common.MarketOrder {
		if order.Flag == common.FillOrKill || order.Flag == common.AllOrNone {
			book.collector.Revert()
			order.Filled = originalFilled
			book.collector.PushCancel(order)
			book.collector.Commit()
			return nil
		}
		if order.Filled > 0 {
			if err := book.collector.PushTrade(order); err != nil {
				return err
			}
		}
		book.pruneCleared(opposite)
		book.collector.PushCancel(order)
		book.collector.Commit()
		book.triggerSecondaries(order, secondaries)
		return nil
	}

	// Limit orders. A flagged taker that actually touched the book and came
	// back partial is killed outright — FOK/AON revert the partial cross,
	// IOC keeps it but cancels the remainder. One that never crossed at all
	// (filled == 0, e.g. submitted to an empty or non-crossing book) rests
	// as a live flagged maker under every flag, same as NoFlag: the maker
	// side of Cross already refuses to partial-fill a resting FOK/AON order,
	// so parking one here is exactly where its contingency gets enforced.
	switch order.Flag {
	case common.FillOrKill, common.AllOrNone:
		if order.Filled > 0 {
			book.collector.Revert()
			order.Filled = originalFilled
			book.collector.PushCancel(order)
			book.collector.Commit()
			return nil
		}
		// Zero fill can still have emptied opposite levels: a sweep that
		// only cancelled flagged makers clears their level without filling
		// the taker.
		book.pruneCleared(opposite)
		book.restInOwnSide(order, own)
		book.collector.Commit()
		book.triggerSecondaries(order, secondaries)
		return nil

	case common.ImmediateOrCancel:
		if order.Filled > 0 {
			if err := book.collector.PushTrade(order); err != nil {
				return err
			}
			book.pruneCleared(opposite)
			book.collector.PushCancel(order)
			book.collector.Commit()
			book.triggerSecondaries(order, secondaries)
			return nil
		}
		book.pruneCleared(opposite)
		book.restInOwnSide(order, own)
		book.collector.Commit()
		book.triggerSecondaries(order, secondaries)
		return nil

	default: // NoFlag
		if order.Filled > 0 {
			if err := book.collector.PushTrade(order); err != nil {
				return err
			}
		}
		book.pruneCleared(opposite)
		book.restInOwnSide(order, own)
		book.collector.Commit()
		book.triggerSecondaries(order, secondaries)
		return nil
	}
}

// restInOwnSide inserts order's residual into its own side, creating the
// level if this is the first order resting at that price. This stages an
// OPEN event so it's flushed in the same commit as any fills that preceded
// it in this transaction.
func (book *OrderBook) restInOwnSide(order *common.Order, levels *PriceLevels) {
	level, ok := levels.Get(&PriceLevel{Price: order.Price})
	if !ok {
		level = NewPriceLevel(order.Price, order.Side, book.collector)
		levels.Set(level)
	}
	level.Add(order)
}

// pruneCleared physically removes every level the collector marked
// exhausted during this transaction. Only ever called on a path that is
// about to commit — a reverted transaction must never lose a level that
// might be restored to non-empty by PriceLevel.revert.
func (book *OrderBook) pruneCleared(levels *PriceLevels) {
	for _, lvl := range book.collector.ClearedLevels() {
		levels.Delete(lvl)
	}
}

// triggerSecondaries re-enters every stop order a trade just triggered, as
// a market order timestamped to the triggering order's own timestamp.
// Triggering converts STOP into MARKET; the original trigger price
// survives as the protective limit for a flagged stop, and is ignored
// (treated as +/-inf) for a plain one.
func (book *OrderBook) triggerSecondaries(trigger *common.Order, secondaries []*common.Order) {
	for _, stop := range secondaries {
		triggered := *stop
		triggered.OrderType = common.MarketOrder
		triggered.Timestamp = trigger.Timestamp
		book.Add(&triggered)
	}
}

// levelHolding scans both sides for the resting order with the given id and
// returns the PriceLevel that holds it, or nil if no order has that id. Used
// to attach a stop order to its target's actual level rather than wherever
// the stop's own trigger price would first cross.
func (book *OrderBook) levelHolding(id string) *PriceLevel {
	for _, levels := range [2]*PriceLevels{book.Bids, book.Asks} {
		var found *PriceLevel
		levels.Scan(func(lvl *PriceLevel) bool {
			if lvl.indexOf(id) >= 0 {
				found = lvl
				return false
			}
			return true
		})
		if found != nil {
			return found
		}
	}
	return nil
}

// Cancel removes a resting order from the book. Cancelling an order that
// already filled is a no-op: it emits nothing and raises nothing. So is
// re-cancelling an already cancelled order while its price level still
// exists. Cancelling at a price where no level exists at all is out of
// sync with the book and raises ErrOutOfSync; this includes re-cancelling
// an order whose level was removed when it emptied, which is not told
// apart from an unknown order.
func (book *OrderBook) Cancel(order *common.Order) error {
	defer book.collector.Clear()

	if order.Terminal() {
		return nil
	}
	if order.OrderType == common.StopOrder {
		return book.cancelStop(order)
	}
	levels, _ := book.sides(order.Side)
	level, ok := levels.Get(&PriceLevel{Price: order.Price})
	if !ok {
		return common.ErrOutOfSync
	}
	if level.Find(order) == nil {
		return nil
	}
	if _, err := level.Remove(order); err != nil {
		return err
	}
	if level.Size() == 0 && len(level.StopOrders) == 0 {
		levels.Delete(level)
	}
	book.collector.Commit()
	return nil
}

// cancelStop removes a dormant stop order from whichever level's stop list
// holds it. A stop's resting price is its target's, not its own trigger
// price, so the lookup scans both sides rather than keying off (side,
// price). A stop found nowhere has already triggered (and run its course as
// a market order) or was already cancelled; either way it is terminal from
// the book's point of view and the re-cancel is a no-op.
func (book *OrderBook) cancelStop(order *common.Order) error {
	for _, levels := range [2]*PriceLevels{book.Bids, book.Asks} {
		var found *PriceLevel
		levels.Scan(func(lvl *PriceLevel) bool {
			for _, s := range lvl.StopOrders {
				if s.ID == order.ID {
					found = lvl
					return false
				}
			}
			return true
		})
		if found == nil {
			continue
		}
		found.RemoveStop(order.ID)
		if found.Size() == 0 && len(found.StopOrders) == 0 {
			levels.Delete(found)
		}
		book.collector.Commit()
		return nil
	}
	return nil
}

// Change cancels the resting order and re-adds it as a new order, per the
// modify-as-cancel-and-replace contract PriceLevel implements. The CANCEL
// the removal emits and the OPEN the re-add emits land in the same commit.
func (book *OrderBook) Change(order *common.Order) error {
	defer book.collector.Clear()

	levels, _ := book.sides(order.Side)
	level, ok := levels.Get(&PriceLevel{Price: order.Price})
	if !ok {
		return common.ErrOutOfSync
	}
	if _, err := level.Modify(order); err != nil {
		return err
	}
	if level.Size() == 0 && len(level.StopOrders) == 0 {
		levels.Delete(level)
	}
	book.restInOwnSide(order, levels)
	book.collector.Commit()
	return nil
}

// TopOfBook returns [bidPrice, bidVolume, askPrice, askVolume]. An empty
// bid side reports (0, 0); an empty ask side reports (+Inf, 0), matching
// a resting order that would never cross.
func (book *OrderBook) TopOfBook() (bidPrice, bidVolume, askPrice, askVolume float64) {
	askPrice = math.Inf(1)
	if lvl, ok := book.Bids.Max(); ok {
		bidPrice, bidVolume = lvl.Price, lvl.Volume()
	}
	if lvl, ok := book.Asks.Min(); ok {
		askPrice, askVolume = lvl.Price, lvl.Volume()
	}
	return
}

// Spread returns bestAsk - bestBid. Only meaningful when both sides are
// non-empty; an empty side yields +Inf - 0 or similar, so callers that care
// should inspect TopOfBook directly first.
func (book *OrderBook) Spread() float64 {
	bidPrice, _, askPrice, _ := book.TopOfBook()
	return askPrice - bidPrice
}

// Level returns the resting orders at a given price on a given side, for
// depth reporting. Returns nil if no level exists there.
func (book *OrderBook) Level(side common.Side, price float64) []*common.Order {
	levels, _ := book.sides(side)
	lvl, ok := levels.Get(&PriceLevel{Price: price})
	if !ok {
		return nil
	}
	return lvl.Orders
}

// LevelAt returns the i-th level from the best price outward on the given
// side (0 = top of book), or nil if the side is shallower than i.
func (book *OrderBook) LevelAt(side common.Side, i int) *PriceLevel {
	levels, _ := book.sides(side)
	bestIsMax := side == common.Buy
	lvl, ok := topLevel(levels, bestIsMax, i)
	if !ok {
		return nil
	}
	return lvl
}

// LevelsAt returns the best n levels of side, ordered best-first.
func (book *OrderBook) LevelsAt(side common.Side, n int) []*PriceLevel {
	levels, _ := book.sides(side)
	bestIsMax := side == common.Buy
	out := make([]*PriceLevel, 0, n)
	for i := 0; i < n; i++ {
		lvl, ok := topLevel(levels, bestIsMax, i)
		if !ok {
			break
		}
		out = append(out, lvl)
	}
	return out
}

// Find performs a non-destructive lookup by (side, price, id), returning
// the resting order or nil if it isn't present.
func (book *OrderBook) Find(order *common.Order) *common.Order {
	levels, _ := book.sides(order.Side)
	lvl, ok := levels.Get(&PriceLevel{Price: order.Price})
	if !ok {
		return nil
	}
	return lvl.Find(order)
}

// Iterate returns an iterator over every resting order in the book, sells
// ascending (best ask first) then buys descending (best bid first).
func (book *OrderBook) Iterate() *OrderBookIterator {
	return newOrderBookIterator(book)
}
