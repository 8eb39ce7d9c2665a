package engine

import "fenrir/internal/common"

// PriceLevel owns an ordered FIFO of resting orders at a single price, plus
// the stop orders that target this level (triggered as a group whenever
// Cross runs against it). A shadow copy is captured lazily, on the first
// mutation Cross makes in a transaction, so revert can restore the
// pre-transaction state without an undo log per operation. Add, Remove,
// Modify and RemoveStop do not capture one.
type PriceLevel struct {
	Price float64
	Side  common.Side

	Orders     []*common.Order
	StopOrders []*common.Order

	collector *Collector

	staged           bool
	ordersStaged     []*common.Order
	stopOrdersStaged []*common.Order
	// filledStaged snapshots Filled for every order resting here at the
	// start of the transaction, since Cross mutates a maker's Filled
	// in place: restoring the Orders slice alone isn't enough to undo a
	// reverted transaction, the mutated orders need their own field
	// rolled back too.
	filledStaged map[*common.Order]float64
}

func NewPriceLevel(price float64, side common.Side, collector *Collector) *PriceLevel {
	return &PriceLevel{Price: price, Side: side, collector: collector}
}

func (pl *PriceLevel) Size() int {
	return len(pl.Orders)
}

func (pl *PriceLevel) Volume() float64 {
	var v float64
	for _, o := range pl.Orders {
		v += o.Remaining()
	}
	return v
}

func (pl *PriceLevel) indexOf(id string) int {
	for i, o := range pl.Orders {
		if o.ID == id {
			return i
		}
	}
	return -1
}

// Add appends a resting (non-stop) order to this level. Stop orders are
// attached directly to StopOrders by OrderBook.Add, keyed off their target's
// id, and never pass through here. An order whose id already rests here is
// treated as a re-add and emits CHANGE instead of a duplicate OPEN.
func (pl *PriceLevel) Add(order *common.Order) {
	if pl.indexOf(order.ID) >= 0 {
		pl.collector.PushChange(order, 0)
		return
	}
	pl.Orders = append(pl.Orders, order)
	pl.collector.PushOpen(order)
}

// Find returns the resting order with the given id, or nil if this level
// doesn't hold it (including when order.Price doesn't match the level).
func (pl *PriceLevel) Find(order *common.Order) *common.Order {
	if order.Price != pl.Price {
		return nil
	}
	if i := pl.indexOf(order.ID); i >= 0 {
		return pl.Orders[i]
	}
	return nil
}

// remove drops the order with the given id from the resting FIFO and
// emits CANCEL. Used by both Modify (cancel-and-replace, driven by the
// caller) and Remove (a plain cancel) since their behavior is identical at
// this layer.
func (pl *PriceLevel) remove(order *common.Order) (*common.Order, error) {
	if order.Price != pl.Price {
		return nil, common.ErrOrderNotFound
	}
	idx := pl.indexOf(order.ID)
	if idx < 0 {
		return nil, common.ErrOrderNotFound
	}
	found := pl.Orders[idx]
	pl.Orders = append(pl.Orders[:idx], pl.Orders[idx+1:]...)
	pl.collector.PushCancel(found)
	return found, nil
}

// RemoveStop drops the dormant stop order with the given id from this
// level's stop list, emitting CANCEL. Returns nil if no stop here has
// that id.
func (pl *PriceLevel) RemoveStop(id string) *common.Order {
	for i, s := range pl.StopOrders {
		if s.ID == id {
			pl.StopOrders = append(pl.StopOrders[:i], pl.StopOrders[i+1:]...)
			pl.collector.PushCancel(s)
			return s
		}
	}
	return nil
}

func (pl *PriceLevel) Modify(order *common.Order) (*common.Order, error) {
	return pl.remove(order)
}

func (pl *PriceLevel) Remove(order *common.Order) (*common.Order, error) {
	return pl.remove(order)
}

// stage snapshots the resting FIFO and stop list exactly once per
// transaction, on the first mutation, and registers the level with the
// collector so commit/revert know to resolve it.
func (pl *PriceLevel) stage() {
	if pl.staged {
		return
	}
	pl.staged = true
	pl.ordersStaged = append([]*common.Order(nil), pl.Orders...)
	pl.stopOrdersStaged = append([]*common.Order(nil), pl.StopOrders...)
	pl.filledStaged = make(map[*common.Order]float64, len(pl.Orders))
	for _, o := range pl.Orders {
		pl.filledStaged[o] = o.Filled
	}
	pl.collector.stageLevel(pl)
}

func (pl *PriceLevel) commit() {
	pl.staged = false
	pl.ordersStaged = nil
	pl.stopOrdersStaged = nil
	pl.filledStaged = nil
}

func (pl *PriceLevel) revert() {
	if !pl.staged {
		return
	}
	pl.Orders = pl.ordersStaged
	pl.StopOrders = pl.stopOrdersStaged
	for o, filled := range pl.filledStaged {
		o.Filled = filled
	}
	pl.staged = false
	pl.ordersStaged = nil
	pl.stopOrdersStaged = nil
	pl.filledStaged = nil
}

// Cross is the matching kernel: it works taker against this level's
// resting FIFO, price-time priority enforced by FIFO order alone (every
// order here already shares this level's price). secondaries accumulates
// this level's stop orders every time Cross runs against it, including a
// pass that only cancels flagged makers and fills nothing; every stop
// registered here is triggered, not just ones targeting the specific maker
// that filled.
//
// Returns a non-nil residual (the same taker) when the FIFO emptied before
// taker was satisfied, signaling the caller to advance to the next level.
// A nil residual means either taker is fully filled, or a rejecting AON
// taker forced the caller to revert.
func (pl *PriceLevel) Cross(taker *common.Order, secondaries *[]*common.Order) (*common.Order, error) {
	if taker.Filled >= taker.Volume {
		*secondaries = append(*secondaries, pl.StopOrders...)
		return nil, nil
	}

	for taker.Filled < taker.Volume && len(pl.Orders) > 0 {
		toFill := taker.Volume - taker.Filled

		pl.stage()
		maker := pl.Orders[0]
		pl.Orders = pl.Orders[1:]

		makerRemaining := maker.Volume - maker.Filled

		switch {
		case makerRemaining > toFill && (maker.Flag == common.FillOrKill || maker.Flag == common.AllOrNone):
			pl.collector.PushCancel(maker)

		case makerRemaining > toFill:
			maker.Filled += toFill
			taker.Filled = taker.Volume
			pl.collector.PushFill(taker, 0)
			pl.collector.PushChange(maker, toFill)
			if maker.Flag == common.ImmediateOrCancel {
				pl.collector.PushCancel(maker)
			} else {
				pl.Orders = append([]*common.Order{maker}, pl.Orders...)
			}

		case makerRemaining < toFill && taker.Flag == common.AllOrNone:
			// An AON taker can only be satisfied by a single maker; one
			// that only partially covers it forces an abort rather than
			// splitting across several makers, even if a later maker
			// would have completed it exactly.
			taker.Filled += makerRemaining
			pl.Orders = append([]*common.Order{maker}, pl.Orders...)
			*secondaries = append(*secondaries, pl.StopOrders...)
			return nil, nil

		case makerRemaining < toFill:
			taker.Filled += makerRemaining
			maker.Filled = maker.Volume
			pl.collector.PushChange(taker, 0)
			pl.collector.PushFill(maker, makerRemaining)

		default: // exact match
			maker.Filled += toFill
			taker.Filled += makerRemaining
			pl.collector.PushFill(taker, 0)
			pl.collector.PushFill(maker, makerRemaining)
		}
	}

	*secondaries = append(*secondaries, pl.StopOrders...)

	if taker.Filled >= taker.Volume {
		if err := pl.collector.PushTrade(taker); err != nil {
			return nil, err
		}
		return nil, nil
	}

	// FIFO emptied, taker still wants more: level exhausted, caller advances.
	return taker, nil
}
