package engine

import "fenrir/internal/common"

// Collector is a transactional event buffer shared by an OrderBook and the
// PriceLevels it crosses against. A single Collector instance is created
// per book and reused across every add/cancel/change call; its state is
// wiped on both commit and revert so nothing leaks between transactions.
type Collector struct {
	sink common.Sink

	events []common.Event

	// VWAP accumulator across maker fills in the in-flight transaction.
	price  float64
	volume float64
	makers []*common.Order

	taker *common.Order

	// staged holds every PriceLevel mutated this transaction, in the order
	// first touched; commit/revert resolve each one's shadow copy. cleared
	// is the subset the book has determined are now empty — the book uses
	// its length as an index offset when re-probing the top of the book
	// mid-sweep, and deletes exactly these levels from its sorted sequence
	// once it decides to commit.
	staged  []*PriceLevel
	cleared []*PriceLevel

	nextTradeID uint64
}

func NewCollector(sink common.Sink) *Collector {
	return &Collector{sink: sink}
}

func (c *Collector) SetSink(sink common.Sink) {
	c.sink = sink
}

func (c *Collector) push(e common.Event) {
	c.events = append(c.events, e)
}

func (c *Collector) PushOpen(order *common.Order) {
	c.push(common.NewOpenEvent(order))
}

// PushFill appends a FILL event. delta is the volume order was filled by
// during this transaction; pass 0 for a taker's own fill (takers never
// accumulate into the trade's VWAP), and the maker's fill amount when
// crediting a maker.
func (c *Collector) PushFill(order *common.Order, delta float64) {
	if delta > 0 {
		c.accumulate(order, delta)
	}
	c.push(common.NewFillEvent(order))
}

func (c *Collector) PushChange(order *common.Order, delta float64) {
	if delta > 0 {
		c.accumulate(order, delta)
	}
	c.push(common.NewChangeEvent(order))
}

func (c *Collector) PushCancel(order *common.Order) {
	c.push(common.NewCancelEvent(order))
}

func (c *Collector) accumulate(order *common.Order, delta float64) {
	if c.volume+delta > 0 {
		c.price = (c.price*c.volume + order.Price*delta) / (c.volume + delta)
	}
	c.volume += delta
	c.makers = append(c.makers, order)
}

// PushTrade synthesizes the TRADE event from the accumulator. The caller
// guarantees at least one maker was captured and 0 < taker.Filled.
func (c *Collector) PushTrade(taker *common.Order) error {
	if len(c.makers) == 0 {
		return common.ErrNoMakers
	}
	if taker.Filled <= 0 {
		return common.ErrNoFill
	}
	if taker.Volume < c.volume {
		return common.ErrAccumulationError
	}
	c.nextTradeID++
	trade := &common.Trade{
		ID:        c.nextTradeID,
		Timestamp: taker.Timestamp,
		Price:     c.price,
		Volume:    c.volume,
		Makers:    append([]*common.Order(nil), c.makers...),
		Taker:     taker,
	}
	c.push(common.NewTradeEvent(trade))
	c.taker = taker
	return nil
}

// stageLevel records that pl has been mutated this transaction. Idempotent
// per level per transaction: PriceLevel only calls this on its first
// mutation, guarded by its own staged flag.
func (c *Collector) stageLevel(pl *PriceLevel) {
	c.staged = append(c.staged, pl)
}

// ClearLevel records that level is now exhausted (its resting FIFO is
// empty). Returns the running count, which the book uses to skip past
// already-exhausted levels without physically removing them from the
// sorted sequence before the transaction is known to commit.
func (c *Collector) ClearLevel(level *PriceLevel) int {
	c.cleared = append(c.cleared, level)
	return len(c.cleared)
}

func (c *Collector) ClearedCount() int {
	return len(c.cleared)
}

func (c *Collector) ClearedLevels() []*PriceLevel {
	return c.cleared
}

// Commit flushes every queued event to the sink in insertion order, then
// commits each staged level's shadow copy (discarding it) before resetting.
func (c *Collector) Commit() {
	for _, ev := range c.events {
		if c.sink != nil {
			c.sink(ev)
		}
	}
	for _, pl := range c.staged {
		pl.commit()
	}
	c.reset()
}

// Revert restores every staged level from its shadow copy and drops all
// queued events without invoking the sink.
func (c *Collector) Revert() {
	for _, pl := range c.staged {
		pl.revert()
	}
	c.reset()
}

// Clear is the end-of-transaction safety net: by the time it runs, the
// branch that handled this add/cancel/change should already have called
// Commit or Revert, so this is ordinarily a no-op reset.
func (c *Collector) Clear() {
	c.reset()
}

func (c *Collector) TakerOrder() *common.Order {
	return c.taker
}

func (c *Collector) reset() {
	c.events = nil
	c.price = 0
	c.volume = 0
	c.makers = nil
	c.staged = nil
	c.cleared = nil
	c.taker = nil
}
