package common

import (
	"fmt"
	"time"
)

// Order is a resting-or-taking instruction in the book. Cyclic references
// (order <-> stop target <-> owning level) are avoided by indirection:
// StopTargetID is an id lookup rather than a pointer, and an Order never
// points back at the PriceLevel that owns it.
type Order struct {
	ID         string // stable id, assigned once at order-entry time
	Instrument Instrument
	Exchange   ExchangeType
	Side       Side
	OrderType  OrderType
	Flag       OrderFlag
	Price      float64 // protective limit for MARKET+flag, trigger irrelevant for STOP
	Volume     float64
	Filled     float64
	Timestamp  time.Time

	// StopTargetID is set only when OrderType == StopOrder; it names the
	// order whose price level this stop watches. It is never itself a stop.
	StopTargetID string

	Owner string
}

// Remaining is the unfilled portion of the order's volume.
func (o *Order) Remaining() float64 {
	return o.Volume - o.Filled
}

// Terminal reports whether the order can no longer participate in matching:
// fully filled, or fully consumed by a committed cancel (callers track the
// latter by dropping their reference, since a cancelled order is released
// by its owning PriceLevel and not re-observed after the CANCEL event).
func (o *Order) Terminal() bool {
	return o.Filled >= o.Volume
}

func (o Order) String() string {
	return fmt.Sprintf(
		"Order{id=%s side=%s type=%s flag=%s instrument=%s price=%g volume=%g filled=%g}",
		o.ID, o.Side, o.OrderType, o.Flag, o.Instrument, o.Price, o.Volume, o.Filled,
	)
}
