package common

import (
	"fmt"
	"time"
)

// Trade is the record synthesized once a taker order finishes executing
// against one or more maker orders in a single transaction.
type Trade struct {
	ID        uint64
	Timestamp time.Time
	Price     float64 // volume-weighted average price across the makers
	Volume    float64 // total filled volume across the makers
	Makers    []*Order
	Taker     *Order
}

func (t Trade) String() string {
	return fmt.Sprintf(
		"Trade{id=%d price=%g volume=%g makers=%d taker=%s}",
		t.ID, t.Price, t.Volume, len(t.Makers), t.Taker.ID,
	)
}
