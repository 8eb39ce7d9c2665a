package engine

import (
	"time"

	"fenrir/internal/common"
)

var (
	testInstrument = common.Instrument{Ticker: "X", AssetType: common.Equities}
	testExchange   = common.ExchangeType{Name: "TEST"}
	testEpoch      = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
)

// recorder collects every event a book or collector emits, in commit order,
// across any number of transactions.
type recorder struct {
	events []common.Event
}

func (r *recorder) sink(e common.Event) {
	r.events = append(r.events, e)
}

func (r *recorder) types() []common.EventType {
	out := make([]common.EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func (r *recorder) reset() {
	r.events = nil
}

// newOrder builds a resting-style limit order for direct use against a
// PriceLevel or OrderBook, bypassing OrderFactory since tests want full
// control over id and timestamp.
func newOrder(id string, side common.Side, price, volume float64) *common.Order {
	return newFlaggedOrder(id, side, common.NoFlag, price, volume)
}

func newFlaggedOrder(id string, side common.Side, flag common.OrderFlag, price, volume float64) *common.Order {
	return &common.Order{
		ID:         id,
		Instrument: testInstrument,
		Exchange:   testExchange,
		Side:       side,
		OrderType:  common.LimitOrder,
		Flag:       flag,
		Price:      price,
		Volume:     volume,
		Timestamp:  testEpoch,
		Owner:      "owner-" + id,
	}
}

func newMarketOrder(id string, side common.Side, flag common.OrderFlag, price, volume float64) *common.Order {
	o := newFlaggedOrder(id, side, flag, price, volume)
	o.OrderType = common.MarketOrder
	return o
}

func newStopOrder(id string, side common.Side, triggerPrice, volume float64, targetID string) *common.Order {
	o := newFlaggedOrder(id, side, common.NoFlag, triggerPrice, volume)
	o.OrderType = common.StopOrder
	o.StopTargetID = targetID
	return o
}

// newTestBook returns an OrderBook wired to rec, using a fixed clock so
// timestamps never depend on wall-clock time.
func newTestBook(rec *recorder) *OrderBook {
	book := NewOrderBook(testInstrument, testExchange, FixedClock{At: testEpoch})
	book.SetSink(rec.sink)
	return book
}
