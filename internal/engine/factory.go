package engine

import (
	"math"

	"github.com/google/uuid"

	"fenrir/internal/common"
)

// OrderFactory is the sole place new orders are minted. The book trusts
// every order it receives to already satisfy these invariants; it does not
// re-validate them on the hot path.
type OrderFactory struct {
	clock Clock
}

func NewOrderFactory(clock Clock) *OrderFactory {
	if clock == nil {
		clock = SystemClock{}
	}
	return &OrderFactory{clock: clock}
}

// NewLimitOrder builds a resting-or-crossing order priced at a fixed limit.
func (f *OrderFactory) NewLimitOrder(
	instrument common.Instrument, exchange common.ExchangeType, side common.Side,
	flag common.OrderFlag, price, volume float64, owner string,
) (*common.Order, error) {
	if volume <= 0 {
		return nil, common.ErrInvalidVolume
	}
	if !isFinite(price) {
		return nil, common.ErrInvalidPrice
	}
	return f.build(instrument, exchange, side, common.LimitOrder, flag, price, volume, "", owner), nil
}

// NewMarketOrder builds an order that executes against whatever liquidity is
// available. price is only meaningful when flag imposes a protective limit
// (FOK/AON/IOC); pass 0 when flag is NoFlag.
func (f *OrderFactory) NewMarketOrder(
	instrument common.Instrument, exchange common.ExchangeType, side common.Side,
	flag common.OrderFlag, price, volume float64, owner string,
) (*common.Order, error) {
	if volume <= 0 {
		return nil, common.ErrInvalidVolume
	}
	if flag != common.NoFlag && !isFinite(price) {
		return nil, common.ErrInvalidPrice
	}
	return f.build(instrument, exchange, side, common.MarketOrder, flag, price, volume, "", owner), nil
}

// NewStopOrder builds an order that lies dormant in its target's PriceLevel
// until that target trades, at which point it re-enters the book as a
// market order. target must itself not be a stop order.
func (f *OrderFactory) NewStopOrder(
	instrument common.Instrument, exchange common.ExchangeType, side common.Side,
	flag common.OrderFlag, triggerPrice, volume float64, owner string, target *common.Order,
) (*common.Order, error) {
	if volume <= 0 {
		return nil, common.ErrInvalidVolume
	}
	if !isFinite(triggerPrice) {
		return nil, common.ErrInvalidPrice
	}
	if target == nil || target.OrderType == common.StopOrder {
		return nil, common.ErrInvalidStopTarget
	}
	order := f.build(instrument, exchange, side, common.StopOrder, flag, triggerPrice, volume, target.ID, owner)
	return order, nil
}

func (f *OrderFactory) build(
	instrument common.Instrument, exchange common.ExchangeType, side common.Side,
	orderType common.OrderType, flag common.OrderFlag, price, volume float64, stopTargetID, owner string,
) *common.Order {
	return &common.Order{
		ID:           uuid.NewString(),
		Instrument:   instrument,
		Exchange:     exchange,
		Side:         side,
		OrderType:    orderType,
		Flag:         flag,
		Price:        price,
		Volume:       volume,
		Timestamp:    f.clock.Now(),
		StopTargetID: stopTargetID,
		Owner:        owner,
	}
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
