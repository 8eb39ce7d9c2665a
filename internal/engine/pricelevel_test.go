package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fenrir/internal/common"
)

func newTestLevel(rec *recorder, price float64, side common.Side) (*PriceLevel, *Collector) {
	c := NewCollector(rec.sink)
	return NewPriceLevel(price, side, c), c
}

func TestPriceLevel_Add_EmitsOpen(t *testing.T) {
	rec := &recorder{}
	lvl, c := newTestLevel(rec, 100, common.Sell)

	lvl.Add(newOrder("1", common.Sell, 100, 10))
	c.Commit()

	require.Len(t, rec.events, 1)
	assert.Equal(t, common.EventOpen, rec.events[0].Type)
	assert.Equal(t, "1", rec.events[0].Order.ID)
	assert.Equal(t, 1, lvl.Size())
	assert.Equal(t, 10.0, lvl.Volume())
}

func TestPriceLevel_Add_DuplicateID_EmitsChange(t *testing.T) {
	rec := &recorder{}
	lvl, c := newTestLevel(rec, 100, common.Sell)

	lvl.Add(newOrder("1", common.Sell, 100, 10))
	lvl.Add(newOrder("1", common.Sell, 100, 10))
	c.Commit()

	require.Len(t, rec.events, 2)
	assert.Equal(t, common.EventOpen, rec.events[0].Type)
	assert.Equal(t, common.EventChange, rec.events[1].Type)
	assert.Equal(t, 1, lvl.Size(), "a re-add by id must not duplicate the resting order")
}

func TestPriceLevel_Remove_EmitsCancel(t *testing.T) {
	rec := &recorder{}
	lvl, c := newTestLevel(rec, 100, common.Sell)
	order := newOrder("1", common.Sell, 100, 10)
	lvl.Add(order)
	c.Commit()
	rec.reset()

	removed, err := lvl.Remove(order)
	require.NoError(t, err)
	assert.Same(t, order, removed)
	c.Commit()
	require.Len(t, rec.events, 1)
	assert.Equal(t, common.EventCancel, rec.events[0].Type)
	assert.Equal(t, 0, lvl.Size())
}

func TestPriceLevel_Remove_UnknownOrder(t *testing.T) {
	rec := &recorder{}
	lvl, _ := newTestLevel(rec, 100, common.Sell)

	_, err := lvl.Remove(newOrder("ghost", common.Sell, 100, 1))
	assert.ErrorIs(t, err, common.ErrOrderNotFound)

	_, err = lvl.Remove(newOrder("1", common.Sell, 101, 1))
	assert.ErrorIs(t, err, common.ErrOrderNotFound, "price mismatch must also miss")
}

func TestPriceLevel_Find(t *testing.T) {
	rec := &recorder{}
	lvl, _ := newTestLevel(rec, 100, common.Sell)
	order := newOrder("1", common.Sell, 100, 10)
	lvl.Add(order)

	assert.Same(t, order, lvl.Find(newOrder("1", common.Sell, 100, 0)))
	assert.Nil(t, lvl.Find(newOrder("2", common.Sell, 100, 0)))
	assert.Nil(t, lvl.Find(newOrder("1", common.Sell, 101, 0)), "a level only owns orders at its own price")
}

func TestPriceLevel_StageCommitRevert(t *testing.T) {
	rec := &recorder{}
	lvl, c := newTestLevel(rec, 100, common.Sell)
	order := newOrder("1", common.Sell, 100, 10)
	lvl.Add(order)
	c.reset() // discard the OPEN transaction's bookkeeping for a clean slate

	lvl.stage()
	lvl.Orders = append(lvl.Orders, newOrder("2", common.Sell, 100, 5))
	assert.Equal(t, 2, lvl.Size())

	lvl.revert()
	assert.Equal(t, 1, lvl.Size(), "revert must restore the pre-stage order list")
	assert.Equal(t, "1", lvl.Orders[0].ID)

	lvl.stage()
	lvl.Orders = append(lvl.Orders, newOrder("3", common.Sell, 100, 5))
	lvl.commit()
	assert.Equal(t, 2, lvl.Size(), "commit must keep the mutated state")
	lvl.revert() // now a no-op since staged was cleared by commit
	assert.Equal(t, 2, lvl.Size())
}

func TestPriceLevel_Cross_ExactMatch(t *testing.T) {
	rec := &recorder{}
	lvl, c := newTestLevel(rec, 100, common.Sell)
	maker := newOrder("maker", common.Sell, 100, 5)
	lvl.Add(maker)
	c.Commit()
	rec.reset()

	taker := newOrder("taker", common.Buy, 100, 5)
	var secondaries []*common.Order
	residual, err := lvl.Cross(taker, &secondaries)
	c.Commit()

	require.NoError(t, err)
	assert.Nil(t, residual)
	assert.Equal(t, 5.0, maker.Filled)
	assert.Equal(t, 5.0, taker.Filled)
	assert.Equal(t, 0, lvl.Size(), "a fully consumed maker must not remain resting")

	types := make([]common.EventType, len(rec.events))
	for i, e := range rec.events {
		types[i] = e.Type
	}
	assert.Equal(t, []common.EventType{common.EventFill, common.EventFill, common.EventTrade}, types)

	trade := rec.events[2].Trade
	assert.Equal(t, 100.0, trade.Price)
	assert.Equal(t, 5.0, trade.Volume)
	assert.Equal(t, []*common.Order{maker}, trade.Makers)
	assert.Same(t, taker, trade.Taker)
	_ = c
}

func TestPriceLevel_Cross_MakerRemainderRests(t *testing.T) {
	rec := &recorder{}
	lvl, _ := newTestLevel(rec, 100, common.Sell)
	maker := newOrder("maker", common.Sell, 100, 10)
	lvl.Add(maker)
	rec.reset()

	taker := newOrder("taker", common.Buy, 100, 4)
	var secondaries []*common.Order
	residual, err := lvl.Cross(taker, &secondaries)

	require.NoError(t, err)
	assert.Nil(t, residual)
	assert.Equal(t, 4.0, maker.Filled)
	assert.Equal(t, 4.0, taker.Filled)
	assert.Equal(t, 1, lvl.Size(), "the partially filled maker keeps resting")
	assert.Same(t, maker, lvl.Orders[0])
}

func TestPriceLevel_Cross_TakerExhaustsLevel_ReturnsResidual(t *testing.T) {
	rec := &recorder{}
	lvl, _ := newTestLevel(rec, 100, common.Sell)
	maker := newOrder("maker", common.Sell, 100, 3)
	lvl.Add(maker)
	rec.reset()

	taker := newOrder("taker", common.Buy, 100, 10)
	var secondaries []*common.Order
	residual, err := lvl.Cross(taker, &secondaries)

	require.NoError(t, err)
	assert.Same(t, taker, residual, "an emptied level must hand the unsatisfied taker back to the caller")
	assert.Equal(t, 3.0, taker.Filled)
	assert.Equal(t, 0, lvl.Size())
}

func TestPriceLevel_Cross_FlaggedMakerCancelledInsteadOfPartialFill(t *testing.T) {
	rec := &recorder{}
	lvl, c := newTestLevel(rec, 100, common.Sell)
	maker := newFlaggedOrder("maker", common.Sell, common.AllOrNone, 100, 10)
	lvl.Add(maker)
	c.Commit()
	rec.reset()

	taker := newOrder("taker", common.Buy, 100, 4)
	var secondaries []*common.Order
	residual, err := lvl.Cross(taker, &secondaries)
	c.Commit()

	require.NoError(t, err)
	assert.Same(t, taker, residual, "the AON maker must be skipped entirely, leaving the taker unfilled")
	assert.Equal(t, 0.0, maker.Filled)
	assert.Equal(t, 0.0, taker.Filled)
	require.Len(t, rec.events, 1)
	assert.Equal(t, common.EventCancel, rec.events[0].Type)
	assert.Equal(t, "maker", rec.events[0].Order.ID)
}

func TestPriceLevel_Cross_AONTakerAbortsOnUndersizedMaker(t *testing.T) {
	rec := &recorder{}
	lvl, c := newTestLevel(rec, 100, common.Sell)
	// Two makers whose combined volume exactly equals the AON taker's need.
	// Per the matching rules, an AON taker that hits a maker smaller than
	// its remaining volume must abort immediately rather than split across
	// makers, even though these two together would satisfy it exactly.
	m1 := newOrder("m1", common.Sell, 100, 3)
	m2 := newOrder("m2", common.Sell, 100, 3)
	lvl.Add(m1)
	lvl.Add(m2)
	c.Commit()
	rec.reset()

	taker := newFlaggedOrder("taker", common.Buy, common.AllOrNone, 100, 6)
	var secondaries []*common.Order
	residual, err := lvl.Cross(taker, &secondaries)

	require.NoError(t, err)
	assert.Nil(t, residual, "forced revert reports no residual; the caller reverts via the collector")
	assert.Equal(t, 0.0, m1.Filled)
	assert.Equal(t, 0.0, m2.Filled)
	assert.Equal(t, 2, lvl.Size(), "both makers must still be resting, untouched")
	assert.Same(t, m1, lvl.Orders[0])
	assert.Same(t, m2, lvl.Orders[1])
	c.Commit()
	assert.Empty(t, rec.events, "no events are pushed on the aborting branch itself")
}

func TestPriceLevel_Cross_StopOrdersJoinSecondariesOnTrade(t *testing.T) {
	rec := &recorder{}
	lvl, _ := newTestLevel(rec, 100, common.Sell)
	maker := newOrder("maker", common.Sell, 100, 5)
	lvl.Add(maker)
	stop := newStopOrder("stop", common.Buy, 105, 5, "maker")
	lvl.StopOrders = append(lvl.StopOrders, stop)
	rec.reset()

	taker := newOrder("taker", common.Buy, 100, 5)
	var secondaries []*common.Order
	_, err := lvl.Cross(taker, &secondaries)

	require.NoError(t, err)
	require.Len(t, secondaries, 1)
	assert.Same(t, stop, secondaries[0])
}
