package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fenrir/internal/common"
)

// These mirror the end-to-end walkthroughs used to pin down the matching
// kernel's observable behavior: a resting book, one incoming order, the
// exact events it must produce, and the book state left behind.

func TestScenario_SimpleCross(t *testing.T) {
	rec := &recorder{}
	book := newTestBook(rec)

	maker := newOrder("1", common.Sell, 100, 10)
	require.NoError(t, book.Add(maker))
	require.Equal(t, []common.EventType{common.EventOpen}, rec.types())
	rec.reset()

	taker := newOrder("2", common.Buy, 100, 4)
	require.NoError(t, book.Add(taker))

	assert.Equal(t, []common.EventType{common.EventFill, common.EventChange, common.EventTrade}, rec.types())
	trade := rec.events[2].Trade
	assert.Equal(t, 100.0, trade.Price)
	assert.Equal(t, 4.0, trade.Volume)
	require.Len(t, trade.Makers, 1)
	assert.Equal(t, "1", trade.Makers[0].ID)
	assert.Equal(t, "2", trade.Taker.ID)

	resting := book.Level(common.Sell, 100)
	require.Len(t, resting, 1)
	assert.Equal(t, 10.0, resting[0].Volume)
	assert.Equal(t, 4.0, resting[0].Filled)
}

func TestScenario_WalkTwoLevels(t *testing.T) {
	rec := &recorder{}
	book := newTestBook(rec)

	require.NoError(t, book.Add(newOrder("1", common.Sell, 100, 3)))
	require.NoError(t, book.Add(newOrder("2", common.Sell, 101, 5)))
	rec.reset()

	taker := newOrder("3", common.Buy, 101, 6)
	require.NoError(t, book.Add(taker))

	assert.Equal(t, []common.EventType{
		common.EventChange, common.EventFill, common.EventFill, common.EventChange, common.EventTrade,
	}, rec.types())

	trade := rec.events[len(rec.events)-1].Trade
	assert.InDelta(t, 100.5, trade.Price, 1e-9)
	assert.Equal(t, 6.0, trade.Volume)
	require.Len(t, trade.Makers, 2)
	assert.Equal(t, "1", trade.Makers[0].ID)
	assert.Equal(t, "2", trade.Makers[1].ID)

	assert.Empty(t, book.Level(common.Sell, 100), "the 100 level is fully consumed")
	resting := book.Level(common.Sell, 101)
	require.Len(t, resting, 1)
	assert.Equal(t, 2.0, resting[0].Remaining())
}

func TestScenario_FOKRejection(t *testing.T) {
	rec := &recorder{}
	book := newTestBook(rec)

	maker := newOrder("1", common.Sell, 100, 3)
	require.NoError(t, book.Add(maker))
	rec.reset()

	before := *maker
	taker := newFlaggedOrder("2", common.Buy, common.FillOrKill, 100, 5)
	require.NoError(t, book.Add(taker))

	assert.Equal(t, []common.EventType{common.EventCancel}, rec.types())
	assert.Equal(t, "2", rec.events[0].Order.ID)
	assert.Zero(t, rec.events[0].Order.Filled, "a rejected FOK taker must show zero fill, not a reverted partial")

	assert.Equal(t, before, *maker, "atomic rejection leaves the resting maker untouched")
	assert.Nil(t, book.Find(newOrder("2", common.Buy, 100, 0)), "the rejected buyer never rests")
}

func TestScenario_AONPartialReject(t *testing.T) {
	rec := &recorder{}
	book := newTestBook(rec)

	m1 := newOrder("1", common.Sell, 100, 3)
	m2 := newOrder("2", common.Sell, 100, 2)
	require.NoError(t, book.Add(m1))
	require.NoError(t, book.Add(m2))
	rec.reset()

	before1, before2 := *m1, *m2
	taker := newFlaggedOrder("3", common.Buy, common.AllOrNone, 100, 6)
	require.NoError(t, book.Add(taker))

	assert.Equal(t, []common.EventType{common.EventCancel}, rec.types())
	assert.Equal(t, "3", rec.events[0].Order.ID)

	resting := book.Level(common.Sell, 100)
	require.Len(t, resting, 2)
	assert.Equal(t, before1, *resting[0])
	assert.Equal(t, before2, *resting[1])
}

func TestScenario_StopTrigger(t *testing.T) {
	rec := &recorder{}
	book := newTestBook(rec)

	target := newOrder("1", common.Sell, 100, 5)
	require.NoError(t, book.Add(target))
	rec.reset()

	stop := newStopOrder("2", common.Buy, 105, 5, "1")
	require.NoError(t, book.Add(stop))
	assert.Empty(t, rec.events, "parking a stop order emits nothing")

	rec.reset()
	taker := newOrder("3", common.Buy, 100, 5)
	taker.Timestamp = testEpoch.Add(time.Hour)
	require.NoError(t, book.Add(taker))

	require.GreaterOrEqual(t, len(rec.events), 3)
	trade := findTrade(t, rec.events)
	assert.Equal(t, 100.0, trade.Price)
	assert.Equal(t, 5.0, trade.Volume)

	last := rec.events[len(rec.events)-1]
	assert.Equal(t, common.EventCancel, last.Type, "the triggered stop finds no remaining liquidity and is cancelled")
	assert.Equal(t, "2", last.Order.ID)
	assert.Equal(t, common.MarketOrder, last.Order.OrderType, "triggering converts the stop into a market order")
	assert.True(t, last.Order.Timestamp.Equal(taker.Timestamp), "the re-entered order inherits the trigger's timestamp")
}

// A sweep can empty an opposite level without filling the taker at all,
// when every maker there carries a flag that forbids partial fills. The
// emptied level must still leave the book, or a stale zero-volume price
// would linger at the top of the opposite side while the taker rests
// against it.
func TestScenario_FlaggedMakerCancelEmptiesLevel(t *testing.T) {
	rec := &recorder{}
	book := newTestBook(rec)

	maker := newFlaggedOrder("1", common.Sell, common.AllOrNone, 100, 10)
	require.NoError(t, book.Add(maker))
	rec.reset()

	taker := newOrder("2", common.Buy, 100, 4)
	require.NoError(t, book.Add(taker))

	assert.Equal(t, []common.EventType{common.EventCancel, common.EventOpen}, rec.types())
	assert.Equal(t, "1", rec.events[0].Order.ID, "the undersized AON maker is cancelled, not split")
	assert.Equal(t, "2", rec.events[1].Order.ID)
	assert.Zero(t, taker.Filled)

	_, hasAsk := book.Asks.Min()
	assert.False(t, hasAsk, "the emptied ask level must be pruned, not left at zero volume")
	resting := book.Level(common.Buy, 100)
	require.Len(t, resting, 1)
	assert.Same(t, taker, resting[0])
}

// A dormant stop order can be cancelled before its target ever trades; the
// cancel emits CANCEL and the stop no longer triggers when the target fills.
func TestScenario_StopCancelledBeforeTrigger(t *testing.T) {
	rec := &recorder{}
	book := newTestBook(rec)

	target := newOrder("1", common.Sell, 100, 5)
	require.NoError(t, book.Add(target))

	stop := newStopOrder("2", common.Buy, 105, 5, "1")
	require.NoError(t, book.Add(stop))
	rec.reset()

	require.NoError(t, book.Cancel(stop))
	require.Equal(t, []common.EventType{common.EventCancel}, rec.types())
	assert.Equal(t, "2", rec.events[0].Order.ID)
	rec.reset()

	// Re-cancelling a stop the book no longer holds is a no-op.
	require.NoError(t, book.Cancel(stop))
	assert.Empty(t, rec.events)

	// The target trading must no longer trigger anything.
	require.NoError(t, book.Add(newOrder("3", common.Buy, 100, 5)))
	for _, e := range rec.events {
		if e.Order != nil {
			assert.NotEqual(t, "2", e.Order.ID, "a cancelled stop must never re-enter the book")
		}
	}
}

// Change is cancel-and-replace: the CANCEL for the old resting order and a
// freshly synthesized OPEN for its replacement land in the same commit, and
// the replacement joins the back of the level's FIFO — modifying an order
// costs its time priority.
func TestScenario_ChangeCancelsAndReopens(t *testing.T) {
	rec := &recorder{}
	book := newTestBook(rec)

	original := newOrder("1", common.Sell, 100, 10)
	sibling := newOrder("2", common.Sell, 100, 5)
	require.NoError(t, book.Add(original))
	require.NoError(t, book.Add(sibling))
	rec.reset()

	replacement := newFlaggedOrder("1", common.Sell, common.AllOrNone, 100, 6)
	require.NoError(t, book.Change(replacement))

	require.Equal(t, []common.EventType{common.EventCancel, common.EventOpen}, rec.types())
	assert.Equal(t, "1", rec.events[0].Order.ID)
	assert.Equal(t, "1", rec.events[1].Order.ID)
	assert.Equal(t, 6.0, rec.events[1].Order.Volume)
	assert.Equal(t, common.AllOrNone, rec.events[1].Order.Flag)

	resting := book.Level(common.Sell, 100)
	require.Len(t, resting, 2)
	assert.Same(t, sibling, resting[0], "the untouched sibling keeps its place at the head")
	assert.Same(t, replacement, resting[1], "the replacement rejoins at the back of the FIFO")

	// Changing at a price the book holds no level for is out of sync.
	ghost := newOrder("3", common.Sell, 999, 1)
	assert.ErrorIs(t, book.Change(ghost), common.ErrOutOfSync)
}

func TestScenario_IOCPartial(t *testing.T) {
	rec := &recorder{}
	book := newTestBook(rec)

	require.NoError(t, book.Add(newOrder("1", common.Sell, 100, 3)))
	rec.reset()

	taker := newFlaggedOrder("2", common.Buy, common.ImmediateOrCancel, 100, 5)
	require.NoError(t, book.Add(taker))

	assert.Contains(t, rec.types(), common.EventTrade)
	assert.Contains(t, rec.types(), common.EventCancel)
	trade := findTrade(t, rec.events)
	assert.Equal(t, 3.0, trade.Volume)

	bidP, bidV, askP, askV := book.TopOfBook()
	assert.Zero(t, bidP)
	assert.Zero(t, bidV)
	assert.True(t, askV == 0)
	_ = askP
}

// A flagged order that never touches any resting liquidity at all (an
// empty or non-crossing book) rests as a live maker instead of being
// killed — FOK/AON/IOC only cancel a partial cross, never a zero cross.
func TestScenario_FlaggedOrder_NoCrossing_RestsInstead(t *testing.T) {
	for _, flag := range []common.OrderFlag{common.FillOrKill, common.AllOrNone, common.ImmediateOrCancel} {
		t.Run(flag.String(), func(t *testing.T) {
			rec := &recorder{}
			book := newTestBook(rec)

			taker := newFlaggedOrder("1", common.Buy, flag, 100, 5)
			require.NoError(t, book.Add(taker))

			assert.Equal(t, []common.EventType{common.EventOpen}, rec.types(),
				"a flagged order with nothing to cross against must rest, not cancel")
			resting := book.Level(common.Buy, 100)
			require.Len(t, resting, 1)
			assert.Same(t, taker, resting[0])
			assert.Zero(t, taker.Filled)
		})
	}
}

func findTrade(t *testing.T, events []common.Event) *common.Trade {
	t.Helper()
	for _, e := range events {
		if e.Type == common.EventTrade {
			return e.Trade
		}
	}
	t.Fatal("expected a TRADE event among", events)
	return nil
}
