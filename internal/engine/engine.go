package engine

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"fenrir/internal/common"
)

// Reporter is the external collaborator an Engine forwards committed
// events to, one instrument's book at a time: each OrderBook's own sink is
// a thin closure that tags the event with its Instrument before handing it
// to the Reporter.
type Reporter interface {
	ReportEvent(common.Instrument, common.Event)
}

// MultiReporter fans a single Reporter call out to several, in order. Used
// to wire both the TCP order-entry Server and the WebSocket market-data
// Hub off the same Engine.
type MultiReporter []Reporter

func (m MultiReporter) ReportEvent(instrument common.Instrument, ev common.Event) {
	for _, r := range m {
		r.ReportEvent(instrument, ev)
	}
}

// Engine dispatches order-entry calls to one OrderBook per instrument. Each
// book is a self-contained matching core; cross-symbol atomicity is out of
// scope. Engine is the plumbing around it: it owns the map and routes
// place/cancel/change calls by instrument. It also carries an OrderFactory
// sharing its clock, which it does not call itself; callers pass in orders
// they have already built.
type Engine struct {
	Books    map[common.Instrument]*OrderBook
	Exchange common.ExchangeType
	Factory  *OrderFactory
	reporter Reporter
	clock    Clock
}

// New creates an Engine with one book per supported instrument, keyed by
// the full Instrument value (ticker + asset class) since a book covers one
// instrument, not a whole asset class.
func New(exchange common.ExchangeType, clock Clock, instruments ...common.Instrument) *Engine {
	if clock == nil {
		clock = SystemClock{}
	}
	e := &Engine{
		Books:    make(map[common.Instrument]*OrderBook),
		Exchange: exchange,
		Factory:  NewOrderFactory(clock),
		clock:    clock,
	}
	for _, instrument := range instruments {
		e.addBook(instrument)
	}
	return e
}

// SetReporter installs the downstream sink every book's events are routed
// through. Must be called before the first order is placed.
func (e *Engine) SetReporter(r Reporter) {
	e.reporter = r
	for instrument, book := range e.Books {
		instrument := instrument
		book.SetSink(func(ev common.Event) {
			if e.reporter != nil {
				e.reporter.ReportEvent(instrument, ev)
			}
		})
	}
}

func (e *Engine) addBook(instrument common.Instrument) *OrderBook {
	book := NewOrderBook(instrument, e.Exchange, e.clock)
	if e.reporter != nil {
		instrument := instrument
		book.SetSink(func(ev common.Event) {
			e.reporter.ReportEvent(instrument, ev)
		})
	}
	e.Books[instrument] = book
	return book
}

// Book returns the book for instrument, creating one on first use so a
// dynamically configured set of tradeable instruments doesn't require a
// restart.
func (e *Engine) Book(instrument common.Instrument) *OrderBook {
	book, ok := e.Books[instrument]
	if !ok {
		book = e.addBook(instrument)
	}
	return book
}

// PlaceOrder routes order to its instrument's book.
func (e *Engine) PlaceOrder(order *common.Order) error {
	return e.Book(order.Instrument).Add(order)
}

// CancelOrder routes a cancel to order's instrument's book.
func (e *Engine) CancelOrder(order *common.Order) error {
	return e.Book(order.Instrument).Cancel(order)
}

// ChangeOrder routes a cancel-and-replace to order's instrument's book.
func (e *Engine) ChangeOrder(order *common.Order) error {
	return e.Book(order.Instrument).Change(order)
}

// LogBook emits a structured snapshot of every book's top of book, for the
// wire protocol's diagnostic LogBook request (internal/net).
func (e *Engine) LogBook() {
	for instrument, book := range e.Books {
		bidPrice, bidVolume, askPrice, askVolume := book.TopOfBook()
		log.Info().
			Str("instrument", instrument.String()).
			Str("spread", fmt.Sprintf("%g", book.Spread())).
			Float64("bidPrice", bidPrice).
			Float64("bidVolume", bidVolume).
			Float64("askPrice", askPrice).
			Float64("askVolume", askVolume).
			Msg("book snapshot")
	}
}
