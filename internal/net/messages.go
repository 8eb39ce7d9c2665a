// Package net implements the TCP wire protocol that exposes an
// engine.Engine's order-entry API to remote clients. It is ambient
// plumbing around the matching core (internal/engine): framing, encoding,
// and session bookkeeping.
package net

import (
	"encoding/binary"
	"errors"
	"math"

	. "fenrir/internal/common"
)

var (
	ErrInvalidMessageType = errors.New("invalid message type")
	ErrMessageTooShort    = errors.New("message too short")
)

// MessageType tags a client->server wire message.
type MessageType int

const (
	Heartbeat MessageType = iota
	NewOrder
	CancelOrder
	ChangeOrder
	LogBook
)

// ReportMessageType tags a server->client wire message.
type ReportMessageType int

const (
	EventReport ReportMessageType = iota
	ErrorReport
)

type Message interface {
	GetType() MessageType
}

const BaseMessageHeaderLen = 2

type BaseMessage struct {
	TypeOf MessageType
}

func (m BaseMessage) GetType() MessageType { return m.TypeOf }

func parseMessage(msg []byte) (Message, error) {
	if len(msg) < BaseMessageHeaderLen {
		return nil, ErrMessageTooShort
	}
	typeOf := MessageType(binary.BigEndian.Uint16(msg[0:2]))
	body := msg[2:]
	switch typeOf {
	case NewOrder:
		return parseNewOrder(body)
	case CancelOrder:
		return parseCancelOrder(body)
	case ChangeOrder:
		return parseChangeOrder(body)
	case LogBook:
		return BaseMessage{TypeOf: LogBook}, nil
	case Heartbeat:
		return BaseMessage{TypeOf: Heartbeat}, nil
	default:
		return nil, ErrInvalidMessageType
	}
}

// lenPrefixedStrings are encoded as a 2-byte big-endian length followed by
// the raw bytes; this avoids the fixed-width truncation bugs a 4-byte
// ticker or a 16-byte raw UUID buffer invites once ids stop being exactly
// that wide (see cmd/client's NewOrder username-length fix history).
func putString(buf []byte, offset int, s string) int {
	binary.BigEndian.PutUint16(buf[offset:offset+2], uint16(len(s)))
	offset += 2
	copy(buf[offset:], s)
	return offset + len(s)
}

func getString(buf []byte, offset int) (string, int, error) {
	if len(buf) < offset+2 {
		return "", 0, ErrMessageTooShort
	}
	n := int(binary.BigEndian.Uint16(buf[offset : offset+2]))
	offset += 2
	if len(buf) < offset+n {
		return "", 0, ErrMessageTooShort
	}
	return string(buf[offset : offset+n]), offset + n, nil
}

func stringLen(s string) int { return 2 + len(s) }

// NewOrderMessage carries everything OrderFactory needs to mint an Order,
// including Flag, ExchangeType, and StopTargetID alongside the base
// AssetType/OrderType/Side fields.
type NewOrderMessage struct {
	BaseMessage
	AssetType    AssetType
	Ticker       string
	Exchange     string
	OrderType    OrderType
	Flag         OrderFlag
	Side         Side
	Price        float64
	Volume       float64
	StopTargetID string
	Username     string
}

const newOrderFixedLen = 2 /*AssetType*/ + 2 /*OrderType*/ + 2 /*Flag*/ + 1 /*Side*/ + 8 /*Price*/ + 8 /*Volume*/

func parseNewOrder(msg []byte) (NewOrderMessage, error) {
	if len(msg) < newOrderFixedLen {
		return NewOrderMessage{}, ErrMessageTooShort
	}
	m := NewOrderMessage{BaseMessage: BaseMessage{TypeOf: NewOrder}}
	m.AssetType = AssetType(binary.BigEndian.Uint16(msg[0:2]))
	m.OrderType = OrderType(binary.BigEndian.Uint16(msg[2:4]))
	m.Flag = OrderFlag(binary.BigEndian.Uint16(msg[4:6]))
	m.Side = Side(msg[6])
	m.Price = math.Float64frombits(binary.BigEndian.Uint64(msg[7:15]))
	m.Volume = math.Float64frombits(binary.BigEndian.Uint64(msg[15:23]))

	offset := newOrderFixedLen
	var err error
	if m.Ticker, offset, err = getString(msg, offset); err != nil {
		return NewOrderMessage{}, err
	}
	if m.Exchange, offset, err = getString(msg, offset); err != nil {
		return NewOrderMessage{}, err
	}
	if m.StopTargetID, offset, err = getString(msg, offset); err != nil {
		return NewOrderMessage{}, err
	}
	if m.Username, _, err = getString(msg, offset); err != nil {
		return NewOrderMessage{}, err
	}
	return m, nil
}

// Serialize packs m into a wire-ready NewOrder message including the
// 2-byte base header.
func (m NewOrderMessage) Serialize() []byte {
	total := BaseMessageHeaderLen + newOrderFixedLen +
		stringLen(m.Ticker) + stringLen(m.Exchange) + stringLen(m.StopTargetID) + stringLen(m.Username)
	buf := make([]byte, total)
	binary.BigEndian.PutUint16(buf[0:2], uint16(NewOrder))
	binary.BigEndian.PutUint16(buf[2:4], uint16(m.AssetType))
	binary.BigEndian.PutUint16(buf[4:6], uint16(m.OrderType))
	binary.BigEndian.PutUint16(buf[6:8], uint16(m.Flag))
	buf[8] = byte(m.Side)
	binary.BigEndian.PutUint64(buf[9:17], math.Float64bits(m.Price))
	binary.BigEndian.PutUint64(buf[17:25], math.Float64bits(m.Volume))
	offset := 25
	offset = putString(buf, offset, m.Ticker)
	offset = putString(buf, offset, m.Exchange)
	offset = putString(buf, offset, m.StopTargetID)
	putString(buf, offset, m.Username)
	return buf
}

// CancelOrderMessage locates the resting order by (side, instrument,
// price) and then matches by id, mirroring OrderBook.Cancel's lookup.
type CancelOrderMessage struct {
	BaseMessage
	AssetType AssetType
	Ticker    string
	Exchange  string
	Side      Side
	Price     float64
	OrderID   string
}

const cancelOrderFixedLen = 2 + 1 + 8

func parseCancelOrder(msg []byte) (CancelOrderMessage, error) {
	if len(msg) < cancelOrderFixedLen {
		return CancelOrderMessage{}, ErrMessageTooShort
	}
	m := CancelOrderMessage{BaseMessage: BaseMessage{TypeOf: CancelOrder}}
	m.AssetType = AssetType(binary.BigEndian.Uint16(msg[0:2]))
	m.Side = Side(msg[2])
	m.Price = math.Float64frombits(binary.BigEndian.Uint64(msg[3:11]))

	offset := cancelOrderFixedLen
	var err error
	if m.Ticker, offset, err = getString(msg, offset); err != nil {
		return CancelOrderMessage{}, err
	}
	if m.Exchange, offset, err = getString(msg, offset); err != nil {
		return CancelOrderMessage{}, err
	}
	if m.OrderID, _, err = getString(msg, offset); err != nil {
		return CancelOrderMessage{}, err
	}
	return m, nil
}

func (m CancelOrderMessage) Serialize() []byte {
	total := BaseMessageHeaderLen + cancelOrderFixedLen +
		stringLen(m.Ticker) + stringLen(m.Exchange) + stringLen(m.OrderID)
	buf := make([]byte, total)
	binary.BigEndian.PutUint16(buf[0:2], uint16(CancelOrder))
	binary.BigEndian.PutUint16(buf[2:4], uint16(m.AssetType))
	buf[4] = byte(m.Side)
	binary.BigEndian.PutUint64(buf[5:13], math.Float64bits(m.Price))
	offset := 13
	offset = putString(buf, offset, m.Ticker)
	offset = putString(buf, offset, m.Exchange)
	putString(buf, offset, m.OrderID)
	return buf
}

// ChangeOrderMessage identifies a resting order by (side, instrument,
// price, id). The price never moves across a change, since OrderBook.Change
// is cancel-and-replace at the same price: only Volume/Flag are mutated.
type ChangeOrderMessage struct {
	BaseMessage
	AssetType AssetType
	Ticker    string
	Exchange  string
	Side      Side
	Price     float64
	Volume    float64
	Flag      OrderFlag
	OrderID   string
	Username  string
}

const changeOrderFixedLen = 2 /*AssetType*/ + 1 /*Side*/ + 8 /*Price*/ + 8 /*Volume*/ + 2 /*Flag*/

func parseChangeOrder(msg []byte) (ChangeOrderMessage, error) {
	if len(msg) < changeOrderFixedLen {
		return ChangeOrderMessage{}, ErrMessageTooShort
	}
	m := ChangeOrderMessage{BaseMessage: BaseMessage{TypeOf: ChangeOrder}}
	m.AssetType = AssetType(binary.BigEndian.Uint16(msg[0:2]))
	m.Side = Side(msg[2])
	m.Price = math.Float64frombits(binary.BigEndian.Uint64(msg[3:11]))
	m.Volume = math.Float64frombits(binary.BigEndian.Uint64(msg[11:19]))
	m.Flag = OrderFlag(binary.BigEndian.Uint16(msg[19:21]))

	offset := changeOrderFixedLen
	var err error
	if m.Ticker, offset, err = getString(msg, offset); err != nil {
		return ChangeOrderMessage{}, err
	}
	if m.Exchange, offset, err = getString(msg, offset); err != nil {
		return ChangeOrderMessage{}, err
	}
	if m.OrderID, offset, err = getString(msg, offset); err != nil {
		return ChangeOrderMessage{}, err
	}
	if m.Username, _, err = getString(msg, offset); err != nil {
		return ChangeOrderMessage{}, err
	}
	return m, nil
}

func (m ChangeOrderMessage) Serialize() []byte {
	total := BaseMessageHeaderLen + changeOrderFixedLen +
		stringLen(m.Ticker) + stringLen(m.Exchange) + stringLen(m.OrderID) + stringLen(m.Username)
	buf := make([]byte, total)
	binary.BigEndian.PutUint16(buf[0:2], uint16(ChangeOrder))
	binary.BigEndian.PutUint16(buf[2:4], uint16(m.AssetType))
	buf[4] = byte(m.Side)
	binary.BigEndian.PutUint64(buf[5:13], math.Float64bits(m.Price))
	binary.BigEndian.PutUint64(buf[13:21], math.Float64bits(m.Volume))
	binary.BigEndian.PutUint16(buf[21:23], uint16(m.Flag))
	offset := 23
	offset = putString(buf, offset, m.Ticker)
	offset = putString(buf, offset, m.Exchange)
	offset = putString(buf, offset, m.OrderID)
	putString(buf, offset, m.Username)
	return buf
}

func LogBookMessage() []byte {
	buf := make([]byte, BaseMessageHeaderLen)
	binary.BigEndian.PutUint16(buf[0:2], uint16(LogBook))
	return buf
}

// Report is the server->client encoding of a single committed Event
// (or a freestanding protocol-level error not tied to any event).
type Report struct {
	MessageType ReportMessageType
	EventType   EventType
	AssetType   AssetType
	Ticker      string
	Side        Side
	OrderID     string
	Owner       string
	Price       float64
	Volume      float64
	Filled      float64
	Timestamp   int64

	TradeID     uint64
	TradePrice  float64
	TradeVolume float64
	MakerIDs    []string
	TakerID     string

	Err string
}

const reportFixedLen = 1 /*MessageType*/ + 1 /*EventType*/ + 2 /*AssetType*/ + 1 /*Side*/ +
	8 /*Price*/ + 8 /*Volume*/ + 8 /*Filled*/ + 8 /*Timestamp*/ +
	8 /*TradeID*/ + 8 /*TradePrice*/ + 8 /*TradeVolume*/

// Serialize packs r into a self-contained, length-prefixed wire report.
func (r Report) Serialize() []byte {
	makersLen := 2
	for _, id := range r.MakerIDs {
		makersLen += stringLen(id)
	}
	total := reportFixedLen + stringLen(r.Ticker) + stringLen(r.OrderID) + stringLen(r.Owner) +
		makersLen + stringLen(r.TakerID) + stringLen(r.Err)
	buf := make([]byte, total)
	buf[0] = byte(r.MessageType)
	buf[1] = byte(r.EventType)
	binary.BigEndian.PutUint16(buf[2:4], uint16(r.AssetType))
	buf[4] = byte(r.Side)
	binary.BigEndian.PutUint64(buf[5:13], math.Float64bits(r.Price))
	binary.BigEndian.PutUint64(buf[13:21], math.Float64bits(r.Volume))
	binary.BigEndian.PutUint64(buf[21:29], math.Float64bits(r.Filled))
	binary.BigEndian.PutUint64(buf[29:37], uint64(r.Timestamp))
	binary.BigEndian.PutUint64(buf[37:45], r.TradeID)
	binary.BigEndian.PutUint64(buf[45:53], math.Float64bits(r.TradePrice))
	binary.BigEndian.PutUint64(buf[53:61], math.Float64bits(r.TradeVolume))

	offset := reportFixedLen
	offset = putString(buf, offset, r.Ticker)
	offset = putString(buf, offset, r.OrderID)
	offset = putString(buf, offset, r.Owner)
	binary.BigEndian.PutUint16(buf[offset:offset+2], uint16(len(r.MakerIDs)))
	offset += 2
	for _, id := range r.MakerIDs {
		offset = putString(buf, offset, id)
	}
	offset = putString(buf, offset, r.TakerID)
	putString(buf, offset, r.Err)
	return buf
}

// ParseReport decodes a wire Report, the client side of eventToReport.
func ParseReport(buf []byte) (Report, error) {
	if len(buf) < reportFixedLen {
		return Report{}, ErrMessageTooShort
	}
	r := Report{
		MessageType: ReportMessageType(buf[0]),
		EventType:   EventType(buf[1]),
		AssetType:   AssetType(binary.BigEndian.Uint16(buf[2:4])),
		Side:        Side(buf[4]),
		Price:       math.Float64frombits(binary.BigEndian.Uint64(buf[5:13])),
		Volume:      math.Float64frombits(binary.BigEndian.Uint64(buf[13:21])),
		Filled:      math.Float64frombits(binary.BigEndian.Uint64(buf[21:29])),
		Timestamp:   int64(binary.BigEndian.Uint64(buf[29:37])),
		TradeID:     binary.BigEndian.Uint64(buf[37:45]),
		TradePrice:  math.Float64frombits(binary.BigEndian.Uint64(buf[45:53])),
		TradeVolume: math.Float64frombits(binary.BigEndian.Uint64(buf[53:61])),
	}
	offset := reportFixedLen
	var err error
	if r.Ticker, offset, err = getString(buf, offset); err != nil {
		return Report{}, err
	}
	if r.OrderID, offset, err = getString(buf, offset); err != nil {
		return Report{}, err
	}
	if r.Owner, offset, err = getString(buf, offset); err != nil {
		return Report{}, err
	}
	if len(buf) < offset+2 {
		return Report{}, ErrMessageTooShort
	}
	nMakers := int(binary.BigEndian.Uint16(buf[offset : offset+2]))
	offset += 2
	r.MakerIDs = make([]string, nMakers)
	for i := 0; i < nMakers; i++ {
		if r.MakerIDs[i], offset, err = getString(buf, offset); err != nil {
			return Report{}, err
		}
	}
	if r.TakerID, offset, err = getString(buf, offset); err != nil {
		return Report{}, err
	}
	if r.Err, _, err = getString(buf, offset); err != nil {
		return Report{}, err
	}
	return r, nil
}

// eventToReport translates a committed engine Event into its wire Report,
// addressed to owner (a participant's username). For a Trade, owner is
// written into the report's Owner field; every other event carries its
// order's own Owner.
func eventToReport(instrument Instrument, ev Event, owner string) Report {
	r := Report{MessageType: EventReport, EventType: ev.Type, AssetType: instrument.AssetType, Ticker: instrument.Ticker}
	switch ev.Type {
	case EventTrade:
		t := ev.Trade
		r.TradeID = t.ID
		r.TradePrice = t.Price
		r.TradeVolume = t.Volume
		r.TakerID = t.Taker.ID
		r.Timestamp = t.Timestamp.UnixNano()
		for _, m := range t.Makers {
			r.MakerIDs = append(r.MakerIDs, m.ID)
		}
		r.Owner = owner
	default:
		o := ev.Order
		r.Side = o.Side
		r.OrderID = o.ID
		r.Owner = o.Owner
		r.Price = o.Price
		r.Volume = o.Volume
		r.Filled = o.Filled
		r.Timestamp = o.Timestamp.UnixNano()
	}
	return r
}

func errorReport(err error) []byte {
	return Report{MessageType: ErrorReport, Err: err.Error()}.Serialize()
}
