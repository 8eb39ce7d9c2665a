package net

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"

	. "fenrir/internal/common"
	"fenrir/internal/engine"
	"fenrir/internal/utils"
)

const (
	maxRecvSize        = 4 * 1024
	defaultNWorkers    = 10
	defaultConnTimeout = time.Second
)

// ClientSession tracks one connected TCP session, addressed by username
// once the first NewOrder from that connection identifies it.
type ClientSession struct {
	conn net.Conn
}

// ClientMessage links a parsed message to the connection it arrived on.
type ClientMessage struct {
	clientAddress string
	message       Message
}

// Engine is the subset of engine.Engine the server calls to route orders.
// The package still imports engine for its OrderFactory.
type Engine interface {
	PlaceOrder(order *Order) error
	CancelOrder(order *Order) error
	ChangeOrder(order *Order) error
	LogBook()
}

// Server is the TCP front end: it accepts connections, parses the wire
// protocol (messages.go), dispatches to the Engine, and reports committed
// events back to the owning client. It implements engine.Reporter.
type Server struct {
	address string
	port    int
	engine  Engine
	factory *engine.OrderFactory

	pool               utils.WorkerPool[net.Conn]
	cancel             context.CancelFunc
	clientSessions     map[string]ClientSession
	clientSessionsLock sync.Mutex
	clientMessages     chan ClientMessage

	// owners maps a username to the address of the session that last
	// identified as it, so ReportEvent can route a Fill/Trade back to the
	// right connection regardless of which client sent the triggering
	// order.
	owners     map[string]string
	ownersLock sync.Mutex
}

func New(address string, port int, eng Engine) *Server {
	return &Server{
		address:        address,
		port:           port,
		engine:         eng,
		factory:        engine.NewOrderFactory(nil),
		pool:           utils.NewWorkerPool[net.Conn](defaultNWorkers),
		clientSessions: make(map[string]ClientSession),
		clientMessages: make(chan ClientMessage, 1),
		owners:         make(map[string]string),
	}
}

func (s *Server) Shutdown() {
	log.Info().Msg("server shutting down")
	s.cancel()
}

func (s *Server) Run(ctx context.Context) {
	defer s.Shutdown()

	ctx, s.cancel = context.WithCancel(ctx)
	t, ctx := tomb.WithContext(ctx)

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", fmt.Sprintf("%s:%d", s.address, s.port))
	if err != nil {
		log.Error().Err(err).Msg("unable to start listener")
		return
	}
	defer func() {
		if err := listener.Close(); err != nil {
			log.Error().Err(err).Msg("unable to close listener")
		}
	}()

	t.Go(func() error {
		s.pool.Setup(t, s.handleConnection)
		return nil
	})

	t.Go(func() error {
		return s.sessionHandler(t)
	})

	log.Info().Str("address", s.address).Int("port", s.port).Msg("server running")

	for {
		select {
		case <-ctx.Done():
			return
		default:
			conn, err := listener.Accept()
			if err != nil {
				log.Error().Err(err).Msg("error accepting client")
				continue
			}
			log.Info().Str("address", conn.RemoteAddr().String()).Msg("new client connected")
			s.addClientSession(conn)
			s.pool.AddTask(conn)
		}
	}
}

// ReportEvent implements engine.Reporter. A Trade event fans out to the
// taker and every distinct maker owner; every other event goes to the
// order's own owner.
func (s *Server) ReportEvent(instrument Instrument, ev Event) {
	if ev.Type == EventTrade {
		seen := map[string]bool{}
		report := func(owner string) {
			if owner == "" || seen[owner] {
				return
			}
			seen[owner] = true
			s.send(owner, eventToReport(instrument, ev, owner))
		}
		report(ev.Trade.Taker.Owner)
		for _, m := range ev.Trade.Makers {
			report(m.Owner)
		}
		return
	}
	s.send(ev.Order.Owner, eventToReport(instrument, ev, ev.Order.Owner))
}

func (s *Server) send(owner string, r Report) {
	if owner == "" {
		return
	}
	s.ownersLock.Lock()
	address, ok := s.owners[owner]
	s.ownersLock.Unlock()
	if !ok {
		return
	}
	s.clientSessionsLock.Lock()
	session, ok := s.clientSessions[address]
	s.clientSessionsLock.Unlock()
	if !ok {
		return
	}
	if _, err := session.conn.Write(r.Serialize()); err != nil {
		log.Error().Err(err).Str("owner", owner).Msg("unable to send report")
		s.deleteClientSession(address)
	}
}

func (s *Server) reportError(clientAddress string, err error) {
	s.clientSessionsLock.Lock()
	session, ok := s.clientSessions[clientAddress]
	s.clientSessionsLock.Unlock()
	if !ok {
		return
	}
	if _, werr := session.conn.Write(errorReport(err)); werr != nil {
		log.Error().Err(werr).Str("clientAddress", clientAddress).Msg("unable to send error report")
	}
}

func (s *Server) sessionHandler(t *tomb.Tomb) error {
	for {
		select {
		case <-t.Dying():
			return nil
		case message := <-s.clientMessages:
			if err := s.handleMessage(message); err != nil {
				log.Error().Err(err).Str("clientAddress", message.clientAddress).Msg("error handling message")
				s.reportError(message.clientAddress, err)
			}
		}
	}
}

func (s *Server) identify(clientAddress, owner string) {
	if owner == "" {
		return
	}
	s.ownersLock.Lock()
	s.owners[owner] = clientAddress
	s.ownersLock.Unlock()
}

func (s *Server) handleMessage(cm ClientMessage) error {
	switch cm.message.GetType() {
	case NewOrder:
		m, ok := cm.message.(NewOrderMessage)
		if !ok {
			return ErrImproperConversion
		}
		s.identify(cm.clientAddress, m.Username)
		order, err := s.buildOrder(m)
		if err != nil {
			return err
		}
		return s.engine.PlaceOrder(order)

	case CancelOrder:
		m, ok := cm.message.(CancelOrderMessage)
		if !ok {
			return ErrImproperConversion
		}
		order := &Order{
			ID:         m.OrderID,
			Instrument: Instrument{Ticker: m.Ticker, AssetType: m.AssetType},
			Exchange:   ExchangeType{Name: m.Exchange},
			Side:       m.Side,
			Price:      m.Price,
		}
		return s.engine.CancelOrder(order)

	case ChangeOrder:
		m, ok := cm.message.(ChangeOrderMessage)
		if !ok {
			return ErrImproperConversion
		}
		s.identify(cm.clientAddress, m.Username)
		order := &Order{
			ID:         m.OrderID,
			Instrument: Instrument{Ticker: m.Ticker, AssetType: m.AssetType},
			Exchange:   ExchangeType{Name: m.Exchange},
			Side:       m.Side,
			OrderType:  LimitOrder,
			Flag:       m.Flag,
			Price:      m.Price,
			Volume:     m.Volume,
			Owner:      m.Username,
		}
		return s.engine.ChangeOrder(order)

	case LogBook:
		s.engine.LogBook()
		return nil

	case Heartbeat:
		return nil

	default:
		return ErrInvalidMessageType
	}
}

func (s *Server) buildOrder(m NewOrderMessage) (*Order, error) {
	instrument := Instrument{Ticker: m.Ticker, AssetType: m.AssetType}
	exchange := ExchangeType{Name: m.Exchange}
	switch m.OrderType {
	case LimitOrder:
		return s.factory.NewLimitOrder(instrument, exchange, m.Side, m.Flag, m.Price, m.Volume, m.Username)
	case MarketOrder:
		return s.factory.NewMarketOrder(instrument, exchange, m.Side, m.Flag, m.Price, m.Volume, m.Username)
	case StopOrder:
		target := &Order{ID: m.StopTargetID}
		return s.factory.NewStopOrder(instrument, exchange, m.Side, m.Flag, m.Price, m.Volume, m.Username, target)
	default:
		return nil, errors.New("unknown order type")
	}
}

func (s *Server) handleConnection(t *tomb.Tomb, conn net.Conn) error {
	defer func() {
		if err := conn.Close(); err != nil {
			log.Error().Err(err).Str("address", conn.RemoteAddr().String()).Msg("error closing connection")
		}
	}()

	if err := conn.SetDeadline(time.Now().Add(defaultConnTimeout)); err != nil {
		log.Error().Err(err).Msg("failed setting deadline for connection")
		return nil
	}

	buffer := make([]byte, maxRecvSize)
	select {
	case <-t.Dying():
		return nil
	default:
		n, err := conn.Read(buffer)
		if err != nil {
			log.Error().Err(err).Str("address", conn.RemoteAddr().String()).Msg("error reading from connection")
			s.deleteClientSession(conn.RemoteAddr().String())
			return nil
		}

		message, err := parseMessage(buffer[:n])
		if err != nil {
			log.Error().Err(err).Str("address", conn.RemoteAddr().String()).Msg("error parsing message")
			s.deleteClientSession(conn.RemoteAddr().String())
			return nil
		}

		s.clientMessages <- ClientMessage{message: message, clientAddress: conn.RemoteAddr().String()}
		s.pool.AddTask(conn)
	}
	return nil
}

func (s *Server) addClientSession(conn net.Conn) {
	s.clientSessionsLock.Lock()
	defer s.clientSessionsLock.Unlock()
	s.clientSessions[conn.RemoteAddr().String()] = ClientSession{conn: conn}
}

func (s *Server) deleteClientSession(address string) {
	s.clientSessionsLock.Lock()
	defer s.clientSessionsLock.Unlock()
	delete(s.clientSessions, address)
}
