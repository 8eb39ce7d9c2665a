package net

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	. "fenrir/internal/common"
)

// wireEvent is the JSON shape a market-data subscriber receives for every
// committed Event, regardless of instrument. Unlike the TCP protocol
// (messages.go), this is a read-only fan-out of the raw lifecycle stream,
// not an order-entry channel.
type wireEvent struct {
	Instrument string  `json:"instrument"`
	Type       string  `json:"type"`
	OrderID    string  `json:"order_id,omitempty"`
	Side       string  `json:"side,omitempty"`
	Price      float64 `json:"price,omitempty"`
	Volume     float64 `json:"volume,omitempty"`
	Filled     float64 `json:"filled,omitempty"`
	Owner      string  `json:"owner,omitempty"`

	TradeID     uint64   `json:"trade_id,omitempty"`
	TradePrice  float64  `json:"trade_price,omitempty"`
	TradeVolume float64  `json:"trade_volume,omitempty"`
	MakerIDs    []string `json:"maker_ids,omitempty"`
	TakerID     string   `json:"taker_id,omitempty"`
}

func toWireEvent(instrument Instrument, ev Event) wireEvent {
	w := wireEvent{Instrument: instrument.String(), Type: ev.Type.String()}
	if ev.Type == EventTrade {
		t := ev.Trade
		w.TradeID = t.ID
		w.TradePrice = t.Price
		w.TradeVolume = t.Volume
		w.TakerID = t.Taker.ID
		for _, m := range t.Makers {
			w.MakerIDs = append(w.MakerIDs, m.ID)
		}
		return w
	}
	o := ev.Order
	w.OrderID = o.ID
	w.Side = o.Side.String()
	w.Price = o.Price
	w.Volume = o.Volume
	w.Filled = o.Filled
	w.Owner = o.Owner
	return w
}

// Hub broadcasts every committed Event to connected WebSocket subscribers
// as JSON, fanning one register/unregister/broadcast goroutine out to any
// number of client connections.
type Hub struct {
	clients    map[*streamClient]bool
	register   chan *streamClient
	unregister chan *streamClient
	broadcast  chan []byte
	mu         sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*streamClient]bool),
		register:   make(chan *streamClient),
		unregister: make(chan *streamClient),
		broadcast:  make(chan []byte, 256),
	}
}

// Run processes registrations and broadcasts until stopped; call it in its
// own goroutine.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			log.Info().Int("count", len(h.clients)).Msg("stream client connected")

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			log.Info().Int("count", len(h.clients)).Msg("stream client disconnected")

		case message := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.send <- message:
				default:
					close(c.send)
					delete(h.clients, c)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// ReportEvent implements engine.Reporter: every committed event, for every
// instrument, is republished to every connected subscriber. The TCP
// Server's ReportEvent filters by owner; the stream Hub does not — it's a
// public market-data feed, not an order-entry acknowledgement channel.
func (h *Hub) ReportEvent(instrument Instrument, ev Event) {
	data, err := json.Marshal(toWireEvent(instrument, ev))
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal stream event")
		return
	}
	select {
	case h.broadcast <- data:
	default:
		log.Warn().Msg("stream broadcast channel full, dropping event")
	}
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024
)

type streamClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

func (c *streamClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *streamClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).Msg("stream websocket error")
			}
			break
		}
		// The feed is read-only; any client message is ignored.
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeHTTP upgrades an HTTP connection to a WebSocket and registers it
// with the hub.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	client := &streamClient{hub: h, conn: conn, send: make(chan []byte, 256)}
	h.register <- client
	go client.writePump()
	go client.readPump()
}

// StreamServer runs the WebSocket market-data listener on its own port.
type StreamServer struct {
	Hub *Hub
}

func NewStreamServer() *StreamServer {
	return &StreamServer{Hub: NewHub()}
}

// ListenAndServe starts the hub loop and the HTTP listener; it blocks
// until the listener errors or the process is killed.
func (s *StreamServer) ListenAndServe(addr string) error {
	go s.Hub.Run()
	mux := http.NewServeMux()
	mux.HandleFunc("/stream", s.Hub.ServeHTTP)
	log.Info().Str("address", addr).Msg("market-data stream listening")
	return http.ListenAndServe(addr, mux)
}
