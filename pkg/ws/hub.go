package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	MsgTypeStatus = "lot_status"
	MsgTypeError  = "error"
)

type Message struct {
	Type  string      `json:"type"`
	LotID string      `json:"lot_id"`
	Data  interface{} `json:"data"`
}

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

// Hub fans occupancy snapshots out to websocket subscribers, one room per lot.
type Hub struct {
	log   zerolog.Logger
	mu    sync.RWMutex
	rooms map[uuid.UUID]map[*Client]bool
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		log:   log,
		rooms: make(map[uuid.UUID]map[*Client]bool),
	}
}

// PublishLotStatus broadcasts a status snapshot to the lot's subscribers.
// Safe to call from any goroutine; slow consumers are dropped.
func (h *Hub) PublishLotStatus(lotID uuid.UUID, payload interface{}) {
	raw, err := json.Marshal(Message{
		Type:  MsgTypeStatus,
		LotID: lotID.String(),
		Data:  payload,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("marshal lot status message")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.rooms[lotID] {
		select {
		case client.send <- raw:
		default:
			h.dropLocked(client)
		}
	}
}

// Subscribe attaches a connection to a lot's room and starts its pumps.
func (h *Hub) Subscribe(lotID uuid.UUID, conn *websocket.Conn) {
	client := &Client{
		hub:   h,
		lotID: lotID,
		conn:  conn,
		send:  make(chan []byte, 16),
	}

	h.mu.Lock()
	if h.rooms[lotID] == nil {
		h.rooms[lotID] = make(map[*Client]bool)
	}
	h.rooms[lotID][client] = true
	total := len(h.rooms[lotID])
	h.mu.Unlock()

	h.log.Debug().Str("lot_id", lotID.String()).Int("subscribers", total).Msg("websocket subscriber joined")

	go client.writePump()
	go client.readPump()
}

func (h *Hub) unsubscribe(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[client.lotID][client] {
		h.dropLocked(client)
	}
}

func (h *Hub) dropLocked(client *Client) {
	delete(h.rooms[client.lotID], client)
	if len(h.rooms[client.lotID]) == 0 {
		delete(h.rooms, client.lotID)
	}
	close(client.send)
}

type Client struct {
	hub   *Hub
	lotID uuid.UUID
	conn  *websocket.Conn
	send  chan []byte
}

// readPump drains the connection; subscribers only listen.
func (c *Client) readPump() {
	defer func() {
		c.hub.unsubscribe(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Client) writePump() {
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
