package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/satonic/nftledger/internal/models"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 512

	// AllTopics subscribes a client to every event
	AllTopics = "*"
)

var (
	ErrHubClosed = errors.New("websocket hub closed")
	ErrHubBusy   = errors.New("websocket hub event buffer full")
)

// WebSocketMessage represents a message sent over WebSocket
type WebSocketMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// TopicMessage names a listing id, a collection id or "*"
type TopicMessage struct {
	Topic string `json:"topic"`
}

// BidMessage represents a bid message sent over WebSocket
type BidMessage struct {
	ListingID string `json:"listing_id"`
	Amount    int64  `json:"amount"`
}

// ErrorMessage is the payload of an "error" message
type ErrorMessage struct {
	Message string `json:"message"`
}

// BidPlacer places bids on behalf of websocket clients
type BidPlacer interface {
	PlaceBid(ctx context.Context, listingID, bidder string, amount int64) (*models.Bid, error)
}

// Client represents a WebSocket client connection
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	// empty for anonymous connections
	account string
}

type subscription struct {
	client *Client
	topic  string
	remove bool
}

type outbound struct {
	client  *Client
	message []byte
}

type broadcast struct {
	topics  []string
	message []byte
}

// Hub fans marketplace events out to subscribed websocket clients. All
// client state is owned by the Run loop.
type Hub struct {
	// Registered clients and the topics each one follows
	clients map[*Client]map[string]bool

	register      chan *Client
	unregister    chan *Client
	subscriptions chan subscription
	direct        chan outbound
	events        chan broadcast
	done          chan struct{}

	bids  BidPlacer
	sugar *zap.SugaredLogger

	upgrader websocket.Upgrader
}

// NewHub creates a new hub. Origins are checked against allowedOrigins;
// "*" allows any.
func NewHub(allowedOrigins []string, sugar *zap.SugaredLogger) *Hub {
	if sugar == nil {
		sugar = zap.NewNop().Sugar()
	}
	h := &Hub{
		clients:       make(map[*Client]map[string]bool),
		register:      make(chan *Client),
		unregister:    make(chan *Client),
		subscriptions: make(chan subscription),
		direct:        make(chan outbound, 64),
		events:        make(chan broadcast, 256),
		done:          make(chan struct{}),
		sugar:         sugar,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if o == "*" || o == origin {
				return true
			}
		}
		return false
	}
}

// SetBidPlacer enables bidding over websocket. Call it before Run.
func (h *Hub) SetBidPlacer(bids BidPlacer) {
	h.bids = bids
}

// Publish queues an event for delivery. It never blocks: when the buffer
// is full the event is dropped and ErrHubBusy returned.
func (h *Hub) Publish(ctx context.Context, e models.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	message, err := json.Marshal(WebSocketMessage{Type: string(e.Type), Payload: payload})
	if err != nil {
		return err
	}

	b := broadcast{message: message}
	if e.ListingID != "" {
		b.topics = append(b.topics, e.ListingID)
	}
	if e.CollectionID != "" {
		b.topics = append(b.topics, e.CollectionID)
	}

	select {
	case <-h.done:
		return ErrHubClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	select {
	case h.events <- b:
		return nil
	default:
		return ErrHubBusy
	}
}

// Run starts the hub and blocks until ctx is cancelled
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		close(h.done)
		for client := range h.clients {
			h.drop(client)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case client := <-h.register:
			h.clients[client] = make(map[string]bool)
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				h.drop(client)
			}
		case sub := <-h.subscriptions:
			topics, ok := h.clients[sub.client]
			if !ok {
				continue
			}
			ackType := "subscribed"
			if sub.remove {
				delete(topics, sub.topic)
				ackType = "unsubscribed"
			} else {
				topics[sub.topic] = true
			}
			h.deliver(sub.client, encodeMessage(ackType, TopicMessage{Topic: sub.topic}))
		case out := <-h.direct:
			if _, ok := h.clients[out.client]; ok {
				h.deliver(out.client, out.message)
			}
		case b := <-h.events:
			for client, topics := range h.clients {
				if follows(topics, b.topics) {
					h.deliver(client, b.message)
				}
			}
		}
	}
}

func follows(topics map[string]bool, eventTopics []string) bool {
	if topics[AllTopics] {
		return true
	}
	for _, t := range eventTopics {
		if topics[t] {
			return true
		}
	}
	return false
}

// deliver sends without blocking; a client that cannot keep up is dropped
func (h *Hub) deliver(client *Client, message []byte) {
	select {
	case client.send <- message:
	default:
		h.sugar.Warnf("dropping slow websocket client %q", client.account)
		h.drop(client)
	}
}

func (h *Hub) drop(client *Client) {
	delete(h.clients, client)
	close(client.send)
}

func encodeMessage(msgType string, payload interface{}) []byte {
	raw, err := json.Marshal(payload)
	if err != nil {
		raw, _ = json.Marshal(ErrorMessage{Message: err.Error()})
		msgType = "error"
	}
	message, _ := json.Marshal(WebSocketMessage{Type: msgType, Payload: raw})
	return message
}

// reply queues a message for one client through the Run loop
func (c *Client) reply(msgType string, payload interface{}) {
	select {
	case c.hub.direct <- outbound{client: c, message: encodeMessage(msgType, payload)}:
	case <-c.hub.done:
	}
}

func (c *Client) replyError(msg string) {
	c.reply("error", ErrorMessage{Message: msg})
}

// readPump pumps messages from the WebSocket connection to the hub
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.sugar.Warnf("websocket read: %s", err)
			}
			break
		}

		var wsMessage WebSocketMessage
		if err := json.Unmarshal(message, &wsMessage); err != nil {
			c.replyError("invalid message")
			continue
		}

		switch wsMessage.Type {
		case "subscribe", "unsubscribe":
			var topic TopicMessage
			if err := json.Unmarshal(wsMessage.Payload, &topic); err != nil || topic.Topic == "" {
				c.replyError("topic is required")
				continue
			}
			select {
			case c.hub.subscriptions <- subscription{client: c, topic: topic.Topic, remove: wsMessage.Type == "unsubscribe"}:
			case <-c.hub.done:
				return
			}

		case "bid":
			c.placeBid(wsMessage.Payload)

		default:
			c.replyError("unknown message type " + wsMessage.Type)
		}
	}
}

func (c *Client) placeBid(payload json.RawMessage) {
	if c.hub.bids == nil {
		c.replyError("bidding is not available")
		return
	}
	if c.account == "" {
		c.replyError("Not authenticated")
		return
	}

	var bid BidMessage
	if err := json.Unmarshal(payload, &bid); err != nil {
		c.replyError("invalid bid payload")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()

	placed, err := c.hub.bids.PlaceBid(ctx, bid.ListingID, c.account, bid.Amount)
	if err != nil {
		c.replyError(err.Error())
		return
	}
	c.reply("bid_accepted", placed)
}

// writePump pumps messages from the hub to the WebSocket connection
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
				// The hub closed the channel
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

// ServeWs handles WebSocket requests from clients. Authentication is
// optional; anonymous clients may subscribe but not bid.
func ServeWs(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := hub.upgrader.Upgrade(w, r, nil)
		if err != nil {
			hub.sugar.Warnf("websocket upgrade: %s", err)
			return
		}

		account, _ := AccountFromContext(r.Context())
		client := &Client{
			hub:     hub,
			conn:    conn,
			send:    make(chan []byte, 256),
			account: account,
		}

		// queued before registering, while nothing else holds the channel
		client.send <- encodeMessage("welcome", map[string]string{
			"message": "Connected to nftledger",
			"account": account,
		})

		select {
		case hub.register <- client:
		case <-hub.done:
			conn.Close()
			return
		}

		go client.writePump()
		go client.readPump()
	}
}
