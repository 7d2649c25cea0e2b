package websocket

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = pongWait * 9 / 10

	// The feed is server-to-client; anything larger than a control frame is a protocol error.
	maxInboundFrame = 512

	feedBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  512,
	WriteBufferSize: 4096,
	// Dashboards are authenticated by bearer token, not by origin
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Client is one dashboard connection subscribed to a single owner's events.
// The hub is the only writer to send and the only one that closes it.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	OwnerID string
}

// ServeWs upgrades an authenticated request and subscribes it to ownerID's events.
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request, ownerID string) {
	logger := zerolog.Ctx(r.Context()).With().Str("owner_id", ownerID).Logger()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &Client{hub: hub, conn: conn, send: make(chan []byte, feedBuffer), OwnerID: ownerID}
	select {
	case hub.register <- c:
	case <-hub.done:
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}

	gone := make(chan struct{})
	go c.watchPeer(gone, &logger)
	go c.feed(gone)
}

// watchPeer consumes inbound frames so pings, pongs and close frames get
// handled. It closes gone when the peer disconnects or stops answering pings.
func (c *Client) watchPeer(gone chan<- struct{}, logger *zerolog.Logger) {
	defer close(gone)

	c.conn.SetReadLimit(maxInboundFrame)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.NextReader(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logger.Warn().Err(err).Msg("live feed connection error")
			}
			return
		}
	}
}

// feed owns every write on the connection: hub messages, keepalive pings and
// the final close frame. It unregisters the client once either side is done.
func (c *Client) feed(gone <-chan struct{}) {
	ping := time.NewTicker(pingInterval)
	defer func() {
		ping.Stop()
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub stopped or dropped this client
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ping.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-gone:
			return
		}
	}
}
