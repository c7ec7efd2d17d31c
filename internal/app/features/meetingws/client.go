package meetingws

import (
	"context"
	"sync"
	"time"

	"github.com/dalemusser/mentorlink/internal/app/meeting"
	"github.com/dalemusser/mentorlink/internal/app/system/meetmetrics"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. SDP offers stay well below it.
	maxMessageSize = 64 * 1024

	// Outbound frames buffered per client before it is dropped as too slow.
	sendBuffer = 256
)

// Client is one websocket connection.
type Client struct {
	id     string
	caller meeting.Caller
	hub    *Hub
	conn   *websocket.Conn
	log    *zap.Logger

	// send is drained by writePump. It is never closed; done signals the
	// end of the connection instead, so enqueue cannot race a close.
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newClient(id string, caller meeting.Caller, hub *Hub, conn *websocket.Conn, logger *zap.Logger) *Client {
	return &Client{
		id:     id,
		caller: caller,
		hub:    hub,
		conn:   conn,
		log:    logger.With(zap.String("conn_id", id)),
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
	}
}

// enqueue hands data to the write pump without blocking.
func (c *Client) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		c.log.Warn("send buffer full, dropping connection")
		c.hub.metrics.Dropped(meetmetrics.DropBufferFull)
		c.close()
		return false
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// readPump feeds frames from the connection to the dispatcher. There is at
// most one reader per connection; when it returns the participant leaves.
func (c *Client) readPump(ctx context.Context, disp *meeting.Dispatcher) {
	defer func() {
		c.close()
		c.hub.unregister(c)
		disp.Disconnect(ctx, c.id)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		typ, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.log.Info("websocket closed unexpectedly", zap.Error(err))
			}
			return
		}
		if typ != websocket.TextMessage {
			continue
		}
		disp.HandleFrame(ctx, c.caller, data)
	}
}

// writePump is the only writer on the connection. It also sends pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.log.Debug("write failed", zap.Error(err))
				c.close()
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}

		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
