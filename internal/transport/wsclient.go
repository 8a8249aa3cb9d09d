package transport

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/drawbridge/drawbridge/internal/common/errors"
	"github.com/drawbridge/drawbridge/internal/common/logger"
)

const (
	// Time allowed to write a frame to the gateway
	writeWait = 10 * time.Second

	// Time allowed to read the next pong from the gateway
	pongWait = 60 * time.Second

	// Send pings with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum frame size accepted from the gateway
	maxMessageSize = 512 * 1024 // 512KB
)

// Gateway frame types.
const (
	frameMessage    = "message"
	frameSend       = "send"
	frameAttachment = "attachment"
)

// frame is the JSON envelope exchanged with the gateway. The provider
// protocol beyond this envelope is opaque to the daemon.
type frame struct {
	Type     string `json:"type"`
	ThreadID string `json:"thread_id,omitempty"`
	Text     string `json:"text,omitempty"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
	Data     string `json:"data,omitempty"` // base64 attachment payload
}

// WSDialer dials the messaging gateway over websocket.
type WSDialer struct {
	url    string
	token  string
	logger *logger.Logger
}

// NewWSDialer creates a dialer for the given gateway endpoint. The token,
// when set, is presented as a bearer credential during the handshake.
func NewWSDialer(url, token string, log *logger.Logger) *WSDialer {
	return &WSDialer{
		url:    url,
		token:  token,
		logger: log.WithComponent("wsclient"),
	}
}

// Dial opens a gateway connection and starts its read and ping pumps.
func (d *WSDialer) Dial(ctx context.Context) (Conn, error) {
	if d.url == "" {
		return nil, errors.TransportPermanent("gateway url is not configured", nil)
	}

	header := http.Header{}
	if d.token != "" {
		header.Set("Authorization", "Bearer "+d.token)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, d.url, header)
	if err != nil {
		return nil, errors.TransportTransient("failed to dial gateway", err)
	}

	c := &wsConn{
		conn:    conn,
		logger:  d.logger,
		inbound: make(chan Inbound, 64),
		closed:  make(chan struct{}),
	}
	go c.readPump()
	go c.pingLoop()
	return c, nil
}

type wsConn struct {
	conn    *websocket.Conn
	logger  *logger.Logger
	inbound chan Inbound

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

// readPump reads gateway frames until the connection drops, forwarding
// user messages inbound. Closing the inbound channel signals the drop.
func (c *wsConn) readPump() {
	defer close(c.inbound)

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn("gateway read error", zap.Error(err))
			}
			return
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.logger.Warn("dropping malformed gateway frame", zap.Error(err))
			continue
		}
		if f.Type != frameMessage {
			continue
		}

		select {
		case c.inbound <- Inbound{ThreadID: f.ThreadID, Text: f.Text}:
		case <-c.closed:
			return
		}
	}
}

func (c *wsConn) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (c *wsConn) writeFrame(f frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(f)
}

func (c *wsConn) SendText(ctx context.Context, recipient, text string) error {
	err := c.writeFrame(frame{Type: frameSend, ThreadID: recipient, Text: text})
	if err != nil {
		return errors.TransportTransient("failed to send message", err)
	}
	return nil
}

func (c *wsConn) SendAttachment(ctx context.Context, recipient, caption, filename string, payload []byte) error {
	err := c.writeFrame(frame{
		Type:     frameAttachment,
		ThreadID: recipient,
		Caption:  caption,
		Filename: filename,
		Data:     base64.StdEncoding.EncodeToString(payload),
	})
	if err != nil {
		return errors.TransportTransient("failed to send attachment", err)
	}
	return nil
}

func (c *wsConn) Inbound() <-chan Inbound {
	return c.inbound
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.conn.Close()
	})
	return err
}
