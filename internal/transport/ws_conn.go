package transport

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 5 * time.Second

type WSConn struct {
	conn    *websocket.Conn
	useJSON bool
	writeMu sync.Mutex
}

func NewWSConn(conn *websocket.Conn, useJSON bool) *WSConn {
	return &WSConn{
		conn:    conn,
		useJSON: useJSON,
	}
}

// ReadEnvelope accepts both text (protojson) and binary frames.
func (c *WSConn) ReadEnvelope() (*Envelope, error) {
	messageType, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	if messageType == websocket.TextMessage {
		return UnmarshalJSON(data)
	}
	return Unmarshal(data)
}

func (c *WSConn) WriteEnvelope(env *Envelope) error {
	var (
		data  []byte
		err   error
		frame = websocket.BinaryMessage
	)
	if c.useJSON {
		data, err = MarshalJSON(env)
		frame = websocket.TextMessage
	} else {
		data, err = Marshal(env)
	}
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(frame, data)
}

// SetReadDeadline bounds the next ReadEnvelope.
func (c *WSConn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

func (c *WSConn) Close() error {
	c.writeMu.Lock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	return c.conn.Close()
}
