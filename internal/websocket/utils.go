package websocket

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/stemsi/exstem-session/internal/response"
	"github.com/stemsi/exstem-session/internal/validator"
)

const (
	writeWait = 10 * time.Second
	readWait  = 5 * time.Minute
	// maxMessageSize caps one client frame; answers are plain text.
	maxMessageSize = 64 << 10
)

// Conn serializes writes to a WebSocket. Gorilla allows one concurrent writer,
// and session state is pushed from timer goroutines as well as the read loop.
type Conn struct {
	ws *websocket.Conn

	mu        sync.Mutex
	closeOnce sync.Once
}

// NewConn wraps an upgraded connection.
func NewConn(ws *websocket.Conn) *Conn {
	ws.SetReadLimit(maxMessageSize)
	return &Conn{ws: ws}
}

// WriteTyped sends a strongly-typed response payload over the WebSocket.
func (c *Conn) WriteTyped(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(v)
}

// WriteError sends a typed ErrorResponse over the WebSocket.
func (c *Conn) WriteError(action Action, code response.ErrCode, msg string) error {
	if msg == "" {
		msg = response.GetMessage(code)
	}
	return c.WriteTyped(ErrorResponse{
		Event:  EventError,
		Code:   code,
		Error:  msg,
		Action: action,
	})
}

// WriteValidation sends a VALIDATION_ERROR with per-field messages.
func (c *Conn) WriteValidation(action Action, fields map[string]string) error {
	return c.WriteTyped(ErrorResponse{
		Event:   EventError,
		Code:    response.ErrValidation,
		Error:   response.GetMessage(response.ErrValidation),
		Action:  action,
		Details: fields,
	})
}

// ReadMessage reads one frame. It sets a read deadline.
func (c *Conn) ReadMessage() ([]byte, error) {
	c.ws.SetReadDeadline(time.Now().Add(readWait))
	_, data, err := c.ws.ReadMessage()
	return data, err
}

// CloseWith sends a close frame with reason and closes the socket.
func (c *Conn) CloseWith(code int, reason string) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		msg := websocket.FormatCloseMessage(code, reason)
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		c.mu.Unlock()
		_ = c.ws.Close()
	})
}

// Close closes the socket without a close frame.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		_ = c.ws.Close()
	})
}

// Decode parses a frame into dst and validates it. Field errors are returned
// as a map; a nil map and nil error mean success.
func Decode(data []byte, dst interface{}) (map[string]string, error) {
	if err := json.Unmarshal(data, dst); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	return validator.Struct(dst), nil
}
