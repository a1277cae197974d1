package livereload

import (
	"sync"
	"time"
)

// Sender is the write side of a websocket connection.
type Sender interface {
	WriteJSON(v interface{}) error
	Close() error
}

// Connection represents a browser connected for live reload
type Connection struct {
	ID          string
	RemoteAddr  string
	UserAgent   string
	ConnectedAt time.Time

	conn Sender
	mu   sync.Mutex
	url  string
}

// NewConnection wraps conn.
func NewConnection(id string, conn Sender, remoteAddr, userAgent string) *Connection {
	return &Connection{
		ID:          id,
		RemoteAddr:  remoteAddr,
		UserAgent:   userAgent,
		ConnectedAt: time.Now(),
		conn:        conn,
	}
}

// SendMessage sends a message to the browser. Writes are serialised.
func (c *Connection) SendMessage(msg interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(msg)
}

// SetURL records the page the browser reported.
func (c *Connection) SetURL(url string) {
	c.mu.Lock()
	c.url = url
	c.mu.Unlock()
}

// URL returns the page the browser last reported.
func (c *Connection) URL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.url
}

// Close closes the connection
func (c *Connection) Close() error {
	return c.conn.Close()
}
