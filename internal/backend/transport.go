package backend

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WSDialer opens the push stream over gorilla/websocket with ping keepalive.
// A peer silent for ReadTimeout counts as a transport error.
type WSDialer struct {
	Dialer       *websocket.Dialer
	PingInterval time.Duration
	ReadTimeout  time.Duration
}

func NewWSDialer() *WSDialer {
	return &WSDialer{
		Dialer: &websocket.Dialer{
			HandshakeTimeout:  10 * time.Second,
			EnableCompression: true,
		},
		PingInterval: 25 * time.Second,
		ReadTimeout:  60 * time.Second,
	}
}

func (d *WSDialer) Dial(ctx context.Context, url string) (Conn, error) {
	ws, _, err := d.Dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	ws.SetReadLimit(1 << 20)
	_ = ws.SetReadDeadline(time.Now().Add(d.ReadTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(d.ReadTimeout))
	})

	c := &wsConn{ws: ws, readTimeout: d.ReadTimeout, done: make(chan struct{})}
	go c.keepalive(d.PingInterval)
	return c, nil
}

type wsConn struct {
	ws          *websocket.Conn
	readTimeout time.Duration
	done        chan struct{}
	once        sync.Once
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return nil, err
	}
	_ = c.ws.SetReadDeadline(time.Now().Add(c.readTimeout))
	return data, nil
}

// keepalive uses WriteControl only, which gorilla allows concurrently with
// the reader.
func (c *wsConn) keepalive(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(5*time.Second)); err != nil {
				return
			}
		}
	}
}

func (c *wsConn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
		err = c.ws.Close()
	})
	return err
}
