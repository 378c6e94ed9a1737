package stomp

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
)

var errClosed = errors.New("stomp: websocket closed")

// wsPeer is the part of *websocket.Conn the adapter uses.
type wsPeer interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// wsConn presents a websocket as the byte stream the STOMP client expects.
// Outbound bytes are buffered until a frame terminator so that every STOMP
// frame (or heart-beat EOL) travels as one websocket message.
type wsConn struct {
	ws     wsPeer
	sockjs bool

	readBuf []byte

	wmu  sync.Mutex
	wbuf []byte

	closeOnce sync.Once
	done      chan struct{}
	errMu     sync.Mutex
	err       error
}

func newWSConn(ws wsPeer, sockjs bool) *wsConn {
	return &wsConn{ws: ws, sockjs: sockjs, done: make(chan struct{})}
}

func (c *wsConn) Read(p []byte) (int, error) {
	for len(c.readBuf) == 0 {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.fail(err)
			return 0, err
		}
		if !c.sockjs {
			c.readBuf = data
			continue
		}

		f, err := decodeSockJSFrame(data)
		if err != nil {
			c.fail(err)
			return 0, err
		}
		switch f.kind {
		case sockjsOpen, sockjsHeartbeat:
		case sockjsClose:
			err := fmt.Errorf("sockjs: closed by server (%d %s)", f.code, f.reason)
			c.fail(err)
			return 0, err
		case sockjsArray:
			for _, m := range f.messages {
				c.readBuf = append(c.readBuf, m...)
			}
		}
	}
	n := copy(p, c.readBuf)
	c.readBuf = c.readBuf[n:]
	return n, nil
}

func (c *wsConn) Write(p []byte) (int, error) {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	select {
	case <-c.done:
		return 0, errClosed
	default:
	}

	c.wbuf = append(c.wbuf, p...)
	for {
		end := frameEnd(c.wbuf)
		if end < 0 {
			break
		}
		if err := c.send(c.wbuf[:end]); err != nil {
			c.fail(err)
			return 0, err
		}
		c.wbuf = c.wbuf[end:]
	}
	if len(c.wbuf) == 0 {
		c.wbuf = nil
	}
	return len(p), nil
}

// frameEnd returns the length of the first complete frame or heart-beat in
// buf, or -1 when more bytes are needed.
func frameEnd(buf []byte) int {
	switch {
	case len(buf) == 0:
		return -1
	case buf[0] == '\n':
		return 1
	case len(buf) >= 2 && buf[0] == '\r' && buf[1] == '\n':
		return 2
	}
	if i := bytes.IndexByte(buf, 0); i >= 0 {
		return i + 1
	}
	return -1
}

func (c *wsConn) send(msg []byte) error {
	if !c.sockjs {
		return c.ws.WriteMessage(websocket.TextMessage, msg)
	}
	data, err := encodeSockJSFrame(msg)
	if err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) fail(err error) {
	c.errMu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.errMu.Unlock()
	c.Close()
}

// Close closes the websocket; it is safe to call more than once.
func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.errMu.Lock()
		if c.err == nil {
			c.err = errClosed
		}
		c.errMu.Unlock()
		close(c.done)
		err = c.ws.Close()
	})
	return err
}

func (c *wsConn) Done() <-chan struct{} { return c.done }

func (c *wsConn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}
