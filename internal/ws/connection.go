package ws

import (
	"bufio"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// connection is one established websocket to the server. Writes are
// serialized by writeMu; reads happen only on the session's read loop.
type connection struct {
	conn         net.Conn
	writeTimeout time.Duration
	writeMu      sync.Mutex
	lastRead     atomic.Int64
	done         chan struct{}
	closeOnce    sync.Once
}

func newConnection(conn net.Conn, br *bufio.Reader, writeTimeout time.Duration) *connection {
	// The dialer may have buffered the first server frames while reading the
	// handshake response.
	if br != nil && br.Buffered() > 0 {
		conn = &bufferedConn{Conn: conn, r: io.MultiReader(br, conn)}
	} else if br != nil {
		ws.PutReader(br)
	}
	c := &connection{
		conn:         conn,
		writeTimeout: writeTimeout,
		done:         make(chan struct{}),
	}
	c.touch()
	return c
}

// write sends a masked text frame.
func (c *connection) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return wsutil.WriteClientMessage(c.conn, ws.OpText, data)
}

// read blocks for the next text frame, answering control frames inline.
func (c *connection) read(deadline time.Time) ([]byte, error) {
	if !deadline.IsZero() {
		_ = c.conn.SetReadDeadline(deadline)
	}
	data, err := wsutil.ReadServerText(c.conn)
	if err != nil {
		return nil, err
	}
	c.touch()
	return data, nil
}

func (c *connection) touch() { c.lastRead.Store(time.Now().UnixNano()) }

func (c *connection) idle() time.Duration {
	return time.Since(time.Unix(0, c.lastRead.Load()))
}

func (c *connection) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = wsutil.WriteClientMessage(c.conn, ws.OpClose, ws.NewCloseFrameBody(ws.StatusNormalClosure, ""))
		c.writeMu.Unlock()
		_ = c.conn.Close()
	})
}

type bufferedConn struct {
	net.Conn
	r io.Reader
}

func (b *bufferedConn) Read(p []byte) (int, error) { return b.r.Read(p) }
