package evloop

import (
	"net"
	"sync"
	"time"

	"github.com/IntelLabs/vdms-go/cmn"
	"github.com/IntelLabs/vdms-go/internal/wire"
)

// UDFClient talks to the local user-defined-function worker over a
// request-reply unix socket. The worker is just
// another wire.Frame peer: the request carries the options JSON and the
// media bytes as the sole blob, the reply carries the transformed bytes
// the same way.
type UDFClient struct {
	socketPath string
	timeout    time.Duration

	mu   sync.Mutex
	conn net.Conn
}

func NewUDFClient(socketPath string, timeout time.Duration) *UDFClient {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &UDFClient{socketPath: socketPath, timeout: timeout}
}

// Call sends one request and waits for its reply. The socket is strictly
// request-reply, so calls are serialized under the client's mutex.
func (c *UDFClient) Call(optionsJSON, data []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	conn, err := c.connect()
	if err != nil {
		return nil, err
	}
	_ = conn.SetDeadline(time.Now().Add(c.timeout))
	req := &wire.Frame{Json: string(optionsJSON), Blobs: [][]byte{data}}
	if err := wire.Write(conn, req); err != nil {
		c.drop()
		return nil, cmn.WrapErr(cmn.Exception, err, "evloop: writing UDF request")
	}
	resp, err := wire.Read(conn)
	if err != nil {
		c.drop()
		return nil, cmn.WrapErr(cmn.Exception, err, "evloop: reading UDF reply")
	}
	if len(resp.Blobs) != 1 {
		return nil, cmn.NewErr(cmn.Error, "evloop: UDF reply carries %d blobs, want 1", len(resp.Blobs))
	}
	return resp.Blobs[0], nil
}

func (c *UDFClient) connect() (net.Conn, error) {
	if c.conn != nil {
		return c.conn, nil
	}
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return nil, cmn.WrapErr(cmn.Exception, err, "evloop: dialing UDF socket %s", c.socketPath)
	}
	c.conn = conn
	return conn, nil
}

func (c *UDFClient) drop() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

// Close releases the socket.
func (c *UDFClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.drop()
}
