package vdmsrv

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/IntelLabs/vdms-go/cmn"
	"github.com/IntelLabs/vdms-go/internal/wire"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := &cmn.Config{}
	cfg.Storage.RootDir = t.TempDir()
	require.NoError(t, cfg.Validate())
	srv, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })
	return srv
}

func TestServerFrameLoop(t *testing.T) {
	srv := newTestServer(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	go func() { _ = srv.Serve(addr) }()

	var conn net.Conn
	for i := 0; i < 50; i++ {
		conn, err = net.Dial("tcp", addr)
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	require.NoError(t, err)
	defer conn.Close()

	req := &wire.Frame{Json: `[{"AddEntity":{"class":"Patient","properties":{"name":"Jane"}}}]`}
	require.NoError(t, wire.Write(conn, req))
	resp, err := wire.Read(conn)
	require.NoError(t, err)
	require.Contains(t, resp.Json, `"status":0`)

	// Second request on the same connection.
	require.NoError(t, wire.Write(conn, req))
	_, err = wire.Read(conn)
	require.NoError(t, err)
}

func TestServerInProcessDispatch(t *testing.T) {
	srv := newTestServer(t)
	resp := srv.Dispatcher().Execute(&wire.Frame{
		Json: `[{"AddEntity":{"class":"A"}}]`,
	})
	require.Contains(t, resp.Json, `"status":0`)
	require.Empty(t, resp.Blobs)
}
