// Package vdmsrv hosts the query execution core: it owns the process
// lifecycle of the graph store, the blob store, and the dispatcher, and
// runs the per-connection frame loop. The TCP/TLS listener itself and
// the connection handshake are the thin shell around the core; this
// package keeps that shell minimal.
//
// The Server struct is deliberately singleton-free: every
// collaborator is threaded through it explicitly, so tests construct one
// against a temp directory without touching process-global state.
/*
 * Copyright (c) 2018-2026, VDMS-Go Authors. All rights reserved.
 */
package vdmsrv

import (
	"net"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/IntelLabs/vdms-go/cmn"
	"github.com/IntelLabs/vdms-go/internal/dispatch"
	"github.com/IntelLabs/vdms-go/internal/evloop"
	"github.com/IntelLabs/vdms-go/internal/pgraph"
	"github.com/IntelLabs/vdms-go/internal/store"
	"github.com/IntelLabs/vdms-go/internal/wire"
)

// Server wires the core together for one database root.
type Server struct {
	cfg   *cmn.Config
	graph *pgraph.Store
	blobs store.ObjectStore
	local *store.LocalStore
	disp  *dispatch.Dispatcher
	stats *Metrics

	mu       sync.Mutex
	ln       net.Listener
	shutdown bool
	conns    map[net.Conn]struct{}
}

// New initializes the stores and the dispatcher. The caller owns the
// returned Server and must Close it.
func New(cfg *cmn.Config) (*Server, error) {
	graph, err := pgraph.New(cfg.Lock.MaxAttempts)
	if err != nil {
		return nil, err
	}
	local, err := store.NewLocal(cfg.Storage.RootDir)
	if err != nil {
		graph.Close()
		return nil, err
	}
	var blobs store.ObjectStore = local
	if cfg.Storage.ObjectStore.Enabled {
		s3, err := store.NewS3(cfg.Storage.ObjectStore)
		if err != nil {
			graph.Close()
			return nil, err
		}
		blobs = s3
	}

	var udf *evloop.UDFClient
	if cfg.UDF.SocketPath != "" {
		udf = evloop.NewUDFClient(cfg.UDF.SocketPath, time.Duration(cfg.UDF.TimeoutSec)*time.Second)
	}
	disp, err := dispatch.New(dispatch.Options{
		Graph:   graph,
		Blobs:   blobs,
		Remote:  evloop.NewRemoteClient(0, 0),
		UDF:     udf,
		TempDir: cfg.Storage.TempDir,
	})
	if err != nil {
		graph.Close()
		return nil, err
	}

	srv := &Server{
		cfg:   cfg,
		graph: graph,
		blobs: blobs,
		local: local,
		disp:  disp,
		stats: NewMetrics(),
		conns: make(map[net.Conn]struct{}),
	}
	if avail, err := local.Available(); err == nil {
		glog.Infof("store %s: %d bytes available", cfg.Storage.RootDir, avail)
		srv.stats.StoreAvailable.Set(float64(avail))
	}
	return srv, nil
}

// Graph exposes the store for offline operations (BuildIndex) and tests.
func (s *Server) Graph() *pgraph.Store { return s.graph }

// Dispatcher exposes the command surface for in-process callers.
func (s *Server) Dispatcher() *dispatch.Dispatcher { return s.disp }

// Serve accepts connections on addr and runs a frame loop per
// connection until Close.
func (s *Server) Serve(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	glog.Infof("listening on %s", addr)
	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			down := s.shutdown
			s.mu.Unlock()
			if down {
				return nil
			}
			glog.Errorf("accept: %v", err)
			continue
		}
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()
		go s.serveConn(conn)
	}
}

// serveConn is the per-connection frame loop: read one request frame,
// execute the batch, write one response frame.
func (s *Server) serveConn(conn net.Conn) {
	defer func() {
		_ = conn.Close()
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()
	for {
		req, err := wire.Read(conn)
		if err != nil {
			glog.V(2).Infof("connection %s closed: %v", conn.RemoteAddr(), err)
			return
		}
		started := time.Now()
		resp := s.disp.Execute(req)
		s.stats.Observe(req, resp, time.Since(started))
		if err := wire.Write(conn, resp); err != nil {
			glog.Errorf("writing response to %s: %v", conn.RemoteAddr(), err)
			return
		}
	}
}

// Close stops the listener and drops open connections.
func (s *Server) Close() error {
	s.mu.Lock()
	s.shutdown = true
	ln := s.ln
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.mu.Unlock()
	if ln != nil {
		_ = ln.Close()
	}
	return s.graph.Close()
}
