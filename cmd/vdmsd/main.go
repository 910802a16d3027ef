// vdmsd is the visual-data management daemon: it loads the YAML config,
// initializes the stores and the dispatcher, and serves the length-
// prefixed frame protocol until SIGINT/SIGTERM.
/*
 * Copyright (c) 2018-2026, VDMS-Go Authors. All rights reserved.
 */
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/golang/glog"

	"github.com/IntelLabs/vdms-go/cmn"
	"github.com/IntelLabs/vdms-go/internal/vdmsrv"
)

var configPath = flag.String("config", "config.yaml", "path to the server config file")

func main() {
	flag.Parse()
	defer glog.Flush()

	cfg, err := cmn.Load(*configPath)
	if err != nil {
		glog.Errorf("loading config: %v", err)
		os.Exit(1)
	}

	srv, err := vdmsrv.New(cfg)
	if err != nil {
		glog.Errorf("initializing server: %v", err)
		os.Exit(1)
	}

	if cfg.Net.AdminListen != "" {
		go srv.ServeAdmin(cfg.Net.AdminListen)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sig
		glog.Infof("received %v, shutting down", s)
		if err := srv.Close(); err != nil {
			glog.Errorf("shutdown: %v", err)
		}
	}()

	if err := srv.Serve(cfg.Net.Listen); err != nil {
		glog.Errorf("serve: %v", err)
		os.Exit(1)
	}
}
