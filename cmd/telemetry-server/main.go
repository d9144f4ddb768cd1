// Copyright (C) 2026 Southampton University Formula Student.
// All rights reserved. This file is part of intermediate-server.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/sufst/intermediate-server/internal/config"
	"github.com/sufst/intermediate-server/internal/controller"
	"github.com/sufst/intermediate-server/internal/telelog"
)

func main() {
	var flagConfigFile, flagLogLevel string
	flag.StringVar(&flagConfigFile, "config", "./config.json", "Path to the server's `config.json`")
	flag.StringVar(&flagLogLevel, "loglevel", "info", "Minimum log level: debug, info, warn, or err")
	flag.Parse()

	telelog.SetLogLevel(flagLogLevel)

	cfg, err := config.Load(flagConfigFile)
	if err != nil {
		telelog.Errorf("startup: %v", err)
		os.Exit(1)
	}

	ctl, err := controller.New(cfg)
	if err != nil {
		if controller.IsTransportInitError(err) {
			telelog.Errorf("startup: %v", err)
			os.Exit(controller.ExitTransportInit)
		}
		telelog.Errorf("startup: %v", err)
		os.Exit(controller.ExitConfigInvalid)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		telelog.Info("shutdown: signal received, draining")
		cancel()
	}()

	if err := ctl.Run(ctx); err != nil {
		telelog.Errorf("shutdown: %v", err)
		os.Exit(1)
	}
}
