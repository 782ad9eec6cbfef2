// Package main starts the motion feature service and handles termination.
//
// Each websocket connection streams pose landmark frames in and receives one
// feature vector back per frame.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	motioncmd "github.com/louisbranch/cuerposonoro/internal/cmd/motion"
	"github.com/louisbranch/cuerposonoro/internal/platform/config"
)

func main() {
	cfg, err := motioncmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	log.SetPrefix("[MOTION] ")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Probe {
		if err := motioncmd.Probe(ctx, cfg); err != nil {
			config.Exitf("probe failed: %v", err)
		}
		return
	}

	if err := motioncmd.Run(ctx, cfg); err != nil {
		log.Fatalf("failed to serve: %v", err)
	}
}
