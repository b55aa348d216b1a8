// Command envworker runs a single environment-stepping client process:
// it dials a controller's command and request endpoints, handshakes,
// and steps one randomenv.Env slot until the controller sends CLOSE.
//
// A production fleet launches many copies of this binary (one per
// environment instance, typically one per Job/DaemonSet pod) pointed
// at the same controller; see cmd/envpeers for how they discover the
// controller's address in a Kubernetes headless-service deployment.
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/sneller-labs/vecenv/examples/randomenv"
	"github.com/sneller-labs/vecenv/worker"
)

func main() {
	fs := flag.NewFlagSet("envworker", flag.ExitOnError)
	cfg, err := worker.ParseFlags(fs, os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	logger := log.New(os.Stderr, "envworker: ", log.LstdFlags|log.Lmsgprefix)

	w := worker.New(cfg, randomenv.New, nil, logger)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		logger.Println("signal received, closing")
		w.Close()
	}()

	if err := w.Run(); err != nil {
		logger.Fatal(err)
	}
}
