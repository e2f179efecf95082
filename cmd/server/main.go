// Command server hosts an Engine behind the net/rpc wire protocol.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/epokhe/kvengine"
	"github.com/epokhe/kvengine/internal/remote"
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage:\n")
	fmt.Fprintf(os.Stderr, "  server -path <data-dir> [-addr host:port] [-debug]\n")
	os.Exit(1)
}

func main() {
	var (
		addr  = flag.String("addr", "127.0.0.1:5000", "RPC listen address")
		path  = flag.String("path", "", "path to data directory")
		debug = flag.Bool("debug", false, "use a development logger")
	)
	flag.Parse()

	if *path == "" {
		usage()
	}

	var zl *zap.Logger
	var err error
	if *debug {
		zl, err = zap.NewDevelopment()
	} else {
		zl, err = zap.NewProduction()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not build logger: %v\n", err)
		os.Exit(1)
	}
	logger := zl.Sugar()
	defer logger.Sync() //nolint:errcheck

	e, err := kvengine.Open(*path, kvengine.WithLogger(logger))
	if err != nil {
		logger.Fatalw("could not open store", "error", err)
	}

	listener, err := remote.Serve(e, *addr, logger)
	if err != nil {
		_ = e.Close()
		logger.Fatalw("could not start RPC server", "error", err)
	}
	logger.Infow("RPC server listening", "addr", listener.Addr().String())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Infow("received signal, shutting down", "signal", sig.String())

	_ = listener.Close()
	if err := e.Close(); err != nil {
		logger.Errorw("error closing store", "error", err)
		os.Exit(1)
	}
}
