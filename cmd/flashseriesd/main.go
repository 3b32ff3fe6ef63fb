// Command flashseriesd runs the time-series store behind the line-oriented
// TCP protocol.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/devraj-patil/flashseries/protocol"
	"github.com/devraj-patil/flashseries/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	sstableDir := flag.String("sstable-dir", "data/sstables", "directory holding SSTable files")
	walPath := flag.String("wal-path", "data/wal.log", "path to the write-ahead log")
	memtableThreshold := flag.Int("memtable-threshold", 10000, "total point count that triggers the next flush cycle")
	listen := flag.String("listen", ":4280", "address to serve the line protocol on")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	st, err := store.Open(store.Config{
		SSTableDir:            *sstableDir,
		WALPath:               *walPath,
		MemtableSizeThreshold: *memtableThreshold,
		Logger:                logger,
	})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	srv, err := protocol.NewServer(*listen, st, logger)
	if err != nil {
		return fmt.Errorf("start server: %w", err)
	}

	logger.Info("flashseriesd listening", zap.String("addr", srv.Addr().String()))

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve() }()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errc:
		return fmt.Errorf("server stopped: %w", err)
	case sig := <-sigc:
		logger.Info("shutting down", zap.String("signal", sig.String()))
		return srv.Close()
	}
}
