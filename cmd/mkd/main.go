// Command mkd runs one authoritative mKTL store daemon (spec.md §4.K).
//
// Usage:
//
//	go run ./cmd/mkd -store dcs -host 127.0.0.1
//	go build -o mkd ./cmd/mkd && ./mkd -store dcs -broadcast 255.255.255.255:10199
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/KeckObservatory/mktl-go/internal/logging"
	"github.com/KeckObservatory/mktl-go/pkg/config"
	"github.com/KeckObservatory/mktl-go/pkg/configcache"
	"github.com/KeckObservatory/mktl-go/pkg/daemon"
)

func main() {
	store := flag.String("store", "", "store name this daemon is authoritative for (required)")
	host := flag.String("host", "127.0.0.1", "address the Reply/Publish sockets bind to and advertise")
	discoveryPort := flag.Int("discovery-port", 10199, "UDP port the discovery responder listens on")
	broadcastAddr := flag.String("broadcast", "", "UDP broadcast address to announce on, e.g. 255.255.255.255:10199 (empty disables announce)")
	flag.Parse()

	if *store == "" {
		fmt.Fprintln(os.Stderr, "mkd: -store is required")
		os.Exit(2)
	}

	logger := logging.NewStdLogger().Bind("store", *store)
	logger.Info("mkd_starting", "host", *host, "discovery_port", *discoveryPort)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d, err := daemon.Start(ctx, daemon.Config{
		Store:         *store,
		Host:          *host,
		BroadcastAddr: *broadcastAddr,
		DiscoveryPort: *discoveryPort,
		Items:         map[string]configcache.ItemConfig{},
		Runtime:       config.Get(),
		Logger:        logger,
	})
	if err != nil {
		log.Fatalf("mkd: failed to start daemon: %v", err)
	}

	go func() {
		if err := d.Serve(ctx); err != nil {
			logger.Error("mkd_serve_failed", "error", err)
		}
	}()

	logger.Info("mkd_ready", "rep_port", d.RepPort(), "pub_port", d.PubPort())
	fmt.Printf("mkd: %s daemon serving on %s (rep %d, pub %d)\n", *store, *host, d.RepPort(), d.PubPort())
	fmt.Println("Press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutdown_signal_received", "signal", sig.String())

	cancel()
	d.Stop()
	logger.Info("mkd_stopped")
}
