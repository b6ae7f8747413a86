// Command mkregistryd runs a standalone discovery responder (spec.md §5)
// for a store whose Reply/Publish sockets live on another host or process
// not itself listening for UDP broadcast probes. It answers "where is store
// X" queries with a fixed, operator-supplied address rather than deriving
// one from a locally running daemon.
//
// Usage:
//
//	go run ./cmd/mkregistryd -store dcs -rep-host 10.0.1.12 -rep-port 12345
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/KeckObservatory/mktl-go/internal/logging"
	"github.com/KeckObservatory/mktl-go/pkg/config"
	"github.com/KeckObservatory/mktl-go/pkg/discovery"
)

func main() {
	store := flag.String("store", "", "store name to answer discovery probes for (required)")
	repHost := flag.String("rep-host", "", "host to advertise for the store's Reply socket (required)")
	repPort := flag.Int("rep-port", 0, "port to advertise for the store's Reply socket (required)")
	discoveryPort := flag.Int("discovery-port", 10199, "UDP port to listen for discovery probes on")
	flag.Parse()

	if *store == "" || *repHost == "" || *repPort == 0 {
		fmt.Fprintln(os.Stderr, "mkregistryd: -store, -rep-host, and -rep-port are all required")
		os.Exit(2)
	}

	logger := logging.NewStdLogger().Bind("store", *store)
	logger.Info("mkregistryd_starting", "discovery_port", *discoveryPort, "rep_host", *repHost, "rep_port", *repPort)

	runtime := config.Get()
	responder, err := discovery.NewResponder(*discoveryPort, *store, *repHost, *repPort, runtime.DiscoveryDebounce)
	if err != nil {
		log.Fatalf("mkregistryd: failed to start responder: %v", err)
	}

	logger.Info("mkregistryd_ready", "local_port", responder.LocalPort())
	fmt.Printf("mkregistryd: answering for %s at %s:%d on UDP :%d\n", *store, *repHost, *repPort, responder.LocalPort())
	fmt.Println("Press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutdown_signal_received", "signal", sig.String())

	if err := responder.Stop(); err != nil {
		logger.Error("mkregistryd_stop_failed", "error", err)
	}
	logger.Info("mkregistryd_stopped")
}
