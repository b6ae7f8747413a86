// Package daemon assembles the authoritative side of one mKTL store process
// (spec.md §4.K): loads or creates its configuration block, rebinds its
// cached ports, lets caller code claim authoritative items, replays
// persisted state, and only then starts serving and announcing on the
// fabric. The ten-step ordering in Start is load-bearing — any reordering
// risks serving stale state or losing provenance, per §4.K's own note.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/KeckObservatory/mktl-go/internal/logging"
	"github.com/KeckObservatory/mktl-go/pkg/codec"
	"github.com/KeckObservatory/mktl-go/pkg/config"
	"github.com/KeckObservatory/mktl-go/pkg/configcache"
	"github.com/KeckObservatory/mktl-go/pkg/discovery"
	"github.com/KeckObservatory/mktl-go/pkg/item"
	"github.com/KeckObservatory/mktl-go/pkg/message"
	"github.com/KeckObservatory/mktl-go/pkg/mktlerr"
	"github.com/KeckObservatory/mktl-go/pkg/persist"
	"github.com/KeckObservatory/mktl-go/pkg/session"
	"github.com/KeckObservatory/mktl-go/pkg/store"
	"github.com/KeckObservatory/mktl-go/pkg/transport"
)

// SetupFunc is the user hook invoked at §4.K step 5: it claims authoritative
// items via AddItem before any defaults are filled in.
type SetupFunc func(d *Daemon) error

// SetupFinalFunc is the user hook invoked at §4.K step 9, after persisted
// values have been replayed and the flusher is running but before the
// daemon starts announcing itself.
type SetupFinalFunc func(d *Daemon) error

// Config collects everything Start needs to assemble a daemon process.
type Config struct {
	// Store is the store name this daemon is authoritative for.
	Store string
	// Host is the address Reply/Publish sockets bind to and advertise.
	Host string
	// BroadcastAddr is the UDP broadcast address discovery announces on
	// (e.g. "255.255.255.255:10199"); empty disables broadcast announce.
	BroadcastAddr string
	// DiscoveryPort is the UDP port the discovery Responder listens on.
	DiscoveryPort int

	Items map[string]configcache.ItemConfig

	Setup      SetupFunc
	SetupFinal SetupFinalFunc

	Runtime config.RuntimeConfig
	Logger  logging.Logger
}

// Daemon is one running authoritative store process.
type Daemon struct {
	storeName string
	host      string
	hostname  string
	runtime   config.RuntimeConfig
	logger    logging.Logger

	disk  *configcache.DiskStore
	cache *configcache.Cache
	block configcache.Block

	items *store.Store

	mu            sync.Mutex
	authoritative map[string]bool

	rep       *transport.ReplySocket
	pub       *transport.PublishSocket
	reqServer *session.RequestServer
	flusher   *persist.Flusher
	responder *discovery.Responder

	broadcastAddr string
}

// Start runs the full §4.K assembly sequence and returns a running Daemon.
// The returned context.CancelFunc-free Daemon keeps running until Stop is
// called; callers typically invoke Start, then call Serve(ctx) in a
// goroutine to run the request-server accept loop.
func Start(ctx context.Context, cfg Config) (*Daemon, error) {
	runtime := cfg.Runtime
	if runtime.Home == "" {
		runtime = config.Get()
	}
	logger := logging.OrDefault(cfg.Logger).Bind("store", cfg.Store)
	hostname, err := os.Hostname()
	if err != nil {
		hostname = cfg.Host
	}

	disk, err := configcache.NewDiskStore(filepath.Join(runtime.Home, "config"))
	if err != nil {
		return nil, err
	}
	cache := configcache.NewCache()

	// Step 1: load or create this daemon's own configuration block.
	block, err := disk.LoadCurrent(cfg.Store)
	if err != nil {
		var missing *mktlerr.ConfigurationMissingError
		if !errors.As(err, &missing) {
			return nil, err
		}
		block = configcache.NewBlock(cfg.Store, cfg.Items)
	}
	cache.Ingest(block)

	d := &Daemon{
		storeName:     cfg.Store,
		host:          cfg.Host,
		hostname:      hostname,
		runtime:       runtime,
		logger:        logger,
		disk:          disk,
		cache:         cache,
		block:         block,
		authoritative: make(map[string]bool),
		broadcastAddr: cfg.BroadcastAddr,
	}
	d.items = store.New(cfg.Store, d.lazyClientItem)

	// Step 2: read cached (rep_port, pub_port) for this UUID and attempt to
	// rebind them, falling back to auto-assignment.
	repPort, pubPort := d.loadCachedPorts(block.UUID)
	repLn, repPort, err := transport.BindPreferredOrAuto(cfg.Host, repPort, runtime.PortRangeLow, runtime.PortRangeHigh, "rep")
	if err != nil {
		return nil, err
	}
	pubLn, pubPort, err := transport.BindPreferredOrAuto(cfg.Host, pubPort, runtime.PortRangeLow, runtime.PortRangeHigh, "pub")
	if err != nil {
		repLn.Close()
		return nil, err
	}
	d.rep = transport.NewReplySocketFromListener(repLn, repPort)
	d.pub = transport.NewPublishSocketFromListener(pubLn, pubPort)

	// Step 3: persist the bound ports.
	if err := d.saveCachedPorts(block.UUID, repPort, pubPort); err != nil {
		logger.Warn("persist_ports_failed", "error", err)
	}

	// Step 4: construct stratum-0 provenance and patch it into the block.
	d.block = d.block.WithStratum(configcache.ProvenanceEntry{
		Stratum:  0,
		Hostname: hostname,
		Rep:      repPort,
		Pub:      pubPort,
	})
	d.cache.Ingest(d.block)
	if err := d.disk.Save(d.block); err != nil {
		logger.Warn("persist_block_failed", "error", err)
	}

	d.reqServer = session.NewRequestServer(d.rep, fmt.Sprintf("%s-daemon", cfg.Store), d.handleRequest, runtime.RequestWorkers)

	// Step 5: user setup() hook claims authoritative items.
	if cfg.Setup != nil {
		if err := cfg.Setup(d); err != nil {
			return nil, fmt.Errorf("daemon: setup: %w", err)
		}
	}

	// Step 6: default-construct any configured key not yet claimed.
	for key := range cfg.Items {
		lower := strings.ToLower(key)
		d.mu.Lock()
		claimed := d.authoritative[lower]
		d.mu.Unlock()
		if claimed {
			continue
		}
		if err := d.AddItem(lower, item.NewDefaultHooks(nil)); err != nil {
			return nil, err
		}
	}

	// Step 7: replay persisted values via req_set.
	entries, err := persist.Replay(runtime.Home, block.UUID)
	if err != nil {
		logger.Warn("persist_replay_failed", "error", err)
	}
	for _, entry := range entries {
		it, err := d.items.Item(entry.Key)
		if err != nil {
			logger.Warn("persist_replay_item_failed", "key", entry.Key, "error", err)
			continue
		}
		if entry.Bulk != nil {
			entry.Payload.Bulk = true
		}
		if err := it.Restore(ctx, entry.Payload); err != nil {
			logger.Warn("persist_replay_set_failed", "key", entry.Key, "error", err)
		}
	}

	// Step 8: spawn the persistence flusher.
	flusher, err := persist.NewFlusher(runtime.Home, block.UUID, runtime.PersistenceFlushInterval, logger)
	if err != nil {
		return nil, err
	}
	flusher.Start()
	d.flusher = flusher

	// Step 9: user setup_final() hook.
	if cfg.SetupFinal != nil {
		if err := cfg.SetupFinal(d); err != nil {
			return nil, fmt.Errorf("daemon: setup_final: %w", err)
		}
	}

	// Step 10: start the discovery responder, announce presence, and make
	// the current block available to CONFIG requests (handled in
	// handleRequest).
	responder, err := discovery.NewResponder(cfg.DiscoveryPort, cfg.Store, cfg.Host, repPort, runtime.DiscoveryDebounce)
	if err != nil {
		return nil, err
	}
	d.responder = responder
	if cfg.BroadcastAddr != "" {
		if err := discovery.Announce(cfg.BroadcastAddr, cfg.Store, cfg.Host, repPort); err != nil {
			logger.Warn("discovery_announce_failed", "error", err)
		}
	}

	return d, nil
}

// Serve runs the request-server accept loop until ctx is cancelled.
func (d *Daemon) Serve(ctx context.Context) error {
	return d.reqServer.Serve(ctx)
}

// Store exposes the daemon's item Store.
func (d *Daemon) Store() *store.Store { return d.items }

// Block returns the daemon's current configuration block.
func (d *Daemon) Block() configcache.Block { return d.block }

// RepPort and PubPort report the bound socket ports, for the caller's own
// logging or registry advertisement.
func (d *Daemon) RepPort() int { return d.rep.Port() }
func (d *Daemon) PubPort() int { return d.pub.Port() }

// AddItem claims key as authoritative, backed by hooks, rejecting a second
// claim for the same key (§4.K step 5/6's DuplicateItem).
func (d *Daemon) AddItem(key string, hooks item.AuthoritativeHooks) error {
	lower := strings.ToLower(key)
	d.mu.Lock()
	if d.authoritative[lower] {
		d.mu.Unlock()
		return &mktlerr.DuplicateItemError{Store: d.storeName, Key: lower}
	}
	d.authoritative[lower] = true
	d.mu.Unlock()

	cfg, _ := d.cache.ItemConfig(d.storeName, lower)
	it := item.NewDaemonItem(d.storeName, lower, cfg, &item.DaemonBinding{Hooks: hooks, Pub: d.pub}, d.logger.Bind("key", lower))
	return d.items.Register(lower, it)
}

// lazyClientItem is never expected to run: every authoritative key is
// registered up front in Start (steps 5/6), so a daemon's own Store never
// needs to lazily construct an Item the way a client-side mktl.get() does.
func (d *Daemon) lazyClientItem(key string) (*item.Item, error) {
	return nil, &mktlerr.ConfigurationMissingError{Store: d.storeName}
}

func (d *Daemon) handleRequest(ctx context.Context, req message.Envelope) (*message.Payload, error) {
	switch req.Type {
	case message.TypeConfig:
		return &message.Payload{Value: d.block}, nil
	case message.TypeHash:
		return &message.Payload{Value: d.block.Hash}, nil
	case message.TypeGet:
		it, err := d.items.Item(strings.ToLower(req.Key))
		if err != nil {
			return nil, err
		}
		refresh := req.Payload != nil && req.Payload.Refresh
		return it.Get(ctx, refresh)
	case message.TypeSet:
		it, err := d.items.Item(strings.ToLower(req.Key))
		if err != nil {
			return nil, err
		}
		if err := it.Set(ctx, req.Payload); err != nil {
			return nil, err
		}
		value, ts := it.Value()
		if d.flusher != nil {
			d.flusher.Enqueue(strings.ToLower(req.Key), &message.Payload{Value: value, Time: ts}, nil)
		}
		return &message.Payload{Value: value, Time: ts}, nil
	default:
		return nil, &mktlerr.NotSupportedError{Operation: string(req.Type)}
	}
}

func (d *Daemon) loadCachedPorts(uuid string) (rep, pub int) {
	path := d.portsPath(uuid)
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, 0
	}
	var cached struct {
		Rep int `json:"rep"`
		Pub int `json:"pub"`
	}
	if err := codec.Default.Unmarshal(raw, &cached); err != nil {
		return 0, 0
	}
	return cached.Rep, cached.Pub
}

func (d *Daemon) saveCachedPorts(uuid string, rep, pub int) error {
	dir := filepath.Join(d.runtime.Home, "daemon", "ports")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := codec.Default.Marshal(struct {
		Rep int `json:"rep"`
		Pub int `json:"pub"`
	}{rep, pub})
	if err != nil {
		return err
	}
	return os.WriteFile(d.portsPath(uuid), data, 0o644)
}

func (d *Daemon) portsPath(uuid string) string {
	return filepath.Join(d.runtime.Home, "daemon", "ports", uuid+".json")
}

// Stop tears down every component Start brought up, in reverse order.
func (d *Daemon) Stop() {
	if d.responder != nil {
		d.responder.Stop()
	}
	if d.flusher != nil {
		d.flusher.Stop()
	}
	if d.pub != nil {
		d.pub.Stop()
	}
	if d.rep != nil {
		d.rep.Stop()
	}
}
