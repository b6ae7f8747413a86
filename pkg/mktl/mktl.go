// Package mktl is the public client facade (spec.md §4.L): a factory plus
// singleton cache resolving a store name down to a usable Store/Item through
// four tiers — the in-memory Store cache, in-memory configuration blocks,
// the on-disk cache (refreshed via a provenance-walk HASH/CONFIG exchange),
// and finally a discovery broadcast — raising NotAvailableError only once
// every tier has been exhausted.
package mktl

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/KeckObservatory/mktl-go/internal/logging"
	"github.com/KeckObservatory/mktl-go/pkg/codec"
	"github.com/KeckObservatory/mktl-go/pkg/config"
	"github.com/KeckObservatory/mktl-go/pkg/configcache"
	"github.com/KeckObservatory/mktl-go/pkg/discovery"
	"github.com/KeckObservatory/mktl-go/pkg/item"
	"github.com/KeckObservatory/mktl-go/pkg/message"
	"github.com/KeckObservatory/mktl-go/pkg/mktlerr"
	"github.com/KeckObservatory/mktl-go/pkg/session"
	"github.com/KeckObservatory/mktl-go/pkg/store"
	"github.com/KeckObservatory/mktl-go/pkg/transport"
)

// DiscoveryOptions configures the last-resort broadcast tier.
type DiscoveryOptions struct {
	BroadcastAddr string
	Timeout       time.Duration
}

// Client is the resolved, process-wide facade: it owns the singleton Store
// cache and the in-memory/disk configuration caches every Get call
// consults in order.
type Client struct {
	runtime   config.RuntimeConfig
	clientID  string
	logger    logging.Logger
	discovery DiscoveryOptions

	disk  *configcache.DiskStore
	cache *configcache.Cache

	mu     sync.Mutex
	stores map[string]*store.Store
}

// NewClient builds a Client rooted at runtime.Home, identifying itself on
// the wire as clientID.
func NewClient(runtime config.RuntimeConfig, clientID string, discoveryOpts DiscoveryOptions, logger logging.Logger) (*Client, error) {
	disk, err := configcache.NewDiskStore(filepath.Join(runtime.Home, "config"))
	if err != nil {
		return nil, err
	}
	if discoveryOpts.Timeout == 0 {
		discoveryOpts.Timeout = 2 * time.Second
	}
	return &Client{
		runtime:   runtime,
		clientID:  clientID,
		logger:    logging.OrDefault(logger),
		discovery: discoveryOpts,
		disk:      disk,
		cache:     configcache.NewCache(),
		stores:    make(map[string]*store.Store),
	}, nil
}

// Get resolves storeName to a Store, constructing and caching it on first
// use (§4.L tiers 1-4).
func (c *Client) Get(ctx context.Context, storeName string) (*store.Store, error) {
	lower := strings.ToLower(storeName)

	// Tier 1: in-memory Store cache.
	c.mu.Lock()
	if s, ok := c.stores[lower]; ok {
		c.mu.Unlock()
		return s, nil
	}
	c.mu.Unlock()

	block, err := c.resolveBlock(ctx, lower)
	if err != nil {
		return nil, err
	}

	s := store.New(lower, c.clientItemFactory(lower, block))
	c.mu.Lock()
	c.stores[lower] = s
	c.mu.Unlock()
	return s, nil
}

// GetItem resolves storeName.key in one call, the common case of the
// original's client.get(store.key) data flow.
func (c *Client) GetItem(ctx context.Context, storeName, key string) (*item.Item, error) {
	s, err := c.Get(ctx, storeName)
	if err != nil {
		return nil, err
	}
	return s.Item(strings.ToLower(key))
}

// resolveBlock walks tiers 2-4 of §4.L.
func (c *Client) resolveBlock(ctx context.Context, storeName string) (configcache.Block, error) {
	// Tier 2: in-memory configuration blocks.
	if block, ok := c.cache.Latest(storeName); ok {
		return block, nil
	}

	// Tier 3: disk cache, then refresh via provenance walk.
	if block, err := c.disk.LoadCurrent(storeName); err == nil {
		refreshed := c.refresh(ctx, block)
		c.cache.Ingest(refreshed)
		if err := c.disk.Save(refreshed); err != nil {
			c.logger.Warn("config_disk_save_failed", "store", storeName, "error", err)
		}
		return refreshed, nil
	}

	// Tier 4: discovery broadcast.
	if c.discovery.BroadcastAddr != "" {
		addrs, err := discovery.Probe(c.discovery.BroadcastAddr, storeName, c.discovery.Timeout)
		if err == nil && len(addrs) > 0 {
			if block, err := c.requestConfig(ctx, addrs[0], storeName); err == nil {
				c.cache.Ingest(block)
				if err := c.disk.Save(block); err != nil {
					c.logger.Warn("config_disk_save_failed", "store", storeName, "error", err)
				}
				return block, nil
			}
		}
	}

	return configcache.Block{}, &mktlerr.NotAvailableError{Store: storeName}
}

// refresh walks block's provenance from the highest stratum down, sending
// HASH to each; the first stratum whose hash no longer matches triggers a
// CONFIG fetch from that same stratum, on the assumption that a relay
// closer to the requester has the freshest view (§4.L step 3). If every
// stratum is unreachable or still matches, block is returned unchanged.
func (c *Client) refresh(ctx context.Context, block configcache.Block) configcache.Block {
	strata := append([]configcache.ProvenanceEntry{}, block.Provenance...)
	sort.Slice(strata, func(i, j int) bool { return strata[i].Stratum > strata[j].Stratum })

	for _, entry := range strata {
		hash, err := c.requestHash(ctx, entry, block.Store)
		if err != nil {
			continue
		}
		if hash == block.Hash {
			return block
		}
		if fresh, err := c.requestConfig(ctx, fmt.Sprintf("%s:%d", entry.Hostname, entry.Rep), block.Store); err == nil {
			return fresh
		}
	}
	return block
}

func (c *Client) requestHash(ctx context.Context, entry configcache.ProvenanceEntry, storeName string) (string, error) {
	payload, err := c.roundTrip(ctx, fmt.Sprintf("%s:%d", entry.Hostname, entry.Rep), message.TypeHash, storeName)
	if err != nil {
		return "", err
	}
	if payload == nil {
		return "", fmt.Errorf("mktl: HASH reply for %q carried no payload", storeName)
	}
	hash, ok := payload.Value.(string)
	if !ok {
		return "", fmt.Errorf("mktl: HASH reply for %q carried a non-string value", storeName)
	}
	return hash, nil
}

func (c *Client) requestConfig(ctx context.Context, address, storeName string) (configcache.Block, error) {
	payload, err := c.roundTrip(ctx, address, message.TypeConfig, storeName)
	if err != nil {
		return configcache.Block{}, err
	}
	if payload == nil {
		return configcache.Block{}, fmt.Errorf("mktl: CONFIG reply for %q carried no payload", storeName)
	}
	return decodeBlock(payload.Value)
}

func (c *Client) roundTrip(ctx context.Context, address string, typ message.Type, key string) (*message.Payload, error) {
	conn, err := transport.Dial(address)
	if err != nil {
		return nil, err
	}
	sess := session.NewRequestSession(conn, c.clientID, c.runtime.AckTimeout, c.runtime.ReplyTimeout)
	defer sess.Close()

	req, err := message.NewRequest(typ, c.clientID, key, nil)
	if err != nil {
		return nil, err
	}
	return sess.Send(ctx, req)
}

// decodeBlock round-trips value (a generic any decoded from a wire JSON
// payload) back through the codec into a typed Block, since a Payload's
// Value travels as untyped JSON rather than a Go struct.
func decodeBlock(value any) (configcache.Block, error) {
	raw, err := codec.Default.Marshal(value)
	if err != nil {
		return configcache.Block{}, err
	}
	var block configcache.Block
	if err := codec.Default.Unmarshal(raw, &block); err != nil {
		return configcache.Block{}, err
	}
	return block, nil
}

// clientItemFactory builds the lazy per-key Item factory for a resolved
// store. Per §4.G's item-creation algorithm, each new Item's request session
// dials the highest stratum in the block's provenance chain that advertises
// both a Rep and a Pub port — the relay closest to this client that can
// still serve both request/response and publish/subscribe traffic — rather
// than always the origin daemon.
func (c *Client) clientItemFactory(storeName string, block configcache.Block) store.Factory {
	return func(key string) (*item.Item, error) {
		entry, ok := block.HighestStratum()
		if !ok {
			return nil, &mktlerr.ConfigurationMissingError{Store: storeName}
		}
		conn, err := transport.Dial(fmt.Sprintf("%s:%d", entry.Hostname, entry.Rep))
		if err != nil {
			return nil, err
		}
		sess := session.NewRequestSession(conn, c.clientID, c.runtime.AckTimeout, c.runtime.ReplyTimeout)

		cfg, _ := c.cache.ItemConfig(storeName, key)
		binding := &item.ClientBinding{
			Req:        sess,
			PubAddress: fmt.Sprintf("%s:%d", entry.Hostname, entry.Pub),
		}
		return item.NewClientItem(storeName, key, c.clientID, cfg, binding, c.logger.Bind("store", storeName, "key", key)), nil
	}
}
