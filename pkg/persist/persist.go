// Package persist implements the background persistence flusher (spec.md
// §4.J): a task that coalesces (key, encoded value) pairs for a daemon's
// items and periodically writes them to disk, last-writer-wins per key per
// flush window, so a restarted daemon can replay its authoritative values
// before announcing on the fabric.
//
// The ticker/done-channel/panic-recovery shape is grounded on the teacher's
// coreengine/kernel/cleanup.go StartCleanupLoop, generalized from a fixed
// cleanup cycle to a flush of a coalescing write buffer.
package persist

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/KeckObservatory/mktl-go/internal/logging"
	"github.com/KeckObservatory/mktl-go/pkg/codec"
	"github.com/KeckObservatory/mktl-go/pkg/message"
)

const bulkPrefix = "bulk:"

// Entry is one replayed persisted value, ready to be replayed via req_set.
type Entry struct {
	Key     string
	Payload *message.Payload
	Bulk    []byte
}

// write is one pending (not yet flushed) persisted value.
type write struct {
	payload *message.Payload
	bulk    []byte
}

// Flusher coalesces persisted writes for one daemon's UUID and flushes them
// to <base>/daemon/persist/<uuid>/ on a fixed interval and on Stop.
type Flusher struct {
	dir    string
	codec  codec.Codec
	logger logging.Logger

	interval time.Duration

	mu      sync.Mutex
	pending map[string]write

	stop chan struct{}
	done chan struct{}
}

// NewFlusher creates the persistence directory for uuid under baseDir and
// returns a Flusher ready to Enqueue and Start.
func NewFlusher(baseDir, uuid string, interval time.Duration, logger logging.Logger) (*Flusher, error) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	dir := filepath.Join(baseDir, "daemon", "persist", uuid)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("persist: create %s: %w", dir, err)
	}
	return &Flusher{
		dir:      dir,
		codec:    codec.Default,
		logger:   logging.OrDefault(logger),
		interval: interval,
		pending:  make(map[string]write),
	}, nil
}

// Enqueue records payload (and its bulk companion, if any) as key's latest
// pending write; a second Enqueue for the same key before the next flush
// overwrites the first (last-writer-wins per flush window).
func (f *Flusher) Enqueue(key string, payload *message.Payload, bulk []byte) {
	f.mu.Lock()
	f.pending[key] = write{payload: payload, bulk: bulk}
	f.mu.Unlock()
}

// Start spawns the background flush loop. The returned function stops it,
// performing one final flush first so nothing enqueued before Stop is lost
// (the atexit-flush behavior of §4.J).
func (f *Flusher) Start() func() {
	f.stop = make(chan struct{})
	f.done = make(chan struct{})
	ticker := time.NewTicker(f.interval)

	go func() {
		defer close(f.done)
		for {
			select {
			case <-ticker.C:
				f.runFlushCycle()
			case <-f.stop:
				ticker.Stop()
				f.runFlushCycle()
				return
			}
		}
	}()

	return f.Stop
}

// Stop ends the flush loop and waits for its final flush to complete. Safe
// to call more than once.
func (f *Flusher) Stop() {
	if f.stop == nil {
		return
	}
	select {
	case <-f.stop:
	default:
		close(f.stop)
	}
	<-f.done
}

// runFlushCycle writes every currently pending entry to disk, recovering
// from a panic in Flush so one bad write does not kill the loop.
func (f *Flusher) runFlushCycle() {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("persist_flush_panic_recovered", "panic", r)
		}
	}()
	n, err := f.Flush()
	if err != nil {
		f.logger.Error("persist_flush_failed", "error", err)
		return
	}
	if n > 0 {
		f.logger.Debug("persist_flush_completed", "items", n)
	}
}

// Flush writes every currently pending entry to <dir>/<key> (and
// <dir>/bulk:<key> when a non-empty bulk companion was enqueued), clearing
// the pending buffer,
// and returns the number of items written.
func (f *Flusher) Flush() (int, error) {
	f.mu.Lock()
	pending := f.pending
	f.pending = make(map[string]write)
	f.mu.Unlock()

	if len(pending) == 0 {
		return 0, nil
	}

	keys := make([]string, 0, len(pending))
	for k := range pending {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		w := pending[key]
		encoded, err := f.codec.Marshal(struct {
			Value any     `json:"value"`
			Time  float64 `json:"time"`
		}{w.payload.Value, w.payload.Time})
		if err != nil {
			return 0, fmt.Errorf("persist: encode %s: %w", key, err)
		}
		if err := os.WriteFile(filepath.Join(f.dir, key), encoded, 0o644); err != nil {
			return 0, fmt.Errorf("persist: write %s: %w", key, err)
		}
		if len(w.bulk) > 0 {
			if err := os.WriteFile(filepath.Join(f.dir, bulkPrefix+key), w.bulk, 0o644); err != nil {
				return 0, fmt.Errorf("persist: write bulk %s: %w", key, err)
			}
		}
	}
	return len(keys), nil
}

// Replay reads every persisted scalar file under <baseDir>/daemon/persist/
// <uuid>/, pairing each with its bulk:<key> companion when present, for a
// daemon to feed back through req_set before announcing on the fabric.
func Replay(baseDir, uuid string) ([]Entry, error) {
	dir := filepath.Join(baseDir, "daemon", "persist", uuid)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("persist: read %s: %w", dir, err)
	}

	out := make([]Entry, 0, len(entries))
	for _, de := range entries {
		name := de.Name()
		if de.IsDir() || len(name) >= len(bulkPrefix) && name[:len(bulkPrefix)] == bulkPrefix {
			continue
		}

		raw, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("persist: read %s: %w", name, err)
		}

		var decoded struct {
			Value any     `json:"value"`
			Time  float64 `json:"time"`
		}
		if err := codec.Default.Unmarshal(raw, &decoded); err != nil {
			return nil, fmt.Errorf("persist: decode %s: %w", name, err)
		}
		entry := Entry{Key: name, Payload: &message.Payload{Value: decoded.Value, Time: decoded.Time}}

		if bulk, err := os.ReadFile(filepath.Join(dir, bulkPrefix+name)); err == nil {
			entry.Payload.Bulk = true
			entry.Bulk = bulk
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("persist: read bulk %s: %w", name, err)
		}

		out = append(out, entry)
	}
	return out, nil
}
