package configcache

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/KeckObservatory/mktl-go/pkg/codec"
	"github.com/KeckObservatory/mktl-go/pkg/mktlerr"
)

// DiskStore persists configuration blocks under a root directory, one file
// per store named after its most recent block UUID, plus a "current" UUID
// sidecar file so a restart can find the latest block without scanning the
// whole directory (§6).
type DiskStore struct {
	root  string
	codec codec.Codec
}

// NewDiskStore roots persistence at root, creating it if necessary.
func NewDiskStore(root string) (*DiskStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("configcache: create root %s: %w", root, err)
	}
	return &DiskStore{root: root, codec: codec.Default}, nil
}

func (d *DiskStore) storeDir(store string) string {
	return filepath.Join(d.root, store)
}

func (d *DiskStore) blockPath(store, uuid string) string {
	return filepath.Join(d.storeDir(store), uuid+".json")
}

func (d *DiskStore) currentPath(store string) string {
	return filepath.Join(d.storeDir(store), "current")
}

// Save writes block to disk and updates the store's "current" UUID sidecar.
func (d *DiskStore) Save(block Block) error {
	dir := d.storeDir(block.Store)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	data, err := d.codec.Marshal(block)
	if err != nil {
		return fmt.Errorf("configcache: marshal block %s: %w", block.UUID, err)
	}
	if err := os.WriteFile(d.blockPath(block.Store, block.UUID), data, 0o644); err != nil {
		return err
	}
	return os.WriteFile(d.currentPath(block.Store), []byte(block.UUID), 0o644)
}

// LoadCurrent reads the most recently saved block for store, as recorded by
// its "current" sidecar file.
func (d *DiskStore) LoadCurrent(store string) (Block, error) {
	uuidBytes, err := os.ReadFile(d.currentPath(store))
	if err != nil {
		if os.IsNotExist(err) {
			return Block{}, &mktlerr.ConfigurationMissingError{Store: store}
		}
		return Block{}, err
	}
	return d.Load(store, string(uuidBytes))
}

// Load reads a specific block by (store, uuid).
func (d *DiskStore) Load(store, uuid string) (Block, error) {
	data, err := os.ReadFile(d.blockPath(store, uuid))
	if err != nil {
		if os.IsNotExist(err) {
			return Block{}, &mktlerr.ConfigurationMissingError{Store: store}
		}
		return Block{}, err
	}
	var block Block
	if err := d.codec.Unmarshal(data, &block); err != nil {
		return Block{}, fmt.Errorf("configcache: unmarshal block %s: %w", uuid, err)
	}
	return block, nil
}
