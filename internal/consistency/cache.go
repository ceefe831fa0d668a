package consistency

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/efabless/mpw-precheck/internal/netlist"
)

const cacheIndexVersion = 1

// irFormatVersion changes whenever a parser change alters the IR of an
// unchanged netlist.
const irFormatVersion = "ir-3"

type cacheEntry struct {
	ContentHash string `json:"content_hash"`
	IRPath      string `json:"ir_path"`
	IRVersion   string `json:"ir_version"`
}

type cacheIndex struct {
	Version int                   `json:"version"`
	Entries map[string]cacheEntry `json:"entries"`
}

// irCache keeps parsed netlists as JSON, keyed by file and top module and
// invalidated by the content hash of every file the parse read.
type irCache struct {
	dir   string
	mu    sync.Mutex
	index cacheIndex
}

func newIRCache(dir string) *irCache {
	return &irCache{
		dir: dir,
		index: cacheIndex{
			Version: cacheIndexVersion,
			Entries: make(map[string]cacheEntry),
		},
	}
}

func (c *irCache) indexPath() string {
	return filepath.Join(c.dir, "index.json")
}

func (c *irCache) irDir() string {
	return filepath.Join(c.dir, "ir")
}

func cacheKey(file, top string) string {
	return file + "#" + top
}

func (c *irCache) irPathForKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return filepath.Join(c.irDir(), hex.EncodeToString(h[:])+".json")
}

func (c *irCache) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("cache mkdir: %w", err)
	}
	data, err := os.ReadFile(c.indexPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read cache index: %w", err)
	}
	var idx cacheIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		return fmt.Errorf("parse cache index: %w", err)
	}
	if idx.Version != cacheIndexVersion {
		// Reset on version mismatch
		c.index = cacheIndex{Version: cacheIndexVersion, Entries: make(map[string]cacheEntry)}
		return nil
	}
	if idx.Entries == nil {
		idx.Entries = make(map[string]cacheEntry)
	}
	c.index = idx
	return nil
}

func (c *irCache) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return writeJSONAtomic(c.indexPath(), c.index)
}

func (c *irCache) Get(file, top, contentHash string) (*netlist.Netlist, bool, error) {
	c.mu.Lock()
	entry, ok := c.index.Entries[cacheKey(file, top)]
	c.mu.Unlock()
	if !ok || entry.ContentHash != contentHash || entry.IRVersion != irFormatVersion {
		return nil, false, nil
	}

	data, err := os.ReadFile(entry.IRPath)
	if err != nil {
		return nil, false, fmt.Errorf("read cached netlist: %w", err)
	}
	var ir netlist.Netlist
	if err := json.Unmarshal(data, &ir); err != nil {
		return nil, false, fmt.Errorf("parse cached netlist: %w", err)
	}
	return &ir, true, nil
}

func (c *irCache) Put(file, top, contentHash string, ir *netlist.Netlist) error {
	key := cacheKey(file, top)
	irPath := c.irPathForKey(key)
	if err := writeJSONAtomic(irPath, ir); err != nil {
		return err
	}

	c.mu.Lock()
	c.index.Entries[key] = cacheEntry{
		ContentHash: contentHash,
		IRPath:      irPath,
		IRVersion:   irFormatVersion,
	}
	c.mu.Unlock()
	return nil
}

func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cache json: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cache dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*.json")
	if err != nil {
		return fmt.Errorf("temp cache file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close cache file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("rename cache file: %w", err)
	}
	return nil
}

// hashInputs digests the parse options and the content of every file, in
// order. Any unreadable file makes the parse uncacheable.
func hashInputs(options any, files ...string) (string, error) {
	h := sha256.New()
	opts, err := json.Marshal(options)
	if err != nil {
		return "", err
	}
	h.Write(opts)
	for _, path := range files {
		f, err := os.Open(path)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(h, "\x00%s\x00", path)
		_, err = io.Copy(h, f)
		f.Close()
		if err != nil {
			return "", err
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func resolveCacheDir(rootPath, dir string) string {
	if dir == "" {
		dir = ".precheck_cache"
	}
	if filepath.IsAbs(dir) || rootPath == "" {
		return dir
	}
	return filepath.Join(rootPath, dir)
}
