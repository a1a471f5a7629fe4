// Package cache stores compiled programs in SQLite, keyed by a digest of
// the source and everything else that affects compilation.
package cache

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/chazu/pidgin/compiler"
	"github.com/chazu/pidgin/vm"
	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"
)

var log = commonlog.GetLogger("pidgin.cache")

// Key identifies one compilation.
type Key [32]byte

func (k Key) String() string { return hex.EncodeToString(k[:]) }

// NewKey digests the compiler options, the program encoding version and
// the given parts in order.
func NewKey(opts compiler.Options, parts ...[]byte) Key {
	h := sha256.New()
	fmt.Fprintf(h, "pidgin/%d/%+v", vm.EncodingVersion, opts)
	for _, p := range parts {
		var n [4]byte
		n[0], n[1], n[2], n[3] = byte(len(p)>>24), byte(len(p)>>16), byte(len(p)>>8), byte(len(p))
		h.Write(n[:])
		h.Write(p)
	}
	var k Key
	h.Sum(k[:0])
	return k
}

// Stats counts cache traffic since Open.
type Stats struct {
	Hits   int
	Misses int
	Stores int
}

// Cache is a program cache backed by a SQLite database.
type Cache struct {
	db    *sql.DB
	path  string
	mu    sync.Mutex
	stats Stats
}

// Open opens or creates the cache database at path.
func Open(path string) (*Cache, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating cache directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS programs (
		key TEXT PRIMARY KEY,
		version INTEGER NOT NULL,
		data BLOB NOT NULL,
		created_at INTEGER NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	log.Debugf("opened %s", path)
	return &Cache{db: db, path: path}, nil
}

// Path returns the database file.
func (c *Cache) Path() string { return c.path }

// Close closes the database connection.
func (c *Cache) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Get returns a freshly decoded program for key. Entries written by another
// encoding version are deleted and reported as misses.
func (c *Cache) Get(key Key) (*vm.Program, bool, error) {
	var version int
	var data []byte
	err := c.db.QueryRow("SELECT version, data FROM programs WHERE key = ?", key.String()).Scan(&version, &data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.count(func(s *Stats) { s.Misses++ })
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("querying program: %w", err)
	}

	if version != vm.EncodingVersion {
		log.Infof("dropping %s: encoding version %d", key, version)
		c.count(func(s *Stats) { s.Misses++ })
		return nil, false, c.Delete(key)
	}
	p, err := vm.UnmarshalProgram(data)
	if err != nil {
		log.Warningf("dropping unreadable %s: %s", key, err)
		c.count(func(s *Stats) { s.Misses++ })
		return nil, false, c.Delete(key)
	}
	c.count(func(s *Stats) { s.Hits++ })
	return p, true, nil
}

// Put stores p under key. It must be called before p is evaluated, since
// evaluation may move constants out of the program. Programs holding host
// functions or external values return vm.ErrNotPersistable.
func (c *Cache) Put(key Key, p *vm.Program) error {
	data, err := vm.MarshalProgram(p)
	if err != nil {
		return fmt.Errorf("encoding program: %w", err)
	}
	_, err = c.db.Exec(
		"INSERT OR REPLACE INTO programs (key, version, data, created_at) VALUES (?, ?, ?, ?)",
		key.String(), vm.EncodingVersion, data, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("saving program: %w", err)
	}
	c.count(func(s *Stats) { s.Stores++ })
	return nil
}

// Delete removes the entry for key, if any.
func (c *Cache) Delete(key Key) error {
	if _, err := c.db.Exec("DELETE FROM programs WHERE key = ?", key.String()); err != nil {
		return fmt.Errorf("deleting program: %w", err)
	}
	return nil
}

// Len returns the number of stored programs.
func (c *Cache) Len() (int, error) {
	var n int
	if err := c.db.QueryRow("SELECT COUNT(*) FROM programs").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting programs: %w", err)
	}
	return n, nil
}

// Prune deletes entries created before cutoff and returns how many went.
func (c *Cache) Prune(cutoff time.Time) (int, error) {
	res, err := c.db.Exec("DELETE FROM programs WHERE created_at < ?", cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("pruning programs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("pruning programs: %w", err)
	}
	return int(n), nil
}

// Stats returns the traffic counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

func (c *Cache) count(f func(*Stats)) {
	c.mu.Lock()
	f(&c.stats)
	c.mu.Unlock()
}
