// Package catalog tracks which tables exist, their row layout, and maps
// table IDs to the heap file that implements them, persisting table
// metadata as JSON.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/arkdb/txstore/internal/bufferpool"
	"github.com/arkdb/txstore/internal/heap"
	"github.com/arkdb/txstore/internal/storage"
)

var ErrTableNotFound = errors.New("catalog: table not found")
var ErrTableExists = errors.New("catalog: table already exists")

var _ bufferpool.Catalog = (*Catalog)(nil)

// TableMeta is a table's durable identity: its name, row layout, and
// assigned ID, persisted as one JSON file per table.
type TableMeta struct {
	Name      string            `json:"name"`
	TableID   uint32            `json:"table_id"`
	Desc      storage.TupleDesc `json:"desc"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Catalog is the database's table registry. It is the only component that
// knows the mapping from a human-chosen table name to the numeric
// TableID the rest of the system uses, and the only component that
// constructs heap.File values.
type Catalog struct {
	dir string
	bp  *bufferpool.Pool
	mgr *storage.Manager

	mu      sync.RWMutex
	byName  map[string]uint32
	byID    map[uint32]*heap.File
	nextID  uint32
}

// Open loads every table metadata file found under dir, constructing a
// heap.File for each, and returns a Catalog ready to serve lookups.
func Open(dir string, bp *bufferpool.Pool, mgr *storage.Manager) (*Catalog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	c := &Catalog{
		dir:    dir,
		bp:     bp,
		mgr:    mgr,
		byName: make(map[string]uint32),
		byID:   make(map[uint32]*heap.File),
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		meta, err := readMeta(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("catalog: loading %s: %w", e.Name(), err)
		}
		c.byName[meta.Name] = meta.TableID
		c.byID[meta.TableID] = heap.Open(meta.TableID, meta.Desc, bp, mgr)
		if meta.TableID >= c.nextID {
			c.nextID = meta.TableID + 1
		}
	}
	bp.SetCatalog(c)
	return c, nil
}

func (c *Catalog) metaPath(name string) string {
	return filepath.Join(c.dir, name+".json")
}

func readMeta(path string) (*TableMeta, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var meta TableMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

func (c *Catalog) writeMeta(meta *TableMeta) error {
	meta.UpdatedAt = time.Now()
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(c.metaPath(meta.Name), data, 0o644)
}

// CreateTable registers a new table with the given row layout, assigning
// it a fresh TableID and persisting its metadata before returning the
// heap.File that implements it.
func (c *Catalog) CreateTable(name string, desc storage.TupleDesc) (*heap.File, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.byName[name]; ok {
		return nil, ErrTableExists
	}

	id := c.nextID
	c.nextID++

	meta := &TableMeta{
		Name:      name,
		TableID:   id,
		Desc:      desc,
		CreatedAt: time.Now(),
	}
	if err := c.writeMeta(meta); err != nil {
		return nil, err
	}

	f := heap.Open(id, desc, c.bp, c.mgr)
	c.byName[name] = id
	c.byID[id] = f
	return f, nil
}

// OpenTable returns the heap.File for an already-created table by name.
func (c *Catalog) OpenTable(name string) (*heap.File, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	id, ok := c.byName[name]
	if !ok {
		return nil, ErrTableNotFound
	}
	return c.byID[id], nil
}

// Lookup resolves a TableID to its heap.File, satisfying
// bufferpool.Catalog so the buffer pool can delegate insertTuple and
// deleteTuple calls without importing this package back.
func (c *Catalog) Lookup(tableID uint32) (bufferpool.DbFile, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	f, ok := c.byID[tableID]
	return f, ok
}
