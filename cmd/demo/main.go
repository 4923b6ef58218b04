// Command demo wires up a store instance and runs one transaction against
// it end to end, exercising the same path a real caller would: create a
// table, begin a transaction, insert a row, commit, and read it back.
package main

import (
	"flag"
	"fmt"
	"log"
	"path/filepath"

	"github.com/arkdb/txstore/config"
	"github.com/arkdb/txstore/internal/bufferpool"
	"github.com/arkdb/txstore/internal/catalog"
	"github.com/arkdb/txstore/internal/heap"
	"github.com/arkdb/txstore/internal/storage"
	"github.com/arkdb/txstore/internal/txn"
	"github.com/arkdb/txstore/internal/wal"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "txstore.yaml", "path to txstore yaml config")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	storage.PageSize = cfg.Storage.PageSize
	if storage.PageSize != wal.PageSize {
		log.Fatalf("storage.page_size %d must match the WAL's fixed page size %d", storage.PageSize, wal.PageSize)
	}

	fs, err := storage.NewLocalFileSet(filepath.Join(cfg.DataDir, "tables"))
	if err != nil {
		log.Fatalf("open file set: %v", err)
	}
	mgr := storage.NewManager(fs)

	wlog, err := wal.Open(filepath.Join(cfg.DataDir, cfg.WAL.Dir))
	if err != nil {
		log.Fatalf("open wal: %v", err)
	}
	defer func() { _ = wlog.Close() }()

	pool := bufferpool.New(mgr, wlog, cfg.BufferPool.CapacityPages)
	pool.AcquireTimeout = cfg.AcquireTimeout()
	if err := pool.Recover(); err != nil {
		log.Fatalf("recover: %v", err)
	}

	cat, err := catalog.Open(filepath.Join(cfg.DataDir, "catalog"), pool, mgr)
	if err != nil {
		log.Fatalf("open catalog: %v", err)
	}

	desc := storage.TupleDesc{Fields: []storage.FieldType{
		{Name: "id", Kind: storage.KindInt64},
		{Name: "name", Kind: storage.KindText},
	}}

	users, err := cat.OpenTable("users")
	if err != nil {
		users, err = cat.CreateTable("users", desc)
		if err != nil {
			log.Fatalf("create table: %v", err)
		}
	}

	tid := txn.New()
	if err := pool.Begin(tid); err != nil {
		log.Fatalf("begin: %v", err)
	}

	pid, slot, err := users.InsertTuple(tid, storage.Tuple{Values: []any{int64(1), "ada"}})
	if err != nil {
		log.Fatalf("insert: %v", err)
	}

	if err := pool.TransactionComplete(tid, true); err != nil {
		log.Fatalf("commit: %v", err)
	}

	readTid := txn.New()
	row, err := users.GetTuple(readTid, heap.RID{PageID: pid, Slot: slot})
	if err != nil {
		log.Fatalf("get: %v", err)
	}
	_ = pool.TransactionComplete(readTid, true)

	fmt.Println("row:", row.Values)
}
