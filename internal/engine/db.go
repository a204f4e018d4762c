package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/sasha-s/go-deadlock"

	"github.com/tuannm99/heapscan/internal/bufferpool"
	"github.com/tuannm99/heapscan/internal/config"
	"github.com/tuannm99/heapscan/internal/heap"
	"github.com/tuannm99/heapscan/internal/lock"
	"github.com/tuannm99/heapscan/internal/record"
	"github.com/tuannm99/heapscan/internal/storage"
	"github.com/tuannm99/heapscan/internal/txn"
)

var (
	ErrDatabaseClosed   = errors.New("heapscan: database is closed")
	ErrTableExists      = errors.New("heapscan: table already exists")
	ErrTableNotFound    = errors.New("heapscan: table not found")
	ErrInvalidTableName = errors.New("heapscan: invalid table name")
	ErrUnknownTxn       = errors.New("heapscan: unknown transaction")
)

type DatabaseOperation interface {
	CreateTable(name string, schema record.Schema) (*heap.File, error)
	OpenTable(name string) (*heap.File, error)
	DropTable(name string) error
	ListTables() ([]string, error)
	Begin() (txn.ID, error)
	Commit(tid txn.ID) error
	Abort(tid txn.ID) error
	Scan(name string, tid txn.ID) (*heap.Iterator, error)
	Close() error
}

var _ DatabaseOperation = (*Database)(nil)

// Database ties together one storage manager, one lock manager and one
// buffer pool shared by every table.
type Database struct {
	DataDir string
	SM      *storage.StorageManager
	Locks   *lock.Manager
	Pool    *bufferpool.Pool

	log *slog.Logger

	mu     deadlock.Mutex
	cat    catalog
	tables map[string]*heap.File
	active mapset.Set[txn.ID]
	closed bool
}

// Open builds a database from configuration.
func Open(cfg *config.Config, logger *slog.Logger) (*Database, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = config.NewLogger(cfg.Log)
	}
	config.ApplyDebug(cfg.Debug)

	sm := storage.NewStorageManager()
	locks := lock.NewManager(cfg.Lock.Timeout, logger)
	db := &Database{
		SM:     sm,
		Locks:  locks,
		Pool:   bufferpool.NewPool(sm, locks, cfg.BufferPool.Capacity, logger),
		log:    logger,
		tables: make(map[string]*heap.File),
		active: mapset.NewThreadUnsafeSet[txn.ID](),
	}

	switch cfg.Storage.Mode {
	case config.ModeMemory:
		db.cat = newMemCatalog()
	default:
		db.DataDir = cfg.Storage.Workdir
		db.cat = dirCatalog{dir: db.tableDir()}
	}
	logger.Info("database opened", "mode", cfg.Storage.Mode, "dir", db.DataDir,
		"frames", cfg.BufferPool.Capacity)
	return db, nil
}

// NewDatabase opens a database on dataDir with default settings.
func NewDatabase(dataDir string) (*Database, error) {
	cfg := config.Default()
	cfg.Storage.Mode = config.ModeLocal
	cfg.Storage.Workdir = dataDir
	return Open(cfg, slog.Default())
}

func (db *Database) tableDir() string {
	return filepath.Join(db.DataDir, "tables")
}

func (db *Database) checkOpen() error {
	if db.closed {
		return ErrDatabaseClosed
	}
	return nil
}

func (db *Database) CreateTable(name string, schema record.Schema) (*heap.File, error) {
	if !tableNameRe.MatchString(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTableName, name)
	}
	if schema.NumCols() == 0 {
		return nil, fmt.Errorf("create table %s: %w", name, record.ErrSchemaMismatch)
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.checkOpen(); err != nil {
		return nil, err
	}

	if _, err := db.cat.read(name); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrTableExists, name)
	} else if !errors.Is(err, ErrTableNotFound) {
		return nil, err
	}

	f, err := db.attachLocked(name, schema)
	if err != nil {
		return nil, fmt.Errorf("create table %s: %w", name, err)
	}
	now := time.Now()
	meta := &TableMeta{Name: name, Schema: schema, CreatedAt: now, UpdatedAt: now}
	if err := db.cat.write(meta); err != nil {
		delete(db.tables, name)
		return nil, err
	}

	db.log.Info("table created", "table", name, "cols", schema.NumCols(), "file_id", f.ID())
	return f, nil
}

func (db *Database) attachLocked(name string, schema record.Schema) (*heap.File, error) {
	fs := db.cat.fileSet(name)
	if _, err := db.Pool.Attach(fs); err != nil {
		return nil, err
	}
	f := heap.NewFile(name, schema, db.SM, fs)
	db.tables[name] = f
	return f, nil
}

// OpenTable returns the table's heap file, loading its meta on first use.
func (db *Database) OpenTable(name string) (*heap.File, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	return db.openLocked(name)
}

func (db *Database) openLocked(name string) (*heap.File, error) {
	if f, ok := db.tables[name]; ok {
		return f, nil
	}

	meta, err := db.cat.read(name)
	if err != nil {
		return nil, fmt.Errorf("open table %s: %w", name, err)
	}
	f, err := db.attachLocked(name, meta.Schema)
	if err != nil {
		return nil, fmt.Errorf("open table %s: %w", name, err)
	}

	// Count pages on disk as the single source of truth.
	pageCount, err := f.NumPages()
	if err != nil {
		return nil, err
	}
	meta.PageCount = pageCount
	// Best-effort update; if this fails, we still can open the table.
	if err := db.cat.write(meta); err != nil {
		db.log.Info("open table: write table meta", "table", name, "err", err)
	}

	db.log.Info("table opened", "table", name, "pages", pageCount)
	return f, nil
}

// DropTable removes a table and its data. Its pages must not be in use.
func (db *Database) DropTable(name string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.checkOpen(); err != nil {
		return err
	}

	if _, err := db.cat.read(name); err != nil {
		return fmt.Errorf("drop table %s: %w", name, err)
	}
	fs := db.cat.fileSet(name)
	if err := db.Pool.DiscardFile(storage.FileIDOf(fs)); err != nil {
		return fmt.Errorf("drop table %s: %w", name, err)
	}
	if err := db.cat.remove(name); err != nil {
		return fmt.Errorf("drop table %s: %w", name, err)
	}
	delete(db.tables, name)
	db.log.Info("table dropped", "table", name)
	return nil
}

func (db *Database) ListTables() ([]string, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	return db.cat.list()
}

// TableMeta returns the stored metadata of a table.
func (db *Database) TableMeta(name string) (*TableMeta, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	return db.cat.read(name)
}

func (db *Database) Begin() (txn.ID, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.checkOpen(); err != nil {
		return 0, err
	}
	tid := txn.NewID()
	db.active.Add(tid)
	db.log.Debug("txn begin", "txn", tid)
	return tid, nil
}

func (db *Database) finish(tid txn.ID) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if !db.active.Contains(tid) {
		return fmt.Errorf("%w: %s", ErrUnknownTxn, tid)
	}
	db.active.Remove(tid)
	return nil
}

func (db *Database) Commit(tid txn.ID) error {
	if err := db.finish(tid); err != nil {
		return err
	}
	if err := db.Pool.Commit(tid); err != nil {
		db.log.Warn("commit failed, aborting", "txn", tid, "err", err)
		return errors.Join(err, db.Pool.Abort(tid))
	}
	db.log.Debug("txn commit", "txn", tid)
	return nil
}

func (db *Database) Abort(tid txn.ID) error {
	if err := db.finish(tid); err != nil {
		return err
	}
	db.log.Debug("txn abort", "txn", tid)
	return db.Pool.Abort(tid)
}

// Active reports the transactions begun and not yet finished.
func (db *Database) Active() []txn.ID {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.active.ToSlice()
}

// table resolves name for a row operation under tid, which must have been
// begun and not yet committed or aborted.
func (db *Database) table(tid txn.ID, name string) (*heap.File, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	if !db.active.Contains(tid) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTxn, tid)
	}
	return db.openLocked(name)
}

func (db *Database) Insert(tid txn.ID, name string, values []any) (heap.RID, error) {
	f, err := db.table(tid, name)
	if err != nil {
		return heap.RID{}, err
	}
	return f.Insert(db.Pool, tid, values)
}

func (db *Database) Get(tid txn.ID, name string, rid heap.RID) ([]any, error) {
	f, err := db.table(tid, name)
	if err != nil {
		return nil, err
	}
	return f.Get(db.Pool, tid, rid)
}

func (db *Database) Update(tid txn.ID, name string, rid heap.RID, values []any) error {
	f, err := db.table(tid, name)
	if err != nil {
		return err
	}
	return f.Update(db.Pool, tid, rid, values)
}

func (db *Database) Delete(tid txn.ID, name string, rid heap.RID) error {
	f, err := db.table(tid, name)
	if err != nil {
		return err
	}
	return f.Delete(db.Pool, tid, rid)
}

// Scan returns an unopened iterator over the table under tid.
func (db *Database) Scan(name string, tid txn.ID) (*heap.Iterator, error) {
	f, err := db.table(tid, name)
	if err != nil {
		return nil, err
	}
	return f.Iterator(db.Pool, tid), nil
}

func (db *Database) Stats() bufferpool.Stats {
	return db.Pool.Stats()
}

// Close aborts transactions still running, then writes every remaining
// dirty page.
func (db *Database) Close() error {
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return nil
	}
	db.closed = true
	pending := db.active.ToSlice()
	db.active.Clear()
	db.mu.Unlock()

	var errs []error
	for _, tid := range pending {
		db.log.Warn("aborting unfinished transaction on close", "txn", tid)
		errs = append(errs, db.Pool.Abort(tid))
	}
	errs = append(errs, db.Pool.FlushAll())
	db.log.Info("database closed")
	return errors.Join(errs...)
}
