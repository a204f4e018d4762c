package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/tuannm99/heapscan/internal/engine"
	"github.com/tuannm99/heapscan/internal/heap"
	"github.com/tuannm99/heapscan/internal/iterator"
	"github.com/tuannm99/heapscan/internal/record"
	"github.com/tuannm99/heapscan/internal/txn"
)

var errQuit = errors.New("quit")

const helpText = `tables:
  create <table> <col:type[?], ...>   types: int32 int64 bool float64 text bytes
  drop <table>
  tables
rows:
  insert <table> <v1, v2, ...>         'quoted text', NULL, 0xhex
  update <table> <page> <slot> <v1, v2, ...>
  delete <table> <page> <slot>
  scan <table>                         full scan, printed at once
transactions:
  begin | commit | abort               without begin every command runs in its own txn
iterator:
  open <table>                         open a lazy scan
  next [n]                             fetch the next n rows (default 1)
  rewind | close
misc:
  stats | \history | \help | \q`

// Shell runs commands against a database. At most one explicit transaction
// and one open iterator exist at a time.
type Shell struct {
	db   *engine.Database
	hist *History
	out  io.Writer

	tid txn.ID // explicit transaction, 0 when none

	it       *heap.Iterator
	itTable  string
	itSchema record.Schema
	itTid    txn.ID
	itOwnTxn bool // itTid was begun for the iterator alone
}

func NewShell(db *engine.Database, hist *History, out io.Writer) *Shell {
	return &Shell{db: db, hist: hist, out: out}
}

// Exec runs one command line. It returns errQuit on \q.
func (s *Shell) Exec(line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	switch strings.ToLower(cmd) {
	case `\q`, "quit", "exit":
		return errQuit
	case `\help`, "help":
		fmt.Fprintln(s.out, helpText)
		return nil
	case `\history`:
		s.hist.Print(s.out, 50)
		return nil
	case "tables":
		return s.tables()
	case "create":
		return s.create(rest)
	case "drop":
		return s.drop(rest)
	case "insert":
		return s.insert(rest)
	case "update":
		return s.update(rest)
	case "delete":
		return s.delete(rest)
	case "scan":
		return s.scan(rest)
	case "begin":
		return s.begin()
	case "commit":
		return s.finish(true)
	case "abort", "rollback":
		return s.finish(false)
	case "open":
		return s.open(rest)
	case "next":
		return s.next(rest)
	case "rewind":
		return s.rewind()
	case "close":
		return s.closeIter()
	case "stats":
		return s.stats()
	}
	return fmt.Errorf("unknown command: %s (type \\help)", cmd)
}

func (s *Shell) tables() error {
	names, err := s.db.ListTables()
	if err != nil {
		return err
	}
	for _, n := range names {
		meta, err := s.db.TableMeta(n)
		if err != nil {
			return err
		}
		cols := make([]string, 0, meta.Schema.NumCols())
		for _, c := range meta.Schema.Cols {
			cols = append(cols, c.Name+":"+c.Type.String())
		}
		fmt.Fprintf(s.out, "%s (%s)\n", n, strings.Join(cols, ", "))
	}
	fmt.Fprintf(s.out, "(%d tables)\n", len(names))
	return nil
}

func (s *Shell) create(rest string) error {
	name, def, ok := strings.Cut(rest, " ")
	if !ok {
		return errors.New("usage: create <table> <col:type, ...>")
	}
	schema, err := record.ParseSchema(def)
	if err != nil {
		return err
	}
	if _, err := s.db.CreateTable(name, schema); err != nil {
		return err
	}
	fmt.Fprintln(s.out, "OK")
	return nil
}

func (s *Shell) drop(name string) error {
	if name == "" {
		return errors.New("usage: drop <table>")
	}
	if s.it != nil && s.itTable == name {
		return errors.New("close the open iterator first")
	}
	if err := s.db.DropTable(name); err != nil {
		return err
	}
	fmt.Fprintln(s.out, "OK")
	return nil
}

// withTxn runs fn under the explicit transaction, or under a fresh one that
// is committed on success and aborted on failure.
func (s *Shell) withTxn(fn func(tid txn.ID) error) error {
	if s.tid != 0 {
		err := fn(s.tid)
		if errors.Is(err, txn.ErrAborted) {
			s.abortExplicit()
		}
		return err
	}

	tid, err := s.db.Begin()
	if err != nil {
		return err
	}
	if err := fn(tid); err != nil {
		return errors.Join(err, s.db.Abort(tid))
	}
	return s.db.Commit(tid)
}

func (s *Shell) abortExplicit() {
	if s.it != nil && s.itTid == s.tid {
		_ = s.it.Close()
		s.it = nil
	}
	_ = s.db.Abort(s.tid)
	s.tid = 0
	fmt.Fprintln(s.out, "transaction aborted")
}

func (s *Shell) schemaOf(table string) (record.Schema, error) {
	f, err := s.db.OpenTable(table)
	if err != nil {
		return record.Schema{}, err
	}
	return f.Schema, nil
}

func (s *Shell) insert(rest string) error {
	table, vals, ok := strings.Cut(rest, " ")
	if !ok {
		return errors.New("usage: insert <table> <v1, v2, ...>")
	}
	schema, err := s.schemaOf(table)
	if err != nil {
		return err
	}
	row, err := record.ParseRow(schema, vals)
	if err != nil {
		return err
	}
	return s.withTxn(func(tid txn.ID) error {
		rid, err := s.db.Insert(tid, table, row)
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "OK %s\n", rid)
		return nil
	})
}

// parseRID reads "<page> <slot>" from the front of args and returns the remainder.
func parseRID(args string) (heap.RID, string, error) {
	f := strings.Fields(args)
	if len(f) < 2 {
		return heap.RID{}, "", errors.New("missing <page> <slot>")
	}
	page, err := strconv.ParseUint(f[0], 10, 32)
	if err != nil {
		return heap.RID{}, "", fmt.Errorf("page: %w", err)
	}
	slot, err := strconv.ParseUint(f[1], 10, 16)
	if err != nil {
		return heap.RID{}, "", fmt.Errorf("slot: %w", err)
	}
	rest := strings.TrimSpace(args)
	for range 2 {
		_, rest, _ = strings.Cut(rest, " ")
		rest = strings.TrimLeft(rest, " ")
	}
	return heap.RID{PageNo: uint32(page), Slot: uint16(slot)}, strings.TrimSpace(rest), nil
}

func (s *Shell) update(rest string) error {
	table, args, _ := strings.Cut(rest, " ")
	rid, vals, err := parseRID(args)
	if err != nil {
		return fmt.Errorf("usage: update <table> <page> <slot> <values>: %w", err)
	}
	schema, err := s.schemaOf(table)
	if err != nil {
		return err
	}
	row, err := record.ParseRow(schema, vals)
	if err != nil {
		return err
	}
	return s.withTxn(func(tid txn.ID) error {
		if err := s.db.Update(tid, table, rid, row); err != nil {
			return err
		}
		fmt.Fprintln(s.out, "OK")
		return nil
	})
}

func (s *Shell) delete(rest string) error {
	table, args, _ := strings.Cut(rest, " ")
	rid, _, err := parseRID(args)
	if err != nil {
		return fmt.Errorf("usage: delete <table> <page> <slot>: %w", err)
	}
	return s.withTxn(func(tid txn.ID) error {
		if err := s.db.Delete(tid, table, rid); err != nil {
			return err
		}
		fmt.Fprintln(s.out, "OK")
		return nil
	})
}

func (s *Shell) scan(table string) error {
	schema, err := s.schemaOf(table)
	if err != nil {
		return err
	}
	return s.withTxn(func(tid txn.ID) error {
		it, err := s.db.Scan(table, tid)
		if err != nil {
			return err
		}
		if err := it.Open(); err != nil {
			return err
		}
		rows, err := iterator.Collect[heap.Tuple](it)
		if cerr := it.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return err
		}
		printRows(s.out, schema, rows)
		return nil
	})
}

func (s *Shell) begin() error {
	if s.tid != 0 {
		return fmt.Errorf("already in transaction %s", s.tid)
	}
	tid, err := s.db.Begin()
	if err != nil {
		return err
	}
	s.tid = tid
	fmt.Fprintf(s.out, "BEGIN %s\n", tid)
	return nil
}

func (s *Shell) finish(commit bool) error {
	if s.tid == 0 {
		return errors.New("no transaction in progress")
	}
	if s.it != nil && s.itTid == s.tid {
		if err := s.closeIter(); err != nil {
			return err
		}
	}
	tid := s.tid
	s.tid = 0
	if commit {
		if err := s.db.Commit(tid); err != nil {
			return err
		}
		fmt.Fprintln(s.out, "COMMIT")
		return nil
	}
	if err := s.db.Abort(tid); err != nil {
		return err
	}
	fmt.Fprintln(s.out, "ABORT")
	return nil
}

func (s *Shell) open(table string) error {
	if table == "" {
		return errors.New("usage: open <table>")
	}
	if s.it != nil {
		return fmt.Errorf("iterator on %s is still open; close it first", s.itTable)
	}
	schema, err := s.schemaOf(table)
	if err != nil {
		return err
	}

	tid, own := s.tid, false
	if tid == 0 {
		if tid, err = s.db.Begin(); err != nil {
			return err
		}
		own = true
	}
	it, err := s.db.Scan(table, tid)
	if err == nil {
		err = it.Open()
	}
	if err != nil {
		if own {
			_ = s.db.Abort(tid)
		} else if errors.Is(err, txn.ErrAborted) {
			s.abortExplicit()
		}
		return err
	}

	s.it, s.itTable, s.itSchema, s.itTid, s.itOwnTxn = it, table, schema, tid, own
	fmt.Fprintf(s.out, "iterator open on %s (%s)\n", table, tid)
	return nil
}

func (s *Shell) requireIter() error {
	if s.it == nil {
		return errors.New("no open iterator (use: open <table>)")
	}
	return nil
}

// iterFailed cleans up after an iterator error. An abort ends the
// transaction the iterator ran under.
func (s *Shell) iterFailed(err error) error {
	if errors.Is(err, txn.ErrAborted) {
		if s.itOwnTxn {
			_ = s.it.Close()
			_ = s.db.Abort(s.itTid)
			s.it = nil
		} else {
			s.abortExplicit()
		}
	}
	return err
}

func (s *Shell) next(arg string) error {
	if err := s.requireIter(); err != nil {
		return err
	}
	n := 1
	if arg != "" {
		v, err := strconv.Atoi(arg)
		if err != nil || v <= 0 {
			return fmt.Errorf("next: bad count %q", arg)
		}
		n = v
	}

	rows, err := iterator.Take[heap.Tuple](s.it, n)
	if err != nil {
		return s.iterFailed(err)
	}
	if len(rows) == 0 {
		fmt.Fprintln(s.out, "(end)")
		return nil
	}
	printRows(s.out, s.itSchema, rows)
	return nil
}

func (s *Shell) rewind() error {
	if err := s.requireIter(); err != nil {
		return err
	}
	if err := s.it.Rewind(); err != nil {
		return s.iterFailed(err)
	}
	fmt.Fprintln(s.out, "OK")
	return nil
}

func (s *Shell) closeIter() error {
	if err := s.requireIter(); err != nil {
		return err
	}
	err := s.it.Close()
	if s.itOwnTxn {
		err = errors.Join(err, s.db.Commit(s.itTid))
	}
	s.it = nil
	if err != nil {
		return err
	}
	fmt.Fprintln(s.out, "iterator closed")
	return nil
}

func (s *Shell) stats() error {
	st := s.db.Stats()
	fmt.Fprintf(s.out, "fetches=%d hits=%d misses=%d evictions=%d flushes=%d\n",
		st.Fetches, st.Hits, st.Misses, st.Evictions, st.Flushes)
	return nil
}

// Shutdown closes any open iterator and ends the explicit transaction.
func (s *Shell) Shutdown() {
	if s.it != nil {
		_ = s.closeIter()
	}
	if s.tid != 0 {
		_ = s.db.Abort(s.tid)
		s.tid = 0
	}
}
