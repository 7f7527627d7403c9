// poseidon-dump replays a write-ahead log file and prints every record
// it holds, for inspecting what a store would redo or undo on its next
// open without actually opening (and thus mutating) it.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/polyhedra-labs/poseidongo/internal/graphdb"
	"github.com/polyhedra-labs/poseidongo/pkg/fs"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flag.Parse()
	if flag.NArg() != 1 {
		return fmt.Errorf("usage: poseidon-dump <path-to-wal-file>")
	}
	path := flag.Arg(0)

	wal, err := graphdb.OpenWAL(fs.NewReal(), path)
	if err != nil {
		return fmt.Errorf("open wal: %w", err)
	}
	defer wal.Close()

	count := 0
	err = wal.Scan(func(rec graphdb.Record) bool {
		fmt.Printf("lsn=%-8d xid=%-6d prev=%-8d kind=%-10s obj=%-10s payload=%dB\n",
			rec.LSN, rec.XID, rec.PrevOffset, logTypeName(rec.Kind), objTypeName(rec.ObjType), len(rec.Payload))
		count++
		return true
	})
	if err != nil {
		return fmt.Errorf("scan wal: %w", err)
	}

	fmt.Printf("\n%d records\n", count)
	return nil
}

func logTypeName(k graphdb.LogType) string {
	switch k {
	case graphdb.LogBegin:
		return "begin"
	case graphdb.LogCommit:
		return "commit"
	case graphdb.LogAbort:
		return "abort"
	case graphdb.LogWrite:
		return "write"
	case graphdb.LogCheckpoint:
		return "checkpoint"
	default:
		return fmt.Sprintf("unknown(%d)", k)
	}
}

func objTypeName(o graphdb.ObjType) string {
	switch o {
	case graphdb.ObjNone:
		return "-"
	case graphdb.ObjNode:
		return "node"
	case graphdb.ObjRelationship:
		return "relationship"
	case graphdb.ObjProperty:
		return "property"
	case graphdb.ObjDict:
		return "dict"
	default:
		return fmt.Sprintf("unknown(%d)", o)
	}
}
