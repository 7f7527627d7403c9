// poseidon is an interactive shell for a graph store.
//
// Usage:
//
//	poseidon [-C dir] [-config path]
//
// Commands (in REPL):
//
//	addnode <label> [key=val ...]     Create a node, committed immediately
//	getnode <id>                      Show a node and its properties
//	updnode <id> [key=val ...]        Replace a node's properties
//	delnode <id>                      Delete a node
//	addrel <from> <to> <label>        Create a relationship
//	delrel <id>                       Delete a relationship
//	out <id>                          List a node's outgoing relationships
//	in <id>                           List a node's incoming relationships
//	traverse <id> <label> [hops]      Breadth-first walk from a node
//	scan <label>                      List every node with a label
//	index <label> <prop>              Create a secondary index
//	stats                             Print engine counters
//	vacuum                            Reclaim unreachable versions
//	dot                                Dump the graph as Graphviz
//	help                              Show this help
//	exit / quit / q                   Exit
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/pflag"

	"github.com/polyhedra-labs/poseidongo/internal/config"
	"github.com/polyhedra-labs/poseidongo/internal/graphdb"
	"github.com/polyhedra-labs/poseidongo/internal/graphdb/btree"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		workDir    = pflag.StringP("dir", "C", "", "data directory (overrides config)")
		configPath = pflag.String("config", "", "explicit config file path")
	)
	pflag.Parse()

	wd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getwd: %w", err)
	}

	cfg, _, err := config.Load(wd, *configPath, config.Config{Dir: *workDir}, *workDir != "", os.Environ())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	dir := cfg.Dir
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(wd, dir)
	}

	store, err := graphdb.Open(graphdb.Options{
		Dir:        dir,
		PageSize:   cfg.PageSize,
		PoolFrames: cfg.PoolFrames,
	})
	if err != nil {
		return fmt.Errorf("open store %s: %w", dir, err)
	}
	defer store.Close()

	r := &REPL{store: store, defaultHops: cfg.DefaultHops}
	if r.defaultHops == 0 {
		r.defaultHops = 3
	}

	return r.Run()
}

// REPL is the interactive command loop.
type REPL struct {
	store       *graphdb.Store
	defaultHops int
	liner       *liner.State
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".poseidon_history")
}

// Run drives the prompt loop until the user exits.
func (r *REPL) Run() error {
	r.liner = liner.NewLiner()
	defer r.liner.Close()

	r.liner.SetCtrlCAborts(true)
	r.liner.SetCompleter(r.completer)

	if f, err := os.Open(historyFile()); err == nil {
		r.liner.ReadHistory(f)
		f.Close()
	}

	fmt.Println("poseidon - graph store shell")
	fmt.Println("Type 'help' for available commands.")
	fmt.Println()

	for {
		line, err := r.liner.Prompt("poseidon> ")
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				fmt.Println("\nBye!")
				break
			}
			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		r.liner.AppendHistory(line)

		parts := strings.Fields(line)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "exit", "quit", "q":
			fmt.Println("Bye!")
			r.saveHistory()
			return nil
		case "help", "?":
			r.printHelp()
		case "addnode":
			r.cmdAddNode(args)
		case "getnode":
			r.cmdGetNode(args)
		case "updnode":
			r.cmdUpdateNode(args)
		case "delnode":
			r.cmdDeleteNode(args)
		case "addrel":
			r.cmdAddRelationship(args)
		case "delrel":
			r.cmdDeleteRelationship(args)
		case "out":
			r.cmdOutgoing(args)
		case "in":
			r.cmdIncoming(args)
		case "traverse":
			r.cmdTraverse(args)
		case "scan":
			r.cmdScan(args)
		case "index":
			r.cmdIndex(args)
		case "stats":
			r.cmdStats()
		case "vacuum":
			r.cmdVacuum()
		case "dot":
			r.cmdDot()
		default:
			fmt.Printf("Unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}

	r.saveHistory()
	return nil
}

func (r *REPL) saveHistory() {
	if path := historyFile(); path != "" {
		if f, err := os.Create(path); err == nil {
			r.liner.WriteHistory(f)
			f.Close()
		}
	}
}

func (r *REPL) completer(line string) []string {
	commands := []string{
		"addnode", "getnode", "updnode", "delnode",
		"addrel", "delrel", "out", "in", "traverse",
		"scan", "index", "stats", "vacuum", "dot",
		"help", "exit", "quit", "q",
	}

	var completions []string
	lower := strings.ToLower(line)
	for _, cmd := range commands {
		if strings.HasPrefix(cmd, lower) {
			completions = append(completions, cmd)
		}
	}
	return completions
}

func (r *REPL) printHelp() {
	fmt.Println("Commands:")
	fmt.Println("  addnode <label> [key=val ...]   Create a node, committed immediately")
	fmt.Println("  getnode <id>                    Show a node and its properties")
	fmt.Println("  updnode <id> [key=val ...]      Replace a node's properties")
	fmt.Println("  delnode <id>                    Delete a node")
	fmt.Println("  addrel <from> <to> <label>      Create a relationship")
	fmt.Println("  delrel <id>                     Delete a relationship")
	fmt.Println("  out <id>                        List a node's outgoing relationships")
	fmt.Println("  in <id>                         List a node's incoming relationships")
	fmt.Println("  traverse <id> <label> [hops]    Breadth-first walk from a node")
	fmt.Println("  scan <label>                    List every node with a label")
	fmt.Println("  index <label> <prop>            Create a secondary index")
	fmt.Println("  stats                           Print engine counters")
	fmt.Println("  vacuum                          Reclaim unreachable versions")
	fmt.Println("  dot                             Dump the graph as Graphviz")
	fmt.Println("  help                            Show this help")
	fmt.Println("  exit / quit / q                 Exit")
	fmt.Println()
	fmt.Println("Properties: key=val pairs; val parses as int, then float, then true/false as bool, else string.")
}

// parseProp turns "key=val" into a Property, guessing the value's kind.
func parseProp(s string) (graphdb.Property, bool) {
	key, val, ok := strings.Cut(s, "=")
	if !ok {
		return graphdb.Property{}, false
	}
	if i, err := strconv.ParseInt(val, 10, 64); err == nil {
		return graphdb.Property{Key: key, Kind: graphdb.PropInt, Int: i}, true
	}
	if f, err := strconv.ParseFloat(val, 64); err == nil {
		return graphdb.Property{Key: key, Kind: graphdb.PropFloat, Float: f}, true
	}
	if val == "true" || val == "false" {
		return graphdb.Property{Key: key, Kind: graphdb.PropBool, Bool: val == "true"}, true
	}
	return graphdb.Property{Key: key, Kind: graphdb.PropString, Str: val}, true
}

func parseProps(args []string) []graphdb.Property {
	var props []graphdb.Property
	for _, a := range args {
		if p, ok := parseProp(a); ok {
			props = append(props, p)
		}
	}
	return props
}

func printProps(props []graphdb.Property) {
	for _, p := range props {
		switch p.Kind {
		case graphdb.PropInt:
			fmt.Printf("  %s = %d\n", p.Key, p.Int)
		case graphdb.PropFloat:
			fmt.Printf("  %s = %g\n", p.Key, p.Float)
		case graphdb.PropBool:
			fmt.Printf("  %s = %v\n", p.Key, p.Bool)
		case graphdb.PropString:
			fmt.Printf("  %s = %q\n", p.Key, p.Str)
		}
	}
}

func (r *REPL) cmdAddNode(args []string) {
	if len(args) < 1 {
		fmt.Println("usage: addnode <label> [key=val ...]")
		return
	}
	var id uint64
	err := r.store.Run(func(tx *graphdb.Txn) error {
		var aerr error
		id, aerr = r.store.Graph().AddNode(tx, args[0], parseProps(args[1:]))
		return aerr
	})
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	fmt.Printf("node %d\n", id)
}

func (r *REPL) cmdGetNode(args []string) {
	if len(args) != 1 {
		fmt.Println("usage: getnode <id>")
		return
	}
	id, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		fmt.Printf("invalid id: %v\n", err)
		return
	}

	err = r.store.Run(func(tx *graphdb.Txn) error {
		rec, props, err := r.store.Graph().GetNode(tx, id)
		if err != nil {
			return err
		}
		fmt.Printf("node %d (label code %d)\n", id, rec.Label)
		printProps(props)
		return nil
	})
	if err != nil {
		fmt.Printf("error: %v\n", err)
	}
}

func (r *REPL) cmdUpdateNode(args []string) {
	if len(args) < 1 {
		fmt.Println("usage: updnode <id> [key=val ...]")
		return
	}
	id, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		fmt.Printf("invalid id: %v\n", err)
		return
	}
	err = r.store.Run(func(tx *graphdb.Txn) error {
		return r.store.Graph().UpdateNode(tx, id, parseProps(args[1:]))
	})
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	fmt.Println("ok")
}

func (r *REPL) cmdDeleteNode(args []string) {
	if len(args) != 1 {
		fmt.Println("usage: delnode <id>")
		return
	}
	id, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		fmt.Printf("invalid id: %v\n", err)
		return
	}
	err = r.store.Run(func(tx *graphdb.Txn) error {
		return r.store.Graph().DeleteNode(tx, id)
	})
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	fmt.Println("ok")
}

func (r *REPL) cmdAddRelationship(args []string) {
	if len(args) != 3 {
		fmt.Println("usage: addrel <from> <to> <label>")
		return
	}
	from, err1 := strconv.ParseUint(args[0], 10, 64)
	to, err2 := strconv.ParseUint(args[1], 10, 64)
	if err1 != nil || err2 != nil {
		fmt.Println("invalid node id")
		return
	}

	var id uint64
	err := r.store.Run(func(tx *graphdb.Txn) error {
		var aerr error
		id, aerr = r.store.Graph().AddRelationship(tx, from, to, args[2], nil)
		return aerr
	})
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	fmt.Printf("relationship %d\n", id)
}

func (r *REPL) cmdDeleteRelationship(args []string) {
	if len(args) != 1 {
		fmt.Println("usage: delrel <id>")
		return
	}
	id, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		fmt.Printf("invalid id: %v\n", err)
		return
	}
	err = r.store.Run(func(tx *graphdb.Txn) error {
		return r.store.Graph().DeleteRelationship(tx, id)
	})
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	fmt.Println("ok")
}

func (r *REPL) cmdOutgoing(args []string) {
	if len(args) != 1 {
		fmt.Println("usage: out <id>")
		return
	}
	id, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		fmt.Printf("invalid id: %v\n", err)
		return
	}
	err = r.store.Run(func(tx *graphdb.Txn) error {
		return r.store.Graph().ForEachFromRelationship(tx, id, func(relID uint64, rec graphdb.RelRecord) bool {
			fmt.Printf("  rel %d -> node %d\n", relID, rec.ToNode)
			return true
		})
	})
	if err != nil {
		fmt.Printf("error: %v\n", err)
	}
}

func (r *REPL) cmdIncoming(args []string) {
	if len(args) != 1 {
		fmt.Println("usage: in <id>")
		return
	}
	id, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		fmt.Printf("invalid id: %v\n", err)
		return
	}
	err = r.store.Run(func(tx *graphdb.Txn) error {
		return r.store.Graph().ForEachToRelationship(tx, id, func(relID uint64, rec graphdb.RelRecord) bool {
			fmt.Printf("  rel %d <- node %d\n", relID, rec.FromNode)
			return true
		})
	})
	if err != nil {
		fmt.Printf("error: %v\n", err)
	}
}

func (r *REPL) cmdTraverse(args []string) {
	if len(args) < 2 {
		fmt.Println("usage: traverse <id> <label> [hops]")
		return
	}
	id, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		fmt.Printf("invalid id: %v\n", err)
		return
	}
	hops := r.defaultHops
	if len(args) >= 3 {
		if h, err := strconv.Atoi(args[2]); err == nil {
			hops = h
		}
	}
	err = r.store.Run(func(tx *graphdb.Txn) error {
		return r.store.Graph().Traverse(tx, id, args[1], hops, func(nodeID uint64, hop int) bool {
			fmt.Printf("  hop %d: node %d\n", hop, nodeID)
			return true
		})
	})
	if err != nil {
		fmt.Printf("error: %v\n", err)
	}
}

func (r *REPL) cmdScan(args []string) {
	if len(args) != 1 {
		fmt.Println("usage: scan <label>")
		return
	}
	err := r.store.Run(func(tx *graphdb.Txn) error {
		return r.store.Graph().ParallelLabelScan(tx, args[0], 1, func(id uint64, rec graphdb.NodeRecord) bool {
			fmt.Printf("  node %d\n", id)
			return true
		})
	})
	if err != nil {
		fmt.Printf("error: %v\n", err)
	}
}

func (r *REPL) cmdIndex(args []string) {
	if len(args) != 2 {
		fmt.Println("usage: index <label> <prop>")
		return
	}
	if err := r.store.CreateIndex(args[0], args[1], btree.BackendMemory); err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	fmt.Println("ok")
}

func (r *REPL) cmdStats() {
	stats := r.store.PrintStats()
	fmt.Printf("buffer pool hit ratio: %.2f%%\n", stats.BufferPoolHitRatio*100)
	fmt.Printf("dictionary size: %d\n", stats.DictionarySize)
	fmt.Printf("active transactions: %d\n", stats.ActiveTransactions)
	fmt.Printf("registered indexes: %d\n", stats.RegisteredIndexes)
	fmt.Printf("commits: %d  aborts: %d  vacuums: %d\n", stats.Commits, stats.Aborts, stats.Vacuums)
}

func (r *REPL) cmdVacuum() {
	stats, err := r.store.Vacuum()
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	fmt.Printf("reclaimed %d node versions, %d relationship versions (watermark xid %d)\n",
		stats.NodesReclaimed, stats.RelationshipsReclaimed, stats.Watermark)
}

func (r *REPL) cmdDot() {
	if err := r.store.DumpDot(os.Stdout); err != nil {
		fmt.Printf("error: %v\n", err)
	}
}
