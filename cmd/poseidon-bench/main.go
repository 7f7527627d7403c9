// poseidon-bench seeds a throwaway store and times the operations a
// graph workload leans on hardest: inserts, point lookups, relationship
// traversal, and label scans.
//
// Unlike the ticket tool's bench harness, which shells out to hyperfine
// against a separately built CLI binary (process startup dominates a
// one-shot ls invocation there), the engine here is a library: the cost
// worth measuring is in-process call latency, not process spawn
// overhead. So this tool seeds and measures in the same process, the
// way the ticket tool's own seeder populates a tree of ticket files
// before any benchmark runs against it.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/polyhedra-labs/poseidongo/internal/graphdb"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		nodeCount  = flag.Int("nodes", 100_000, "number of nodes to seed")
		relPercent = flag.Int("rel-percent", 20, "percent of nodes that get an outgoing relationship")
		dir        = flag.String("dir", "", "store directory (defaults to a temp dir, removed after the run)")
		poolFrames = flag.Int("pool-frames", 4096, "buffer pool frames")
	)
	flag.Parse()

	storeDir := *dir
	if storeDir == "" {
		tmp, err := os.MkdirTemp("", "poseidon-bench-")
		if err != nil {
			return fmt.Errorf("create temp dir: %w", err)
		}
		defer os.RemoveAll(tmp)
		storeDir = tmp
	}

	store, err := graphdb.Open(graphdb.Options{
		Dir:        filepath.Join(storeDir, "data"),
		PoolFrames: *poolFrames,
	})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	fmt.Printf("seeding %d nodes (%d%% with a relationship)...\n", *nodeCount, *relPercent)

	ids, seedElapsed, err := seedNodes(store, *nodeCount, *relPercent)
	if err != nil {
		return fmt.Errorf("seed: %w", err)
	}
	fmt.Printf("seeded %d nodes in %s (%.0f nodes/sec)\n\n", len(ids), seedElapsed, float64(len(ids))/seedElapsed.Seconds())

	results := []benchResult{
		benchPointLookup(store, ids),
		benchLabelScan(store),
		benchTraverse(store, ids),
	}

	fmt.Println("benchmark            runs       mean          min           max")
	for _, r := range results {
		fmt.Printf("%-20s  %-8d  %-12s  %-12s  %-12s\n", r.label, r.runs, r.mean, r.min, r.max)
	}

	stats := store.PrintStats()
	fmt.Printf("\nbuffer pool hit ratio: %.2f%%\n", stats.BufferPoolHitRatio*100)

	return nil
}

// seedNodes fans out across the available cores the same way the
// ticket tool's own seeder parallelizes writing its ticket tree, since
// Store.Run serializes commits internally and the real concurrency win
// is in property-chain encoding and dictionary lookups ahead of each
// commit.
func seedNodes(store *graphdb.Store, count, relPercent int) ([]uint64, time.Duration, error) {
	ids := make([]uint64, count)
	workers := runtime.NumCPU()
	jobs := make(chan int, workers*2)

	var firstErr atomic.Pointer[error]
	var wg sync.WaitGroup

	start := time.Now()

	for range workers {
		wg.Go(func() {
			for i := range jobs {
				err := store.Run(func(t *graphdb.Txn) error {
					id, err := store.Graph().AddNode(t, "Person", []graphdb.Property{
						{Key: "seq", Kind: graphdb.PropInt, Int: int64(i)},
						{Key: "external_id", Kind: graphdb.PropString, Str: uuid.NewString()},
					})
					if err != nil {
						return err
					}
					ids[i] = id
					return nil
				})
				if err != nil {
					firstErr.CompareAndSwap(nil, &err)
					return
				}
			}
		})
	}

	for i := range count {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	elapsed := time.Since(start)

	if p := firstErr.Load(); p != nil {
		return nil, elapsed, *p
	}

	if relPercent > 0 {
		for i := 0; i < count; i += 100 / relPercent {
			from, to := ids[i], ids[(i+1)%count]
			err := store.Run(func(t *graphdb.Txn) error {
				_, err := store.Graph().AddRelationship(t, from, to, "KNOWS", nil)
				return err
			})
			if err != nil {
				return ids, elapsed, err
			}
		}
	}

	return ids, elapsed, nil
}

type benchResult struct {
	label string
	runs  int
	mean  time.Duration
	min   time.Duration
	max   time.Duration
}

func timeRuns(label string, runs int, fn func() error) benchResult {
	var total, min, max time.Duration
	min = time.Hour

	for range runs {
		start := time.Now()
		_ = fn()
		elapsed := time.Since(start)

		total += elapsed
		if elapsed < min {
			min = elapsed
		}
		if elapsed > max {
			max = elapsed
		}
	}

	return benchResult{label: label, runs: runs, mean: total / time.Duration(runs), min: min, max: max}
}

func benchPointLookup(store *graphdb.Store, ids []uint64) benchResult {
	i := 0
	return timeRuns("point-lookup", 1000, func() error {
		id := ids[i%len(ids)]
		i++
		return store.Run(func(t *graphdb.Txn) error {
			_, _, err := store.Graph().GetNode(t, id)
			return err
		})
	})
}

func benchLabelScan(store *graphdb.Store) benchResult {
	return timeRuns("label-scan", 20, func() error {
		return store.Run(func(t *graphdb.Txn) error {
			return store.Graph().ParallelLabelScan(t, "Person", runtime.NumCPU(), func(uint64, graphdb.NodeRecord) bool {
				return true
			})
		})
	})
}

func benchTraverse(store *graphdb.Store, ids []uint64) benchResult {
	i := 0
	return timeRuns("traverse-3-hop", 200, func() error {
		id := ids[i%len(ids)]
		i++
		return store.Run(func(t *graphdb.Txn) error {
			return store.Graph().Traverse(t, id, "KNOWS", 3, func(uint64, int) bool {
				return true
			})
		})
	})
}
