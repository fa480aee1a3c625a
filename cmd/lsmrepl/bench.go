package main

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"lsmrepl/pkg/rpc"
)

type BenchmarkResult struct {
	TotalOps      int
	SuccessfulOps int
	FailedOps     int
	Duration      time.Duration
	OpsPerSec     float64
	AvgLatency    time.Duration
	MinLatency    time.Duration
	MaxLatency    time.Duration
}

func newBenchCmd() *cobra.Command {
	var (
		master      string
		slave       string
		ops         int
		concurrency int
	)
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Write to the master and measure how long a slave takes to catch up",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBench(cmd.Context(), cmd.OutOrStdout(), master, slave, ops, concurrency)
		},
	}
	cmd.Flags().StringVar(&master, "master", "http://localhost:8080", "master URL")
	cmd.Flags().StringVar(&slave, "slave", "", "slave URL; empty skips the replication lag check")
	cmd.Flags().IntVar(&ops, "ops", 1000, "number of writes")
	cmd.Flags().IntVar(&concurrency, "concurrency", 10, "concurrent writers")
	return cmd
}

func runBench(ctx context.Context, out io.Writer, masterURL, slaveURL string, totalOps, concurrency int) error {
	const db = "bench"

	master := rpc.NewHTTPStore(masterURL)
	if err := master.CreateDatabase(db, "string"); err != nil {
		fmt.Fprintf(out, "create database: %v (reusing it)\n", err)
	}

	fmt.Fprintf(out, "Writes (%d operations, %d goroutines)\n", totalOps, concurrency)
	result := benchmarkWrites(ctx, master, db, totalOps, concurrency)
	printResult(out, result)

	if slaveURL == "" {
		return nil
	}

	// the last key of every writer is the last one the slave receives
	slave := rpc.NewHTTPStore(slaveURL)
	start := time.Now()
	for w := 0; w < min(concurrency, totalOps); w++ {
		key := benchKey(w, opsOf(w, totalOps, concurrency)-1)
		for {
			if _, found, err := slave.Get(db, 0, key); err == nil && found {
				break
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(10 * time.Millisecond):
			}
		}
	}
	fmt.Fprintf(out, "Replication lag after the last write: %v\n", time.Since(start))
	return nil
}

func benchmarkWrites(ctx context.Context, store *rpc.HTTPStore, db string, totalOps, concurrency int) BenchmarkResult {
	start := time.Now()
	var mu sync.Mutex

	successful := 0
	failed := 0
	latencies := make([]time.Duration, 0, totalOps)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < concurrency; i++ {
		i := i
		g.Go(func() error {
			for j := 0; j < opsOf(i, totalOps, concurrency); j++ {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				value := fmt.Sprintf("bench_value_%d_%d_%d", i, j, time.Now().UnixNano())

				opStart := time.Now()
				err := store.Put(db, 0, benchKey(i, j), value)
				latency := time.Since(opStart)

				mu.Lock()
				if err == nil {
					successful++
				} else {
					failed++
				}
				latencies = append(latencies, latency)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	duration := time.Since(start)

	var minLat, maxLat, sum time.Duration
	if len(latencies) > 0 {
		minLat = latencies[0]
		maxLat = latencies[0]
		for _, lat := range latencies {
			minLat = min(minLat, lat)
			maxLat = max(maxLat, lat)
			sum += lat
		}
	}
	var avgLatency time.Duration
	if len(latencies) > 0 {
		avgLatency = sum / time.Duration(len(latencies))
	}

	return BenchmarkResult{
		TotalOps:      totalOps,
		SuccessfulOps: successful,
		FailedOps:     failed,
		Duration:      duration,
		OpsPerSec:     float64(successful) / duration.Seconds(),
		AvgLatency:    avgLatency,
		MinLatency:    minLat,
		MaxLatency:    maxLat,
	}
}

// opsOf is the number of writes done by writer i.
func opsOf(i, totalOps, concurrency int) int {
	n := totalOps / concurrency
	if i < totalOps%concurrency {
		n++
	}
	return n
}

func benchKey(writer, op int) string {
	return fmt.Sprintf("bench_key_%d_%d", writer, op)
}

func printResult(out io.Writer, result BenchmarkResult) {
	fmt.Fprintf(out, "  Total Operations: %d\n", result.TotalOps)
	fmt.Fprintf(out, "  Successful: %d\n", result.SuccessfulOps)
	fmt.Fprintf(out, "  Failed: %d\n", result.FailedOps)
	fmt.Fprintf(out, "  Duration: %v\n", result.Duration)
	fmt.Fprintf(out, "  Operations/sec: %.2f\n", result.OpsPerSec)
	fmt.Fprintf(out, "  Avg Latency: %v\n", result.AvgLatency)
	fmt.Fprintf(out, "  Min Latency: %v\n", result.MinLatency)
	fmt.Fprintf(out, "  Max Latency: %v\n", result.MaxLatency)
}
