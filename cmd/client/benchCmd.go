package client

import (
	"crypto/rand"
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/ValentinKolb/echoloop/cmd/util"
	"github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// BenchCmd measures echo round-trip latency and throughput
	BenchCmd = &cobra.Command{
		Use:               "bench",
		Short:             "Benchmark echo round trips against a server",
		Long:              "Benchmark echo round trips against a running echoloop server. Each worker performs sequential echo exchanges on its own share of the connection pool and reports a latency distribution.",
		PersistentPreRunE: setupClient,
		RunE:              runBench,
	}

	benchPayloadSize = 1024
	benchWorkers     = 10
	benchRequests    = 1000
)

func init() {
	// add flags
	key := "payload-size"
	BenchCmd.Flags().Int(key, 1024, util.WrapString("Payload size per echo exchange in bytes"))

	key = "workers"
	BenchCmd.Flags().Int(key, 10, util.WrapString("Number of concurrent workers"))

	key = "requests"
	BenchCmd.Flags().Int(key, 1000, util.WrapString("Echo exchanges per worker"))

	key = "csv"
	BenchCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func runBench(_ *cobra.Command, _ []string) error {
	defer echoClient.Close()

	benchPayloadSize = viper.GetInt("payload-size")
	benchWorkers = viper.GetInt("workers")
	benchRequests = viper.GetInt("requests")

	fmt.Println("Benchmark tool for echoloop servers")
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(util.GetClientConfig().String())
	fmt.Printf("Workers:  %d\n", benchWorkers)
	fmt.Printf("Requests: %d per worker\n", benchRequests)
	fmt.Printf("Payload:  %d bytes\n", benchPayloadSize)
	fmt.Println()

	payload := make([]byte, benchPayloadSize)
	if _, err := rand.Read(payload); err != nil {
		return fmt.Errorf("failed to create payload: %v", err)
	}

	// Latency distribution over all workers
	timer := metrics.NewTimer()
	defer timer.Stop()

	fmt.Println("starting benchmark...")

	var wg sync.WaitGroup
	start := time.Now()

	for w := 0; w < benchWorkers; w++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for i := 0; i < benchRequests; i++ {
				reqStart := time.Now()
				if err := echoClient.Verify(payload); err != nil {
					log.Printf("(worker %d) - echo error: %v\n", id, err)
					continue
				}
				timer.UpdateSince(reqStart)
			}
		}(w)
	}

	wg.Wait()
	elapsed := time.Since(start)

	printResults(timer, elapsed)

	// Write results to csv if specified
	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, timer, elapsed); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}

	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func printResults(timer metrics.Timer, elapsed time.Duration) {
	snapshot := timer.Snapshot()
	ps := snapshot.Percentiles([]float64{0.5, 0.95, 0.99})

	bytesMoved := snapshot.Count() * int64(benchPayloadSize) * 2 // payload travels both ways

	fmt.Println()
	fmt.Println("Results:")
	fmt.Printf("  %-12s: %d\n", "exchanges", snapshot.Count())
	fmt.Printf("  %-12s: %s\n", "elapsed", elapsed.Round(time.Millisecond))
	fmt.Printf("  %-12s: %.0f req/s\n", "throughput", float64(snapshot.Count())/elapsed.Seconds())
	fmt.Printf("  %-12s: %.2f MB/s\n", "transfer", float64(bytesMoved)/elapsed.Seconds()/(1024*1024))
	fmt.Printf("  %-12s: %s\n", "mean", time.Duration(snapshot.Mean()))
	fmt.Printf("  %-12s: %s\n", "p50", time.Duration(ps[0]))
	fmt.Printf("  %-12s: %s\n", "p95", time.Duration(ps[1]))
	fmt.Printf("  %-12s: %s\n", "p99", time.Duration(ps[2]))
	fmt.Printf("  %-12s: %s\n", "max", time.Duration(snapshot.Max()))
}

func writeResultsToCSV(path string, timer metrics.Timer, elapsed time.Duration) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	snapshot := timer.Snapshot()
	ps := snapshot.Percentiles([]float64{0.5, 0.95, 0.99})

	header := []string{"workers", "requests", "payload_bytes", "exchanges", "elapsed_ms", "req_per_sec", "mean_ns", "p50_ns", "p95_ns", "p99_ns", "max_ns"}
	if err := writer.Write(header); err != nil {
		return err
	}

	row := []string{
		strconv.Itoa(benchWorkers),
		strconv.Itoa(benchRequests),
		strconv.Itoa(benchPayloadSize),
		strconv.FormatInt(snapshot.Count(), 10),
		strconv.FormatInt(elapsed.Milliseconds(), 10),
		strconv.FormatFloat(float64(snapshot.Count())/elapsed.Seconds(), 'f', 2, 64),
		strconv.FormatFloat(snapshot.Mean(), 'f', 0, 64),
		strconv.FormatFloat(ps[0], 'f', 0, 64),
		strconv.FormatFloat(ps[1], 'f', 0, 64),
		strconv.FormatFloat(ps[2], 'f', 0, 64),
		strconv.FormatInt(snapshot.Max(), 10),
	}
	return writer.Write(row)
}
