// Command driftmq-bench stress-tests a driftmq service node by hammering
// its "echo.ping" command from a configurable number of concurrent workers
// and reporting round-trip latency.
package main

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"sync/atomic"
	"time"

	"github.com/driftmq/driftmq"
)

type config struct {
	address     string
	targetPub   [32]byte
	concurrency int
	duration    time.Duration
	reportFile  string
}

type result struct {
	totalRequests  int64
	successfulReqs int64
	totalDuration  time.Duration
	avgLatency     time.Duration
	minLatency     time.Duration
	maxLatency     time.Duration
	requestsPerSec float64
}

func main() {
	cfg := parseFlags()

	fmt.Println("=== driftmq bench ===")
	fmt.Printf("Target:      %s (pubkey %s)\n", cfg.address, hex.EncodeToString(cfg.targetPub[:]))
	fmt.Printf("Concurrency: %d workers\n", cfg.concurrency)
	fmt.Printf("Duration:    %v\n", cfg.duration)
	fmt.Println()

	res := run(cfg)
	printResult(res)
	if cfg.reportFile != "" {
		saveReport(cfg, res)
	}
}

func parseFlags() config {
	addr := flag.String("addr", "tcp://127.0.0.1:7777", "driftmq-echo address to dial")
	pubHex := flag.String("pubkey", "", "hex-encoded target pubkey (required)")
	concurrency := flag.Int("c", 10, "number of concurrent workers")
	duration := flag.Duration("d", 10*time.Second, "duration of the test")
	report := flag.String("o", "", "output report file (JSON)")
	flag.Parse()

	if *pubHex == "" {
		fmt.Fprintln(os.Stderr, "driftmq-bench: -pubkey is required")
		os.Exit(1)
	}
	raw, err := hex.DecodeString(*pubHex)
	if err != nil || len(raw) != 32 {
		fmt.Fprintln(os.Stderr, "driftmq-bench: -pubkey must be 64 hex characters")
		os.Exit(1)
	}
	var pub [32]byte
	copy(pub[:], raw)

	return config{address: *addr, targetPub: pub, concurrency: *concurrency, duration: *duration, reportFile: *report}
}

func run(cfg config) result {
	var pub, priv [32]byte
	proxy, err := driftmq.New(pub, priv, false, driftmq.WithGeneralWorkers(uint(cfg.concurrency)))
	if err != nil {
		log.Fatalf("driftmq-bench: construct: %v", err)
	}

	latencies := make(chan time.Duration, 4096)
	if err := proxy.AddCategory("bench", driftmq.Access{AuthMin: driftmq.AuthNone}, 0, -1); err != nil {
		log.Fatalf("driftmq-bench: add category: %v", err)
	}
	if err := proxy.AddCommand("bench", "pong", func(m *driftmq.Message) {
		if len(m.Data) == 0 || len(m.Data[0]) != 8 {
			return
		}
		sentAt := int64(binary.BigEndian.Uint64(m.Data[0]))
		latencies <- time.Since(time.Unix(0, sentAt))
	}); err != nil {
		log.Fatalf("driftmq-bench: add command: %v", err)
	}
	if err := proxy.Start(); err != nil {
		log.Fatalf("driftmq-bench: start: %v", err)
	}
	defer proxy.Close()

	var totalReqs, successReqs int64
	var minLatency int64 = 1<<63 - 1
	var maxLatency int64
	var totalLatency int64

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			case lat := <-latencies:
				atomic.AddInt64(&successReqs, 1)
				atomic.AddInt64(&totalLatency, int64(lat))
				for {
					old := atomic.LoadInt64(&minLatency)
					if int64(lat) >= old || atomic.CompareAndSwapInt64(&minLatency, old, int64(lat)) {
						break
					}
				}
				for {
					old := atomic.LoadInt64(&maxLatency)
					if int64(lat) <= old || atomic.CompareAndSwapInt64(&maxLatency, old, int64(lat)) {
						break
					}
				}
			}
		}
	}()

	workerStop := make(chan struct{})
	for i := 0; i < cfg.concurrency; i++ {
		go func() {
			for {
				select {
				case <-workerStop:
					return
				default:
				}
				payload := make([]byte, 8)
				binary.BigEndian.PutUint64(payload, uint64(time.Now().UnixNano()))
				atomic.AddInt64(&totalReqs, 1)
				_ = proxy.Send(cfg.targetPub, "echo.ping", driftmq.Hint(cfg.address), driftmq.Part(payload))
			}
		}()
	}

	start := time.Now()
	time.Sleep(cfg.duration)
	close(workerStop)
	close(stop)
	<-done

	elapsed := time.Since(start)
	total := atomic.LoadInt64(&totalReqs)
	success := atomic.LoadInt64(&successReqs)
	var avg time.Duration
	if success > 0 {
		avg = time.Duration(atomic.LoadInt64(&totalLatency) / success)
	}

	return result{
		totalRequests:  total,
		successfulReqs: success,
		totalDuration:  elapsed,
		avgLatency:     avg,
		minLatency:     time.Duration(atomic.LoadInt64(&minLatency)),
		maxLatency:     time.Duration(atomic.LoadInt64(&maxLatency)),
		requestsPerSec: float64(success) / elapsed.Seconds(),
	}
}

func printResult(r result) {
	fmt.Println("=== Results ===")
	fmt.Printf("Duration:     %v\n", r.totalDuration.Round(time.Millisecond))
	fmt.Printf("Sent:         %d\n", r.totalRequests)
	fmt.Printf("Replied:      %d\n", r.successfulReqs)
	fmt.Printf("Replies/sec:  %.2f\n", r.requestsPerSec)
	fmt.Printf("Avg Latency:  %v\n", r.avgLatency.Round(time.Microsecond))
	fmt.Printf("Min Latency:  %v\n", r.minLatency.Round(time.Microsecond))
	fmt.Printf("Max Latency:  %v\n", r.maxLatency.Round(time.Microsecond))
}

func saveReport(cfg config, r result) {
	report := map[string]any{
		"config": map[string]any{
			"address":     cfg.address,
			"concurrency": cfg.concurrency,
			"duration":    cfg.duration.String(),
		},
		"results": map[string]any{
			"sent":           r.totalRequests,
			"replied":        r.successfulReqs,
			"replies_per_sec": r.requestsPerSec,
			"avg_latency_ms": float64(r.avgLatency.Microseconds()) / 1000,
			"min_latency_ms": float64(r.minLatency.Microseconds()) / 1000,
			"max_latency_ms": float64(r.maxLatency.Microseconds()) / 1000,
		},
		"timestamp": time.Now().Format(time.RFC3339),
	}
	data, _ := json.MarshalIndent(report, "", "  ")
	if err := os.WriteFile(cfg.reportFile, data, 0644); err != nil {
		log.Printf("driftmq-bench: failed to write report: %v", err)
		return
	}
	fmt.Printf("Report saved to: %s\n", cfg.reportFile)
}
