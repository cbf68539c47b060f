//go:build ignore

// Loadtest sends requests to a proxy listener over prior-knowledge HTTP/2 and
// reports how responses were split across backends, keyed by response body.
//
// Usage:
//
//	go run loadtest.go -url http://localhost:8080/ -requests 1000
//	go run loadtest.go -url http://localhost:8080/ -requests 5000 -concurrency 50 -out summary.json
package main

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/http2"
)

func main() {
	var (
		url         = flag.String("url", "http://localhost:8080/", "Target URL")
		concurrency = flag.Int("concurrency", 1, "Number of concurrent workers")
		requests    = flag.Int("requests", 1000, "Total number of requests to send")
		timeoutSec  = flag.Int("timeout", 10, "Per-request timeout in seconds")
	)
	outJSON := flag.String("out", "", "Write JSON summary to this file (optional)")
	verbose := flag.Bool("v", false, "Verbose per-request logging to stdout")
	flag.Parse()

	client := &http.Client{
		Timeout: time.Duration(*timeoutSec) * time.Second,
		Transport: &http2.Transport{
			AllowHTTP: true,
			DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, network, addr)
			},
		},
	}

	jobs := make(chan int)
	var wg sync.WaitGroup

	var success, failure int32

	tokens := make(map[string]int)
	statusCodes := make(map[int]int)
	var mu sync.Mutex

	latencies := make([]time.Duration, 0, *requests)

	testStart := time.Now()

	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for idx := range jobs {
				start := time.Now()
				resp, err := client.Get(*url)
				if err != nil {
					atomic.AddInt32(&failure, 1)
					if *verbose {
						fmt.Printf("[%d] idx=%d error=%v\n", workerID, idx, err)
					}
					continue
				}
				body, err := io.ReadAll(resp.Body)
				resp.Body.Close()
				dur := time.Since(start)

				if err != nil || resp.StatusCode != http.StatusOK {
					atomic.AddInt32(&failure, 1)
				} else {
					atomic.AddInt32(&success, 1)
				}

				mu.Lock()
				statusCodes[resp.StatusCode]++
				if resp.StatusCode == http.StatusOK {
					tokens[string(body)]++
				}
				latencies = append(latencies, dur)
				mu.Unlock()

				if *verbose {
					fmt.Printf("[%d] idx=%d token=%s status=%d dur=%v\n", workerID, idx, body, resp.StatusCode, dur)
				}
			}
		}(i)
	}

	go func() {
		for i := 0; i < *requests; i++ {
			jobs <- i
		}
		close(jobs)
	}()

	wg.Wait()
	totalDuration := time.Since(testStart)

	fmt.Println("--- Load Test Summary ---")
	fmt.Printf("Target: %s\n", *url)
	fmt.Printf("Requests: %d  Concurrency: %d\n", *requests, *concurrency)
	fmt.Printf("Success: %d  Failure: %d\n", success, failure)
	fmt.Printf("Duration: %v  Throughput: %.2f req/s\n", totalDuration, float64(*requests)/totalDuration.Seconds())

	fmt.Println("\nStatus codes:")
	var codes []int
	for k := range statusCodes {
		codes = append(codes, k)
	}
	sort.Ints(codes)
	for _, k := range codes {
		fmt.Printf("  %d -> %d\n", k, statusCodes[k])
	}

	fmt.Println("\nBackend distribution:")
	var names []string
	for k := range tokens {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		fmt.Printf("  %s -> %d (%.1f%%)\n", k, tokens[k], 100*float64(tokens[k])/float64(success))
	}

	if len(latencies) > 0 {
		sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
		pick := func(p float64) time.Duration { return latencies[int(float64(len(latencies)-1)*p)] }
		fmt.Printf("\nLatencies: min=%v p50=%v p95=%v p99=%v max=%v\n",
			latencies[0], pick(0.50), pick(0.95), pick(0.99), latencies[len(latencies)-1])
	}

	if *outJSON != "" {
		report := map[string]interface{}{
			"target":       *url,
			"requests":     *requests,
			"concurrency":  *concurrency,
			"success":      success,
			"failure":      failure,
			"duration_ms":  totalDuration.Milliseconds(),
			"status_codes": statusCodes,
			"backends":     tokens,
		}

		f, err := os.Create(*outJSON)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create json file: %v\n", err)
			os.Exit(1)
		}
		enc := json.NewEncoder(f)
		enc.SetIndent("", "  ")
		enc.Encode(report)
		f.Close()
		fmt.Printf("\nWrote JSON summary to %s\n", *outJSON)
	}

	if failure > 0 {
		os.Exit(2)
	}
}
