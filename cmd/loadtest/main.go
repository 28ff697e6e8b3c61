package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"

	"ebs-gateway/internal/logger"

	"golang.org/x/sync/errgroup"
)

func main() {
	target := flag.String("url", "http://localhost:8080/api/v1/ebs", "gateway URL to hit")
	clientKey := flag.String("client-key", "", "client key")
	secretKey := flag.String("secret-key", "", "secret key")
	clientHeader := flag.String("client-header", "x-client-key", "client key header")
	secretHeader := flag.String("secret-header", "x-secret-key", "secret key header")
	forwardedFor := flag.String("forwarded-for", "", "X-Forwarded-For value, the source IP the gateway matches against allowlists")
	numRequests := flag.Int("n", 1000, "total requests")
	concurrentWorkers := flag.Int("c", 50, "concurrent workers")
	flag.Parse()

	log := logger.New(false)
	client := &http.Client{Timeout: 10 * time.Second}

	var mu sync.Mutex
	statuses := map[int]int{}
	failures := 0
	guardRejects := 0

	startTime := time.Now()
	g, ctx := errgroup.WithContext(context.Background())
	g.SetLimit(*concurrentWorkers)

	for i := 0; i < *numRequests; i++ {
		g.Go(func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, *target, nil)
			if err != nil {
				return err
			}
			req.Header.Set(*clientHeader, *clientKey)
			req.Header.Set(*secretHeader, *secretKey)
			if *forwardedFor != "" {
				req.Header.Set("X-Forwarded-For", *forwardedFor)
			}

			resp, err := client.Do(req)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				log.Debug("request failed", "error", err)
				failures++
				return nil
			}
			resp.Body.Close()
			statuses[resp.StatusCode]++
			// Gateway 429s carry the policy header, pre-auth guard 429s do not.
			if resp.StatusCode == http.StatusTooManyRequests && resp.Header.Get("X-RateLimit-Policy") == "" {
				guardRejects++
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Error("load test aborted", "error", err)
		os.Exit(1)
	}

	duration := time.Since(startTime)

	fmt.Println("Load Test Results:")
	fmt.Println("==================")
	fmt.Printf("Total Requests: %d\n", *numRequests)
	codes := make([]int, 0, len(statuses))
	for code := range statuses {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	for _, code := range codes {
		fmt.Printf("HTTP %d: %d\n", code, statuses[code])
	}
	fmt.Printf("429 from pre-auth guard: %d\n", guardRejects)
	fmt.Printf("Transport errors: %d\n", failures)
	fmt.Printf("Duration: %v\n", duration)
	fmt.Printf("Requests/sec: %.2f\n", float64(*numRequests)/duration.Seconds())
	fmt.Printf("Allowed: %.2f%%\n", float64(statuses[http.StatusOK])/float64(*numRequests)*100)
}
