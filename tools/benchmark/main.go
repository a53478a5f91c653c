package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

type result struct {
	latency time.Duration
	status  int
	err     error
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "Base URL of the suivi API")
	path := flag.String("path", "/api/tasks", "Authenticated path to request")
	username := flag.String("username", "", "Username to sign in with")
	password := flag.String("password", "", "Password to sign in with")
	concurrency := flag.Int("c", 10, "Number of concurrent workers")
	requests := flag.Int("n", 1000, "Total number of requests")
	duration := flag.Duration("d", 0, "Stop after this duration")
	flag.Parse()

	if *concurrency <= 0 || *requests <= 0 {
		fmt.Fprintln(os.Stderr, "-c and -n must be positive")
		os.Exit(2)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	base := strings.TrimRight(*baseURL, "/")

	var token string
	if *username != "" {
		var err error
		token, err = login(client, base, *username, *password)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Sign-in failed: %v\n", err)
			os.Exit(1)
		}
	}

	ctx := context.Background()
	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	jobs := make(chan struct{}, *requests)
	for i := 0; i < *requests; i++ {
		jobs <- struct{}{}
	}
	close(jobs)

	results := make(chan result, *requests)
	var wg sync.WaitGroup

	start := time.Now()
	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range jobs {
				if ctx.Err() != nil {
					return
				}
				results <- fetch(ctx, client, base+*path, token)
			}
		}()
	}

	wg.Wait()
	close(results)
	elapsed := time.Since(start)

	report(results, base+*path, *concurrency, elapsed)
}

func login(client *http.Client, base, username, password string) (string, error) {
	body, _ := json.Marshal(map[string]string{"username": username, "password": password})
	resp, err := client.Post(base+"/api/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.Token, nil
}

func fetch(ctx context.Context, client *http.Client, url, token string) result {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return result{err: err}
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return result{err: err}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return result{latency: time.Since(start), status: resp.StatusCode}
}

func report(results <-chan result, url string, concurrency int, elapsed time.Duration) {
	var latencies []time.Duration
	var total time.Duration
	statuses := make(map[int]int)
	errCount := 0

	for r := range results {
		if r.err != nil {
			errCount++
			continue
		}
		statuses[r.status]++
		latencies = append(latencies, r.latency)
		total += r.latency
	}

	fmt.Printf("\nBenchmark Results:\n")
	fmt.Printf("URL: %s\n", url)
	fmt.Printf("Concurrency Level: %d\n", concurrency)
	fmt.Printf("Time taken: %v\n", elapsed)
	fmt.Printf("Complete requests: %d\n", len(latencies))
	fmt.Printf("Failed requests: %d\n", errCount)
	if len(latencies) == 0 {
		return
	}

	codes := make([]int, 0, len(statuses))
	for code := range statuses {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	for _, code := range codes {
		fmt.Printf("  HTTP %d: %d\n", code, statuses[code])
	}

	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	fmt.Printf("Requests per second: %.2f\n", float64(len(latencies))/elapsed.Seconds())
	fmt.Printf("Mean latency: %v\n", total/time.Duration(len(latencies)))
	fmt.Printf("Min latency: %v\n", latencies[0])
	fmt.Printf("p95 latency: %v\n", latencies[len(latencies)*95/100])
	fmt.Printf("Max latency: %v\n", latencies[len(latencies)-1])
}
