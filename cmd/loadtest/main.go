package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

type Config struct {
	BaseURL     string
	IngestURL   string
	APIKey      string
	Corpus      string
	Concurrency int
	Duration    time.Duration
	SeedDocs    int
	Terms       []string
}

type Stats struct {
	totalRequests atomic.Int64
	successCount  atomic.Int64
	errorCount    atomic.Int64
	latencies     []time.Duration
	latenciesMu   sync.Mutex
	statusCodes   map[int]*atomic.Int64
	statusCodesMu sync.Mutex
}

func NewStats() *Stats {
	return &Stats{
		latencies:   make([]time.Duration, 0, 100000),
		statusCodes: make(map[int]*atomic.Int64),
	}
}

func (s *Stats) RecordRequest(duration time.Duration, statusCode int, err error) {
	s.totalRequests.Add(1)

	if err != nil {
		s.errorCount.Add(1)
		return
	}

	if statusCode >= 200 && statusCode < 300 {
		s.successCount.Add(1)
	} else {
		s.errorCount.Add(1)
	}

	s.latenciesMu.Lock()
	s.latencies = append(s.latencies, duration)
	s.latenciesMu.Unlock()

	s.statusCodesMu.Lock()
	if _, ok := s.statusCodes[statusCode]; !ok {
		s.statusCodes[statusCode] = &atomic.Int64{}
	}
	s.statusCodes[statusCode].Add(1)
	s.statusCodesMu.Unlock()
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "base URL of the stats service (or gateway)")
	ingestURL := flag.String("ingest-url", "http://localhost:8081", "base URL of the ingestion service")
	apiKey := flag.String("api-key", "", "API key header, required when targeting the gateway")
	corpus := flag.String("corpus", "loadtest", "corpus to seed and query")
	concurrency := flag.Int("concurrency", 10, "number of concurrent workers")
	duration := flag.Duration("duration", 30*time.Second, "test duration")
	seedDocs := flag.Int("seed", 0, "documents to ingest before querying (0 = skip seeding)")
	flag.Parse()

	terms := []string{
		"whale", "ocean", "voyage", "captain", "harpoon",
		"storm", "island", "compass", "rigging", "leviathan",
		"current", "horizon", "crew", "lantern", "tide",
	}

	cfg := Config{
		BaseURL:     *baseURL,
		IngestURL:   *ingestURL,
		APIKey:      *apiKey,
		Corpus:      *corpus,
		Concurrency: *concurrency,
		Duration:    *duration,
		SeedDocs:    *seedDocs,
		Terms:       terms,
	}

	fmt.Println("=== Term Statistics Load Test ===")
	fmt.Printf("Target:      %s\n", cfg.BaseURL)
	fmt.Printf("Corpus:      %s\n", cfg.Corpus)
	fmt.Printf("Concurrency: %d\n", cfg.Concurrency)
	fmt.Printf("Duration:    %s\n", cfg.Duration)
	fmt.Printf("Terms:       %d unique\n", len(cfg.Terms))
	fmt.Println()

	var docIDs []string
	if cfg.SeedDocs > 0 {
		docIDs = seedCorpus(cfg)
	}

	stats := runLoadTest(cfg, docIDs)
	printReport(stats, cfg.Duration)
}

// seedCorpus ingests documents built from the term vocabulary so the read
// load hits a populated corpus. Statistics become queryable after the
// analyzer's next recompute; with enough seeded documents the threshold
// trigger makes that nearly immediate.
func seedCorpus(cfg Config) []string {
	client := &http.Client{Timeout: 10 * time.Second}
	endpoint := fmt.Sprintf("%s/api/v1/corpora/%s/documents", cfg.IngestURL, url.PathEscape(cfg.Corpus))

	fmt.Printf("Seeding %d documents into %q", cfg.SeedDocs, cfg.Corpus)
	docIDs := make([]string, 0, cfg.SeedDocs)
	for i := 0; i < cfg.SeedDocs; i++ {
		// Vary which terms appear and how often so tf-idf differs per doc.
		var text bytes.Buffer
		for j, term := range cfg.Terms {
			if (i+j)%3 == 0 {
				continue
			}
			repeat := (i+j)%5 + 1
			for r := 0; r < repeat; r++ {
				text.WriteString(term)
				text.WriteByte(' ')
			}
		}

		body, _ := json.Marshal(map[string]string{
			"title": fmt.Sprintf("seed document %d", i),
			"text":  text.String(),
		})
		req, err := http.NewRequest(http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			continue
		}
		req.Header.Set("Content-Type", "application/json")
		if cfg.APIKey != "" {
			req.Header.Set("X-API-Key", cfg.APIKey)
		}

		resp, err := client.Do(req)
		if err != nil {
			fmt.Printf("\nseed request failed: %v\n", err)
			os.Exit(1)
		}
		if resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusOK {
			var ack struct {
				DocumentID string `json:"document_id"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&ack); err == nil && ack.DocumentID != "" {
				docIDs = append(docIDs, ack.DocumentID)
			}
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		if i%50 == 0 {
			fmt.Print(".")
		}
	}
	fmt.Printf(" done (%d accepted)\n\n", len(docIDs))
	return docIDs
}

func runLoadTest(cfg Config, docIDs []string) *Stats {
	stats := NewStats()
	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        cfg.Concurrency * 2,
			MaxIdleConnsPerHost: cfg.Concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	corpus := url.PathEscape(cfg.Corpus)

	var wg sync.WaitGroup
	fmt.Print("Running")

	for w := 0; w < cfg.Concurrency; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			idx := workerID

			for {
				select {
				case <-ctx.Done():
					return
				default:
				}

				term := cfg.Terms[idx%len(cfg.Terms)]
				var target string
				switch idx % 4 {
				case 0, 1:
					target = fmt.Sprintf("%s/api/v1/corpora/%s/terms/%s?limit=10",
						cfg.BaseURL, corpus, url.PathEscape(term))
				case 2:
					target = fmt.Sprintf("%s/api/v1/corpora/%s/rankings?per_doc=5",
						cfg.BaseURL, corpus)
				default:
					if len(docIDs) > 0 {
						doc := docIDs[idx%len(docIDs)]
						target = fmt.Sprintf("%s/api/v1/corpora/%s/documents/%s/terms?limit=10",
							cfg.BaseURL, corpus, url.PathEscape(doc))
					} else {
						target = fmt.Sprintf("%s/api/v1/corpora/%s/stats", cfg.BaseURL, corpus)
					}
				}
				idx++

				start := time.Now()
				resp, err := client.Do(mustNewRequest(ctx, target, cfg.APIKey))
				duration := time.Since(start)

				if err != nil {
					stats.RecordRequest(duration, 0, err)
					continue
				}
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()

				stats.RecordRequest(duration, resp.StatusCode, nil)
			}
		}(w)
	}

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fmt.Print(".")
			}
		}
	}()

	wg.Wait()
	fmt.Println(" done!")
	fmt.Println()
	return stats
}

func mustNewRequest(ctx context.Context, rawURL, apiKey string) *http.Request {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		panic(fmt.Sprintf("creating request: %v", err))
	}
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	return req
}

func printReport(stats *Stats, duration time.Duration) {
	total := stats.totalRequests.Load()
	success := stats.successCount.Load()
	errors := stats.errorCount.Load()

	fmt.Println("=== Results ===")
	fmt.Printf("Total Requests:  %d\n", total)
	fmt.Printf("Successful:      %d\n", success)
	fmt.Printf("Errors:          %d\n", errors)

	if total > 0 {
		errorRate := float64(errors) / float64(total) * 100
		fmt.Printf("Error Rate:      %.2f%%\n", errorRate)
		rps := float64(total) / duration.Seconds()
		fmt.Printf("Requests/sec:    %.2f\n", rps)
	}

	stats.latenciesMu.Lock()
	latencies := make([]time.Duration, len(stats.latencies))
	copy(latencies, stats.latencies)
	stats.latenciesMu.Unlock()

	if len(latencies) > 0 {
		sort.Slice(latencies, func(i, j int) bool {
			return latencies[i] < latencies[j]
		})

		var sum time.Duration
		for _, l := range latencies {
			sum += l
		}
		avg := sum / time.Duration(len(latencies))

		fmt.Println()
		fmt.Println("=== Latency ===")
		fmt.Printf("Min:    %s\n", latencies[0])
		fmt.Printf("Avg:    %s\n", avg)
		fmt.Printf("P50:    %s\n", percentile(latencies, 50))
		fmt.Printf("P90:    %s\n", percentile(latencies, 90))
		fmt.Printf("P95:    %s\n", percentile(latencies, 95))
		fmt.Printf("P99:    %s\n", percentile(latencies, 99))
		fmt.Printf("Max:    %s\n", latencies[len(latencies)-1])

		var sumSquared float64
		avgFloat := float64(avg)
		for _, l := range latencies {
			diff := float64(l) - avgFloat
			sumSquared += diff * diff
		}
		stddev := time.Duration(math.Sqrt(sumSquared / float64(len(latencies))))
		fmt.Printf("StdDev: %s\n", stddev)
	}

	fmt.Println()
	fmt.Println("=== Status Codes ===")
	stats.statusCodesMu.Lock()
	codes := make([]int, 0, len(stats.statusCodes))
	for code := range stats.statusCodes {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	for _, code := range codes {
		count := stats.statusCodes[code].Load()
		fmt.Printf("  %d: %d\n", code, count)
	}
	stats.statusCodesMu.Unlock()

	if total == 0 {
		fmt.Println()
		fmt.Println("WARNING: No requests completed. Is the service running?")
		os.Exit(1)
	}
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
