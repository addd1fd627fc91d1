// BitTorrent HTTP Tracker Benchmark Tool
// Simulates concurrent announcing clients to test tracker performance
//
// Usage: go run benchmark/main.go -target http://localhost:6969 -duration 30s -concurrency 100

package main

import (
	"crypto/sha1"
	"flag"
	"fmt"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
)

const responseTimeout = 5 * time.Second

// LatencyStats stores latencies for a specific operation type (announce/scrape)
type LatencyStats struct {
	Latencies []time.Duration
	Mu        sync.Mutex
}

func (l *LatencyStats) Record(d time.Duration) {
	l.Mu.Lock()
	l.Latencies = append(l.Latencies, d)
	l.Mu.Unlock()
}

func (l *LatencyStats) getSorted() []time.Duration {
	l.Mu.Lock()
	defer l.Mu.Unlock()
	if len(l.Latencies) == 0 {
		return nil
	}
	sorted := make([]time.Duration, len(l.Latencies))
	copy(sorted, l.Latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return sorted
}

func (l *LatencyStats) Percentile(p float64) time.Duration {
	sorted := l.getSorted()
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)) * p / 100.0)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func (l *LatencyStats) Avg() time.Duration {
	l.Mu.Lock()
	defer l.Mu.Unlock()
	if len(l.Latencies) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range l.Latencies {
		sum += d
	}
	return sum / time.Duration(len(l.Latencies))
}

func (l *LatencyStats) Count() int {
	l.Mu.Lock()
	defer l.Mu.Unlock()
	return len(l.Latencies)
}

type Stats struct {
	StartTime       time.Time
	AnnounceLatency LatencyStats
	ScrapeLatency   LatencyStats
	TotalRequests   uint64
	SuccessfulReqs  uint64
	FailedReqs      uint64
}

type Config struct {
	Target      string
	Duration    time.Duration
	Concurrency int
	RateLimit   int
	NumHashes   int
	NumWant     int
}

type Benchmark struct {
	StopCh chan struct{}
	Client *resty.Client
	Config Config
	Stats  Stats
}

func NewBenchmark(cfg Config) *Benchmark {
	return &Benchmark{
		StopCh: make(chan struct{}),
		Config: cfg,
		Client: resty.New().SetTimeout(responseTimeout),
	}
}

func (b *Benchmark) Run() {
	b.Stats.StartTime = time.Now()

	fmt.Printf("Starting benchmark...\n")
	fmt.Printf("Target: %s\n", b.Config.Target)
	fmt.Printf("Duration: %s\n", b.Config.Duration)
	fmt.Printf("Concurrency: %d\n", b.Config.Concurrency)
	fmt.Printf("Info hashes: %d\n", b.Config.NumHashes)
	fmt.Println()

	var wg sync.WaitGroup
	for i := 0; i < b.Config.Concurrency; i++ {
		wg.Add(1)
		go b.worker(i, &wg)
	}

	time.Sleep(b.Config.Duration)
	close(b.StopCh)
	wg.Wait()
	b.printResults()
}

func (b *Benchmark) worker(id int, wg *sync.WaitGroup) {
	defer wg.Done()

	var rateLimiter *time.Ticker
	if b.Config.RateLimit > 0 {
		rateLimiter = time.NewTicker(time.Second / time.Duration(b.Config.RateLimit))
		defer rateLimiter.Stop()
	}

	peerID := generatePeerID(id)
	hashes := make([]string, b.Config.NumHashes)
	for i := range hashes {
		hashes[i] = generateInfoHash(id, i)
	}

	for {
		select {
		case <-b.StopCh:
			return
		default:
		}

		if rateLimiter != nil {
			<-rateLimiter.C
		}

		b.performCycle(peerID, hashes)
	}
}

// performCycle sends announces for all hashes, then one scrape
func (b *Benchmark) performCycle(peerID string, hashes []string) {
	for _, hash := range hashes {
		select {
		case <-b.StopCh:
			return
		default:
		}

		if err := b.doAnnounce(hash, peerID); err != nil {
			atomic.AddUint64(&b.Stats.FailedReqs, 1)
		} else {
			atomic.AddUint64(&b.Stats.SuccessfulReqs, 1)
		}
		atomic.AddUint64(&b.Stats.TotalRequests, 1)
	}

	if err := b.doScrape(hashes[0]); err != nil {
		atomic.AddUint64(&b.Stats.FailedReqs, 1)
	} else {
		atomic.AddUint64(&b.Stats.SuccessfulReqs, 1)
	}
	atomic.AddUint64(&b.Stats.TotalRequests, 1)
}

func (b *Benchmark) doAnnounce(infoHash, peerID string) error {
	start := time.Now()
	defer func() {
		b.Stats.AnnounceLatency.Record(time.Since(start))
	}()

	resp, err := b.Client.R().
		SetQueryParams(map[string]string{
			"info_hash":  infoHash,
			"peer_id":    peerID,
			"port":       "6881",
			"uploaded":   "0",
			"downloaded": "0",
			"left":       "1024",
			"numwant":    fmt.Sprintf("%d", b.Config.NumWant),
		}).
		Get(b.Config.Target + "/announce")
	if err != nil {
		return err
	}
	if resp.StatusCode() != 200 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode())
	}
	return nil
}

func (b *Benchmark) doScrape(infoHash string) error {
	start := time.Now()
	defer func() {
		b.Stats.ScrapeLatency.Record(time.Since(start))
	}()

	resp, err := b.Client.R().
		SetQueryParam("info_hash", infoHash).
		Get(b.Config.Target + "/scrape")
	if err != nil {
		return err
	}
	if resp.StatusCode() != 200 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode())
	}
	return nil
}

// generatePeerID builds a stable 20-byte peer id for a worker
func generatePeerID(worker int) string {
	sum := sha1.Sum([]byte(fmt.Sprintf("bench-peer-%d", worker)))
	return string(sum[:])
}

// generateInfoHash builds a stable 20-byte info hash per worker and index
func generateInfoHash(worker, index int) string {
	sum := sha1.Sum([]byte(fmt.Sprintf("bench-hash-%d-%d", worker, index)))
	return string(sum[:])
}

func (b *Benchmark) printResults() {
	elapsed := time.Since(b.Stats.StartTime)
	total := atomic.LoadUint64(&b.Stats.TotalRequests)
	failed := atomic.LoadUint64(&b.Stats.FailedReqs)

	fmt.Println()
	fmt.Printf("Elapsed: %s\n", elapsed.Round(time.Millisecond))
	fmt.Printf("Requests: %d (%.0f req/s)\n", total, float64(total)/elapsed.Seconds())
	fmt.Printf("Failed: %d\n", failed)
	fmt.Println()
	fmt.Printf("Announce: count=%d avg=%s p50=%s p99=%s\n",
		b.Stats.AnnounceLatency.Count(),
		b.Stats.AnnounceLatency.Avg(),
		b.Stats.AnnounceLatency.Percentile(50),
		b.Stats.AnnounceLatency.Percentile(99))
	fmt.Printf("Scrape:   count=%d avg=%s p50=%s p99=%s\n",
		b.Stats.ScrapeLatency.Count(),
		b.Stats.ScrapeLatency.Avg(),
		b.Stats.ScrapeLatency.Percentile(50),
		b.Stats.ScrapeLatency.Percentile(99))
}

func main() {
	target := flag.String("target", "http://localhost:6969", "tracker base URL")
	duration := flag.Duration("duration", 30*time.Second, "benchmark duration")
	concurrency := flag.Int("concurrency", 100, "number of concurrent workers")
	rateLimit := flag.Int("rate", 0, "requests per second per worker (0 = unlimited)")
	numHashes := flag.Int("hashes", 5, "info hashes announced per worker")
	numWant := flag.Int("numwant", 50, "peers requested per announce")
	flag.Parse()

	if *concurrency <= 0 || *numHashes <= 0 {
		log.Fatal("concurrency and hashes must be positive")
	}

	NewBenchmark(Config{
		Target:      *target,
		Duration:    *duration,
		Concurrency: *concurrency,
		RateLimit:   *rateLimit,
		NumHashes:   *numHashes,
		NumWant:     *numWant,
	}).Run()
}
