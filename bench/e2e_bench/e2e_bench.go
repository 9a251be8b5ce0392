package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"example.com/communityfeed/internal/client"
	"example.com/communityfeed/internal/forms"
	"example.com/communityfeed/internal/models"
	"github.com/brianvoe/gofakeit/v7"
)

func main() {
	// CLI flags
	var serverAddr, realtimeAddr string
	var U, S, P, concurrency int
	var waitTimeout int

	flag.StringVar(&serverAddr, "server", "http://localhost:8080", "API base URL")
	flag.StringVar(&realtimeAddr, "realtime", "ws://localhost:8081", "realtime gateway URL")
	flag.IntVar(&U, "users", 20, "number of posting users")
	flag.IntVar(&S, "subscribers", 50, "number of realtime subscribers")
	flag.IntVar(&P, "posts", 100, "number of posts to publish")
	flag.IntVar(&concurrency, "c", 20, "concurrency for posting")
	flag.IntVar(&waitTimeout, "timeout", 10, "seconds to wait for delivery after the last post")
	flag.Parse()

	api := client.New(serverAddr, realtimeAddr)
	defer api.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- 1) Create and log in users ---
	fmt.Printf("Creating %d users...\n", U)
	tokens := make([]string, 0, U)
	for i := 0; i < U; i++ {
		name := fmt.Sprintf("e2e%d_%d", i, time.Now().UnixNano()%1_000_000)
		if _, err := api.Signup(ctx, name, "e2e-pass", ""); err != nil {
			fmt.Printf("create user error: %v\n", err)
			os.Exit(1)
		}
		sess, err := api.Login(ctx, name, "e2e-pass")
		if err != nil {
			fmt.Printf("login error: %v\n", err)
			os.Exit(1)
		}
		tokens = append(tokens, sess.Token)
	}
	fmt.Println("Users created successfully.")

	// --- 2) Open realtime subscriptions on the posts table ---
	fmt.Printf("Opening %d realtime subscriptions...\n", S)
	published := make(map[string]bool, P)
	var pubMu sync.Mutex

	type arrival struct {
		postID string
		lat    float64
	}
	var arrivals []arrival
	var latMu sync.Mutex
	var subsWg sync.WaitGroup

	for i := 0; i < S; i++ {
		events, err := api.Subscribe(ctx, models.TablePosts)
		if err != nil {
			fmt.Printf("subscribe error: %v\n", err)
			os.Exit(1)
		}
		subsWg.Add(1)
		go func() {
			defer subsWg.Done()
			for ev := range events {
				if ev.Type != models.EventPostCreated {
					continue
				}
				var p models.Post
				if err := json.Unmarshal(ev.Record, &p); err != nil {
					continue
				}
				lat := time.Since(p.Created).Seconds() * 1000
				latMu.Lock()
				arrivals = append(arrivals, arrival{postID: p.ID, lat: lat})
				latMu.Unlock()
			}
		}()
	}
	fmt.Println("Subscribers connected.")

	// --- 3) Publish posts concurrently ---
	fmt.Printf("Publishing %d posts with concurrency %d...\n", P, concurrency)
	var wg sync.WaitGroup
	sem := make(chan struct{}, concurrency) // concurrency limiter
	var postFails int64

	for i := 0; i < P; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()

			token := tokens[rand.Intn(len(tokens))]
			p, err := api.CreatePost(ctx, token, forms.PostForm{
				Title:   fmt.Sprintf("e2e %d %s", i, gofakeit.Word()),
				Content: gofakeit.Paragraph(1, 3, 10, " "),
			})
			if err != nil {
				fmt.Printf("post error: %v\n", err)
				atomic.AddInt64(&postFails, 1)
				return
			}
			pubMu.Lock()
			published[p.ID] = true
			pubMu.Unlock()
		}(i)
	}
	wg.Wait()

	// --- 4) Wait for every subscriber to see every post, or time out ---
	// events can arrive before CreatePost returns, so arrivals are matched
	// against published IDs only here
	ours := func() []float64 {
		latMu.Lock()
		defer latMu.Unlock()
		pubMu.Lock()
		defer pubMu.Unlock()
		var out []float64
		for _, a := range arrivals {
			if published[a.postID] {
				out = append(out, a.lat)
			}
		}
		return out
	}

	expected := (P - int(postFails)) * S
	deadline := time.Now().Add(time.Duration(waitTimeout) * time.Second)
	for len(ours()) < expected && time.Now().Before(deadline) {
		time.Sleep(200 * time.Millisecond)
	}
	cancel()
	subsWg.Wait()
	latencies := ours()
	failCount := expected - len(latencies)

	// --- 5) Compute latency statistics and export to CSV ---
	if len(latencies) == 0 {
		fmt.Println("No successful deliveries recorded.")
		return
	}
	trimPercent := 1.0
	meanVal := trimmedMean(latencies, trimPercent)
	p50 := trimmedPercentile(latencies, 50, trimPercent)
	p90 := trimmedPercentile(latencies, 90, trimPercent)
	p99 := trimmedPercentile(latencies, 99, trimPercent)
	fmt.Printf("Delivery stats (ms): count=%d mean=%.2f p50=%.2f p90=%.2f p99=%.2f fails=%d post_fails=%d\n",
		len(latencies), meanVal, p50, p90, p99, failCount, postFails)

	f, err := os.Create("e2e_latencies.csv")
	if err != nil {
		fmt.Printf("Failed to create CSV file: %v\n", err)
		return
	}
	w := csv.NewWriter(f)
	w.Write([]string{"latency_ms"})
	for _, v := range latencies {
		w.Write([]string{fmt.Sprintf("%.3f", v)})
	}
	w.Flush()
	f.Close()
	fmt.Println("Saved e2e_latencies.csv")
}

func trim(data []float64, trimPercent float64) []float64 {
	sort.Float64s(data)
	n := int(float64(len(data)) * trimPercent / 100.0)
	if n*2 >= len(data) {
		n = len(data) / 2
	}
	return data[n : len(data)-n]
}

// trimmedMean calculates the mean of a dataset excluding extreme values.
func trimmedMean(data []float64, trimPercent float64) float64 {
	if len(data) == 0 {
		return 0
	}
	data = trim(data, trimPercent)
	if len(data) == 0 {
		return 0
	}
	var sum float64
	for _, v := range data {
		sum += v
	}
	return sum / float64(len(data))
}

// trimmedPercentile returns a percentile value after trimming extremes.
func trimmedPercentile(data []float64, p float64, trimPercent float64) float64 {
	if len(data) == 0 {
		return 0
	}
	return percentile(trim(data, trimPercent), p)
}

// percentile calculates the requested percentile using linear interpolation.
func percentile(data []float64, p float64) float64 {
	if len(data) == 0 {
		return 0
	}
	k := (p / 100.0) * float64(len(data)-1)
	f := int(k)
	c := f + 1
	if c >= len(data) {
		return data[len(data)-1]
	}
	return data[f]*(float64(c)-k) + data[c]*(k-float64(f))
}
