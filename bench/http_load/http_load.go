package main

import (
	"context"
	"encoding/csv"
	"errors"
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
	"example.com/communityfeed/internal/session"
	"github.com/brianvoe/gofakeit/v7"
)

type loadUser struct {
	token string
	posts []string
}

func main() {
	// --- Command-line flags ---
	var server string
	var duration int
	var concurrency int
	var csvFile string
	var trimPercent float64
	var writeRatio float64

	flag.StringVar(&server, "server", "http://localhost:8080", "server base URL")
	flag.IntVar(&duration, "duration", 30, "duration in seconds")
	flag.IntVar(&concurrency, "c", 50, "number of concurrent goroutines / users")
	flag.StringVar(&csvFile, "csv", "latencies.csv", "CSV file to save latencies")
	flag.Float64Var(&trimPercent, "trim", 1.0, "percent of latency to trim from top and bottom for trimmed mean")
	flag.Float64Var(&writeRatio, "writes", 0.2, "fraction of requests that create posts or toggle likes")
	flag.Parse()

	api := client.New(server, "")
	defer api.Close()
	ctx := context.Background()

	// --- Sign up and log in one user per goroutine ---
	fmt.Printf("Creating %d users...\n", concurrency)
	users := make([]loadUser, concurrency)
	for i := 0; i < concurrency; i++ {
		name := fmt.Sprintf("load%d_%d", i, time.Now().UnixNano()%1_000_000)
		if _, err := api.Signup(ctx, name, "load-pass", ""); err != nil {
			panic(fmt.Sprintf("failed to create user: %v", err))
		}
		sess, err := api.Login(ctx, name, "load-pass")
		if err != nil {
			panic(fmt.Sprintf("failed to log in: %v", err))
		}
		users[i].token = sess.Token
	}
	fmt.Println("Users created.")

	// --- Prepare concurrency test ---
	stopTime := time.Now().Add(time.Duration(duration) * time.Second)
	var wg sync.WaitGroup

	// Atomic counters for thread-safe tracking
	var requests int64
	var successes int64
	var errors4xx int64
	var errors5xx int64

	latencySlices := make([][]float64, concurrency) // each goroutine records latencies

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			user := &users[idx]
			rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(idx)))
			var localLatencies []float64

			for time.Now().Before(stopTime) {
				start := time.Now()
				err := step(ctx, api, user, rng, writeRatio)
				lat := time.Since(start).Seconds() * 1000 // latency in ms
				localLatencies = append(localLatencies, lat)
				atomic.AddInt64(&requests, 1)

				switch statusClass(err) {
				case 2:
					atomic.AddInt64(&successes, 1)
				case 4:
					atomic.AddInt64(&errors4xx, 1)
				default:
					atomic.AddInt64(&errors5xx, 1)
					fmt.Printf("Request error: %v\n", err)
				}
			}

			latencySlices[idx] = localLatencies
		}(i)
	}

	wg.Wait()

	// --- Merge all latencies ---
	var allLatencies []float64
	for _, slice := range latencySlices {
		allLatencies = append(allLatencies, slice...)
	}
	sort.Float64s(allLatencies)

	// --- Compute statistics ---
	trimmedMeanVal := trimmedMean(allLatencies, trimPercent)
	p50 := percentile(allLatencies, 50)
	p90 := percentile(allLatencies, 90)
	p99 := percentile(allLatencies, 99)

	fmt.Printf("Requests: %d  Successes: %d  4xx: %d  5xx: %d\n", requests, successes, errors4xx, errors5xx)
	fmt.Printf("Latency (ms): trimmed_mean=%.2f p50=%.2f p90=%.2f p99=%.2f\n", trimmedMeanVal, p50, p90, p99)

	// --- Save latencies to CSV ---
	f, err := os.Create(csvFile)
	if err != nil {
		fmt.Printf("Failed to create CSV file: %v\n", err)
		return
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()
	w.Write([]string{"latency_ms"})
	for _, d := range allLatencies {
		w.Write([]string{fmt.Sprintf("%.3f", d)})
	}
	fmt.Printf("Saved latencies to %s\n", csvFile)
}

// step issues one request: mostly aggregated list reads, with writeRatio
// of them split between new posts and like toggles.
func step(ctx context.Context, api *client.Client, u *loadUser, rng *rand.Rand, writeRatio float64) error {
	if rng.Float64() >= writeRatio {
		_, err := api.ListPosts(ctx, u.token, "")
		return err
	}

	if len(u.posts) == 0 || rng.Intn(2) == 0 {
		post, err := api.CreatePost(ctx, u.token, forms.PostForm{
			Title:    gofakeit.Sentence(5),
			Content:  gofakeit.Paragraph(1, 4, 10, " "),
			Location: gofakeit.City(),
			Hashtags: "#load #" + gofakeit.Word(),
		})
		if err != nil {
			return err
		}
		u.posts = append(u.posts, post.ID)
		return nil
	}

	postID := u.posts[rng.Intn(len(u.posts))]
	if rng.Intn(2) == 0 {
		_, err := api.Like(ctx, u.token, postID)
		return err
	}
	_, err := api.Unlike(ctx, u.token, postID)
	return err
}

// statusClass maps a client error to 2, 4 or 5 (transport failures count as 5).
func statusClass(err error) int {
	if err == nil {
		return 2
	}
	var apiErr *client.APIError
	var verr *forms.ValidationError
	switch {
	case errors.As(err, &apiErr):
		return apiErr.Status / 100
	case errors.As(err, &verr), errors.Is(err, session.ErrNotAuthenticated), errors.Is(err, client.ErrNotFound):
		return 4
	}
	return 5
}

// trimmedMean calculates mean latency after trimming top/bottom trimPercent values
func trimmedMean(data []float64, trimPercent float64) float64 {
	if len(data) == 0 {
		return 0
	}
	trim := int(float64(len(data)) * trimPercent / 100.0)
	if trim*2 >= len(data) {
		trim = len(data) / 2
	}
	trimmed := data[trim : len(data)-trim]
	if len(trimmed) == 0 {
		return 0
	}
	var sum float64
	for _, v := range trimmed {
		sum += v
	}
	return sum / float64(len(trimmed))
}

// percentile calculates the p-th percentile from sorted data
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
