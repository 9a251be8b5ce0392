package main

import (
	"context"
	"flag"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	appkafka "example.com/communityfeed/internal/broker"
	"example.com/communityfeed/internal/models"
	"github.com/gocql/gocql"
	"github.com/segmentio/kafka-go"
)

// Floods the event topic with synthetic post_created events so the realtime
// gateway can be measured without going through the API.
func main() {
	var (
		total       int
		batchSize   int
		numWorkers  int
		kafkaBroker string
		topic       string
	)
	flag.IntVar(&total, "n", 100000, "total number of events to send")
	flag.IntVar(&batchSize, "batch", 100, "batch size for sending events")
	flag.IntVar(&numWorkers, "workers", 4, "number of parallel goroutines")
	flag.StringVar(&kafkaBroker, "broker", "localhost:29092", "Kafka broker")
	flag.StringVar(&topic, "topic", "board-events", "event topic")
	flag.Parse()

	// Kafka writer with asynchronous sending enabled
	w := &kafka.Writer{
		Addr:     kafka.TCP(kafkaBroker),
		Topic:    topic,
		Balancer: &kafka.Hash{},
		Async:    true,
	}
	defer w.Close()

	// One synthetic author per run
	authorID := gocql.TimeUUID().String()
	start := time.Now()

	var successCount uint64
	var failCount uint64

	jobs := make(chan int, total)
	var wg sync.WaitGroup

	for wID := 0; wID < numWorkers; wID++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			batch := make([]kafka.Message, 0, batchSize)

			flush := func() {
				if len(batch) == 0 {
					return
				}
				if err := w.WriteMessages(context.Background(), batch...); err != nil {
					atomic.AddUint64(&failCount, uint64(len(batch)))
					fmt.Printf("write error: %v\n", err)
				} else {
					atomic.AddUint64(&successCount, uint64(len(batch)))
				}
				batch = batch[:0]
			}

			for i := range jobs {
				p := models.Post{
					ID:       gocql.TimeUUID().String(),
					AuthorID: authorID,
					Title:    fmt.Sprintf("kafka bench %d", i),
					Content:  "synthetic event",
					Created:  time.Now().UTC(),
				}

				ev, err := appkafka.NewEvent(models.EventPostCreated, models.TablePosts, p)
				if err != nil {
					atomic.AddUint64(&failCount, 1)
					fmt.Printf("encode error: %v\n", err)
					continue
				}
				msg, err := appkafka.EventMessage(ev)
				if err != nil {
					atomic.AddUint64(&failCount, 1)
					fmt.Printf("encode error: %v\n", err)
					continue
				}

				batch = append(batch, msg)
				if len(batch) >= batchSize {
					flush()
				}
			}
			flush()
		}()
	}

	for i := 0; i < total; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	// --- Benchmark results ---
	elapsed := time.Since(start)
	fmt.Printf("Total events: %d\n", total)
	fmt.Printf("Successful: %d, Failed: %d\n", successCount, failCount)
	fmt.Printf("Elapsed time: %s\n", elapsed)
	fmt.Printf("Throughput: %.2f msg/s\n", float64(successCount)/elapsed.Seconds())
}
