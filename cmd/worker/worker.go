package worker

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sync"
	"time"

	appkafka "example.com/communityfeed/internal/broker"
	"example.com/communityfeed/internal/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"
)

var logg = logger.New()

var eventsConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "communityfeed_events_consumed_total",
	Help: "The total number of change events read from Kafka",
}, []string{"status"})

// Worker consumes change events from Kafka and fans them out to realtime subscribers.
type Worker struct {
	reader       appkafka.KafkaReader
	hub          *Hub
	workerCount  int
	jobQueueSize int
}

// New creates a new concurrent Worker using pre-initialized dependencies.
func New(reader appkafka.KafkaReader, hub *Hub, workerCount, jobQueueSize int) *Worker {
	if workerCount <= 0 {
		workerCount = runtime.NumCPU()
	}
	if jobQueueSize <= 0 {
		jobQueueSize = workerCount * 10
	}
	if hub == nil {
		hub = NewHub()
	}
	return &Worker{
		reader:       reader,
		hub:          hub,
		workerCount:  workerCount,
		jobQueueSize: jobQueueSize,
	}
}

func (w *Worker) Hub() *Hub {
	return w.hub
}

// Run starts message reading and concurrent processing.
func (w *Worker) Run(ctx context.Context) {
	if w.workerCount <= 0 {
		w.workerCount = 1
	}
	if w.jobQueueSize <= 0 {
		w.jobQueueSize = 10
	}
	if w.hub == nil {
		w.hub = NewHub()
	}

	logg.Info("worker", "Starting "+fmt.Sprint(w.workerCount)+" workers with queue size "+fmt.Sprint(w.jobQueueSize))

	jobs := make(chan kafka.Message, w.jobQueueSize)
	var wg sync.WaitGroup

	for i := 0; i < w.workerCount; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			w.processLoop(ctx, jobs)
		}(i)
	}

	w.readLoop(ctx, jobs)

	close(jobs)
	wg.Wait()
	logg.Info("worker", "All workers stopped gracefully")
}

// readLoop reads Kafka messages and pushes them into a job queue.
func (w *Worker) readLoop(ctx context.Context, jobs chan<- kafka.Message) {
	var retry int
	for {
		select {
		case <-ctx.Done():
			return
		default:
			msg, err := w.reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				backoff := time.Duration(math.Min(1000, math.Pow(2, float64(retry)))) * time.Millisecond
				logg.Error("worker", "Kafka read error, backing off", err)
				if !waitWithContext(ctx, backoff) {
					return
				}
				retry++
				continue
			}
			retry = 0

			if len(msg.Value) == 0 {
				if !waitWithContext(ctx, 50*time.Millisecond) {
					return
				}
				continue
			}

			select {
			case jobs <- msg:
			case <-ctx.Done():
				return
			}
		}
	}
}

// processLoop decodes events and broadcasts them to the hub.
func (w *Worker) processLoop(ctx context.Context, jobs <-chan kafka.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-jobs:
			if !ok {
				return
			}
			w.handle(msg)
		}
	}
}

func (w *Worker) handle(msg kafka.Message) error {
	ev, err := appkafka.DecodeEvent(msg)
	if err != nil {
		eventsConsumed.WithLabelValues("invalid").Inc()
		logg.Error("worker", "Invalid event in Kafka message", err)
		return err
	}
	eventsConsumed.WithLabelValues("ok").Inc()

	n := w.hub.Broadcast(ev)
	logg.Debug("worker", fmt.Sprintf("Event %s on %s delivered to %d subscribers", ev.Type, ev.Table, n))
	return nil
}

// waitWithContext waits for duration or context cancellation.
func waitWithContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Close shuts down the Kafka reader and disconnects all subscribers.
func (w *Worker) Close() error {
	logg.Info("worker", "Disconnecting realtime subscribers")
	w.hub.Close()

	logg.Info("worker", "Closing Kafka reader")
	if err := w.reader.Close(); err != nil {
		logg.Error("worker", "Error closing Kafka reader", err)
		return err
	}
	return nil
}
