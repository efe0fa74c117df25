package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/votegate/votegate/src/api/forward"
	"github.com/votegate/votegate/src/shared/data"
)

func main() {
	_ = godotenv.Load()

	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		redisURL = "redis://localhost:6379/0"
	}
	rdb := data.MustRedis(redisURL)

	client := &http.Client{
		Timeout: 10 * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	go consume(ctx, data.NewStreams(rdb), client)

	log.Println("votegate forwarder running")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	cancel()
}

func consume(ctx context.Context, streams *data.Streams, client *http.Client) {
	// Start from the beginning of the stream: the vote was already acked
	// upstream, so envelopes enqueued while the forwarder was down have no
	// other path to delivery.
	streams.Consume(ctx, data.StreamForward, "0", func(id string, values map[string]interface{}) {
		raw, ok := values["envelope"].(string)
		if !ok {
			log.Printf("forward message %s missing envelope", id)
			return
		}
		var env forward.Envelope
		if err := json.Unmarshal([]byte(raw), &env); err != nil {
			log.Printf("Error decoding forward envelope %s: %v", id, err)
			return
		}
		// Deliveries retry for up to an hour; run each envelope on its own
		// goroutine so one slow target does not block the stream.
		go func(env forward.Envelope) {
			if err := deliverWithRetry(ctx, client, env); err != nil {
				log.Printf("Giving up forwarding to %s: %v", env.To.URL, err)
			}
		}(env)
	})
}

func deliverWithRetry(ctx context.Context, client *http.Client, env forward.Envelope) error {
	var lastErr error
	for attempt := 0; attempt < len(forward.RetryDelays); attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(forward.Delay(attempt)):
		}

		if lastErr = deliver(ctx, client, env); lastErr == nil {
			return nil
		}
		log.Printf("Forward attempt %d to %s failed: %v", attempt+1, env.To.URL, lastErr)
	}
	return lastErr
}
