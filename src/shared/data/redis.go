package data

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/votegate/votegate/src/shared/types"
)

// Redis streams carrying jobs between the ingestion service and the workers.
const (
	StreamRoleApply = "votegate.roleapply"
	StreamNotify    = "votegate.notify"
	StreamForward   = "votegate.forward"
)

func MustRedis(url string) *redis.Client {
	opt, err := redis.ParseURL(url)
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	return redis.NewClient(opt)
}

// Streams publishes ingestion jobs onto the Redis streams consumed by the
// bot and forwarder services.
type Streams struct {
	rdb *redis.Client
}

func NewStreams(rdb *redis.Client) *Streams {
	return &Streams{rdb: rdb}
}

// EnqueueRoleApply hands a vote ID to the role worker. The worker re-reads
// the vote row by ID; the message stays minimal on purpose.
func (s *Streams) EnqueueRoleApply(ctx context.Context, voteID string) error {
	return s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamRoleApply,
		Values: map[string]interface{}{"id": voteID},
	}).Err()
}

// EnqueueTestNotify asks the bot to DM the application owner that a test
// webhook arrived.
func (s *Streams) EnqueueTestNotify(ctx context.Context, appID, userID string, source types.Source) error {
	return s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamNotify,
		Values: map[string]interface{}{
			"app_id":  appID,
			"user_id": userID,
			"source":  string(source),
		},
	}).Err()
}

// EnqueueForward hands a marshaled forwarding envelope to the forwarder.
func (s *Streams) EnqueueForward(ctx context.Context, envelope []byte) error {
	return s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamForward,
		Values: map[string]interface{}{"envelope": string(envelope)},
	}).Err()
}

// Consume reads stream entries starting at lastID and hands each one to
// handle, blocking until ctx is canceled. Pass "0" to replay the full
// backlog or "$" to see new entries only. Entries are not acknowledged:
// handlers must tolerate seeing a message again after a restart.
func (s *Streams) Consume(ctx context.Context, stream, lastID string, handle func(id string, values map[string]interface{})) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			res, err := s.rdb.XRead(ctx, &redis.XReadArgs{
				Streams: []string{stream, lastID},
				Count:   10,
				Block:   5 * time.Second,
			}).Result()
			if err != nil {
				if err != redis.Nil && ctx.Err() == nil {
					log.Printf("Error reading stream %s: %v", stream, err)
				}
				continue
			}
			for _, st := range res {
				for _, msg := range st.Messages {
					lastID = msg.ID
					handle(msg.ID, msg.Values)
				}
			}
		}
	}
}
