package worker

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/votegate/votegate/src/shared/data"
	"github.com/votegate/votegate/src/shared/types"
)

const sweepInterval = time.Minute

// Worker consumes the ingestion queues: it grants vote roles, removes them
// once expired, and DMs owners about test webhooks.
type Worker struct {
	session *discordgo.Session
	db      *gorm.DB
	streams *data.Streams
}

func New(session *discordgo.Session, db *gorm.DB, rdb *redis.Client) *Worker {
	return &Worker{session: session, db: db, streams: data.NewStreams(rdb)}
}

// Run blocks until ctx is canceled.
func (w *Worker) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); w.roleApplyLoop(ctx) }()
	go func() { defer wg.Done(); w.expiryLoop(ctx) }()
	go func() { defer wg.Done(); w.notifyLoop(ctx) }()
	wg.Wait()
}

func (w *Worker) roleApplyLoop(ctx context.Context) {
	log.Println("Starting role apply worker")
	// Start from the beginning of the stream: the webhook was acked as soon
	// as the job was enqueued, so the platform never redelivers a vote that
	// sat in the stream while the worker was down. applyRole skips votes
	// that already hold the role, so replaying old jobs is harmless.
	w.streams.Consume(ctx, data.StreamRoleApply, "0", func(id string, values map[string]interface{}) {
		voteID, ok := values["id"].(string)
		if !ok || voteID == "" {
			log.Printf("role apply message %s missing id", id)
			return
		}
		if err := w.applyRole(ctx, voteID); err != nil {
			log.Printf("Error applying role for vote %s: %v", voteID, err)
		}
	})
	log.Println("Stopping role apply worker")
}

// applyRole re-reads the vote row by ID and grants the role. Already-granted
// votes are skipped so a replayed job is harmless.
func (w *Worker) applyRole(ctx context.Context, voteID string) error {
	var vote types.Vote
	if err := w.db.WithContext(ctx).First(&vote, "id = ?", voteID).Error; err != nil {
		return fmt.Errorf("load vote: %w", err)
	}
	if vote.HasRole {
		return nil
	}
	if err := w.session.GuildMemberRoleAdd(vote.GuildID, vote.UserID, vote.RoleID); err != nil {
		return fmt.Errorf("grant role: %w", err)
	}
	return w.db.WithContext(ctx).Model(&types.Vote{}).
		Where("id = ?", vote.ID).
		Update("has_role", true).Error
}

func (w *Worker) expiryLoop(ctx context.Context) {
	log.Println("Starting role expiry sweeper")
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Stopping role expiry sweeper")
			return
		case <-ticker.C:
			if err := w.sweepExpired(ctx); err != nil {
				log.Printf("Error sweeping expired roles: %v", err)
			}
		}
	}
}

func (w *Worker) sweepExpired(ctx context.Context) error {
	var due []types.Vote
	err := w.db.WithContext(ctx).
		Where("has_role = ? AND expires_at IS NOT NULL AND expires_at <= ?", true, time.Now()).
		Limit(100).
		Find(&due).Error
	if err != nil {
		return err
	}

	for _, vote := range due {
		if err := w.session.GuildMemberRoleRemove(vote.GuildID, vote.UserID, vote.RoleID); err != nil {
			log.Printf("Error removing expired role for vote %s: %v", vote.ID, err)
			continue
		}
		if err := w.db.WithContext(ctx).Model(&types.Vote{}).
			Where("id = ?", vote.ID).
			Update("has_role", false).Error; err != nil {
			log.Printf("Error marking vote %s expired: %v", vote.ID, err)
		}
	}
	return nil
}
