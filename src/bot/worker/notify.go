package worker

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/votegate/votegate/src/shared/data"
)

func (w *Worker) notifyLoop(ctx context.Context) {
	log.Println("Starting test-vote notifier")
	// New entries only: unlike role jobs, a stale test notification from
	// before a restart is just noise to the owner.
	w.streams.Consume(ctx, data.StreamNotify, "$", func(id string, values map[string]interface{}) {
		userID, _ := values["user_id"].(string)
		appID, _ := values["app_id"].(string)
		source, _ := values["source"].(string)
		if userID == "" {
			log.Printf("notify message %s for application %s has no user id, skipping DM", id, appID)
			return
		}
		if err := w.sendTestDM(userID, appID, source); err != nil {
			log.Printf("Error sending test-vote DM to %s: %v", userID, err)
		}
	})
	log.Println("Stopping test-vote notifier")
}

// sendTestDM tells the user their test webhook came through. The session's
// HTTP client is bounded at construction, so a slow Discord API cannot stall
// the loop for long.
func (w *Worker) sendTestDM(userID, appID, source string) error {
	ch, err := w.session.UserChannelCreate(userID)
	if err != nil {
		return fmt.Errorf("create DM channel: %w", err)
	}

	embed := &discordgo.MessageEmbed{
		Title:       "Test Vote Received",
		Description: fmt.Sprintf("Your %s webhook for application `%s` is set up correctly.", source, appID),
		Color:       0x00ff00,
		Timestamp:   time.Now().Format(time.RFC3339),
	}
	_, err = w.session.ChannelMessageSendEmbed(ch.ID, embed)
	return err
}
