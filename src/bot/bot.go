package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/joho/godotenv"

	"github.com/votegate/votegate/src/bot/config"
	"github.com/votegate/votegate/src/bot/worker"
	"github.com/votegate/votegate/src/shared/data"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	db := data.MustMySQL(cfg.MySQLDSN)
	rdb := data.MustRedis(cfg.RedisURL)

	dg, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		log.Fatalf("discord: %v", err)
	}
	// Bound every Discord API call so DM and role-grant side effects cannot
	// hang the worker loops.
	dg.Client = &http.Client{Timeout: 5 * time.Second}
	dg.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMembers

	if err := dg.Open(); err != nil {
		log.Fatalf("discord open: %v", err)
	}
	defer dg.Close()

	ctx, cancel := context.WithCancel(context.Background())
	w := worker.New(dg, db, rdb)
	go w.Run(ctx)

	log.Println("votegate bot running")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	cancel()
}
