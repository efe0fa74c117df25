package config

import (
	"log"
	"os"
)

type Config struct {
	Token    string
	MySQLDSN string
	RedisURL string
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		if def == "" {
			log.Fatalf("missing env %s", key)
		}
		return def
	}
	return v
}

func Load() Config {
	return Config{
		Token:    getenv("DISCORD_TOKEN", ""),
		MySQLDSN: getenv("MYSQL_DSN", "votegate:votegate@tcp(localhost:3306)/votegate"),
		RedisURL: getenv("REDIS_URL", "redis://localhost:6379/0"),
	}
}
