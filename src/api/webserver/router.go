package webserver

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/votegate/votegate/src/api/config"
	"github.com/votegate/votegate/src/api/forward"
	"github.com/votegate/votegate/src/shared/data"
)

func attachRoutes(r *gin.Engine, cfg config.Config, db *gorm.DB, rdb *redis.Client) {
	store := data.NewStore(db)
	streams := data.NewStreams(rdb)
	key := data.DeriveKey(cfg.MasterKey)
	dispatcher := forward.NewDispatcher(store, key)

	votesH := NewVotes(store, store, streams, dispatcher)

	wh := r.Group("/webhook")
	{
		// legacy alias, version detected from headers
		wh.POST("/topgg/:id", votesH.TopGG)
		// /topgg/v0/:appid and /topgg/v1/:appid; gin cannot mix a static
		// "v0" with the sibling ":id" wildcard, so the version segment is
		// a param dispatched in the handler
		wh.POST("/topgg/:id/:appid", votesH.TopGGVersioned)
		wh.POST("/dbl/:id", votesH.DBL)
	}

	admin := r.Group("/v1/admin")
	admin.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"http://localhost:3000"},
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
	}))
	admin.Use(JWTMiddleware([]byte(cfg.JWTSecret)))
	{
		adminH := NewAdmin(db, key)
		admin.GET("/applications/:id/:source", adminH.GetApplication)
		admin.PUT("/applications/:id/:source", adminH.PutApplication)
		admin.PUT("/forwarding/:id", adminH.PutForwarding)
		admin.DELETE("/forwarding/:id", adminH.DeleteForwarding)
	}
}
