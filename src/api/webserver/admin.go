package webserver

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/votegate/votegate/src/shared/data"
	"github.com/votegate/votegate/src/shared/types"
)

// Admin exposes the operator CRUD for application and forwarding
// configuration. Secrets are write-only: reads report presence, never value.
type Admin struct {
	db  *gorm.DB
	key []byte
}

func NewAdmin(db *gorm.DB, key []byte) Admin {
	return Admin{db: db, key: key}
}

func parseSource(s string) (types.Source, bool) {
	switch types.Source(s) {
	case types.SourceTopGG:
		return types.SourceTopGG, true
	case types.SourceDBL:
		return types.SourceDBL, true
	}
	return "", false
}

func (a Admin) GetApplication(c *gin.Context) {
	source, ok := parseSource(c.Param("source"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"err": "unknown source"})
		return
	}

	var cfg types.ApplicationConfig
	err := a.db.First(&cfg, "app_id = ? AND source = ?", c.Param("id"), source).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"err": "application not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"appId":               cfg.AppID,
		"source":              cfg.Source,
		"secretSet":           cfg.Secret != nil && *cfg.Secret != "",
		"guildId":             cfg.GuildID,
		"voteRoleId":          cfg.VoteRoleID,
		"roleDurationSeconds": cfg.RoleDurationSeconds,
		"invalidRequestCount": cfg.InvalidRequestCount,
		"createdAt":           cfg.CreatedAt,
	})
}

func (a Admin) PutApplication(c *gin.Context) {
	source, ok := parseSource(c.Param("source"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"err": "unknown source"})
		return
	}

	var req struct {
		Secret              *string `json:"secret" binding:"omitempty,min=16,max=128"`
		GuildID             *string `json:"guildId"`
		VoteRoleID          *string `json:"voteRoleId"`
		RoleDurationSeconds *int64  `json:"roleDurationSeconds" binding:"omitempty,min=0"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}

	cfg := types.ApplicationConfig{
		AppID:               c.Param("id"),
		Source:              source,
		Secret:              req.Secret,
		GuildID:             req.GuildID,
		VoteRoleID:          req.VoteRoleID,
		RoleDurationSeconds: req.RoleDurationSeconds,
		CreatedAt:           time.Now(),
	}
	err := a.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "app_id"}, {Name: "source"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"secret", "guild_id", "vote_role_id", "role_duration_seconds",
		}),
	}).Create(&cfg).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
		return
	}

	c.Status(http.StatusNoContent)
}

func (a Admin) PutForwarding(c *gin.Context) {
	var req struct {
		TargetURL string `json:"targetUrl" binding:"required,url,max=256"`
		Secret    string `json:"secret" binding:"required,min=16,max=128"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}

	enc, iv, err := data.EncryptSecret(a.key, req.Secret)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
		return
	}

	cfg := types.ForwardingConfig{
		AppID:     c.Param("id"),
		TargetURL: req.TargetURL,
		Secret:    enc,
		IV:        iv,
		CreatedAt: time.Now(),
	}
	err = a.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "app_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"target_url", "secret", "iv"}),
	}).Create(&cfg).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
		return
	}

	c.Status(http.StatusNoContent)
}

func (a Admin) DeleteForwarding(c *gin.Context) {
	if err := a.db.Delete(&types.ForwardingConfig{}, "app_id = ?", c.Param("id")).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}
