package types

import "time"

// Vote listing sources
type Source string

const (
	SourceTopGG Source = "topgg"
	SourceDBL   Source = "dbl"
)

// Per-application webhook configuration, one row per (app, source) pair.
// An application may be configured once for Top.gg and once for DBL, never
// twice for the same source.
type ApplicationConfig struct {
	AppID               string  `gorm:"primaryKey;size:32"`
	Source              Source  `gorm:"primaryKey;size:8"`
	Secret              *string `gorm:"size:128"`
	GuildID             *string `gorm:"size:32"`
	VoteRoleID          *string `gorm:"size:32"`
	RoleDurationSeconds *int64
	InvalidRequestCount uint64 `gorm:"default:0"`
	CreatedAt           time.Time
}

// Accepted vote events. ID is the Top.gg v1 event ID when the source supplies
// one, otherwise a locally minted UUIDv7. The primary key doubles as the
// idempotency guard for redelivered v1 events.
type Vote struct {
	ID        string `gorm:"primaryKey;size:64"`
	AppID     string `gorm:"index;size:32;not null"`
	Source    Source `gorm:"size:8;not null"`
	GuildID   string `gorm:"size:32;not null"`
	UserID    string `gorm:"size:32;not null"`
	RoleID    string `gorm:"size:32;not null"`
	HasRole   bool   `gorm:"default:false"`
	ExpiresAt *time.Time
	CreatedAt time.Time
}

// Forwarding targets, at most one per application. Secret is stored
// AES-256-GCM encrypted (hex) with the per-row IV.
type ForwardingConfig struct {
	AppID     string `gorm:"primaryKey;size:32"`
	TargetURL string `gorm:"size:256;not null"`
	Secret    string `gorm:"size:256;not null"`
	IV        string `gorm:"size:64;not null"`
	CreatedAt time.Time
}
