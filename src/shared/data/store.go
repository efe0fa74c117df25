package data

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/votegate/votegate/src/shared/types"
)

// ErrDuplicateVote reports an insert whose vote ID already exists. For Top.gg
// v1 events this means the platform redelivered an event we already applied.
var ErrDuplicateVote = errors.New("duplicate vote id")

// Store wraps the MySQL tables behind the lookups the ingestion handlers need.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// GetApplicationConfig returns the config row for (app, source), or nil when
// the application is unknown for that source.
func (s *Store) GetApplicationConfig(ctx context.Context, appID string, source types.Source) (*types.ApplicationConfig, error) {
	var cfg types.ApplicationConfig
	err := s.db.WithContext(ctx).First(&cfg, "app_id = ? AND source = ?", appID, source).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// BumpInvalidRequests increments the per-application abuse counter. Callers
// treat this as best-effort telemetry.
func (s *Store) BumpInvalidRequests(ctx context.Context, appID string, source types.Source) error {
	return s.db.WithContext(ctx).Model(&types.ApplicationConfig{}).
		Where("app_id = ? AND source = ?", appID, source).
		UpdateColumn("invalid_request_count", gorm.Expr("invalid_request_count + 1")).Error
}

// InsertVote persists an accepted vote. A primary-key clash maps to
// ErrDuplicateVote so the caller can ack a redelivered event without
// double-applying it.
func (s *Store) InsertVote(ctx context.Context, v *types.Vote) error {
	err := s.db.WithContext(ctx).Create(v).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateVote
	}
	return err
}

// GetForwardingConfig returns the forwarding target for an application, or
// nil when forwarding is not configured.
func (s *Store) GetForwardingConfig(ctx context.Context, appID string) (*types.ForwardingConfig, error) {
	var cfg types.ForwardingConfig
	err := s.db.WithContext(ctx).First(&cfg, "app_id = ?", appID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}
