package data

import (
	"log"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/votegate/votegate/src/shared/types"
)

func MustMySQL(dsn string) *gorm.DB {
	// TranslateError lets duplicate-key inserts surface as gorm.ErrDuplicatedKey,
	// which the vote store relies on for redelivery detection.
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		log.Fatalf("mysql: %v", err)
	}
	return db
}

// Migrate creates or updates the votegate tables.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&types.ApplicationConfig{},
		&types.Vote{},
		&types.ForwardingConfig{},
	)
}
