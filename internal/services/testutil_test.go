package services

import (
	"fmt"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/themaluxis/MUM-sub001/internal/config"
	"github.com/themaluxis/MUM-sub001/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func init() {
	config.AppConfig = &config.Config{
		ServerPort:          "8080",
		GinMode:             "test",
		JWTSecret:           "test-secret",
		AppBaseURL:          "http://localhost:8080",
		PlexClientProduct:   "MUM Test",
		DiscordClientID:     "client-id",
		DiscordClientSecret: "client-secret",
		DiscordGuildID:      "guild-1",
		DiscordInviteURL:    "https://discord.gg/test",
	}
}

// newTestDB 每个测试一个独立的内存库
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := models.Migrate(db); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

func mustCreate(t *testing.T, db *gorm.DB, value interface{}) {
	t.Helper()
	if err := db.Create(value).Error; err != nil {
		t.Fatalf("create %T: %v", value, err)
	}
}
