package models

import (
	"log"

	"github.com/themaluxis/MUM-sub001/internal/config"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

func InitDB() error {
	var err error

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Info),
	}

	if config.AppConfig.GinMode == "release" {
		gormConfig.Logger = logger.Default.LogMode(logger.Error)
	}

	DB, err = gorm.Open(postgres.Open(config.AppConfig.GetDSN()), gormConfig)
	if err != nil {
		return err
	}

	if err := Migrate(DB); err != nil {
		return err
	}

	// 创建默认管理员账号
	createDefaultAdmin()

	log.Println("✅ Database connected and migrated successfully")
	return nil
}

// Migrate 自动迁移所有表结构（测试环境也会复用）
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&User{},
		&MediaServer{},
		&Invite{},
		&InviteUsage{},
		&ServiceAccount{},
		&SystemConfig{},
	)
}

func createDefaultAdmin() {
	var count int64
	DB.Model(&User{}).Count(&count)
	if count == 0 {
		admin := &User{
			Username: "admin",
			Email:    "admin@mum.local",
			Role:     "admin",
			Status:   "active",
		}
		admin.SetPassword("admin123")
		DB.Create(admin)
		log.Println("✅ Default admin user created (admin/admin123)")
	}
}

func GetDB() *gorm.DB {
	return DB
}
